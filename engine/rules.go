package engine

// =============================================================================
// ORDERED RULES - (predicate, result) pairs evaluated first-match-wins
// =============================================================================

// Rule is one named step of a fallback chain.
type Rule[In, Out any] struct {
	Name string
	When func(In) bool
	Then func(In) Out
}

// RuleSet evaluates its rules in order. The first rule whose When returns
// true decides the result.
type RuleSet[In, Out any] []Rule[In, Out]

// Evaluate returns the first matching result and the name of the rule that
// produced it. When nothing matches it returns fallback and "".
func (rs RuleSet[In, Out]) Evaluate(in In, fallback Out) (Out, string) {
	for _, r := range rs {
		if r.When(in) {
			return r.Then(in), r.Name
		}
	}
	return fallback, ""
}

// keywordRule is a substring -> value entry of a keyword table.
type keywordRule[Out any] struct {
	Keyword string
	Value   Out
}

// matchKeyword returns the value of the first keyword contained in text.
func matchKeyword[Out any](table []keywordRule[Out], text string) (Out, bool) {
	for _, k := range table {
		if containsFold(text, k.Keyword) {
			return k.Value, true
		}
	}
	var zero Out
	return zero, false
}
