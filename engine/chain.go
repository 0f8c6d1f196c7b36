package engine

import "sort"

// =============================================================================
// RENEWAL CHAINS - phase 2, whole batch
// =============================================================================

// ChainFact is the phase-1 output the chain builder consumes.
type ChainFact struct {
	ID      string
	Root    string
	Year    int
	Version int
}

// Links is the batch-scoped lineage: child id -> parent id, plus the size of
// each record's root group.
type Links struct {
	Parents       map[string]string `json:"parents"`
	ReissueCounts map[string]int    `json:"reissue_counts"`
}

// Parent returns the immediate predecessor of id.
func (l Links) Parent(id string) (string, bool) {
	p, ok := l.Parents[id]
	return p, ok
}

// BuildRenewalChains groups facts by root, orders each group by (year,
// version) keeping input order on ties, and links every element to the one
// before it. Groups of one get a count but no link. Facts without a root are
// ignored. A repeated id keeps only its last fact, as the store upsert does.
func BuildRenewalChains(facts []ChainFact) Links {
	links := Links{
		Parents:       make(map[string]string),
		ReissueCounts: make(map[string]int),
	}

	unique := make([]ChainFact, 0, len(facts))
	seen := make(map[string]int, len(facts))
	for _, f := range facts {
		if f.Root == "" || f.ID == "" {
			continue
		}
		if i, ok := seen[f.ID]; ok {
			unique[i] = f
			continue
		}
		seen[f.ID] = len(unique)
		unique = append(unique, f)
	}

	groups := make(map[string][]ChainFact)
	for _, f := range unique {
		groups[f.Root] = append(groups[f.Root], f)
	}

	for _, group := range groups {
		for _, f := range group {
			links.ReissueCounts[f.ID] = len(group)
		}
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Year != group[j].Year {
				return group[i].Year < group[j].Year
			}
			return group[i].Version < group[j].Version
		})
		for i := 1; i < len(group); i++ {
			links.Parents[group[i].ID] = group[i-1].ID
		}
	}
	return links
}
