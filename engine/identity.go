package engine

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// POLICY NUMBER SHAPE
// =============================================================================

var (
	leadingZeros  = regexp.MustCompile(`^0+(\d)`)
	reissueSuffix = regexp.MustCompile(`(\d{2})$`)
	rootAndSuffix = regexp.MustCompile(`^(.+?)(\d{2})$`)
)

// NormalizePolicyNumber strips leading zeros up to the first significant
// digit: "0076384A" -> "76384A", "00123U00" -> "123U00". Idempotent.
func NormalizePolicyNumber(num string) string {
	return leadingZeros.ReplaceAllString(strings.TrimSpace(num), "$1")
}

// IsReissue is true when the number ends in a two-digit suffix above 00.
func IsReissue(num string) bool {
	return reissueNumber(num) > 0
}

// reissueNumber parses the two-digit suffix, or -1 when there is none.
func reissueNumber(num string) int {
	m := reissueSuffix.FindStringSubmatch(strings.TrimSpace(num))
	if m == nil {
		return -1
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// StripReissueSuffix removes a trailing two-digit suffix: "0076384A01" ->
// "0076384A". Numbers without one are returned unchanged.
func StripReissueSuffix(num string) string {
	num = strings.TrimSpace(num)
	if m := rootAndSuffix.FindStringSubmatch(num); m != nil {
		return m[1]
	}
	return num
}

// PolicyNumberLength counts characters of the trimmed number.
func PolicyNumberLength(num string) int {
	return utf8.RuneCountInString(strings.TrimSpace(num))
}

// Root6 is the first six characters, used to group a policy with its reissues.
func Root6(num string) string {
	r := []rune(strings.TrimSpace(num))
	if len(r) > 6 {
		r = r[:6]
	}
	return string(r)
}

// Suffix2 is the last two characters.
func Suffix2(num string) string {
	r := []rune(strings.TrimSpace(num))
	if len(r) > 2 {
		r = r[len(r)-2:]
	}
	return string(r)
}

// CompositeID concatenates number and effective date ("17958V00" +
// "2025-01-15"). Empty when both are empty.
func CompositeID(num string, effective Date) string {
	return strings.TrimSpace(num) + effective.String()
}

// =============================================================================
// TEXT FOLDING
// =============================================================================

// stripAccents removes combining marks: "Póliza" -> "Poliza", "AÑO" -> "ANO".
func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// containsFold reports whether keyword occurs in text after folding both.
func containsFold(text, keyword string) bool {
	return strings.Contains(foldUpper(text), foldUpper(keyword))
}

// FoldText exposes the folding used for every vocabulary comparison.
func FoldText(s string) string {
	return foldUpper(s)
}
