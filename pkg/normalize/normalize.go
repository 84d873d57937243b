// Package normalize canonicalizes free-text vehicle identifiers so plates and
// manufacturer names from different sources can be compared by substring.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Correction maps a known misspelling to its canonical form.
type Correction struct {
	From string
	To   string
}

// Corrections is the fixed correction table applied after case folding.
var Corrections = []Correction{
	{From: "lamborgini", To: "lamborghini"},
	{From: "hurracan", To: "huracan"},
	{From: "rollsroyse", To: "rollsroyce"},
	{From: "bentaga", To: "bentayga"},
	{From: "hurcan", To: "huracan"},
	{From: "lambo", To: "lamborghini"},
	{From: "chevrolete", To: "chevrolet"},
	{From: "culinnan", To: "cullinan"},
	{From: "hundaisantafeh", To: "hundaisantafe"},
	{From: "posche", To: "porsche"},
	{From: "cayean", To: "cayenne"},
	{From: "landroverrangrov", To: "landroverrangerover"},
}

// maxPasses bounds the fixed-point iteration of the correction scanner.
const maxPasses = 16

var (
	lower = cases.Lower(language.Und)

	// tokens maps every recognized spelling to its canonical form.
	// Canonical spellings map to themselves so the scanner leaves them intact.
	tokens  map[string]string
	longest int
)

func init() {
	tokens = make(map[string]string, 2*len(Corrections))
	for _, c := range Corrections {
		tokens[c.From] = c.To
		tokens[c.To] = c.To
	}
	for t := range tokens {
		longest = max(longest, len(t))
	}
}

// Normalize lower-cases s, strips every rune that is neither a letter nor a
// digit, writes decimal digits of any script as ASCII digits and repairs
// known misspellings. The result is stable:
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = strip(lower.String(s))
	for i := 0; i < maxPasses; i++ {
		next := correct(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func strip(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(asciiDigit(r))
		}
	}
	return b.String()
}

// asciiDigit maps a decimal digit to '0'..'9'. Every script's digits are
// encoded as contiguous runs of ten starting at zero.
func asciiDigit(r rune) rune {
	if r <= unicode.MaxASCII {
		return r
	}
	zero := r
	for unicode.IsDigit(zero - 1) {
		zero--
	}
	return '0' + (r-zero)%10
}

// correct performs one left-to-right pass, replacing the longest known
// spelling starting at each position.
func correct(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if canonical, n := match(s[i:]); n > 0 {
			b.WriteString(canonical)
			i += n
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func match(s string) (string, int) {
	for n := min(longest, len(s)); n > 0; n-- {
		if canonical, ok := tokens[s[:n]]; ok {
			return canonical, n
		}
	}
	return "", 0
}
