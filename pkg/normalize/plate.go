package normalize

import (
	"regexp"
	"unicode"
)

var (
	corePattern   = regexp.MustCompile(`[a-z]?[0-9]+[a-z]?`)
	numberPattern = regexp.MustCompile(`[0-9]+`)
)

// Plate is a normalized plate split into the parts used for matching.
type Plate struct {
	Normalized string
	Core       string
	Number     string
	Letter     string
}

// HasCore reports whether the plate carried a digit run.
func (p Plate) HasCore() bool { return p.Core != "" }

// Complete reports whether both a number part and a letter part were found.
func (p Plate) Complete() bool { return p.Number != "" && p.Letter != "" }

// Decompose normalizes a raw plate and extracts its core, number and letter
// parts. Number and letter parts are taken from the core.
func Decompose(raw string) Plate {
	p := Plate{Normalized: Normalize(raw)}
	core, ok := ExtractCore(p.Normalized)
	if !ok {
		return p
	}
	p.Core = core
	if n, ok := NumberPart(core); ok {
		p.Number = n
	}
	if l, ok := LetterPart(core); ok {
		p.Letter = string(l)
	}
	return p
}

// ExtractCore returns the longest run of an optional letter, digits and an
// optional letter. Ties go to the leftmost run.
func ExtractCore(plate string) (string, bool) {
	var core string
	for _, m := range corePattern.FindAllString(plate, -1) {
		if len(m) > len(core) {
			core = m
		}
	}
	return core, core != ""
}

// NumberPart returns the first maximal digit run.
func NumberPart(plate string) (string, bool) {
	n := numberPattern.FindString(plate)
	return n, n != ""
}

// LetterPart returns the only letter of a one-letter plate or the last
// letter of a two-letter plate.
func LetterPart(plate string) (rune, bool) {
	var letters []rune
	for _, r := range plate {
		if unicode.IsLetter(r) {
			letters = append(letters, r)
		}
	}
	switch len(letters) {
	case 1, 2:
		return letters[len(letters)-1], true
	default:
		return 0, false
	}
}
