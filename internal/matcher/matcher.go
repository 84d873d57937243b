// Package matcher selects names by glob or regular expression patterns.
// It backs artifact lookup in the store ("ready_to_load_*.csv") and
// company selection on the command line ("hexa*", "^al .*").
package matcher

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// PatternType represents the type of pattern matching to use.
type PatternType int

const (
	// Glob uses shell-style glob patterns (*, ?, []).
	Glob PatternType = iota
	// Regex uses regular expressions.
	Regex
	// Auto attempts to detect the pattern type.
	Auto
)

// Matcher reports whether names match a pattern.
type Matcher interface {
	// Match checks if the input matches the pattern
	Match(input string) bool
	// MatchAll returns the matching inputs in order.
	MatchAll(inputs ...string) []string
	// Pattern returns the original pattern string.
	Pattern() string
	// Type returns the pattern type being used.
	Type() PatternType
}

type matcher struct {
	pattern         string
	patternType     PatternType
	compiled        *regexp.Regexp
	globPattern     string
	caseInsensitive bool
}

// Options configures the matcher behavior.
type Options struct {
	// CaseInsensitive makes matching case-insensitive
	CaseInsensitive bool
}

// New creates a new Matcher with the specified pattern and type.
func New(patternType PatternType, pattern string, opts ...*Options) (Matcher, error) {
	options := &Options{}
	if len(opts) > 0 && opts[0] != nil {
		options = opts[0]
	}

	m := &matcher{
		pattern:         pattern,
		patternType:     patternType,
		caseInsensitive: options.CaseInsensitive,
	}
	if patternType == Auto {
		m.patternType = detectPatternType(pattern)
	}
	if err := m.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile pattern: %w", err)
	}
	return m, nil
}

// MustNew creates a new Matcher and panics if there's an error.
func MustNew(patternType PatternType, pattern string, opts ...*Options) Matcher {
	m, err := New(patternType, pattern, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *matcher) compile() error {
	switch m.patternType {
	case Glob:
		m.globPattern = m.pattern
		if m.caseInsensitive {
			m.globPattern = strings.ToLower(m.globPattern)
		}
		if _, err := filepath.Match(m.globPattern, ""); err != nil {
			return fmt.Errorf("invalid glob pattern: %w", err)
		}
	case Regex:
		pattern := m.pattern
		if m.caseInsensitive && !strings.HasPrefix(pattern, "(?i)") {
			pattern = "(?i)" + pattern
		}
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
		m.compiled = compiled
	default:
		return fmt.Errorf("unsupported pattern type: %v", m.patternType)
	}
	return nil
}

// Match checks if the input matches the pattern.
func (m *matcher) Match(input string) bool {
	switch m.patternType {
	case Glob:
		if m.caseInsensitive {
			input = strings.ToLower(input)
		}
		matched, _ := filepath.Match(m.globPattern, input)
		return matched
	case Regex:
		return m.compiled.MatchString(input)
	default:
		return false
	}
}

// MatchAll returns the matching inputs in order.
func (m *matcher) MatchAll(inputs ...string) []string {
	results := make([]string, 0)
	for _, input := range inputs {
		if m.Match(input) {
			results = append(results, input)
		}
	}
	return results
}

// Pattern returns the original pattern string.
func (m *matcher) Pattern() string {
	return m.pattern
}

// Type returns the pattern type being used.
func (m *matcher) Type() PatternType {
	return m.patternType
}

// detectPatternType treats a pattern as a regex when it carries regex
// metacharacters that globs do not use.
func detectPatternType(pattern string) PatternType {
	regexIndicators := []string{
		"^", "$", "\\d", "\\w", "\\s", "\\D", "\\W", "\\S",
		"(?:", "(?i)", "(?m)", "(?s)",
		"{", "}", "+", "|", "(", ")", ".*",
	}
	for _, indicator := range regexIndicators {
		if strings.Contains(pattern, indicator) {
			return Regex
		}
	}
	return Glob
}

// String returns a string representation of the PatternType.
func (pt PatternType) String() string {
	switch pt {
	case Glob:
		return "glob"
	case Regex:
		return "regex"
	case Auto:
		return "auto"
	default:
		return "unknown"
	}
}

// MultiMatcher matches when any of its patterns does.
type MultiMatcher struct {
	matchers []Matcher
}

// NewMultiMatcher creates a matcher with multiple patterns.
func NewMultiMatcher(patterns []string, patternType PatternType, opts ...*Options) (*MultiMatcher, error) {
	mm := &MultiMatcher{matchers: make([]Matcher, 0, len(patterns))}
	for _, pattern := range patterns {
		m, err := New(patternType, pattern, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create matcher for pattern %q: %w", pattern, err)
		}
		mm.matchers = append(mm.matchers, m)
	}
	return mm, nil
}

// Match returns true if any pattern matches.
func (mm *MultiMatcher) Match(input string) bool {
	for _, m := range mm.matchers {
		if m.Match(input) {
			return true
		}
	}
	return false
}

// MatchAll returns all distinct inputs that match any pattern, in order.
func (mm *MultiMatcher) MatchAll(inputs ...string) []string {
	results := make([]string, 0)
	seen := make(map[string]bool)
	for _, input := range inputs {
		if !seen[input] && mm.Match(input) {
			results = append(results, input)
			seen[input] = true
		}
	}
	return results
}

// Len returns the number of patterns.
func (mm *MultiMatcher) Len() int { return len(mm.matchers) }

// IsGlobPattern checks if a string contains glob metacharacters.
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]")
}
