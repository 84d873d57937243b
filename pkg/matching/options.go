package matching

import (
	"fmt"
	"strings"

	"github.com/agentstation/fleethold/pkg/errors"
)

// Rule selects how candidates are found from a foreign plate.
type Rule string

const (
	// RulePlateParts requires the internal plate to contain both the number
	// and the letter part of the foreign plate.
	RulePlateParts Rule = "plate-parts"
	// RuleCoreSubstring requires the internal plate to contain the foreign core.
	RuleCoreSubstring Rule = "core-substring"
)

// ParseRule parses a rule name. An empty name selects RulePlateParts.
func ParseRule(s string) (Rule, error) {
	switch Rule(strings.ToLower(strings.TrimSpace(s))) {
	case "", RulePlateParts:
		return RulePlateParts, nil
	case RuleCoreSubstring:
		return RuleCoreSubstring, nil
	}
	return "", &errors.ValidationError{
		Field:   "match_rule",
		Value:   s,
		Message: fmt.Sprintf("unknown rule %q, want %q or %q", s, RulePlateParts, RuleCoreSubstring),
	}
}

type options struct {
	rule          Rule
	yearNarrowing bool
}

func defaultOptions() *options {
	return &options{rule: RulePlateParts}
}

// Option is a function that configures a Matcher.
type Option func(*options) error

func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithRule sets the candidate rule.
func WithRule(rule Rule) Option {
	return func(o *options) error {
		parsed, err := ParseRule(string(rule))
		if err != nil {
			return err
		}
		o.rule = parsed
		return nil
	}
}

// WithYearNarrowing enables disambiguation by model year.
func WithYearNarrowing(enabled bool) Option {
	return func(o *options) error {
		o.yearNarrowing = enabled
		return nil
	}
}
