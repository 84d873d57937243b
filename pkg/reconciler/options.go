package reconciler

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/matching"
)

// HoldMode selects how the requested hold windows of a matched vehicle are derived.
type HoldMode string

const (
	// HoldModeReservations requests the foreign record's merged reservations.
	HoldModeReservations HoldMode = "reservations"
	// HoldModeStatus requests a fixed window from now for every vehicle
	// whose status is not "available".
	HoldModeStatus HoldMode = "status"
)

// ParseHoldMode parses a hold mode name. An empty name selects HoldModeReservations.
func ParseHoldMode(s string) (HoldMode, error) {
	switch HoldMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", HoldModeReservations:
		return HoldModeReservations, nil
	case HoldModeStatus:
		return HoldModeStatus, nil
	}
	return "", &errors.ValidationError{
		Field:   "hold_mode",
		Value:   s,
		Message: fmt.Sprintf("unknown hold mode %q, want %q or %q", s, HoldModeReservations, HoldModeStatus),
	}
}

// Options configures a reconciler.
type options struct {
	mode         HoldMode
	location     *time.Location
	clock        func() time.Time
	holdWindow   time.Duration
	holdUnlisted bool
	matchOpts    []matching.Option
}

func defaultOptions() *options {
	return &options{
		mode:       HoldModeReservations,
		location:   time.UTC,
		clock:      time.Now,
		holdWindow: constants.DefaultHoldWindow,
	}
}

// Option is a function that configures a Reconciler.
type Option func(*options) error

func (options *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}
	return options, nil
}

// newOptions returns reconciler options with default values.
func newOptions(opts ...Option) (*options, error) {
	return defaultOptions().apply(opts...)
}

// WithHoldMode sets how requested windows are derived.
func WithHoldMode(mode HoldMode) Option {
	return func(o *options) error {
		parsed, err := ParseHoldMode(string(mode))
		if err != nil {
			return err
		}
		o.mode = parsed
		return nil
	}
}

// WithLocation sets the zone reservations are read in and displays are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) error {
		if loc == nil {
			return &errors.ValidationError{
				Field:   "location",
				Message: "cannot be nil",
			}
		}
		o.location = loc
		return nil
	}
}

// WithClock sets the source of "now".
func WithClock(clock func() time.Time) Option {
	return func(o *options) error {
		if clock == nil {
			return &errors.ValidationError{
				Field:   "clock",
				Message: "cannot be nil",
			}
		}
		o.clock = clock
		return nil
	}
}

// WithHoldWindow sets the window requested in status mode.
func WithHoldWindow(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return &errors.ValidationError{
				Field:   "hold_window",
				Value:   d,
				Message: "must be positive",
			}
		}
		o.holdWindow = d
		return nil
	}
}

// WithHoldUnlisted also requests holds, in status mode, for internal
// vehicles that no foreign record matched.
func WithHoldUnlisted(enabled bool) Option {
	return func(o *options) error {
		o.holdUnlisted = enabled
		return nil
	}
}

// WithMatchOptions configures the record matcher.
func WithMatchOptions(opts ...matching.Option) Option {
	return func(o *options) error {
		o.matchOpts = append(o.matchOpts, opts...)
		return nil
	}
}
