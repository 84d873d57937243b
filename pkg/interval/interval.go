// Package interval implements the half-open time interval arithmetic used to
// compute hold windows: merging overlapping reservations and subtracting
// existing bookings from them.
//
// An Interval keeps its boundary instants together with the zone they are
// displayed in. Display strings are always derived from the instants, so
// they can never disagree with them.
package interval

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/errors"
)

// Interval is a non-empty time range [start, end).
type Interval struct {
	start time.Time
	end   time.Time
}

// New returns the interval [start, end) displayed in loc.
// A nil loc keeps the instants' own locations.
func New(start, end time.Time, loc *time.Location) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, &errors.ValidationError{
			Field:   "interval",
			Value:   [2]time.Time{start, end},
			Message: fmt.Sprintf("start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339)),
		}
	}
	if loc != nil {
		start, end = start.In(loc), end.In(loc)
	}
	return Interval{start: start, end: end}, nil
}

// Must is like New but panics on an empty interval. Intended for tests and constants.
func Must(start, end time.Time, loc *time.Location) Interval {
	iv, err := New(start, end, loc)
	if err != nil {
		panic(err)
	}
	return iv
}

// Start returns the first instant of the interval.
func (i Interval) Start() time.Time { return i.start }

// End returns the instant just past the interval.
func (i Interval) End() time.Time { return i.end }

// Duration returns the interval length.
func (i Interval) Duration() time.Duration { return i.end.Sub(i.start) }

// StartDisplay renders the start in its display zone.
func (i Interval) StartDisplay() string { return i.start.Format(constants.DisplayLayout) }

// EndDisplay renders the end in its display zone.
func (i Interval) EndDisplay() string { return i.end.Format(constants.DisplayLayout) }

// Overlaps reports whether the two intervals share an instant.
func (i Interval) Overlaps(o Interval) bool {
	return i.start.Before(o.end) && i.end.After(o.start)
}

// In returns the interval displayed in loc.
func (i Interval) In(loc *time.Location) Interval {
	return Interval{start: i.start.In(loc), end: i.end.In(loc)}
}

// Equal reports whether both intervals cover the same instants.
func (i Interval) Equal(o Interval) bool {
	return i.start.Equal(o.start) && i.end.Equal(o.end)
}

// String implements fmt.Stringer.
func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.StartDisplay(), i.EndDisplay())
}

type view struct {
	Since        int64  `json:"since" yaml:"since"`
	Until        int64  `json:"until" yaml:"until"`
	SinceDisplay string `json:"since_display" yaml:"since_display"`
	UntilDisplay string `json:"until_display" yaml:"until_display"`
}

func (i Interval) view() view {
	return view{
		Since:        i.start.Unix(),
		Until:        i.end.Unix(),
		SinceDisplay: i.StartDisplay(),
		UntilDisplay: i.EndDisplay(),
	}
}

// MarshalJSON implements json.Marshaler.
func (i Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.view())
}

// MarshalYAML implements yaml.InterfaceMarshaler.
func (i Interval) MarshalYAML() (any, error) {
	return i.view(), nil
}
