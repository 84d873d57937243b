package interval

import (
	"strings"
	"time"

	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
)

// LoadLocation resolves a zone name, defaulting to constants.DefaultTimeZone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = constants.DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &errors.ConfigError{Component: "timezone", Message: "unknown zone " + name, Err: err}
	}
	return loc, nil
}

// ParseTime reads a timestamp in the partner display layout as wall time in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(constants.DisplayLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, &errors.ParseError{Format: "reservation", Value: s, Message: err.Error(), Err: err}
	}
	return t, nil
}

// ParseReservation converts a raw reservation into an interval in loc.
// Unreadable dates return a ParseError with Format "reservation". A
// reservation that does not end after it starts returns a ValidationError.
func ParseReservation(raw fleet.RawReservation, loc *time.Location) (Interval, error) {
	start, err := ParseTime(raw.From, loc)
	if err != nil {
		return Interval{}, err
	}
	end, err := ParseTime(raw.To, loc)
	if err != nil {
		return Interval{}, err
	}
	return New(start, end, loc)
}

// FromBooking converts an existing booking into a blocking interval.
func FromBooking(w fleet.BookingWindow, loc *time.Location) (Interval, error) {
	return New(w.Since, w.Until, loc)
}

// FromBookings converts booking windows into merged blocking intervals,
// skipping windows that are empty.
func FromBookings(windows []fleet.BookingWindow, loc *time.Location) []Interval {
	out := make([]Interval, 0, len(windows))
	for _, w := range windows {
		iv, err := FromBooking(w, loc)
		if err != nil {
			continue
		}
		out = append(out, iv)
	}
	return Merge(out)
}
