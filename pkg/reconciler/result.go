package reconciler

import (
	"fmt"
	"time"

	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/interval"
	"github.com/agentstation/fleethold/pkg/matching"
)

// HoldCandidate is a free window in which an internal vehicle should be held.
type HoldCandidate struct {
	VehicleID   string              `json:"car_id" yaml:"car_id"`
	PlateNumber string              `json:"number" yaml:"number"`
	Foreign     fleet.ForeignRecord `json:"foreign" yaml:"foreign"`
	Free        interval.Interval   `json:"free" yaml:"free"`
	Provenance  string              `json:"hold_comment" yaml:"hold_comment"`
}

// SkipReason explains why a matched vehicle produced no hold candidate.
type SkipReason string

// Skip reasons.
const (
	SkipAvailable      SkipReason = "available"
	SkipNoReservations SkipReason = "no reservations"
	SkipFullyBooked    SkipReason = "fully booked"
	SkipExpired        SkipReason = "expired"
)

// Skip records a matched vehicle that produced no hold candidate.
type Skip struct {
	VehicleID string     `json:"car_id" yaml:"car_id"`
	Key       string     `json:"key" yaml:"key"`
	Reason    SkipReason `json:"reason" yaml:"reason"`
}

// Result represents the outcome of a reconciliation run.
type Result struct {
	// Match is the record matcher's output.
	Match *matching.Result

	// Holds are the hold candidates, grouped by matched vehicle in
	// foreign record order, each group start-ordered.
	Holds []HoldCandidate

	// Skipped lists matched vehicles that produced no hold candidate.
	Skipped []Skip

	// AvailableWithBookings lists matched vehicles reported available by
	// their source that still have bookings in the fleet.
	AvailableWithBookings []matching.Outcome

	// Warnings are non-fatal issues such as empty reservations.
	Warnings []string

	Metadata ResultMetadata
}

// ResultMetadata contains metadata about the reconciliation process.
type ResultMetadata struct {
	Source    string
	Mode      HoldMode
	Now       time.Time
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// Stats summarizes a result.
type Stats struct {
	matching.Counts `yaml:",inline"`

	Holds                 int `json:"holds" yaml:"holds"`
	Skipped               int `json:"skipped" yaml:"skipped"`
	AvailableWithBookings int `json:"available_with_bookings" yaml:"available_with_bookings"`
}

// NewResult creates a new result with defaults.
func NewResult() *Result {
	return &Result{
		Match:    &matching.Result{},
		Warnings: []string{},
		Metadata: ResultMetadata{
			StartTime: time.Now(),
		},
	}
}

// Finalize calculates duration and marks completion.
func (r *Result) Finalize() {
	r.Metadata.EndTime = time.Now()
	r.Metadata.Duration = r.Metadata.EndTime.Sub(r.Metadata.StartTime)
}

// Stats tallies the result.
func (r *Result) Stats() Stats {
	return Stats{
		Counts:                r.Match.Counts(),
		Holds:                 len(r.Holds),
		Skipped:               len(r.Skipped),
		AvailableWithBookings: len(r.AvailableWithBookings),
	}
}

// Summary returns a human-readable summary of the result.
func (r *Result) Summary() string {
	s := r.Stats()
	return fmt.Sprintf("%s: %d foreign records, %d matched, %d unmatched, %d ambiguous, %d internal unused, %d hold candidates",
		r.Metadata.Source, s.Foreign, s.Matched, s.Unmatched, s.Ambiguous, s.Remaining, s.Holds)
}
