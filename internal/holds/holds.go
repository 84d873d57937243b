// Package holds places hold tags on fleet vehicles for reconciled free
// windows and tags duplicate fleet records.
package holds

import (
	"context"
	"strconv"
	"time"

	"github.com/agentstation/fleethold/internal/ledger"
	"github.com/agentstation/fleethold/internal/sources/fleetapi"
	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/logging"
	"github.com/agentstation/fleethold/pkg/reconciler"
)

// Placer places a hold tag on a car.
type Placer interface {
	PlaceHold(ctx context.Context, tagName string, h fleetapi.Hold) (*fleetapi.TagResponse, error)
}

// Tagger marks a car as a duplicate record.
type Tagger interface {
	TagDuplicate(ctx context.Context, carID string) (*fleetapi.TagResponse, error)
}

// Status is the outcome of one placement.
type Status string

// Placement statuses.
const (
	StatusPlaced      Status = "placed"
	StatusAlreadyHeld Status = "already_held"
	StatusRecorded    Status = "recorded"
	StatusFailed      Status = "failed"
)

// Record is the outcome of placing one hold candidate.
type Record struct {
	VehicleID   string    `json:"car_id" yaml:"car_id"`
	PlateNumber string    `json:"number" yaml:"number"`
	Since       time.Time `json:"since" yaml:"since"`
	Until       time.Time `json:"until" yaml:"until"`
	Comment     string    `json:"hold_comment" yaml:"hold_comment"`
	Status      Status    `json:"status" yaml:"status"`
	Attempts    int       `json:"attempts" yaml:"attempts"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report tallies a placement run.
type Report struct {
	Total       int      `json:"total" yaml:"total"`
	Placed      int      `json:"placed" yaml:"placed"`
	AlreadyHeld int      `json:"already_held" yaml:"already_held"`
	Recorded    int      `json:"recorded" yaml:"recorded"`
	Failed      int      `json:"failed" yaml:"failed"`
	Records     []Record `json:"records" yaml:"records"`
}

func (r *Report) add(rec Record) {
	r.Records = append(r.Records, rec)
	switch rec.Status {
	case StatusPlaced:
		r.Placed++
	case StatusAlreadyHeld:
		r.AlreadyHeld++
	case StatusRecorded:
		r.Recorded++
	case StatusFailed:
		r.Failed++
	}
}

// Successful returns the records of successful placements.
func (r *Report) Successful() []Record {
	var out []Record
	for _, rec := range r.Records {
		if rec.Status == StatusPlaced {
			out = append(out, rec)
		}
	}
	return out
}

// SuccessHeader is the header of the successfully placed holds table.
var SuccessHeader = []string{"car_id", "number", "since", "until", "hold_comment", "attempts"}

// SuccessRows renders successful placements as table rows with since and
// until in the microsecond form sent to the fleet API.
func SuccessRows(records []Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		if rec.Status != StatusPlaced {
			continue
		}
		rows = append(rows, []string{
			rec.VehicleID, rec.PlateNumber,
			strconv.FormatInt(fleetapi.Microseconds(rec.Since), 10),
			strconv.FormatInt(fleetapi.Microseconds(rec.Until), 10),
			rec.Comment, strconv.Itoa(rec.Attempts),
		})
	}
	return rows
}

// Placement places holds for one company.
type Placement struct {
	placer   Placer
	tagName  string
	ledger   ledger.Ledger
	attempts int
	delay    time.Duration
}

// Option configures a Placement.
type Option func(*Placement)

// WithLedger skips holds already recorded in l and records new ones.
func WithLedger(l ledger.Ledger) Option {
	return func(p *Placement) { p.ledger = l }
}

// WithRetries sets the number of attempts per hold.
func WithRetries(attempts int) Option {
	return func(p *Placement) { p.attempts = max(attempts, 1) }
}

// WithRetryDelay sets the fixed delay between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Placement) {
		if d >= 0 {
			p.delay = d
		}
	}
}

// New returns a Placement tagging cars with tagName.
func New(placer Placer, tagName string, opts ...Option) *Placement {
	p := &Placement{
		placer:   placer,
		tagName:  tagName,
		attempts: constants.MaxRetries,
		delay:    constants.HoldRetryDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Place places every candidate in order. Individual failures are counted
// in the report; only context cancellation stops the run.
func (p *Placement) Place(ctx context.Context, candidates []reconciler.HoldCandidate) (*Report, error) {
	logger := logging.FromContext(ctx)
	report := &Report{Total: len(candidates)}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec := p.placeOne(logging.WithVehicle(ctx, c.VehicleID, c.PlateNumber), c)
		report.add(rec)
	}

	logger.Info().
		Int("total", report.Total).
		Int("placed", report.Placed).
		Int("already_held", report.AlreadyHeld).
		Int("recorded", report.Recorded).
		Int("failed", report.Failed).
		Msg("Hold placement finished")
	return report, nil
}

func (p *Placement) placeOne(ctx context.Context, c reconciler.HoldCandidate) Record {
	logger := logging.FromContext(ctx)
	rec := Record{
		VehicleID:   c.VehicleID,
		PlateNumber: c.PlateNumber,
		Since:       c.Free.Start(),
		Until:       c.Free.End(),
		Comment:     c.Provenance,
	}
	entry := ledger.Entry{VehicleID: c.VehicleID, Since: rec.Since, Until: rec.Until}

	if p.ledger != nil {
		seen, err := p.ledger.Seen(ctx, entry)
		if err != nil {
			logger.Warn().Err(err).Msg("Hold ledger unavailable, placing anyway")
		} else if seen {
			logger.Debug().Msg("Hold already recorded in ledger")
			rec.Status = StatusRecorded
			return rec
		}
	}

	hold := fleetapi.Hold{CarID: c.VehicleID, Since: rec.Since, Until: rec.Until, Comment: c.Provenance}
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		rec.Attempts = attempt
		_, err = p.placer.PlaceHold(ctx, p.tagName, hold)
		if err == nil || !transient(err) || attempt == p.attempts {
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", p.attempts).Msg("Retrying hold")
		if sleepErr := sleep(ctx, p.delay); sleepErr != nil {
			err = sleepErr
			break
		}
	}

	switch {
	case err == nil:
		rec.Status = StatusPlaced
		logger.Info().Time("since", rec.Since).Time("until", rec.Until).Msg("Hold placed")
	case errors.IsAlreadyHeld(err):
		rec.Status = StatusAlreadyHeld
		logger.Info().Msg("Vehicle already held")
	default:
		rec.Status = StatusFailed
		rec.Error = err.Error()
		logger.Error().Err(err).Int("attempts", rec.Attempts).Msg("Failed to place hold")
		return rec
	}

	if p.ledger != nil {
		if err := p.ledger.Record(ctx, entry); err != nil {
			logger.Warn().Err(err).Msg("Failed to record hold in ledger")
		}
	}
	return rec
}

// transient reports whether a placement failed before the fleet API gave
// a definite answer: connection failures and exhausted server errors.
func transient(err error) bool {
	var apiErr *errors.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 0 || apiErr.StatusCode >= 500
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DuplicateReport tallies duplicate tagging.
type DuplicateReport struct {
	Tagged int               `json:"tagged" yaml:"tagged"`
	Failed map[string]string `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// TagDuplicates tags every duplicate vehicle. Failures are collected by
// vehicle id.
func TagDuplicates(ctx context.Context, tagger Tagger, duplicates []fleet.InternalVehicle) (*DuplicateReport, error) {
	logger := logging.FromContext(ctx)
	report := &DuplicateReport{Failed: map[string]string{}}
	for _, v := range duplicates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := tagger.TagDuplicate(ctx, v.ID); err != nil {
			logger.Error().Err(err).Str("car_id", v.ID).Str("number", v.PlateNumber).Msg("Failed to tag duplicate")
			report.Failed[v.ID] = err.Error()
			continue
		}
		report.Tagged++
	}
	logger.Info().Int("tagged", report.Tagged).Int("failed", len(report.Failed)).Msg("Duplicate tagging finished")
	return report, nil
}
