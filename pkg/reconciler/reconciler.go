// Package reconciler computes hold candidates for a company: it matches
// foreign vehicle records against the internal fleet, derives the windows
// each matched vehicle should be held for, and removes the time already
// covered by existing bookings.
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/interval"
	"github.com/agentstation/fleethold/pkg/logging"
	"github.com/agentstation/fleethold/pkg/matching"
)

// StatusUnlisted is the status given to internal vehicles missing from a
// status-mode source.
const StatusUnlisted = "unlisted"

// Input is the snapshot of one company reconciled in a single run.
type Input struct {
	// Source is the provenance label of the foreign records.
	Source   string
	Foreign  []fleet.ForeignRecord
	Pool     []fleet.InternalVehicle
	Bookings fleet.Bookings
}

// Reconciler is the main interface for computing hold candidates.
type Reconciler interface {
	// Reconcile matches in.Foreign against in.Pool and returns hold
	// candidates. A reservation date that cannot be parsed aborts the run.
	Reconcile(ctx context.Context, in Input) (*Result, error)
}

// reconciler is the default implementation of Reconciler.
type reconciler struct {
	opts    *options
	matcher *matching.Matcher
}

// New creates a new Reconciler with options.
func New(opts ...Option) (Reconciler, error) {
	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	matcher, err := matching.New(options.matchOpts...)
	if err != nil {
		return nil, err
	}
	return &reconciler{opts: options, matcher: matcher}, nil
}

// Reconcile is a convenience wrapper around New and Reconciler.Reconcile.
func Reconcile(ctx context.Context, in Input, opts ...Option) (*Result, error) {
	r, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return r.Reconcile(ctx, in)
}

// Reconcile performs reconciliation with clean step-by-step flow.
func (r *reconciler) Reconcile(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	loc := r.opts.location
	now := r.opts.clock().In(loc)
	logger := logging.FromContext(ctx).With().
		Str("source", in.Source).
		Str("hold_mode", string(r.opts.mode)).
		Logger()

	result := NewResult()
	result.Metadata.Source = in.Source
	result.Metadata.Mode = r.opts.mode
	result.Metadata.Now = now

	// Step 1: Match foreign records against the pool
	result.Match = r.matcher.Match(in.Foreign, in.Pool)
	counts := result.Match.Counts()
	logger.Info().
		Int("foreign", counts.Foreign).
		Int("matched", counts.Matched).
		Int("unmatched", counts.Unmatched).
		Int("ambiguous", counts.Ambiguous).
		Int("remaining", counts.Remaining).
		Msg("Matched foreign records")

	// Step 2: Derive requested windows and subtract bookings per matched vehicle
	for _, out := range result.Match.Matched() {
		vehicle := *out.Internal
		requested, reason, err := r.requested(out.Foreign, now, &logger, result)
		if err != nil {
			return nil, fmt.Errorf("vehicle %s (%s): %w", vehicle.ID, out.Foreign.Key, err)
		}
		if reason == SkipAvailable && len(in.Bookings.For(vehicle.ID)) > 0 {
			result.AvailableWithBookings = append(result.AvailableWithBookings, out)
		}
		if reason != "" {
			result.Skipped = append(result.Skipped, Skip{VehicleID: vehicle.ID, Key: out.Foreign.Key, Reason: reason})
			continue
		}
		r.emit(result, in, vehicle, out.Foreign, requested, now, &logger)
	}

	// Step 3: Hold unlisted vehicles when the source lists every available vehicle
	if r.opts.mode == HoldModeStatus && r.opts.holdUnlisted {
		for _, vehicle := range result.Match.Remaining {
			foreign := fleet.ForeignRecord{
				Source:      in.Source,
				Key:         vehicle.PlateNumber,
				PlateNumber: vehicle.PlateNumber,
				VehicleType: strings.TrimSpace(vehicle.Manufacturer + " " + vehicle.ModelShortName),
				Status:      StatusUnlisted,
			}
			requested := []interval.Interval{interval.Must(now, now.Add(r.opts.holdWindow), loc)}
			r.emit(result, in, vehicle, foreign, requested, now, &logger)
		}
	}

	result.Finalize()
	logger.Info().
		Int("holds", len(result.Holds)).
		Int("skipped", len(result.Skipped)).
		Int("available_with_bookings", len(result.AvailableWithBookings)).
		Dur("duration", result.Metadata.Duration).
		Msg("Reconciliation complete")
	return result, nil
}

// requested returns the merged windows to hold for a matched foreign record,
// or the reason none are requested.
func (r *reconciler) requested(rec fleet.ForeignRecord, now time.Time, logger *zerolog.Logger, result *Result) ([]interval.Interval, SkipReason, error) {
	switch r.opts.mode {
	case HoldModeStatus:
		if NormalizeStatus(rec.Status) == "available" {
			return nil, SkipAvailable, nil
		}
		return []interval.Interval{interval.Must(now, now.Add(r.opts.holdWindow), r.opts.location)}, "", nil
	default:
		if len(rec.Reservations) == 0 {
			return nil, SkipNoReservations, nil
		}
		windows := make([]interval.Interval, 0, len(rec.Reservations))
		for _, raw := range rec.Reservations {
			iv, err := interval.ParseReservation(raw, r.opts.location)
			var parseErr *errors.ParseError
			switch {
			case errors.As(err, &parseErr):
				return nil, "", err
			case err != nil:
				msg := fmt.Sprintf("%s: empty reservation %s - %s", rec.Key, raw.From, raw.To)
				logger.Warn().Str("key", rec.Key).Str("from", raw.From).Str("to", raw.To).Msg("Skipping empty reservation")
				result.Warnings = append(result.Warnings, msg)
				continue
			}
			windows = append(windows, iv)
		}
		if len(windows) == 0 {
			return nil, SkipNoReservations, nil
		}
		return interval.Merge(windows), "", nil
	}
}

// emit subtracts the vehicle's bookings from requested and appends a hold
// candidate for every window still ending after now.
func (r *reconciler) emit(result *Result, in Input, vehicle fleet.InternalVehicle, rec fleet.ForeignRecord, requested []interval.Interval, now time.Time, logger *zerolog.Logger) {
	blocking := interval.FromBookings(in.Bookings.For(vehicle.ID), r.opts.location)
	free := interval.Subtract(requested, blocking)
	if len(free) == 0 {
		result.Skipped = append(result.Skipped, Skip{VehicleID: vehicle.ID, Key: rec.Key, Reason: SkipFullyBooked})
		return
	}
	current := interval.After(free, now)
	if len(current) == 0 {
		result.Skipped = append(result.Skipped, Skip{VehicleID: vehicle.ID, Key: rec.Key, Reason: SkipExpired})
		return
	}

	status := ""
	if r.opts.mode == HoldModeStatus {
		status = rec.Status
	}
	for _, iv := range current {
		result.Holds = append(result.Holds, HoldCandidate{
			VehicleID:   vehicle.ID,
			PlateNumber: vehicle.PlateNumber,
			Foreign:     rec,
			Free:        iv,
			Provenance:  Provenance(in.Source, rec.VehicleType, rec.Key, vehicle.PlateNumber, status, iv),
		})
	}
	logger.Debug().
		Str("car_id", vehicle.ID).
		Int("requested", len(requested)).
		Int("blocking", len(blocking)).
		Int("free", len(current)).
		Msg("Computed free windows")
}

// NormalizeStatus lower-cases a source status and removes spaces.
func NormalizeStatus(status string) string {
	return strings.ReplaceAll(strings.ToLower(status), " ", "")
}
