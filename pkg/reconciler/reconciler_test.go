package reconciler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/logging"
	"github.com/agentstation/fleethold/pkg/matching"
	"github.com/agentstation/fleethold/pkg/reconciler"
)

var (
	gst = time.FixedZone("GST", 4*60*60)
	now = time.Date(2024, 10, 1, 12, 0, 0, 0, gst)
)

func at(month time.Month, day, hour int) time.Time {
	return time.Date(2024, month, day, hour, 0, 0, 0, gst)
}

func clock() time.Time { return now }

func baseOptions(extra ...reconciler.Option) []reconciler.Option {
	return append([]reconciler.Option{
		reconciler.WithLocation(gst),
		reconciler.WithClock(clock),
	}, extra...)
}

func pool() []fleet.InternalVehicle {
	return []fleet.InternalVehicle{
		{ID: "1", PlateNumber: "12345B", Manufacturer: "Nissan", ModelShortName: "Patrol"},
		{ID: "2", PlateNumber: "777C", Manufacturer: "Toyota", ModelShortName: "Camry"},
		{ID: "3", PlateNumber: "888D", Manufacturer: "Kia", ModelShortName: "K5"},
	}
}

func partner(key, plate, carName string, res ...fleet.RawReservation) fleet.ForeignRecord {
	return fleet.ForeignRecord{Source: "takamol", Key: key, PlateNumber: plate, VehicleType: carName, Reservations: res}
}

func sheet(plate, vehicleType, status string) fleet.ForeignRecord {
	return fleet.ForeignRecord{Source: "google docs", Key: plate, PlateNumber: plate, VehicleType: vehicleType, Status: status}
}

func TestReconcileReservations(t *testing.T) {
	ctx := logging.WithLogger(context.Background(), logging.NewTestLogger(t).Logger)
	bookings := fleet.Bookings{}
	bookings.Add(fleet.BookingWindow{VehicleID: "1", Since: at(10, 3, 0), Until: at(10, 3, 12)})

	in := reconciler.Input{
		Source: "takamol",
		Foreign: []fleet.ForeignRecord{
			partner("K-1", "12345 B", "Nissan Patrol",
				fleet.RawReservation{From: "10/02/2024 10:00:00 AM", To: "10/03/2024 10:00:00 AM"},
				fleet.RawReservation{From: "10/03/2024 09:00:00 AM", To: "10/04/2024 10:00:00 AM"},
			),
		},
		Pool:     pool(),
		Bookings: bookings,
	}

	res, err := reconciler.Reconcile(ctx, in, baseOptions()...)
	require.NoError(t, err)
	require.Len(t, res.Holds, 2)

	first := res.Holds[0]
	assert.Equal(t, "1", first.VehicleID)
	assert.Equal(t, "12345B", first.PlateNumber)
	assert.True(t, first.Free.Start().Equal(at(10, 2, 10)))
	assert.True(t, first.Free.End().Equal(at(10, 3, 0)))
	assert.Equal(t, fmt.Sprintf(
		"takamol\nNissan Patrol (K-1) with number 12345B\nhold: from 10/02/2024 10:00:00 AM to 10/03/2024 12:00:00 AM (%d, %d)",
		at(10, 2, 10).Unix(), at(10, 3, 0).Unix()), first.Provenance)

	second := res.Holds[1]
	assert.True(t, second.Free.Start().Equal(at(10, 3, 12)))
	assert.True(t, second.Free.End().Equal(at(10, 4, 10)))
	assert.Equal(t, "10/03/2024 12:00:00 PM", second.Free.StartDisplay())

	stats := res.Stats()
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, 2, stats.Remaining)
	assert.Equal(t, 2, stats.Holds)
	assert.Equal(t, reconciler.HoldModeReservations, res.Metadata.Mode)
	assert.Contains(t, res.Summary(), "2 hold candidates")
}

func TestReconcileDropsExpiredWindows(t *testing.T) {
	in := reconciler.Input{
		Source: "takamol",
		Foreign: []fleet.ForeignRecord{
			partner("past", "12345B", "Nissan",
				fleet.RawReservation{From: "09/20/2024 10:00:00 AM", To: "09/21/2024 10:00:00 AM"}),
			partner("straddling", "777C", "Toyota",
				fleet.RawReservation{From: "09/30/2024 10:00:00 AM", To: "10/02/2024 10:00:00 AM"}),
			partner("ends-now", "888D", "Kia",
				fleet.RawReservation{From: "09/30/2024 10:00:00 AM", To: "10/01/2024 12:00:00 PM"}),
		},
		Pool:     pool(),
		Bookings: fleet.Bookings{},
	}

	res, err := reconciler.Reconcile(context.Background(), in, baseOptions()...)
	require.NoError(t, err)

	require.Len(t, res.Holds, 1)
	assert.Equal(t, "2", res.Holds[0].VehicleID)
	for _, h := range res.Holds {
		assert.True(t, h.Free.End().After(now))
	}
	assert.ElementsMatch(t, []reconciler.Skip{
		{VehicleID: "1", Key: "past", Reason: reconciler.SkipExpired},
		{VehicleID: "3", Key: "ends-now", Reason: reconciler.SkipExpired},
	}, res.Skipped)
}

func TestReconcileParseErrorAbortsRun(t *testing.T) {
	in := reconciler.Input{
		Source: "takamol",
		Foreign: []fleet.ForeignRecord{
			partner("ok", "777C", "Toyota",
				fleet.RawReservation{From: "10/02/2024 10:00:00 AM", To: "10/03/2024 10:00:00 AM"}),
			partner("bad", "12345B", "Nissan",
				fleet.RawReservation{From: "2024-10-02T10:00:00", To: "10/03/2024 10:00:00 AM"}),
		},
		Pool: pool(),
	}

	res, err := reconciler.Reconcile(context.Background(), in, baseOptions()...)
	require.Error(t, err)
	assert.Nil(t, res)

	var parseErr *errors.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "reservation", parseErr.Format)
	assert.Contains(t, err.Error(), "bad")
}

func TestReconcileSkipsEmptyReservations(t *testing.T) {
	in := reconciler.Input{
		Source: "takamol",
		Foreign: []fleet.ForeignRecord{
			partner("none", "12345B", "Nissan"),
			partner("zero", "777C", "Toyota",
				fleet.RawReservation{From: "10/02/2024 10:00:00 AM", To: "10/02/2024 10:00:00 AM"}),
		},
		Pool: pool(),
	}

	res, err := reconciler.Reconcile(context.Background(), in, baseOptions()...)
	require.NoError(t, err)
	assert.Empty(t, res.Holds)
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, []reconciler.Skip{
		{VehicleID: "1", Key: "none", Reason: reconciler.SkipNoReservations},
		{VehicleID: "2", Key: "zero", Reason: reconciler.SkipNoReservations},
	}, res.Skipped)
}

func TestReconcileFullyBooked(t *testing.T) {
	bookings := fleet.Bookings{}
	bookings.Add(fleet.BookingWindow{VehicleID: "1", Since: at(10, 1, 0), Until: at(10, 5, 0)})

	in := reconciler.Input{
		Source: "takamol",
		Foreign: []fleet.ForeignRecord{
			partner("K-1", "12345B", "Nissan",
				fleet.RawReservation{From: "10/02/2024 10:00:00 AM", To: "10/03/2024 10:00:00 AM"}),
		},
		Pool:     pool(),
		Bookings: bookings,
	}

	res, err := reconciler.Reconcile(context.Background(), in, baseOptions()...)
	require.NoError(t, err)
	assert.Empty(t, res.Holds)
	assert.Equal(t, []reconciler.Skip{{VehicleID: "1", Key: "K-1", Reason: reconciler.SkipFullyBooked}}, res.Skipped)
}

func TestReconcileStatusMode(t *testing.T) {
	bookings := fleet.Bookings{}
	bookings.Add(fleet.BookingWindow{VehicleID: "1", Since: at(10, 5, 0), Until: at(10, 6, 0)})
	bookings.Add(fleet.BookingWindow{VehicleID: "2", Since: at(10, 1, 18), Until: at(10, 1, 20)})

	in := reconciler.Input{
		Source: "google docs",
		Foreign: []fleet.ForeignRecord{
			sheet("12345B", "Nissan Patrol", "Available "),
			sheet("777C", "Toyota Camry", "In Garage"),
		},
		Pool:     pool(),
		Bookings: bookings,
	}

	res, err := reconciler.Reconcile(context.Background(), in, baseOptions(
		reconciler.WithHoldMode(reconciler.HoldModeStatus),
		reconciler.WithMatchOptions(matching.WithRule(matching.RuleCoreSubstring)),
	)...)
	require.NoError(t, err)

	require.Len(t, res.AvailableWithBookings, 1)
	assert.Equal(t, "1", res.AvailableWithBookings[0].Internal.ID)
	assert.Equal(t, []reconciler.Skip{{VehicleID: "1", Key: "12345B", Reason: reconciler.SkipAvailable}}, res.Skipped)

	require.Len(t, res.Holds, 2)
	assert.True(t, res.Holds[0].Free.Start().Equal(now))
	assert.True(t, res.Holds[0].Free.End().Equal(at(10, 1, 18)))
	assert.True(t, res.Holds[1].Free.Start().Equal(at(10, 1, 20)))
	assert.True(t, res.Holds[1].Free.End().Equal(now.Add(24*time.Hour)))
	assert.Equal(t, fmt.Sprintf(
		"google docs\nToyota Camry (777C) with number 777C\nhold (In Garage): from 10/01/2024 12:00:00 PM to 10/01/2024 06:00:00 PM (%d, %d)",
		now.Unix(), at(10, 1, 18).Unix()), res.Holds[0].Provenance)
}

func TestReconcileHoldUnlisted(t *testing.T) {
	in := reconciler.Input{
		Source:  "google docs",
		Foreign: []fleet.ForeignRecord{sheet("12345B", "Nissan Patrol", "available")},
		Pool:    pool(),
	}

	res, err := reconciler.Reconcile(context.Background(), in, baseOptions(
		reconciler.WithHoldMode(reconciler.HoldModeStatus),
		reconciler.WithHoldUnlisted(true),
		reconciler.WithHoldWindow(12*time.Hour),
	)...)
	require.NoError(t, err)

	require.Len(t, res.Holds, 2)
	ids := []string{res.Holds[0].VehicleID, res.Holds[1].VehicleID}
	assert.Equal(t, []string{"2", "3"}, ids)
	for _, h := range res.Holds {
		assert.Equal(t, reconciler.StatusUnlisted, h.Foreign.Status)
		assert.Equal(t, 12*time.Hour, h.Free.Duration())
		assert.Contains(t, h.Provenance, "hold (unlisted)")
	}
}

func TestReconcileUnlistedIgnoredInReservationMode(t *testing.T) {
	res, err := reconciler.Reconcile(context.Background(), reconciler.Input{Source: "takamol", Pool: pool()},
		baseOptions(reconciler.WithHoldUnlisted(true))...)
	require.NoError(t, err)
	assert.Empty(t, res.Holds)
	assert.Len(t, res.Match.Remaining, 3)
}

func TestReconcileCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reconciler.Reconcile(ctx, reconciler.Input{}, baseOptions()...)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  reconciler.Option
	}{
		{name: "nil location", opt: reconciler.WithLocation(nil)},
		{name: "nil clock", opt: reconciler.WithClock(nil)},
		{name: "zero window", opt: reconciler.WithHoldWindow(0)},
		{name: "unknown mode", opt: reconciler.WithHoldMode("forever")},
		{name: "unknown rule", opt: reconciler.WithMatchOptions(matching.WithRule("fuzzy"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reconciler.New(tt.opt)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, "available", reconciler.NormalizeStatus(" Avail able "))
	assert.Equal(t, "ingarage", reconciler.NormalizeStatus("In Garage"))
}
