package fleet_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
)

func TestInternalVehicleYear(t *testing.T) {
	tests := []struct {
		name   string
		specs  []fleet.ModelSpec
		want   int
		wantOK bool
	}{
		{name: "no specs", specs: nil},
		{name: "year present", specs: []fleet.ModelSpec{{Name: "Color", Value: "red"}, {Name: "Year", Value: "2022"}}, want: 2022, wantOK: true},
		{name: "year not numeric", specs: []fleet.ModelSpec{{Name: "Year", Value: "new"}}},
		{name: "year padded", specs: []fleet.ModelSpec{{Name: "Year", Value: " 2019 "}}, want: 2019, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := fleet.InternalVehicle{Specs: tt.specs}
			got, ok := v.Year()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseModelYear(t *testing.T) {
	tests := []struct {
		in   string
		want *int
	}{
		{"2023", ptr(2023)},
		{" 2021 ", ptr(2021)},
		{"2021.0", ptr(2021)},
		{"23", nil},
		{"20234", nil},
		{"", nil},
		{"nan", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, fleet.ParseModelYear(tt.in))
		})
	}
}

func TestParseSpecs(t *testing.T) {
	t.Run("single quoted flow", func(t *testing.T) {
		specs, err := fleet.ParseSpecs("[{'name': 'Year', 'value': '2022'}, {'name': 'Seats', 'value': 5}]")
		require.NoError(t, err)
		assert.Equal(t, []fleet.ModelSpec{{Name: "Year", Value: "2022"}, {Name: "Seats", Value: "5"}}, specs)
	})

	t.Run("json", func(t *testing.T) {
		specs, err := fleet.ParseSpecs(`[{"name": "Year", "value": 2020}]`)
		require.NoError(t, err)
		v := fleet.InternalVehicle{Specs: specs}
		year, ok := v.Year()
		require.True(t, ok)
		assert.Equal(t, 2020, year)
	})

	t.Run("format round trip", func(t *testing.T) {
		in := []fleet.ModelSpec{{Name: "Year", Value: "2022"}, {Name: "Trim", Value: `Sport "S"`}}
		out, err := fleet.ParseSpecs(fleet.FormatSpecs(in))
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.Empty(t, fleet.FormatSpecs(nil))
	})

	t.Run("empty", func(t *testing.T) {
		specs, err := fleet.ParseSpecs("")
		require.NoError(t, err)
		assert.Empty(t, specs)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := fleet.ParseSpecs("[{'name': ")
		require.Error(t, err)
		var parseErr *errors.ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, "specs", parseErr.Format)
	})
}

func TestParsePayload(t *testing.T) {
	t.Run("python style list", func(t *testing.T) {
		res, err := fleet.ParsePayload("[{'FromDateTime': '10/01/2024 10:00:00 AM', 'ToDateTime': '10/03/2024 09:30:00 PM', 'Status': None}]")
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "10/01/2024 10:00:00 AM", res[0].From)
		assert.Equal(t, "10/03/2024 09:30:00 PM", res[0].To)
	})

	t.Run("empty payloads", func(t *testing.T) {
		for _, raw := range []string{"", "[]", "nan", "None"} {
			res, err := fleet.ParsePayload(raw)
			require.NoError(t, err, raw)
			assert.Empty(t, res, raw)
		}
	})

	t.Run("malformed payload is a payload parse error", func(t *testing.T) {
		_, err := fleet.ParsePayload("[{'FromDateTime': '10/01/2024")
		require.Error(t, err)
		var parseErr *errors.ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, "payload", parseErr.Format)
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("format round trip", func(t *testing.T) {
		in := []fleet.RawReservation{{From: "10/01/2024 10:00:00 AM", To: "10/02/2024 10:00:00 AM"}}
		out, err := fleet.ParsePayload(fleet.FormatPayload(in))
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.Empty(t, fleet.FormatPayload(nil))
	})
}

func TestBookings(t *testing.T) {
	now := time.Now()
	b := fleet.Bookings{}
	b.Add(fleet.BookingWindow{VehicleID: "1", Since: now, Until: now.Add(time.Hour)})
	b.Add(fleet.BookingWindow{VehicleID: "1", Since: now.Add(2 * time.Hour), Until: now.Add(3 * time.Hour)})
	b.Add(fleet.BookingWindow{VehicleID: "2", Since: now, Until: now.Add(time.Hour)})

	assert.Len(t, b.For("1"), 2)
	assert.Len(t, b.For("2"), 1)
	assert.Empty(t, b.For("3"))
}

func ptr(i int) *int { return &i }
