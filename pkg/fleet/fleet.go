// Package fleet defines the vehicle records exchanged between the fleet API,
// the partner booking API and spreadsheet exports.
//
// The types are plain values. Matching, interval arithmetic and hold
// computation live in the matching, interval and reconcile packages.
package fleet

import (
	"strconv"
	"strings"
	"time"
)

// SpecYear is the name of the model spec carrying the model year.
const SpecYear = "Year"

// ExtraModel is the ForeignRecord.Extra key holding the source's raw model field.
const ExtraModel = "model"

// ModelSpec is a single name/value entry of a fleet model's specifications.
type ModelSpec struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// InternalVehicle is a vehicle record of the internal fleet API, joined
// with its model.
type InternalVehicle struct {
	ID             string      `json:"id" yaml:"id"`
	PlateNumber    string      `json:"number" yaml:"number"`
	Manufacturer   string      `json:"manufacturer" yaml:"manufacturer"`
	ModelShortName string      `json:"short_name" yaml:"short_name"`
	ModelID        string      `json:"model_id" yaml:"model_id"`
	Specs          []ModelSpec `json:"specs,omitempty" yaml:"specs,omitempty"`
}

// Year returns the model year from the vehicle's specs.
func (v InternalVehicle) Year() (int, bool) {
	for _, s := range v.Specs {
		if s.Name != SpecYear {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(s.Value))
		if err != nil {
			return 0, false
		}
		return year, true
	}
	return 0, false
}

// RawReservation is a partner reservation in the source's textual date format.
type RawReservation struct {
	From string `json:"FromDateTime" yaml:"FromDateTime"`
	To   string `json:"ToDateTime" yaml:"ToDateTime"`
}

// ForeignRecord is a vehicle record coming from a source other than the fleet API.
type ForeignRecord struct {
	// Source is the provenance label of the record ("takamol", "google docs").
	Source string `json:"source" yaml:"source"`
	// Key is the source's own identifier of the vehicle.
	Key          string            `json:"key" yaml:"key"`
	PlateNumber  string            `json:"plate_number" yaml:"plate_number"`
	VehicleType  string            `json:"vehicle_type" yaml:"vehicle_type"`
	Status       string            `json:"status,omitempty" yaml:"status,omitempty"`
	ModelYear    *int              `json:"model_year,omitempty" yaml:"model_year,omitempty"`
	Reservations []RawReservation  `json:"reservations,omitempty" yaml:"reservations,omitempty"`
	Extra        map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// BookingWindow is an existing booking of an internal vehicle.
type BookingWindow struct {
	VehicleID string    `json:"id_car" yaml:"id_car"`
	Since     time.Time `json:"since" yaml:"since"`
	Until     time.Time `json:"until" yaml:"until"`
	Status    string    `json:"status" yaml:"status"`
}

// Bookings indexes booking windows by vehicle id.
type Bookings map[string][]BookingWindow

// Add appends a booking window under its vehicle id.
func (b Bookings) Add(w BookingWindow) {
	b[w.VehicleID] = append(b[w.VehicleID], w)
}

// For returns the booking windows of a vehicle.
func (b Bookings) For(vehicleID string) []BookingWindow {
	return b[vehicleID]
}
