// Package dedupe removes duplicate vehicle records before matching.
//
// The fleet API sometimes lists one physical car several times under the
// same model and plate. Foreign sources repeat rows too. Neither case may
// reach the matcher, which assumes one record per vehicle.
package dedupe

import (
	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/fleet"
)

// FleetResult is the outcome of fleet deduplication.
type FleetResult struct {
	// Kept holds one car per (model id, plate), in input order.
	Kept []fleet.InternalVehicle `json:"kept" yaml:"kept"`
	// Duplicates are the extra records that should be tagged and ignored.
	Duplicates []fleet.InternalVehicle `json:"duplicates" yaml:"duplicates"`
	// Complex holds groups in which more than one record has bookings.
	// They need a manual decision and are left out of Kept.
	Complex [][]fleet.InternalVehicle `json:"complex" yaml:"complex"`
}

type fleetKey struct {
	modelID string
	number  string
}

// Fleet deduplicates cars sharing a model id and plate number. Within a
// group the only car with bookings is kept. With no booked car the first
// record is kept. Bookings with the on-hold status are ignored, since they
// are the holds this tool places itself.
func Fleet(vehicles []fleet.InternalVehicle, bookings fleet.Bookings) FleetResult {
	groups := make(map[fleetKey][]int)
	var order []fleetKey
	for i, v := range vehicles {
		k := fleetKey{modelID: v.ModelID, number: v.PlateNumber}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	keep := make([]bool, len(vehicles))
	var result FleetResult
	for _, k := range order {
		idx := groups[k]
		if len(idx) == 1 {
			keep[idx[0]] = true
			continue
		}

		var booked, rest []int
		for _, i := range idx {
			if hasBookings(bookings, vehicles[i].ID) {
				booked = append(booked, i)
			} else {
				rest = append(rest, i)
			}
		}

		switch len(booked) {
		case 0:
			keep[idx[0]] = true
			rest = idx[1:]
		case 1:
			keep[booked[0]] = true
		default:
			group := make([]fleet.InternalVehicle, 0, len(booked))
			for _, i := range booked {
				group = append(group, vehicles[i])
			}
			result.Complex = append(result.Complex, group)
		}
		for _, i := range rest {
			result.Duplicates = append(result.Duplicates, vehicles[i])
		}
	}

	result.Kept = make([]fleet.InternalVehicle, 0, len(vehicles))
	for i, v := range vehicles {
		if keep[i] {
			result.Kept = append(result.Kept, v)
		}
	}
	return result
}

func hasBookings(bookings fleet.Bookings, id string) bool {
	for _, w := range bookings.For(id) {
		if w.Status != constants.OnHoldStatus {
			return true
		}
	}
	return false
}

// ForeignResult is the outcome of foreign record deduplication.
type ForeignResult struct {
	Unique     []fleet.ForeignRecord `json:"unique" yaml:"unique"`
	Duplicates []fleet.ForeignRecord `json:"duplicates" yaml:"duplicates"`
}

type foreignKey struct {
	vehicleType string
	plate       string
	model       string
}

// Foreign sets aside every record whose vehicle type, plate number and
// raw model (Extra[fleet.ExtraModel]) repeat within the input. No record
// of a repeated group is kept.
func Foreign(records []fleet.ForeignRecord) ForeignResult {
	counts := make(map[foreignKey]int, len(records))
	for _, r := range records {
		counts[keyOf(r)]++
	}

	var result ForeignResult
	for _, r := range records {
		if counts[keyOf(r)] > 1 {
			result.Duplicates = append(result.Duplicates, r)
			continue
		}
		result.Unique = append(result.Unique, r)
	}
	return result
}

func keyOf(r fleet.ForeignRecord) foreignKey {
	return foreignKey{vehicleType: r.VehicleType, plate: r.PlateNumber, model: r.Extra[fleet.ExtraModel]}
}
