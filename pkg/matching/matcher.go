// Package matching pairs foreign vehicle records with internal fleet
// vehicles using normalized plates, then narrows ambiguous candidates by
// manufacturer and model year.
package matching

import (
	"strings"

	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/normalize"
)

// Matcher pairs foreign records with internal vehicles.
type Matcher struct {
	opts *options
}

// New returns a Matcher configured by opts.
func New(opts ...Option) (*Matcher, error) {
	o, err := defaultOptions().apply(opts...)
	if err != nil {
		return nil, err
	}
	return &Matcher{opts: o}, nil
}

// Rule returns the configured candidate rule.
func (m *Matcher) Rule() Rule { return m.opts.rule }

// Match is a convenience wrapper around New and Matcher.Match.
func Match(foreign []fleet.ForeignRecord, pool []fleet.InternalVehicle, opts ...Option) (*Result, error) {
	m, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return m.Match(foreign, pool), nil
}

// entry is an internal vehicle with its normalized fields.
type entry struct {
	index        int
	vehicle      fleet.InternalVehicle
	plate        string
	manufacturer string
}

// Match processes foreign records in order. A matched vehicle is removed
// from the pool before the next record is considered, so the first record
// to claim a vehicle keeps it. The pool slice is not modified.
func (m *Matcher) Match(foreign []fleet.ForeignRecord, pool []fleet.InternalVehicle) *Result {
	entries := make([]entry, len(pool))
	for i, v := range pool {
		entries[i] = entry{
			index:        i,
			vehicle:      v,
			plate:        normalize.Normalize(v.PlateNumber),
			manufacturer: normalize.Normalize(v.Manufacturer),
		}
	}
	used := make([]bool, len(entries))

	res := &Result{Outcomes: make([]Outcome, 0, len(foreign))}
	for _, rec := range foreign {
		out, idx := m.matchOne(rec, entries, used)
		if idx >= 0 {
			used[idx] = true
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	for i, e := range entries {
		if !used[i] {
			res.Remaining = append(res.Remaining, e.vehicle)
		}
	}
	return res
}

// matchOne returns the outcome for rec and, when matched, the pool index
// of the consumed vehicle.
func (m *Matcher) matchOne(rec fleet.ForeignRecord, entries []entry, used []bool) (Outcome, int) {
	plate := normalize.Decompose(rec.PlateNumber)
	out := Outcome{Foreign: rec, Plate: plate}

	if !plate.HasCore() {
		return unmatched(out, ReasonNoPlateStructure), -1
	}
	if m.opts.rule == RulePlateParts && !plate.Complete() {
		return unmatched(out, ReasonInvalidPlate), -1
	}

	var candidates []entry
	for i, e := range entries {
		if !used[i] && m.accepts(plate, e.plate) {
			candidates = append(candidates, e)
		}
	}

	switch len(candidates) {
	case 0:
		return unmatched(out, ReasonNoCandidate), -1
	case 1:
		return matched(out, candidates[0], StepPlate), candidates[0].index
	}

	vehicleType := normalize.Normalize(rec.VehicleType)
	var byManufacturer []entry
	for _, c := range candidates {
		if c.manufacturer != "" && strings.Contains(vehicleType, c.manufacturer) {
			byManufacturer = append(byManufacturer, c)
		}
	}
	if len(byManufacturer) == 1 {
		return matched(out, byManufacturer[0], StepManufacturer), byManufacturer[0].index
	}

	if m.opts.yearNarrowing && rec.ModelYear != nil && *rec.ModelYear >= 1000 && *rec.ModelYear <= 9999 {
		base := byManufacturer
		if len(base) == 0 {
			base = candidates
		}
		var byYear []entry
		for _, c := range base {
			if year, ok := c.vehicle.Year(); ok && year == *rec.ModelYear {
				byYear = append(byYear, c)
			}
		}
		if len(byYear) == 1 {
			return matched(out, byYear[0], StepYear), byYear[0].index
		}
	}

	out.Kind = KindAmbiguous
	out.Candidates = make([]fleet.InternalVehicle, len(candidates))
	for i, c := range candidates {
		out.Candidates[i] = c.vehicle
	}
	return out, -1
}

func (m *Matcher) accepts(plate normalize.Plate, internal string) bool {
	if internal == "" {
		return false
	}
	switch m.opts.rule {
	case RuleCoreSubstring:
		return strings.Contains(internal, plate.Core)
	default:
		return strings.Contains(internal, plate.Number) && strings.Contains(internal, plate.Letter)
	}
}

func matched(out Outcome, e entry, step Step) Outcome {
	v := e.vehicle
	out.Kind = KindMatched
	out.Internal = &v
	out.Step = step
	return out
}

func unmatched(out Outcome, reason Reason) Outcome {
	out.Kind = KindUnmatched
	out.Reason = reason
	return out
}
