package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/interval"
	"github.com/agentstation/fleethold/pkg/matching"
	"github.com/agentstation/fleethold/pkg/reconciler"
)

// Artifact names. Files are written as "<name>_<timestamp>.<ext>".
const (
	ArtifactMatched               = "matched"
	ArtifactUnmatched             = "unmatched"
	ArtifactUnused                = "unused_internal"
	ArtifactAmbiguous             = "ambiguous"
	ArtifactSkipped               = "skipped"
	ArtifactReadyToLoad           = "ready_to_load"
	ArtifactAvailableWithBookings = "available_cars_with_bookings"
	ArtifactSummary               = "summary"
	ArtifactModelMissing          = "model_missing"
	ArtifactFleetDuplicates       = "fleet_duplicates"
	ArtifactComplexCases          = "fleet_complex_cases"
	ArtifactForeignDuplicates     = "foreign_duplicates"
	ArtifactHoldResults           = "successfully_records"
	ArtifactRunLog                = "run"
)

// Pattern returns the glob matching every file of an artifact.
func Pattern(artifact, ext string) string {
	return artifact + "_*." + ext
}

// HoldCandidateHeader is the header of ready-to-load tables.
var HoldCandidateHeader = []string{
	"car_id", "number", "source", "key", "vehicle_type", "status",
	"since", "until", "since_display", "until_display", "hold_comment",
}

var outcomeHeader = []string{
	"key", "plate_number", "vehicle_type", "status", "normalized", "core",
	"car_id", "number", "manufacturer", "short_name", "step", "reason",
	"model_year", "reservations",
}

// VehicleHeader is the header of internal vehicle tables.
var VehicleHeader = []string{"id", "number", "manufacturer", "short_name", "model_id", "specs"}

// vehicleAliases maps VehicleHeader columns to the names used by fleet
// exports joined with the model list.
var vehicleAliases = map[string][]string{
	"manufacturer": {"merge_manufacturer"},
	"short_name":   {"merge_short_name"},
	"specs":        {"model_specifications_x", "model_specifications"},
}

func outcomeRows(outcomes []matching.Outcome) [][]string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		row := []string{
			o.Foreign.Key, o.Foreign.PlateNumber, o.Foreign.VehicleType, o.Foreign.Status,
			o.Plate.Normalized, o.Plate.Core,
			"", "", "", "", string(o.Step), string(o.Reason),
			"", fleet.FormatPayload(o.Foreign.Reservations),
		}
		if o.Foreign.ModelYear != nil {
			row[12] = strconv.Itoa(*o.Foreign.ModelYear)
		}
		if o.Internal != nil {
			row[6], row[7], row[8], row[9] = o.Internal.ID, o.Internal.PlateNumber, o.Internal.Manufacturer, o.Internal.ModelShortName
		}
		rows = append(rows, row)
	}
	return rows
}

// VehicleRows renders internal vehicles as table rows.
func VehicleRows(vehicles []fleet.InternalVehicle) [][]string {
	rows := make([][]string, 0, len(vehicles))
	for _, v := range vehicles {
		rows = append(rows, []string{v.ID, v.PlateNumber, v.Manufacturer, v.ModelShortName, v.ModelID, fleet.FormatSpecs(v.Specs)})
	}
	return rows
}

// HoldCandidateRows renders hold candidates as ready-to-load rows.
func HoldCandidateRows(holds []reconciler.HoldCandidate) [][]string {
	rows := make([][]string, 0, len(holds))
	for _, h := range holds {
		rows = append(rows, []string{
			h.VehicleID, h.PlateNumber, h.Foreign.Source, h.Foreign.Key, h.Foreign.VehicleType, h.Foreign.Status,
			strconv.FormatInt(h.Free.Start().Unix(), 10), strconv.FormatInt(h.Free.End().Unix(), 10),
			h.Free.StartDisplay(), h.Free.EndDisplay(), h.Provenance,
		})
	}
	return rows
}

// SaveResult writes every artifact of a reconciliation result and returns
// the written paths by artifact name. Empty side channels are skipped.
func (s *Store) SaveResult(company string, res *reconciler.Result) (map[string]string, error) {
	written := make(map[string]string)
	steps := []struct {
		name string
		skip bool
		fn   func() (string, error)
	}{
		{ArtifactMatched, false, func() (string, error) {
			return s.WriteCSV(company, ArtifactMatched, outcomeHeader, outcomeRows(res.Match.Matched()))
		}},
		{ArtifactUnmatched, false, func() (string, error) {
			return s.WriteCSV(company, ArtifactUnmatched, outcomeHeader, outcomeRows(res.Match.Unmatched()))
		}},
		{ArtifactUnused, false, func() (string, error) {
			return s.WriteCSV(company, ArtifactUnused, VehicleHeader, VehicleRows(res.Match.Remaining))
		}},
		{ArtifactAmbiguous, len(res.Match.Ambiguous()) == 0, func() (string, error) {
			return s.WriteJSON(company, ArtifactAmbiguous, res.Match.Ambiguous())
		}},
		{ArtifactSkipped, len(res.Skipped) == 0, func() (string, error) {
			return s.WriteJSON(company, ArtifactSkipped, res.Skipped)
		}},
		{ArtifactAvailableWithBookings, len(res.AvailableWithBookings) == 0, func() (string, error) {
			return s.WriteCSV(company, ArtifactAvailableWithBookings, outcomeHeader, outcomeRows(res.AvailableWithBookings))
		}},
		{ArtifactReadyToLoad, false, func() (string, error) {
			return s.WriteCSV(company, ArtifactReadyToLoad, HoldCandidateHeader, HoldCandidateRows(res.Holds))
		}},
	}
	for _, step := range steps {
		if step.skip {
			continue
		}
		path, err := step.fn()
		if err != nil {
			return written, err
		}
		written[step.name] = path
	}
	return written, nil
}

// LoadHoldCandidates reads a ready-to-load table. Intervals are rebuilt
// from the Unix columns in loc; display columns are regenerated.
func LoadHoldCandidates(path string, loc *time.Location) ([]reconciler.HoldCandidate, error) {
	header, rows, err := ReadCSV(path)
	if err != nil {
		return nil, err
	}
	get, err := columns(path, header, "car_id", "since", "until")
	if err != nil {
		return nil, err
	}

	holds := make([]reconciler.HoldCandidate, 0, len(rows))
	for n, row := range rows {
		since, err1 := strconv.ParseInt(get(row, "since"), 10, 64)
		until, err2 := strconv.ParseInt(get(row, "until"), 10, 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, &errors.ParseError{Format: "csv", File: path, Message: "row " + strconv.Itoa(n+2) + ": bad timestamp", Err: err}
		}
		free, err := interval.New(time.Unix(since, 0), time.Unix(until, 0), loc)
		if err != nil {
			return nil, &errors.ParseError{Format: "csv", File: path, Message: "row " + strconv.Itoa(n+2) + ": " + err.Error(), Err: err}
		}
		holds = append(holds, reconciler.HoldCandidate{
			VehicleID:   get(row, "car_id"),
			PlateNumber: get(row, "number"),
			Foreign: fleet.ForeignRecord{
				Source:      get(row, "source"),
				Key:         get(row, "key"),
				VehicleType: get(row, "vehicle_type"),
				Status:      get(row, "status"),
			},
			Free:       free,
			Provenance: get(row, "hold_comment"),
		})
	}
	return holds, nil
}

// LoadVehicles reads an internal vehicle table with the VehicleHeader
// columns or their fleet export aliases (merge_manufacturer,
// merge_short_name, model_specifications_x). Only id and number are
// required.
func LoadVehicles(path string) ([]fleet.InternalVehicle, error) {
	header, rows, err := ReadCSV(path)
	if err != nil {
		return nil, err
	}
	get, err := columns(path, header, "id", "number")
	if err != nil {
		return nil, err
	}
	field := func(row []string, name string) string {
		if v := get(row, name); v != "" {
			return v
		}
		for _, alias := range vehicleAliases[name] {
			if v := get(row, alias); v != "" {
				return v
			}
		}
		return ""
	}

	vehicles := make([]fleet.InternalVehicle, 0, len(rows))
	for n, row := range rows {
		v := fleet.InternalVehicle{
			ID:             get(row, "id"),
			PlateNumber:    get(row, "number"),
			Manufacturer:   field(row, "manufacturer"),
			ModelShortName: field(row, "short_name"),
			ModelID:        get(row, "model_id"),
		}
		specs, err := fleet.ParseSpecs(field(row, "specs"))
		if err != nil {
			return nil, &errors.ParseError{Format: "csv", File: path, Message: "row " + strconv.Itoa(n+2) + ": bad specs", Err: err}
		}
		if len(specs) > 0 {
			v.Specs = specs
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, nil
}

// columns indexes header and returns a cell getter by column name.
func columns(path string, header []string, required ...string) (func(row []string, name string) string, error) {
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, errors.NewParseError("csv", path, "missing column "+name, nil)
		}
	}
	return func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}, nil
}
