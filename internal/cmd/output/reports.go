package output

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/fleethold/internal/holds"
	"github.com/agentstation/fleethold/internal/runner"
	"github.com/agentstation/fleethold/internal/store"
	"github.com/agentstation/fleethold/pkg/matching"
)

// Write renders data in format. Table formats use table when it is not
// nil and data itself otherwise.
func Write(w io.Writer, format Format, data any, table func(wide bool) Data) error {
	if format.IsTable() && table != nil {
		return NewFormatter(format).Format(w, table(format == FormatWide))
	}
	return NewFormatter(format).Format(w, data)
}

// RunReports tabulates company runs.
func RunReports(reports []*runner.Report, wide bool) Data {
	headers := []string{"Company", "Source", "Fleet Cars", "Matched", "Unmatched", "Ambiguous", "Holds", "Placed", "Status"}
	if wide {
		headers = append(headers, "Run ID", "Duration", "Duplicates", "Warnings")
	}
	data := Data{
		Headers:         headers,
		ColumnAlignment: []Align{AlignLeft, AlignLeft, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignLeft},
	}
	for _, r := range reports {
		matched, unmatched, ambiguous := "-", "-", "-"
		if r.Match != nil {
			matched = strconv.Itoa(r.Match.Matched)
			unmatched = strconv.Itoa(r.Match.Unmatched)
			ambiguous = strconv.Itoa(r.Match.Ambiguous)
		}
		placed := "-"
		if r.Holds != nil {
			placed = strconv.Itoa(r.Holds.Placed) + "/" + strconv.Itoa(r.Holds.Total)
		}
		status := "ok"
		if r.Err != nil {
			status = "error: " + r.Err.Error()
		}
		row := []string{
			r.Company, r.Source, strconv.Itoa(r.FleetCars),
			matched, unmatched, ambiguous,
			strconv.Itoa(r.HoldCandidates), placed, status,
		}
		if wide {
			row = append(row,
				r.RunID,
				r.Duration.Round(time.Millisecond).String(),
				strconv.Itoa(r.FleetDuplicates+r.ForeignDuplicates),
				strings.Join(r.Warnings, "; "),
			)
		}
		data.Rows = append(data.Rows, row)
	}
	return data
}

// HoldRecords tabulates hold placements.
func HoldRecords(records []holds.Record, wide bool) Data {
	headers := []string{"Car ID", "Number", "Since", "Until", "Status", "Attempts"}
	if wide {
		headers = append(headers, "Error")
	}
	data := Data{Headers: headers}
	for _, rec := range records {
		row := []string{
			rec.VehicleID, rec.PlateNumber,
			rec.Since.Format("2006-01-02 15:04"), rec.Until.Format("2006-01-02 15:04"),
			string(rec.Status), strconv.Itoa(rec.Attempts),
		}
		if wide {
			row = append(row, rec.Error)
		}
		data.Rows = append(data.Rows, row)
	}
	return data
}

// Outcomes tabulates match outcomes.
func Outcomes(outcomes []matching.Outcome, wide bool) Data {
	headers := []string{"Key", "Plate", "Vehicle Type", "Kind", "Car ID", "Number"}
	if wide {
		headers = append(headers, "Normalized", "Core", "Step", "Reason")
	}
	data := Data{Headers: headers}
	for _, o := range outcomes {
		id, number := "", ""
		if o.Internal != nil {
			id, number = o.Internal.ID, o.Internal.PlateNumber
		}
		row := []string{o.Foreign.Key, o.Foreign.PlateNumber, o.Foreign.VehicleType, string(o.Kind), id, number}
		if wide {
			row = append(row, o.Plate.Normalized, o.Plate.Core, string(o.Step), string(o.Reason))
		}
		data.Rows = append(data.Rows, row)
	}
	return data
}

// Artifacts tabulates stored files.
func Artifacts(artifacts []store.Artifact, _ bool) Data {
	data := Data{Headers: []string{"Company", "Path", "Modified"}}
	for _, a := range artifacts {
		data.Rows = append(data.Rows, []string{a.Company, a.Path, a.ModTime.Format("2006-01-02 15:04:05")})
	}
	return data
}
