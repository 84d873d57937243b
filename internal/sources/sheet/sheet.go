// Package sheet loads vehicle status rows from a spreadsheet CSV export,
// either a local file or a published export URL.
package sheet

import (
	"context"
	"encoding/csv"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/agentstation/fleethold/internal/transport"
	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/logging"
)

// Column headers of the export.
const (
	ColumnPlate       = "Plate No"
	ColumnVehicleType = "Vehicle Type"
	ColumnStatus      = "Status"
	// ColumnModel is optional and carries the model year when present.
	ColumnModel = "Model"
)

// Sheet is a spreadsheet source. Exactly one of Path or URL is used, Path
// taking precedence.
type Sheet struct {
	Path string
	URL  string

	opts []transport.Option
}

// New creates a sheet source. Transport options apply to URL downloads.
func New(path, rawURL string, opts ...transport.Option) *Sheet {
	return &Sheet{Path: path, URL: rawURL, opts: opts}
}

// ID implements sources.Source.
func (s *Sheet) ID() string { return constants.SourceSheet }

// Fetch implements sources.Source.
func (s *Sheet) Fetch(ctx context.Context) ([]fleet.ForeignRecord, error) {
	switch {
	case s.Path != "":
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, errors.WrapIO("open", s.Path, err)
		}
		defer func() { _ = f.Close() }()
		return Parse(f, s.Path)
	case s.URL != "":
		return s.download(ctx)
	default:
		return nil, &errors.ConfigError{Component: "spreadsheet", Message: "neither path nor url configured"}
	}
}

func (s *Sheet) download(ctx context.Context) ([]fleet.ForeignRecord, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, &errors.ConfigError{Component: "spreadsheet", Message: "invalid url", Err: err}
	}
	base := u.Scheme + "://" + u.Host
	client := transport.New(constants.SourceSheet, base, nil, "", s.opts...)

	resp, err := client.Get(ctx, u.Path, u.Query())
	if err != nil {
		return nil, errors.WrapResource("fetch", "spreadsheet", s.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewAPIError(constants.SourceSheet, resp.StatusCode, resp.Status)
	}

	records, err := Parse(resp.Body, s.URL)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info().Int("rows", len(records)).Msg("Downloaded spreadsheet")
	return records, nil
}

// Parse reads a CSV export. Header names are matched case-insensitively;
// rows with an empty plate are skipped.
func Parse(r io.Reader, name string) ([]fleet.ForeignRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewParseError("csv", name, "read header", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))] = i
	}
	plateCol, ok := index[strings.ToLower(ColumnPlate)]
	if !ok {
		return nil, errors.NewParseError("csv", name, "missing column "+ColumnPlate, nil)
	}
	typeCol, hasType := index[strings.ToLower(ColumnVehicleType)]
	statusCol, hasStatus := index[strings.ToLower(ColumnStatus)]
	modelCol, hasModel := index[strings.ToLower(ColumnModel)]

	var records []fleet.ForeignRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewParseError("csv", name, "read row", err)
		}
		plate := cell(row, plateCol, true)
		if plate == "" {
			continue
		}
		rec := fleet.ForeignRecord{
			Source:      constants.SourceSheet,
			Key:         plate,
			PlateNumber: plate,
			VehicleType: cell(row, typeCol, hasType),
			Status:      cell(row, statusCol, hasStatus),
		}
		if model := cell(row, modelCol, hasModel); model != "" {
			rec.ModelYear = fleet.ParseModelYear(model)
			rec.Extra = map[string]string{fleet.ExtraModel: model}
		}
		records = append(records, rec)
	}
	return records, nil
}

func cell(row []string, i int, ok bool) string {
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
