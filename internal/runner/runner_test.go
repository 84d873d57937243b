package runner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fleethold/internal/config"
	"github.com/agentstation/fleethold/internal/holds"
	"github.com/agentstation/fleethold/internal/sources"
	"github.com/agentstation/fleethold/internal/sources/fleetapi"
	"github.com/agentstation/fleethold/internal/store"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/logging"
)

var (
	dubai = mustLoad("Asia/Dubai")
	now   = time.Date(2024, 10, 1, 12, 0, 0, 0, dubai)
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func clock() time.Time { return now }

func at(day, hour int) time.Time {
	return time.Date(2024, 10, day, hour, 0, 0, 0, dubai)
}

type fakeFleet struct {
	mu         sync.Mutex
	cars       []fleetapi.Car
	models     []fleetapi.Model
	bookings   fleet.Bookings
	listErr    error
	placed     []fleetapi.Hold
	tagNames   []string
	duplicates []string
}

func (f *fakeFleet) ListCars(context.Context) ([]fleetapi.Car, error) {
	return f.cars, f.listErr
}

func (f *fakeFleet) ListModels(context.Context) ([]fleetapi.Model, error) {
	return f.models, nil
}

func (f *fakeFleet) Bookings(context.Context) (fleet.Bookings, error) {
	return f.bookings, nil
}

func (f *fakeFleet) PlaceHold(_ context.Context, tagName string, h fleetapi.Hold) (*fleetapi.TagResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, h)
	f.tagNames = append(f.tagNames, tagName)
	return &fleetapi.TagResponse{}, nil
}

func (f *fakeFleet) TagDuplicate(_ context.Context, carID string) (*fleetapi.TagResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.duplicates = append(f.duplicates, carID)
	return &fleetapi.TagResponse{}, nil
}

func hexaFleet() *fakeFleet {
	bookings := fleet.Bookings{}
	bookings.Add(fleet.BookingWindow{VehicleID: "1", Since: at(3, 0), Until: at(3, 12)})
	bookings.Add(fleet.BookingWindow{VehicleID: "3", Since: at(5, 0), Until: at(6, 0), Status: "rental.status.on_hold.title"})
	return &fakeFleet{
		cars: []fleetapi.Car{
			{ID: "1", Number: "12345B", ModelID: "nis"},
			{ID: "2", Number: "777C", ModelID: "toy"},
			{ID: "3", Number: "777C", ModelID: "toy"},
			{ID: "4", Number: "999Z", ModelID: "unknown"},
		},
		models: []fleetapi.Model{
			{Code: "nis", Manufacturer: "Nissan", ShortName: "Patrol"},
			{Code: "toy", Manufacturer: "Toyota", ShortName: "Camry"},
		},
		bookings: bookings,
	}
}

func hexaRecords() []fleet.ForeignRecord {
	dup := func(key string) fleet.ForeignRecord {
		return fleet.ForeignRecord{
			Source: "takamol", Key: key, PlateNumber: "55 A", VehicleType: "Kia K5",
			Extra: map[string]string{fleet.ExtraModel: "2021"},
		}
	}
	return []fleet.ForeignRecord{
		{
			Source: "takamol", Key: "K-1", PlateNumber: "12345 B", VehicleType: "Nissan Patrol",
			Reservations: []fleet.RawReservation{
				{From: "10/02/2024 10:00:00 AM", To: "10/03/2024 10:00:00 AM"},
				{From: "10/03/2024 09:00:00 AM", To: "10/04/2024 10:00:00 AM"},
			},
		},
		dup("K-2"),
		dup("K-3"),
	}
}

var hexa = config.Company{
	Name:            "HEXA CAR RENTAL",
	FleetToken:      "token",
	TagName:         "hold_hexa",
	PartnerMemberNo: "1",
	TagDuplicates:   true,
}

func newTestRunner(t *testing.T, fleets map[string]Fleet, srcs map[string]sources.Source, opts ...Option) *Runner {
	t.Helper()
	st, err := store.New(t.TempDir(), store.WithClock(clock))
	require.NoError(t, err)

	settings := &config.Settings{TimeZone: "Asia/Dubai", Workers: 2, HoldRetries: 1, PartnerAPIKey: "key"}
	base := []Option{
		WithStore(st),
		WithClock(clock),
		WithFleetFactory(func(c config.Company) Fleet { return fleets[c.Name] }),
		WithSourceFactory(func(c config.Company) (sources.Source, error) {
			if s, ok := srcs[c.Name]; ok {
				return s, nil
			}
			return nil, nil
		}),
	}
	r, err := New(settings, append(base, opts...)...)
	require.NoError(t, err)
	return r
}

func TestRunCompany(t *testing.T) {
	ff := hexaFleet()
	r := newTestRunner(t,
		map[string]Fleet{hexa.Name: ff},
		map[string]sources.Source{hexa.Name: &sources.Static{Label: "takamol", Records: hexaRecords()}},
		WithPlaceHolds(true), WithTagDuplicates(true), WithCompanyLogs(true),
	)
	tl := logging.NewTestLogger(t)
	ctx := tl.Context(context.Background())

	report := r.RunCompany(ctx, hexa)
	require.NoError(t, report.Err)
	tl.AssertContains(t, "Company run finished")

	require.Contains(t, report.Artifacts, store.ArtifactRunLog)
	runLog, err := os.ReadFile(report.Artifacts[store.ArtifactRunLog])
	require.NoError(t, err)
	assert.Contains(t, string(runLog), `"company":"HEXA CAR RENTAL"`)
	assert.Contains(t, string(runLog), `"run_id":"`+report.RunID+`"`)
	assert.Contains(t, string(runLog), "Company run finished")

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "takamol", report.Source)
	assert.Equal(t, 4, report.FleetCars)
	assert.Equal(t, 1, report.ModelMissing)
	assert.Equal(t, 1, report.FleetDuplicates)
	assert.Equal(t, 2, report.InternalVehicles)
	assert.Equal(t, 2, report.ForeignDuplicates)
	require.NotNil(t, report.Match)
	assert.Equal(t, 1, report.Match.Foreign)
	assert.Equal(t, 1, report.Match.Matched)
	assert.Equal(t, 2, report.HoldCandidates)

	require.NotNil(t, report.Holds)
	assert.Equal(t, 2, report.Holds.Placed)
	require.Len(t, ff.placed, 2)
	assert.Equal(t, "1", ff.placed[0].CarID)
	assert.True(t, ff.placed[0].Since.Equal(at(2, 10)))
	assert.True(t, ff.placed[0].Until.Equal(at(3, 0)))
	assert.True(t, ff.placed[1].Since.Equal(at(3, 12)))
	assert.Equal(t, []string{"hold_hexa", "hold_hexa"}, ff.tagNames)

	require.NotNil(t, report.DuplicateTags)
	assert.Equal(t, 1, report.DuplicateTags.Tagged)
	assert.Equal(t, []string{"3"}, ff.duplicates)

	for _, name := range []string{
		store.ArtifactModelMissing, store.ArtifactFleetDuplicates, store.ArtifactForeignDuplicates,
		store.ArtifactMatched, store.ArtifactReadyToLoad, store.ArtifactHoldResults, store.ArtifactSummary,
	} {
		require.Contains(t, report.Artifacts, name)
		assert.FileExists(t, report.Artifacts[name])
	}
	assert.NotContains(t, report.Artifacts, store.ArtifactComplexCases)

	_, rows, err := store.ReadCSV(report.Artifacts[store.ArtifactHoldResults])
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Contains(t, report.Summary(), "2/2 holds placed")
}

func TestRunIsolatesFailures(t *testing.T) {
	broken := config.Company{Name: "BROKEN", FleetToken: "t", PartnerMemberNo: "2"}
	noSource := config.Company{Name: "NO SOURCE", FleetToken: "t"}
	invalid := config.Company{Name: "INVALID"}

	r := newTestRunner(t,
		map[string]Fleet{
			hexa.Name:     hexaFleet(),
			broken.Name:   &fakeFleet{listErr: errors.NewAPIError("fleet", http.StatusBadGateway, "bad gateway")},
			noSource.Name: hexaFleet(),
		},
		map[string]sources.Source{hexa.Name: &sources.Static{Label: "takamol", Records: hexaRecords()}},
	)

	reports := r.Run(context.Background(), []config.Company{hexa, broken, noSource, invalid})
	require.Len(t, reports, 4)

	assert.True(t, reports[0].OK())
	assert.Equal(t, "HEXA CAR RENTAL", reports[0].Company)
	assert.Nil(t, reports[0].Holds, "holds are only placed on request")
	assert.Nil(t, reports[0].DuplicateTags)

	assert.False(t, reports[1].OK())
	assert.True(t, errors.IsProviderUnavailable(reports[1].Err))
	assert.Contains(t, reports[1].Error, "bad gateway")

	assert.True(t, reports[2].OK())
	assert.Contains(t, reports[2].Warnings, "no foreign source configured")
	assert.Nil(t, reports[2].Match)
	assert.Contains(t, reports[2].Artifacts, store.ArtifactSummary)

	assert.False(t, reports[3].OK())
	assert.True(t, errors.IsValidationError(reports[3].Err))
}

func TestRunSheetCompanyHoldsUnlisted(t *testing.T) {
	sheetCo := config.Company{
		Name:        "SHEET CO",
		FleetToken:  "t",
		TagName:     "hold_sheet",
		Spreadsheet: config.Spreadsheet{Path: "unused.csv"},
	}
	records := []fleet.ForeignRecord{
		{Source: "google docs", Key: "12345 B", PlateNumber: "12345 B", VehicleType: "Nissan Patrol", Status: "available"},
	}
	r := newTestRunner(t,
		map[string]Fleet{sheetCo.Name: hexaFleet()},
		map[string]sources.Source{sheetCo.Name: &sources.Static{Label: "google docs", Records: records}},
	)

	report := r.RunCompany(context.Background(), sheetCo)
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Match.Matched)
	assert.Equal(t, 1, report.HoldCandidates, "the unlisted Toyota is held")

	off := false
	sheetCo.HoldUnlisted = &off
	report = r.RunCompany(context.Background(), sheetCo)
	require.NoError(t, report.Err)
	assert.Equal(t, 0, report.HoldCandidates)
}

func TestRunCompanyTimeout(t *testing.T) {
	slow := &blockingSource{}
	r := newTestRunner(t,
		map[string]Fleet{hexa.Name: hexaFleet()},
		map[string]sources.Source{hexa.Name: slow},
		WithTimeout(20*time.Millisecond),
	)
	report := r.RunCompany(context.Background(), hexa)
	assert.ErrorIs(t, report.Err, context.DeadlineExceeded)
}

type blockingSource struct{}

func (blockingSource) ID() string { return "takamol" }

func (blockingSource) Fetch(ctx context.Context) ([]fleet.ForeignRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPlaceLatest(t *testing.T) {
	ff := hexaFleet()
	r := newTestRunner(t,
		map[string]Fleet{hexa.Name: ff},
		map[string]sources.Source{hexa.Name: &sources.Static{Label: "takamol", Records: hexaRecords()}},
	)
	ctx := context.Background()

	_, err := r.PlaceLatest(ctx, hexa, "")
	assert.True(t, errors.IsNotFound(err))

	run := r.RunCompany(ctx, hexa)
	require.NoError(t, run.Err)
	require.Empty(t, ff.placed)

	first, err := r.PlaceLatest(ctx, hexa, "")
	require.NoError(t, err)
	assert.Equal(t, run.Artifacts[store.ArtifactReadyToLoad], first.Artifacts[store.ArtifactReadyToLoad])
	assert.Equal(t, 2, first.Holds.Placed)
	assert.Len(t, ff.placed, 2)
	assert.Equal(t, "takamol\nNissan Patrol (K-1) with number 12345B\nhold: from 10/02/2024 10:00:00 AM to 10/03/2024 12:00:00 AM (1727848800, 1727899200)", ff.placed[0].Comment)

	second, err := r.PlaceLatest(ctx, hexa, first.Artifacts[store.ArtifactReadyToLoad])
	require.NoError(t, err)
	assert.Equal(t, 2, second.Holds.Recorded)
	assert.Len(t, ff.placed, 2)

	noTag := hexa
	noTag.TagName = ""
	_, err = r.PlaceLatest(ctx, noTag, "")
	assert.True(t, errors.IsValidationError(err))
}

func TestDefaultFactoriesAgainstFleetAPI(t *testing.T) {
	var (
		mu     sync.Mutex
		tagged []map[string]any
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/leasing/car/list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sheet-token", r.Header.Get("Authorization"))
		if r.URL.Query().Get("page_number") != "1" {
			_, _ = io.WriteString(w, `{"cars":[]}`)
			return
		}
		_, _ = io.WriteString(w, `{"cars":[{"id":"1","number":"12345B","model_id":"nis"},{"id":"2","number":"777C","model_id":"nis"}]}`)
	})
	mux.HandleFunc("/api/leasing/models/list", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"models":[{"code":"nis","manufacturer":"Nissan","short_name":"Patrol"}]}`)
	})
	mux.HandleFunc("/api/leasing/rental/timetable", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"offers_timetable":{}}`)
	})
	mux.HandleFunc("/api/leasing/car/tag/add", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hold_sheet", r.URL.Query().Get("tag_name"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		tagged = append(tagged, body)
		mu.Unlock()
		_, _ = io.WriteString(w, `{"tagged_objects":[{"car_id":"1"}]}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "sheet.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Plate No,Vehicle Type,Status\n12345 B,Nissan Patrol,rented\n777 C,Nissan Patrol,available\n"), 0o600))

	st, err := store.New(filepath.Join(dir, "data"), store.WithClock(clock))
	require.NoError(t, err)
	settings := &config.Settings{FleetAPIURL: server.URL, TimeZone: "Asia/Dubai", HoldRetries: 1}
	r, err := New(settings, WithStore(st), WithClock(clock), WithPlaceHolds(true))
	require.NoError(t, err)

	company := config.Company{
		Name:        "SHEET CO",
		FleetToken:  "sheet-token",
		TagName:     "hold_sheet",
		Spreadsheet: config.Spreadsheet{Path: csvPath},
	}
	report := r.RunCompany(context.Background(), company)
	require.NoError(t, report.Err)

	assert.Equal(t, "google docs", report.Source)
	assert.Equal(t, 2, report.Match.Matched)
	assert.Equal(t, 1, report.HoldCandidates)
	require.NotNil(t, report.Holds)
	assert.Equal(t, holds.StatusPlaced, report.Holds.Records[0].Status)

	require.Len(t, tagged, 1)
	assert.Equal(t, "1", tagged[0]["car_id"])
	assert.EqualValues(t, now.Unix()*1_000_000, tagged[0]["since"])
	assert.EqualValues(t, now.Add(24*time.Hour).Unix()*1_000_000, tagged[0]["until"])
	assert.Contains(t, tagged[0]["hold_comment"], "hold (rented)")
}
