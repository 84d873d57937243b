package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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

	"github.com/agentstation/fleethold/pkg/errors"
)

type fleetServer struct {
	*httptest.Server
	mu     sync.Mutex
	tagged []map[string]any
}

func newFleetServer(t *testing.T) *fleetServer {
	t.Helper()
	fs := &fleetServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/leasing/car/list", func(w http.ResponseWriter, r *http.Request) {
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
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		fs.mu.Lock()
		fs.tagged = append(fs.tagged, body)
		fs.mu.Unlock()
		_, _ = io.WriteString(w, `{"tagged_objects":[{}]}`)
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fleetServer) tags() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.tagged)
}

type testApp struct {
	*App
	dir    string
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestApp(t *testing.T, fleetURL string) *testApp {
	t.Helper()
	dir := t.TempDir()
	sheetPath := filepath.Join(dir, "sheet.csv")
	require.NoError(t, os.WriteFile(sheetPath, []byte("Plate No,Vehicle Type,Status\n12345 B,Nissan Patrol,rented\n777 C,Nissan Patrol,available\n"), 0o600))

	configPath := filepath.Join(dir, "fleethold.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`
fleet_api_url: %s
timezone: Asia/Dubai
data_dir: data
hold_retry_delay: 0s
requests_per_second: 0
companies:
  sheet co:
    name: SHEET CO
    fleet_token: sheet-token
    tag_name: hold_sheet
    spreadsheet:
      path: %s
  other:
    name: OTHER RENTAL
    fleet_token: other-token
    partner_member_no: "42"
`, fleetURL, sheetPath)), 0o600))

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	app, err := New("1.2.3", "abc123", "2024-10-01", "test",
		WithConfig(&Config{ConfigFile: configPath, LogLevel: "error", LogFormat: "json", LogOutput: "stderr", NoColor: true}),
		WithOutput(stdout, stderr),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return &testApp{App: app, dir: dir, stdout: stdout, stderr: stderr}
}

func (ta *testApp) run(args ...string) error {
	ta.stdout.Reset()
	ta.stderr.Reset()
	return ta.Execute(context.Background(), args)
}

func TestVersionCommand(t *testing.T) {
	ta := newTestApp(t, "http://127.0.0.1:1")
	require.NoError(t, ta.run("version"))
	assert.Equal(t, "fleethold 1.2.3\n", ta.stdout.String())

	require.NoError(t, ta.run("version", "-v"))
	assert.Contains(t, ta.stdout.String(), "commit:   abc123")
}

func TestCompaniesCommand(t *testing.T) {
	ta := newTestApp(t, "http://127.0.0.1:1")
	require.NoError(t, ta.run("companies", "-o", "json"))

	var rows []companyRow
	require.NoError(t, json.Unmarshal(ta.stdout.Bytes(), &rows))
	require.Len(t, rows, 2)
	other := rows[0]
	assert.Equal(t, "OTHER RENTAL", other.Name)
	assert.Equal(t, "partner", other.Source)
	assert.Equal(t, "plate-parts", other.MatchRule)
	assert.Equal(t, "reservations", other.HoldMode)
	assert.True(t, other.Dedupe)
	assert.Contains(t, other.Problem, "partner_api_key")

	assert.Equal(t, companyRow{
		Name: "SHEET CO", Source: "sheet", MatchRule: "core-substring", HoldMode: "status",
		TagName: "hold_sheet", Dedupe: true,
	}, rows[1])
}

func TestRunAndHoldsCommands(t *testing.T) {
	fleet := newFleetServer(t)
	ta := newTestApp(t, fleet.URL)

	require.NoError(t, ta.run("run", "sheet*", "--place-holds", "-o", "json"))

	var reports []map[string]any
	require.NoError(t, json.Unmarshal(ta.stdout.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "SHEET CO", reports[0]["company"])
	assert.Equal(t, "google docs", reports[0]["source"])
	assert.EqualValues(t, 1, reports[0]["hold_candidates"])
	assert.EqualValues(t, 1, reports[0]["holds"].(map[string]any)["placed"])
	assert.Equal(t, 1, fleet.tags())
	assert.Contains(t, ta.stderr.String(), "✓ SHEET CO")

	matches, err := filepath.Glob(filepath.Join(ta.dir, "data", "SHEET CO", "ready_to_load_*.csv"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	require.NoError(t, ta.run("holds", "sheet co", "-o", "json"))
	var placed map[string]any
	require.NoError(t, json.Unmarshal(ta.stdout.Bytes(), &placed))
	assert.EqualValues(t, 1, placed["recorded"])
	assert.EqualValues(t, 0, placed["placed"])
	assert.Equal(t, 1, fleet.tags(), "the ledger skips holds already placed")

	require.NoError(t, ta.run("artifacts", "SHEET CO", "--pattern", "ready_to_load_*", "-o", "json"))
	assert.Contains(t, ta.stdout.String(), "ready_to_load_")
}

func TestRunCommandErrors(t *testing.T) {
	ta := newTestApp(t, "http://127.0.0.1:1")

	err := ta.run("run", "nobody*")
	assert.True(t, errors.IsNotFound(err))

	err = ta.run("run", "-o", "xml")
	assert.True(t, errors.IsValidationError(err))
}

func TestRunCommandIsolatesInvalidCompanies(t *testing.T) {
	fleet := newFleetServer(t)
	ta := newTestApp(t, fleet.URL)

	// OTHER RENTAL is a partner company but no partner_api_key is set.
	err := ta.run("run", "-o", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 companies failed")

	var reports []map[string]any
	require.NoError(t, json.Unmarshal(ta.stdout.Bytes(), &reports))
	require.Len(t, reports, 2)
	byName := map[string]map[string]any{}
	for _, r := range reports {
		byName[r["company"].(string)] = r
	}
	assert.Contains(t, byName["OTHER RENTAL"]["error"], "partner_api_key")
	assert.Nil(t, byName["SHEET CO"]["error"])
	assert.EqualValues(t, 1, byName["SHEET CO"]["hold_candidates"])
	assert.Contains(t, ta.stderr.String(), "✗ OTHER RENTAL")
	assert.Contains(t, ta.stderr.String(), "✓ SHEET CO")
}

func TestRunCommandReportsFailedCompanies(t *testing.T) {
	// Every fleet endpoint answers 404, which is not retried.
	fleet := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(fleet.Close)
	t.Setenv("PARTNER_API_KEY", "key")
	ta := newTestApp(t, fleet.URL)

	err := ta.run("run", "-o", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 companies failed")

	var reports []map[string]any
	require.NoError(t, json.Unmarshal(ta.stdout.Bytes(), &reports))
	assert.Len(t, reports, 2)
	assert.Contains(t, ta.stderr.String(), "✗ OTHER RENTAL")
}

func TestMatchCommand(t *testing.T) {
	ta := newTestApp(t, "http://127.0.0.1:1")
	dir := t.TempDir()
	internal := filepath.Join(dir, "internal.csv")
	foreign := filepath.Join(dir, "foreign.csv")
	require.NoError(t, os.WriteFile(internal, []byte("id,number,manufacturer,short_name,model_id\n1,12345B,Nissan,Patrol,nis\n2,777C,Toyota,Camry,toy\n"), 0o600))
	require.NoError(t, os.WriteFile(foreign, []byte("Plate No,Vehicle Type\n12345 B,Nissan Patrol\n999 Z,Kia K5\n"), 0o600))

	require.NoError(t, ta.run("match", "--internal", internal, "--foreign", foreign, "-o", "json"))
	var outcomes []map[string]any
	require.NoError(t, json.Unmarshal(ta.stdout.Bytes(), &outcomes))
	require.Len(t, outcomes, 2)
	assert.Equal(t, "matched", outcomes[0]["kind"])
	assert.Equal(t, "1", outcomes[0]["internal"].(map[string]any)["id"])
	assert.Equal(t, "unmatched", outcomes[1]["kind"])
	assert.Contains(t, ta.stderr.String(), "2 foreign, 1 matched, 1 unmatched")

	require.NoError(t, ta.run("match", "--internal", internal, "--foreign", foreign, "--only", "unmatched", "-o", "json"))
	require.NoError(t, json.Unmarshal(ta.stdout.Bytes(), &outcomes))
	assert.Len(t, outcomes, 1)

	err := ta.run("match", "--internal", internal, "--foreign", foreign, "--rule", "fuzzy")
	assert.True(t, errors.IsValidationError(err))

	assert.Error(t, ta.run("match", "--internal", internal))
}

func TestMatchCommandYearNarrowing(t *testing.T) {
	ta := newTestApp(t, "http://127.0.0.1:1")
	dir := t.TempDir()
	internal := filepath.Join(dir, "internal.csv")
	foreign := filepath.Join(dir, "foreign.csv")
	require.NoError(t, os.WriteFile(internal, []byte(
		"id,number,merge_manufacturer,merge_short_name,model_specifications_x\n"+
			"1,12345B,Nissan,Patrol,\"[{'name': 'Year', 'value': '2021'}]\"\n"+
			"2,12345B,Nissan,Patrol,\"[{'name': 'Year', 'value': '2022'}]\"\n"), 0o600))
	require.NoError(t, os.WriteFile(foreign, []byte("Plate No,Vehicle Type,Model\n12345 B,Nissan Patrol,2022\n"), 0o600))

	require.NoError(t, ta.run("match", "--internal", internal, "--foreign", foreign, "-o", "json"))
	var outcomes []map[string]any
	require.NoError(t, json.Unmarshal(ta.stdout.Bytes(), &outcomes))
	require.Len(t, outcomes, 1)
	assert.Equal(t, "ambiguous", outcomes[0]["kind"])

	require.NoError(t, ta.run("match", "--internal", internal, "--foreign", foreign, "--year-narrowing", "-o", "json"))
	require.NoError(t, json.Unmarshal(ta.stdout.Bytes(), &outcomes))
	require.Len(t, outcomes, 1)
	assert.Equal(t, "matched", outcomes[0]["kind"])
	assert.Equal(t, "2", outcomes[0]["internal"].(map[string]any)["id"])
}

func TestPruneCommand(t *testing.T) {
	ta := newTestApp(t, "http://127.0.0.1:1")
	companyDir := filepath.Join(ta.dir, "data", "SHEET CO")
	require.NoError(t, os.MkdirAll(companyDir, 0o755))
	old := filepath.Join(companyDir, "matched_2024-01-01_00-00-00.csv")
	fresh := filepath.Join(companyDir, "matched_2024-10-01_00-00-00.csv")
	require.NoError(t, os.WriteFile(old, []byte("a\n"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("a\n"), 0o600))
	stale := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))

	require.NoError(t, ta.run("prune", "--older-than", "168h"))
	assert.Equal(t, old+"\n", ta.stdout.String())
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}
