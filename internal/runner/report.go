package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentstation/fleethold/internal/holds"
	"github.com/agentstation/fleethold/pkg/reconciler"
)

// Report describes one company run.
type Report struct {
	RunID    string        `json:"run_id" yaml:"run_id"`
	Company  string        `json:"company" yaml:"company"`
	Source   string        `json:"source,omitempty" yaml:"source,omitempty"`
	Started  time.Time     `json:"started" yaml:"started"`
	Duration time.Duration `json:"duration" yaml:"duration"`

	FleetCars         int `json:"fleet_cars" yaml:"fleet_cars"`
	ModelMissing      int `json:"model_missing" yaml:"model_missing"`
	FleetDuplicates   int `json:"fleet_duplicates" yaml:"fleet_duplicates"`
	ComplexCases      int `json:"complex_cases" yaml:"complex_cases"`
	InternalVehicles  int `json:"internal_vehicles" yaml:"internal_vehicles"`
	ForeignDuplicates int `json:"foreign_duplicates" yaml:"foreign_duplicates"`

	Match          *reconciler.Stats `json:"match,omitempty" yaml:"match,omitempty"`
	HoldCandidates int               `json:"hold_candidates" yaml:"hold_candidates"`

	Holds         *holds.Report          `json:"holds,omitempty" yaml:"holds,omitempty"`
	DuplicateTags *holds.DuplicateReport `json:"duplicate_tags,omitempty" yaml:"duplicate_tags,omitempty"`

	Artifacts map[string]string `json:"artifacts" yaml:"artifacts"`
	Warnings  []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	Err   error  `json:"-" yaml:"-"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newReport(runID, company string, now time.Time) *Report {
	return &Report{
		RunID:     runID,
		Company:   company,
		Started:   now,
		Artifacts: map[string]string{},
	}
}

func (r *Report) addResult(res *reconciler.Result) {
	stats := res.Stats()
	r.Match = &stats
	r.HoldCandidates = len(res.Holds)
	r.Warnings = append(r.Warnings, res.Warnings...)
}

func (r *Report) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *Report) fail(err error) {
	if err == nil {
		return
	}
	r.Err = err
	r.Error = err.Error()
}

func (r *Report) finish(now time.Time) {
	r.Duration = now.Sub(r.Started)
}

// OK reports whether the run finished without error.
func (r *Report) OK() bool { return r.Err == nil }

// Summary returns a one-line description of the run.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d fleet cars", r.Company, r.FleetCars)
	if r.Match != nil {
		fmt.Fprintf(&b, ", %d matched, %d unmatched, %d ambiguous, %d hold candidates",
			r.Match.Matched, r.Match.Unmatched, r.Match.Ambiguous, r.HoldCandidates)
	}
	if r.Holds != nil {
		fmt.Fprintf(&b, ", %d/%d holds placed (%d already held, %d failed)",
			r.Holds.Placed, r.Holds.Total, r.Holds.AlreadyHeld, r.Holds.Failed)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, ", error: %v", r.Err)
	}
	return b.String()
}
