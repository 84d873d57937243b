// Package runner reconciles companies end to end: it fetches the fleet and
// the company's foreign source, removes duplicates, computes hold
// candidates, stores the artifacts and optionally places the holds.
//
// Companies run concurrently on a bounded pool. A failing company never
// affects the others; its error is carried in its Report.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/fleethold/internal/config"
	"github.com/agentstation/fleethold/internal/dedupe"
	"github.com/agentstation/fleethold/internal/holds"
	"github.com/agentstation/fleethold/internal/ledger"
	"github.com/agentstation/fleethold/internal/sources"
	"github.com/agentstation/fleethold/internal/sources/fleetapi"
	"github.com/agentstation/fleethold/internal/sources/partner"
	"github.com/agentstation/fleethold/internal/sources/sheet"
	"github.com/agentstation/fleethold/internal/store"
	"github.com/agentstation/fleethold/internal/transport"
	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/logging"
	"github.com/agentstation/fleethold/pkg/matching"
	"github.com/agentstation/fleethold/pkg/reconciler"
)

// Fleet is the part of the fleet API a run uses.
type Fleet interface {
	ListCars(ctx context.Context) ([]fleetapi.Car, error)
	ListModels(ctx context.Context) ([]fleetapi.Model, error)
	Bookings(ctx context.Context) (fleet.Bookings, error)
	holds.Placer
	holds.Tagger
}

// FleetFactory builds the fleet client of a company.
type FleetFactory func(c config.Company) Fleet

// SourceFactory builds the foreign source of a company. A nil source
// means the company has none configured.
type SourceFactory func(c config.Company) (sources.Source, error)

// Runner reconciles companies.
type Runner struct {
	settings      *config.Settings
	store         *store.Store
	ledger        ledger.Ledger
	location      *time.Location
	clock         func() time.Time
	newFleet      FleetFactory
	newSource     SourceFactory
	workers       int
	timeout       time.Duration
	placeHolds    bool
	tagDuplicates bool
	companyLogs   bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore sets the artifact store.
func WithStore(s *store.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithLedger sets the ledger of placed holds.
func WithLedger(l ledger.Ledger) Option {
	return func(r *Runner) { r.ledger = l }
}

// WithClock sets the source of "now".
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithFleetFactory replaces how fleet clients are built.
func WithFleetFactory(f FleetFactory) Option {
	return func(r *Runner) { r.newFleet = f }
}

// WithSourceFactory replaces how foreign sources are built.
func WithSourceFactory(f SourceFactory) Option {
	return func(r *Runner) { r.newSource = f }
}

// WithWorkers sets how many companies run concurrently.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithTimeout bounds each company run.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithPlaceHolds places the computed holds after a run.
func WithPlaceHolds(enabled bool) Option {
	return func(r *Runner) { r.placeHolds = enabled }
}

// WithCompanyLogs copies each company's log events into a run log file in
// its artifact directory.
func WithCompanyLogs(enabled bool) Option {
	return func(r *Runner) { r.companyLogs = enabled }
}

// WithTagDuplicates tags fleet duplicates of companies that opt in.
func WithTagDuplicates(enabled bool) Option {
	return func(r *Runner) { r.tagDuplicates = enabled }
}

// New creates a runner for settings.
func New(settings *config.Settings, opts ...Option) (*Runner, error) {
	loc, err := settings.Location()
	if err != nil {
		return nil, err
	}
	r := &Runner{
		settings: settings,
		location: loc,
		clock:    time.Now,
		workers:  settings.Workers,
		timeout:  constants.CompanyRunTimeout,

		companyLogs: settings.CompanyLogs,
	}
	r.newFleet = r.defaultFleet
	r.newSource = r.defaultSource
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = constants.DefaultWorkers
	}
	if r.store == nil {
		if r.store, err = store.New(settings.DataDir); err != nil {
			return nil, err
		}
	}
	if r.ledger == nil {
		r.ledger = ledger.NewMemory()
	}
	return r, nil
}

// Store returns the artifact store.
func (r *Runner) Store() *store.Store { return r.store }

// Location returns the zone reservations are read in.
func (r *Runner) Location() *time.Location { return r.location }

func (r *Runner) transportOptions() []transport.Option {
	return []transport.Option{
		transport.WithRateLimit(r.settings.RequestsPerSecond, constants.BurstSize),
	}
}

func (r *Runner) defaultFleet(c config.Company) Fleet {
	return fleetapi.NewClient(r.settings.FleetAPIURL, c.FleetToken, r.transportOptions()...).WithClock(r.clock)
}

func (r *Runner) defaultSource(c config.Company) (sources.Source, error) {
	switch c.Source() {
	case config.SourcePartner:
		if r.settings.PartnerAPIKey == "" {
			return nil, &errors.ConfigError{Component: "partner", Message: "partner_api_key is not set"}
		}
		return partner.NewClient(r.settings.PartnerAPIURL, r.settings.PartnerAPIKey, c.PartnerMemberNo, r.transportOptions()...), nil
	case config.SourceSheet:
		return sheet.New(c.Spreadsheet.Path, c.Spreadsheet.URL, r.transportOptions()...), nil
	}
	return nil, nil
}

// Run reconciles companies on the worker pool and returns one report per
// company, in input order.
func (r *Runner) Run(ctx context.Context, companies []config.Company) []*Report {
	reports := make([]*Report, len(companies))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, r.workers)
	for i, c := range companies {
		wg.Add(1)
		go func(i int, c config.Company) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			reports[i] = r.RunCompany(ctx, c)
		}(i, c)
	}
	wg.Wait()
	return reports
}

// RunCompany reconciles a single company.
func (r *Runner) RunCompany(ctx context.Context, c config.Company) *Report {
	report := newReport(uuid.NewString(), c.Name, r.clock())

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx = logging.WithRunID(logging.WithCompany(ctx, c.Name), report.RunID)
	if r.companyLogs {
		if f, err := r.store.CreateLog(c.Name, store.ArtifactRunLog); err != nil {
			logging.FromContext(ctx).Warn().Err(err).Msg("Company run log unavailable")
		} else {
			defer func() { _ = f.Close() }()
			ctx = logging.Tee(ctx, f)
			report.Artifacts[store.ArtifactRunLog] = f.Name()
		}
	}
	logger := logging.FromContext(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			report.fail(errors.NewResourceError("run", "company", c.Name, fmt.Errorf("panic: %v", rec)))
		}
		report.finish(r.clock())
		if report.Err != nil {
			logger.Error().Err(report.Err).Msg("Company run failed")
			return
		}
		logger.Info().Dur("duration", report.Duration).Int("holds", report.HoldCandidates).Msg("Company run finished")
	}()

	if err := r.settings.ValidateCompany(c); err != nil {
		report.fail(err)
		return report
	}
	report.fail(r.run(ctx, c, report))
	return report
}

func (r *Runner) run(ctx context.Context, c config.Company, report *Report) error {
	logger := logging.FromContext(ctx)
	fc := r.newFleet(c)

	cars, err := fc.ListCars(ctx)
	if err != nil {
		return err
	}
	models, err := fc.ListModels(ctx)
	if err != nil {
		return err
	}
	bookings, err := fc.Bookings(ctx)
	if err != nil {
		return err
	}

	pool, missing := fleetapi.Join(cars, models)
	report.FleetCars = len(cars)
	report.ModelMissing = len(missing)
	if len(missing) > 0 {
		logger.Warn().Int("cars", len(missing)).Msg("Cars without a known model")
		if err := r.artifact(report, store.ArtifactModelMissing, func() (string, error) {
			return r.store.WriteCSV(c.Name, store.ArtifactModelMissing, []string{"id", "number", "model_id"}, carRows(missing))
		}); err != nil {
			return err
		}
	}

	var duplicates []fleet.InternalVehicle
	if c.DedupeEnabled() {
		deduped := dedupe.Fleet(pool, bookings)
		pool, duplicates = deduped.Kept, deduped.Duplicates
		report.FleetDuplicates = len(deduped.Duplicates)
		report.ComplexCases = len(deduped.Complex)
		if len(deduped.Duplicates) > 0 {
			if err := r.artifact(report, store.ArtifactFleetDuplicates, func() (string, error) {
				return r.store.WriteCSV(c.Name, store.ArtifactFleetDuplicates, store.VehicleHeader, store.VehicleRows(deduped.Duplicates))
			}); err != nil {
				return err
			}
		}
		if len(deduped.Complex) > 0 {
			logger.Warn().Int("groups", len(deduped.Complex)).Msg("Duplicate cars with several booked records need a manual decision")
			if err := r.artifact(report, store.ArtifactComplexCases, func() (string, error) {
				return r.store.WriteJSON(c.Name, store.ArtifactComplexCases, deduped.Complex)
			}); err != nil {
				return err
			}
		}
	}
	report.InternalVehicles = len(pool)

	src, err := r.newSource(c)
	if err != nil {
		return err
	}
	if src == nil {
		report.warn("no foreign source configured")
		logger.Warn().Msg("No partner member number or spreadsheet configured, skipping reconciliation")
		return r.finishRun(ctx, c, report, nil, duplicates, fc)
	}
	report.Source = src.ID()
	ctx = logging.WithSource(ctx, src.ID())

	records, err := src.Fetch(ctx)
	if err != nil {
		return err
	}
	if c.DedupeEnabled() && c.Source() == config.SourcePartner {
		deduped := dedupe.Foreign(records)
		records = deduped.Unique
		report.ForeignDuplicates = len(deduped.Duplicates)
		if len(deduped.Duplicates) > 0 {
			if err := r.artifact(report, store.ArtifactForeignDuplicates, func() (string, error) {
				return r.store.WriteJSON(c.Name, store.ArtifactForeignDuplicates, deduped.Duplicates)
			}); err != nil {
				return err
			}
		}
	}

	opts, err := r.reconcileOptions(c)
	if err != nil {
		return err
	}
	result, err := reconciler.Reconcile(ctx, reconciler.Input{
		Source:   src.ID(),
		Foreign:  records,
		Pool:     pool,
		Bookings: bookings,
	}, opts...)
	if err != nil {
		return err
	}
	report.addResult(result)

	written, err := r.store.SaveResult(c.Name, result)
	for name, path := range written {
		report.Artifacts[name] = path
	}
	if err != nil {
		return err
	}
	return r.finishRun(ctx, c, report, result.Holds, duplicates, fc)
}

// finishRun places holds, tags duplicates and writes the run summary.
func (r *Runner) finishRun(ctx context.Context, c config.Company, report *Report, candidates []reconciler.HoldCandidate, duplicates []fleet.InternalVehicle, fc Fleet) error {
	var errs []error
	if r.placeHolds && len(candidates) > 0 {
		placed, err := r.place(ctx, c, fc, candidates, report)
		report.Holds = placed
		errs = append(errs, err)
	}
	if r.tagDuplicates && c.TagDuplicates && len(duplicates) > 0 {
		tagged, err := holds.TagDuplicates(ctx, fc, duplicates)
		report.DuplicateTags = tagged
		errs = append(errs, err)
	}
	report.finish(r.clock())
	errs = append(errs, r.artifact(report, store.ArtifactSummary, func() (string, error) {
		return r.store.WriteYAML(c.Name, store.ArtifactSummary, report)
	}))
	return errors.Join(errs...)
}

func (r *Runner) place(ctx context.Context, c config.Company, placer holds.Placer, candidates []reconciler.HoldCandidate, report *Report) (*holds.Report, error) {
	if c.TagName == "" {
		return nil, &errors.ValidationError{Field: "tag_name", Message: "is required to place holds for " + c.Name}
	}
	placement := holds.New(placer, c.TagName,
		holds.WithLedger(r.ledger),
		holds.WithRetries(r.settings.HoldRetries),
		holds.WithRetryDelay(r.settings.HoldRetryDelay),
	)
	placed, err := placement.Place(ctx, candidates)
	if placed != nil && placed.Placed > 0 {
		if werr := r.artifact(report, store.ArtifactHoldResults, func() (string, error) {
			return r.store.WriteCSV(c.Name, store.ArtifactHoldResults, holds.SuccessHeader, holds.SuccessRows(placed.Records))
		}); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	return placed, err
}

// PlaceLatest places the holds of the newest ready-to-load table of a
// company, or of path when it is set.
func (r *Runner) PlaceLatest(ctx context.Context, c config.Company, path string) (*Report, error) {
	if err := r.settings.ValidateCompany(c); err != nil {
		return nil, err
	}
	if path == "" {
		latest, err := r.store.Latest(c.Name, store.Pattern(store.ArtifactReadyToLoad, "csv"))
		if err != nil {
			return nil, err
		}
		path = latest
	}
	candidates, err := store.LoadHoldCandidates(path, r.location)
	if err != nil {
		return nil, err
	}

	report := newReport(uuid.NewString(), c.Name, r.clock())
	ctx = logging.WithRunID(logging.WithCompany(ctx, c.Name), report.RunID)
	logging.FromContext(ctx).Info().Str("file", path).Int("holds", len(candidates)).Msg("Placing holds from file")

	report.Artifacts[store.ArtifactReadyToLoad] = path
	report.HoldCandidates = len(candidates)
	placed, err := r.place(ctx, c, r.newFleet(c), candidates, report)
	report.Holds = placed
	report.finish(r.clock())
	return report, err
}

func (r *Runner) reconcileOptions(c config.Company) ([]reconciler.Option, error) {
	rule, err := c.Rule()
	if err != nil {
		return nil, err
	}
	mode, err := c.Mode()
	if err != nil {
		return nil, err
	}
	opts := []reconciler.Option{
		reconciler.WithLocation(r.location),
		reconciler.WithClock(r.clock),
		reconciler.WithHoldMode(mode),
		reconciler.WithHoldUnlisted(c.HoldUnlistedEnabled()),
		reconciler.WithMatchOptions(
			matching.WithRule(rule),
			matching.WithYearNarrowing(c.YearNarrowingEnabled()),
		),
	}
	if r.settings.HoldWindow > 0 {
		opts = append(opts, reconciler.WithHoldWindow(r.settings.HoldWindow))
	}
	return opts, nil
}

func (r *Runner) artifact(report *Report, name string, write func() (string, error)) error {
	path, err := write()
	if err != nil {
		return err
	}
	report.Artifacts[name] = path
	return nil
}

func carRows(cars []fleetapi.Car) [][]string {
	rows := make([][]string, 0, len(cars))
	for _, car := range cars {
		rows = append(rows, []string{car.ID, car.Number, car.ModelID})
	}
	return rows
}
