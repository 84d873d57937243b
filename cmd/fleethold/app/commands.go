package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentstation/fleethold/internal/cmd/output"
	"github.com/agentstation/fleethold/internal/config"
	"github.com/agentstation/fleethold/internal/matcher"
	"github.com/agentstation/fleethold/internal/runner"
	"github.com/agentstation/fleethold/internal/store"
	"github.com/agentstation/fleethold/pkg/errors"
)

func (a *App) newRunCommand() *cobra.Command {
	var (
		placeHolds    bool
		tagDuplicates bool
		workers       int
	)
	cmd := &cobra.Command{
		Use:     "run [company...]",
		GroupID: "core",
		Short:   "Reconcile companies and compute their holds",
		Long: `Run reconciles every configured company, or the companies whose name
matches one of the given glob or regular expression patterns.

For each company the fleet cars are fetched and deduplicated, matched
against the partner bookings or the spreadsheet, and the free windows to
hold are written to the data directory. With --place-holds the holds are
placed right away. A company that is misconfigured or fails is reported
and does not stop the others.`,
		Example: `  fleethold run
  fleethold run "hexa*" --place-holds
  fleethold run "^a\.m\.g\.a" -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			format, err := a.Format()
			if err != nil {
				return err
			}
			settings, err := a.Settings()
			if err != nil {
				return err
			}
			if err := settings.ValidateGlobal(); err != nil {
				return err
			}
			companies, err := selectCompanies(settings, args)
			if err != nil {
				return err
			}

			r, err := a.Runner(ctx,
				runner.WithPlaceHolds(placeHolds),
				runner.WithTagDuplicates(tagDuplicates),
				runner.WithWorkers(workers),
			)
			if err != nil {
				return err
			}
			a.Printer().Step("Reconciling %d companies", len(companies))
			reports := r.Run(ctx, companies)

			a.Printer().Reports(reports)
			if err := output.Write(a.stdout, format, reports, func(wide bool) output.Data {
				return output.RunReports(reports, wide)
			}); err != nil {
				return err
			}
			return failures(reports)
		},
	}
	cmd.Flags().BoolVar(&placeHolds, "place-holds", false, "place the computed holds through the fleet API")
	cmd.Flags().BoolVar(&tagDuplicates, "tag-duplicates", false, "tag fleet duplicates of companies with tag_duplicates set")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "companies reconciled concurrently (default from config)")
	return cmd
}

// selectCompanies returns the configured companies matching any pattern,
// or all of them when there are no patterns.
func selectCompanies(settings *config.Settings, patterns []string) ([]config.Company, error) {
	names := settings.CompanyNames()
	if len(patterns) > 0 {
		m, err := matcher.NewMultiMatcher(patterns, matcher.Auto, &matcher.Options{CaseInsensitive: true})
		if err != nil {
			return nil, &errors.ValidationError{Field: "company", Value: strings.Join(patterns, " "), Message: err.Error()}
		}
		names = m.MatchAll(names...)
	}
	if len(names) == 0 {
		return nil, errors.NewNotFoundError("company", strings.Join(patterns, " "))
	}
	companies := make([]config.Company, 0, len(names))
	for _, name := range names {
		c, err := settings.Company(name)
		if err != nil {
			return nil, err
		}
		companies = append(companies, c)
	}
	return companies, nil
}

func failures(reports []*runner.Report) error {
	var errs []error
	for _, r := range reports {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Company, r.Err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d companies failed: %w", len(errs), len(reports), errors.Join(errs...))
}

func (a *App) newHoldsCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:     "holds <company>",
		GroupID: "core",
		Short:   "Place the holds of the latest run",
		Long: `Holds places the holds listed in the newest ready_to_load table of a
company, or in the table given with --file. Holds already recorded in the
ledger are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			format, err := a.Format()
			if err != nil {
				return err
			}
			settings, err := a.Settings()
			if err != nil {
				return err
			}
			company, err := settings.Company(args[0])
			if err != nil {
				return err
			}
			r, err := a.Runner(ctx)
			if err != nil {
				return err
			}

			report, err := r.PlaceLatest(ctx, company, file)
			if report == nil || report.Holds == nil {
				return err
			}
			placed := report.Holds
			a.Printer().Step("Placed holds from %s", report.Artifacts[store.ArtifactReadyToLoad])
			switch {
			case placed.Failed > 0:
				a.Printer().Warning("%d/%d holds placed, %d already held, %d skipped, %d failed",
					placed.Placed, placed.Total, placed.AlreadyHeld, placed.Recorded, placed.Failed)
			default:
				a.Printer().Success("%d/%d holds placed, %d already held, %d skipped",
					placed.Placed, placed.Total, placed.AlreadyHeld, placed.Recorded)
			}
			if werr := output.Write(a.stdout, format, placed, func(wide bool) output.Data {
				return output.HoldRecords(placed.Records, wide)
			}); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "ready_to_load table to place instead of the latest one")
	return cmd
}

func (a *App) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		GroupID: "management",
		Short:   "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("fleethold %s\n", a.version)
			if a.config.Verbose {
				cmd.Printf("  commit:   %s\n", a.commit)
				cmd.Printf("  built:    %s\n", a.date)
				cmd.Printf("  built by: %s\n", a.builtBy)
			}
		},
	}
}
