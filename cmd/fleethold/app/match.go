package app

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/fleethold/internal/cmd/output"
	"github.com/agentstation/fleethold/internal/sources/sheet"
	"github.com/agentstation/fleethold/internal/store"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/matching"
)

func (a *App) newMatchCommand() *cobra.Command {
	var (
		internalPath  string
		foreignPath   string
		rule          string
		yearNarrowing bool
		onlyKind      string
	)
	cmd := &cobra.Command{
		Use:     "match",
		GroupID: "core",
		Short:   "Match two vehicle tables offline",
		Long: `Match pairs the vehicles of a foreign table (columns "Plate No",
"Vehicle Type" and optionally "Status" and "Model") with an internal
vehicle table (columns id, number, manufacturer, short_name, model_id and
specs) without calling any API. The joined export column names
merge_manufacturer, merge_short_name and model_specifications_x are
accepted too. It prints one outcome per foreign vehicle.`,
		Example: `  fleethold match --internal unused_internal.csv --foreign sheet.csv
  fleethold match --internal cars.csv --foreign sheet.csv --rule core-substring --only unmatched
  fleethold match --internal joined.csv --foreign sheet.csv --year-narrowing`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := a.Format()
			if err != nil {
				return err
			}
			parsedRule, err := matching.ParseRule(rule)
			if err != nil {
				return err
			}
			pool, err := store.LoadVehicles(internalPath)
			if err != nil {
				return err
			}
			foreign, err := loadForeign(foreignPath)
			if err != nil {
				return err
			}

			result, err := matching.Match(foreign, pool,
				matching.WithRule(parsedRule),
				matching.WithYearNarrowing(yearNarrowing),
			)
			if err != nil {
				return err
			}

			counts := result.Counts()
			a.Printer().Success("%d foreign, %d matched, %d unmatched, %d ambiguous, %d internal unused",
				counts.Foreign, counts.Matched, counts.Unmatched, counts.Ambiguous, counts.Remaining)

			outcomes := result.Outcomes
			if onlyKind != "" {
				outcomes = filterKind(outcomes, matching.Kind(onlyKind))
			}
			return output.Write(a.stdout, format, outcomes, func(wide bool) output.Data {
				return output.Outcomes(outcomes, wide)
			})
		},
	}
	cmd.Flags().StringVar(&internalPath, "internal", "", "internal vehicle table (CSV)")
	cmd.Flags().StringVar(&foreignPath, "foreign", "", "foreign vehicle table (CSV)")
	cmd.Flags().StringVar(&rule, "rule", string(matching.RulePlateParts), "plate acceptance rule: plate-parts or core-substring")
	cmd.Flags().BoolVar(&yearNarrowing, "year-narrowing", false, "narrow ambiguous candidates by model year")
	cmd.Flags().StringVar(&onlyKind, "only", "", "show only outcomes of one kind: matched, unmatched, ambiguous")
	_ = cmd.MarkFlagRequired("internal")
	_ = cmd.MarkFlagRequired("foreign")
	return cmd
}

func loadForeign(path string) ([]fleet.ForeignRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapIO("open", path, err)
	}
	defer func() { _ = f.Close() }()
	return sheet.Parse(f, path)
}

func filterKind(outcomes []matching.Outcome, kind matching.Kind) []matching.Outcome {
	var out []matching.Outcome
	for _, o := range outcomes {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}
