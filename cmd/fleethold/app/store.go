package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/fleethold/internal/cmd/output"
	"github.com/agentstation/fleethold/internal/config"
	"github.com/agentstation/fleethold/internal/store"
	"github.com/agentstation/fleethold/pkg/constants"
)

// companyRow is the listing of a configured company.
type companyRow struct {
	Name          string `json:"name" yaml:"name"`
	Source        string `json:"source" yaml:"source"`
	MatchRule     string `json:"match_rule" yaml:"match_rule"`
	HoldMode      string `json:"hold_mode" yaml:"hold_mode"`
	TagName       string `json:"tag_name" yaml:"tag_name"`
	Dedupe        bool   `json:"dedupe" yaml:"dedupe"`
	TagDuplicates bool   `json:"tag_duplicates" yaml:"tag_duplicates"`
	Problem       string `json:"problem,omitempty" yaml:"problem,omitempty"`
}

func describeCompany(settings *config.Settings, c config.Company) companyRow {
	row := companyRow{
		Name:          c.Name,
		Source:        string(c.Source()),
		TagName:       c.TagName,
		Dedupe:        c.DedupeEnabled(),
		TagDuplicates: c.TagDuplicates,
	}
	if row.Source == "" {
		row.Source = "none"
	}
	if rule, err := c.Rule(); err == nil {
		row.MatchRule = string(rule)
	} else {
		row.MatchRule = "invalid: " + c.MatchRule
	}
	if mode, err := c.Mode(); err == nil {
		row.HoldMode = string(mode)
	} else {
		row.HoldMode = "invalid: " + c.HoldMode
	}
	if err := settings.ValidateCompany(c); err != nil {
		row.Problem = err.Error()
	}
	return row
}

func (a *App) newCompaniesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "companies",
		GroupID: "management",
		Short:   "List the configured companies",
		RunE: func(_ *cobra.Command, _ []string) error {
			format, err := a.Format()
			if err != nil {
				return err
			}
			settings, err := a.Settings()
			if err != nil {
				return err
			}
			rows := make([]companyRow, 0, len(settings.Companies))
			for _, name := range settings.CompanyNames() {
				c, err := settings.Company(name)
				if err != nil {
					return err
				}
				rows = append(rows, describeCompany(settings, c))
			}
			return output.NewFormatter(format).Format(a.stdout, rows)
		},
	}
}

func (a *App) artifactStore() (*store.Store, error) {
	settings, err := a.Settings()
	if err != nil {
		return nil, err
	}
	return store.New(settings.DataDir)
}

func (a *App) newArtifactsCommand() *cobra.Command {
	var pattern string
	cmd := &cobra.Command{
		Use:     "artifacts <company>",
		GroupID: "management",
		Short:   "List the stored tables of a company, newest first",
		Example: `  fleethold artifacts "HEXA CAR RENTAL"
  fleethold artifacts "HEXA CAR RENTAL" --pattern "ready_to_load_*.csv"`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			format, err := a.Format()
			if err != nil {
				return err
			}
			s, err := a.artifactStore()
			if err != nil {
				return err
			}
			list, err := s.List(args[0], pattern)
			if err != nil {
				return err
			}
			return output.Write(a.stdout, format, list, func(wide bool) output.Data {
				return output.Artifacts(list, wide)
			})
		},
	}
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "*", "glob the file names must match")
	return cmd
}

func (a *App) newPruneCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:     "prune",
		GroupID: "management",
		Short:   "Delete stored tables older than a threshold",
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := a.artifactStore()
			if err != nil {
				return err
			}
			removed, err := s.Prune(olderThan)
			for _, path := range removed {
				_, _ = fmt.Fprintln(a.stdout, path)
			}
			if err != nil {
				return err
			}
			a.Printer().Success("Removed %d files older than %s from %s", len(removed), olderThan, s.Root())
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", constants.DefaultPruneAge, "age after which files are deleted")
	return cmd
}
