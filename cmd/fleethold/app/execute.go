package app

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/logging"
)

// Execute runs the fleethold CLI with the given arguments.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)
	return rootCmd.ExecuteContext(ctx)
}

func (a *App) createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "fleethold",
		Short:   "Reconcile rental fleets with partner bookings and place holds",
		Version: a.version,
		Long: `Fleethold matches the cars a rental company lists on the fleet
platform against the company's partner booking system or spreadsheet,
computes the windows in which each car must be held, and places those
holds through the fleet API.

Every run stores its intermediate tables under the data directory so
holds can be reviewed before they are placed.`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "management", Title: "Management Commands:"})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.config.ConfigFile, "config", a.config.ConfigFile, "config file (default is "+constants.DefaultConfigPath+")")
	flags.BoolP("verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	flags.BoolP("quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	flags.Bool("no-color", false, "disable colored output")
	flags.StringP("format", "o", "", "output format: table, wide, json, yaml")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")

	rootCmd.SetVersionTemplate("fleethold {{.Version}}\n")
	a.registerCommands(rootCmd)
	return rootCmd
}

// setupCommand applies the parsed global flags before any command runs.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	a.config.UpdateFromFlags(
		mustGetBool(cmd, "verbose"),
		mustGetBool(cmd, "quiet"),
		mustGetBool(cmd, "no-color"),
		mustGetString(cmd, "format"),
		mustGetString(cmd, "log-level"),
	)
	logger, out := NewLogger(a.config, a.stderr)
	a.logger, a.logOutput = &logger, out
	logging.SetDefault(logger)

	cmd.SetContext(logging.WithOutput(cmd.Context(), a.logger, a.logOutput))
	return nil
}

// commandContext bounds a command by constants.CommandTimeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), constants.CommandTimeout)
}

func (a *App) registerCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(a.newRunCommand())
	rootCmd.AddCommand(a.newHoldsCommand())
	rootCmd.AddCommand(a.newMatchCommand())

	rootCmd.AddCommand(a.newCompaniesCommand())
	rootCmd.AddCommand(a.newArtifactsCommand())
	rootCmd.AddCommand(a.newPruneCommand())

	rootCmd.AddCommand(a.newVersionCommand())
}

// ExitOnError prints an error and exits with status 1.
func ExitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// mustGetBool retrieves a boolean flag value or panics if the flag doesn't exist.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

// mustGetString retrieves a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}
