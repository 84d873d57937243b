// Package app wires the fleethold command line: configuration, logging,
// the hold ledger and the runner shared by every command.
package app

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/fleethold/internal/cmd/output"
	"github.com/agentstation/fleethold/internal/config"
	"github.com/agentstation/fleethold/internal/ledger"
	"github.com/agentstation/fleethold/internal/runner"
	"github.com/agentstation/fleethold/pkg/errors"
)

// App holds the dependencies of a fleethold invocation.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config    *Config
	logger    *zerolog.Logger
	logOutput io.Writer
	stdout    io.Writer
	stderr    io.Writer

	runnerOpts []runner.Option

	mu       sync.Mutex
	settings *config.Settings
	ledger   ledger.Ledger
}

// New creates an App with configuration loaded from the environment.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
		config:  LoadConfig(),
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}
	if app.logger == nil {
		logger, out := NewLogger(app.config, app.stderr)
		app.logger, app.logOutput = &logger, out
	}
	return app, nil
}

// Version returns the version information.
func (a *App) Version() string { return a.version }

// Config returns the command-line configuration.
func (a *App) Config() *Config { return a.config }

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger { return a.logger }

// Settings loads the reconciliation settings once.
func (a *App) Settings() (*config.Settings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settings != nil {
		return a.settings, nil
	}
	settings, err := LoadSettings(a.config.ConfigFile)
	if err != nil {
		return nil, err
	}
	a.settings = settings
	return settings, nil
}

// Runner builds a runner over the settings, sharing the app's ledger.
func (a *App) Runner(ctx context.Context, opts ...runner.Option) (*runner.Runner, error) {
	settings, err := a.Settings()
	if err != nil {
		return nil, err
	}
	l, err := a.openLedger(ctx, settings)
	if err != nil {
		return nil, err
	}
	all := append([]runner.Option{runner.WithLedger(l)}, a.runnerOpts...)
	r, err := runner.New(settings, append(all, opts...)...)
	if err != nil {
		return nil, errors.WrapResource("create", "runner", "", err)
	}
	return r, nil
}

func (a *App) openLedger(ctx context.Context, settings *config.Settings) (ledger.Ledger, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ledger != nil {
		return a.ledger, nil
	}
	l, err := ledger.Open(ctx, settings.RedisAddr)
	if err != nil {
		return nil, err
	}
	a.ledger = l
	return l, nil
}

// Printer returns a status printer on stderr.
func (a *App) Printer() *output.Printer {
	return output.NewPrinter(a.stderr, a.config.NoColor)
}

// Format returns the output format of the command.
func (a *App) Format() (output.Format, error) {
	if _, err := output.ParseFormat(a.config.Format); err != nil {
		return "", err
	}
	return output.DetectFormat(a.config.Format), nil
}

// Shutdown releases the ledger connection.
func (a *App) Shutdown(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ledger == nil {
		return nil
	}
	err := a.ledger.Close()
	a.ledger = nil
	return err
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithOutput redirects command output and status lines.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(a *App) error {
		a.stdout, a.stderr = stdout, stderr
		return nil
	}
}

// WithRunnerOptions adds options to every runner the app builds.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(a *App) error {
		a.runnerOpts = append(a.runnerOpts, opts...)
		return nil
	}
}
