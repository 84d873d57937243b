package app

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/fleethold/internal/config"
	"github.com/agentstation/fleethold/pkg/errors"
)

// Config holds the command-line settings: global flags and logging. The
// reconciliation settings are loaded separately by LoadSettings.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads .env files and reads the logging settings from the
// environment.
func LoadConfig() *Config {
	loadEnvFiles()
	return &Config{
		ConfigFile: os.Getenv("FLEETHOLD_CONFIG"),
		NoColor:    os.Getenv("NO_COLOR") != "",
		LogLevel:   os.Getenv("LOG_LEVEL"),
		LogFormat:  getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput:  getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}
}

// UpdateFromFlags updates config values from parsed command flags.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = c.NoColor || noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// LoadSettings reads the reconciliation settings in order of precedence:
// environment variables, then the config file (configFile when set,
// otherwise ~/.fleethold.yaml or ./.fleethold.yaml), then defaults.
// A missing default config file is not an error.
func LoadSettings(configFile string) (*config.Settings, error) {
	v := config.New()
	if err := config.BindEnv(v); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".fleethold")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, &errors.ConfigError{Component: "config", Message: "read " + describe(configFile), Err: err}
		}
	}

	settings, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if used := v.ConfigFileUsed(); used != "" && !filepath.IsAbs(settings.DataDir) && !strings.HasPrefix(settings.DataDir, "~") {
		settings.DataDir = filepath.Join(filepath.Dir(used), settings.DataDir)
	}
	return settings, nil
}

func describe(configFile string) string {
	if configFile == "" {
		return "config file"
	}
	return configFile
}

// loadEnvFiles loads environment variables from .env files.
// .env.local overrides .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
