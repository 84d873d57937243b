// Package config holds the fleethold settings read through Viper: API
// endpoints and credentials, the artifact store, worker and retry limits,
// and the per-company reconciliation settings.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/interval"
	"github.com/agentstation/fleethold/pkg/matching"
	"github.com/agentstation/fleethold/pkg/reconciler"
)

// Configuration keys.
const (
	KeyFleetAPIURL       = "fleet_api_url"
	KeyPartnerAPIURL     = "partner_api_url"
	KeyPartnerAPIKey     = "partner_api_key"
	KeyDataDir           = "data_dir"
	KeyTimeZone          = "timezone"
	KeyWorkers           = "workers"
	KeyHoldRetries       = "hold_retries"
	KeyHoldRetryDelay    = "hold_retry_delay"
	KeyHoldWindow        = "hold_window"
	KeyRequestsPerSecond = "requests_per_second"
	KeyRedisAddr         = "redis_addr"
	KeyCompanyLogs       = "company_logs"
	KeyCompanies         = "companies"
)

// KeyDelimiter separates nested keys. Company names contain dots
// ("A.M.G.A RENT A CAR L.L.C") so Viper's default "." cannot be used.
const KeyDelimiter = "::"

// SourceKind names where a company's foreign records come from.
type SourceKind string

// Source kinds.
const (
	SourceNone    SourceKind = ""
	SourcePartner SourceKind = "partner"
	SourceSheet   SourceKind = "sheet"
)

// Spreadsheet locates a spreadsheet export. Path wins over URL.
type Spreadsheet struct {
	Path string `mapstructure:"path" yaml:"path,omitempty" json:"path,omitempty"`
	URL  string `mapstructure:"url" yaml:"url,omitempty" json:"url,omitempty"`
}

// Company is the configuration of one rental company.
type Company struct {
	// Name is the display name. Viper lowercases map keys, so the key is
	// only used when Name is empty.
	Name            string      `mapstructure:"name" yaml:"name" json:"name"`
	FleetToken      string      `mapstructure:"fleet_token" yaml:"-" json:"-"`
	TagName         string      `mapstructure:"tag_name" yaml:"tag_name" json:"tag_name"`
	PartnerMemberNo string      `mapstructure:"partner_member_no" yaml:"partner_member_no,omitempty" json:"partner_member_no,omitempty"`
	Spreadsheet     Spreadsheet `mapstructure:"spreadsheet" yaml:"spreadsheet,omitempty" json:"spreadsheet,omitempty"`
	MatchRule       string      `mapstructure:"match_rule" yaml:"match_rule,omitempty" json:"match_rule,omitempty"`
	YearNarrowing   *bool       `mapstructure:"year_narrowing" yaml:"year_narrowing,omitempty" json:"year_narrowing,omitempty"`
	HoldMode        string      `mapstructure:"hold_mode" yaml:"hold_mode,omitempty" json:"hold_mode,omitempty"`
	HoldUnlisted    *bool       `mapstructure:"hold_unlisted" yaml:"hold_unlisted,omitempty" json:"hold_unlisted,omitempty"`
	TagDuplicates   bool        `mapstructure:"tag_duplicates" yaml:"tag_duplicates,omitempty" json:"tag_duplicates,omitempty"`
	Dedupe          *bool       `mapstructure:"dedupe" yaml:"dedupe,omitempty" json:"dedupe,omitempty"`
}

// Source returns where the company's foreign records come from. A partner
// member number takes precedence over a spreadsheet.
func (c Company) Source() SourceKind {
	switch {
	case c.PartnerMemberNo != "":
		return SourcePartner
	case c.Spreadsheet.Path != "" || c.Spreadsheet.URL != "":
		return SourceSheet
	}
	return SourceNone
}

// Rule returns the candidate rule. Spreadsheet plates are typed by hand and
// often lack the letter part, so sheet companies default to core substring
// matching and every other company to plate parts.
func (c Company) Rule() (matching.Rule, error) {
	if c.MatchRule == "" && c.Source() == SourceSheet {
		return matching.RuleCoreSubstring, nil
	}
	return matching.ParseRule(c.MatchRule)
}

// YearNarrowingEnabled reports whether model years disambiguate matches.
// It defaults to on for partner companies, whose records carry a year.
func (c Company) YearNarrowingEnabled() bool {
	if c.YearNarrowing != nil {
		return *c.YearNarrowing
	}
	return c.Source() == SourcePartner
}

// Mode returns the hold mode. Spreadsheets only carry a status, so sheet
// companies default to status mode.
func (c Company) Mode() (reconciler.HoldMode, error) {
	if c.HoldMode == "" && c.Source() == SourceSheet {
		return reconciler.HoldModeStatus, nil
	}
	return reconciler.ParseHoldMode(c.HoldMode)
}

// HoldUnlistedEnabled reports whether, in status mode, fleet cars that no
// foreign record matched are held too. It defaults to on for sheet
// companies, whose spreadsheet lists only the cars the partner knows about.
func (c Company) HoldUnlistedEnabled() bool {
	if c.HoldUnlisted != nil {
		return *c.HoldUnlisted
	}
	return c.Source() == SourceSheet
}

// DedupeEnabled reports whether duplicate fleet and partner records are set
// aside before matching. It defaults to on.
func (c Company) DedupeEnabled() bool {
	return c.Dedupe == nil || *c.Dedupe
}

// Validate checks that the company can be reconciled.
func (c Company) Validate() error {
	var errs []error
	if c.FleetToken == "" {
		errs = append(errs, &errors.ValidationError{Field: "fleet_token", Message: "is required for " + c.Name})
	}
	if _, err := c.Rule(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Mode(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Settings is the full fleethold configuration.
type Settings struct {
	FleetAPIURL       string             `mapstructure:"fleet_api_url" yaml:"fleet_api_url" json:"fleet_api_url"`
	PartnerAPIURL     string             `mapstructure:"partner_api_url" yaml:"partner_api_url" json:"partner_api_url"`
	PartnerAPIKey     string             `mapstructure:"partner_api_key" yaml:"-" json:"-"`
	DataDir           string             `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`
	TimeZone          string             `mapstructure:"timezone" yaml:"timezone" json:"timezone"`
	Workers           int                `mapstructure:"workers" yaml:"workers" json:"workers"`
	HoldRetries       int                `mapstructure:"hold_retries" yaml:"hold_retries" json:"hold_retries"`
	HoldRetryDelay    time.Duration      `mapstructure:"hold_retry_delay" yaml:"hold_retry_delay" json:"hold_retry_delay"`
	HoldWindow        time.Duration      `mapstructure:"hold_window" yaml:"hold_window" json:"hold_window"`
	RequestsPerSecond float64            `mapstructure:"requests_per_second" yaml:"requests_per_second" json:"requests_per_second"`
	RedisAddr         string             `mapstructure:"redis_addr" yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	CompanyLogs       bool               `mapstructure:"company_logs" yaml:"company_logs" json:"company_logs"`
	Companies         map[string]Company `mapstructure:"companies" yaml:"companies" json:"companies"`
}

// New returns a Viper instance using KeyDelimiter with defaults set.
func New() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(KeyDelimiter))
	SetDefaults(v)
	return v
}

// SetDefaults registers the default value of every top-level key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDataDir, constants.DefaultDataDir)
	v.SetDefault(KeyTimeZone, constants.DefaultTimeZone)
	v.SetDefault(KeyWorkers, constants.DefaultWorkers)
	v.SetDefault(KeyHoldRetries, constants.MaxRetries)
	v.SetDefault(KeyHoldRetryDelay, constants.HoldRetryDelay)
	v.SetDefault(KeyHoldWindow, constants.DefaultHoldWindow)
	v.SetDefault(KeyRequestsPerSecond, constants.DefaultRequestsPerSecond)
	v.SetDefault(KeyCompanyLogs, true)
}

// BindEnv binds the flat keys to their upper-case environment variables
// (FLEET_API_URL, PARTNER_API_KEY, REDIS_ADDR, ...).
func BindEnv(v *viper.Viper) error {
	keys := []string{
		KeyFleetAPIURL, KeyPartnerAPIURL, KeyPartnerAPIKey, KeyDataDir, KeyTimeZone,
		KeyWorkers, KeyHoldRetries, KeyHoldRetryDelay, KeyHoldWindow, KeyRequestsPerSecond, KeyRedisAddr,
		KeyCompanyLogs,
	}
	for _, key := range keys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return &errors.ConfigError{Component: "config", Message: "bind " + key, Err: err}
		}
	}
	return nil
}

// Load decodes settings from v. Company names default to their map key.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, &errors.ConfigError{Component: "config", Message: "decode settings", Err: err}
	}
	for key, c := range s.Companies {
		if c.Name == "" {
			c.Name = key
		}
		s.Companies[key] = c
	}
	if s.Workers <= 0 {
		s.Workers = constants.DefaultWorkers
	}
	if s.HoldRetries <= 0 {
		s.HoldRetries = constants.MaxRetries
	}
	return &s, nil
}

// Location loads the configured time zone.
func (s *Settings) Location() (*time.Location, error) {
	name := s.TimeZone
	if name == "" {
		name = constants.DefaultTimeZone
	}
	return interval.LoadLocation(name)
}

// CompanyNames returns the configured company names in order.
func (s *Settings) CompanyNames() []string {
	names := make([]string, 0, len(s.Companies))
	for _, c := range s.Companies {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Company returns the company with the given name, compared case-insensitively.
func (s *Settings) Company(name string) (Company, error) {
	for _, c := range s.Companies {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return Company{}, errors.NewNotFoundError("company", name)
}

// ValidateGlobal checks the settings shared by every company.
func (s *Settings) ValidateGlobal() error {
	_, err := s.Location()
	return err
}

// ValidateCompany checks that c can be reconciled with these settings.
func (s *Settings) ValidateCompany(c Company) error {
	err := c.Validate()
	if c.Source() == SourcePartner && s.PartnerAPIKey == "" {
		err = errors.Join(err, &errors.ValidationError{Field: KeyPartnerAPIKey, Message: "is required for partner companies"})
	}
	if err != nil {
		return fmt.Errorf("company %s: %w", c.Name, err)
	}
	return nil
}

// GetString returns the value of key from v, falling back to the
// environment variable of the same name.
func GetString(v *viper.Viper, key string) string {
	if value := v.GetString(key); value != "" {
		return value
	}
	return os.Getenv(key)
}
