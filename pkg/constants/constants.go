// Package constants provides shared constants used throughout the fleethold codebase.
// This includes timeouts, limits, file permissions, date layouts and the
// remote API parameters that must stay consistent across the application.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DefaultHTTPTimeout is the standard timeout for HTTP requests to the fleet and partner APIs
	DefaultHTTPTimeout = 60 * time.Second

	// DefaultTimeout is the standard timeout for general operations
	DefaultTimeout = 10 * time.Second

	// CompanyRunTimeout bounds a single company reconciliation run
	CompanyRunTimeout = 30 * time.Minute

	// CommandTimeout is the default timeout for CLI commands
	CommandTimeout = 60 * time.Minute

	// RetryBackoff is the base backoff duration for transport retries
	RetryBackoff = 1 * time.Second

	// MaxRetryBackoff is the maximum backoff duration for transport retries
	MaxRetryBackoff = 30 * time.Second
)

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644

	// SecureFilePermissions is for sensitive files like tokens (rw-------)
	SecureFilePermissions = 0600
)

// Limit constants define various limits and capacities
const (
	// MaxRetries is the number of attempts made when placing a single hold
	MaxRetries = 3

	// MaxTransportRetries is the number of attempts for a rate-limited or failing API call
	MaxTransportRetries = 5

	// DefaultWorkers is the number of companies reconciled concurrently
	DefaultWorkers = 4

	// FleetPageSize is the page size used when listing fleet cars
	FleetPageSize = 50

	// PartnerPageSize is the page size used when listing partner bookings
	PartnerPageSize = 100

	// MaxPages guards paginated fetches against servers that never return an empty page
	MaxPages = 1000
)

// Rate limiting constants
const (
	// DefaultRequestsPerSecond is the client-side request rate toward a single API
	DefaultRequestsPerSecond = 5

	// BurstSize is the token bucket burst size for rate limiting
	BurstSize = 5
)

// Hold constants
const (
	// DefaultHoldWindow is the length of the hold requested for a vehicle
	// the spreadsheet reports as unavailable
	DefaultHoldWindow = 24 * time.Hour

	// HoldRetryDelay is the fixed delay between hold placement attempts
	HoldRetryDelay = 2 * time.Second

	// HoldRequestTimeout is the server-side timeout (ms) sent with hold and timetable requests
	HoldRequestTimeout = 27000000

	// BookingLookback is how far before now the bookings timetable is read
	BookingLookback = 10 * 24 * time.Hour

	// BookingLookahead is how far after now the bookings timetable is read
	BookingLookahead = 80 * 24 * time.Hour

	// OnHoldStatus is the booking status the fleet API reports for holds
	OnHoldStatus = "rental.status.on_hold.title"

	// DefaultLanguage is the lang query parameter sent to the fleet API
	DefaultLanguage = "en"
)

// Time zone and layout constants
const (
	// DefaultTimeZone is the zone in which reservations are read and displays are rendered
	DefaultTimeZone = "Asia/Dubai"

	// DisplayLayout is the layout of interval display strings and partner reservation dates
	DisplayLayout = "01/02/2006 03:04:05 PM"

	// TimeFormatFilename is the format used in generated artifact filenames
	TimeFormatFilename = "2006-01-02_15-04-05"

	// TimeFormatHuman is a human-readable time format
	TimeFormatHuman = "Jan 2, 2006 at 3:04pm MST"
)

// Path constants
const (
	// DefaultDataDir is the default directory for run artifacts
	DefaultDataDir = "~/.fleethold/data"

	// DefaultConfigPath is the default path for the configuration file
	DefaultConfigPath = "~/.fleethold.yaml"

	// DefaultPruneAge is the default age after which artifacts are pruned
	DefaultPruneAge = 7 * 24 * time.Hour
)

// Source identifiers
const (
	// SourcePartner identifies the partner booking API
	SourcePartner = "takamol"

	// SourceSheet identifies spreadsheet exports
	SourceSheet = "google docs"

	// SourceFleet identifies the internal fleet API
	SourceFleet = "fleet"
)
