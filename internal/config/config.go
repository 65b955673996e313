// Package config defines service configuration and its loader.
//
// Values are layered: defaults, then an optional YAML file named by
// EVENTXP_CONFIG, then EVENTXP_* environment variables. A local .env file is
// read into the environment first when present.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// PublicBaseURL prefixes event links rendered into QR codes.
	PublicBaseURL string `koanf:"public_base_url"`

	Store     StoreConfig     `koanf:"store"`
	Lifecycle LifecycleConfig `koanf:"lifecycle"`
	Teams     TeamsConfig     `koanf:"teams"`
	Rewards   RewardsConfig   `koanf:"rewards"`
	Notify    NotifyConfig    `koanf:"notify"`
	NameCache NameCacheConfig `koanf:"namecache"`
	CORS      CORSConfig      `koanf:"cors"`
}

// StoreConfig selects and locates the document store.
type StoreConfig struct {
	// Driver is "sqlite" or "dynamodb".
	Driver             string `koanf:"driver"`
	SQLitePath         string `koanf:"sqlite_path"`
	DynamoEventsTable  string `koanf:"dynamo_events_table"`
	DynamoLedgersTable string `koanf:"dynamo_ledgers_table"`
	AWSRegion          string `koanf:"aws_region"`
	AWSEndpoint        string `koanf:"aws_endpoint"`

	// MaxRetries bounds optimistic transaction retries on version conflict.
	MaxRetries int `koanf:"max_retries"`
}

// LifecycleConfig tunes event lifecycle checks.
type LifecycleConfig struct {
	// CivilTimezone is the IANA zone used to decide what "today" is for start dates.
	CivilTimezone string `koanf:"civil_timezone"`
}

// TeamsConfig bounds team sizes.
type TeamsConfig struct {
	MinMembers int `koanf:"min_members"`
	MaxMembers int `koanf:"max_members"`
}

// RewardsConfig holds XP constants for award passes.
type RewardsConfig struct {
	OrganizerXP          int64 `koanf:"organizer_xp"`
	ParticipationXP      int64 `koanf:"participation_xp"`
	SubmissionMultiplier int64 `koanf:"submission_multiplier"`
	WinnerBonusXP        int64 `koanf:"winner_bonus_xp"`
	BestPerformerXP      int64 `koanf:"best_performer_xp"`

	// Concurrency bounds parallel ledger writes during one award pass.
	Concurrency int `koanf:"concurrency"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	// PushGatewayURL is optional; when empty only websocket clients are notified.
	PushGatewayURL string        `koanf:"push_gateway_url"`
	Timeout        time.Duration `koanf:"timeout"`
}

// NameCacheConfig sizes the event name cache.
type NameCacheConfig struct {
	TTL  time.Duration `koanf:"ttl"`
	Size int           `koanf:"size"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreConfig{
			Driver:             "sqlite",
			SQLitePath:         "eventxp.db",
			DynamoEventsTable:  "eventxp-events",
			DynamoLedgersTable: "eventxp-ledgers",
			MaxRetries:         5,
		},
		Lifecycle: LifecycleConfig{CivilTimezone: "UTC"},
		Teams:     TeamsConfig{MinMembers: 1, MaxMembers: 10},
		Rewards: RewardsConfig{
			OrganizerXP:          50,
			ParticipationXP:      10,
			SubmissionMultiplier: 2,
			WinnerBonusXP:        25,
			BestPerformerXP:      30,
			Concurrency:          4,
		},
		Notify:    NotifyConfig{Timeout: 5 * time.Second},
		NameCache: NameCacheConfig{TTL: 10 * time.Minute, Size: 1024},
		CORS:      CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	switch strings.ToLower(c.Store.Driver) {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must not be empty")
		}
	case "dynamodb":
		if c.Store.DynamoEventsTable == "" || c.Store.DynamoLedgersTable == "" {
			return fmt.Errorf("store.dynamo_events_table and store.dynamo_ledgers_table are required")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.MaxRetries < 1 {
		return fmt.Errorf("store.max_retries must be at least 1")
	}
	if c.Teams.MinMembers < 1 || c.Teams.MaxMembers < c.Teams.MinMembers {
		return fmt.Errorf("teams.min_members must be >= 1 and <= teams.max_members")
	}
	if c.Rewards.Concurrency < 1 {
		return fmt.Errorf("rewards.concurrency must be at least 1")
	}
	if c.Rewards.SubmissionMultiplier < 1 {
		return fmt.Errorf("rewards.submission_multiplier must be at least 1")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the civil timezone.
func (c *Config) Location() (*time.Location, error) {
	name := c.Lifecycle.CivilTimezone
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.civil_timezone: %w", err)
	}
	return loc, nil
}
