// Package config provides configuration loading and validation for the
// trendfeed server. It uses koanf to merge environment variables with an
// optional YAML file, with environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the trendfeed server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Score cache
	ScoreCacheTTL time.Duration `koanf:"score_cache_ttl"`
	BoostHalfLife time.Duration `koanf:"boost_half_life"`

	// Snapshot batch
	SnapshotInterval  time.Duration `koanf:"snapshot_interval"`
	SnapshotRetention time.Duration `koanf:"snapshot_retention"`
	SnapshotMaxRows   int           `koanf:"snapshot_max_rows"`
	CacheWarmLimit    int           `koanf:"cache_warm_limit"`

	// Candidate selection
	RecencyWindow    time.Duration `koanf:"recency_window"`
	Lookback         time.Duration `koanf:"lookback"`
	WideLookback     time.Duration `koanf:"wide_lookback"`
	RecencyBucketCap int           `koanf:"recency_bucket_cap"`
	CounterBucketCap int           `koanf:"counter_bucket_cap"`
	ReplyBucketCap   int           `koanf:"reply_bucket_cap"`

	// Feed pagination
	FeedDefaultLimit int `koanf:"feed_default_limit"`
	FeedMaxLimit     int `koanf:"feed_max_limit"`

	// Ranking weights calibration file (optional)
	WeightsPath string `koanf:"weights_path"`

	// Use a Postgres advisory lock for the snapshot batch instead of the
	// in-process flag. Required when more than one instance runs the scheduler.
	AdvisoryLockEnabled bool `koanf:"advisory_lock_enabled"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
	ErrInvalidTTL         = errors.New("SCORE_CACHE_TTL must be positive")
	ErrInvalidHalfLife    = errors.New("BOOST_HALF_LIFE must be positive")
	ErrInvalidInterval    = errors.New("SNAPSHOT_INTERVAL must be positive")
	ErrInvalidRetention   = errors.New("SNAPSHOT_RETENTION must be positive")
	ErrInvalidMaxRows     = errors.New("SNAPSHOT_MAX_ROWS must be positive")
	ErrInvalidLookback    = errors.New("LOOKBACK must not exceed WIDE_LOOKBACK")
	ErrInvalidFeedLimits  = errors.New("FEED_DEFAULT_LIMIT must not exceed FEED_MAX_LIMIT")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultScoreCacheTTL     = 10 * time.Minute
	DefaultBoostHalfLife     = 24 * time.Hour
	DefaultSnapshotInterval  = 10 * time.Minute
	DefaultSnapshotRetention = time.Hour
	DefaultSnapshotMaxRows   = 15000
	DefaultCacheWarmLimit    = 2000
	DefaultRecencyWindow     = 72 * time.Hour
	DefaultLookback          = 30 * 24 * time.Hour
	DefaultWideLookback      = 90 * 24 * time.Hour
	DefaultRecencyBucketCap  = 8000
	DefaultCounterBucketCap  = 1500
	DefaultReplyBucketCap    = 1200
	DefaultFeedDefaultLimit  = 20
	DefaultFeedMaxLimit      = 40
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	cfg := &Config{
		Port:                port,
		Env:                 getEnvOrDefault("TRENDFEED_ENV", k.String("env"), DefaultEnv),
		DatabaseURL:         getEnvOrDefault("DATABASE_URL", k.String("database_url"), ""),
		ScoreCacheTTL:       getEnvDurationOrDefault("SCORE_CACHE_TTL", k, "score_cache_ttl", DefaultScoreCacheTTL, &loadErrs),
		BoostHalfLife:       getEnvDurationOrDefault("BOOST_HALF_LIFE", k, "boost_half_life", DefaultBoostHalfLife, &loadErrs),
		SnapshotInterval:    getEnvDurationOrDefault("SNAPSHOT_INTERVAL", k, "snapshot_interval", DefaultSnapshotInterval, &loadErrs),
		SnapshotRetention:   getEnvDurationOrDefault("SNAPSHOT_RETENTION", k, "snapshot_retention", DefaultSnapshotRetention, &loadErrs),
		SnapshotMaxRows:     getEnvIntOrDefaultCollect("SNAPSHOT_MAX_ROWS", k.Int("snapshot_max_rows"), DefaultSnapshotMaxRows, &loadErrs),
		CacheWarmLimit:      getEnvIntOrDefaultCollect("CACHE_WARM_LIMIT", k.Int("cache_warm_limit"), DefaultCacheWarmLimit, &loadErrs),
		RecencyWindow:       getEnvDurationOrDefault("RECENCY_WINDOW", k, "recency_window", DefaultRecencyWindow, &loadErrs),
		Lookback:            getEnvDurationOrDefault("LOOKBACK", k, "lookback", DefaultLookback, &loadErrs),
		WideLookback:        getEnvDurationOrDefault("WIDE_LOOKBACK", k, "wide_lookback", DefaultWideLookback, &loadErrs),
		RecencyBucketCap:    getEnvIntOrDefaultCollect("RECENCY_BUCKET_CAP", k.Int("recency_bucket_cap"), DefaultRecencyBucketCap, &loadErrs),
		CounterBucketCap:    getEnvIntOrDefaultCollect("COUNTER_BUCKET_CAP", k.Int("counter_bucket_cap"), DefaultCounterBucketCap, &loadErrs),
		ReplyBucketCap:      getEnvIntOrDefaultCollect("REPLY_BUCKET_CAP", k.Int("reply_bucket_cap"), DefaultReplyBucketCap, &loadErrs),
		FeedDefaultLimit:    getEnvIntOrDefaultCollect("FEED_DEFAULT_LIMIT", k.Int("feed_default_limit"), DefaultFeedDefaultLimit, &loadErrs),
		FeedMaxLimit:        getEnvIntOrDefaultCollect("FEED_MAX_LIMIT", k.Int("feed_max_limit"), DefaultFeedMaxLimit, &loadErrs),
		WeightsPath:         getEnvOrDefault("WEIGHTS_PATH", k.String("weights_path"), ""),
		AdvisoryLockEnabled: getEnvBoolOrDefault("ADVISORY_LOCK_ENABLED", k, "advisory_lock_enabled", false),
	}

	loadErrs = append(loadErrs, cfg.validate()...)
	return cfg, loadErrs
}

// validate checks required fields and cross-field constraints.
func (c *Config) validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.ScoreCacheTTL <= 0 {
		errs = append(errs, ErrInvalidTTL)
	}
	if c.BoostHalfLife <= 0 {
		errs = append(errs, ErrInvalidHalfLife)
	}
	if c.SnapshotInterval <= 0 {
		errs = append(errs, ErrInvalidInterval)
	}
	if c.SnapshotRetention <= 0 {
		errs = append(errs, ErrInvalidRetention)
	}
	if c.SnapshotMaxRows <= 0 {
		errs = append(errs, ErrInvalidMaxRows)
	}
	if c.Lookback > c.WideLookback {
		errs = append(errs, ErrInvalidLookback)
	}
	if c.FeedDefaultLimit > c.FeedMaxLimit {
		errs = append(errs, ErrInvalidFeedLimits)
	}

	return errs
}

// IsProduction returns true if the environment is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnvOrDefault returns the env value if set, then the file value, then the default.
func getEnvOrDefault(envKey, fileValue, defaultValue string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if fileValue != "" {
		return fileValue
	}
	return defaultValue
}

// getEnvIntOrDefault parses an integer env var with file and default fallbacks.
// Returns an error if the env var is set but not a valid integer.
func getEnvIntOrDefault(envKey string, fileValue, defaultValue int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return defaultValue, fmt.Errorf("%s: %w", envKey, ErrInvalidPort)
		}
		return parsed, nil
	}
	if fileValue != 0 {
		return fileValue, nil
	}
	return defaultValue, nil
}

// getEnvIntOrDefaultCollect is getEnvIntOrDefault with errors appended to a slice.
func getEnvIntOrDefaultCollect(envKey string, fileValue, defaultValue int, errs *[]error) int {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s must be a valid integer: %q", envKey, val))
			return defaultValue
		}
		return parsed
	}
	if fileValue != 0 {
		return fileValue
	}
	return defaultValue
}

// getEnvDurationOrDefault parses a duration env var (e.g. "10m", "72h") with
// file and default fallbacks. Invalid values are collected and the default used.
func getEnvDurationOrDefault(envKey string, k *koanf.Koanf, fileKey string, defaultValue time.Duration, errs *[]error) time.Duration {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := time.ParseDuration(val)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s must be a valid duration: %q", envKey, val))
			return defaultValue
		}
		return parsed
	}
	if k.Exists(fileKey) {
		if d := k.Duration(fileKey); d != 0 {
			return d
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault parses a boolean env var with file and default fallbacks.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, fileKey string, defaultValue bool) bool {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err == nil {
			return parsed
		}
		return defaultValue
	}
	if k.Exists(fileKey) {
		return k.Bool(fileKey)
	}
	return defaultValue
}
