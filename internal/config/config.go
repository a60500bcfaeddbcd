// Package config loads and validates application configuration from
// environment variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for the API server and trailctl.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string

	// DatabaseURL is the Postgres (PostGIS) connection string. Required.
	DatabaseURL string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string

	// MaxBodyBytes caps request bodies. Defaults to 8 MiB.
	MaxBodyBytes int64

	// AutoMigrate runs the embedded goose migrations at startup.
	AutoMigrate bool

	Engine EngineConfig
}

// EngineConfig holds the trail engine tunables. It can be supplied as the
// engine: block of the file named by CONFIG_FILE; env vars win over the file.
type EngineConfig struct {
	StaleTimeoutMinutes   int     `yaml:"stale_timeout_minutes"`
	SimplifyTolerance     float64 `yaml:"simplify_tolerance"`
	PreviewTolerance      float64 `yaml:"preview_tolerance"`
	LargeTrailThreshold   int     `yaml:"large_trail_threshold"` // 0 disables the automatic switch
	MetricsTimeoutSeconds int     `yaml:"metrics_timeout_seconds"`
	ClosingLeaseSeconds   int     `yaml:"closing_lease_seconds"`
	BackfillBatchSize     int     `yaml:"backfill_batch_size"`
	BackfillPauseMS       int     `yaml:"backfill_pause_ms"`
	SweepIntervalSeconds  int     `yaml:"sweep_interval_seconds"` // 0 disables the sweeper

	StaleTimeout   time.Duration `yaml:"-"`
	MetricsTimeout time.Duration `yaml:"-"`
	ClosingLease   time.Duration `yaml:"-"`
	BackfillPause  time.Duration `yaml:"-"`
	SweepInterval  time.Duration `yaml:"-"`
}

type fileConfig struct {
	Engine EngineConfig `yaml:"engine"`
}

// DefaultEngineConfig returns the engine tunables used when neither the file
// nor the environment sets them.
func DefaultEngineConfig() EngineConfig {
	e := EngineConfig{
		StaleTimeoutMinutes:   600,
		SimplifyTolerance:     5e-6,
		PreviewTolerance:      0.002,
		LargeTrailThreshold:   100000,
		MetricsTimeoutSeconds: 120,
		ClosingLeaseSeconds:   300,
		BackfillBatchSize:     8,
		BackfillPauseMS:       500,
	}
	e.derive()
	return e
}

// Load reads configuration from environment variables and returns a Config.
// Returns an error listing any required variables that are not set, or the
// first variable that does not parse.
func Load() (Config, error) {
	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		Engine:      DefaultEngineConfig(),
	}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg.Engine); err != nil {
			return Config{}, err
		}
	}

	p := envParser{}
	cfg.MaxBodyBytes = p.int64Var("MAX_BODY_BYTES", 8<<20)
	cfg.AutoMigrate = p.boolVar("AUTO_MIGRATE", false)

	e := &cfg.Engine
	e.StaleTimeoutMinutes = p.intVar("STALE_TIMEOUT_MINUTES", e.StaleTimeoutMinutes)
	e.SimplifyTolerance = p.floatVar("SIMPLIFY_TOLERANCE", e.SimplifyTolerance)
	e.PreviewTolerance = p.floatVar("PREVIEW_TOLERANCE", e.PreviewTolerance)
	e.LargeTrailThreshold = p.intVar("LARGE_TRAIL_THRESHOLD", e.LargeTrailThreshold)
	e.MetricsTimeoutSeconds = p.intVar("METRICS_TIMEOUT_SECONDS", e.MetricsTimeoutSeconds)
	e.ClosingLeaseSeconds = p.intVar("CLOSING_LEASE_SECONDS", e.ClosingLeaseSeconds)
	e.BackfillBatchSize = p.intVar("BACKFILL_BATCH_SIZE", e.BackfillBatchSize)
	e.BackfillPauseMS = p.intVar("BACKFILL_PAUSE_MS", e.BackfillPauseMS)
	e.SweepIntervalSeconds = p.intVar("SWEEP_INTERVAL_SECONDS", e.SweepIntervalSeconds)
	if p.err != nil {
		return Config{}, p.err
	}

	if err := e.validate(); err != nil {
		return Config{}, err
	}
	e.derive()
	return cfg, nil
}

// loadFile overlays the engine: block of a YAML file onto e. Keys absent
// from the file keep their current value.
func loadFile(path string, e *EngineConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("CONFIG_FILE: %w", err)
	}
	defer f.Close()

	fc := fileConfig{Engine: *e}
	if err := yaml.NewDecoder(f).Decode(&fc); err != nil {
		return fmt.Errorf("CONFIG_FILE %s: %w", path, err)
	}
	*e = fc.Engine
	return nil
}

func (e *EngineConfig) validate() error {
	var errs []error
	if e.StaleTimeoutMinutes <= 0 {
		errs = append(errs, errors.New("STALE_TIMEOUT_MINUTES must be positive"))
	}
	if e.SimplifyTolerance <= 0 || e.PreviewTolerance <= 0 {
		errs = append(errs, errors.New("SIMPLIFY_TOLERANCE and PREVIEW_TOLERANCE must be positive"))
	}
	if e.LargeTrailThreshold < 0 {
		errs = append(errs, errors.New("LARGE_TRAIL_THRESHOLD must not be negative"))
	}
	if e.MetricsTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("METRICS_TIMEOUT_SECONDS must be positive"))
	}
	if e.ClosingLeaseSeconds <= 0 {
		errs = append(errs, errors.New("CLOSING_LEASE_SECONDS must be positive"))
	}
	if e.BackfillBatchSize <= 0 {
		errs = append(errs, errors.New("BACKFILL_BATCH_SIZE must be positive"))
	}
	if e.BackfillPauseMS < 0 {
		errs = append(errs, errors.New("BACKFILL_PAUSE_MS must not be negative"))
	}
	if e.SweepIntervalSeconds < 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL_SECONDS must not be negative"))
	}
	return errors.Join(errs...)
}

func (e *EngineConfig) derive() {
	e.StaleTimeout = time.Duration(e.StaleTimeoutMinutes) * time.Minute
	e.MetricsTimeout = time.Duration(e.MetricsTimeoutSeconds) * time.Second
	e.ClosingLease = time.Duration(e.ClosingLeaseSeconds) * time.Second
	e.BackfillPause = time.Duration(e.BackfillPauseMS) * time.Millisecond
	e.SweepInterval = time.Duration(e.SweepIntervalSeconds) * time.Second
}

// envParser reads typed env vars and keeps the first parse error.
type envParser struct {
	err error
}

func (p *envParser) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != "" && p.err == nil
}

func (p *envParser) fail(key, v string, err error) {
	p.err = fmt.Errorf("invalid value %q for %s: %w", v, key, err)
}

func (p *envParser) intVar(key string, fallback int) int {
	v, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *envParser) int64Var(key string, fallback int64) int64 {
	v, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *envParser) floatVar(key string, fallback float64) float64 {
	v, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *envParser) boolVar(key string, fallback bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return b
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
