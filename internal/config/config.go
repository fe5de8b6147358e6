// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/aristath/allocator/internal/modules/optimization"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the price cache (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	FetchPolicy      string
	FetchConcurrency int
	SolveTimeout     time.Duration
	DefaultStrategy  string

	SolverMaxOuterIterations int
	SolverMaxInnerIterations int
	SolverTolerance          float64
	SamplerSamples           int
	SamplerSeed              int64
	HRPLinkage               string

	PriceCache   PriceCacheConfig
	PriceSource  string // yahoo or alpaca
	YahooBaseURL string
	Alpaca       AlpacaConfig
}

// Price sources
const (
	PriceSourceYahoo  = "yahoo"
	PriceSourceAlpaca = "alpaca"
)

// AlpacaConfig holds Alpaca market data credentials
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string
}

// PriceCacheConfig holds the SQLite price cache settings
type PriceCacheConfig struct {
	Enabled       bool
	RetentionDays int
	PruneSchedule string // cron spec

	MaintenanceSchedule string // cron spec; integrity check, WAL truncate, VACUUM
	MinFreeDiskMB       float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 5000),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		FetchPolicy:      getEnv("FETCH_POLICY", string(optimization.FetchPolicySkip)),
		FetchConcurrency: getEnvAsInt("FETCH_CONCURRENCY", 4),
		SolveTimeout:     getEnvAsDuration("SOLVE_TIMEOUT", 30*time.Second),
		DefaultStrategy:  getEnv("DEFAULT_STRATEGY", optimization.StrategyMinVariance),

		SolverMaxOuterIterations: getEnvAsInt("SOLVER_MAX_OUTER_ITERATIONS", 100),
		SolverMaxInnerIterations: getEnvAsInt("SOLVER_MAX_INNER_ITERATIONS", 20000),
		SolverTolerance:          getEnvAsFloat("SOLVER_TOLERANCE", 1e-9),
		SamplerSamples:           getEnvAsInt("SAMPLER_SAMPLES", 10000),
		SamplerSeed:              int64(getEnvAsInt("SAMPLER_SEED", 42)),
		HRPLinkage:               getEnv("HRP_LINKAGE", "single"),

		PriceCache: PriceCacheConfig{
			Enabled:       getEnvAsBool("PRICE_CACHE_ENABLED", true),
			RetentionDays: getEnvAsInt("PRICE_CACHE_RETENTION_DAYS", 3650),
			PruneSchedule: getEnv("PRICE_CACHE_PRUNE_SCHEDULE", "0 0 3 * * *"),

			MaintenanceSchedule: getEnv("PRICE_CACHE_MAINTENANCE_SCHEDULE", "0 30 3 * * 0"),
			MinFreeDiskMB:       getEnvAsFloat("PRICE_CACHE_MIN_FREE_DISK_MB", 500),
		},
		PriceSource:  getEnv("PRICE_SOURCE", PriceSourceYahoo),
		YahooBaseURL: getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
		Alpaca: AlpacaConfig{
			APIKey:    getEnv("ALPACA_API_KEY", ""),
			APISecret: getEnv("ALPACA_API_SECRET", ""),
			BaseURL:   getEnv("ALPACA_DATA_URL", ""),
			Feed:      getEnv("ALPACA_FEED", "iex"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.PriceCache.Enabled {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that every setting is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if _, err := optimization.ParseFetchPolicy(c.FetchPolicy); err != nil {
		return err
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1, got %d", c.FetchConcurrency)
	}
	if c.SolveTimeout <= 0 {
		return fmt.Errorf("SOLVE_TIMEOUT must be positive, got %s", c.SolveTimeout)
	}
	if _, err := optimization.NewStrategy(c.DefaultStrategy, c.StrategySettings(), zerolog.Nop()); err != nil {
		return fmt.Errorf("invalid DEFAULT_STRATEGY: %w", err)
	}
	if c.SolverTolerance <= 0 {
		return fmt.Errorf("SOLVER_TOLERANCE must be positive, got %g", c.SolverTolerance)
	}
	if c.SamplerSamples < 1 {
		return fmt.Errorf("SAMPLER_SAMPLES must be at least 1, got %d", c.SamplerSamples)
	}
	switch c.PriceSource {
	case PriceSourceYahoo:
	case PriceSourceAlpaca:
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return fmt.Errorf("PRICE_SOURCE=alpaca requires ALPACA_API_KEY and ALPACA_API_SECRET")
		}
	default:
		return fmt.Errorf("invalid PRICE_SOURCE %q (supported: %s, %s)", c.PriceSource, PriceSourceYahoo, PriceSourceAlpaca)
	}
	if c.PriceCache.Enabled {
		if c.PriceCache.RetentionDays < 1 {
			return fmt.Errorf("PRICE_CACHE_RETENTION_DAYS must be at least 1, got %d", c.PriceCache.RetentionDays)
		}
		if _, err := cronParser.Parse(c.PriceCache.PruneSchedule); err != nil {
			return fmt.Errorf("invalid PRICE_CACHE_PRUNE_SCHEDULE %q: %w", c.PriceCache.PruneSchedule, err)
		}
		if _, err := cronParser.Parse(c.PriceCache.MaintenanceSchedule); err != nil {
			return fmt.Errorf("invalid PRICE_CACHE_MAINTENANCE_SCHEDULE %q: %w", c.PriceCache.MaintenanceSchedule, err)
		}
	}
	return nil
}

// StrategySettings converts the solver and sampler settings for optimization.NewStrategy
func (c *Config) StrategySettings() optimization.Settings {
	settings := optimization.DefaultSettings()
	settings.Solver.MaxOuterIterations = c.SolverMaxOuterIterations
	settings.Solver.MaxInnerIterations = c.SolverMaxInnerIterations
	settings.Solver.Tolerance = c.SolverTolerance
	settings.Sampler.Samples = c.SamplerSamples
	settings.Sampler.Seed = c.SamplerSeed
	settings.HRPLinkage = c.HRPLinkage
	return settings
}

// ServiceConfig builds the optimizer service configuration
func (c *Config) ServiceConfig() optimization.ServiceConfig {
	policy, _ := optimization.ParseFetchPolicy(c.FetchPolicy)
	return optimization.ServiceConfig{
		FetchPolicy:      policy,
		FetchConcurrency: c.FetchConcurrency,
		SolveTimeout:     c.SolveTimeout,
		DefaultStrategy:  c.DefaultStrategy,
		Strategies:       c.StrategySettings(),
	}
}

// HistoryDBPath is the price cache database file
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// cronParser accepts the six-field (with seconds) specs the scheduler runs
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvAsDuration also accepts day and week units, e.g. "1d12h"
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := str2duration.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
