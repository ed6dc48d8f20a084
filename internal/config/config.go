// Package config provides configuration management for the engine.
//
// Configuration is loaded from a .env file (if present) and environment
// variables. Fee parameters are fixed-point decimal strings so they survive
// the trip through the environment without float rounding.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"cosmossdk.io/math"
	"github.com/joho/godotenv"

	"github.com/calculated-finance/calc-go/internal/domain"
)

// Config holds application configuration.
type Config struct {
	DataDir  string // Base directory for the engine database
	Port     int    // HTTP server port
	LogLevel string // Log level (debug, info, warn, error)
	Pretty   bool   // Pretty console logging

	VenueBaseURL  string // Order-book venue REST base URL
	VenueWSURL    string // Order-book venue ticker stream URL (optional)
	OracleBaseURL string // Swap-adjustment oracle base URL

	// Paused stops all execution turns while leaving the read surface up.
	Paused bool

	// Fee parameters. All rates are fractions, e.g. "0.0165" for 1.65%.
	DefaultSwapFeeRate       math.LegacyDec
	WeightedScaleSwapFeeRate math.LegacyDec
	AutomationFeeRate        math.LegacyDec
	PerformanceFeeRate       math.LegacyDec
	FeeCollectors            []domain.FeeCollector

	// Watcher cadences (robfig/cron specs, with seconds field).
	TimeWatcherSpec  string
	PriceWatcherSpec string

	// ExecutorAddress is the engine's settlement account at the custodian.
	ExecutorAddress string
}

// Load reads configuration from the environment, with .env as a base layer.
func Load() (*Config, error) {
	// Missing .env is fine - plain environment variables still apply
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("CALC_PORT", "8001"))
	if err != nil {
		return nil, fmt.Errorf("invalid CALC_PORT: %w", err)
	}

	cfg := &Config{
		DataDir:          getEnv("CALC_DATA_DIR", "./data"),
		Port:             port,
		LogLevel:         getEnv("CALC_LOG_LEVEL", "info"),
		Pretty:           getEnv("CALC_LOG_PRETTY", "false") == "true",
		VenueBaseURL:     getEnv("CALC_VENUE_URL", "http://localhost:8090"),
		VenueWSURL:       getEnv("CALC_VENUE_WS_URL", ""),
		OracleBaseURL:    getEnv("CALC_ORACLE_URL", "http://localhost:8091"),
		Paused:           getEnv("CALC_PAUSED", "false") == "true",
		TimeWatcherSpec:  getEnv("CALC_TIME_WATCHER_SPEC", "*/10 * * * * *"),
		PriceWatcherSpec: getEnv("CALC_PRICE_WATCHER_SPEC", "*/15 * * * * *"),
		ExecutorAddress:  getEnv("CALC_EXECUTOR_ADDRESS", "calc-engine"),
	}

	rates := []struct {
		dst  *math.LegacyDec
		key  string
		def  string
		name string
	}{
		{&cfg.DefaultSwapFeeRate, "CALC_SWAP_FEE_RATE", "0.0165", "swap fee rate"},
		{&cfg.WeightedScaleSwapFeeRate, "CALC_WEIGHTED_SCALE_SWAP_FEE_RATE", "0.01", "weighted scale swap fee rate"},
		{&cfg.AutomationFeeRate, "CALC_AUTOMATION_FEE_RATE", "0.0075", "automation fee rate"},
		{&cfg.PerformanceFeeRate, "CALC_PERFORMANCE_FEE_RATE", "0.2", "performance fee rate"},
	}
	for _, r := range rates {
		dec, err := math.LegacyNewDecFromStr(getEnv(r.key, r.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", r.name, err)
		}
		*r.dst = dec
	}

	collectors, err := parseFeeCollectors(getEnv("CALC_FEE_COLLECTORS", `[{"address":"fee-collector","allocation":"1.0"}]`))
	if err != nil {
		return nil, fmt.Errorf("invalid CALC_FEE_COLLECTORS: %w", err)
	}
	cfg.FeeCollectors = collectors

	return cfg, nil
}

// parseFeeCollectors decodes the JSON collector list and checks that the
// allocations add up to one.
func parseFeeCollectors(raw string) ([]domain.FeeCollector, error) {
	var entries []struct {
		Address    string `json:"address"`
		Allocation string `json:"allocation"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one fee collector is required")
	}

	collectors := make([]domain.FeeCollector, 0, len(entries))
	total := math.LegacyZeroDec()
	for _, e := range entries {
		allocation, err := math.LegacyNewDecFromStr(e.Allocation)
		if err != nil {
			return nil, fmt.Errorf("collector %s: %w", e.Address, err)
		}
		total = total.Add(allocation)
		collectors = append(collectors, domain.FeeCollector{Address: e.Address, Allocation: allocation})
	}
	if !total.Equal(math.LegacyOneDec()) {
		return nil, fmt.Errorf("fee collector allocations must add up to 1, got %s", total)
	}

	return collectors, nil
}

// getEnv retrieves an environment variable, returning fallback if unset.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
