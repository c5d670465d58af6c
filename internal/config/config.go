// Package config provides configuration loading and management for the application.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/stock-coverage-engine/internal/model"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// The main sales data source to use when others fail
	PrimarySource string

	// Base URLs for the sales/availability data sources
	ERPURL       string
	POSURL       string
	EcommerceURL string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// API keys for the data sources
	APIKeys map[string]string

	// Timeouts and plausibility guard settings
	RequestTimeout    time.Duration
	MaxDailyDemand    float64
	MaxForecastChange float64
	MinSourceCount    int
	CircuitResetDelay time.Duration
}

// Load creates a new Config from environment variables
func Load() Config {
	apiKeys := map[string]string{}
	if raw := os.Getenv("API_KEYS"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &apiKeys)
	}

	return Config{
		Port:              GetEnvOrDefault("PORT", "8080"),
		PrimarySource:     strings.ToLower(GetEnvOrDefault("PRIMARY_SOURCE", "erp")),
		ERPURL:            GetEnvOrDefault("ERP_URL", "https://erp.internal/api"),
		POSURL:            GetEnvOrDefault("POS_URL", "https://pos.internal/api"),
		EcommerceURL:      GetEnvOrDefault("ECOMMERCE_URL", "https://shop.internal/api"),
		OtelEndpoint:      GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		APIKeys:           apiKeys,
		RequestTimeout:    GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		MaxDailyDemand:    GetEnvAsFloat("MAX_DAILY_DEMAND", 100000),
		MaxForecastChange: GetEnvAsFloat("MAX_FORECAST_CHANGE", 5.0),
		MinSourceCount:    GetEnvAsInt("MIN_SOURCE_COUNT", 1),
		CircuitResetDelay: GetEnvAsDuration("CIRCUIT_RESET_DELAY", 5*time.Minute),
	}
}

// StockCoverageConfig parameterizes one coverage calculation. It is
// immutable once constructed; every component takes it as an explicit
// argument so calculations stay safe to run in parallel.
type StockCoverageConfig struct {
	// HistoricalDays is the length of the daily window the calculation
	// runs over
	HistoricalDays int `json:"historical_days"`

	// ForecastHorizon is how many days ahead demand is projected
	ForecastHorizon int `json:"forecast_horizon"`

	// HalfLifeDays controls the exponential time decay of observation weights
	HalfLifeDays float64 `json:"half_life_days"`

	// MinAvailabilityFactor is the availability threshold below which a day
	// counts as a severe stockout and its demand is imputed
	MinAvailabilityFactor float64 `json:"min_availability_factor"`

	// OutlierCapMultiplier bounds availability-adjusted demand at this
	// multiple of the local rolling median
	OutlierCapMultiplier float64 `json:"outlier_cap_multiplier"`

	// ServiceLevel is the percentile used for reorder sizing, in (0,1]
	ServiceLevel float64 `json:"service_level"`

	// SafetyStockDays is the buffer added on top of lead-time demand
	SafetyStockDays float64 `json:"safety_stock_days"`

	// LeadTimeDays is the replenishment lead time; defaults to the
	// forecast horizon when zero
	LeadTimeDays int `json:"lead_time_days"`

	// Feature toggles
	EnableSeasonality         bool `json:"enable_seasonality"`
	EnableTrendCorrection     bool `json:"enable_trend_correction"`
	EnablePromotionAdjustment bool `json:"enable_promotion_adjustment"`
}

// DefaultStockCoverageConfig returns the standard calculation parameters.
func DefaultStockCoverageConfig() StockCoverageConfig {
	return StockCoverageConfig{
		HistoricalDays:            90,
		ForecastHorizon:           7,
		HalfLifeDays:              14,
		MinAvailabilityFactor:     0.6,
		OutlierCapMultiplier:      3,
		ServiceLevel:              0.95,
		SafetyStockDays:           2,
		EnableSeasonality:         true,
		EnableTrendCorrection:     true,
		EnablePromotionAdjustment: true,
	}
}

// Validate checks the configuration invariants before any computation starts.
func (c StockCoverageConfig) Validate() error {
	if c.HistoricalDays <= 0 {
		return &model.InvalidConfigurationError{Field: "historical_days", Reason: "must be positive"}
	}
	if c.ForecastHorizon <= 0 {
		return &model.InvalidConfigurationError{Field: "forecast_horizon", Reason: "must be positive"}
	}
	if c.HalfLifeDays <= 0 {
		return &model.InvalidConfigurationError{Field: "half_life_days", Reason: "must be positive"}
	}
	if c.MinAvailabilityFactor <= 0 || c.MinAvailabilityFactor > 1 {
		return &model.InvalidConfigurationError{Field: "min_availability_factor", Reason: "must be in (0,1]"}
	}
	if c.ServiceLevel <= 0 || c.ServiceLevel > 1 {
		return &model.InvalidConfigurationError{Field: "service_level", Reason: "must be in (0,1]"}
	}
	if c.OutlierCapMultiplier <= 0 {
		return &model.InvalidConfigurationError{Field: "outlier_cap_multiplier", Reason: "must be positive"}
	}
	if c.SafetyStockDays < 0 {
		return &model.InvalidConfigurationError{Field: "safety_stock_days", Reason: "must not be negative"}
	}
	if c.LeadTimeDays < 0 {
		return &model.InvalidConfigurationError{Field: "lead_time_days", Reason: "must not be negative"}
	}
	return nil
}

// EffectiveLeadTime returns the lead time in days, falling back to the
// forecast horizon when unset.
func (c StockCoverageConfig) EffectiveLeadTime() int {
	if c.LeadTimeDays > 0 {
		return c.LeadTimeDays
	}
	return c.ForecastHorizon
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
