package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/stock-coverage-engine/internal/security"
	"github.com/yourorg/stock-coverage-engine/internal/types"
)

// EngineConfig extends the base configuration with deployment-grade features
type EngineConfig struct {
	// Base configuration
	BaseConfig Config `json:"base"`

	// Calculation parameters shared by all SKUs unless overridden per request
	Coverage StockCoverageConfig `json:"coverage"`

	// Sales data channels
	SourceConfigs map[string]SourceConfig `json:"sources"`

	// Result export
	ResultExport ExporterConfig `json:"result_export"`

	// Data integrity and cryptographic verification
	DataIntegrity VerificationConfig `json:"data_integrity"`

	// Advanced rate limiting and quotas
	RateLimiting RateLimitConfig `json:"rate_limiting"`

	// Scheduled batch recalculation
	Batch BatchConfig `json:"batch"`
}

// SourceConfig is an alias for types.SourceConfig with an additional Feeds field
type SourceConfig struct {
	types.SourceConfig
	Feeds []string `json:"feeds"`
}

// ExporterConfig defines settings for result export
type ExporterConfig struct {
	Enabled        bool   `json:"enabled"`
	BatchSize      int    `json:"batch_size"`
	ExportInterval string `json:"export_interval"`
	DashboardURL   string `json:"dashboard_url"`

	// Webhook settings
	WebhookEnabled bool   `json:"webhook_enabled"`
	WebhookURL     string `json:"webhook_url"`
	WebhookAPIKey  string `json:"webhook_api_key,omitempty"`

	// AWS settings
	AWSEnabled   bool   `json:"aws_enabled"`
	AWSRegion    string `json:"aws_region"`
	S3Bucket     string `json:"s3_bucket"`

	// Kafka settings
	KafkaEnabled bool     `json:"kafka_enabled"`
	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`
}

// VerificationConfig defines settings for data integrity and verification
type VerificationConfig struct {
	SignatureEnabled     bool   `json:"signature_enabled"`
	VerificationRequired bool   `json:"verification_required"`
	SignatureValidity    string `json:"signature_validity"`
	StrictMode           bool   `json:"strict_mode"`
}

// RateLimitConfig defines settings for rate limiting and quotas
type RateLimitConfig struct {
	Enabled         bool   `json:"enabled"`
	RequestsPerMin  int    `json:"requests_per_min"`
	BurstSize       int    `json:"burst_size"`
	QuotaPerDay     int    `json:"quota_per_day"`
	APIKeyRequired  bool   `json:"api_key_required"`
	APIKeysFilePath string `json:"api_keys_file_path,omitempty"`
}

// BatchConfig defines settings for scheduled batch recalculation
type BatchConfig struct {
	Enabled          bool   `json:"enabled"`
	Workers          int    `json:"workers"`
	ScheduleInterval string `json:"schedule_interval"`
	MaxSKUsPerRun    int    `json:"max_skus_per_run"`
}

// LoadEngineConfig loads the engine configuration from a JSON file
func LoadEngineConfig(configPath string) (*EngineConfig, error) {
	config := DefaultEngineConfig()

	// If no path is specified, use environment variables
	if configPath == "" {
		return loadFromEnv(config)
	}

	fileData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(fileData, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config = applyEnvOverrides(config)

	logrus.Infof("Loaded engine configuration from %s", configPath)
	return config, nil
}

// DefaultEngineConfig returns a default engine configuration
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		BaseConfig: Load(),
		Coverage:   DefaultStockCoverageConfig(),
		SourceConfigs: map[string]SourceConfig{
			"erp": {
				SourceConfig: types.SourceConfig{
					Enabled:     true,
					APIEndpoint: "https://erp.internal/api",
					Weight:      1.0,
				},
				Feeds: []string{"sales", "availability", "product"},
			},
		},
		ResultExport: ExporterConfig{
			Enabled:        false,
			BatchSize:      100,
			ExportInterval: "1m",
		},
		DataIntegrity: VerificationConfig{
			SignatureEnabled:     true,
			VerificationRequired: true,
			SignatureValidity:    "24h",
			StrictMode:           false,
		},
		RateLimiting: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
			BurstSize:      10,
			QuotaPerDay:    10000,
			APIKeyRequired: false,
		},
		Batch: BatchConfig{
			Enabled:          false,
			Workers:          4,
			ScheduleInterval: "6h",
			MaxSKUsPerRun:    1000,
		},
	}
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(config *EngineConfig) (*EngineConfig, error) {
	config.BaseConfig = Load()

	// Load data source configurations
	sources := os.Getenv("SUPPORTED_SOURCES")
	if sources != "" {
		sourceNames := strings.Split(sources, ",")
		for _, source := range sourceNames {
			source = strings.TrimSpace(source)
			envPrefix := "SOURCE_" + strings.ToUpper(source) + "_"

			config.SourceConfigs[source] = SourceConfig{
				SourceConfig: types.SourceConfig{
					Enabled:     GetEnvAsBool(envPrefix+"ENABLED", true),
					APIEndpoint: os.Getenv(envPrefix + "API_ENDPOINT"),
					APIKey:      os.Getenv(envPrefix + "API_KEY"),
					Weight:      GetEnvAsFloat(envPrefix+"WEIGHT", 1.0),
				},
				Feeds: strings.Split(os.Getenv(envPrefix+"FEEDS"), ","),
			}
		}
	}

	// Coverage calculation overrides
	config.Coverage.HistoricalDays = GetEnvAsInt("COVERAGE_HISTORICAL_DAYS", config.Coverage.HistoricalDays)
	config.Coverage.ForecastHorizon = GetEnvAsInt("COVERAGE_FORECAST_HORIZON", config.Coverage.ForecastHorizon)
	config.Coverage.HalfLifeDays = GetEnvAsFloat("COVERAGE_HALF_LIFE_DAYS", config.Coverage.HalfLifeDays)
	config.Coverage.ServiceLevel = GetEnvAsFloat("COVERAGE_SERVICE_LEVEL", config.Coverage.ServiceLevel)
	config.Coverage.EnableSeasonality = GetEnvAsBool("COVERAGE_ENABLE_SEASONALITY", config.Coverage.EnableSeasonality)
	config.Coverage.EnableTrendCorrection = GetEnvAsBool("COVERAGE_ENABLE_TREND", config.Coverage.EnableTrendCorrection)
	config.Coverage.EnablePromotionAdjustment = GetEnvAsBool("COVERAGE_ENABLE_PROMOTION", config.Coverage.EnablePromotionAdjustment)

	// Result export settings
	config.ResultExport.Enabled = GetEnvAsBool("RESULT_EXPORT_ENABLED", false)
	config.ResultExport.BatchSize = GetEnvAsInt("RESULT_EXPORT_BATCH_SIZE", 100)
	config.ResultExport.ExportInterval = GetEnvOrDefault("RESULT_EXPORT_INTERVAL", "1m")

	// Webhook settings
	config.ResultExport.WebhookEnabled = GetEnvAsBool("WEBHOOK_ENABLED", false)
	config.ResultExport.WebhookURL = os.Getenv("WEBHOOK_URL")
	config.ResultExport.WebhookAPIKey = os.Getenv("WEBHOOK_API_KEY")

	// Kafka settings
	config.ResultExport.KafkaEnabled = GetEnvAsBool("KAFKA_ENABLED", false)
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		config.ResultExport.KafkaBrokers = strings.Split(kafkaBrokers, ",")
	}
	config.ResultExport.KafkaTopic = os.Getenv("KAFKA_TOPIC")

	// Data integrity settings
	config.DataIntegrity.SignatureEnabled = GetEnvAsBool("SIGNATURE_ENABLED", true)
	config.DataIntegrity.VerificationRequired = GetEnvAsBool("VERIFICATION_REQUIRED", true)
	config.DataIntegrity.SignatureValidity = GetEnvOrDefault("SIGNATURE_VALIDITY", "24h")
	config.DataIntegrity.StrictMode = GetEnvAsBool("STRICT_MODE", false)

	// Rate limiting settings
	config.RateLimiting.Enabled = GetEnvAsBool("RATE_LIMIT_ENABLED", true)
	config.RateLimiting.RequestsPerMin = GetEnvAsInt("REQUESTS_PER_MIN", 60)
	config.RateLimiting.APIKeyRequired = GetEnvAsBool("API_KEY_REQUIRED", false)

	// Batch settings
	config.Batch.Enabled = GetEnvAsBool("BATCH_ENABLED", false)
	config.Batch.Workers = GetEnvAsInt("BATCH_WORKERS", 4)
	config.Batch.ScheduleInterval = GetEnvOrDefault("BATCH_SCHEDULE_INTERVAL", "6h")

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the loaded configuration
func applyEnvOverrides(config *EngineConfig) *EngineConfig {
	if port := os.Getenv("PORT"); port != "" {
		config.BaseConfig.Port = port
	}

	for sourceName, sourceConfig := range config.SourceConfigs {
		envPrefix := "SOURCE_" + strings.ToUpper(sourceName) + "_"

		if apiKey := os.Getenv(envPrefix + "API_KEY"); apiKey != "" {
			sourceConfig.APIKey = apiKey
			config.SourceConfigs[sourceName] = sourceConfig
		}
	}

	if webhookKey := os.Getenv("WEBHOOK_API_KEY"); webhookKey != "" {
		config.ResultExport.WebhookAPIKey = webhookKey
	}

	return config
}

// CreateSourceMapping creates a channel config mapping from the configuration
func (c *EngineConfig) CreateSourceMapping() map[types.SupportedSource]types.SourceConfig {
	sources := make(map[types.SupportedSource]types.SourceConfig)

	for sourceName, sourceConfig := range c.SourceConfigs {
		if !sourceConfig.Enabled {
			continue
		}

		sources[types.SupportedSource(sourceName)] = sourceConfig.SourceConfig
	}

	return sources
}

// CreateDataIntegrityService creates a data integrity service from the configuration
func (c *EngineConfig) CreateDataIntegrityService() (*security.DataIntegrityService, error) {
	validityDuration, err := time.ParseDuration(c.DataIntegrity.SignatureValidity)
	if err != nil {
		validityDuration = 24 * time.Hour // Default to 24 hours
	}

	opts := security.VerificationOptions{
		SignatureEnabled:     c.DataIntegrity.SignatureEnabled,
		VerificationRequired: c.DataIntegrity.VerificationRequired,
		SignatureValidity:    validityDuration,
		StrictMode:           c.DataIntegrity.StrictMode,
	}

	return security.NewDataIntegrityService(opts)
}
