// Package main is the entry point for the Stock Coverage Engine, a service
// that turns raw sales and availability history into coverage forecasts and
// reorder recommendations for retail SKUs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/stock-coverage-engine/internal/batch"
	"github.com/yourorg/stock-coverage-engine/internal/circuitbreaker"
	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/coverage"
	"github.com/yourorg/stock-coverage-engine/internal/enterprise"
	"github.com/yourorg/stock-coverage-engine/internal/fetch"
	"github.com/yourorg/stock-coverage-engine/internal/model"
	"github.com/yourorg/stock-coverage-engine/internal/otel"
	"github.com/yourorg/stock-coverage-engine/internal/security"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// ServerConfig holds the configuration for the HTTP server
type ServerConfig struct {
	// HTTP port to listen on
	Port string

	// Request timeout for fetching sales history and calculating
	Timeout time.Duration

	// Whether to run every result through the plausibility circuit breaker
	EnableCircuitBreaker bool

	// Whether to enable Prometheus metrics
	EnableMetrics bool

	// Worker count for batch calculations
	BatchWorkers int
}

// Server represents the coverage engine server instance
type Server struct {
	// Configuration for the server
	config ServerConfig

	// Full engine configuration (sources, export, integrity, limits)
	engineCfg *config.EngineConfig

	// HTTP server instance
	server *http.Server

	// Circuit breaker for result plausibility
	breaker *circuitbreaker.CircuitBreaker

	// Metrics registry
	metrics *serverMetrics

	// Enterprise features
	multiSource      *fetch.MultiSourceClient
	resultExporter   *enterprise.ResultExporter
	dataIntegrity    *security.DataIntegrityService
	rateLimit        *rate.Limiter
	enableEnterprise bool
}

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	sourceErrors    *prometheus.CounterVec
	circuitState    prometheus.Gauge
	lastCoverage    prometheus.Gauge
	lastForecast    prometheus.Gauge
	batchSize       prometheus.Gauge
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coverage_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"status", "endpoint"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coverage_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		sourceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coverage_source_errors_total",
				Help: "Total number of sales data source errors",
			},
			[]string{"source"},
		),
		circuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coverage_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		lastCoverage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coverage_last_coverage_days",
				Help: "Coverage days of the most recent calculation",
			},
		),
		lastForecast: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coverage_last_demand_forecast",
				Help: "Demand forecast of the most recent calculation",
			},
		),
		batchSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coverage_batch_size",
				Help: "Number of SKUs in the most recent batch run",
			},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.sourceErrors,
		m.circuitState,
		m.lastCoverage,
		m.lastForecast,
		m.batchSize,
	)

	return m
}

// main is the entry point for the application
func main() {
	// Configure logging
	setupLogging()

	// Load configuration
	cfg := loadConfig()

	engineCfg, err := config.LoadEngineConfig(os.Getenv("ENGINE_CONFIG_PATH"))
	if err != nil {
		logrus.Fatalf("Failed to load engine configuration: %v", err)
	}

	// Initialize tracing
	shutdownTracer := otel.InitTracer(engineCfg.BaseConfig)
	defer shutdownTracer()

	// Create and start server
	server := NewServer(cfg, engineCfg)
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	// Set log formatter based on environment
	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	// Set log level based on environment
	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// loadConfig loads server configuration from environment variables
func loadConfig() ServerConfig {
	// Load from environment or use defaults
	return ServerConfig{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Timeout:              getDurationOrDefault("TIMEOUT", 10*time.Second),
		EnableCircuitBreaker: getEnvBool("ENABLE_CIRCUIT_BREAKER", true),
		EnableMetrics:        getEnvBool("ENABLE_METRICS", true),
		BatchWorkers:         getEnvInt("BATCH_WORKERS", batch.DefaultWorkers),
	}
}

// NewServer creates a new server instance with sources and circuit breaker
func NewServer(cfg ServerConfig, engineCfg *config.EngineConfig) *Server {
	// Create circuit breaker if enabled
	var breaker *circuitbreaker.CircuitBreaker
	if cfg.EnableCircuitBreaker {
		breaker = circuitbreaker.New(circuitbreaker.Thresholds{
			MaxDailyDemand:    engineCfg.BaseConfig.MaxDailyDemand,
			MaxForecastChange: engineCfg.BaseConfig.MaxForecastChange,
			MinDataQuality:    getEnvFloat("MIN_DATA_QUALITY", 0),
		}).WithResetDelay(engineCfg.BaseConfig.CircuitResetDelay).
			WithTripCallback(func(reason string, result model.StockCoverageResult) {
				logrus.WithField("sku", result.SKU).Warnf("Circuit breaker tripped: %s", reason)
			})
	}

	// Initialize metrics if enabled
	var metricsRegistry *serverMetrics
	if cfg.EnableMetrics {
		metricsRegistry = registerMetrics()
	}

	// Check for enterprise mode
	enableEnterprise := getEnvBool("ENABLE_ENTERPRISE_FEATURES", false)

	server := &Server{
		config:           cfg,
		engineCfg:        engineCfg,
		breaker:          breaker,
		metrics:          metricsRegistry,
		enableEnterprise: enableEnterprise,
	}

	// Initialize enterprise features if enabled
	if enableEnterprise {
		logrus.Info("Initializing enterprise features...")

		// Initialize rate limiter
		if engineCfg.RateLimiting.Enabled {
			perSecond := float64(engineCfg.RateLimiting.RequestsPerMin) / 60.0
			server.rateLimit = rate.NewLimiter(rate.Limit(perSecond), engineCfg.RateLimiting.BurstSize)
			logrus.Infof("Rate limiting initialized: %d req/min, burst: %d",
				engineCfg.RateLimiting.RequestsPerMin, engineCfg.RateLimiting.BurstSize)
		}

		// Initialize multi-source client
		if channels := engineCfg.CreateSourceMapping(); len(channels) > 0 {
			server.multiSource = fetch.NewMultiSourceClient(engineCfg.BaseConfig, channels)
			logrus.Infof("Multi-source client initialized with %d channels", len(channels))
		}

		// Initialize data integrity service if enabled
		if engineCfg.DataIntegrity.SignatureEnabled {
			dataIntegrity, err := engineCfg.CreateDataIntegrityService()
			if err != nil {
				logrus.Warnf("Failed to initialize data integrity service: %v", err)
			} else {
				server.dataIntegrity = dataIntegrity
				logrus.Info("Data integrity service initialized")
			}
		}

		// Initialize result exporter if enabled
		if engineCfg.ResultExport.Enabled {
			exporter, err := enterprise.NewResultExporter(enterprise.ExporterConfig{
				Enabled:        true,
				BatchSize:      engineCfg.ResultExport.BatchSize,
				ExportInterval: engineCfg.ResultExport.ExportInterval,
				DashboardURL:   engineCfg.ResultExport.DashboardURL,
				AWSEnabled:     engineCfg.ResultExport.AWSEnabled,
				AWSRegion:      engineCfg.ResultExport.AWSRegion,
				S3Bucket:       engineCfg.ResultExport.S3Bucket,
				WebhookEnabled: engineCfg.ResultExport.WebhookEnabled,
				WebhookURL:     engineCfg.ResultExport.WebhookURL,
				WebhookAPIKey:  engineCfg.ResultExport.WebhookAPIKey,
				KafkaEnabled:   engineCfg.ResultExport.KafkaEnabled,
				KafkaBrokers:   engineCfg.ResultExport.KafkaBrokers,
				KafkaTopic:     engineCfg.ResultExport.KafkaTopic,
			})
			if err != nil {
				logrus.Warnf("Failed to initialize result exporter: %v", err)
			} else {
				server.resultExporter = exporter
				logrus.Info("Result exporter initialized")
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"port":            cfg.Port,
		"timeout":         cfg.Timeout,
		"circuit_breaker": cfg.EnableCircuitBreaker,
		"metrics":         cfg.EnableMetrics,
		"batch_workers":   cfg.BatchWorkers,
		"enterprise":      enableEnterprise,
	}).Info("Server initialized")

	return server
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	// Create a new router
	mux := http.NewServeMux()

	// Register API endpoints
	mux.HandleFunc("/coverage", s.handleCoverage)     // Single SKU calculation
	mux.HandleFunc("/batch", s.handleBatch)           // Batch calculation
	mux.HandleFunc("/health", s.handleHealth)         // Health check endpoint
	mux.HandleFunc("/metrics", s.handleMetrics)       // Prometheus metrics endpoint
	mux.HandleFunc("/status", s.handleStatus)         // Service status endpoint
	mux.HandleFunc("/circuit", s.handleCircuitStatus) // Circuit breaker status/control

	// Configure server with timeouts
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	// Scheduled recalculation over recently served SKUs
	scheduleCtx, stopSchedule := context.WithCancel(context.Background())
	defer stopSchedule()
	if s.enableEnterprise && s.engineCfg.Batch.Enabled && s.multiSource != nil {
		interval, err := time.ParseDuration(s.engineCfg.Batch.ScheduleInterval)
		if err != nil || interval <= 0 {
			interval = 6 * time.Hour
		}
		go s.scheduledRecalculation(scheduleCtx, interval)
	}

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.resultExporter != nil {
		s.resultExporter.Stop()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// scheduledRecalculation periodically recomputes coverage for every SKU the
// server has served recently, so exported results stay fresh as the demand
// window slides forward.
func (s *Server) scheduledRecalculation(ctx context.Context, interval time.Duration) {
	logrus.Infof("Scheduled recalculation enabled, interval %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		skus := s.multiSource.CachedSKUs()
		if max := s.engineCfg.Batch.MaxSKUsPerRun; max > 0 && len(skus) > max {
			skus = skus[:max]
		}
		if len(skus) == 0 {
			continue
		}

		runCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)

		inputs := make([]model.CoverageInput, 0, len(skus))
		for _, sku := range skus {
			data, err := s.multiSource.Fetch(runCtx, sku)
			if err != nil {
				logrus.Warnf("Scheduled recalculation: fetch failed for sku %s: %v", sku, err)
				continue
			}
			product := data.Product
			if product == nil {
				product = &model.Product{SKU: sku}
			}
			inputs = append(inputs, model.CoverageInput{
				Product:      product,
				Sales:        data.Sales,
				Availability: data.Availability,
			})
		}

		workers := s.config.BatchWorkers
		if s.engineCfg.Batch.Workers > 0 {
			workers = s.engineCfg.Batch.Workers
		}

		outcomes := batch.NewRunner(workers, s.engineCfg.Coverage).Run(runCtx, inputs, time.Now().UTC())
		cancel()

		var fresh []model.StockCoverageResult
		for i := range outcomes {
			if outcomes[i].Err != nil {
				continue
			}
			if s.config.EnableCircuitBreaker && s.breaker != nil {
				if err := s.breaker.Check(outcomes[i].Result); err != nil {
					logrus.Warnf("Scheduled recalculation: breaker rejected sku %s: %v", outcomes[i].SKU, err)
					continue
				}
			}
			fresh = append(fresh, outcomes[i].Result)
		}

		if s.resultExporter != nil && len(fresh) > 0 {
			s.resultExporter.Add(fresh)
		}
		logrus.Infof("Scheduled recalculation refreshed %d/%d SKUs", len(fresh), len(skus))
	}
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "OK",
		"version":   "1.0.0",
		"algorithm": coverage.Algorithm,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics exposes Prometheus metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.config.EnableMetrics {
		http.Error(w, "Metrics disabled", http.StatusServiceUnavailable)
		return
	}

	promhttp.Handler().ServeHTTP(w, r)
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "operational",
		"uptime":    time.Since(startTime).String(),
		"version":   "1.0.0",
		"algorithm": coverage.Algorithm,
		"configuration": map[string]interface{}{
			"historical_days":  s.engineCfg.Coverage.HistoricalDays,
			"forecast_horizon": s.engineCfg.Coverage.ForecastHorizon,
			"circuit_breaker":  s.config.EnableCircuitBreaker,
			"batch_workers":    s.config.BatchWorkers,
		},
	}

	// Add circuit breaker state if enabled
	if s.config.EnableCircuitBreaker && s.breaker != nil {
		status["circuit_state"] = s.breaker.GetState().String()
	}

	// Add exporter status in enterprise mode
	if s.enableEnterprise && s.resultExporter != nil {
		status["result_export"] = s.resultExporter.GetExporterStatus()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleCircuitStatus allows viewing and controlling the circuit breaker
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	if !s.config.EnableCircuitBreaker || s.breaker == nil {
		http.Error(w, "Circuit breaker not enabled", http.StatusServiceUnavailable)
		return
	}

	response := map[string]interface{}{
		"state": s.breaker.GetState().String(),
	}

	// Allow reset operation via POST
	if r.Method == http.MethodPost {
		action := r.URL.Query().Get("action")
		if action == "reset" {
			s.breaker.Reset()
			response["message"] = "Circuit breaker reset"
		}
	}

	if sku := r.URL.Query().Get("sku"); sku != "" {
		if lastGood, ok := s.breaker.LastGoodResult(sku); ok {
			response["last_good_result"] = lastGood
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// CoverageRequest is the body of a single-SKU calculation request. Either an
// inline input is supplied or a SKU to fetch history for from the configured
// sales channels.
type CoverageRequest struct {
	SKU    string                      `json:"sku"`
	Input  *model.CoverageInput        `json:"input,omitempty"`
	Config *config.StockCoverageConfig `json:"config,omitempty"`
}

// CoverageResponse wraps a calculation result with request metadata.
type CoverageResponse struct {
	StatusCode int                       `json:"statusCode"`
	Status     string                    `json:"status"`
	Result     model.StockCoverageResult `json:"result"`
	Meta       map[string]interface{}    `json:"meta,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// BatchRequest is the body of a batch calculation request.
type BatchRequest struct {
	Inputs []model.CoverageInput       `json:"inputs"`
	Config *config.StockCoverageConfig `json:"config,omitempty"`
}

// handleCoverage processes a single SKU coverage calculation
func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// Only accept POST requests
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Apply rate limiting if enabled in enterprise mode
	if s.enableEnterprise && s.rateLimit != nil {
		if !s.rateLimit.Allow() {
			s.errorResponse(w, "coverage", http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
	}

	var request CoverageRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.errorResponse(w, "coverage", http.StatusBadRequest, "Invalid request body")
		return
	}

	if s.metrics != nil {
		s.metrics.requestCounter.WithLabelValues("started", "coverage").Inc()
	}

	// Set up context with timeout from config
	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	ctx, span := otel.Tracer().Start(ctx, "coverage.calculate")
	defer span.End()

	input, err := s.resolveInput(ctx, request)
	if err != nil {
		otel.RecordError(ctx, err)
		s.errorResponse(w, "coverage", http.StatusBadGateway, fmt.Sprintf("Error fetching SKU history: %v", err))
		return
	}

	cfg := s.engineCfg.Coverage
	if request.Config != nil {
		cfg = *request.Config
	}

	now := time.Now().UTC()
	result, err := coverage.Calculate(input, cfg, now)
	if err != nil {
		otel.RecordError(ctx, err)
		s.calculationError(w, "coverage", err)
		return
	}
	result = result.WithCalculationID(uuid.NewString())

	// Apply circuit breaker check if enabled
	if s.config.EnableCircuitBreaker && s.breaker != nil {
		if err := s.breaker.Check(result); err != nil {
			logrus.Warnf("Circuit breaker rejected result: %v", err)

			// Attempt to use the last known good result for this SKU
			if lastGood, ok := s.breaker.LastGoodResult(result.SKU); ok {
				logrus.WithField("sku", result.SKU).Info("Serving last known good result")
				result = lastGood
			} else {
				s.errorResponse(w, "coverage", http.StatusServiceUnavailable, fmt.Sprintf("Circuit breaker open: %v", err))
				return
			}
		}
		if s.metrics != nil {
			s.metrics.circuitState.Set(float64(s.breaker.GetState()))
		}
	}

	// Track the calculation in Prometheus
	if s.metrics != nil {
		s.metrics.lastCoverage.Set(result.CoverageDays)
		s.metrics.lastForecast.Set(result.DemandForecast)
	}

	response := CoverageResponse{
		StatusCode: http.StatusOK,
		Status:     "success",
		Result:     result,
		Meta: map[string]interface{}{
			"latencyMs": time.Since(start).Milliseconds(),
			"algorithm": result.Algorithm,
		},
	}

	// Add enterprise-specific metadata if enabled
	if s.enableEnterprise {
		response.Meta["enterprise"] = true
		if s.dataIntegrity != nil {
			response.Meta["signed"] = true
			response.Meta["publicKey"] = s.dataIntegrity.GetPublicKey()
		}
	}

	if s.metrics != nil {
		s.metrics.requestDuration.WithLabelValues("coverage").Observe(time.Since(start).Seconds())
		s.metrics.requestCounter.WithLabelValues("success", "coverage").Inc()
	}

	// Apply data integrity signing if enabled
	var responseData interface{} = response
	if s.enableEnterprise && s.dataIntegrity != nil {
		wrapped, err := s.dataIntegrity.CreateTamperProofWrapper(response, map[string]interface{}{
			"timestamp":      now.Unix(),
			"source":         "stock-coverage-engine",
			"version":        "1.0.0",
			"calculation_id": result.CalculationID,
		})
		if err != nil {
			logrus.Warnf("Failed to create tamper-proof data: %v", err)
		} else {
			responseData = wrapped
		}
	}

	// Export result if enabled
	if s.enableEnterprise && s.resultExporter != nil {
		s.resultExporter.Add([]model.StockCoverageResult{result})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responseData)
}

// handleBatch processes a batch of SKU coverage calculations
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.enableEnterprise && s.rateLimit != nil {
		if !s.rateLimit.Allow() {
			s.errorResponse(w, "batch", http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
	}

	var request BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.errorResponse(w, "batch", http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(request.Inputs) == 0 {
		s.errorResponse(w, "batch", http.StatusBadRequest, "Batch request contains no inputs")
		return
	}
	if max := s.engineCfg.Batch.MaxSKUsPerRun; max > 0 && len(request.Inputs) > max {
		s.errorResponse(w, "batch", http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Batch exceeds maximum of %d SKUs per run", max))
		return
	}

	if s.metrics != nil {
		s.metrics.requestCounter.WithLabelValues("started", "batch").Inc()
		s.metrics.batchSize.Set(float64(len(request.Inputs)))
	}

	cfg := s.engineCfg.Coverage
	if request.Config != nil {
		cfg = *request.Config
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Timeout)
	defer cancel()

	workers := s.config.BatchWorkers
	if s.engineCfg.Batch.Enabled && s.engineCfg.Batch.Workers > 0 {
		workers = s.engineCfg.Batch.Workers
	}

	runner := batch.NewRunner(workers, cfg)
	outcomes := runner.Run(ctx, request.Inputs, time.Now().UTC())

	var succeeded []model.StockCoverageResult
	failures := 0
	for i := range outcomes {
		if outcomes[i].Err != nil {
			failures++
			continue
		}

		// Run each accepted result through the breaker so one corrupt SKU
		// in a batch trips protection the same way a single request would.
		if s.config.EnableCircuitBreaker && s.breaker != nil {
			if err := s.breaker.Check(outcomes[i].Result); err != nil {
				outcomes[i].Err = err
				outcomes[i].Error = err.Error()
				failures++
				continue
			}
		}
		succeeded = append(succeeded, outcomes[i].Result)
	}

	if s.enableEnterprise && s.resultExporter != nil && len(succeeded) > 0 {
		s.resultExporter.Add(succeeded)
	}

	if s.metrics != nil {
		s.metrics.requestDuration.WithLabelValues("batch").Observe(time.Since(start).Seconds())
		s.metrics.requestCounter.WithLabelValues("success", "batch").Inc()
		if s.breaker != nil {
			s.metrics.circuitState.Set(float64(s.breaker.GetState()))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"statusCode": http.StatusOK,
		"status":     "success",
		"total":      len(outcomes),
		"succeeded":  len(outcomes) - failures,
		"failed":     failures,
		"latencyMs":  time.Since(start).Milliseconds(),
		"outcomes":   outcomes,
	})
}

// resolveInput returns the calculation input, fetching SKU history from the
// configured sales channels when the request did not inline it.
func (s *Server) resolveInput(ctx context.Context, request CoverageRequest) (model.CoverageInput, error) {
	if request.Input != nil {
		return *request.Input, nil
	}

	if request.SKU == "" {
		return model.CoverageInput{}, fmt.Errorf("request must carry either an inline input or a sku")
	}

	if s.multiSource == nil {
		return model.CoverageInput{}, fmt.Errorf("no sales data sources configured for sku %q", request.SKU)
	}

	data, err := s.multiSource.Fetch(ctx, request.SKU)
	if err != nil {
		if s.metrics != nil {
			s.metrics.sourceErrors.WithLabelValues("multisource").Inc()
		}
		return model.CoverageInput{}, err
	}

	product := data.Product
	if product == nil {
		product = &model.Product{SKU: request.SKU}
	}

	return model.CoverageInput{
		Product:      product,
		Sales:        data.Sales,
		Availability: data.Availability,
	}, nil
}

// calculationError maps a calculation failure to the proper HTTP status
func (s *Server) calculationError(w http.ResponseWriter, endpoint string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidConfiguration):
		status = http.StatusBadRequest
	}
	s.errorResponse(w, endpoint, status, err.Error())
}

// errorResponse returns a formatted JSON error response
func (s *Server) errorResponse(w http.ResponseWriter, endpoint string, statusCode int, errorMsg string) {
	logrus.Warn(errorMsg)

	// Track errors in metrics
	if s.metrics != nil {
		s.metrics.requestCounter.WithLabelValues("error", endpoint).Inc()
	}

	response := CoverageResponse{
		StatusCode: statusCode,
		Status:     "error",
		Error:      errorMsg,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
