// Package enterprise provides advanced features for enterprise deployments
package enterprise

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/stock-coverage-engine/internal/model"
)

// ResultExporter ships computed coverage results to downstream consumers in
// batches: dashboards, data lakes and replenishment systems.
type ResultExporter struct {
	config         ExporterConfig
	httpClient     *http.Client
	mutex          sync.RWMutex
	batch          []model.StockCoverageResult
	lastExport     time.Time
	exportInterval time.Duration
	exportContext  context.Context
	exportCancel   context.CancelFunc
}

// ExporterConfig holds configuration for result exporting
type ExporterConfig struct {
	// General settings
	Enabled        bool   `json:"enabled"`
	BatchSize      int    `json:"batch_size"`
	ExportInterval string `json:"export_interval"`
	DashboardURL   string `json:"dashboard_url"`

	// AWS settings
	AWSEnabled      bool   `json:"aws_enabled"`
	AWSRegion       string `json:"aws_region"`
	AWSAccessKey    string `json:"aws_access_key,omitempty"`
	AWSSecretKey    string `json:"aws_secret_key,omitempty"`
	CloudwatchGroup string `json:"cloudwatch_group"`
	S3Bucket        string `json:"s3_bucket"`
	S3KeyPrefix     string `json:"s3_key_prefix"`

	// Webhook settings
	WebhookEnabled bool   `json:"webhook_enabled"`
	WebhookURL     string `json:"webhook_url"`
	WebhookAPIKey  string `json:"webhook_api_key,omitempty"`
	WebhookFormat  string `json:"webhook_format"`

	// Kafka settings
	KafkaEnabled  bool     `json:"kafka_enabled"`
	KafkaBrokers  []string `json:"kafka_brokers"`
	KafkaTopic    string   `json:"kafka_topic"`
	KafkaUsername string   `json:"kafka_username,omitempty"`
	KafkaPassword string   `json:"kafka_password,omitempty"`
}

// NewResultExporter creates a new result exporter
func NewResultExporter(config ExporterConfig) (*ResultExporter, error) {
	if !config.Enabled {
		return &ResultExporter{config: config}, nil
	}

	exportInterval, err := time.ParseDuration(config.ExportInterval)
	if err != nil {
		exportInterval = 1 * time.Minute // Default
	}

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			IdleConnTimeout: 90 * time.Second,
		},
	}

	exporter := &ResultExporter{
		config:         config,
		httpClient:     httpClient,
		batch:          make([]model.StockCoverageResult, 0, config.BatchSize),
		exportInterval: exportInterval,
	}

	exporter.exportContext, exporter.exportCancel = context.WithCancel(context.Background())
	go exporter.periodicExport()

	logrus.Info("Result exporter initialized")
	return exporter, nil
}

// Add queues results for export, flushing immediately when the batch is full.
func (e *ResultExporter) Add(results []model.StockCoverageResult) {
	if !e.config.Enabled || len(results) == 0 {
		return
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.batch = append(e.batch, results...)

	if len(e.batch) >= e.config.BatchSize {
		go e.exportResults()
	}
}

// periodicExport runs a background task to periodically flush the batch
func (e *ResultExporter) periodicExport() {
	ticker := time.NewTicker(e.exportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.exportResults()
		case <-e.exportContext.Done():
			return
		}
	}
}

// exportResults flushes the current batch to every enabled destination
func (e *ResultExporter) exportResults() {
	e.mutex.Lock()

	if len(e.batch) == 0 {
		e.mutex.Unlock()
		return
	}

	results := make([]model.StockCoverageResult, len(e.batch))
	copy(results, e.batch)
	e.batch = make([]model.StockCoverageResult, 0, e.config.BatchSize)
	e.lastExport = time.Now()

	e.mutex.Unlock()

	var wg sync.WaitGroup

	if e.config.AWSEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.exportToAWS(results); err != nil {
				logrus.Errorf("Failed to export to AWS: %v", err)
			}
		}()
	}

	if e.config.WebhookEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.exportToWebhook(results); err != nil {
				logrus.Errorf("Failed to export to webhook: %v", err)
			}
		}()
	}

	if e.config.KafkaEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.exportToKafka(results); err != nil {
				logrus.Errorf("Failed to export to Kafka: %v", err)
			}
		}()
	}

	wg.Wait()
	logrus.Infof("Exported %d coverage results to enterprise endpoints", len(results))
}

// exportToAWS exports results to AWS CloudWatch and S3
func (e *ResultExporter) exportToAWS(results []model.StockCoverageResult) error {
	// In a real deployment this would use the AWS SDK to write to
	// CloudWatch and S3. For this build we just log the operation.
	logrus.Infof("Would export %d results to AWS CloudWatch and S3", len(results))
	return nil
}

// exportToWebhook exports results to a webhook endpoint
func (e *ResultExporter) exportToWebhook(results []model.StockCoverageResult) error {
	if e.config.WebhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	exportData := struct {
		Results    []model.StockCoverageResult `json:"results"`
		ExportTime string                      `json:"export_time"`
		Count      int                         `json:"count"`
	}{
		Results:    results,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(results),
	}

	jsonData, err := json.Marshal(exportData)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	req, err := http.NewRequest("POST", e.config.WebhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if e.config.WebhookAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.WebhookAPIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}

	return nil
}

// exportToKafka exports results to a Kafka topic
func (e *ResultExporter) exportToKafka(results []model.StockCoverageResult) error {
	if !e.config.KafkaEnabled || len(e.config.KafkaBrokers) == 0 {
		return fmt.Errorf("Kafka not configured")
	}

	logrus.Infof("Would export %d results to Kafka topic %s at brokers %s",
		len(results), e.config.KafkaTopic, strings.Join(e.config.KafkaBrokers, ","))

	return nil
}

// Stop cleanly stops the exporter
func (e *ResultExporter) Stop() {
	if e.exportCancel != nil {
		e.exportCancel()
	}

	// Export any remaining results
	e.exportResults()
}

// GetExporterStatus returns the current status of the exporter
func (e *ResultExporter) GetExporterStatus() map[string]interface{} {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	status := map[string]interface{}{
		"enabled":         e.config.Enabled,
		"batch_size":      e.config.BatchSize,
		"export_interval": e.exportInterval.String(),
		"current_batch":   len(e.batch),
		"aws_enabled":     e.config.AWSEnabled,
		"webhook_enabled": e.config.WebhookEnabled,
		"kafka_enabled":   e.config.KafkaEnabled,
	}

	if !e.lastExport.IsZero() {
		status["last_export"] = e.lastExport.Format(time.RFC3339)
		status["next_export_in"] = (e.exportInterval - time.Since(e.lastExport)).String()
	}

	return status
}
