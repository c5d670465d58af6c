// Package fetch provides source-specific clients for retrieving sales and
// availability history from the systems of record.
package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/model"
)

// SKUData is the raw material one source contributes to a calculation.
type SKUData struct {
	Product      *model.Product
	Sales        []model.SalesRecord
	Availability []model.AvailabilityRecord
}

// Source defines the interface that all data-source clients must implement
type Source interface {
	// Fetch retrieves everything this source knows about one SKU
	Fetch(ctx context.Context, sku string) (SKUData, error)
}

// NewSource creates a data-source client based on the configuration and source name
func NewSource(cfg config.Config, source string) Source {
	switch source {
	case "erp":
		return NewERPClient(cfg)
	case "pos":
		return NewPOSClient(cfg)
	case "ecommerce":
		return NewEcommerceClient(cfg)
	default:
		return NewERPClient(cfg)
	}
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return c
}

// StandardClient converts a retryablehttp.Client to a standard http.Client
func StandardClient(retryClient *retryablehttp.Client) *http.Client {
	return retryClient.StandardClient()
}

// getAPIKey retrieves an API key for a specific source from configuration
func getAPIKey(cfg config.Config, source string) string {
	if k, ok := cfg.APIKeys[source]; ok {
		return k
	}
	return ""
}
