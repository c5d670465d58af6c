package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/model"
)

// POSClient fetches in-store sales from the point-of-sale reporting API.
// POS knows nothing about the product record or shelf availability; it only
// contributes sales rows.
type POSClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// NewPOSClient creates a new POS reporting client
func NewPOSClient(cfg config.Config) *POSClient {
	return &POSClient{
		baseURL:    cfg.POSURL,
		httpClient: StandardClient(newRetryClient()),
		apiKey:     getAPIKey(cfg, "pos"),
	}
}

// Fetch retrieves daily in-store sales for one SKU.
func (c *POSClient) Fetch(ctx context.Context, sku string) (SKUData, error) {
	endpoint := fmt.Sprintf("%s/v2/sales/daily?sku=%s", c.baseURL, url.QueryEscape(sku))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return SKUData{}, fmt.Errorf("failed to create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SKUData{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SKUData{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var response struct {
		Days []struct {
			Date      string  `json:"date"`
			Units     float64 `json:"units"`
			Revenue   float64 `json:"revenue"`
			Promotion bool    `json:"promotion"`
		} `json:"days"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return SKUData{}, fmt.Errorf("failed to decode response: %w", err)
	}

	var data SKUData
	for _, day := range response.Days {
		date, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			continue
		}
		data.Sales = append(data.Sales, model.SalesRecord{
			Date:      date,
			UnitsSold: day.Units,
			Revenue:   day.Revenue,
			Promotion: day.Promotion,
			Source:    "pos",
		})
	}

	return data, nil
}
