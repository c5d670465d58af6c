package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/model"
)

// EcommerceClient fetches webshop sales and listing availability. The shop
// tracks how long a listing was purchasable each day, which is the main
// availability signal for online-only SKUs.
type EcommerceClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// NewEcommerceClient creates a new webshop API client
func NewEcommerceClient(cfg config.Config) *EcommerceClient {
	return &EcommerceClient{
		baseURL:    cfg.EcommerceURL,
		httpClient: StandardClient(newRetryClient()),
		apiKey:     getAPIKey(cfg, "ecommerce"),
	}
}

// Fetch retrieves webshop sales and listing uptime for one SKU.
func (c *EcommerceClient) Fetch(ctx context.Context, sku string) (SKUData, error) {
	body := fmt.Sprintf(`{"sku":%q,"include":["sales","uptime"]}`, sku)
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/sku-report", strings.NewReader(body))
	if err != nil {
		return SKUData{}, fmt.Errorf("failed to create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SKUData{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SKUData{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var response struct {
		Sales []struct {
			Date      string  `json:"date"`
			Units     float64 `json:"units"`
			Revenue   float64 `json:"revenue"`
			Promotion bool    `json:"promotion"`
		} `json:"sales"`
		Uptime []struct {
			Date          string `json:"date"`
			MinutesOnline int    `json:"minutes_online"`
		} `json:"uptime"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return SKUData{}, fmt.Errorf("failed to decode response: %w", err)
	}

	var data SKUData
	for _, row := range response.Sales {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			continue
		}
		data.Sales = append(data.Sales, model.SalesRecord{
			Date:      date,
			UnitsSold: row.Units,
			Revenue:   row.Revenue,
			Promotion: row.Promotion,
			Source:    "ecommerce",
		})
	}
	for _, row := range response.Uptime {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			continue
		}
		data.Availability = append(data.Availability, model.AvailabilityRecord{
			Date:           date,
			MinutesInStock: row.MinutesOnline,
		})
	}

	return data, nil
}
