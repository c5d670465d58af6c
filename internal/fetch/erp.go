// Package fetch provides API clients for the sales and inventory systems of record
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/model"
)

// ERPClient implements a client for the ERP inventory API. The ERP is the
// authoritative source for the product record itself.
type ERPClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// NewERPClient creates a new ERP API client
func NewERPClient(cfg config.Config) *ERPClient {
	return &ERPClient{
		baseURL:    cfg.ERPURL,
		httpClient: StandardClient(newRetryClient()),
		apiKey:     getAPIKey(cfg, "erp"),
	}
}

// Fetch retrieves the product record plus sales and availability history
// from the ERP API.
func (c *ERPClient) Fetch(ctx context.Context, sku string) (SKUData, error) {
	endpoint := fmt.Sprintf("%s/v1/products/%s/history", c.baseURL, url.PathEscape(sku))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return SKUData{}, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	logrus.Debugf("Fetching SKU history from ERP: %s", endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SKUData{}, fmt.Errorf("error fetching data from ERP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return SKUData{}, fmt.Errorf("ERP API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	// Structure matching the ERP history endpoint response
	var response struct {
		Product struct {
			SKU          string  `json:"sku"`
			CurrentStock float64 `json:"current_stock"`
			CostPrice    float64 `json:"cost_price"`
			MinimumStock float64 `json:"minimum_stock"`
		} `json:"product"`
		Sales []struct {
			Date      string  `json:"date"`
			UnitsSold float64 `json:"units_sold"`
			Revenue   float64 `json:"revenue"`
			Promotion bool    `json:"promotion"`
		} `json:"sales"`
		Availability []struct {
			Date           string `json:"date"`
			MinutesInStock int    `json:"minutes_in_stock"`
		} `json:"availability"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return SKUData{}, fmt.Errorf("error decoding response: %w", err)
	}

	if response.Product.SKU == "" {
		return SKUData{}, fmt.Errorf("no product returned from ERP for sku %q", sku)
	}

	data := SKUData{
		Product: &model.Product{
			SKU:          response.Product.SKU,
			CurrentStock: response.Product.CurrentStock,
			CostPrice:    response.Product.CostPrice,
			MinimumStock: response.Product.MinimumStock,
		},
	}
	for _, row := range response.Sales {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			logrus.Debugf("Skipping ERP sales row with bad date %q: %v", row.Date, err)
			continue
		}
		data.Sales = append(data.Sales, model.SalesRecord{
			Date:      date,
			UnitsSold: row.UnitsSold,
			Revenue:   row.Revenue,
			Promotion: row.Promotion,
			Source:    "erp",
		})
	}
	for _, row := range response.Availability {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			continue
		}
		data.Availability = append(data.Availability, model.AvailabilityRecord{
			Date:           date,
			MinutesInStock: row.MinutesInStock,
		})
	}

	logrus.Debugf("Received %d sales rows and %d availability rows from ERP for %s",
		len(data.Sales), len(data.Availability), sku)
	return data, nil
}
