// Package types contains shared type definitions used across multiple packages
package types

// SupportedSource represents a sales data channel the engine can pull from
type SupportedSource string

// Supported sales data channels
const (
	SourceERP       SupportedSource = "erp"
	SourcePOS       SupportedSource = "pos"
	SourceEcommerce SupportedSource = "ecommerce"
	SourceWarehouse SupportedSource = "warehouse"
	SourceWholesale SupportedSource = "wholesale"
)

// SourceConfig holds configuration for a specific sales data channel
type SourceConfig struct {
	Enabled     bool    `json:"enabled"`
	APIEndpoint string  `json:"api_endpoint"`
	APIKey      string  `json:"api_key,omitempty"`
	Weight      float64 `json:"weight"` // Weight for cross-channel demand merging
}
