// Package model defines the core data structures for the stock coverage engine.
package model

import (
	"time"
)

// MinutesPerDay is the denominator for converting tracked in-stock minutes
// into an availability factor.
const MinutesPerDay = 1440

// Product identifies the SKU a coverage calculation runs for.
type Product struct {
	// SKU is the unique identifier of the product
	SKU string `json:"sku"`

	// CurrentStock is the number of units on hand right now
	CurrentStock float64 `json:"current_stock"`

	// CostPrice is the per-unit cost, used for reorder value reporting
	CostPrice float64 `json:"cost_price"`

	// MinimumStock is the merchant-configured floor below which a reorder
	// is always recommended
	MinimumStock float64 `json:"minimum_stock"`
}

// SalesRecord is one raw daily sales observation for a SKU.
type SalesRecord struct {
	// Date is the calendar day the sales were recorded for
	Date time.Time `json:"date"`

	// UnitsSold is the observed sales count, never negative
	UnitsSold float64 `json:"units_sold"`

	// Revenue is the gross revenue for the day
	Revenue float64 `json:"revenue"`

	// Promotion marks days where the SKU was actively promoted
	Promotion bool `json:"promotion"`

	// Source identifies which sales channel supplied this record
	Source string `json:"source,omitempty"`
}

// AvailabilityRecord captures how long a SKU was actually purchasable on a day.
type AvailabilityRecord struct {
	// Date is the calendar day the availability was tracked for
	Date time.Time `json:"date"`

	// MinutesInStock is the number of minutes the SKU was in stock, 0..1440
	MinutesInStock int `json:"minutes_in_stock"`
}

// Factor converts tracked minutes into a 0..1 availability factor.
func (a AvailabilityRecord) Factor() float64 {
	if a.MinutesInStock <= 0 {
		return 0
	}
	if a.MinutesInStock >= MinutesPerDay {
		return 1
	}
	return float64(a.MinutesInStock) / float64(MinutesPerDay)
}

// CoverageInput bundles everything one calculation needs. It is constructed
// fresh per call and never mutated afterwards.
type CoverageInput struct {
	Product      *Product             `json:"product"`
	Sales        []SalesRecord        `json:"sales"`
	Availability []AvailabilityRecord `json:"availability"`
}

// ProcessedDataPoint is one cleaned calendar day produced by the preprocessor.
// The slice covers the full historical window, one entry per day, oldest first.
type ProcessedDataPoint struct {
	// Date is the calendar day this point represents
	Date time.Time `json:"date"`

	// DayOfWeek is 0 (Sunday) through 6 (Saturday)
	DayOfWeek int `json:"day_of_week"`

	// OriginalSales is the raw observed sales for the day, zero when no
	// record existed
	OriginalSales float64 `json:"original_sales"`

	// AvailabilityFactor is the fraction of the day the SKU was purchasable,
	// 1.0 when no availability record exists
	AvailabilityFactor float64 `json:"availability_factor"`

	// AdjustedDemand is the availability- and outlier-corrected demand estimate
	AdjustedDemand float64 `json:"adjusted_demand"`

	// Weight is the exponential recency weight, 1.0 for the most recent day
	Weight float64 `json:"weight"`

	// Promotion marks promotional days
	Promotion bool `json:"promotion"`

	// Outlier marks days whose demand was capped by outlier detection
	Outlier bool `json:"outlier"`

	// Imputed marks days whose demand was reconstructed from weekday history
	// because of a severe stockout
	Imputed bool `json:"imputed"`
}

// TrendAnalysis holds the fitted demand trend for one SKU. Created once per
// calculation and immutable afterwards.
type TrendAnalysis struct {
	// Intercept and Slope are the log-scale regression coefficients
	Intercept float64 `json:"intercept"`
	Slope     float64 `json:"slope"`

	// RSquared is the weighted coefficient of determination, clamped to [0,1]
	RSquared float64 `json:"r_squared"`

	// TrendFactor is e^slope: >1 growth, <1 decline, 1 flat
	TrendFactor float64 `json:"trend_factor"`

	// CurrentLevel is the demand extrapolated to today, never negative
	CurrentLevel float64 `json:"current_level"`

	// Confidence blends fit quality and data coverage into [0,1]
	Confidence float64 `json:"confidence"`

	// ValidPoints is the number of strictly positive demand days the fit used
	ValidPoints int `json:"valid_points"`

	// Default marks the degenerate flat trend returned when the series cannot
	// support a regression
	Default bool `json:"default"`
}

// ChangePoint marks a date where the fitted demand trend shifted materially.
type ChangePoint struct {
	// Date of the detected shift
	Date time.Time `json:"date"`

	// Index into the processed series where the shift was detected
	Index int `json:"index"`

	// BeforeFactor and AfterFactor are the trend factors fitted on the
	// windows either side of the shift
	BeforeFactor float64 `json:"before_factor"`
	AfterFactor  float64 `json:"after_factor"`
}

// DataQuality summarizes how trustworthy the inputs behind a result were.
type DataQuality struct {
	// OverallScore is the blended quality score in [0,1]
	OverallScore float64 `json:"overall_score"`

	// Completeness is the fraction of window days with an actual sales record
	Completeness float64 `json:"completeness"`

	// AvailabilityCoverage is the fraction of window days with tracked
	// availability
	AvailabilityCoverage float64 `json:"availability_coverage"`

	// OutlierRatio is the fraction of days flagged as outliers
	OutlierRatio float64 `json:"outlier_ratio"`

	// ImputedRatio is the fraction of days whose demand was imputed
	ImputedRatio float64 `json:"imputed_ratio"`
}

// StockCoverageResult is the sole externally visible artifact of a
// calculation. It is produced fresh each time; caching is the caller's concern.
type StockCoverageResult struct {
	// SKU the result was computed for
	SKU string `json:"sku"`

	// CoverageDays is the median (P50) days of stock remaining
	CoverageDays float64 `json:"coverage_days"`

	// CoverageDaysP90 is the conservative estimate: coverage if demand runs
	// at its 90th percentile
	CoverageDaysP90 float64 `json:"coverage_days_p90"`

	// CoverageDaysP10 is the optimistic estimate at 10th percentile demand
	CoverageDaysP10 float64 `json:"coverage_days_p10"`

	// DemandForecast is the seasonally- and trend-adjusted daily demand
	DemandForecast float64 `json:"demand_forecast"`

	// DemandStdDev is the weighted standard deviation of adjusted demand
	DemandStdDev float64 `json:"demand_std_dev"`

	// AdjustedDemand is the weighted mean of the cleaned demand series
	AdjustedDemand float64 `json:"adjusted_demand"`

	// TrendFactor is the fitted daily multiplicative growth
	TrendFactor float64 `json:"trend_factor"`

	// SeasonalityIndex is the day-of-week multiplier applied to the forecast
	SeasonalityIndex float64 `json:"seasonality_index"`

	// AvailabilityAdjustment is the mean availability factor over the window
	AvailabilityAdjustment float64 `json:"availability_adjustment"`

	// Confidence is the trend confidence carried through from the analyzer
	Confidence float64 `json:"confidence"`

	// DataQuality scores the inputs behind this result
	DataQuality DataQuality `json:"data_quality"`

	// ReorderPoint is the stock level at which a reorder should be placed
	ReorderPoint float64 `json:"reorder_point"`

	// ReorderQuantity is the recommended units to order now, zero when no
	// reorder is needed
	ReorderQuantity float64 `json:"reorder_quantity"`

	// StockoutRisk estimates the risk of running out within the forecast
	// horizon, in [0,1]
	StockoutRisk float64 `json:"stockout_risk"`

	// CalculationID uniquely identifies this calculation run
	CalculationID string `json:"calculation_id,omitempty"`

	// Algorithm tags which pipeline version produced the result
	Algorithm string `json:"algorithm"`

	// CalculatedAt is the injected reference instant of the calculation
	CalculatedAt time.Time `json:"calculated_at"`

	// ExpiresAt is when downstream caches should consider the result stale
	ExpiresAt time.Time `json:"expires_at"`

	// HistoricalDaysUsed is the window length the calculation ran over
	HistoricalDaysUsed int `json:"historical_days_used"`
}

// WithCalculationID returns a copy of the result tagged with the given ID.
func (r StockCoverageResult) WithCalculationID(id string) StockCoverageResult {
	r.CalculationID = id
	return r
}
