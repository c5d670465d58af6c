// Package coverage combines the preprocessed demand series and the fitted
// trend into confidence-bounded stock coverage estimates and reorder
// recommendations.
package coverage

import (
	"fmt"
	"math"
	"time"

	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/model"
	"github.com/yourorg/stock-coverage-engine/internal/preprocess"
	"github.com/yourorg/stock-coverage-engine/internal/trend"
)

// Algorithm tags every result produced by this pipeline version.
const Algorithm = "weighted-trend-v2"

const (
	// demandEpsilon is the floor under forecast demand when dividing stock
	// by it; zero demand must yield very large coverage, never a division
	// by exact zero.
	demandEpsilon = 1e-6

	// maxCoverageDays bounds reported coverage so near-zero demand yields a
	// large finite number instead of effectively infinite days.
	maxCoverageDays = 3650

	// resultTTL is how long downstream caches may serve a result.
	resultTTL = 6 * time.Hour
)

// zScores is the fixed percentile lookup table. Conservative percentiles
// assume HIGHER demand, which reduces implied coverage.
var zScores = map[string]float64{
	"p10": -1.28,
	"p50": 0,
	"p90": 1.28,
	"p95": 1.645,
	"p99": 2.33,
}

// Calculate runs the full pipeline for one SKU: preprocess, trend fit,
// seasonality, percentiles, reorder recommendation. The reference instant
// `now` is injected; identical inputs produce identical results. The
// CalculationID is left empty for the boundary to assign.
func Calculate(input model.CoverageInput, cfg config.StockCoverageConfig, now time.Time) (model.StockCoverageResult, error) {
	points, err := preprocess.Preprocess(input, cfg, now)
	if err != nil {
		return model.StockCoverageResult{}, err
	}

	analysis := trend.Analyze(points, cfg)

	season := 1.0
	if cfg.EnableSeasonality {
		// The forecast applies to the first projected day, so the index is
		// taken for tomorrow's weekday.
		tomorrow := int(now.UTC().AddDate(0, 0, 1).Weekday())
		season = seasonalityIndex(points, tomorrow)
	}

	mean, stddev := weightedMeanStdDev(points)
	forecast := analysis.CurrentLevel * season
	availability := meanAvailability(points)

	result := model.StockCoverageResult{
		SKU:                    input.Product.SKU,
		CoverageDays:           coverageAt(input.Product.CurrentStock, forecast, stddev, zScores["p50"]),
		CoverageDaysP90:        coverageAt(input.Product.CurrentStock, forecast, stddev, zScores["p90"]),
		CoverageDaysP10:        coverageAt(input.Product.CurrentStock, forecast, stddev, zScores["p10"]),
		DemandForecast:         forecast,
		DemandStdDev:           stddev,
		AdjustedDemand:         mean,
		TrendFactor:            analysis.TrendFactor,
		SeasonalityIndex:       season,
		AvailabilityAdjustment: availability,
		Confidence:             analysis.Confidence,
		DataQuality:            assessQuality(input, points, cfg, now),
		Algorithm:              Algorithm,
		CalculatedAt:           now.UTC(),
		ExpiresAt:              now.UTC().Add(resultTTL),
		HistoricalDaysUsed:     cfg.HistoricalDays,
	}

	result.ReorderPoint = reorderPoint(input.Product, forecast, stddev, cfg)
	result.ReorderQuantity = reorderQuantity(input.Product, result.ReorderPoint)
	result.StockoutRisk = stockoutRisk(input.Product.CurrentStock, analysis, season, forecast, cfg)

	if err := checkFinite(result); err != nil {
		return model.StockCoverageResult{}, &model.CalculationError{
			SKU:   input.Product.SKU,
			Stage: "coverage",
			Err:   err,
		}
	}
	return result, nil
}

// coverageAt converts current stock into days of coverage at the demand
// implied by the given z-score. The epsilon floor keeps zero-demand SKUs at
// a large finite coverage instead of dividing by zero.
func coverageAt(stock, forecast, stddev, z float64) float64 {
	demand := forecast + z*stddev
	if demand < demandEpsilon {
		demand = demandEpsilon
	}
	days := stock / demand
	if days < 0 {
		return 0
	}
	if days > maxCoverageDays {
		return maxCoverageDays
	}
	return days
}

// seasonalityIndex is the ratio of the weighted mean demand on the given
// weekday to the overall weighted mean. Weekdays without positive demand
// report a neutral 1.0.
func seasonalityIndex(points []model.ProcessedDataPoint, weekday int) float64 {
	var daySum, dayWeight, allSum, allWeight float64
	for _, p := range points {
		if p.AdjustedDemand <= 0 {
			continue
		}
		allSum += p.Weight * p.AdjustedDemand
		allWeight += p.Weight
		if p.DayOfWeek == weekday {
			daySum += p.Weight * p.AdjustedDemand
			dayWeight += p.Weight
		}
	}
	if dayWeight <= 0 || allWeight <= 0 {
		return 1.0
	}
	overall := allSum / allWeight
	if overall <= 0 {
		return 1.0
	}
	return (daySum / dayWeight) / overall
}

// weightedMeanStdDev returns the weighted mean and weighted standard
// deviation of the adjusted demand series.
func weightedMeanStdDev(points []model.ProcessedDataPoint) (float64, float64) {
	var sum, wsum float64
	for _, p := range points {
		sum += p.Weight * p.AdjustedDemand
		wsum += p.Weight
	}
	if wsum <= 0 {
		return 0, 0
	}
	mean := sum / wsum

	var variance float64
	for _, p := range points {
		diff := p.AdjustedDemand - mean
		variance += p.Weight * diff * diff
	}
	variance /= wsum

	return mean, math.Sqrt(variance)
}

// meanAvailability is the plain average availability factor over the window.
func meanAvailability(points []model.ProcessedDataPoint) float64 {
	if len(points) == 0 {
		return 1.0
	}
	var sum float64
	for _, p := range points {
		sum += p.AvailabilityFactor
	}
	return sum / float64(len(points))
}

// reorderPoint is the stock level at which a replenishment order should be
// placed: demand at the service-level percentile over the lead time plus the
// safety stock buffer, never below the merchant's configured minimum.
func reorderPoint(product *model.Product, forecast, stddev float64, cfg config.StockCoverageConfig) float64 {
	perDay := forecast + serviceZ(cfg.ServiceLevel)*stddev
	if perDay < 0 {
		perDay = 0
	}
	point := perDay * (float64(cfg.EffectiveLeadTime()) + cfg.SafetyStockDays)
	if point < product.MinimumStock {
		point = product.MinimumStock
	}
	return point
}

// reorderQuantity recommends how many units to order now: the gap between
// the reorder point and stock on hand, rounded up, zero when stock suffices.
// The epsilon keeps float noise on an exact N-unit gap from ordering N+1.
func reorderQuantity(product *model.Product, reorderPoint float64) float64 {
	gap := reorderPoint - product.CurrentStock
	if gap <= 0 {
		return 0
	}
	q := math.Ceil(gap - 1e-9)
	if q < 1 {
		return 0
	}
	return q
}

// stockoutRisk simulates stock depletion over the forecast horizon with the
// projected daily demand and reports the fraction of horizon days on which
// remaining stock sits below the safety buffer.
func stockoutRisk(stock float64, analysis model.TrendAnalysis, season, forecast float64, cfg config.StockCoverageConfig) float64 {
	horizon := cfg.ForecastHorizon
	if horizon <= 0 {
		return 0
	}
	projected := trend.Project(analysis, horizon)
	buffer := cfg.SafetyStockDays * forecast

	remaining := stock
	atRisk := 0
	for _, daily := range projected {
		remaining -= daily * season
		if remaining < buffer {
			atRisk++
		}
	}
	return clamp01(float64(atRisk) / float64(horizon))
}

// assessQuality scores how trustworthy the inputs behind the result were.
// Degenerate-but-valid series are not errors; they surface here as a lower
// overall score instead.
func assessQuality(input model.CoverageInput, points []model.ProcessedDataPoint, cfg config.StockCoverageConfig, now time.Time) model.DataQuality {
	windowStart := now.UTC().AddDate(0, 0, -(cfg.HistoricalDays - 1))

	salesDays := map[string]struct{}{}
	for _, s := range input.Sales {
		if !s.Date.Before(windowStart) {
			salesDays[s.Date.UTC().Format("2006-01-02")] = struct{}{}
		}
	}
	availDays := map[string]struct{}{}
	for _, a := range input.Availability {
		if !a.Date.Before(windowStart) {
			availDays[a.Date.UTC().Format("2006-01-02")] = struct{}{}
		}
	}

	n := float64(len(points))
	var outliers, imputed float64
	for _, p := range points {
		if p.Outlier {
			outliers++
		}
		if p.Imputed {
			imputed++
		}
	}

	q := model.DataQuality{
		Completeness:         clamp01(float64(len(salesDays)) / n),
		AvailabilityCoverage: clamp01(float64(len(availDays)) / n),
		OutlierRatio:         clamp01(outliers / n),
		ImputedRatio:         clamp01(imputed / n),
	}
	q.OverallScore = clamp01(0.4*q.Completeness +
		0.2*q.AvailabilityCoverage +
		0.2*(1-q.OutlierRatio) +
		0.2*(1-q.ImputedRatio))
	return q
}

// serviceZ maps a service level to the nearest z-score in the fixed table.
func serviceZ(serviceLevel float64) float64 {
	switch {
	case serviceLevel >= 0.99:
		return zScores["p99"]
	case serviceLevel >= 0.95:
		return zScores["p95"]
	case serviceLevel >= 0.90:
		return zScores["p90"]
	default:
		return zScores["p50"]
	}
}

// checkFinite rejects any NaN or Inf before a result crosses the boundary.
// A silent zero would read as a real business signal, so this fails loudly.
func checkFinite(r model.StockCoverageResult) error {
	checks := map[string]float64{
		"coverage_days":     r.CoverageDays,
		"coverage_days_p90": r.CoverageDaysP90,
		"coverage_days_p10": r.CoverageDaysP10,
		"demand_forecast":   r.DemandForecast,
		"demand_std_dev":    r.DemandStdDev,
		"adjusted_demand":   r.AdjustedDemand,
		"trend_factor":      r.TrendFactor,
		"seasonality_index": r.SeasonalityIndex,
		"reorder_point":     r.ReorderPoint,
		"reorder_quantity":  r.ReorderQuantity,
		"stockout_risk":     r.StockoutRisk,
	}
	for field, v := range checks {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite %s: %v", field, v)
		}
	}
	return nil
}

// clamp01 bounds v to [0,1] and maps NaN to 0.
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
