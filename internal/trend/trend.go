// Package trend fits a weighted log-linear regression over a cleaned demand
// series to estimate growth, current demand level and fit confidence.
package trend

import (
	"math"

	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/model"
)

const (
	// logEpsilon keeps ln() defined for zero-demand days.
	logEpsilon = 0.1

	// denomEpsilon guards the regression denominator against numeric collapse.
	denomEpsilon = 1e-10

	// minRegressionPoints is the number of strictly positive demand days
	// required before a regression is attempted.
	minRegressionPoints = 7

	// fullConfidencePoints is the valid-point count at which the data-volume
	// term of the confidence blend saturates.
	fullConfidencePoints = 14

	// changeWindow is the width of each of the two adjacent windows the
	// change-point scan compares.
	changeWindow = 14

	// changeThreshold is the relative trend-factor difference that flags a
	// change point.
	changeThreshold = 0.30

	// dampingStart is the projection day after which trend growth is blended
	// back toward flat.
	dampingStart = 7
)

// Analyze fits the demand trend for a preprocessed series. It is a pure
// function: no hidden state, no clock reads, deterministic for identical
// inputs.
func Analyze(series []model.ProcessedDataPoint, cfg config.StockCoverageConfig) model.TrendAnalysis {
	valid := countPositive(series)
	if !cfg.EnableTrendCorrection || valid < minRegressionPoints {
		return defaultTrend(series, valid)
	}

	n := len(series)
	xs := make([]float64, n)
	ys := make([]float64, n)
	ws := make([]float64, n)
	for i, p := range series {
		xs[i] = float64(i + 1)
		ys[i] = math.Log(p.AdjustedDemand + logEpsilon)
		ws[i] = p.Weight
	}

	slope, intercept, ok := fitWeighted(xs, ys, ws)
	if !ok {
		// Degenerate geometry: report a flat trend at the weighted mean
		// level instead of dividing by a near-zero denominator.
		slope = 0
		intercept = weightedMean(ys, ws)
	}

	rSquared := weightedRSquared(xs, ys, ws, slope, intercept)
	trendFactor := math.Exp(slope)
	currentLevel := math.Exp(intercept+slope*float64(n)) - logEpsilon
	if currentLevel < 0 {
		currentLevel = 0
	}

	completeness := float64(valid) / float64(n)
	confidence := clamp01(0.5*rSquared + 0.3*completeness + 0.2*math.Min(1, float64(valid)/fullConfidencePoints))

	return model.TrendAnalysis{
		Intercept:    intercept,
		Slope:        slope,
		RSquared:     rSquared,
		TrendFactor:  trendFactor,
		CurrentLevel: currentLevel,
		Confidence:   confidence,
		ValidPoints:  valid,
	}
}

// defaultTrend is the degenerate flat trend used when the series cannot
// support a regression: no growth, current level at the arithmetic mean of
// positive demand, and a deliberately middling confidence.
func defaultTrend(series []model.ProcessedDataPoint, valid int) model.TrendAnalysis {
	var sum float64
	for _, p := range series {
		if p.AdjustedDemand > 0 {
			sum += p.AdjustedDemand
		}
	}
	level := 0.0
	if valid > 0 {
		level = sum / float64(valid)
	}
	return model.TrendAnalysis{
		TrendFactor:  1.0,
		CurrentLevel: level,
		Confidence:   0.5,
		ValidPoints:  valid,
		Default:      true,
	}
}

// Project returns daysAhead future daily demand estimates. Within the first
// week growth compounds at the fitted factor; beyond it the factor is blended
// back toward 1 so a fitted exponential cannot run away over long horizons.
func Project(t model.TrendAnalysis, daysAhead int) []float64 {
	if daysAhead <= 0 {
		return nil
	}
	out := make([]float64, daysAhead)
	for day := 1; day <= daysAhead; day++ {
		factor := t.TrendFactor
		if day > dampingStart {
			damping := 1.0 / (1.0 + 0.01*float64(day))
			factor = 1 + (t.TrendFactor-1)*damping
		}
		v := t.CurrentLevel * math.Pow(factor, float64(day))
		if v < 0 || math.IsNaN(v) {
			v = 0
		}
		out[day-1] = v
	}
	return out
}

// ChangePoints slides two adjacent fixed-width windows across the series and
// flags every index where the independently fitted trend factors differ by
// more than the threshold.
func ChangePoints(series []model.ProcessedDataPoint) []model.ChangePoint {
	var found []model.ChangePoint
	if len(series) < 2*changeWindow {
		return found
	}

	for i := changeWindow; i+changeWindow <= len(series); i++ {
		before, okB := windowTrendFactor(series[i-changeWindow : i])
		after, okA := windowTrendFactor(series[i : i+changeWindow])
		if !okB || !okA || before <= 0 {
			continue
		}
		if math.Abs(after-before)/before > changeThreshold {
			found = append(found, model.ChangePoint{
				Date:         series[i].Date,
				Index:        i,
				BeforeFactor: before,
				AfterFactor:  after,
			})
		}
	}
	return found
}

// windowTrendFactor fits a weighted log-linear regression on one window and
// returns the implied trend factor.
func windowTrendFactor(window []model.ProcessedDataPoint) (float64, bool) {
	xs := make([]float64, len(window))
	ys := make([]float64, len(window))
	ws := make([]float64, len(window))
	for i, p := range window {
		xs[i] = float64(i + 1)
		ys[i] = math.Log(p.AdjustedDemand + logEpsilon)
		ws[i] = p.Weight
	}
	slope, _, ok := fitWeighted(xs, ys, ws)
	if !ok {
		return 1, true
	}
	return math.Exp(slope), true
}

// fitWeighted solves the weighted least squares closed form. It reports
// ok=false when the denominator is numerically near zero, in which case the
// caller must fall back to a flat fit.
func fitWeighted(xs, ys, ws []float64) (slope, intercept float64, ok bool) {
	var sw, swx, swy, swxx, swxy float64
	for i := range xs {
		w := ws[i]
		sw += w
		swx += w * xs[i]
		swy += w * ys[i]
		swxx += w * xs[i] * xs[i]
		swxy += w * xs[i] * ys[i]
	}

	denom := sw*swxx - swx*swx
	if math.Abs(denom) < denomEpsilon || sw <= 0 {
		return 0, 0, false
	}

	slope = (sw*swxy - swx*swy) / denom
	intercept = (swy - slope*swx) / sw
	if math.IsNaN(slope) || math.IsNaN(intercept) {
		return 0, 0, false
	}
	return slope, intercept, true
}

// weightedRSquared computes 1 − ssResidual/ssTotal under the observation
// weights, clamped to [0,1]. A flat series has zero total variance and is
// reported as 0, not 1: there is nothing for the fit to explain.
func weightedRSquared(xs, ys, ws []float64, slope, intercept float64) float64 {
	meanY := weightedMean(ys, ws)

	var ssRes, ssTot float64
	for i := range ys {
		pred := intercept + slope*xs[i]
		ssRes += ws[i] * (ys[i] - pred) * (ys[i] - pred)
		ssTot += ws[i] * (ys[i] - meanY) * (ys[i] - meanY)
	}
	if ssTot < denomEpsilon {
		return 0
	}
	return clamp01(1 - ssRes/ssTot)
}

// weightedMean computes the weighted arithmetic mean of values.
func weightedMean(values, weights []float64) float64 {
	var sum, wsum float64
	for i := range values {
		sum += weights[i] * values[i]
		wsum += weights[i]
	}
	if wsum <= 0 {
		return 0
	}
	return sum / wsum
}

// countPositive counts the strictly positive demand days in the series.
func countPositive(series []model.ProcessedDataPoint) int {
	n := 0
	for _, p := range series {
		if p.AdjustedDemand > 0 {
			n++
		}
	}
	return n
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
