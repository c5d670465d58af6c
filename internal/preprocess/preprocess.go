// Package preprocess cleans and aligns raw sales and availability records
// into a fixed-length daily demand series ready for trend analysis.
package preprocess

import (
	"math"
	"sort"
	"time"

	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/model"
)

const (
	// MinDistinctSalesDays is the minimum number of distinct sales dates a
	// SKU needs before any downstream statistic is meaningful.
	MinDistinctSalesDays = 7

	// madScale converts a MAD into a consistent standard-deviation estimate.
	madScale = 0.6745

	// outlierZThreshold is the modified z-score above which a day is capped.
	outlierZThreshold = 3.5

	// upliftThreshold is the minimum promotional uplift ratio that triggers
	// promotion normalization.
	upliftThreshold = 1.2

	// rollingRadius is the half-width of the rolling median window in days.
	rollingRadius = 7

	// imputeLookbackWeeks is how many prior same-weekday observations are
	// averaged when a severe stockout day is imputed.
	imputeLookbackWeeks = 4
)

// Preprocess converts raw input rows into one ProcessedDataPoint per calendar
// day of the historical window, oldest first. The reference instant `now` is
// injected by the caller; nothing here reads the wall clock, so identical
// inputs always produce identical output.
func Preprocess(input model.CoverageInput, cfg config.StockCoverageConfig, now time.Time) ([]model.ProcessedDataPoint, error) {
	if err := validateInput(input, cfg); err != nil {
		return nil, err
	}

	points := buildWindow(input, cfg, now)
	adjustAvailability(points, cfg)
	capOutliers(points)
	if cfg.EnablePromotionAdjustment {
		normalizePromotions(points)
	}

	return points, nil
}

// validateInput enforces the fatal preconditions: a product reference, a
// valid configuration and enough distinct sales dates.
func validateInput(input model.CoverageInput, cfg config.StockCoverageConfig) error {
	if input.Product == nil {
		return &model.InvalidConfigurationError{Field: "product", Reason: "product reference is required"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	distinct := map[string]struct{}{}
	for _, s := range input.Sales {
		distinct[dayKey(s.Date)] = struct{}{}
	}
	if len(distinct) < MinDistinctSalesDays {
		return &model.InsufficientDataError{
			SKU:          input.Product.SKU,
			DistinctDays: len(distinct),
			RequiredDays: MinDistinctSalesDays,
		}
	}
	return nil
}

// buildWindow lays out a contiguous daily series covering exactly the last
// HistoricalDays days ending at `now`, filling days without records with
// zero-sales placeholders, and assigns the exponential decay weights.
func buildWindow(input model.CoverageInput, cfg config.StockCoverageConfig, now time.Time) []model.ProcessedDataPoint {
	salesByDay := make(map[string]model.SalesRecord, len(input.Sales))
	for _, s := range input.Sales {
		key := dayKey(s.Date)
		// Merge duplicate rows for the same day; a promotion on any row
		// marks the whole day.
		if existing, ok := salesByDay[key]; ok {
			existing.UnitsSold += s.UnitsSold
			existing.Revenue += s.Revenue
			existing.Promotion = existing.Promotion || s.Promotion
			salesByDay[key] = existing
		} else {
			salesByDay[key] = s
		}
	}

	availByDay := make(map[string]model.AvailabilityRecord, len(input.Availability))
	for _, a := range input.Availability {
		availByDay[dayKey(a.Date)] = a
	}

	n := cfg.HistoricalDays
	today := truncateToDay(now)
	points := make([]model.ProcessedDataPoint, n)

	for i := 0; i < n; i++ {
		daysAgo := n - 1 - i
		date := today.AddDate(0, 0, -daysAgo)
		key := dayKey(date)

		p := model.ProcessedDataPoint{
			Date:               date,
			DayOfWeek:          int(date.Weekday()),
			AvailabilityFactor: 1.0,
			Weight:             decayWeight(daysAgo, cfg.HalfLifeDays),
		}
		if s, ok := salesByDay[key]; ok {
			if s.UnitsSold > 0 {
				p.OriginalSales = s.UnitsSold
			}
			p.Promotion = s.Promotion
		}
		if a, ok := availByDay[key]; ok {
			p.AvailabilityFactor = a.Factor()
		}
		p.AdjustedDemand = p.OriginalSales
		points[i] = p
	}

	return points
}

// decayWeight is 0.5^(daysAgo/halfLife): exactly 1.0 for the most recent day,
// strictly decreasing into the past, asymptotically approaching but never
// reaching zero.
func decayWeight(daysAgo int, halfLife float64) float64 {
	if daysAgo <= 0 {
		return 1.0
	}
	return math.Pow(0.5, float64(daysAgo)/halfLife)
}

// adjustAvailability converts observed sales into estimated true demand.
// Days with adequate availability are scaled up by the inverse availability
// factor and capped against the local rolling median; severe stockout days
// are imputed from same-weekday history instead of trusting the raw number.
func adjustAvailability(points []model.ProcessedDataPoint, cfg config.StockCoverageConfig) {
	// Scale first so imputation can draw on already-corrected neighbors.
	for i := range points {
		p := &points[i]
		if p.AvailabilityFactor < cfg.MinAvailabilityFactor {
			continue
		}
		scaled := p.OriginalSales / math.Max(p.AvailabilityFactor, cfg.MinAvailabilityFactor)
		if limit := rollingMedian(points, i) * cfg.OutlierCapMultiplier; limit > 0 && scaled > limit {
			scaled = limit
		}
		p.AdjustedDemand = scaled
	}

	for i := range points {
		p := &points[i]
		if p.AvailabilityFactor >= cfg.MinAvailabilityFactor {
			continue
		}
		p.AdjustedDemand = imputeDemand(points, i, cfg)
		p.Imputed = true
	}
}

// imputeDemand reconstructs a severe stockout day from the average adjusted
// demand of the same weekday over the prior weeks with adequate availability,
// falling back to the local rolling median when no such day exists.
func imputeDemand(points []model.ProcessedDataPoint, idx int, cfg config.StockCoverageConfig) float64 {
	var sum float64
	var count int
	for week := 1; week <= imputeLookbackWeeks; week++ {
		j := idx - 7*week
		if j < 0 {
			break
		}
		if points[j].AvailabilityFactor >= cfg.MinAvailabilityFactor {
			sum += points[j].AdjustedDemand
			count++
		}
	}
	if count > 0 {
		return sum / float64(count)
	}
	return rollingMedian(points, idx)
}

// rollingMedian returns the median of the positive adjusted-demand values in
// the ±rollingRadius-day window around idx. Zero-sales placeholder days are
// excluded so sparse sellers do not collapse the cap to zero. A naive
// re-sort per point is the deliberate baseline for ~90-day windows.
func rollingMedian(points []model.ProcessedDataPoint, idx int) float64 {
	lo := idx - rollingRadius
	if lo < 0 {
		lo = 0
	}
	hi := idx + rollingRadius
	if hi >= len(points) {
		hi = len(points) - 1
	}

	values := make([]float64, 0, hi-lo+1)
	for j := lo; j <= hi; j++ {
		if j == idx {
			continue
		}
		if v := points[j].AdjustedDemand; v > 0 {
			values = append(values, v)
		}
	}
	return median(values)
}

// capOutliers flags and caps days whose adjusted demand deviates from the
// series median by more than the modified z-score threshold. Outliers are
// capped to the boundary value, never deleted, so the series length and
// weighting stay intact.
func capOutliers(points []model.ProcessedDataPoint) {
	positive := make([]float64, 0, len(points))
	for i := range points {
		if points[i].AdjustedDemand > 0 {
			positive = append(positive, points[i].AdjustedDemand)
		}
	}
	if len(positive) < 4 {
		return
	}

	med := median(positive)
	deviations := make([]float64, len(positive))
	for i, v := range positive {
		deviations[i] = math.Abs(v - med)
	}
	mad := median(deviations)
	if mad <= 0 {
		// A zero MAD means at least half the series is identical; any
		// z-score would divide by zero, so leave the series untouched.
		return
	}

	// Boundary implied by |0.6745*(x-med)/MAD| == threshold.
	bound := outlierZThreshold * mad / madScale
	upper := med + bound
	lower := math.Max(med-bound, 0)

	for i := range points {
		p := &points[i]
		if p.AdjustedDemand <= 0 {
			continue
		}
		z := madScale * (p.AdjustedDemand - med) / mad
		if z > outlierZThreshold {
			p.AdjustedDemand = upper
			p.Outlier = true
		} else if z < -outlierZThreshold {
			p.AdjustedDemand = lower
			p.Outlier = true
		}
	}
}

// normalizePromotions flattens promotional uplift out of the demand series so
// trend fitting sees baseline demand. Runs after outlier capping, and the
// uplift ratio is computed over non-outlier days only, so the capping median
// is never affected by this division.
func normalizePromotions(points []model.ProcessedDataPoint) {
	var promoSum, promoCount, baseSum, baseCount float64
	for i := range points {
		p := &points[i]
		if p.Outlier || p.AdjustedDemand <= 0 {
			continue
		}
		if p.Promotion {
			promoSum += p.AdjustedDemand
			promoCount++
		} else {
			baseSum += p.AdjustedDemand
			baseCount++
		}
	}
	if promoCount == 0 || baseCount == 0 {
		return
	}

	uplift := (promoSum / promoCount) / (baseSum / baseCount)
	if uplift <= upliftThreshold {
		return
	}

	for i := range points {
		if points[i].Promotion {
			points[i].AdjustedDemand /= uplift
		}
	}
}

// median computes the median of values; the slice is not modified.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// truncateToDay normalizes a timestamp to midnight UTC so window membership
// does not depend on the caller's time zone.
func truncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// dayKey is the canonical map key for one calendar day.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
