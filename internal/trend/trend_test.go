package trend

import (
	"math"
	"testing"
	"time"

	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/model"
)

// makeSeries builds a processed series with uniform weights from raw demand
// values, oldest first.
func makeSeries(values []float64) []model.ProcessedDataPoint {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	points := make([]model.ProcessedDataPoint, len(values))
	for i, v := range values {
		date := start.AddDate(0, 0, i)
		points[i] = model.ProcessedDataPoint{
			Date:               date,
			DayOfWeek:          int(date.Weekday()),
			AdjustedDemand:     v,
			AvailabilityFactor: 1.0,
			Weight:             1.0,
		}
	}
	return points
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestAnalyzeFlatSeries(t *testing.T) {
	cfg := config.DefaultStockCoverageConfig()
	got := Analyze(makeSeries(constant(30, 10)), cfg)

	if math.Abs(got.TrendFactor-1.0) > 1e-9 {
		t.Errorf("TrendFactor = %v, want 1.0 for flat series", got.TrendFactor)
	}
	if got.RSquared != 0 {
		t.Errorf("RSquared = %v, want 0 for flat series (no variance to explain)", got.RSquared)
	}
	if math.Abs(got.Slope) > 1e-9 {
		t.Errorf("Slope = %v, want ~0", got.Slope)
	}
	if math.Abs(got.CurrentLevel-10) > 1e-6 {
		t.Errorf("CurrentLevel = %v, want 10", got.CurrentLevel)
	}
	if got.Default {
		t.Error("flat series with enough points must be a real fit, not the default trend")
	}
	if got.ValidPoints != 30 {
		t.Errorf("ValidPoints = %d, want 30", got.ValidPoints)
	}
	// 0.5*0 + 0.3*1.0 + 0.2*1.0
	if math.Abs(got.Confidence-0.5) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.5", got.Confidence)
	}
}

func TestAnalyzeGrowth(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = 10 * math.Pow(1.05, float64(i))
	}

	got := Analyze(makeSeries(values), config.DefaultStockCoverageConfig())

	if got.TrendFactor <= 1.0 {
		t.Errorf("TrendFactor = %v, want > 1.0 for growing series", got.TrendFactor)
	}
	if got.TrendFactor > 1.06 {
		t.Errorf("TrendFactor = %v, want close to the generating factor 1.05", got.TrendFactor)
	}
	if got.RSquared < 0.95 {
		t.Errorf("RSquared = %v, want near 1 for clean exponential growth", got.RSquared)
	}
	if got.CurrentLevel <= values[len(values)-1]*0.8 {
		t.Errorf("CurrentLevel = %v, want near the latest demand %v", got.CurrentLevel, values[len(values)-1])
	}
}

func TestAnalyzeDecline(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = 100 * math.Pow(0.95, float64(i))
	}

	got := Analyze(makeSeries(values), config.DefaultStockCoverageConfig())

	if got.TrendFactor >= 1.0 {
		t.Errorf("TrendFactor = %v, want < 1.0 for declining series", got.TrendFactor)
	}
	if got.CurrentLevel < 0 {
		t.Errorf("CurrentLevel = %v, must never be negative", got.CurrentLevel)
	}
}

func TestAnalyzeDefaultTrend(t *testing.T) {
	tests := []struct {
		name   string
		series []model.ProcessedDataPoint
		cfg    func(config.StockCoverageConfig) config.StockCoverageConfig
		level  float64
	}{
		{
			name:   "too few positive points",
			series: makeSeries([]float64{10, 0, 0, 12, 0, 8, 0, 0, 0, 0}),
			cfg:    func(c config.StockCoverageConfig) config.StockCoverageConfig { return c },
			level:  10, // mean of 10, 12, 8
		},
		{
			name:   "trend correction disabled",
			series: makeSeries(constant(30, 10)),
			cfg: func(c config.StockCoverageConfig) config.StockCoverageConfig {
				c.EnableTrendCorrection = false
				return c
			},
			level: 10,
		},
		{
			name:   "all zero demand",
			series: makeSeries(constant(30, 0)),
			cfg:    func(c config.StockCoverageConfig) config.StockCoverageConfig { return c },
			level:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.series, tt.cfg(config.DefaultStockCoverageConfig()))

			if !got.Default {
				t.Fatal("expected the default trend")
			}
			if got.TrendFactor != 1.0 {
				t.Errorf("TrendFactor = %v, want exactly 1.0", got.TrendFactor)
			}
			if got.Slope != 0 {
				t.Errorf("Slope = %v, want 0", got.Slope)
			}
			if got.Confidence != 0.5 {
				t.Errorf("Confidence = %v, want 0.5", got.Confidence)
			}
			if math.Abs(got.CurrentLevel-tt.level) > 1e-9 {
				t.Errorf("CurrentLevel = %v, want %v", got.CurrentLevel, tt.level)
			}
		})
	}
}

func TestProject(t *testing.T) {
	flat := model.TrendAnalysis{TrendFactor: 1.0, CurrentLevel: 10}
	got := Project(flat, 14)
	if len(got) != 14 {
		t.Fatalf("got %d projected days, want 14", len(got))
	}
	for i, v := range got {
		if math.Abs(v-10) > 1e-9 {
			t.Errorf("flat projection day %d = %v, want 10", i+1, v)
		}
	}

	if Project(flat, 0) != nil {
		t.Error("zero horizon must project nothing")
	}
}

func TestProjectDampening(t *testing.T) {
	growing := model.TrendAnalysis{TrendFactor: 1.1, CurrentLevel: 10}
	got := Project(growing, 14)

	// Within the first week growth compounds at the full factor.
	for day := 1; day < 7; day++ {
		ratio := got[day] / got[day-1]
		if math.Abs(ratio-1.1) > 1e-9 {
			t.Errorf("day %d growth ratio = %v, want undamped 1.1", day+1, ratio)
		}
	}

	// Beyond day 7 the effective daily growth must fall below the raw factor
	// but the series must still grow.
	ratio := got[7] / got[6]
	if ratio >= 1.1 {
		t.Errorf("day 8 growth ratio = %v, want damped below 1.1", ratio)
	}
	if ratio <= 1.0 {
		t.Errorf("day 8 growth ratio = %v, dampening must not reverse growth", ratio)
	}

	for i, v := range got {
		if v < 0 || math.IsNaN(v) {
			t.Errorf("projection day %d = %v, must be finite and non-negative", i+1, v)
		}
	}
}

func TestChangePoints(t *testing.T) {
	// 14 flat days followed by 14 days of steep exponential growth.
	values := make([]float64, 28)
	for i := 0; i < 14; i++ {
		values[i] = 10
	}
	for i := 14; i < 28; i++ {
		values[i] = 10 * math.Pow(2, float64(i-14))
	}

	found := ChangePoints(makeSeries(values))
	if len(found) == 0 {
		t.Fatal("expected at least one change point at the regime boundary")
	}
	if found[0].Index != 14 {
		t.Errorf("first change point index = %d, want 14", found[0].Index)
	}
	if found[0].AfterFactor <= found[0].BeforeFactor {
		t.Errorf("AfterFactor %v should exceed BeforeFactor %v for a growth shift",
			found[0].AfterFactor, found[0].BeforeFactor)
	}
}

func TestChangePointsStableSeries(t *testing.T) {
	if found := ChangePoints(makeSeries(constant(60, 10))); len(found) != 0 {
		t.Errorf("flat series produced %d change points, want none", len(found))
	}
	if found := ChangePoints(makeSeries(constant(10, 10))); len(found) != 0 {
		t.Errorf("short series produced %d change points, want none", len(found))
	}
}

func TestFitWeightedDegenerate(t *testing.T) {
	// All x identical: the denominator collapses and the fit must refuse.
	xs := []float64{3, 3, 3, 3}
	ys := []float64{1, 2, 3, 4}
	ws := []float64{1, 1, 1, 1}

	if _, _, ok := fitWeighted(xs, ys, ws); ok {
		t.Error("fitWeighted() accepted a degenerate geometry")
	}

	if _, _, ok := fitWeighted(nil, nil, nil); ok {
		t.Error("fitWeighted() accepted empty input")
	}
}
