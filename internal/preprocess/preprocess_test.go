package preprocess

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/model"
)

var testNow = time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)

// constantInput builds an input with `days` daily sales records ending today.
func constantInput(days int, units float64) model.CoverageInput {
	sales := make([]model.SalesRecord, days)
	for i := 0; i < days; i++ {
		sales[i] = model.SalesRecord{
			Date:      testNow.AddDate(0, 0, -i),
			UnitsSold: units,
			Revenue:   units * 2.5,
		}
	}
	return model.CoverageInput{
		Product: &model.Product{SKU: "TEST-001", CurrentStock: 100},
		Sales:   sales,
	}
}

func TestPreprocessWindowLayout(t *testing.T) {
	cfg := config.DefaultStockCoverageConfig()
	points, err := Preprocess(constantInput(90, 10), cfg, testNow)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}

	if len(points) != cfg.HistoricalDays {
		t.Fatalf("got %d points, want %d", len(points), cfg.HistoricalDays)
	}

	wantLast := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	if !points[len(points)-1].Date.Equal(wantLast) {
		t.Errorf("last date = %v, want %v", points[len(points)-1].Date, wantLast)
	}

	for i := 1; i < len(points); i++ {
		if got := points[i].Date.Sub(points[i-1].Date); got != 24*time.Hour {
			t.Errorf("gap between day %d and %d = %v, want 24h", i-1, i, got)
		}
	}
}

func TestPreprocessWeights(t *testing.T) {
	cfg := config.DefaultStockCoverageConfig()
	points, err := Preprocess(constantInput(90, 10), cfg, testNow)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}

	last := points[len(points)-1]
	if last.Weight != 1.0 {
		t.Errorf("most recent weight = %v, want exactly 1.0", last.Weight)
	}

	for i := 1; i < len(points); i++ {
		if points[i].Weight <= points[i-1].Weight {
			t.Errorf("weight at day %d (%v) not greater than day %d (%v)",
				i, points[i].Weight, i-1, points[i-1].Weight)
		}
		if points[i].Weight <= 0 || points[i].Weight > 1 {
			t.Errorf("weight at day %d out of (0,1]: %v", i, points[i].Weight)
		}
	}

	// One half-life back the weight must be 0.5.
	halfLifeIdx := len(points) - 1 - int(cfg.HalfLifeDays)
	if got := points[halfLifeIdx].Weight; math.Abs(got-0.5) > 1e-12 {
		t.Errorf("weight one half-life back = %v, want 0.5", got)
	}
}

func TestPreprocessValidation(t *testing.T) {
	cfg := config.DefaultStockCoverageConfig()

	tests := []struct {
		name     string
		input    model.CoverageInput
		cfg      config.StockCoverageConfig
		sentinel error
	}{
		{
			name:     "missing product",
			input:    model.CoverageInput{Sales: constantInput(30, 10).Sales},
			cfg:      cfg,
			sentinel: model.ErrInvalidConfiguration,
		},
		{
			name:     "too few distinct sales days",
			input:    constantInput(5, 10),
			cfg:      cfg,
			sentinel: model.ErrInsufficientData,
		},
		{
			name:  "invalid historical days",
			input: constantInput(30, 10),
			cfg: func() config.StockCoverageConfig {
				c := cfg
				c.HistoricalDays = 0
				return c
			}(),
			sentinel: model.ErrInvalidConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Preprocess(tt.input, tt.cfg, testNow)
			if err == nil {
				t.Fatal("Preprocess() expected error, got nil")
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error %v does not match sentinel %v", err, tt.sentinel)
			}
		})
	}
}

func TestPreprocessInsufficientDataDetails(t *testing.T) {
	_, err := Preprocess(constantInput(5, 10), config.DefaultStockCoverageConfig(), testNow)

	var insufficientErr *model.InsufficientDataError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("error %v is not *model.InsufficientDataError", err)
	}
	if insufficientErr.DistinctDays != 5 {
		t.Errorf("DistinctDays = %d, want 5", insufficientErr.DistinctDays)
	}
	if insufficientErr.RequiredDays != MinDistinctSalesDays {
		t.Errorf("RequiredDays = %d, want %d", insufficientErr.RequiredDays, MinDistinctSalesDays)
	}
	if insufficientErr.SKU != "TEST-001" {
		t.Errorf("SKU = %q, want TEST-001", insufficientErr.SKU)
	}
}

func TestAvailabilityScaling(t *testing.T) {
	input := constantInput(90, 10)

	// Three days ago the SKU was purchasable 80% of the day and sold 8 units.
	scaledDay := testNow.AddDate(0, 0, -3)
	for i := range input.Sales {
		if input.Sales[i].Date.Equal(scaledDay) {
			input.Sales[i].UnitsSold = 8
		}
	}
	input.Availability = []model.AvailabilityRecord{
		{Date: scaledDay, MinutesInStock: 1152}, // 0.8 of 1440
	}

	points, err := Preprocess(input, config.DefaultStockCoverageConfig(), testNow)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}

	p := points[len(points)-4]
	if p.Imputed {
		t.Error("day with adequate availability must not be imputed")
	}
	if math.Abs(p.AvailabilityFactor-0.8) > 1e-9 {
		t.Errorf("AvailabilityFactor = %v, want 0.8", p.AvailabilityFactor)
	}
	// 8 observed units scaled by 1/0.8 recovers the true demand of 10.
	if math.Abs(p.AdjustedDemand-10) > 1e-9 {
		t.Errorf("AdjustedDemand = %v, want 10", p.AdjustedDemand)
	}
}

func TestSevereStockoutImputation(t *testing.T) {
	input := constantInput(90, 10)

	// Three days ago the SKU was in stock only 10% of the day; the single
	// observed unit must not be trusted as demand.
	stockoutDay := testNow.AddDate(0, 0, -3)
	for i := range input.Sales {
		if input.Sales[i].Date.Equal(stockoutDay) {
			input.Sales[i].UnitsSold = 1
		}
	}
	input.Availability = []model.AvailabilityRecord{
		{Date: stockoutDay, MinutesInStock: 144}, // 0.1 of 1440
	}

	points, err := Preprocess(input, config.DefaultStockCoverageConfig(), testNow)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}

	p := points[len(points)-4]
	if !p.Imputed {
		t.Fatal("severe stockout day must be flagged as imputed")
	}
	if p.OriginalSales != 1 {
		t.Errorf("OriginalSales = %v, want 1 (raw observation preserved)", p.OriginalSales)
	}
	// Same weekday over the prior four weeks sold 10 each.
	if math.Abs(p.AdjustedDemand-10) > 1e-9 {
		t.Errorf("AdjustedDemand = %v, want imputed 10", p.AdjustedDemand)
	}
}

func TestOutlierCapping(t *testing.T) {
	input := constantInput(90, 0)
	for i := range input.Sales {
		if i%2 == 0 {
			input.Sales[i].UnitsSold = 8
		} else {
			input.Sales[i].UnitsSold = 12
		}
	}
	// One implausible spike five days ago.
	spikeDay := testNow.AddDate(0, 0, -5)
	for i := range input.Sales {
		if input.Sales[i].Date.Equal(spikeDay) {
			input.Sales[i].UnitsSold = 500
		}
	}

	points, err := Preprocess(input, config.DefaultStockCoverageConfig(), testNow)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}

	spike := points[len(points)-6]
	if !spike.Outlier {
		t.Fatal("spike day must be flagged as outlier")
	}
	if spike.AdjustedDemand >= 30 {
		t.Errorf("spike AdjustedDemand = %v, want capped well below the raw 500", spike.AdjustedDemand)
	}
	if spike.AdjustedDemand <= 12 {
		t.Errorf("spike AdjustedDemand = %v, want above the normal range", spike.AdjustedDemand)
	}

	// Normal days stay untouched.
	for i, p := range points {
		if i == len(points)-6 {
			continue
		}
		if p.Outlier {
			t.Errorf("day %d wrongly flagged as outlier (demand %v)", i, p.AdjustedDemand)
		}
	}
}

func TestPromotionNormalization(t *testing.T) {
	tests := []struct {
		name       string
		promoUnits float64
		enabled    bool
		wantPromo  float64
	}{
		{
			name:       "strong uplift is flattened",
			promoUnits: 20,
			enabled:    true,
			wantPromo:  10, // 20 / uplift of 2.0
		},
		{
			name:       "mild uplift below threshold is kept",
			promoUnits: 11,
			enabled:    true,
			wantPromo:  11,
		},
		{
			name:       "adjustment disabled",
			promoUnits: 20,
			enabled:    false,
			wantPromo:  20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := constantInput(90, 10)
			// Every 9th day was promoted.
			for i := range input.Sales {
				if i%9 == 0 {
					input.Sales[i].UnitsSold = tt.promoUnits
					input.Sales[i].Promotion = true
				}
			}

			cfg := config.DefaultStockCoverageConfig()
			cfg.EnablePromotionAdjustment = tt.enabled

			points, err := Preprocess(input, cfg, testNow)
			if err != nil {
				t.Fatalf("Preprocess() error = %v", err)
			}

			for _, p := range points {
				if !p.Promotion {
					continue
				}
				if math.Abs(p.AdjustedDemand-tt.wantPromo) > 1e-9 {
					t.Errorf("promo day AdjustedDemand = %v, want %v", p.AdjustedDemand, tt.wantPromo)
				}
			}
		})
	}
}

func TestPreprocessMergesDuplicateDays(t *testing.T) {
	input := constantInput(30, 10)
	// A second channel reports 5 more units for today.
	input.Sales = append(input.Sales, model.SalesRecord{
		Date:      testNow,
		UnitsSold: 5,
		Source:    "pos",
	})

	points, err := Preprocess(input, config.DefaultStockCoverageConfig(), testNow)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}

	today := points[len(points)-1]
	if today.OriginalSales != 15 {
		t.Errorf("merged OriginalSales = %v, want 15", today.OriginalSales)
	}
}

func TestDecayWeight(t *testing.T) {
	tests := []struct {
		daysAgo  int
		halfLife float64
		want     float64
	}{
		{0, 14, 1.0},
		{14, 14, 0.5},
		{28, 14, 0.25},
		{7, 7, 0.5},
	}

	for _, tt := range tests {
		if got := decayWeight(tt.daysAgo, tt.halfLife); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("decayWeight(%d, %v) = %v, want %v", tt.daysAgo, tt.halfLife, got, tt.want)
		}
	}
}
