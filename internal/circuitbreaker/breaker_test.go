package circuitbreaker

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/stock-coverage-engine/internal/model"
)

func plausibleResult(sku string, forecast float64) model.StockCoverageResult {
	return model.StockCoverageResult{
		SKU:            sku,
		DemandForecast: forecast,
		CoverageDays:   100 / forecast,
		DemandStdDev:   forecast * 0.2,
		TrendFactor:    1.0,
		StockoutRisk:   0.1,
		DataQuality:    model.DataQuality{OverallScore: 0.9},
	}
}

func TestCircuitBreaker_BasicFunctionality(t *testing.T) {
	cb := New(Thresholds{
		MaxDailyDemand:    1000,
		MaxForecastChange: 5.0,
	}).WithResetDelay(50 * time.Millisecond)

	assert.Equal(t, StateClosed, cb.GetState(), "Circuit breaker should start closed")

	err := cb.Check(plausibleResult("SKU-1", 10))
	assert.NoError(t, err, "Plausible result should pass checks")
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit should remain closed for plausible results")

	lastGood, ok := cb.LastGoodResult("SKU-1")
	require.True(t, ok, "Accepted result should be stored as last good")
	assert.Equal(t, 10.0, lastGood.DemandForecast)
}

func TestCircuitBreaker_DemandThreshold(t *testing.T) {
	cb := New(Thresholds{
		MaxDailyDemand:    100,
		MaxForecastChange: 5.0,
	})

	err := cb.Check(plausibleResult("SKU-1", 500))
	assert.Error(t, err, "Excessive demand forecast should trip the circuit")
	assert.Equal(t, StateOpen, cb.GetState(), "Circuit should be open after trip")
	assert.Contains(t, err.Error(), "demand forecast exceeds maximum threshold")

	// While open, even plausible results are blocked.
	err = cb.Check(plausibleResult("SKU-2", 10))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestCircuitBreaker_ForecastJump(t *testing.T) {
	cb := New(Thresholds{
		MaxDailyDemand:    10000,
		MaxForecastChange: 5.0,
	})

	require.NoError(t, cb.Check(plausibleResult("SKU-1", 10)), "Baseline result should pass")

	// A 10x jump between consecutive runs signals corrupted input.
	err := cb.Check(plausibleResult("SKU-1", 100))
	assert.Error(t, err, "Drastic forecast jump should trip the circuit")
	assert.Contains(t, err.Error(), "forecast change too drastic")
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_ForecastDrop(t *testing.T) {
	cb := New(Thresholds{
		MaxDailyDemand:    10000,
		MaxForecastChange: 5.0,
	})

	require.NoError(t, cb.Check(plausibleResult("SKU-1", 100)))

	// A collapse by more than the allowed ratio trips as well.
	err := cb.Check(plausibleResult("SKU-1", 10))
	assert.Error(t, err, "Drastic forecast drop should trip the circuit")
	assert.Contains(t, err.Error(), "forecast change too drastic")
}

func TestCircuitBreaker_JumpAcrossSKUsAllowed(t *testing.T) {
	cb := New(Thresholds{
		MaxDailyDemand:    10000,
		MaxForecastChange: 5.0,
	})

	require.NoError(t, cb.Check(plausibleResult("SKU-1", 10)))
	// Different SKUs have independent baselines.
	assert.NoError(t, cb.Check(plausibleResult("SKU-2", 500)))
}

func TestCircuitBreaker_DataQuality(t *testing.T) {
	cb := New(Thresholds{
		MaxDailyDemand: 10000,
		MinDataQuality: 0.5,
	})

	bad := plausibleResult("SKU-1", 10)
	bad.DataQuality.OverallScore = 0.2

	err := cb.Check(bad)
	assert.Error(t, err, "Low quality result should trip the circuit")
	assert.Contains(t, err.Error(), "data quality below threshold")
}

func TestCircuitBreaker_NonFiniteResult(t *testing.T) {
	cb := New(Thresholds{MaxDailyDemand: 10000})

	broken := plausibleResult("SKU-1", 10)
	broken.CoverageDays = math.NaN()

	err := cb.Check(broken)
	assert.Error(t, err, "NaN in a result should trip the circuit")
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_MissingSKU(t *testing.T) {
	cb := New(Thresholds{MaxDailyDemand: 10000})

	err := cb.Check(model.StockCoverageResult{DemandForecast: 10})
	assert.Error(t, err, "Result without SKU should be rejected")
	assert.Equal(t, StateClosed, cb.GetState(), "A malformed result rejects without tripping")
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	cb := New(Thresholds{
		MaxDailyDemand:    100,
		MaxForecastChange: 5.0,
	}).
		WithResetDelay(50 * time.Millisecond).
		WithSuccessThreshold(1)

	// Trip the circuit.
	err := cb.Check(plausibleResult("SKU-1", 500))
	require.Error(t, err)
	require.Equal(t, StateOpen, cb.GetState())

	// Still blocked before the reset delay elapses.
	err = cb.Check(plausibleResult("SKU-2", 10))
	assert.Error(t, err)

	time.Sleep(60 * time.Millisecond)

	// After the delay a plausible result closes the circuit again.
	err = cb.Check(plausibleResult("SKU-2", 10))
	assert.NoError(t, err, "Plausible result after reset delay should pass")
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit should close after successful half-open check")
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	cb := New(Thresholds{MaxDailyDemand: 100})

	require.Error(t, cb.Check(plausibleResult("SKU-1", 500)))
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Check(plausibleResult("SKU-1", 10)))
}

func TestCircuitBreaker_TripCallback(t *testing.T) {
	tripped := make(chan string, 1)
	cb := New(Thresholds{MaxDailyDemand: 100}).
		WithTripCallback(func(reason string, result model.StockCoverageResult) {
			tripped <- result.SKU
		})

	require.Error(t, cb.Check(plausibleResult("SKU-1", 500)))

	select {
	case sku := <-tripped:
		assert.Equal(t, "SKU-1", sku)
	case <-time.After(time.Second):
		t.Fatal("trip callback was not invoked")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
