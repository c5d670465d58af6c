// Package circuitbreaker provides a protective mechanism that stops the
// engine from publishing implausible coverage results when inputs or
// upstream feeds go bad.
package circuitbreaker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/stock-coverage-engine/internal/model"
)

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, no new results published
	StateHalfOpen              // Testing if the pipeline has recovered
)

// String returns the human-readable name of the state for status endpoints.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards the calculation pipeline against publishing
// implausible results. It keeps a bounded history so callers can fall back
// to the last known good result while the circuit is open.
type CircuitBreaker struct {
	// Configuration thresholds for triggering the circuit breaker
	thresholds Thresholds

	// Current state (Closed, Open, HalfOpen)
	state State

	// Timestamp of the last circuit trip
	lastTrip time.Time

	// Duration before auto-reset attempt
	resetDelay time.Duration

	// Mutex for thread safety
	mu sync.RWMutex

	// Last accepted result per SKU, used for jump detection and fallback
	lastGood map[string]model.StockCoverageResult

	// Count of consecutive successful checks in HalfOpen state
	successCount int

	// Number of successful checks required to close the circuit
	successThreshold int

	// Event callback for monitoring/alerting
	onTripCallback func(reason string, result model.StockCoverageResult)
}

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// Maximum plausible daily demand forecast for any SKU
	MaxDailyDemand float64 `json:"max_daily_demand"`

	// Maximum allowed ratio change of a SKU's forecast between consecutive
	// accepted results (e.g. 5.0 for a 5x jump)
	MaxForecastChange float64 `json:"max_forecast_change"`

	// Minimum data quality score a result must carry to be published
	MinDataQuality float64 `json:"min_data_quality,omitempty"`
}

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	return &CircuitBreaker{
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
		lastGood:         make(map[string]model.StockCoverageResult),
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of successful checks needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string, result model.StockCoverageResult)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// Check evaluates a freshly computed result against the thresholds.
// If the circuit is open it blocks publication and returns an error.
// If the result violates a threshold it trips the circuit and returns an error.
func (cb *CircuitBreaker) Check(result model.StockCoverageResult) error {
	cb.mu.RLock()
	state := cb.state
	lastTripTime := cb.lastTrip
	cb.mu.RUnlock()

	if state == StateOpen {
		if time.Since(lastTripTime) > cb.resetDelay {
			cb.transitionToHalfOpen()
		} else {
			return errors.New("circuit breaker open: result publication suspended")
		}
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if result.SKU == "" {
		return errors.New("result without SKU provided to circuit breaker")
	}

	if err := checkFinite(result); err != nil {
		cb.trip(err.Error(), result)
		return err
	}

	if cb.thresholds.MaxDailyDemand > 0 && result.DemandForecast > cb.thresholds.MaxDailyDemand {
		reason := fmt.Sprintf("demand forecast exceeds maximum threshold: %f > %f",
			result.DemandForecast, cb.thresholds.MaxDailyDemand)
		cb.trip(reason, result)
		return errors.New(reason)
	}

	if cb.thresholds.MinDataQuality > 0 && result.DataQuality.OverallScore < cb.thresholds.MinDataQuality {
		reason := fmt.Sprintf("data quality below threshold: %.3f < %.3f",
			result.DataQuality.OverallScore, cb.thresholds.MinDataQuality)
		cb.trip(reason, result)
		return errors.New(reason)
	}

	// Compare against the last accepted result for this SKU; a forecast
	// jumping by more than the allowed ratio between runs signals corrupted
	// inputs rather than genuine demand change.
	if cb.thresholds.MaxForecastChange > 0 {
		if prev, ok := cb.lastGood[result.SKU]; ok && prev.DemandForecast > 1.0 {
			ratio := result.DemandForecast / prev.DemandForecast
			if ratio > cb.thresholds.MaxForecastChange || (ratio > 0 && 1/ratio > cb.thresholds.MaxForecastChange) {
				reason := fmt.Sprintf("forecast change too drastic for sku %s: %.2fx (threshold: %.2fx)",
					result.SKU, ratio, cb.thresholds.MaxForecastChange)
				cb.trip(reason, result)
				return errors.New(reason)
			}
		}
	}

	logrus.Debug("Circuit breaker checks passed")

	cb.lastGood[result.SKU] = result

	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.Info("Circuit breaker closed: pipeline has recovered")
		}
	}

	return nil
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.successCount = 0
	logrus.Info("Circuit breaker manually reset to closed state")
}

// LastGoodResult returns the most recent accepted result for a SKU, if any.
func (cb *CircuitBreaker) LastGoodResult(sku string) (model.StockCoverageResult, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	result, ok := cb.lastGood[sku]
	return result, ok
}

// transitionToHalfOpen changes the circuit state to half-open for testing recovery
func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.Info("Circuit breaker half-open: testing pipeline recovery")
	}
}

// trip sets the circuit breaker to open state with the current time
func (cb *CircuitBreaker) trip(reason string, result model.StockCoverageResult) {
	cb.state = StateOpen
	cb.lastTrip = time.Now()
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(reason, result)
	}
}

// checkFinite rejects results carrying NaN or Inf in any published field.
func checkFinite(r model.StockCoverageResult) error {
	for field, v := range map[string]float64{
		"coverage_days":   r.CoverageDays,
		"demand_forecast": r.DemandForecast,
		"demand_std_dev":  r.DemandStdDev,
		"trend_factor":    r.TrendFactor,
		"stockout_risk":   r.StockoutRisk,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite %s in result for sku %s", field, r.SKU)
		}
	}
	return nil
}
