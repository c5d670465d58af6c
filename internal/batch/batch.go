// Package batch fans coverage calculations out across SKUs. Each calculation
// works on immutable inputs and returns fresh outputs, so the pool shares
// nothing and needs no locking beyond the work queue itself.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/stock-coverage-engine/internal/config"
	"github.com/yourorg/stock-coverage-engine/internal/coverage"
	"github.com/yourorg/stock-coverage-engine/internal/model"
)

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 4

// Outcome pairs one SKU's result with the error that prevented it, if any.
type Outcome struct {
	SKU    string                    `json:"sku"`
	Result model.StockCoverageResult `json:"result,omitempty"`
	Err    error                     `json:"-"`
	Error  string                    `json:"error,omitempty"`
}

// Runner executes coverage calculations for many SKUs over a bounded worker
// pool.
type Runner struct {
	workers int
	cfg     config.StockCoverageConfig
}

// NewRunner creates a batch runner with the given parallelism.
func NewRunner(workers int, cfg config.StockCoverageConfig) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runner{workers: workers, cfg: cfg}
}

// Run computes coverage for every input and returns one outcome per input in
// the same order, regardless of which worker finished first. The same `now`
// is injected into every calculation so a batch is internally consistent.
func (r *Runner) Run(ctx context.Context, inputs []model.CoverageInput, now time.Time) []Outcome {
	outcomes := make([]Outcome, len(inputs))
	if len(inputs) == 0 {
		return outcomes
	}

	workers := r.workers
	if workers > len(inputs) {
		workers = len(inputs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = r.runOne(ctx, inputs[i], now)
			}
		}()
	}

	for i := range inputs {
		select {
		case <-ctx.Done():
			// Remaining inputs are reported as cancelled, not silently skipped.
			for j := i; j < len(inputs); j++ {
				outcomes[j] = Outcome{SKU: skuOf(inputs[j]), Err: ctx.Err(), Error: ctx.Err().Error()}
			}
			close(jobs)
			wg.Wait()
			return outcomes
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	succeeded := 0
	for i := range outcomes {
		if outcomes[i].Err == nil {
			succeeded++
		}
	}
	logrus.WithFields(logrus.Fields{
		"total":     len(inputs),
		"succeeded": succeeded,
		"workers":   workers,
	}).Info("Batch coverage run complete")

	return outcomes
}

// runOne computes a single SKU and tags the result with a calculation ID.
// The ID is assigned here at the boundary; the pipeline itself stays
// deterministic for identical inputs.
func (r *Runner) runOne(ctx context.Context, input model.CoverageInput, now time.Time) Outcome {
	sku := skuOf(input)

	if err := ctx.Err(); err != nil {
		return Outcome{SKU: sku, Err: err, Error: err.Error()}
	}

	result, err := coverage.Calculate(input, r.cfg, now)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"sku":   sku,
			"error": err,
		}).Warn("Coverage calculation failed")
		return Outcome{SKU: sku, Err: err, Error: err.Error()}
	}

	return Outcome{SKU: sku, Result: result.WithCalculationID(uuid.NewString())}
}

func skuOf(input model.CoverageInput) string {
	if input.Product != nil {
		return input.Product.SKU
	}
	return ""
}
