package services

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/davidramz/price-tracker/backend/internal/metrics"
	"github.com/davidramz/price-tracker/backend/internal/models"
	"github.com/davidramz/price-tracker/backend/internal/scraper"
)

const (
	defaultSweepBatchSize = 50
	defaultSweepInterval  = time.Hour
)

// Fetcher retrieves raw listing page content for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Pacer spaces consecutive sweep items. The production pacer randomizes
// its delays to look less like a bot; tests inject a zero-delay one.
type Pacer interface {
	// AfterSuccess pauses after a processed item (2-5s in production).
	AfterSuccess(ctx context.Context) error
	// AfterFailure pauses longer after a failed item (5-8s in
	// production), backing off under suspected rate limiting.
	AfterFailure(ctx context.Context) error
}

// randomPacer is the production pacing policy.
type randomPacer struct{}

func (randomPacer) AfterSuccess(ctx context.Context) error {
	return sleepCtx(ctx, 2*time.Second+time.Duration(rand.Int63n(int64(3*time.Second))))
}

func (randomPacer) AfterFailure(ctx context.Context) error {
	return sleepCtx(ctx, 5*time.Second+time.Duration(rand.Int63n(int64(3*time.Second))))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// SweepResult aggregates one run's counters. Computed per run, never
// persisted.
type SweepResult struct {
	Total         int `json:"total"`
	Updated       int `json:"updated"`
	Unchanged     int `json:"unchanged"`
	Errored       int `json:"errored"`
	AlertsCreated int `json:"alerts_created"`
}

// SweepStatus is the worker state reported on the status endpoint.
type SweepStatus struct {
	Running     bool         `json:"running"`
	LastRunTime time.Time    `json:"last_run_time"`
	NextRunTime time.Time    `json:"next_run_time"`
	BatchSize   int          `json:"batch_size"`
	LastResult  *SweepResult `json:"last_result,omitempty"`
}

// SweepWorker drives batch price refreshes over the catalog. Items are
// processed strictly sequentially: the point is a low, predictable
// outbound request rate, not throughput.
type SweepWorker struct {
	catalog    *CatalogService
	fetcher    Fetcher
	dispatcher *Dispatcher
	pacer      Pacer
	batchSize  int
	interval   time.Duration

	// runMu serializes runs within this process so the HTTP trigger and
	// the ticker cannot interleave. Cross-process exclusion is the
	// scheduler's concern.
	runMu sync.Mutex

	mu         sync.RWMutex
	running    bool
	lastRun    time.Time
	lastResult *SweepResult
}

// NewSweepWorker creates a sweep worker with production pacing.
func NewSweepWorker(catalog *CatalogService, fetcher Fetcher, dispatcher *Dispatcher, batchSize int, interval time.Duration) *SweepWorker {
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &SweepWorker{
		catalog:    catalog,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		pacer:      randomPacer{},
		batchSize:  batchSize,
		interval:   interval,
	}
}

// Start begins the background sweep loop, running once immediately and
// then on every tick until the context is cancelled.
func (w *SweepWorker) Start(ctx context.Context) {
	log.Printf("Sweep worker started: will refresh up to %d products every %v", w.batchSize, w.interval)

	if result, err := w.Run(ctx); err != nil {
		log.Printf("Sweep worker: initial run failed: %v", err)
	} else {
		log.Printf("Sweep worker: initial run processed %d products (%d updated, %d alerts)",
			result.Total, result.Updated, result.AlertsCreated)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweep worker stopping...")
			return
		case <-ticker.C:
			if result, err := w.Run(ctx); err != nil {
				log.Printf("Sweep worker: run failed: %v", err)
			} else if result.Total > 0 {
				log.Printf("Sweep worker: processed %d products (%d updated, %d unchanged, %d errored, %d alerts)",
					result.Total, result.Updated, result.Unchanged, result.Errored, result.AlertsCreated)
			}
		}
	}
}

// Run executes one sweep over a bounded batch. A failure to read the
// batch aborts the run; per-item failures are counted and isolated.
// Cancellation is honored between items, never mid-item, so a product
// is either fully processed or untouched.
func (w *SweepWorker) Run(ctx context.Context) (*SweepResult, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	w.setRunning(true)
	defer w.setRunning(false)

	start := time.Now()

	batch, err := w.catalog.ListBatch(w.batchSize)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Total: len(batch)}

	for i := range batch {
		if ctx.Err() != nil {
			log.Printf("Sweep worker: cancelled after %d of %d items", i, len(batch))
			break
		}

		itemErr := w.processItem(ctx, &batch[i], result)

		// No pacing after the final item
		if i == len(batch)-1 {
			break
		}
		var pauseErr error
		if itemErr != nil {
			pauseErr = w.pacer.AfterFailure(ctx)
		} else {
			pauseErr = w.pacer.AfterSuccess(ctx)
		}
		if pauseErr != nil {
			break
		}
	}

	w.mu.Lock()
	w.lastRun = time.Now()
	w.lastResult = result
	w.mu.Unlock()

	metrics.SweepRunsTotal.Inc()
	metrics.SweepItemsProcessedTotal.WithLabelValues("updated").Add(float64(result.Updated))
	metrics.SweepItemsProcessedTotal.WithLabelValues("unchanged").Add(float64(result.Unchanged))
	metrics.SweepItemsProcessedTotal.WithLabelValues("errored").Add(float64(result.Errored))
	metrics.SweepAlertsCreatedTotal.Add(float64(result.AlertsCreated))
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	metrics.UpdateCatalogMetrics(w.catalog.db)

	// Dispatch once per run, after the batch. Alert and price state is
	// already committed; a dispatch failure must not affect it.
	if result.AlertsCreated > 0 && w.dispatcher != nil {
		if summary, err := w.dispatcher.DispatchPending(ctx); err != nil {
			log.Printf("Sweep worker: alert dispatch failed: %v", err)
		} else {
			log.Printf("Sweep worker: dispatched alerts (%d sent, %d failed)", summary.Sent, summary.Failed)
		}
	}

	return result, nil
}

// processItem runs one product through fetch, extract, change decision
// and persistence. Errors are counted into result and returned only so
// the caller can pick the longer backoff delay.
func (w *SweepWorker) processItem(ctx context.Context, product *models.Product, result *SweepResult) error {
	body, err := w.fetcher.Fetch(ctx, product.URL)
	if err != nil {
		log.Printf("Sweep worker: fetch failed for %s: %v", product.ID, err)
		result.Errored++
		return err
	}

	snap, err := scraper.Extract(body)
	if err != nil {
		log.Printf("Sweep worker: extraction failed for %s: %v", product.ID, err)
		result.Errored++
		return err
	}

	now := time.Now()
	change := DetectChange(product.CurrentPrice, snap.Price)

	if !change.Changed {
		if err := w.catalog.Touch(product.ID, now); err != nil {
			log.Printf("Sweep worker: failed to touch %s: %v", product.ID, err)
			result.Errored++
			return err
		}
		result.Unchanged++
		return nil
	}

	log.Printf("Sweep worker: price changed for %s: $%.2f -> $%.2f", product.ID, product.CurrentPrice, snap.Price)

	if err := w.catalog.UpdatePrice(product.ID, snap.Price, snap.OriginalPrice, now); err != nil {
		log.Printf("Sweep worker: failed to update price for %s: %v", product.ID, err)
		result.Errored++
		return err
	}

	if err := w.catalog.AppendHistory(product.ID, snap.Price, now); err != nil {
		// Price is committed; a missed history point is not worth
		// failing the item over.
		log.Printf("Sweep worker: failed to append history for %s: %v", product.ID, err)
	}

	result.Updated++

	if TargetReached(product.TargetPrice, snap.Price) {
		w.evaluateAlert(product, snap.Price, now, result)
	}

	return nil
}

// evaluateAlert creates an alert for a qualifying crossing unless one
// already exists inside the cool-down window.
func (w *SweepWorker) evaluateAlert(product *models.Product, price float64, now time.Time, result *SweepResult) {
	recent, err := w.catalog.FindAlertsInWindow(product.ID, product.UserID, now.Add(-models.AlertCooldown))
	if err != nil {
		log.Printf("Sweep worker: alert window lookup failed for %s: %v", product.ID, err)
		return
	}

	if !ShouldAlert(product, price, recent) {
		return
	}

	if _, err := w.catalog.CreateAlert(product.ID, product.UserID, *product.TargetPrice, price); err != nil {
		log.Printf("Sweep worker: failed to create alert for %s: %v", product.ID, err)
		return
	}

	log.Printf("Sweep worker: alert created for %s at $%.2f (target $%.2f)", product.ID, price, *product.TargetPrice)
	result.AlertsCreated++
}

func (w *SweepWorker) setRunning(v bool) {
	w.mu.Lock()
	w.running = v
	w.mu.Unlock()
}

// Status returns the worker state for the status endpoint.
func (w *SweepWorker) Status() SweepStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return SweepStatus{
		Running:     w.running,
		LastRunTime: w.lastRun,
		NextRunTime: w.lastRun.Add(w.interval),
		BatchSize:   w.batchSize,
		LastResult:  w.lastResult,
	}
}
