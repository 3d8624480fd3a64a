package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/davidramz/price-tracker/backend/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Product{},
		&models.PricePoint{},
		&models.PriceAlert{},
		&models.DeviceToken{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// fakeFetcher serves canned page bodies per URL and records call order.
type fakeFetcher struct {
	pages map[string]string
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	body, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("no canned page for %s", url)
	}
	return body, nil
}

// noPacer removes the anti-detection delays so tests run instantly.
type noPacer struct{}

func (noPacer) AfterSuccess(ctx context.Context) error { return ctx.Err() }
func (noPacer) AfterFailure(ctx context.Context) error { return ctx.Err() }

func listingPage(title string, price float64) string {
	return fmt.Sprintf(
		`<span id="productTitle">%s</span><span class="a-offscreen">$%.2f</span>"hiRes":"https://img.example/p.jpg"`,
		title, price)
}

func newTestWorker(db *gorm.DB, fetcher Fetcher, dispatcher *Dispatcher, batchSize int) *SweepWorker {
	w := NewSweepWorker(NewCatalogService(db), fetcher, dispatcher, batchSize, time.Hour)
	w.pacer = noPacer{}
	return w
}

func seedProduct(t *testing.T, db *gorm.DB, id string, price float64, target *float64, lastUpdated time.Time) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:           id,
		SourceKey:    "KEY" + id,
		Title:        "Product " + id,
		URL:          "https://www.amazon.com/dp/B00000000" + id,
		CurrentPrice: price,
		Currency:     "USD",
		ImageURL:     "https://img.example/p.jpg",
		TargetPrice:  target,
		UserID:       "user-1",
		LastUpdated:  lastUpdated,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	return product
}

func TestSweepPriceDropCreatesAlert(t *testing.T) {
	db := setupTestDB(t)
	target := 100.00
	product := seedProduct(t, db, "1", 120.00, &target, time.Now().Add(-2*time.Hour))

	fetcher := &fakeFetcher{pages: map[string]string{
		product.URL: listingPage("Product 1", 95.50),
	}}
	w := newTestWorker(db, fetcher, nil, 10)

	result, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Total != 1 || result.Updated != 1 || result.AlertsCreated != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}

	var got models.Product
	if err := db.First(&got, "id = ?", product.ID).Error; err != nil {
		t.Fatalf("Failed to reload product: %v", err)
	}
	if got.CurrentPrice != 95.50 {
		t.Errorf("Expected current price 95.50, got %.2f", got.CurrentPrice)
	}

	var points []models.PricePoint
	db.Where("product_id = ?", product.ID).Find(&points)
	if len(points) != 1 || points[0].Price != 95.50 {
		t.Errorf("Expected exactly one history point at 95.50, got %+v", points)
	}

	var alerts []models.PriceAlert
	db.Where("product_id = ?", product.ID).Find(&alerts)
	if len(alerts) != 1 {
		t.Fatalf("Expected exactly one alert, got %d", len(alerts))
	}
	if alerts[0].Notified {
		t.Error("A freshly created alert must be pending, not notified")
	}
	if alerts[0].TargetPrice != 100.00 || alerts[0].CurrentPrice != 95.50 {
		t.Errorf("Alert captured wrong prices: %+v", alerts[0])
	}
}

func TestSweepUnchangedPriceOnlyTouches(t *testing.T) {
	db := setupTestDB(t)
	target := 100.00
	before := time.Now().Add(-2 * time.Hour)
	product := seedProduct(t, db, "1", 120.00, &target, before)

	fetcher := &fakeFetcher{pages: map[string]string{
		product.URL: listingPage("Product 1", 120.00),
	}}
	w := newTestWorker(db, fetcher, nil, 10)

	result, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Unchanged != 1 || result.Updated != 0 || result.AlertsCreated != 0 {
		t.Errorf("Unexpected result: %+v", result)
	}

	var got models.Product
	db.First(&got, "id = ?", product.ID)
	if !got.LastUpdated.After(before) {
		t.Error("Unchanged fetch must still advance last_updated for batch rotation")
	}

	var count int64
	db.Model(&models.PricePoint{}).Where("product_id = ?", product.ID).Count(&count)
	if count != 0 {
		t.Errorf("Unchanged fetch must write no history, got %d points", count)
	}
}

func TestSweepRepeatRunIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	target := 100.00
	product := seedProduct(t, db, "1", 120.00, &target, time.Now().Add(-2*time.Hour))

	fetcher := &fakeFetcher{pages: map[string]string{
		product.URL: listingPage("Product 1", 95.50),
	}}
	w := newTestWorker(db, fetcher, nil, 10)

	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	second, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if second.Updated != 0 || second.Unchanged != 1 || second.AlertsCreated != 0 {
		t.Errorf("Second run over an unchanged listing must be a no-op: %+v", second)
	}

	var historyCount, alertCount int64
	db.Model(&models.PricePoint{}).Where("product_id = ?", product.ID).Count(&historyCount)
	db.Model(&models.PriceAlert{}).Where("product_id = ?", product.ID).Count(&alertCount)
	if historyCount != 1 || alertCount != 1 {
		t.Errorf("Expected 1 history point and 1 alert after two runs, got %d and %d", historyCount, alertCount)
	}
}

func TestSweepFetchFailureIsolated(t *testing.T) {
	db := setupTestDB(t)
	failing := seedProduct(t, db, "1", 120.00, nil, time.Now().Add(-3*time.Hour))
	healthy := seedProduct(t, db, "2", 50.00, nil, time.Now().Add(-2*time.Hour))

	fetcher := &fakeFetcher{
		pages: map[string]string{healthy.URL: listingPage("Product 2", 45.00)},
		errs:  map[string]error{failing.URL: errors.New("503 from upstream")},
	}
	w := newTestWorker(db, fetcher, nil, 10)

	result, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Errored != 1 || result.Updated != 1 {
		t.Errorf("Expected 1 errored and 1 updated, got %+v", result)
	}

	// The failing product must be left untouched
	var got models.Product
	db.First(&got, "id = ?", failing.ID)
	if got.CurrentPrice != 120.00 {
		t.Errorf("Failed item must not mutate price, got %.2f", got.CurrentPrice)
	}
	var count int64
	db.Model(&models.PricePoint{}).Where("product_id = ?", failing.ID).Count(&count)
	if count != 0 {
		t.Error("Failed item must not write history")
	}

	// The healthy one still went through
	got = models.Product{}
	db.First(&got, "id = ?", healthy.ID)
	if got.CurrentPrice != 45.00 {
		t.Errorf("Healthy item should be updated to 45.00, got %.2f", got.CurrentPrice)
	}
}

func TestSweepAlertCooldown(t *testing.T) {
	tests := []struct {
		name       string
		alertAge   time.Duration
		wantAlerts int
	}{
		{"alert one hour ago suppresses", time.Hour, 0},
		{"alert twenty-five hours ago allows", 25 * time.Hour, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			target := 100.00
			product := seedProduct(t, db, "1", 98.00, &target, time.Now().Add(-2*time.Hour))

			prior := models.PriceAlert{
				ID:           "prior-alert",
				ProductID:    product.ID,
				UserID:       product.UserID,
				TargetPrice:  target,
				CurrentPrice: 98.00,
				Notified:     true,
				CreatedAt:    time.Now().Add(-tt.alertAge),
			}
			if err := db.Create(&prior).Error; err != nil {
				t.Fatalf("Failed to seed prior alert: %v", err)
			}

			fetcher := &fakeFetcher{pages: map[string]string{
				product.URL: listingPage("Product 1", 95.50),
			}}
			w := newTestWorker(db, fetcher, nil, 10)

			result, err := w.Run(context.Background())
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if result.AlertsCreated != tt.wantAlerts {
				t.Errorf("Expected %d new alerts, got %d", tt.wantAlerts, result.AlertsCreated)
			}
		})
	}
}

func TestSweepBatchRotation(t *testing.T) {
	db := setupTestDB(t)
	oldest := seedProduct(t, db, "1", 10.00, nil, time.Now().Add(-3*time.Hour))
	newest := seedProduct(t, db, "2", 20.00, nil, time.Now().Add(-1*time.Hour))

	fetcher := &fakeFetcher{pages: map[string]string{
		oldest.URL: listingPage("Product 1", 10.00),
		newest.URL: listingPage("Product 2", 20.00),
	}}
	w := newTestWorker(db, fetcher, nil, 1)

	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if len(fetcher.calls) != 1 || fetcher.calls[0] != oldest.URL {
		t.Fatalf("First run must pick the stalest product, fetched %v", fetcher.calls)
	}

	// The touched product moved to the back of the queue, so the next
	// run reaches the other one.
	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if len(fetcher.calls) != 2 || fetcher.calls[1] != newest.URL {
		t.Errorf("Second run must rotate to the next product, fetched %v", fetcher.calls)
	}
}

func TestSweepStatus(t *testing.T) {
	db := setupTestDB(t)
	w := newTestWorker(db, &fakeFetcher{}, nil, 10)

	status := w.Status()
	if status.Running {
		t.Error("Worker must not report running before any run")
	}
	if status.LastResult != nil {
		t.Error("No last result expected before any run")
	}

	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	status = w.Status()
	if status.Running {
		t.Error("Worker must not report running after the run finished")
	}
	if status.LastResult == nil || status.LastResult.Total != 0 {
		t.Errorf("Expected an empty last result, got %+v", status.LastResult)
	}
	if !status.NextRunTime.After(status.LastRunTime) {
		t.Error("Next run time must be after the last run time")
	}
}
