package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/davidramz/price-tracker/backend/internal/models"
)

type pushCall struct {
	token string
	title string
	body  string
	data  map[string]string
}

// fakePush records deliveries and can fail specific tokens.
type fakePush struct {
	calls    []pushCall
	failWith map[string]error
}

func (f *fakePush) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	f.calls = append(f.calls, pushCall{token: token, title: title, body: body, data: data})
	if err, ok := f.failWith[token]; ok {
		return err
	}
	return nil
}

func seedAlert(t *testing.T, db *gorm.DB, id, productID, userID string, createdAt time.Time) {
	t.Helper()
	alert := models.PriceAlert{
		ID:           id,
		ProductID:    productID,
		UserID:       userID,
		TargetPrice:  100.00,
		CurrentPrice: 95.50,
		CreatedAt:    createdAt,
	}
	if err := db.Create(&alert).Error; err != nil {
		t.Fatalf("Failed to seed alert: %v", err)
	}
}

func seedDevice(t *testing.T, db *gorm.DB, userID, token string) {
	t.Helper()
	device := models.DeviceToken{UserID: userID, Token: token, Platform: "ios"}
	if err := db.Create(&device).Error; err != nil {
		t.Fatalf("Failed to seed device token: %v", err)
	}
}

func reloadAlert(t *testing.T, db *gorm.DB, id string) models.PriceAlert {
	t.Helper()
	var alert models.PriceAlert
	if err := db.First(&alert, "id = ?", id).Error; err != nil {
		t.Fatalf("Failed to reload alert %s: %v", id, err)
	}
	return alert
}

func TestDispatchSendsAndMarksNotified(t *testing.T) {
	db := setupTestDB(t)
	product := seedProduct(t, db, "1", 95.50, nil, time.Now())
	seedDevice(t, db, product.UserID, "token-1")
	seedAlert(t, db, "alert-1", product.ID, product.UserID, time.Now())

	push := &fakePush{}
	d := NewDispatcher(NewCatalogService(db), push, 100, 0)

	summary, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending failed: %v", err)
	}
	if summary.Total != 1 || summary.Sent != 1 || summary.Failed != 0 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	if len(push.calls) != 1 {
		t.Fatalf("Expected one delivery, got %d", len(push.calls))
	}
	call := push.calls[0]
	if call.token != "token-1" {
		t.Errorf("Delivered to wrong token %q", call.token)
	}
	if call.body != "Product 1 is now $95.50 (target: $100.00)" {
		t.Errorf("Unexpected push body %q", call.body)
	}
	if call.data["product_id"] != product.ID || call.data["type"] != "price_alert" {
		t.Errorf("Unexpected push data %+v", call.data)
	}

	alert := reloadAlert(t, db, "alert-1")
	if !alert.Notified || alert.NotifiedAt == nil {
		t.Error("Delivered alert must be marked notified with a timestamp")
	}
}

func TestDispatchMissingTokenIsTerminal(t *testing.T) {
	db := setupTestDB(t)
	product := seedProduct(t, db, "1", 95.50, nil, time.Now())
	seedAlert(t, db, "alert-1", product.ID, product.UserID, time.Now())

	push := &fakePush{}
	d := NewDispatcher(NewCatalogService(db), push, 100, 0)

	summary, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending failed: %v", err)
	}
	if summary.Failed != 1 || summary.Sent != 0 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	if len(push.calls) != 0 {
		t.Error("No delivery attempt expected without a device token")
	}

	// Marked notified so it is never retried
	if alert := reloadAlert(t, db, "alert-1"); !alert.Notified {
		t.Error("Alert without a token must still be marked notified")
	}
}

func TestDispatchMissingProductIsTerminal(t *testing.T) {
	db := setupTestDB(t)
	seedDevice(t, db, "user-1", "token-1")
	seedAlert(t, db, "alert-1", "gone-product", "user-1", time.Now())

	push := &fakePush{}
	d := NewDispatcher(NewCatalogService(db), push, 100, 0)

	summary, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending failed: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("Expected failure for orphaned alert, got %+v", summary)
	}
	if alert := reloadAlert(t, db, "alert-1"); !alert.Notified {
		t.Error("Orphaned alert must still be marked notified")
	}
}

func TestDispatchDeliveryFailureStillMarksNotified(t *testing.T) {
	db := setupTestDB(t)
	product := seedProduct(t, db, "1", 95.50, nil, time.Now())
	seedDevice(t, db, product.UserID, "token-1")
	seedAlert(t, db, "alert-1", product.ID, product.UserID, time.Now())

	push := &fakePush{failWith: map[string]error{"token-1": errors.New("fcm 500")}}
	d := NewDispatcher(NewCatalogService(db), push, 100, 0)

	summary, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending failed: %v", err)
	}
	if summary.Failed != 1 || summary.Sent != 0 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	if alert := reloadAlert(t, db, "alert-1"); !alert.Notified {
		t.Error("At-most-once delivery: failed alert must not stay pending")
	}
}

func TestDispatchOldestFirstWithinLimit(t *testing.T) {
	db := setupTestDB(t)
	product := seedProduct(t, db, "1", 95.50, nil, time.Now())
	seedDevice(t, db, product.UserID, "token-1")
	seedAlert(t, db, "newer", product.ID, product.UserID, time.Now())
	seedAlert(t, db, "older", product.ID, product.UserID, time.Now().Add(-time.Hour))

	push := &fakePush{}
	d := NewDispatcher(NewCatalogService(db), push, 1, 0)

	summary, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending failed: %v", err)
	}
	if summary.Total != 1 || summary.Sent != 1 {
		t.Errorf("Limit of 1 must process exactly one alert, got %+v", summary)
	}

	if alert := reloadAlert(t, db, "older"); !alert.Notified {
		t.Error("The oldest pending alert must be processed first")
	}
	if alert := reloadAlert(t, db, "newer"); alert.Notified {
		t.Error("The newer alert must remain pending for the next run")
	}
}

func TestDispatchTruncatesLongTitles(t *testing.T) {
	db := setupTestDB(t)
	product := seedProduct(t, db, "1", 95.50, nil, time.Now())
	longTitle := strings.Repeat("x", 120)
	if err := db.Model(&models.Product{}).Where("id = ?", product.ID).Update("title", longTitle).Error; err != nil {
		t.Fatalf("Failed to set long title: %v", err)
	}
	seedDevice(t, db, product.UserID, "token-1")
	seedAlert(t, db, "alert-1", product.ID, product.UserID, time.Now())

	push := &fakePush{}
	d := NewDispatcher(NewCatalogService(db), push, 100, 0)

	if _, err := d.DispatchPending(context.Background()); err != nil {
		t.Fatalf("DispatchPending failed: %v", err)
	}
	if len(push.calls) != 1 {
		t.Fatalf("Expected one delivery, got %d", len(push.calls))
	}

	want := strings.Repeat("x", 80) + "..."
	if !strings.HasPrefix(push.calls[0].body, want) {
		t.Errorf("Expected title truncated to 80 chars with ellipsis, body was %q", push.calls[0].body)
	}
}

func TestDispatchNothingPending(t *testing.T) {
	db := setupTestDB(t)
	push := &fakePush{}
	d := NewDispatcher(NewCatalogService(db), push, 100, 0)

	summary, err := d.DispatchPending(context.Background())
	if err != nil {
		t.Fatalf("DispatchPending failed: %v", err)
	}
	if summary.Total != 0 || len(push.calls) != 0 {
		t.Errorf("Empty queue must be a no-op, got %+v", summary)
	}
}
