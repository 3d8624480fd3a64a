package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/davidramz/price-tracker/backend/internal/metrics"
	"github.com/davidramz/price-tracker/backend/internal/models"
)

const (
	defaultDispatchBatchSize = 100
	defaultDispatchPause     = 500 * time.Millisecond

	// dispatchTitleLimit bounds the product title inside the push body.
	dispatchTitleLimit = 80
)

// PushSender delivers one push message to a destination token. Only the
// success/failure signal matters to the dispatcher; credential exchange
// and transport details live behind this interface.
type PushSender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// DispatchSummary aggregates one dispatch run.
type DispatchSummary struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Dispatcher turns pending alerts into push notifications. Delivery is
// at-most-once best-effort: every processed alert is marked notified,
// whether or not the push went out, and is never retried.
type Dispatcher struct {
	catalog *CatalogService
	push    PushSender
	limit   int
	pause   time.Duration
}

// NewDispatcher creates a dispatcher over the given push collaborator.
func NewDispatcher(catalog *CatalogService, push PushSender, limit int, pause time.Duration) *Dispatcher {
	if limit <= 0 {
		limit = defaultDispatchBatchSize
	}
	if pause < 0 {
		pause = defaultDispatchPause
	}
	return &Dispatcher{
		catalog: catalog,
		push:    push,
		limit:   limit,
		pause:   pause,
	}
}

// DispatchPending processes un-notified alerts, oldest first.
//
// An alert whose product or destination token cannot be resolved is
// terminal: it counts as failed and is still marked notified, so it is
// never re-attempted. Note the consequence: a user who registers a
// device token later will not receive alerts created before that.
func (d *Dispatcher) DispatchPending(ctx context.Context) (*DispatchSummary, error) {
	alerts, err := d.catalog.ListPendingAlerts(d.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending alerts: %w", err)
	}

	summary := &DispatchSummary{Total: len(alerts)}
	if len(alerts) == 0 {
		return summary, nil
	}

	log.Printf("Dispatcher: processing %d pending alerts", len(alerts))

	for i, alert := range alerts {
		if ctx.Err() != nil {
			break
		}

		d.dispatchOne(ctx, &alert, summary)

		// Small pause between dispatches so the push transport is not
		// hit in a burst
		if i < len(alerts)-1 && d.pause > 0 {
			if err := sleepCtx(ctx, d.pause); err != nil {
				break
			}
		}
	}

	metrics.NotificationsSentTotal.Add(float64(summary.Sent))
	metrics.NotificationsFailedTotal.Add(float64(summary.Failed))
	metrics.UpdateCatalogMetrics(d.catalog.db)

	log.Printf("Dispatcher: done (%d sent, %d failed)", summary.Sent, summary.Failed)
	return summary, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, alert *models.PriceAlert, summary *DispatchSummary) {
	product, err := d.catalog.GetProduct(alert.ProductID)
	if err != nil {
		log.Printf("Dispatcher: product not found for alert %s: %v", alert.ID, err)
		summary.Failed++
		d.markNotified(alert.ID)
		return
	}

	device, err := d.catalog.DeviceTokenForUser(alert.UserID)
	if err != nil {
		log.Printf("Dispatcher: no device token for user %s (alert %s)", alert.UserID, alert.ID)
		summary.Failed++
		d.markNotified(alert.ID)
		return
	}

	title := "Price target reached!"
	body := fmt.Sprintf("%s is now $%.2f (target: $%.2f)",
		truncate(product.Title, dispatchTitleLimit), alert.CurrentPrice, alert.TargetPrice)

	data := map[string]string{
		"type":          "price_alert",
		"product_id":    product.ID,
		"product_title": product.Title,
		"product_url":   product.URL,
		"current_price": strconv.FormatFloat(alert.CurrentPrice, 'f', 2, 64),
		"target_price":  strconv.FormatFloat(alert.TargetPrice, 'f', 2, 64),
	}

	if err := d.push.Send(ctx, device.Token, title, body, data); err != nil {
		log.Printf("Dispatcher: delivery failed for alert %s: %v", alert.ID, err)
		summary.Failed++
	} else {
		summary.Sent++
	}

	// Marked notified regardless of the delivery outcome: at-most-once,
	// never retried by this path
	d.markNotified(alert.ID)
}

func (d *Dispatcher) markNotified(alertID string) {
	if err := d.catalog.MarkNotified(alertID); err != nil {
		log.Printf("Dispatcher: failed to mark alert %s notified: %v", alertID, err)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
