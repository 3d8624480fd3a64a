package services

import (
	"math"

	"github.com/davidramz/price-tracker/backend/internal/models"
)

// PriceEpsilon is the currency-minor-unit threshold below which two
// prices count as equal. Differences under one cent are presentation
// noise, not price movements.
const PriceEpsilon = 0.01

// PriceChange is the decision for one fetched price against the last
// recorded one.
type PriceChange struct {
	Changed bool
	Delta   float64 // next - previous, zero when unchanged
}

// DetectChange compares a freshly extracted price with the previous
// recorded one. An unchanged result still refreshes the product's
// last_updated timestamp (fair batch rotation) but writes no history.
func DetectChange(previous, next float64) PriceChange {
	if math.Abs(next-previous) < PriceEpsilon {
		return PriceChange{}
	}
	return PriceChange{Changed: true, Delta: next - previous}
}

// TargetReached reports whether a price qualifies against a product's
// target. A product without a target never qualifies.
func TargetReached(target *float64, price float64) bool {
	return target != nil && price <= *target
}

// ShouldAlert decides whether a qualifying crossing may create a new
// alert given the alerts already raised inside the cool-down window.
// The hard invariant: at most one alert per (product, user) pair with
// creation timestamps less than models.AlertCooldown apart.
func ShouldAlert(product *models.Product, price float64, alertsInWindow []models.PriceAlert) bool {
	if !TargetReached(product.TargetPrice, price) {
		return false
	}
	return len(alertsInWindow) == 0
}
