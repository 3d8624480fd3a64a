package models

import (
	"time"
)

// PriceAlert records a target-price crossing for a (product, user) pair.
// At most one alert per pair may be created within a 24h window; the
// sweep enforces that before inserting.
//
// Notified transitions false -> true exactly once and never reverts,
// even when delivery fails.
type PriceAlert struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	ProductID    string     `json:"product_id" gorm:"not null;index:idx_alert_product_user"`
	UserID       string     `json:"user_id" gorm:"not null;index:idx_alert_product_user"`
	TargetPrice  float64    `json:"target_price"`
	CurrentPrice float64    `json:"current_price"`
	Notified     bool       `json:"notified" gorm:"index"`
	NotifiedAt   *time.Time `json:"notified_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at" gorm:"index"`
}

// AlertCooldown is the minimum spacing between two alerts for the same
// (product, user) pair.
const AlertCooldown = 24 * time.Hour
