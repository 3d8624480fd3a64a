package models

import (
	"time"
)

// Product is a single externally hosted listing being monitored.
// SourceKey is the stable marketplace product identifier extracted from
// the listing URL; it dedupes products across users.
type Product struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	SourceKey     string     `json:"source_key" gorm:"not null;uniqueIndex"`
	Title         string     `json:"title" gorm:"not null"`
	URL           string     `json:"url" gorm:"not null"`
	CurrentPrice  float64    `json:"current_price"`
	OriginalPrice *float64   `json:"original_price,omitempty"`
	Currency      string     `json:"currency" gorm:"default:'USD'"`
	ImageURL      string     `json:"image_url"`
	TargetPrice   *float64   `json:"target_price,omitempty"`
	UserID        string     `json:"user_id" gorm:"index"`
	LastUpdated   time.Time  `json:"last_updated" gorm:"index"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// PricePoint is one observed price for a product. Append-only.
type PricePoint struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	ProductID  string    `json:"product_id" gorm:"not null;index"`
	Price      float64   `json:"price"`
	RecordedAt time.Time `json:"recorded_at" gorm:"index"`
}
