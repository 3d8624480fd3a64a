package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/davidramz/price-tracker/backend/internal/models"
)

// CatalogService is the persistence collaborator for products, price
// history and alerts. Every read or write the sweep and dispatcher need
// goes through here; nothing else touches the database directly.
type CatalogService struct {
	db *gorm.DB
}

// NewCatalogService creates a catalog service on the given database.
func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{db: db}
}

// ListBatch returns up to limit products ordered by oldest last_updated
// first. Repeated sweeps therefore eventually reach every product no
// matter the batch cap.
func (s *CatalogService) ListBatch(limit int) ([]models.Product, error) {
	var products []models.Product
	err := s.db.Order("last_updated ASC").Limit(limit).Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// Touch advances a product's last_updated without writing a price. Used
// for unchanged fetches so batch ordering keeps rotating.
func (s *CatalogService) Touch(productID string, at time.Time) error {
	return s.db.Model(&models.Product{}).
		Where("id = ?", productID).
		Update("last_updated", at).Error
}

// UpdatePrice persists a new price observation on the product record.
func (s *CatalogService) UpdatePrice(productID string, price float64, originalPrice *float64, at time.Time) error {
	updates := map[string]interface{}{
		"current_price": price,
		"last_updated":  at,
	}
	if originalPrice != nil {
		updates["original_price"] = *originalPrice
	}
	return s.db.Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(updates).Error
}

// AppendHistory records one observed price. History is append-only;
// nothing in this service mutates or deletes points.
func (s *CatalogService) AppendHistory(productID string, price float64, at time.Time) error {
	point := models.PricePoint{
		ProductID:  productID,
		Price:      price,
		RecordedAt: at,
	}
	return s.db.Create(&point).Error
}

// FindAlertsInWindow returns alerts for the (product, user) pair created
// at or after since. The sweep uses it to enforce the cool-down window.
func (s *CatalogService) FindAlertsInWindow(productID, userID string, since time.Time) ([]models.PriceAlert, error) {
	var alerts []models.PriceAlert
	err := s.db.
		Where("product_id = ? AND user_id = ? AND created_at >= ?", productID, userID, since).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// CreateAlert records a qualifying target-price crossing, not yet
// notified.
func (s *CatalogService) CreateAlert(productID, userID string, targetPrice, currentPrice float64) (*models.PriceAlert, error) {
	alert := models.PriceAlert{
		ID:           uuid.New().String(),
		ProductID:    productID,
		UserID:       userID,
		TargetPrice:  targetPrice,
		CurrentPrice: currentPrice,
		Notified:     false,
		CreatedAt:    time.Now(),
	}
	if err := s.db.Create(&alert).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListPendingAlerts returns up to limit un-notified alerts, oldest
// first.
func (s *CatalogService) ListPendingAlerts(limit int) ([]models.PriceAlert, error) {
	var alerts []models.PriceAlert
	err := s.db.
		Where("notified = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// MarkNotified flips an alert to notified. The transition is monotone;
// there is no way back to pending.
func (s *CatalogService) MarkNotified(alertID string) error {
	now := time.Now()
	return s.db.Model(&models.PriceAlert{}).
		Where("id = ?", alertID).
		Updates(map[string]interface{}{
			"notified":    true,
			"notified_at": now,
		}).Error
}

// GetProduct fetches a product by id.
func (s *CatalogService) GetProduct(id string) (*models.Product, error) {
	var product models.Product
	if err := s.db.First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindBySourceKey fetches a product by its stable marketplace key.
// Returns (nil, nil) when no product matches.
func (s *CatalogService) FindBySourceKey(sourceKey string) (*models.Product, error) {
	var product models.Product
	err := s.db.First(&product, "source_key = ?", sourceKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// CreateProduct inserts a brand-new product record.
func (s *CatalogService) CreateProduct(product *models.Product) error {
	return s.db.Create(product).Error
}

// ProductsForUser returns all products owned by the given user.
func (s *CatalogService) ProductsForUser(userID string) ([]models.Product, error) {
	var products []models.Product
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// History returns the recorded price points for a product, oldest
// first.
func (s *CatalogService) History(productID string) ([]models.PricePoint, error) {
	var points []models.PricePoint
	err := s.db.Where("product_id = ?", productID).Order("recorded_at ASC").Find(&points).Error
	if err != nil {
		return nil, err
	}
	return points, nil
}

// SetTargetPrice sets or clears a product's target price.
func (s *CatalogService) SetTargetPrice(productID string, target *float64) error {
	return s.db.Model(&models.Product{}).
		Where("id = ?", productID).
		Update("target_price", target).Error
}

// DeviceTokenForUser resolves a user's push delivery destination.
func (s *CatalogService) DeviceTokenForUser(userID string) (*models.DeviceToken, error) {
	var token models.DeviceToken
	if err := s.db.First(&token, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

// UpsertDeviceToken registers or replaces a user's push token.
func (s *CatalogService) UpsertDeviceToken(userID, token, platform string) error {
	existing := models.DeviceToken{}
	err := s.db.First(&existing, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&models.DeviceToken{
			UserID:   userID,
			Token:    token,
			Platform: platform,
		}).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&existing).Updates(map[string]interface{}{
		"token":    token,
		"platform": platform,
	}).Error
}
