package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/davidramz/price-tracker/backend/internal/models"
	"github.com/davidramz/price-tracker/backend/internal/scraper"
)

// ErrImageRequired is returned when a brand-new product's page yields
// no usable image. Title and price alone are not enough to onboard a
// product; existing products tolerate a missing image on refresh.
var ErrImageRequired = errors.New("listing has no usable product image")

// IngestService is the on-demand single-product path: a user submits a
// listing URL and gets it monitored immediately. It shares the fetch
// client and extractor with the sweep.
type IngestService struct {
	catalog *CatalogService
	fetcher Fetcher
}

// NewIngestService creates an ingest service.
func NewIngestService(catalog *CatalogService, fetcher Fetcher) *IngestService {
	return &IngestService{catalog: catalog, fetcher: fetcher}
}

// AddProduct onboards the listing at rawURL for the given user. If a
// product with the same source key already exists, its target price is
// updated and no scrape happens. Otherwise the page is fetched and
// extracted, and the product plus its initial history point are
// created.
func (s *IngestService) AddProduct(ctx context.Context, userID, rawURL string, targetPrice *float64) (*models.Product, error) {
	key, ok := scraper.ProductKey(rawURL)
	if !ok {
		return nil, scraper.ErrNoProductKey
	}

	existing, err := s.catalog.FindBySourceKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up product: %w", err)
	}
	if existing != nil {
		if err := s.catalog.SetTargetPrice(existing.ID, targetPrice); err != nil {
			return nil, fmt.Errorf("failed to update target price: %w", err)
		}
		existing.TargetPrice = targetPrice
		log.Printf("Ingest: product %s already tracked, target updated", key)
		return existing, nil
	}

	body, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}

	snap, err := scraper.Extract(body)
	if err != nil {
		return nil, err
	}
	if snap.ImageURL == "" {
		return nil, ErrImageRequired
	}

	canonical, err := scraper.CanonicalURL(rawURL)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	product := &models.Product{
		ID:            uuid.New().String(),
		SourceKey:     key,
		Title:         snap.Title,
		URL:           canonical,
		CurrentPrice:  snap.Price,
		OriginalPrice: snap.OriginalPrice,
		Currency:      snap.Currency,
		ImageURL:      snap.ImageURL,
		TargetPrice:   targetPrice,
		UserID:        userID,
		LastUpdated:   now,
	}

	if err := s.catalog.CreateProduct(product); err != nil {
		return nil, fmt.Errorf("failed to save product: %w", err)
	}

	if err := s.catalog.AppendHistory(product.ID, snap.Price, now); err != nil {
		log.Printf("Ingest: failed to record initial history for %s: %v", product.ID, err)
	}

	log.Printf("Ingest: added product %s (%s) at $%.2f", product.ID, key, snap.Price)
	return product, nil
}
