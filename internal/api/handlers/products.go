package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davidramz/price-tracker/backend/internal/auth"
	"github.com/davidramz/price-tracker/backend/internal/scraper"
	"github.com/davidramz/price-tracker/backend/internal/services"
)

type ProductHandler struct {
	ingest  *services.IngestService
	catalog *services.CatalogService
}

func NewProductHandler(ingest *services.IngestService, catalog *services.CatalogService) *ProductHandler {
	return &ProductHandler{ingest: ingest, catalog: catalog}
}

type addProductRequest struct {
	URL         string   `json:"url" binding:"required"`
	TargetPrice *float64 `json:"target_price"`
}

// AddProduct onboards a listing URL for the authenticated user.
func (h *ProductHandler) AddProduct(c *gin.Context) {
	var req addProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	product, err := h.ingest.AddProduct(c.Request.Context(), auth.UserID(c), req.URL, req.TargetPrice)
	if err != nil {
		switch {
		case errors.Is(err, scraper.ErrNoProductKey):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing url"})
		case errors.Is(err, scraper.ErrPriceNotFound), errors.Is(err, services.ErrImageRequired):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not extract product data"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"product": product,
		"message": "Product added successfully",
	})
}

// ListProducts returns the caller's monitored products.
func (h *ProductHandler) ListProducts(c *gin.Context) {
	products, err := h.catalog.ProductsForUser(auth.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// GetHistory returns the recorded price points for a product.
func (h *ProductHandler) GetHistory(c *gin.Context) {
	productID := c.Param("id")

	if _, err := h.catalog.GetProduct(productID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}

	points, err := h.catalog.History(productID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": points})
}

type setTargetRequest struct {
	TargetPrice *float64 `json:"target_price"`
}

// SetTarget sets or clears the product's target price.
func (h *ProductHandler) SetTarget(c *gin.Context) {
	productID := c.Param("id")

	product, err := h.catalog.GetProduct(productID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if product.UserID != auth.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your product"})
		return
	}

	var req setTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	if err := h.catalog.SetTargetPrice(productID, req.TargetPrice); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type registerDeviceRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform"`
}

// RegisterDevice stores the caller's push delivery token.
func (h *ProductHandler) RegisterDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	if err := h.catalog.UpsertDeviceToken(auth.UserID(c), req.Token, req.Platform); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
