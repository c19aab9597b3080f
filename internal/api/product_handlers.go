package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/service"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
)

func productID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) ListProducts(c *gin.Context) {
	page, pageSize := pageParams(c)
	result, err := h.catalog.ListProducts(c.Request.Context(), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ProductInfo(c *gin.Context) {
	info, err := h.catalog.ProductInfo(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) GetProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

type createProductRequest struct {
	Name              string          `json:"name" binding:"required,max=200"`
	Description       string          `json:"description" binding:"max=2000"`
	Price             decimal.Decimal `json:"price"`
	StockQuantity     int             `json:"stock_quantity" binding:"gte=0"`
	LowStockThreshold *int            `json:"low_stock_threshold" binding:"omitempty,gte=0"`
	Status            string          `json:"status" binding:"omitempty,productstatus"`
}

func (h *Handler) CreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), service.CreateProductInput(req))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// updateProductRequest carries the version the client last read; absent
// fields stay as they are.
type updateProductRequest struct {
	Version           int              `json:"version" binding:"required,gte=1"`
	Name              *string          `json:"name" binding:"omitempty,max=200"`
	Description       *string          `json:"description" binding:"omitempty,max=2000"`
	Price             *decimal.Decimal `json:"price"`
	StockQuantity     *int             `json:"stock_quantity" binding:"omitempty,gte=0"`
	LowStockThreshold *int             `json:"low_stock_threshold" binding:"omitempty,gte=0"`
	Status            *string          `json:"status" binding:"omitempty,productstatus"`
}

func (r updateProductRequest) patch() store.ProductPatch {
	patch := store.ProductPatch{
		Name:              r.Name,
		Description:       r.Description,
		Price:             r.Price,
		StockQuantity:     r.StockQuantity,
		LowStockThreshold: r.LowStockThreshold,
	}
	if r.Status != nil {
		status := models.ProductStatus(*r.Status)
		patch.Status = &status
	}
	return patch
}

func (h *Handler) UpdateProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}

	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	product, err := h.catalog.UpdateProduct(c.Request.Context(), actor(c), id, req.Version, req.patch())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) DeleteProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}

	if err := h.catalog.DeleteProduct(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ProductAudit(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}

	entries, err := h.catalog.ProductAudit(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}
