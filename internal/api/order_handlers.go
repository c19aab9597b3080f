package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/service"
)

// orderID parses the :id segment. A malformed id cannot name an order, so
// it reads as not found.
func (h *Handler) orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.fail(c, database.ErrOrderNotFound)
		return uuid.Nil, false
	}
	return id, true
}

// itemID follows orderID: an id that cannot parse reads as not found.
func (h *Handler) itemID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.fail(c, database.ErrOrderItemNotFound)
		return 0, false
	}
	return id, true
}

func (h *Handler) ListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	result, err := h.orders.ListOrders(c.Request.Context(), actor(c), c.Query("cursor"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type createOrderRequest struct {
	ShippingAddress string              `json:"shipping_address" binding:"max=1000"`
	Notes           string              `json:"notes" binding:"max=1000"`
	Items           []service.ItemInput `json:"items"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), actor(c), service.CreateOrderInput(req))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), actor(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type updateOrderRequest struct {
	ShippingAddress *string `json:"shipping_address" binding:"omitempty,max=1000"`
	Notes           *string `json:"notes" binding:"omitempty,max=1000"`
}

func (h *Handler) UpdateOrder(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	var req updateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	order, err := h.orders.UpdateOrder(c.Request.Context(), actor(c), id, service.UpdateOrderInput(req))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason" binding:"max=500"`
}

func (h *Handler) TransitionOrderStatus(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	order, err := h.orders.TransitionOrderStatus(c.Request.Context(), actor(c), id, models.OrderStatus(req.Status), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) OrderHistory(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	history, err := h.orders.OrderHistory(c.Request.Context(), actor(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": history})
}

type createOrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) CreateOrderItem(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	var req createOrderItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	item, err := h.orders.CreateOrderItem(c.Request.Context(), actor(c), id, req.ProductID, req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) GetOrderItem(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}

	item, err := h.orders.GetOrderItem(c.Request.Context(), actor(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) DeleteOrderItem(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}

	if err := h.orders.DeleteOrderItem(c.Request.Context(), actor(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
