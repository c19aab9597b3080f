package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/validate"
	"go.uber.org/zap"
)

var statusByError = []struct {
	err    error
	status int
}{
	{database.ErrOrderNotFound, http.StatusNotFound},
	{database.ErrOrderItemNotFound, http.StatusNotFound},
	{database.ErrProductNotFound, http.StatusNotFound},
	{database.ErrUserNotFound, http.StatusNotFound},

	{database.ErrInvalidProduct, http.StatusBadRequest},
	{database.ErrQuantityOutOfRange, http.StatusBadRequest},
	{database.ErrInvalidToken, http.StatusBadRequest},
	{database.ErrInvalidRecoveryAnswer, http.StatusBadRequest},
	{store.ErrInvalidCursor, http.StatusBadRequest},

	{database.ErrInsufficientStock, http.StatusConflict},
	{database.ErrProductNotPurchasable, http.StatusConflict},
	{database.ErrDuplicateOrderItem, http.StatusConflict},
	{database.ErrDuplicateProduct, http.StatusConflict},
	{database.ErrDuplicateUser, http.StatusConflict},
	{database.ErrInvalidStatusTransition, http.StatusConflict},
	{database.ErrOrderNotEditable, http.StatusConflict},
	{database.ErrProductInUse, http.StatusConflict},
	{database.ErrOptimisticLockFailed, http.StatusConflict},
	{database.ErrLockTimeout, http.StatusConflict},

	{database.ErrInvalidCredentials, http.StatusUnauthorized},
	{auth.ErrUnauthenticated, http.StatusUnauthorized},

	{database.ErrAccountLocked, http.StatusLocked},
}

func statusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// fail writes the response for err. Anything without a known status is
// logged and answered with a generic 500.
func (h *Handler) fail(c *gin.Context, err error) {
	var fieldErr *validate.Error
	if errors.As(err, &fieldErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": []validate.Error{*fieldErr}})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

// badRequest answers a body that failed to bind.
func (h *Handler) badRequest(c *gin.Context, err error) {
	if fields := validate.Describe(err); fields != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
}
