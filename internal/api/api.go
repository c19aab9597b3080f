// Package api exposes the services over HTTP with gin.
package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/service"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/validate"
	"go.uber.org/zap"
)

type Orders interface {
	CreateOrder(ctx context.Context, actor auth.Identity, in service.CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, actor auth.Identity, orderID uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, actor auth.Identity, orderID uuid.UUID, in service.UpdateOrderInput) (*models.Order, error)
	ListOrders(ctx context.Context, actor auth.Identity, cursor string, limit int) (*store.CursorPage, error)
	CreateOrderItem(ctx context.Context, actor auth.Identity, orderID uuid.UUID, productID int64, quantity int) (*models.OrderItem, error)
	GetOrderItem(ctx context.Context, actor auth.Identity, itemID int64) (*models.OrderItem, error)
	DeleteOrderItem(ctx context.Context, actor auth.Identity, itemID int64) error
	TransitionOrderStatus(ctx context.Context, actor auth.Identity, orderID uuid.UUID, next models.OrderStatus, reason string) (*models.Order, error)
	OrderHistory(ctx context.Context, actor auth.Identity, orderID uuid.UUID) ([]models.OrderHistory, error)
}

type Catalog interface {
	CreateProduct(ctx context.Context, in service.CreateProductInput) (*models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage, error)
	ProductInfo(ctx context.Context) (*store.ProductInfo, error)
	UpdateProduct(ctx context.Context, actor auth.Identity, id int64, version int, patch store.ProductPatch) (*models.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ProductAudit(ctx context.Context, id int64) ([]models.ProductAudit, error)
}

type Accounts interface {
	Register(ctx context.Context, in service.RegisterInput) (*models.User, error)
	VerifyEmail(ctx context.Context, email, code string) error
	ResendVerification(ctx context.Context, email string) (bool, error)
	Login(ctx context.Context, login, password string) (*service.LoginResult, error)
	RequestPasswordReset(ctx context.Context, email, answer string) error
	ConfirmPasswordReset(ctx context.Context, token, password, confirm string) error
	Profile(ctx context.Context, actor auth.Identity) (*models.User, error)
	ChangePassword(ctx context.Context, actor auth.Identity, current, password, confirm string) error
	ListUsers(ctx context.Context, page, pageSize int) (*store.OffsetPage, error)
}

// TokenParser turns a bearer token into the caller identity.
type TokenParser interface {
	Parse(token string) (auth.Identity, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Orders   Orders
	Catalog  Catalog
	Accounts Accounts
	Tokens   TokenParser
	DB       Pinger
	Logger   *zap.Logger
}

type Handler struct {
	orders   Orders
	catalog  Catalog
	accounts Accounts
	db       Pinger
	logger   *zap.Logger
}

var setupValidator sync.Once

// registerValidation teaches gin's validator the custom tags and makes it
// report fields by their json names.
func registerValidation(logger *zap.Logger) {
	setupValidator.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		if err := validate.RegisterTags(v); err != nil {
			logger.Error("register validation tags", zap.Error(err))
		}
	})
}

func NewRouter(d Deps) *gin.Engine {
	registerValidation(d.Logger)

	h := &Handler{
		orders:   d.Orders,
		catalog:  d.Catalog,
		accounts: d.Accounts,
		db:       d.DB,
		logger:   d.Logger,
	}

	router := gin.New()
	router.Use(RequestID(), AccessLog(d.Logger), Recovery(d.Logger))

	router.GET("/healthz", h.Health)

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/verify-email", h.VerifyEmail)
		authGroup.POST("/resend-verification", h.ResendVerification)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/password-reset-request", h.RequestPasswordReset)
		authGroup.POST("/password-reset-confirm", h.ConfirmPasswordReset)

		authGroup.GET("/profile", RequireAuth(d.Tokens), h.Profile)
		authGroup.POST("/change-password", RequireAuth(d.Tokens), h.ChangePassword)
	}

	products := router.Group("/products")
	{
		products.GET("", h.ListProducts)
		products.GET("/info", h.ProductInfo)
		products.GET("/:id", h.GetProduct)

		admin := products.Group("", RequireAuth(d.Tokens), RequireAdmin())
		admin.POST("", h.CreateProduct)
		admin.PATCH("/:id", h.UpdateProduct)
		admin.DELETE("/:id", h.DeleteProduct)
		admin.GET("/:id/audit", h.ProductAudit)
	}

	authed := router.Group("", RequireAuth(d.Tokens))
	{
		authed.GET("/orders", h.ListOrders)
		authed.POST("/orders", h.CreateOrder)
		authed.GET("/orders/:id", h.GetOrder)
		authed.PATCH("/orders/:id", h.UpdateOrder)
		authed.POST("/orders/:id/status", h.TransitionOrderStatus)
		authed.GET("/orders/:id/history", h.OrderHistory)
		authed.POST("/orders/:id/items", h.CreateOrderItem)

		authed.GET("/order-items/:id", h.GetOrderItem)
		authed.DELETE("/order-items/:id", h.DeleteOrderItem)

		authed.GET("/users", RequireAdmin(), h.ListUsers)
	}

	return router
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
