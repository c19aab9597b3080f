package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/notify"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/testdb"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type sentNotification struct {
	kind    notify.Kind
	payload any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(kind notify.Kind, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{kind: kind, payload: payload})
}

func (n *recordingNotifier) ofKind(kind notify.Kind) []any {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []any
	for _, s := range n.sent {
		if s.kind == kind {
			out = append(out, s.payload)
		}
	}
	return out
}

type fixture struct {
	db       *sqlx.DB
	notifier *recordingNotifier
	orders   *OrderService
	catalog  *CatalogService
	accounts *AccountService
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db := testdb.New(t)
	notifier := &recordingNotifier{}
	logger := zap.NewNop()
	authCfg := config.AuthConfig{
		JWTSecret:           "test-secret",
		TokenTTL:            time.Hour,
		MaxLoginAttempts:    5,
		LockoutDuration:     30 * time.Minute,
		VerificationCodeTTL: 5 * time.Minute,
		MaxCodeAttempts:     3,
		PasswordResetTTL:    10 * time.Minute,
	}

	return &fixture{
		db:       db,
		notifier: notifier,
		orders:   NewOrderService(db, notifier, logger, opts),
		catalog:  NewCatalogService(db, notifier, logger, opts),
		accounts: NewAccountService(db, notifier, auth.NewIssuer(authCfg.JWTSecret, authCfg.TokenTTL), logger, authCfg, opts),
	}
}

var seq atomic.Int64

func (f *fixture) customer(t *testing.T) auth.Identity {
	t.Helper()
	n := seq.Add(1)
	user, err := store.CreateUser(context.Background(), f.db, store.NewUser{
		Username:     fmt.Sprintf("customer%d", n),
		Email:        fmt.Sprintf("customer%d@example.com", n),
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return auth.Identity{UserID: user.ID, Email: user.Email}
}

func (f *fixture) admin(t *testing.T) auth.Identity {
	t.Helper()
	n := seq.Add(1)
	user, err := store.CreateUser(context.Background(), f.db, store.NewUser{
		Username:     fmt.Sprintf("admin%d", n),
		Email:        fmt.Sprintf("admin%d@example.com", n),
		PasswordHash: "x",
		IsAdmin:      true,
	})
	if err != nil {
		t.Fatalf("Create admin: %v", err)
	}
	return auth.Identity{UserID: user.ID, Email: user.Email, IsAdmin: true}
}

func (f *fixture) product(t *testing.T, price string, stock int) *models.Product {
	t.Helper()
	product, err := f.catalog.CreateProduct(context.Background(), CreateProductInput{
		Name:          fmt.Sprintf("Product %d", seq.Add(1)),
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

func (f *fixture) stockOf(t *testing.T, productID int64) int {
	t.Helper()
	product, err := store.GetProduct(context.Background(), f.db, productID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	return product.StockQuantity
}
