package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

var seq atomic.Int64

func seedUser(t *testing.T, db *sqlx.DB) *models.User {
	t.Helper()
	n := seq.Add(1)
	user, err := CreateUser(context.Background(), db, NewUser{
		Username:     fmt.Sprintf("user%d", n),
		Email:        fmt.Sprintf("user%d@example.com", n),
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

func seedProduct(t *testing.T, db *sqlx.DB, price string, stock int) *models.Product {
	t.Helper()
	product, err := CreateProduct(context.Background(), db, NewProduct{
		Name:              fmt.Sprintf("Product %d", seq.Add(1)),
		Description:       "Test",
		Price:             decimal.RequireFromString(price),
		StockQuantity:     stock,
		LowStockThreshold: models.DefaultLowStockThreshold,
		Status:            models.ProductStatusActive,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}
