package service

import (
	"context"
	"math"
	"testing"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/notify"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProductDefaultsAndValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	product, err := f.catalog.CreateProduct(ctx, CreateProductInput{
		Name:          "Blue Mug",
		Price:         decimal.RequireFromString("7.50"),
		StockQuantity: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "blue-mug", product.Slug)
	assert.Equal(t, models.ProductStatusActive, product.Status)
	assert.Equal(t, models.DefaultLowStockThreshold, product.LowStockThreshold)
	assert.Equal(t, 1, product.Version)

	_, err = f.catalog.CreateProduct(ctx, CreateProductInput{Name: "Blue Mug", Price: decimal.RequireFromString("1.00")})
	assert.ErrorIs(t, err, database.ErrDuplicateProduct)

	bad := []CreateProductInput{
		{Name: "", Price: decimal.RequireFromString("1.00")},
		{Name: "Free", Price: decimal.Zero},
		{Name: "Fraction", Price: decimal.RequireFromString("1.005")},
		{Name: "Negative", Price: decimal.RequireFromString("1.00"), StockQuantity: -1},
		{Name: "Odd", Price: decimal.RequireFromString("1.00"), Status: "archived"},
	}
	for _, in := range bad {
		_, err := f.catalog.CreateProduct(ctx, in)
		assert.ErrorIs(t, err, database.ErrInvalidProduct, in.Name)
	}

	info, err := f.catalog.ProductInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Count)
}

func TestUpdateProductAuditsEachChangedField(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	admin := f.admin(t)
	product := f.product(t, "10.00", 20)

	name := "Renamed"
	price := decimal.RequireFromString("12.50")
	sameStock := 20
	updated, err := f.catalog.UpdateProduct(ctx, admin, product.ID, product.Version, store.ProductPatch{
		Name:          &name,
		Price:         &price,
		StockQuantity: &sameStock,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, product.Version+1, updated.Version)

	audit, err := f.catalog.ProductAudit(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, audit, 2)

	byField := map[string]models.ProductAudit{}
	for _, entry := range audit {
		byField[entry.FieldName] = entry
		require.NotNil(t, entry.ChangedBy)
		assert.Equal(t, admin.UserID, *entry.ChangedBy)
	}
	assert.Equal(t, "10.00", byField[models.AuditFieldPrice].OldValue)
	assert.Equal(t, "12.50", byField[models.AuditFieldPrice].NewValue)
	assert.Equal(t, "Renamed", byField[models.AuditFieldName].NewValue)
}

func TestUpdateProductRejectsStaleVersion(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	admin := f.admin(t)
	product := f.product(t, "10.00", 20)

	price := decimal.RequireFromString("11.00")
	_, err := f.catalog.UpdateProduct(ctx, admin, product.ID, product.Version, store.ProductPatch{Price: &price})
	require.NoError(t, err)

	price = decimal.RequireFromString("9.00")
	_, err = f.catalog.UpdateProduct(ctx, admin, product.ID, product.Version, store.ProductPatch{Price: &price})
	assert.ErrorIs(t, err, database.ErrOptimisticLockFailed)

	current, err := f.catalog.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "11.00", current.Price.StringFixed(2))
}

func TestUpdateProductValidationLeavesNoTrace(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	admin := f.admin(t)
	product := f.product(t, "10.00", 20)

	name := "Still Valid"
	negative := -4
	_, err := f.catalog.UpdateProduct(ctx, admin, product.ID, product.Version, store.ProductPatch{
		Name:          &name,
		StockQuantity: &negative,
	})
	assert.ErrorIs(t, err, database.ErrInvalidProduct)

	current, err := f.catalog.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, product.Name, current.Name)
	assert.Equal(t, product.Version, current.Version)

	audit, err := f.catalog.ProductAudit(ctx, product.ID)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestUpdateProductNotifiesLowStock(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	admin := f.admin(t)
	product := f.product(t, "10.00", 20)

	description := "now with handle"
	updated, err := f.catalog.UpdateProduct(ctx, admin, product.ID, product.Version, store.ProductPatch{Description: &description})
	require.NoError(t, err)
	assert.Empty(t, f.notifier.ofKind(notify.KindLowStock))

	stock := 2
	_, err = f.catalog.UpdateProduct(ctx, admin, product.ID, updated.Version, store.ProductPatch{StockQuantity: &stock})
	require.NoError(t, err)

	notices := f.notifier.ofKind(notify.KindLowStock)
	require.Len(t, notices, 1)
	notice := notices[0].(notify.LowStock)
	assert.Equal(t, product.ID, notice.ProductID)
	assert.Equal(t, 2, notice.Stock)
}

func TestDeleteProduct(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	customer := f.customer(t)
	ordered := f.product(t, "4.00", 5)
	spare := f.product(t, "4.00", 5)

	_, err := f.orders.CreateOrder(ctx, customer, CreateOrderInput{Items: []ItemInput{{ProductID: ordered.ID, Quantity: 1}}})
	require.NoError(t, err)

	assert.ErrorIs(t, f.catalog.DeleteProduct(ctx, ordered.ID), database.ErrProductInUse)
	require.NoError(t, f.catalog.DeleteProduct(ctx, spare.ID))
	assert.ErrorIs(t, f.catalog.DeleteProduct(ctx, spare.ID), database.ErrProductNotFound)

	_, err = f.catalog.GetProduct(ctx, spare.ID)
	assert.ErrorIs(t, err, database.ErrProductNotFound)
}

func TestListProductsClampsPaging(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.product(t, "1.00", 1)
	}

	page, err := f.catalog.ListProducts(ctx, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, store.MaxPageSize, page.PageSize)
	assert.Equal(t, int64(3), page.Total)

	page, err = f.catalog.ListProducts(ctx, math.MaxInt, 10)
	require.NoError(t, err)
	assert.Equal(t, store.MaxPage, page.Page)
	assert.Equal(t, int64(3), page.Total)
	assert.Empty(t, page.Items)
}
