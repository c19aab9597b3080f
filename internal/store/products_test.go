package store

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/testdb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProductAssignsSlug(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	product, err := CreateProduct(ctx, db, NewProduct{
		Name:              "Blue Widget Deluxe",
		Price:             decimal.RequireFromString("19.99"),
		StockQuantity:     4,
		LowStockThreshold: 5,
		Status:            models.ProductStatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, "blue-widget-deluxe", product.Slug)
	assert.Equal(t, 1, product.Version)
	assert.True(t, product.IsLowStock())

	_, err = CreateProduct(ctx, db, NewProduct{
		Name:   "Blue Widget Deluxe",
		Price:  decimal.RequireFromString("1.00"),
		Status: models.ProductStatusActive,
	})
	assert.ErrorIs(t, err, database.ErrDuplicateProduct)
}

func TestConcurrentStockReservation(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	product := seedProduct(t, db, "100", 10)

	concurrency := 8
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			errs <- database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
				_, _, err := ReserveStock(ctx, tx, product.ID, 2, LockWait)
				return err
			})
		}()
	}

	wg.Wait()
	close(errs)

	successCount := 0
	for err := range errs {
		if err == nil {
			successCount++
			continue
		}
		assert.ErrorIs(t, err, database.ErrInsufficientStock)
	}

	assert.Equal(t, 5, successCount)

	finalProduct, err := GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, finalProduct.StockQuantity)
}

func TestReserveStockRejectsInactiveProduct(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	product := seedProduct(t, db, "5.00", 10)
	status := models.ProductStatusDiscontinued
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		next := *product
		ProductPatch{Status: &status}.Apply(&next)
		_, err := UpdateProduct(ctx, tx, &next)
		return err
	})
	require.NoError(t, err)

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		_, _, err := ReserveStock(ctx, tx, product.ID, 1, LockWait)
		return err
	})
	assert.ErrorIs(t, err, database.ErrProductNotPurchasable)
}

func TestReserveStockNoWait(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	product := seedProduct(t, db, "100", 20)

	tx1, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx1.Rollback() }()

	before, after, err := ReserveStock(ctx, tx1, product.ID, 5, LockWait)
	require.NoError(t, err)
	assert.Equal(t, 20, before.StockQuantity)
	assert.Equal(t, 15, after.StockQuantity)

	tx2, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx2.Rollback() }()

	_, _, err = ReserveStock(ctx, tx2, product.ID, 3, LockNoWait)
	assert.ErrorIs(t, err, database.ErrLockTimeout)
}

func TestReleaseStock(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	product := seedProduct(t, db, "3.50", 2)

	var released *models.Product
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		var err error
		released, err = ReleaseStock(ctx, tx, product.ID, 7)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 9, released.StockQuantity)
	assert.Equal(t, product.Version+1, released.Version)
}

func TestUpdateProductOptimisticLocking(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	product := seedProduct(t, db, "100", 50)
	stock := 40

	var after *models.Product
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		next := *product
		ProductPatch{StockQuantity: &stock}.Apply(&next)
		var err error
		after, err = UpdateProduct(ctx, tx, &next)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 40, after.StockQuantity)
	assert.Equal(t, product.Version+1, after.Version)

	stock = 30
	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		stale := *product
		ProductPatch{StockQuantity: &stock}.Apply(&stale)
		_, err := UpdateProduct(ctx, tx, &stale)
		return err
	})
	assert.ErrorIs(t, err, database.ErrOptimisticLockFailed)
}

func TestReservationInvalidatesStaleVersion(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	product := seedProduct(t, db, "100", 50)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		_, _, err := ReserveStock(ctx, tx, product.ID, 1, LockWait)
		return err
	})
	require.NoError(t, err)

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		_, err := UpdateProduct(ctx, tx, product)
		return err
	})
	assert.ErrorIs(t, err, database.ErrOptimisticLockFailed)
}

func TestDeleteProductInUse(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	user := seedUser(t, db)
	used := seedProduct(t, db, "1.00", 10)
	unused := seedProduct(t, db, "1.00", 10)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		order, err := CreateOrder(ctx, tx, user.ID, "", "")
		if err != nil {
			return err
		}
		_, err = InsertOrderItem(ctx, tx, order.ID, used.ID, 1, used.Price)
		return err
	})
	require.NoError(t, err)

	assert.ErrorIs(t, DeleteProduct(ctx, db, used.ID), database.ErrProductInUse)
	assert.NoError(t, DeleteProduct(ctx, db, unused.ID))
	assert.ErrorIs(t, DeleteProduct(ctx, db, unused.ID), database.ErrProductNotFound)
}

func TestProductInfoAndList(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	info, err := GetProductInfo(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Count)
	assert.False(t, info.MaxPrice.Valid)

	seedProduct(t, db, "2.50", 1)
	seedProduct(t, db, "99.99", 1)
	seedProduct(t, db, "10.00", 1)

	info, err = GetProductInfo(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Count)
	assert.True(t, info.MaxPrice.Decimal.Equal(decimal.RequireFromString("99.99")))

	page, err := ListProducts(ctx, db, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 2)
}
