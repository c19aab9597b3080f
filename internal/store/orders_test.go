package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/testdb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createOrderWithItem(t *testing.T, db *sqlx.DB, userID int64, product *models.Product, quantity int) *models.Order {
	t.Helper()
	ctx := context.Background()

	var order *models.Order
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		var err error
		order, err = CreateOrder(ctx, tx, userID, "1 Main St", "")
		if err != nil {
			return err
		}
		if _, err := InsertOrderItem(ctx, tx, order.ID, product.ID, quantity, product.Price); err != nil {
			return err
		}
		order.TotalAmount, err = RecalculateOrderTotal(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	return order
}

func TestCreateOrderAndRecalculateTotal(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	user := seedUser(t, db)
	p1 := seedProduct(t, db, "19.99", 50)
	p2 := seedProduct(t, db, "0.10", 50)

	var order *models.Order
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		var err error
		order, err = CreateOrder(ctx, tx, user.ID, "1 Main St", "leave at door")
		if err != nil {
			return err
		}
		if _, err := InsertOrderItem(ctx, tx, order.ID, p1.ID, 3, p1.Price); err != nil {
			return err
		}
		if _, err := InsertOrderItem(ctx, tx, order.ID, p2.ID, 7, p2.Price); err != nil {
			return err
		}
		_, err = RecalculateOrderTotal(ctx, tx, order.ID)
		return err
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, order.ID)
	assert.Equal(t, models.OrderStatusPending, order.Status)

	loaded, err := GetOrder(ctx, db, order.ID, OwnerScope(user.ID))
	require.NoError(t, err)
	assert.True(t, loaded.TotalAmount.Equal(decimal.RequireFromString("60.67")), "got %s", loaded.TotalAmount)
	require.Len(t, loaded.Items, 2)
	assert.True(t, loaded.Items[0].Subtotal.Equal(decimal.RequireFromString("59.97")))
	assert.Equal(t, "leave at door", loaded.Notes)
}

func TestGetOrderScopedToOwner(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	owner := seedUser(t, db)
	stranger := seedUser(t, db)
	product := seedProduct(t, db, "5.00", 10)
	order := createOrderWithItem(t, db, owner.ID, product, 1)

	_, err := GetOrder(ctx, db, order.ID, OwnerScope(stranger.ID))
	assert.ErrorIs(t, err, database.ErrOrderNotFound)

	_, err = GetOrder(ctx, db, order.ID, AdminScope(stranger.ID))
	assert.NoError(t, err)

	items, err := ListOrderItems(ctx, db, order.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = GetOrderItem(ctx, db, items[0].ID, OwnerScope(stranger.ID))
	assert.ErrorIs(t, err, database.ErrOrderItemNotFound)

	got, err := GetOrderItem(ctx, db, items[0].ID, OwnerScope(owner.ID))
	require.NoError(t, err)
	assert.Equal(t, product.ID, got.ProductID)
}

func TestInsertDuplicateOrderItem(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	user := seedUser(t, db)
	product := seedProduct(t, db, "5.00", 10)
	order := createOrderWithItem(t, db, user.ID, product, 1)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		exists, err := OrderItemExists(ctx, tx, order.ID, product.ID)
		if err != nil {
			return err
		}
		assert.True(t, exists)

		_, err = InsertOrderItem(ctx, tx, order.ID, product.ID, 2, product.Price)
		return err
	})
	assert.ErrorIs(t, err, database.ErrDuplicateOrderItem)
}

func TestDeleteOrderItemRecalculates(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	user := seedUser(t, db)
	product := seedProduct(t, db, "2.25", 10)
	order := createOrderWithItem(t, db, user.ID, product, 4)
	require.True(t, order.TotalAmount.Equal(decimal.RequireFromString("9.00")))

	items, err := ListOrderItems(ctx, db, order.ID)
	require.NoError(t, err)

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		item, err := LockOrderItem(ctx, tx, items[0].ID, OwnerScope(user.ID))
		if err != nil {
			return err
		}
		if err := DeleteOrderItem(ctx, tx, item.ID); err != nil {
			return err
		}
		total, err := RecalculateOrderTotal(ctx, tx, order.ID)
		assert.True(t, total.IsZero())
		return err
	})
	require.NoError(t, err)

	loaded, err := GetOrder(ctx, db, order.ID, OwnerScope(user.ID))
	require.NoError(t, err)
	assert.Empty(t, loaded.Items)
	assert.True(t, loaded.TotalAmount.IsZero())
}

func TestListOrdersCursor(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	user := seedUser(t, db)
	other := seedUser(t, db)
	product := seedProduct(t, db, "1.00", 100)

	for i := 0; i < 15; i++ {
		createOrderWithItem(t, db, user.ID, product, 1)
	}
	createOrderWithItem(t, db, other.ID, product, 1)

	page1, err := ListOrdersCursor(ctx, db, OwnerScope(user.ID), "", 10)
	require.NoError(t, err)
	assert.True(t, page1.HasMore)
	assert.NotEmpty(t, page1.NextCursor)
	assert.Len(t, page1.Items, 10)

	page2, err := ListOrdersCursor(ctx, db, OwnerScope(user.ID), page1.NextCursor, 10)
	require.NoError(t, err)
	assert.False(t, page2.HasMore)
	assert.Len(t, page2.Items, 5)

	all, err := ListOrdersCursor(ctx, db, AdminScope(user.ID), "", 50)
	require.NoError(t, err)
	assert.Len(t, all.Items, 16)

	_, err = ListOrdersCursor(ctx, db, OwnerScope(user.ID), "%%%", 10)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestUpdateOrderStatus(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	user := seedUser(t, db)
	product := seedProduct(t, db, "1.00", 10)
	order := createOrderWithItem(t, db, user.ID, product, 1)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		locked, err := LockOrder(ctx, tx, order.ID, OwnerScope(user.ID))
		if err != nil {
			return err
		}
		return UpdateOrderStatus(ctx, tx, locked, models.OrderStatusConfirmed)
	})
	require.NoError(t, err)

	loaded, err := GetOrder(ctx, db, order.ID, OwnerScope(user.ID))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, loaded.Status)
}
