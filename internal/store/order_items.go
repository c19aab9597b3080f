package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

const orderItemColumns = `id, order_id, product_id, quantity, unit_price, created_at`

func scanOrderItem(row rowScanner) (*models.OrderItem, error) {
	item := &models.OrderItem{}
	err := row.Scan(
		&item.ID,
		&item.OrderID,
		&item.ProductID,
		&item.Quantity,
		&item.UnitPrice,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Subtotal = models.ItemSubtotal(item.UnitPrice, item.Quantity)
	return item, nil
}

func OrderItemExists(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, productID int64) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM order_items WHERE order_id = $1 AND product_id = $2)",
		orderID, productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check order item exists: %w", err)
	}
	return exists, nil
}

// InsertOrderItem stores a line with unitPrice frozen at insert time. The
// (order_id, product_id) unique constraint backs OrderItemExists.
func InsertOrderItem(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID, productID int64, quantity int, unitPrice decimal.Decimal) (*models.OrderItem, error) {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING ` + orderItemColumns

	item, err := scanOrderItem(tx.QueryRowContext(ctx, query, orderID, productID, quantity, unitPrice))
	if err != nil {
		if database.IsUniqueViolation(err, "order_items_order_product_key") {
			return nil, database.ErrDuplicateOrderItem
		}
		return nil, fmt.Errorf("create order item: %w", err)
	}

	return item, nil
}

func GetOrderItem(ctx context.Context, db sqlx.ExtContext, itemID int64, scope Scope) (*models.OrderItem, error) {
	query := `
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price, oi.created_at
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.id = $1
		  AND ($2 OR o.user_id = $3)`

	item, err := scanOrderItem(db.QueryRowxContext(ctx, query, itemID, scope.All, scope.UserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderItemNotFound
		}
		return nil, fmt.Errorf("get order item: %w", err)
	}

	return item, nil
}

// LockOrderItem locks the item together with its parent order. Callers lock
// the product afterwards, keeping the order-before-product sequence.
func LockOrderItem(ctx context.Context, tx *sqlx.Tx, itemID int64, scope Scope) (*models.OrderItem, error) {
	query := `
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price, oi.created_at
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.id = $1
		  AND ($2 OR o.user_id = $3)
		FOR UPDATE OF o, oi`

	item, err := scanOrderItem(tx.QueryRowContext(ctx, query, itemID, scope.All, scope.UserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderItemNotFound
		}
		return nil, fmt.Errorf("lock order item: %w", err)
	}

	return item, nil
}

func DeleteOrderItem(ctx context.Context, tx *sqlx.Tx, itemID int64) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete order item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOrderItemNotFound
	}

	return nil
}
