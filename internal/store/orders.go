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

const orderColumns = `id, user_id, status, total_amount, shipping_address, notes, created_at, updated_at, version`

// Scope restricts order lookups to one owner unless All is set. Orders
// outside the scope read as not found.
type Scope struct {
	UserID int64
	All    bool
}

func OwnerScope(userID int64) Scope { return Scope{UserID: userID} }

func AdminScope(userID int64) Scope { return Scope{UserID: userID, All: true} }

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.Status,
		&order.TotalAmount,
		&order.ShippingAddress,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CreateOrder inserts an empty pending order owned by userID.
func CreateOrder(ctx context.Context, tx *sqlx.Tx, userID int64, shippingAddress, notes string) (*models.Order, error) {
	query := `
		INSERT INTO orders (id, user_id, status, total_amount, shipping_address, notes, created_at, updated_at, version)
		VALUES ($1, $2, $3, 0, $4, $5, NOW(), NOW(), 1)
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRowContext(ctx, query,
		uuid.New(), userID, models.OrderStatusPending, shippingAddress, notes))
	if err != nil {
		if database.IsForeignKeyViolation(err, "") {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	return order, nil
}

// GetOrder loads an order and its items.
func GetOrder(ctx context.Context, db sqlx.ExtContext, id uuid.UUID, scope Scope) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
		  AND ($2 OR user_id = $3)`

	order, err := scanOrder(db.QueryRowxContext(ctx, query, id, scope.All, scope.UserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	order.Items, err = ListOrderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}

	return order, nil
}

// LockOrder reads the order header under FOR UPDATE. Every path that
// touches both an order and a product locks the order first.
func LockOrder(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, scope Scope) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
		  AND ($2 OR user_id = $3)
		FOR UPDATE`

	order, err := scanOrder(tx.QueryRowContext(ctx, query, id, scope.All, scope.UserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	return order, nil
}

func ListOrderItems(ctx context.Context, db sqlx.ExtContext, orderID uuid.UUID) ([]models.OrderItem, error) {
	query := `
		SELECT ` + orderItemColumns + `
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		item, err := scanOrderItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// RecalculateOrderTotal stores Σ unit_price × quantity over the order's
// current items and returns it. It must run in the transaction that changed
// the items.
func RecalculateOrderTotal(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID) (decimal.Decimal, error) {
	items, err := ListOrderItems(ctx, tx, orderID)
	if err != nil {
		return decimal.Zero, err
	}

	total := models.SumItems(items)

	result, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET total_amount = $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2`,
		total, orderID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("update order total: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return decimal.Zero, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return decimal.Zero, database.ErrOrderNotFound
	}

	return total, nil
}

// UpdateOrderStatus writes status unconditionally; the caller has already
// locked the order and checked the transition.
func UpdateOrderStatus(ctx context.Context, tx *sqlx.Tx, order *models.Order, status models.OrderStatus) error {
	err := tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		 RETURNING updated_at, version`,
		status, order.ID).Scan(&order.UpdatedAt, &order.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrOrderNotFound
		}
		return fmt.Errorf("update order status: %w", err)
	}

	order.Status = status
	return nil
}

// UpdateOrderDetails writes the order's shipping address and notes.
func UpdateOrderDetails(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	err := tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET shipping_address = $1,
		     notes = $2,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $3
		 RETURNING updated_at, version`,
		order.ShippingAddress, order.Notes, order.ID).Scan(&order.UpdatedAt, &order.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrOrderNotFound
		}
		return fmt.Errorf("update order details: %w", err)
	}
	return nil
}

func ListOrdersCursor(ctx context.Context, db sqlx.ExtContext, scope Scope, cursor string, limit int) (*CursorPage, error) {
	position, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	var createdAt, id any
	if position != nil {
		createdAt, id = position.CreatedAt, position.ID
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1 OR user_id = $2)
		  AND ($3::timestamptz IS NULL OR (created_at, id) < ($3::timestamptz, $4::uuid))
		ORDER BY created_at DESC, id DESC
		LIMIT $5`

	rows, err := db.QueryContext(ctx, query, scope.All, scope.UserID, createdAt, id, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
