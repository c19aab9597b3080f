package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/models"
)

// Audit tables are append-only: triggers reject UPDATE and DELETE, so this
// file only ever inserts and reads.

func AppendOrderHistory(ctx context.Context, tx *sqlx.Tx, entry models.OrderHistory) (*models.OrderHistory, error) {
	query := `
		INSERT INTO order_history (order_id, changed_by, old_status, new_status, reason, changed_at)
		VALUES (:order_id, :changed_by, :old_status, :new_status, :reason, NOW())
		RETURNING id, order_id, changed_by, old_status, new_status, reason, changed_at`

	query, args, err := tx.BindNamed(query, entry)
	if err != nil {
		return nil, fmt.Errorf("bind order history: %w", err)
	}

	var saved models.OrderHistory
	if err := tx.QueryRowxContext(ctx, query, args...).StructScan(&saved); err != nil {
		return nil, fmt.Errorf("append order history: %w", err)
	}

	return &saved, nil
}

func AppendProductAudit(ctx context.Context, tx *sqlx.Tx, entry models.ProductAudit) (*models.ProductAudit, error) {
	query := `
		INSERT INTO product_audit (product_id, changed_by, field_name, old_value, new_value, changed_at)
		VALUES (:product_id, :changed_by, :field_name, :old_value, :new_value, NOW())
		RETURNING id, product_id, changed_by, field_name, old_value, new_value, changed_at`

	query, args, err := tx.BindNamed(query, entry)
	if err != nil {
		return nil, fmt.Errorf("bind product audit: %w", err)
	}

	var saved models.ProductAudit
	if err := tx.QueryRowxContext(ctx, query, args...).StructScan(&saved); err != nil {
		return nil, fmt.Errorf("append product audit: %w", err)
	}

	return &saved, nil
}

// ListOrderHistory returns the order's status changes oldest first.
func ListOrderHistory(ctx context.Context, db sqlx.QueryerContext, orderID uuid.UUID) ([]models.OrderHistory, error) {
	history := []models.OrderHistory{}
	err := sqlx.SelectContext(ctx, db, &history,
		`SELECT id, order_id, changed_by, old_status, new_status, reason, changed_at
		 FROM order_history
		 WHERE order_id = $1
		 ORDER BY changed_at, id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("list order history: %w", err)
	}
	return history, nil
}

// ListProductAudit returns the product's field changes newest first.
func ListProductAudit(ctx context.Context, db sqlx.QueryerContext, productID int64) ([]models.ProductAudit, error) {
	entries := []models.ProductAudit{}
	err := sqlx.SelectContext(ctx, db, &entries,
		`SELECT id, product_id, changed_by, field_name, old_value, new_value, changed_at
		 FROM product_audit
		 WHERE product_id = $1
		 ORDER BY changed_at DESC, id DESC`,
		productID)
	if err != nil {
		return nil, fmt.Errorf("list product audit: %w", err)
	}
	return entries, nil
}
