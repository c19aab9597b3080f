package store

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderHistoryIsAppendOnly(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	user := seedUser(t, db)
	product := seedProduct(t, db, "1.00", 10)
	order := createOrderWithItem(t, db, user.ID, product, 1)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		for _, step := range []struct{ from, to models.OrderStatus }{
			{"", models.OrderStatusPending},
			{models.OrderStatusPending, models.OrderStatusConfirmed},
		} {
			saved, err := AppendOrderHistory(ctx, tx, models.OrderHistory{
				OrderID:   order.ID,
				ChangedBy: &user.ID,
				OldStatus: string(step.from),
				NewStatus: string(step.to),
			})
			if err != nil {
				return err
			}
			assert.NotZero(t, saved.ID)
			assert.False(t, saved.ChangedAt.IsZero())
		}
		return nil
	})
	require.NoError(t, err)

	history, err := ListOrderHistory(ctx, db, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "confirmed", history[1].NewStatus)
	require.NotNil(t, history[0].ChangedBy)
	assert.Equal(t, user.ID, *history[0].ChangedBy)

	_, err = db.ExecContext(ctx, `UPDATE order_history SET reason = 'edited'`)
	assert.Error(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM order_history`)
	assert.Error(t, err)
}

func TestProductAuditSurvivesProductDeletion(t *testing.T) {
	db := testdb.New(t)
	ctx := context.Background()

	product := seedProduct(t, db, "1.00", 10)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sqlx.Tx) error {
		_, err := AppendProductAudit(ctx, tx, models.ProductAudit{
			ProductID: product.ID,
			FieldName: models.AuditFieldPrice,
			OldValue:  "1.00",
			NewValue:  "2.00",
		})
		return err
	})
	require.NoError(t, err)

	require.NoError(t, DeleteProduct(ctx, db, product.ID))

	entries, err := ListProductAudit(ctx, db, product.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].ChangedBy)
	assert.Equal(t, "2.00", entries[0].NewValue)

	_, err = db.ExecContext(ctx, `DELETE FROM product_audit WHERE product_id = $1`, product.ID)
	assert.Error(t, err)
}
