// Package service runs each use case as one database transaction and
// publishes its notifications once that transaction has committed.
package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/notify"
	"github.com/safar/storefront/internal/store"
)

type Notifier interface {
	Notify(kind notify.Kind, payload any)
}

type Options struct {
	// MaxTxRetries is how often a transaction failing with a retryable
	// Postgres error is re-run. Zero means a single attempt.
	MaxTxRetries int
	// LockNoWait makes stock reservation fail fast with ErrLockTimeout
	// instead of queueing behind another transaction.
	LockNoWait bool
}

func (o Options) txOptions() database.TxOptions {
	opts := database.DefaultTxOptions()
	opts.MaxRetries = o.MaxTxRetries
	return opts
}

func (o Options) lockMode() store.LockMode {
	if o.LockNoWait {
		return store.LockNoWait
	}
	return store.LockWait
}

func scopeFor(actor auth.Identity) store.Scope {
	if actor.IsAdmin {
		return store.AdminScope(actor.UserID)
	}
	return store.OwnerScope(actor.UserID)
}

type pendingNotification struct {
	kind    notify.Kind
	payload any
}

// outbox collects notifications raised inside a transaction. It is reset at
// the start of every attempt and flushed only after commit.
type outbox struct {
	pending []pendingNotification
}

func (o *outbox) reset() { o.pending = o.pending[:0] }

func (o *outbox) add(kind notify.Kind, payload any) {
	o.pending = append(o.pending, pendingNotification{kind: kind, payload: payload})
}

func (o *outbox) flush(n Notifier) {
	for _, p := range o.pending {
		n.Notify(p.kind, p.payload)
	}
	o.pending = nil
}

// runTx wraps database.WithRetry so that notifications queued in box only
// leave after a successful commit.
func runTx(ctx context.Context, db *sqlx.DB, opts Options, n Notifier, fn func(tx *sqlx.Tx, box *outbox) error) error {
	box := &outbox{}
	err := database.WithRetry(ctx, db, opts.txOptions(), func(tx *sqlx.Tx) error {
		box.reset()
		return fn(tx, box)
	})
	if err != nil {
		return err
	}
	box.flush(n)
	return nil
}

func actorRef(actor auth.Identity) *int64 {
	if actor.UserID == 0 {
		return nil
	}
	id := actor.UserID
	return &id
}

func auditStock(ctx context.Context, tx *sqlx.Tx, actor auth.Identity, productID int64, oldStock, newStock int) error {
	_, err := store.AppendProductAudit(ctx, tx, models.ProductAudit{
		ProductID: productID,
		ChangedBy: actorRef(actor),
		FieldName: models.AuditFieldStock,
		OldValue:  strconv.Itoa(oldStock),
		NewValue:  strconv.Itoa(newStock),
	})
	if err != nil {
		return fmt.Errorf("audit stock of product %d: %w", productID, err)
	}
	return nil
}

func lowStockNotice(p *models.Product) notify.LowStock {
	return notify.LowStock{
		ProductID: p.ID,
		Name:      p.Name,
		Stock:     p.StockQuantity,
		Threshold: p.LowStockThreshold,
	}
}
