package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
)

const initialBackoff = 50 * time.Millisecond

type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	ReadOnly       bool
	// MaxRetries counts extra attempts after the first.
	MaxRetries int
}

func DefaultTxOptions() TxOptions {
	return TxOptions{IsolationLevel: sql.LevelReadCommitted}
}

// WithTransaction runs fn once inside a transaction, committing when fn
// returns nil and rolling back otherwise.
func WithTransaction(ctx context.Context, db *sqlx.DB, opts TxOptions, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: opts.IsolationLevel, ReadOnly: opts.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithRetry re-runs WithTransaction on serialization, deadlock and
// lock-not-available failures, up to opts.MaxRetries extra attempts with
// jittered exponential backoff. Every other error, domain errors included,
// returns at once. fn must be safe to run more than once.
func WithRetry(ctx context.Context, db *sqlx.DB, opts TxOptions, fn func(*sqlx.Tx) error) error {
	backoff := initialBackoff

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := WithTransaction(ctx, db, opts, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}

		if attempt >= opts.MaxRetries {
			if opts.MaxRetries == 0 {
				return err
			}
			return fmt.Errorf("max retries (%d) exceeded: %w", opts.MaxRetries, err)
		}

		if err := sleepBackoff(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

func sleepBackoff(ctx context.Context, backoff time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(backoff / 4)))

	select {
	case <-time.After(backoff + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
