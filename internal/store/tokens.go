package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/database"
)

// TokenPurpose namespaces short-lived secrets in user_tokens.
type TokenPurpose string

const (
	// Keyed by lowercased email, value is the 6-digit code.
	TokenEmailVerification TokenPurpose = "email_verification"
	// Keyed by the reset token, value is the user id.
	TokenPasswordReset TokenPurpose = "password_reset"
)

// PutToken stores value under (purpose, key) until ttl elapses, replacing
// any earlier value for the same key.
func PutToken(ctx context.Context, db sqlx.ExtContext, purpose TokenPurpose, key, value string, ttl time.Duration) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM user_tokens WHERE expires_at <= NOW()`); err != nil {
		return fmt.Errorf("purge expired tokens: %w", err)
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO user_tokens (purpose, token_key, value, expires_at, created_at)
		 VALUES ($1, $2, $3, NOW() + make_interval(secs => $4), NOW())
		 ON CONFLICT (purpose, token_key)
		 DO UPDATE SET value = EXCLUDED.value, attempts = 0,
		               expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`,
		purpose, key, value, ttl.Seconds())
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

// ConsumeToken deletes the unexpired token under (purpose, key) and returns
// its value. A token can be consumed once.
func ConsumeToken(ctx context.Context, db sqlx.ExtContext, purpose TokenPurpose, key string) (string, error) {
	var value string
	err := db.QueryRowxContext(ctx,
		`DELETE FROM user_tokens
		 WHERE purpose = $1 AND token_key = $2 AND expires_at > NOW()
		 RETURNING value`,
		purpose, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", database.ErrInvalidToken
		}
		return "", fmt.Errorf("consume token: %w", err)
	}
	return value, nil
}

// ConsumeMatchingToken is ConsumeToken for secrets the caller already
// holds: the token is only removed when value matches.
func ConsumeMatchingToken(ctx context.Context, db sqlx.ExtContext, purpose TokenPurpose, key, value string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM user_tokens
		 WHERE purpose = $1 AND token_key = $2 AND value = $3 AND expires_at > NOW()`,
		purpose, key, value)
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrInvalidToken
	}
	return nil
}

// RecordTokenMiss counts a wrong guess against the live token under
// (purpose, key). The miss that reaches maxAttempts expires the token, and
// the caller learns so through burned.
func RecordTokenMiss(ctx context.Context, db sqlx.ExtContext, purpose TokenPurpose, key string, maxAttempts int) (burned bool, err error) {
	err = db.QueryRowxContext(ctx,
		`UPDATE user_tokens
		 SET attempts = attempts + 1,
		     expires_at = CASE WHEN attempts + 1 >= $3 THEN NOW() ELSE expires_at END
		 WHERE purpose = $1 AND token_key = $2 AND expires_at > NOW()
		 RETURNING attempts >= $3`,
		purpose, key, maxAttempts).Scan(&burned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("record token miss: %w", err)
	}
	return burned, nil
}
