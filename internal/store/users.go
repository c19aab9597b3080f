package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const userColumns = `id, username, email, first_name, last_name, password_hash, is_admin, is_email_verified,
	recovery_question, recovery_answer_hash, failed_login_attempts, locked_until, last_password_change,
	created_at, updated_at, version`

type NewUser struct {
	Username           string `db:"username"`
	Email              string `db:"email"`
	FirstName          string `db:"first_name"`
	LastName           string `db:"last_name"`
	PasswordHash       string `db:"password_hash"`
	IsAdmin            bool   `db:"is_admin"`
	RecoveryQuestion   string `db:"recovery_question"`
	RecoveryAnswerHash string `db:"recovery_answer_hash"`
}

func CreateUser(ctx context.Context, db sqlx.ExtContext, u NewUser) (*models.User, error) {
	query, args, err := db.BindNamed(`
		INSERT INTO users (username, email, first_name, last_name, password_hash, is_admin,
		                   recovery_question, recovery_answer_hash, created_at, updated_at, version)
		VALUES (:username, :email, :first_name, :last_name, :password_hash, :is_admin,
		        :recovery_question, :recovery_answer_hash, NOW(), NOW(), 1)
		RETURNING `+userColumns, u)
	if err != nil {
		return nil, fmt.Errorf("bind user: %w", err)
	}

	user := &models.User{}
	if err := sqlx.GetContext(ctx, db, user, query, args...); err != nil {
		if database.IsUniqueViolation(err, "users_username_key") || database.IsUniqueViolation(err, "users_email_lower_key") {
			return nil, database.ErrDuplicateUser
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, db sqlx.QueryerContext, id int64) (*models.User, error) {
	return getUser(ctx, db, `WHERE id = $1`, id)
}

func GetUserByEmail(ctx context.Context, db sqlx.QueryerContext, email string) (*models.User, error) {
	return getUser(ctx, db, `WHERE LOWER(email) = LOWER($1)`, email)
}

// GetUserByLogin treats a login containing '@' as an email (matched
// case-insensitively) and anything else as a username. Each branch hits a
// single unique key, so at most one row matches.
func GetUserByLogin(ctx context.Context, db sqlx.QueryerContext, login string) (*models.User, error) {
	if strings.Contains(login, "@") {
		return GetUserByEmail(ctx, db, login)
	}
	return getUser(ctx, db, `WHERE username = $1`, login)
}

func getUser(ctx context.Context, db sqlx.QueryerContext, where string, arg any) (*models.User, error) {
	user := &models.User{}
	err := sqlx.GetContext(ctx, db, user, `SELECT `+userColumns+` FROM users `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func ListUsers(ctx context.Context, db sqlx.ExtContext, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	users := []models.User{}
	err = sqlx.SelectContext(ctx, db, &users,
		`SELECT `+userColumns+`
		 FROM users
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	return newOffsetPage(users, total, page, pageSize), nil
}

func MarkEmailVerified(ctx context.Context, db sqlx.ExtContext, id int64) error {
	return execUserUpdate(ctx, db, "mark email verified",
		`UPDATE users SET is_email_verified = TRUE, version = version + 1, updated_at = NOW() WHERE id = $1`, id)
}

// SetPassword replaces the hash and clears any lockout.
func SetPassword(ctx context.Context, db sqlx.ExtContext, id int64, passwordHash string) error {
	return execUserUpdate(ctx, db, "set password",
		`UPDATE users
		 SET password_hash = $2, last_password_change = NOW(),
		     failed_login_attempts = 0, locked_until = NULL,
		     version = version + 1, updated_at = NOW()
		 WHERE id = $1`,
		id, passwordHash)
}

// RecordLoginFailure bumps the failure counter. Reaching maxAttempts locks
// the account for lockout and starts the counter over. It returns the
// resulting lock expiry, nil while the account is still open.
func RecordLoginFailure(ctx context.Context, db sqlx.ExtContext, id int64, maxAttempts int, lockout time.Duration) (*time.Time, error) {
	var lockedUntil *time.Time
	err := db.QueryRowxContext(ctx,
		`UPDATE users
		 SET failed_login_attempts = CASE WHEN failed_login_attempts + 1 >= $2 THEN 0
		                                  ELSE failed_login_attempts + 1 END,
		     locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN NOW() + make_interval(secs => $3)
		                         ELSE locked_until END,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING locked_until`,
		id, maxAttempts, lockout.Seconds()).Scan(&lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("record login failure: %w", err)
	}
	return lockedUntil, nil
}

func ResetLoginFailures(ctx context.Context, db sqlx.ExtContext, id int64) error {
	return execUserUpdate(ctx, db, "reset login failures",
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW() WHERE id = $1`, id)
}

func execUserUpdate(ctx context.Context, db sqlx.ExtContext, op, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrUserNotFound
	}
	return nil
}
