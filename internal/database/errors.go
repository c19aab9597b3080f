package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeCheckViolation      = "23514"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
	codeLockNotAvailable    = "55P03"
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	if errors.Is(err, ErrLockTimeout) {
		return ErrorClassTransient
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerialization:
			return ErrorClassSerialization
		case codeDeadlock:
			return ErrorClassDeadlock
		case codeLockNotAvailable:
			return ErrorClassTransient
		case codeUniqueViolation, codeForeignKeyViolation, codeNotNullViolation, codeCheckViolation:
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a unique violation on the named
// constraint. An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	return isViolation(err, codeUniqueViolation, constraint)
}

func IsForeignKeyViolation(err error, constraint string) bool {
	return isViolation(err, codeForeignKeyViolation, constraint)
}

func IsLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeLockNotAvailable
}

func isViolation(err error, code pq.ErrorCode, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != code {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

var (
	ErrUserNotFound            = errors.New("user not found")
	ErrDuplicateUser           = errors.New("username or email already registered")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrAccountLocked           = errors.New("account temporarily locked")
	ErrInvalidToken            = errors.New("invalid or expired token")
	ErrInvalidRecoveryAnswer   = errors.New("invalid recovery answer")
	ErrProductNotFound         = errors.New("product not found")
	ErrDuplicateProduct        = errors.New("product name already exists")
	ErrInvalidProduct          = errors.New("invalid product")
	ErrProductInUse            = errors.New("product is referenced by order items")
	ErrProductNotPurchasable   = errors.New("product is not available for purchase")
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderNotEditable        = errors.New("order items can only change while the order is pending")
	ErrOrderItemNotFound       = errors.New("order item not found")
	ErrDuplicateOrderItem      = errors.New("product already in order")
	ErrQuantityOutOfRange      = errors.New("quantity out of range")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrOptimisticLockFailed    = errors.New("optimistic lock failed")
	ErrLockTimeout             = errors.New("lock timeout")
)
