package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID                  int64      `json:"id" db:"id"`
	Username            string     `json:"username" db:"username"`
	Email               string     `json:"email" db:"email"`
	FirstName           string     `json:"first_name" db:"first_name"`
	LastName            string     `json:"last_name" db:"last_name"`
	PasswordHash        string     `json:"-" db:"password_hash"`
	IsAdmin             bool       `json:"is_admin" db:"is_admin"`
	IsEmailVerified     bool       `json:"is_email_verified" db:"is_email_verified"`
	RecoveryQuestion    string     `json:"recovery_question,omitempty" db:"recovery_question"`
	RecoveryAnswerHash  string     `json:"-" db:"recovery_answer_hash"`
	FailedLoginAttempts int        `json:"-" db:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"-" db:"locked_until"`
	LastPasswordChange  time.Time  `json:"-" db:"last_password_change"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
	Version             int        `json:"version" db:"version"`
}

func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

type ProductStatus string

const (
	ProductStatusActive       ProductStatus = "active"
	ProductStatusInactive     ProductStatus = "inactive"
	ProductStatusDiscontinued ProductStatus = "discontinued"
)

func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusActive, ProductStatusInactive, ProductStatusDiscontinued:
		return true
	}
	return false
}

var (
	MinProductPrice = decimal.RequireFromString("0.01")
	MaxProductPrice = decimal.RequireFromString("999999.99")
)

const DefaultLowStockThreshold = 5

type Product struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Slug              string          `json:"slug"`
	Description       string          `json:"description,omitempty"`
	Price             decimal.Decimal `json:"price"`
	StockQuantity     int             `json:"stock_quantity"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	Status            ProductStatus   `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Version           int             `json:"version"`
}

// InStock reports whether the product can currently be bought.
func (p *Product) InStock() bool {
	return p.StockQuantity > 0 && p.Status == ProductStatusActive
}

func (p *Product) IsLowStock() bool {
	return p.StockQuantity <= p.LowStockThreshold
}

// MarshalJSON adds the derived in_stock and low_stock flags.
func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	return json.Marshal(struct {
		plain
		InStock  bool `json:"in_stock"`
		LowStock bool `json:"low_stock"`
	}{plain(p), p.InStock(), p.IsLowStock()})
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          int64           `json:"user_id"`
	Status          OrderStatus     `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	Notes           string          `json:"notes"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
	Items           []OrderItem     `json:"items,omitempty"`
}

func (o *Order) CanBeCancelled() bool {
	return o.Status.CanBeCancelled()
}

const (
	MinItemQuantity = 1
	MaxItemQuantity = 100
)

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

func ItemSubtotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// SumItems is Σ unit_price × quantity. It is the only definition of an
// order total.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(ItemSubtotal(item.UnitPrice, item.Quantity))
	}
	return total
}

type OrderHistory struct {
	ID        int64     `json:"id" db:"id"`
	OrderID   uuid.UUID `json:"order_id" db:"order_id"`
	ChangedBy *int64    `json:"changed_by,omitempty" db:"changed_by"`
	OldStatus string    `json:"old_status" db:"old_status"`
	NewStatus string    `json:"new_status" db:"new_status"`
	Reason    string    `json:"reason,omitempty" db:"reason"`
	ChangedAt time.Time `json:"changed_at" db:"changed_at"`
}

type ProductAudit struct {
	ID        int64     `json:"id" db:"id"`
	ProductID int64     `json:"product_id" db:"product_id"`
	ChangedBy *int64    `json:"changed_by,omitempty" db:"changed_by"`
	FieldName string    `json:"field_name" db:"field_name"`
	OldValue  string    `json:"old_value" db:"old_value"`
	NewValue  string    `json:"new_value" db:"new_value"`
	ChangedAt time.Time `json:"changed_at" db:"changed_at"`
}

const (
	AuditFieldName              = "name"
	AuditFieldDescription       = "description"
	AuditFieldPrice             = "price"
	AuditFieldStock             = "stock"
	AuditFieldLowStockThreshold = "low_stock_threshold"
	AuditFieldStatus            = "status"
)
