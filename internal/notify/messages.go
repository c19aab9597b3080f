package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/models"
)

type Kind string

const (
	KindUserRegistered     Kind = "user-registered"
	KindEmailVerification  Kind = "email-verification"
	KindPasswordReset      Kind = "password-reset"
	KindOrderStatusChanged Kind = "order-status-changed"
	KindLowStock           Kind = "low-stock"
)

type UserRegistered struct {
	UserID   int64
	Username string
	Email    string
}

type EmailVerification struct {
	Email string
	Code  string
}

type PasswordReset struct {
	Username  string
	Email     string
	Token     string
	ExpiresIn time.Duration
}

type OrderStatusChanged struct {
	OrderID   uuid.UUID
	Email     string
	OldStatus models.OrderStatus
	NewStatus models.OrderStatus
}

type LowStock struct {
	ProductID int64
	Name      string
	Stock     int
	Threshold int
}

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// compose renders the mail for one notification. Low-stock alerts go to
// the admin address, everything else to the user concerned.
func compose(kind Kind, payload any, from, admin string) (Message, error) {
	msg := Message{From: from}

	switch p := payload.(type) {
	case UserRegistered:
		msg.To = p.Email
		msg.Subject = "Welcome to the store"
		msg.Body = fmt.Sprintf("Hello %s,\n\nWelcome! Please verify your email to get started.\n", p.Username)
	case EmailVerification:
		msg.To = p.Email
		msg.Subject = "Your verification code"
		msg.Body = fmt.Sprintf("Your verification code is %s.\n", p.Code)
	case PasswordReset:
		msg.To = p.Email
		msg.Subject = "Password reset"
		msg.Body = fmt.Sprintf("Hi %s,\n\nUse this token to reset your password: %s\nIt expires in %s.\n",
			p.Username, p.Token, p.ExpiresIn)
	case OrderStatusChanged:
		msg.To = p.Email
		msg.Subject = fmt.Sprintf("Order %s is %s", p.OrderID, p.NewStatus)
		msg.Body = fmt.Sprintf("Your order %s moved from %s to %s.\n", p.OrderID, p.OldStatus, p.NewStatus)
	case LowStock:
		msg.To = admin
		msg.Subject = fmt.Sprintf("Low stock: %s", p.Name)
		msg.Body = fmt.Sprintf("Product %d (%s) has %d units left, threshold %d.\n",
			p.ProductID, p.Name, p.Stock, p.Threshold)
	default:
		return Message{}, fmt.Errorf("no template for %s payload %T", kind, payload)
	}

	if msg.To == "" {
		return Message{}, fmt.Errorf("%s notification has no recipient", kind)
	}
	return msg, nil
}
