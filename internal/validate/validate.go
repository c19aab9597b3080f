// Package validate holds the input rules shared by the services and the
// HTTP binding layer.
package validate

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

// Error is a rejected input field. Services return it before touching the
// database.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldError(field, format string, args ...any) error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

const (
	MinPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordLength = 72

	MaxDescriptionLength = 2000
	MaxOrderTextLength   = 1000
)

// No '@', so a username can never collide with an email login.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.+-]{3,150}$`)

const passwordSpecials = `!@#$%^&*(),.?":{}|<>`

func Password(field, password string) error {
	switch {
	case len(password) < MinPasswordLength:
		return fieldError(field, "must be at least %d characters long", MinPasswordLength)
	case len(password) > MaxPasswordLength:
		return fieldError(field, "must be at most %d bytes long", MaxPasswordLength)
	case !strings.ContainsFunc(password, unicode.IsUpper):
		return fieldError(field, "must contain at least one uppercase letter")
	case !strings.ContainsFunc(password, unicode.IsLower):
		return fieldError(field, "must contain at least one lowercase letter")
	case !strings.ContainsFunc(password, unicode.IsDigit):
		return fieldError(field, "must contain at least one digit")
	case !strings.ContainsAny(password, passwordSpecials):
		return fieldError(field, "must contain at least one special character")
	}
	return nil
}

// PasswordPair checks password strength and that confirm repeats it.
func PasswordPair(password, confirm string) error {
	if err := Password("password", password); err != nil {
		return err
	}
	if password != confirm {
		return fieldError("password_confirm", "passwords do not match")
	}
	return nil
}

func Username(username string) error {
	if !usernamePattern.MatchString(username) {
		return fieldError("username", "must be 3-150 letters, digits or _.+-")
	}
	return nil
}

func Email(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return fieldError("email", "invalid email format")
	}
	return nil
}

var commonQuestions = []string{
	"What is your mother's maiden name?",
	"What was the name of your first pet?",
	"What city were you born in?",
	"What was your first car?",
	"What is your favorite color?",
	"What was the name of your elementary school?",
	"What is your favorite movie?",
	"What was your childhood nickname?",
}

var weakAnswers = []string{"password", "123456", "admin", "test", "user", "guest"}

// RecoveryQuestion accepts 10-200 characters ending in '?'. The stock
// questions are accepted as they are.
func RecoveryQuestion(question string) error {
	n := len([]rune(question))
	if n < 10 {
		return fieldError("recovery_question", "must be at least 10 characters long")
	}
	if n > 200 {
		return fieldError("recovery_question", "cannot exceed 200 characters")
	}
	for _, q := range commonQuestions {
		if strings.EqualFold(q, question) {
			return nil
		}
	}
	if !strings.HasSuffix(question, "?") {
		return fieldError("recovery_question", "must end with a question mark")
	}
	return nil
}

func RecoveryAnswer(answer string) error {
	n := len([]rune(answer))
	if n < 2 {
		return fieldError("recovery_answer", "must be at least 2 characters long")
	}
	if n > 100 {
		return fieldError("recovery_answer", "cannot exceed 100 characters")
	}
	for _, weak := range weakAnswers {
		if strings.EqualFold(weak, answer) {
			return fieldError("recovery_answer", "is too common")
		}
	}
	return nil
}

func Price(price decimal.Decimal) error {
	if price.LessThan(models.MinProductPrice) || price.GreaterThan(models.MaxProductPrice) {
		return fmt.Errorf("%w: price must be between %s and %s",
			database.ErrInvalidProduct, models.MinProductPrice.StringFixed(2), models.MaxProductPrice.StringFixed(2))
	}
	if !price.Equal(price.Round(2)) {
		return fmt.Errorf("%w: price has more than 2 decimal places", database.ErrInvalidProduct)
	}
	return nil
}

// Product checks every product field. Failures wrap ErrInvalidProduct.
func Product(p *models.Product) error {
	if strings.TrimSpace(p.Name) == "" || len([]rune(p.Name)) > 200 {
		return fmt.Errorf("%w: name must be 1-200 characters", database.ErrInvalidProduct)
	}
	if len([]rune(p.Description)) > MaxDescriptionLength {
		return fmt.Errorf("%w: description cannot exceed %d characters", database.ErrInvalidProduct, MaxDescriptionLength)
	}
	if err := Price(p.Price); err != nil {
		return err
	}
	if p.StockQuantity < 0 {
		return fmt.Errorf("%w: stock cannot be negative", database.ErrInvalidProduct)
	}
	if p.LowStockThreshold < 0 {
		return fmt.Errorf("%w: low stock threshold cannot be negative", database.ErrInvalidProduct)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", database.ErrInvalidProduct, p.Status)
	}
	return nil
}

func Quantity(quantity int) error {
	if quantity < models.MinItemQuantity || quantity > models.MaxItemQuantity {
		return fmt.Errorf("%w: quantity must be between %d and %d, got %d",
			database.ErrQuantityOutOfRange, models.MinItemQuantity, models.MaxItemQuantity, quantity)
	}
	return nil
}

// OrderDetails checks the free-text delivery fields of an order.
func OrderDetails(shippingAddress, notes string) error {
	if utf8.RuneCountInString(shippingAddress) > MaxOrderTextLength {
		return fieldError("shipping_address", "must be at most %d characters long", MaxOrderTextLength)
	}
	if utf8.RuneCountInString(notes) > MaxOrderTextLength {
		return fieldError("notes", "must be at most %d characters long", MaxOrderTextLength)
	}
	return nil
}

// RegisterTags adds the custom struct tags strongpassword, recoveryquestion,
// recoveryanswer and productstatus to v.
func RegisterTags(v *validator.Validate) error {
	tags := map[string]func(string) error{
		"strongpassword":   func(s string) error { return Password("password", s) },
		"recoveryquestion": RecoveryQuestion,
		"recoveryanswer":   RecoveryAnswer,
		"productstatus": func(s string) error {
			if !models.ProductStatus(s).Valid() {
				return errors.New("unknown product status")
			}
			return nil
		},
	}

	for tag, check := range tags {
		check := check
		err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return check(fl.Field().String()) == nil
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}

// Describe turns validator failures into field errors for a response body.
// Other errors yield nil.
func Describe(err error) []Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make([]Error, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, Error{Field: fe.Field(), Message: describeTag(fe)})
	}
	return out
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "invalid email format"
	case "strongpassword":
		return "must be at least 8 characters with upper, lower, digit and special characters"
	case "recoveryquestion":
		return "must be 10-200 characters ending with a question mark"
	case "recoveryanswer":
		return "must be 2-100 characters and not a common answer"
	case "productstatus":
		return "must be active, inactive or discontinued"
	case "eqfield":
		return "must match " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	}
	return "is invalid"
}
