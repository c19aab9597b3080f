package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash. Malformed hashes
// count as a mismatch.
func CheckPassword(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// NormalizeAnswer trims and lowercases a recovery answer so that
// "  Fluffy" and "fluffy" match.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

func HashRecoveryAnswer(answer string) (string, error) {
	return HashPassword(NormalizeAnswer(answer))
}

func CheckRecoveryAnswer(hash, answer string) bool {
	if hash == "" {
		return false
	}
	return CheckPassword(hash, NormalizeAnswer(answer))
}

// NewVerificationCode returns a uniformly random 6-digit code.
func NewVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// NewResetToken returns a 32-character random hex token.
func NewResetToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
