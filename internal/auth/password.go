package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultBcryptCost is the minimum work factor used for stored passwords.
	DefaultBcryptCost = 12

	minPasswordLength = 8
	maxPasswordLength = 128
)

// PasswordCheck is the outcome of ValidatePasswordStrength.
type PasswordCheck struct {
	Valid  bool
	Reason string
}

// prehash digests the password so bcrypt always sees 44 bytes. bcrypt
// rejects input over 72 bytes, which a 128-character password can exceed.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

// HashPassword returns a bcrypt hash of the SHA-256 digest of password at the
// given cost. Costs below bcrypt.MinCost fall back to DefaultBcryptCost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = DefaultBcryptCost
	}
	b, err := bcrypt.GenerateFromPassword(prehash(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// VerifyPassword compares a plaintext password with a bcrypt hash.
func VerifyPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(password)) == nil
}

// ValidatePasswordStrength checks length and character classes and reports
// the first rule that fails.
func ValidatePasswordStrength(password string) PasswordCheck {
	length := utf8.RuneCountInString(password)
	if length < minPasswordLength {
		return PasswordCheck{Reason: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}
	if length > maxPasswordLength {
		return PasswordCheck{Reason: fmt.Sprintf("password must be at most %d characters", maxPasswordLength)}
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	switch {
	case !upper:
		return PasswordCheck{Reason: "password must contain an uppercase letter"}
	case !lower:
		return PasswordCheck{Reason: "password must contain a lowercase letter"}
	case !digit:
		return PasswordCheck{Reason: "password must contain a digit"}
	case !special:
		return PasswordCheck{Reason: "password must contain a special character"}
	}
	return PasswordCheck{Valid: true}
}
