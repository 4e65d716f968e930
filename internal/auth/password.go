// Package auth implements password hashing and the bearer token codec.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"csv-file-drop/internal/common"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// PasswordHasher hashes passwords with bcrypt at a fixed cost.
type PasswordHasher struct {
	Cost int
}

// NewPasswordHasher returns a hasher; a cost outside bcrypt's range falls
// back to bcrypt.DefaultCost.
func NewPasswordHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return PasswordHasher{Cost: cost}
}

// Hash returns a salted bcrypt hash of plain.
func (h PasswordHasher) Hash(plain string) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", common.WithDetail(common.ErrValidation, "password must be at most 72 bytes")
	}
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", common.WithDetail(common.ErrValidation, "password must be at most 72 bytes")
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Verify reports whether plain matches hash. A malformed hash never matches.
func (h PasswordHasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
