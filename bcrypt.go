package auth

import (
	"errors"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
)

var hashCost atomic.Int32

func init() {
	hashCost.Store(int32(defaultHashCost))
}

// SetPasswordHashCost changes the bcrypt cost used by HashPassword and
// returns the previous value. Values outside the bcrypt range are ignored.
func SetPasswordHashCost(cost int) int {
	previous := int(hashCost.Load())
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return previous
	}
	hashCost.Store(int32(cost))
	return previous
}

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), int(hashCost.Load()))
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}
