package identity

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when an operator secret does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// minSecretLen is the shortest operator secret HashSecret accepts.
const minSecretLen = 12

// HashSecret returns the bcrypt hash of an operator secret, suitable for the
// auth.operator_secret_hash setting.
func HashSecret(secret string) (string, error) {
	if len(secret) < minSecretLen {
		return "", fmt.Errorf("operator secret must be at least %d characters", minSecretLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// CheckSecret compares secret against a bcrypt hash from HashSecret.
func CheckSecret(hash, secret string) error {
	if hash == "" || secret == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
