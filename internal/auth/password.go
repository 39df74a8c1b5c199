// Package auth - password.go wraps bcrypt for account password hashing and verification.
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Cost 12 hashes in roughly a quarter second on current hardware.
const bcryptCost = 12

// HashPassword hashes a plaintext password with bcrypt
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	// bcrypt silently truncates beyond 72 bytes; reject instead
	if len(password) > 72 {
		return "", errors.New("password must be at most 72 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies a plaintext password against a stored bcrypt hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
