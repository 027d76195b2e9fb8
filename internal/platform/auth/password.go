// Package auth provides the one-way password primitive guarding queues.
package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies queue passwords
type Hasher struct {
	cost int
}

// NewHasher creates a hasher; cost 0 selects the bcrypt default
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the one-way hash of a plaintext password
func (h *Hasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether the plaintext matches the stored hash
func (h *Hasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
