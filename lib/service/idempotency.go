package service

import (
	"github.com/google/uuid"
)

// NewIdempotencyKey returns a random (v4) UUID. uuid.New panics only when the
// system entropy source fails.
func NewIdempotencyKey() string {
	return uuid.New().String()
}

// ValidIdempotencyKey accepts canonical UUID strings only.
func ValidIdempotencyKey(key string) bool {
	if len(key) != 36 {
		return false
	}
	_, err := uuid.Parse(key)
	return err == nil
}
