package grants

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// keyBytes is the entropy in a grant handle; 32 bytes = 64 hex chars
const keyBytes = 32

// generateKey returns a new opaque grant handle
func generateKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate grant key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// storageKey is the value a handle is stored under. Handles themselves never
// reach the store.
func storageKey(handle string) string {
	sum := sha256.Sum256([]byte(handle))
	return hex.EncodeToString(sum[:])
}
