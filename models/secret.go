package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const sha256SecretPrefix = "sha256:"

// HashSecret hashes a plaintext client secret with bcrypt
func HashSecret(plain string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// SHA256Secret returns the sha256:<hex> form used by seed artifacts
func SHA256Secret(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return sha256SecretPrefix + hex.EncodeToString(sum[:])
}

// VerifySecret checks plain against a bcrypt or sha256:<hex> hash
func VerifySecret(hash, plain string) bool {
	switch {
	case hash == "":
		return false
	case strings.HasPrefix(hash, sha256SecretPrefix):
		expected := SHA256Secret(plain)
		return subtle.ConstantTimeCompare([]byte(hash), []byte(expected)) == 1
	case strings.HasPrefix(hash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
	}
	return false
}
