package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestVerifySecretSHA256(t *testing.T) {
	t.Parallel()

	hash := SHA256Secret("secret")
	assert.Equal(t, "sha256:2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b", hash)
	assert.True(t, VerifySecret(hash, "secret"))
	assert.False(t, VerifySecret(hash, "Secret"))
}

func TestVerifySecretBcrypt(t *testing.T) {
	t.Parallel()

	hash, err := HashSecret("s3cr3t", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, VerifySecret(hash, "s3cr3t"))
	assert.False(t, VerifySecret(hash, "other"))
}

func TestVerifySecretRejectsUnknownFormats(t *testing.T) {
	t.Parallel()

	assert.False(t, VerifySecret("", ""))
	assert.False(t, VerifySecret("plaintext", "plaintext"))
}
