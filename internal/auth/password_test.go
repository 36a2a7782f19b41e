package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"), hash)

	ok, rehash, err := VerifyPassword(hash, "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, rehash)

	ok, _, err = VerifyPassword(hash, "wrong horse")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordSalts(t *testing.T) {
	a, err := HashPassword("same")
	require.NoError(t, err)
	b, err := HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyPasswordWeakerArgon2NeedsRehash(t *testing.T) {
	weak := DefaultParams
	weak.Iterations = 1
	hash, err := hashWith("pw", weak)
	require.NoError(t, err)

	ok, rehash, err := VerifyPassword(hash, "pw")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rehash)
}

func TestVerifyPasswordLegacyBcrypt(t *testing.T) {
	raw, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, rehash, err := VerifyPassword(string(raw), "secret")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rehash)

	ok, _, err = VerifyPassword(string(raw), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordLegacySHA256(t *testing.T) {
	sum := sha256.Sum256([]byte("admin123"))
	legacy := hex.EncodeToString(sum[:])

	ok, rehash, err := VerifyPassword(legacy, "admin123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rehash)

	ok, _, err = VerifyPassword(legacy, "admin124")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordMalformed(t *testing.T) {
	for _, h := range []string{"", "plaintext", "$argon2id$v=19$broken", "$argon2id$v=18$m=1,t=1,p=1$c2FsdA$a2V5"} {
		ok, _, err := VerifyPassword(h, "x")
		assert.False(t, ok, h)
		assert.Error(t, err, h)
	}
}
