package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordBounds(t *testing.T) {
	_, err := HashPassword("short")
	require.ErrorIs(t, err, ErrPasswordTooShort)

	_, err = HashPassword(strings.Repeat("a", 73))
	require.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestHashPasswordAndVerify(t *testing.T) {
	password := "limpar-plantao"
	hash, err := HashPassword(password)
	require.NoError(t, err)
	assert.NotContains(t, hash, password)

	assert.True(t, VerifyPassword(password, hash))
	assert.False(t, VerifyPassword("wrong-password", hash))
	assert.False(t, VerifyPassword("", hash))
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{"", "v1$abc", "$2a$10$short", "limpar-plantao"} {
		assert.False(t, VerifyPassword("limpar-plantao", encoded), encoded)
	}
}

func TestNewTokenIsRandom(t *testing.T) {
	a, err := NewToken(32)
	require.NoError(t, err)
	b, err := NewToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, TokensEqual(a, a))
	assert.False(t, TokensEqual(a, b))
	assert.False(t, TokensEqual("", ""))
}
