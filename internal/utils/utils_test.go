package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"go.uber.org/zap/zapcore"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("partner-side-key"))
	require.NoError(t, err)
	return s
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err := TokenExpiry(signed(t, jwt.MapClaims{"exp": exp.Unix()}))
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))
}

func TestTokenExpiryMissingClaim(t *testing.T) {
	_, err := TokenExpiry(signed(t, jwt.MapClaims{"sub": "partner"}))
	assert.ErrorIs(t, err, ErrNoExpiry)
}

func TestTokenExpiryGarbage(t *testing.T) {
	_, err := TokenExpiry("not-a-jwt")
	assert.Error(t, err)
}

func TestMatchSecret(t *testing.T) {
	assert.True(t, MatchSecret("s3cret", "s3cret"))
	assert.False(t, MatchSecret("s3cret", "s3cret "))
	assert.False(t, MatchSecret("", ""))
	assert.False(t, MatchSecret("s3cret", ""))

	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, MatchSecret(hash, "s3cret"))
	assert.False(t, MatchSecret(hash, "wrong"))
	assert.False(t, MatchSecret(hash, hash))
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, levelFromString("warning"))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("verbose"))
}
