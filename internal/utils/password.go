package utils

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// isBcryptHash reports whether s looks like a bcrypt hash.
func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

// MatchSecret checks a presented credential against a configured secret.
// The configured value may be either the plain secret (compared in constant
// time) or a bcrypt hash of it.  An empty configured secret never matches.
func MatchSecret(configured, presented string) bool {
	if configured == "" || presented == "" {
		return false
	}
	if isBcryptHash(configured) {
		return VerifyPassword(configured, presented)
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
