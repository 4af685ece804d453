package utils // package utils provides small helpers shared by the service layers

import (
    "errors"
    "time"

    "github.com/golang-jwt/jwt/v5" // JWT library used to read claims from partner tokens
)

// ErrNoExpiry is returned when a token carries no usable exp claim.
var ErrNoExpiry = errors.New("token has no exp claim")

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// The partner API signs its bearer tokens with a key we never see; we only
// need the expiry to know when to renew, so the payload is decoded as-is.
func TokenExpiry(raw string) (time.Time, error) {
    claims := jwt.MapClaims{}
    if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
        return time.Time{}, err
    }
    exp, err := claims.GetExpirationTime()
    if err != nil {
        return time.Time{}, err
    }
    if exp == nil {
        return time.Time{}, ErrNoExpiry
    }
    return exp.Time, nil
}
