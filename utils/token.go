package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reads the exp claim of a bearer token without verifying its
// signature; the client never holds the signing key. A token without exp
// returns the zero time.
func TokenExpiry(tokenString string) (time.Time, error) {
	if tokenString == "" {
		return time.Time{}, errors.New("empty token")
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// WarnIfTokenExpiring logs when the configured token is unreadable, expired
// or expires within the given window.
func WarnIfTokenExpiring(tokenString string, window time.Duration) {
	if tokenString == "" {
		return
	}
	exp, err := TokenExpiry(tokenString)
	if err != nil {
		InfoLogger.Warnf("Auth token is not a readable JWT: %v", err)
		return
	}
	if exp.IsZero() {
		return
	}
	now := time.Now()
	switch {
	case exp.Before(now):
		InfoLogger.Warnf("Auth token expired at %s", exp.Format(time.RFC3339))
	case exp.Sub(now) < window:
		InfoLogger.Warnf("Auth token expires soon (%s)", exp.Format(time.RFC3339))
	}
}
