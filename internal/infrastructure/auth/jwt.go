package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtExpiry reads the exp claim of a JWT access token without verifying
// its signature. The cached lifetime must not exceed exp.
func jwtExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
