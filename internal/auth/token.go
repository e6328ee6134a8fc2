package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = 12 * time.Hour

// Claims identifies the field staff member a request acts for.
type Claims struct {
	StaffID string `json:"staff_id"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for staffID. Tokens are normally minted by
// the scheduling platform; this is used by tooling and tests.
func SignToken(secret, staffID string, ttl time.Duration) (string, error) {
	if staffID == "" {
		return "", errors.New("staff id required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := Claims{
		StaffID: staffID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
