package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims fleetwatch accepts. Tokens issued by the
// operator console carry the user in "userId"; generic issuers use "sub".
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId,omitempty"`
}

// Identity returns the authenticated user id, preferring userId over sub.
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// ParseToken validates signature and expiry and returns the claims.
// Only HS256 is accepted. A token without any user identity is rejected.
func ParseToken(tokenString, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Identity() == "" {
		return nil, fmt.Errorf("%w: missing user identity", ErrTokenInvalid)
	}
	return claims, nil
}
