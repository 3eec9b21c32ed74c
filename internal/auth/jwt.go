package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload inside every session token. The middleware reads it
// back on each request — this is how handlers know the acting user and tenant
// without a database round-trip.
//
// ProfileID is carried so the permission gate can be consulted without first
// loading the user; SuperAdmin is only trusted for the primary tenant and is
// re-checked server-side on the operations it gates.
type Claims struct {
	UserID     uuid.UUID `json:"user_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	ProfileID  uuid.UUID `json:"profile_id"`
	SuperAdmin bool      `json:"super_admin"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed HS256 token for a user session.
func GenerateToken(userID, tenantID, profileID uuid.UUID, superAdmin bool, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:     userID,
		TenantID:   tenantID,
		ProfileID:  profileID,
		SuperAdmin: superAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "ticketstream",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token string, returning its claims.
// Rejects any signing method other than HMAC — a token claiming alg "none"
// or an RSA key must never validate against our shared secret.
func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
