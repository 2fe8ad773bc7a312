// Package auth verifies bearer credentials presented by realtime clients.
// Token issuance is a separate system; this service only checks signatures
// and extracts the caller.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/asolovev/wb-collector/internal/collector"
)

// ErrInvalidToken rejects a credential that fails verification.
var ErrInvalidToken = errors.New("auth_failed")

// JWTVerifier validates HMAC-signed tokens carrying uid/role claims.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier builds a verifier over a shared HMAC secret.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTVerifier{secret: []byte(secret)}, nil
}

// Verify implements collector.Authenticator.
func (v *JWTVerifier) Verify(_ context.Context, token string) (collector.User, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return collector.User{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return collector.User{}, ErrInvalidToken
	}

	uid, _ := claims["uid"].(string)
	if uid == "" {
		// Standard tokens carry the caller in sub instead.
		uid, _ = claims["sub"].(string)
	}
	if uid == "" {
		return collector.User{}, ErrInvalidToken
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = "user"
	}
	return collector.User{ID: uid, Role: role}, nil
}

// AnonymousVerifier accepts every connection as a guest. It backs
// deployments with auth disabled.
type AnonymousVerifier struct{}

// Verify implements collector.Authenticator.
func (AnonymousVerifier) Verify(context.Context, string) (collector.User, error) {
	return collector.User{ID: "anon", Role: "guest"}, nil
}
