package payment

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenMinter issues short-lived facilitator bearer tokens from a
// long-lived key pair. Each token is bound to a single method + host +
// path so a captured token cannot be replayed against another endpoint.
type TokenMinter struct {
	keyID  string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenMinter builds a minter. The returned minter satisfies
// x402.TokenSource.
func NewTokenMinter(keyID, secret string) (*TokenMinter, error) {
	if keyID == "" || secret == "" {
		return nil, fmt.Errorf("payment: facilitator key id and secret are both required")
	}
	return &TokenMinter{
		keyID:  keyID,
		secret: []byte(secret),
		ttl:    time.Minute,
		now:    time.Now,
	}, nil
}

type facilitatorClaims struct {
	jwt.RegisteredClaims
	URI string `json:"uri"`
}

// Token mints a fresh bearer token for one facilitator call.
func (m *TokenMinter) Token(method, host, path string) (string, error) {
	now := m.now()
	claims := facilitatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.keyID,
			Subject:   m.keyID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		URI: fmt.Sprintf("%s %s%s", method, host, path),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = m.keyID

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("payment: sign facilitator token: %w", err)
	}
	return signed, nil
}
