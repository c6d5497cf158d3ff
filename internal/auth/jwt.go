// Package auth mints and validates the bearer credential carried in the
// connection URI of both voice sockets.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// claim checks.
var ErrInvalidToken = errors.New("auth: invalid token")

// DefaultTTL bounds how long a minted credential stays valid.
const DefaultTTL = 24 * time.Hour

// Claims identifies the session and persona a socket was issued for.
type Claims struct {
	SessionID string `json:"session_id"`
	PersonaID string `json:"persona_id,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints and validates HS256 tokens with a shared secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a secret is configured. Gateways without one accept
// every socket.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Mint issues a token for sessionID.
func (s *Signer) Mint(sessionID, personaID string) (string, error) {
	if !s.Enabled() {
		return "", errors.New("auth: no secret configured")
	}
	now := s.now()
	claims := &Claims{
		SessionID: sessionID,
		PersonaID: personaID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses raw and returns its claims. Every failure wraps
// ErrInvalidToken.
func (s *Signer) Validate(raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: missing", ErrInvalidToken)
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
