package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestMintValidate(t *testing.T) {
	s := NewSigner("s3cret", time.Hour)
	tok, err := s.Mint("sess-1", "nova")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	c, err := s.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.SessionID != "sess-1" || c.PersonaID != "nova" || c.Subject != "sess-1" {
		t.Fatalf("claims = %+v", c)
	}
}

func TestValidateRejects(t *testing.T) {
	s := NewSigner("s3cret", time.Hour)
	other := NewSigner("other", time.Hour)
	foreign, _ := other.Mint("sess-1", "")

	expired := NewSigner("s3cret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _ := expired.Mint("sess-1", "")

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{SessionID: "sess-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"empty":     "",
		"garbage":   "not-a-jwt",
		"wrong key": foreign,
		"expired":   stale,
		"alg none":  none,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Validate(tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestDisabledSigner(t *testing.T) {
	s := NewSigner("", 0)
	if s.Enabled() {
		t.Fatal("enabled without secret")
	}
	if _, err := s.Mint("x", ""); err == nil {
		t.Fatal("Mint without secret succeeded")
	}
	var nilSigner *Signer
	if nilSigner.Enabled() {
		t.Fatal("nil signer enabled")
	}
}
