package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	alice = "GAV5QBWJP4HABLY2D7BTFD5HMOUSNFZDZDNY7LCPSOXXDWYYNVXJBKNV"
	bob   = "GCA3MN6Y7TJMNWTDLHTJMMITUELQ3Z4V4S3SLOCNDYFUZ7M6YWGOTE64"
)

func TestContextAuthorizer(t *testing.T) {
	var a ContextAuthorizer
	ctx := WithCaller(context.Background(), alice)

	if err := a.RequireAuth(ctx, alice); err != nil {
		t.Errorf("RequireAuth(alice) error = %v", err)
	}
	if err := a.RequireAuth(ctx, bob); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("RequireAuth(bob) error = %v, want ErrUnauthorized", err)
	}
	if err := a.RequireAuth(context.Background(), alice); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("RequireAuth without caller error = %v, want ErrUnauthorized", err)
	}
}

func TestCallerFromEmpty(t *testing.T) {
	if _, ok := CallerFrom(WithCaller(context.Background(), "")); ok {
		t.Error("CallerFrom() should reject an empty caller")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc, err := NewTokenService("secret", "kale-analytics", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	tok, err := svc.Issue(alice)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	got, err := svc.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != alice {
		t.Errorf("Verify() = %s, want %s", got, alice)
	}
}

func TestTokenRejections(t *testing.T) {
	svc, _ := NewTokenService("secret", "kale-analytics", time.Hour)
	other, _ := NewTokenService("other-secret", "kale-analytics", time.Hour)
	otherIssuer, _ := NewTokenService("secret", "someone-else", time.Hour)

	foreign, _ := other.Issue(alice)
	wrongIss, _ := otherIssuer.Issue(alice)

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": alice,
		"iss": "kale-analytics",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("secret"))

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": alice,
		"iss": "kale-analytics",
	}).SignedString([]byte("secret"))

	badSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "not-an-address",
		"iss": "kale-analytics",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("secret"))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"wrong secret", foreign},
		{"wrong issuer", wrongIss},
		{"expired", expired},
		{"no expiry", noExp},
		{"bad subject", badSub},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestIssueRejectsBadAddress(t *testing.T) {
	svc, _ := NewTokenService("secret", "", time.Hour)
	if _, err := svc.Issue("tos1abc"); err == nil {
		t.Error("Issue() should reject a malformed address")
	}
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	if _, err := NewTokenService("", "", time.Hour); err == nil {
		t.Error("NewTokenService() should require a secret")
	}
}
