package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func TestVerifier_Verify(t *testing.T) {
	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	valid, _ := Sign(testSecret, "user-1", "ana", time.Minute)
	wrongKey, _ := Sign("other-secret", "user-1", "ana", time.Minute)
	expired, _ := Sign(testSecret, "user-1", "ana", -time.Minute)
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).SignedString([]byte(testSecret))
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", valid, nil},
		{"empty", "", ErrMissingToken},
		{"wrong key", wrongKey, ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"missing exp", noExp, ErrInvalidToken},
		{"unexpected algorithm", hs512, ErrInvalidToken},
		{"alg none", unsigned, ErrInvalidToken},
		{"garbage", "a.b.c", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if claims.UserID() != "user-1" {
				t.Errorf("Expected subject user-1, got %s", claims.UserID())
			}
			if claims.Username != "ana" {
				t.Errorf("Expected username ana, got %s", claims.Username)
			}
		})
	}
}

func TestVerifier_Issuer(t *testing.T) {
	v, _ := NewVerifier(testSecret, WithIssuer("lexiq"))

	token, _ := Sign(testSecret, "user-1", "", time.Minute)
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for missing issuer, got %v", err)
	}

	withIss, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"iss": "lexiq",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	if _, err := v.Verify(withIss); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestVerifier_VerifyRequest(t *testing.T) {
	v, _ := NewVerifier(testSecret)
	token, _ := Sign(testSecret, "user-1", "", time.Minute)

	r := httptest.NewRequest("GET", "/ws?token="+token, nil)
	if _, err := v.VerifyRequest(r); err != nil {
		t.Errorf("Expected query token to verify, got %v", err)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	if _, err := v.VerifyRequest(r); err != nil {
		t.Errorf("Expected bearer token to verify, got %v", err)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	if _, err := v.VerifyRequest(r); !errors.Is(err, ErrMissingToken) {
		t.Errorf("Expected ErrMissingToken, got %v", err)
	}
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	if _, err := NewVerifier(""); err == nil {
		t.Error("Expected error for empty secret")
	}
}
