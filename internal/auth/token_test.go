package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerify_ValidToken(t *testing.T) {
	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier() error: %v", err)
	}

	userID, err := v.Verify(signToken(t, testSecret, "u1", time.Hour))
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if userID != "u1" {
		t.Errorf("userID = %q, want %q", userID, "u1")
	}
}

func TestVerify_Rejections(t *testing.T) {
	v, _ := NewVerifier(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"expired", signToken(t, testSecret, "u1", -time.Hour)},
		{"wrong key", signToken(t, "other-secret", "u1", time.Hour)},
		{"empty subject", signToken(t, testSecret, "", time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	if _, err := NewVerifier(""); err == nil {
		t.Fatal("NewVerifier(\"\") should error")
	}
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"query param", "/ws?token=abc", "", "abc"},
		{"bearer header", "/ws", "Bearer xyz", "xyz"},
		{"query wins over header", "/ws?token=abc", "Bearer xyz", "abc"},
		{"non-bearer ignored", "/ws", "Basic dXNlcg==", ""},
		{"absent", "/ws", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := FromRequest(r); got != tt.want {
				t.Errorf("FromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}
