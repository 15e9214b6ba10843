// Package auth verifies the bearer tokens presented during the WebSocket
// handshake. Tokens are HS256 JWTs issued by the main application; the
// gateway only validates them and extracts the user identity.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is missing, malformed,
	// expired, or signed with the wrong key.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Verifier validates HS256 access tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared signing secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify parses and validates a token string and returns the user id from
// the subject claim. Expiry and signature are enforced by the parser.
func (v *Verifier) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// FromRequest extracts the bearer token from an upgrade request: the "token"
// query parameter wins, falling back to the Authorization header. Returns an
// empty string when no token is present.
func FromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}
