package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenSaltLength = 16
	tokenKeyLength  = 32
	tokenIterations = 4096
)

// tokenVerifier holds a derived key for the configured admin token so the
// plaintext never sticks around past construction.
type tokenVerifier struct {
	salt []byte
	key  []byte
}

func newTokenVerifier(token string) (*tokenVerifier, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("admin token is required")
	}
	salt := make([]byte, tokenSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate token salt: %w", err)
	}
	return &tokenVerifier{
		salt: salt,
		key:  pbkdf2.Key([]byte(token), salt, tokenIterations, tokenKeyLength, sha256.New),
	}, nil
}

func (v *tokenVerifier) verify(candidate string) bool {
	derived := pbkdf2.Key([]byte(candidate), v.salt, tokenIterations, tokenKeyLength, sha256.New)
	return subtle.ConstantTimeCompare(derived, v.key) == 1
}

// requireToken gates a handler behind a bearer token check.
func (v *tokenVerifier) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !v.verify(strings.TrimSpace(token)) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
