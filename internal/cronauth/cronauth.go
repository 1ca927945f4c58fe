package cronauth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Guard authenticates cron-trigger requests with a shared bearer secret.
// The secret can be configured as a bcrypt hash so config files never
// carry the plaintext.
type Guard struct {
	secret     []byte
	secretHash []byte
}

// New builds a guard from exactly one of secret or secretHash.
func New(secret, secretHash string) (*Guard, error) {
	secret = strings.TrimSpace(secret)
	secretHash = strings.TrimSpace(secretHash)
	if secret == "" && secretHash == "" {
		return nil, errors.New("cron secret required")
	}
	if secret != "" && secretHash != "" {
		return nil, errors.New("configure cron secret or its hash, not both")
	}
	if secretHash != "" {
		if _, err := bcrypt.Cost([]byte(secretHash)); err != nil {
			return nil, fmt.Errorf("invalid cron secret hash: %w", err)
		}
		return &Guard{secretHash: []byte(secretHash)}, nil
	}
	return &Guard{secret: []byte(secret)}, nil
}

// Allow reports whether the request carries the cron secret.
func (g *Guard) Allow(r *http.Request) bool {
	if g == nil {
		return false
	}
	token, ok := BearerToken(r)
	if !ok {
		return false
	}
	if len(g.secretHash) > 0 {
		return bcrypt.CompareHashAndPassword(g.secretHash, []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare(g.secret, []byte(token)) == 1
}

// BearerToken extracts a bearer token from the request header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
