// Package usertoken validates the bearer tokens issued by the external
// identity provider. Verification is RS256 against the provider's JWKS
// endpoint, with the key set cached and refreshed on unknown key ids.
package usertoken

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "readmaster-auth"
	defaultAudience = "readmaster-api"
	defaultLeeway   = 30 * time.Second
	defaultKeyTTL   = 5 * time.Minute
)

var errUnknownKey = errors.New("unknown token key")

// Config configures access-token verification.
type Config struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

// Identity is what a verified token asserts about the caller. Email and
// Name are optional claims used to seed the local profile on first sight.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

type identityClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Verifier checks RS256 bearer tokens against a cached JWKS key set.
type Verifier struct {
	issuer   string
	audience string
	leeway   time.Duration
	jwksURL  string
	client   *http.Client

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	staleAt time.Time
}

// NewVerifier builds a verifier and eagerly loads the key set so a bad
// JWKS URL fails at startup rather than on the first request.
func NewVerifier(cfg Config) (*Verifier, error) {
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("token verifier requires jwksURL")
	}

	v := &Verifier{
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   cfg.Leeway,
		jwksURL:  jwksURL,
		client:   cfg.HTTPClient,
	}
	if v.issuer == "" {
		v.issuer = defaultIssuer
	}
	if v.audience == "" {
		v.audience = defaultAudience
	}
	if v.leeway <= 0 {
		v.leeway = defaultLeeway
	}
	if v.client == nil {
		v.client = &http.Client{Timeout: 5 * time.Second}
	}

	if err := v.refreshKeys(); err != nil {
		return nil, err
	}
	return v, nil
}

// VerifyIdentity validates the token and returns the asserted identity.
func (v *Verifier) VerifyIdentity(token string) (Identity, error) {
	claims, err := v.parse(token)
	if err != nil {
		// A token signed by a key we have not seen may mean the provider
		// rotated keys; refresh once and retry.
		if !errors.Is(err, errUnknownKey) && !v.keysStale() {
			return Identity{}, err
		}
		if refreshErr := v.refreshKeys(); refreshErr != nil {
			return Identity{}, refreshErr
		}
		if claims, err = v.parse(token); err != nil {
			return Identity{}, err
		}
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, errors.New("token subject missing")
	}
	return Identity{
		Subject: subject,
		Email:   strings.TrimSpace(claims.Email),
		Name:    strings.TrimSpace(claims.Name),
	}, nil
}

// VerifySubject validates the token and returns only the subject id.
func (v *Verifier) VerifySubject(token string) (string, error) {
	identity, err := v.VerifyIdentity(token)
	if err != nil {
		return "", err
	}
	return identity.Subject, nil
}

func (v *Verifier) parse(token string) (identityClaims, error) {
	var claims identityClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, v.lookupKey,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return claims, err
	}
	if !parsed.Valid {
		return claims, errors.New("invalid token")
	}
	return claims, nil
}

func (v *Verifier) lookupKey(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, errUnknownKey
	}
	v.mu.RLock()
	key, ok := v.keys[kid]
	v.mu.RUnlock()
	if !ok {
		return nil, errUnknownKey
	}
	return key, nil
}

func (v *Verifier) keysStale() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return time.Now().UTC().After(v.staleAt)
}

func (v *Verifier) refreshKeys() error {
	resp, err := v.client.Get(v.jwksURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		kid := strings.TrimSpace(k.Kid)
		if kid == "" || !strings.EqualFold(strings.TrimSpace(k.Kty), "RSA") {
			continue
		}
		pub, err := decodeRSAKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable rsa keys")
	}

	ttl := cacheMaxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}

	v.mu.Lock()
	v.keys = keys
	v.staleAt = time.Now().UTC().Add(ttl)
	v.mu.Unlock()
	return nil
}

func decodeRSAKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !e.IsInt64() || e.Int64() <= 0 {
		return nil, errors.New("invalid rsa key")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func cacheMaxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		raw, ok := strings.CutPrefix(part, "max-age=")
		if !ok {
			continue
		}
		secs, err := time.ParseDuration(strings.TrimSpace(raw) + "s")
		if err != nil {
			return 0
		}
		return secs
	}
	return 0
}
