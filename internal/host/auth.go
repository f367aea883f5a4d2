// Package host supplies the pieces a web host normally provides around the
// backup: who the caller is, whether they may run a backup, single-use form
// tokens and one-shot admin notices.
package host

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// CapabilityManageOptions is required to run a backup
const CapabilityManageOptions = "manage_options"

// SessionCookieName carries the admin token when no Authorization header is sent
const SessionCookieName = "ninja_backup_mate_session"

var (
	// ErrNoCredentials is returned when the request carries no token at all
	ErrNoCredentials = errors.New("no credentials supplied")
	// ErrInvalidToken is returned for malformed, expired or mis-signed tokens
	ErrInvalidToken = errors.New("invalid token")
)

// Claims define the admin session carried in the JWT
type Claims struct {
	Username     string   `json:"username"`
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// Can reports whether the session holds capability
func (c *Claims) Can(capability string) bool {
	for _, held := range c.Capabilities {
		if held == capability {
			return true
		}
	}
	return false
}

// Authorizer mints and validates HS256 admin tokens
type Authorizer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthorizer creates an authorizer. The secret must not be empty.
func NewAuthorizer(secret string, ttl time.Duration) (*Authorizer, error) {
	if secret == "" {
		return nil, errors.New("auth secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Authorizer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Mint creates a signed token for username holding capabilities
func (a *Authorizer) Mint(username string, capabilities []string) (string, error) {
	now := a.now()
	claims := &Claims{
		Username:     username,
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse validates tokenString and returns its claims
func (a *Authorizer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Username == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Authenticate reads the bearer token, falling back to the session cookie
func (a *Authorizer) Authenticate(r *http.Request) (*Claims, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return nil, ErrInvalidToken
		}
		return a.Parse(strings.TrimSpace(token))
	}

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoCredentials
	}
	return a.Parse(cookie.Value)
}
