package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims the ledger API reads.
type Claims struct {
	jwt.RegisteredClaims
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	LandlordID string `json:"landlordId,omitempty"`
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Email  string
	Role   string
	Scope  string // owner scope every ledger call is bound to
}

// Scope resolves the ledger owner scope: an explicit landlordId, else the
// subject itself when it is a landlord or admin. A token without a role is a
// landlord token.
func (c *Claims) Scope() string {
	if c.LandlordID != "" {
		return c.LandlordID
	}
	switch strings.ToLower(c.Role) {
	case "", "landlord", "admin":
		return c.Subject
	}
	return ""
}

var errNoScope = errors.New("token is not bound to a ledger scope")

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator. An empty secret rejects every token.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate returns the principal of r's bearer token.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	if len(a.secret) == 0 {
		return Principal{}, errors.New("authentication not configured")
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return Principal{}, errors.New("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return Principal{}, errors.New("expected 'Bearer <token>'")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token subject is required")
	}
	scope := claims.Scope()
	if scope == "" {
		return Principal{}, errNoScope
	}
	return Principal{UserID: claims.Subject, Email: claims.Email, Role: claims.Role, Scope: scope}, nil
}

// SignToken issues an HS256 token for the claims, expiring after ttl.
func SignToken(secret string, claims Claims, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
