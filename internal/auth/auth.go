package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

// Roles accepted by the API
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

var (
	// ErrMissingToken means the request carried no bearer token
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken means the token failed verification
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrRoleNotAllowed means the token is valid but its role may not use the API
	ErrRoleNotAllowed = errors.New("auth: role not allowed")
)

// Principal is the authenticated caller
type Principal struct {
	Subject string
	Role    string
}

// IsAdmin reports whether the caller has the admin role
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Claims are the token claims the API reads
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator. An empty issuer accepts any issuer.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// Authenticate extracts and verifies the bearer token of r
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")

	if header == "" {
		return nil, ErrMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")

	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}

	return a.Verify(strings.TrimSpace(token))
}

// Verify parses a signed token and returns its principal
func (a *Authenticator) Verify(tokenString string) (*Principal, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	switch claims.Role {
	case RoleAdmin, RoleStaff:
	default:
		return nil, fmt.Errorf("%w: %q", ErrRoleNotAllowed, claims.Role)
	}

	return &Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for subject with role, valid for ttl
func (a *Authenticator) Issue(subject, role string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

type principalKey struct{}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
