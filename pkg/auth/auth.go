// Package auth mints and verifies HS256 tokens and exposes HTTP middleware
// that places the verified claims on the request context.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// RoleAdmin bypasses ownership checks on write endpoints.
const RoleAdmin = "admin"

// Claims are the verified identity attached to a request.
type Claims struct {
	Subject  string `json:"sub"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

// IsAdmin reports whether the claims carry the admin role.
func (c *Claims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}

// TokenPair is the result of a successful issue.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

// Service signs and verifies tokens with a shared HS256 secret.
type Service struct {
	clk        clock.Clock
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewService builds a token service. The secret must be non-empty.
func NewService(clk clock.Clock, secret, issuer string, accessTTL, refreshTTL time.Duration) (*Service, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth secret must not be empty")
	}
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 24 * time.Hour
	}
	return &Service{
		clk:        clk,
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// Issue mints an access/refresh token pair for the subject.
func (s *Service) Issue(claims Claims) (*TokenPair, error) {
	access, err := s.sign(claims, s.accessTTL, "access")
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(claims, s.refreshTTL, "refresh")
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// Refresh verifies a refresh token and mints a fresh pair.
func (s *Service) Refresh(refreshToken string) (*TokenPair, error) {
	claims, use, err := s.verify(refreshToken)
	if err != nil {
		return nil, err
	}
	if use != "refresh" {
		return nil, types.NewError(types.ErrForbidden, "token is not a refresh token")
	}
	return s.Issue(*claims)
}

// Verify checks an access token and returns its claims.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims, use, err := s.verify(tokenString)
	if err != nil {
		return nil, err
	}
	if use != "access" {
		return nil, types.NewError(types.ErrForbidden, "token is not an access token")
	}
	return claims, nil
}

func (s *Service) sign(claims Claims, ttl time.Duration, use string) (string, error) {
	now := s.clk.Now()
	builder := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(claims.Subject).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim("role", claims.Role).
		Claim("tenant_id", claims.TenantID).
		Claim("use", use)

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

func (s *Service) verify(tokenString string) (*Claims, string, error) {
	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKey(jwa.HS256, s.secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(s.issuer),
		jwt.WithClock(jwxClock{s.clk}),
	)
	if err != nil {
		return nil, "", types.WrapError(types.ErrForbidden, err, "invalid token")
	}

	claims := &Claims{Subject: token.Subject()}
	if v, ok := token.Get("role"); ok {
		claims.Role, _ = v.(string)
	}
	if v, ok := token.Get("tenant_id"); ok {
		claims.TenantID, _ = v.(string)
	}
	use := ""
	if v, ok := token.Get("use"); ok {
		use, _ = v.(string)
	}
	return claims, use, nil
}

// jwxClock adapts our clock to jwt validation.
type jwxClock struct{ clk clock.Clock }

func (c jwxClock) Now() time.Time { return c.clk.Now() }

type contextKey struct{}

// WithClaims returns a context carrying the claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext extracts claims placed by the middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}
