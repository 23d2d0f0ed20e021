package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

const (
	tokenTypeParent = "parent"
	tokenIssuer     = "habit-hero"
)

// ============================================================
// Parent session
// ============================================================

// ParentAuth exchanges the household PIN for a short-lived parent token. The PIN
// gates the parent screens against a curious child, nothing more.
type ParentAuth struct {
	ledger    *Ledger
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewParentAuth creates the parent session service.
func NewParentAuth(ledger *Ledger, jwtSecret string, ttl time.Duration, logger *zap.Logger) *ParentAuth {
	return &ParentAuth{
		ledger:    ledger,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       time.Now,
		logger:    logger,
	}
}

// ParentClaims are the claims carried by a parent token.
type ParentClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Login checks pin against the stored parent PIN and issues a token.
func (a *ParentAuth) Login(ctx context.Context, pin string) (*domain.ParentSession, error) {
	_, span := authTracer.Start(ctx, "ParentAuth.Login")
	defer span.End()

	if !a.ledger.checkPin(pin) {
		a.logger.Warn("parent login: wrong PIN")
		return nil, &domain.ErrUnauthorized{Message: "wrong PIN"}
	}

	now := a.now()
	claims := ParentClaims{
		Type: tokenTypeParent,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "parent",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Issuer:    tokenIssuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign parent token: %w", err)
	}

	a.logger.Info("parent session opened", zap.Duration("ttl", a.ttl))
	return &domain.ParentSession{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(a.ttl.Seconds()),
	}, nil
}

// ValidateToken parses and checks a parent token.
func (a *ParentAuth) ValidateToken(tokenString string) (*ParentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ParentClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired parent session"}
	}

	claims, ok := token.Claims.(*ParentClaims)
	if !ok || !token.Valid || claims.Type != tokenTypeParent {
		return nil, &domain.ErrUnauthorized{Message: "invalid parent session"}
	}
	return claims, nil
}

// ============================================================
// Admin guard
// ============================================================

// AdminGuard protects destructive operations with a configured secret. A bcrypt
// hash takes precedence over a plain secret. With neither configured every
// request is refused.
type AdminGuard struct {
	digest []byte
	hash   []byte
}

// NewAdminGuard builds a guard from a plain secret and/or a bcrypt hash.
func NewAdminGuard(secret, bcryptHash string) *AdminGuard {
	g := &AdminGuard{}
	if bcryptHash != "" {
		g.hash = []byte(bcryptHash)
	}
	if secret != "" {
		d := sha256.Sum256([]byte(secret))
		g.digest = d[:]
	}
	return g
}

// Enabled reports whether a secret is configured.
func (g *AdminGuard) Enabled() bool {
	return g != nil && (g.hash != nil || g.digest != nil)
}

// Verify returns ErrForbidden unless password matches.
func (g *AdminGuard) Verify(password string) error {
	if !g.Enabled() {
		return &domain.ErrForbidden{Action: "reset is disabled: no admin secret configured"}
	}
	if g.hash != nil {
		if bcrypt.CompareHashAndPassword(g.hash, []byte(password)) != nil {
			return &domain.ErrForbidden{Action: "reset: wrong admin password"}
		}
		return nil
	}
	d := sha256.Sum256([]byte(password))
	if subtle.ConstantTimeCompare(d[:], g.digest) != 1 {
		return &domain.ErrForbidden{Action: "reset: wrong admin password"}
	}
	return nil
}

// constantTimeEqual compares the SHA-256 digests of got and want in constant time.
func constantTimeEqual(got, want string) bool {
	g := sha256.Sum256([]byte(got))
	w := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}
