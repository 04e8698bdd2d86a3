// Package jwt provides HMAC-signed JWT validation and signing.
package jwt

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/errors"
)

// DefaultLeeway is the clock skew tolerated on exp and nbf.
const DefaultLeeway = 5 * time.Minute

// MinSecretLength is the smallest HS256 key size, in bytes, that is not
// considered weak.
const MinSecretLength = 32

var validMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// Claims represents the bearer token claims.
type Claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Manager validates and signs HMAC tokens with a shared secret. Issuer and
// audience are deliberately not checked.
type Manager struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLeeway sets the tolerated clock skew.
func WithLeeway(d time.Duration) Option {
	return func(m *Manager) {
		m.leeway = d
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager for secret.
func NewManager(secret string, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, errors.ConfigMissing("jwt secret must not be empty")
	}

	m := &Manager{
		secret: []byte(secret),
		leeway: DefaultLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// WeakSecret reports whether the secret is shorter than MinSecretLength.
func (m *Manager) WeakSecret() bool {
	return len(m.secret) < MinSecretLength
}

// ValidateToken verifies the signature and time-based claims of tokenString
// and returns its claims. A token without exp is rejected.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(m.now),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.TokenExpired("token has expired")
		}
		return nil, errors.TokenInvalid("invalid token").Wrap(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.TokenInvalid("invalid token claims")
	}

	return claims, nil
}

// Sign issues an HS256 token for subject that expires after ttl.
func (m *Manager) Sign(subject string, ttl time.Duration, email, name string, roles []string) (string, error) {
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Name:  name,
		Roles: roles,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
