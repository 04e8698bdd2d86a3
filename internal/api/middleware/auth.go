package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/guilhermeportfolio/portfolio-backend/internal/auth/jwt"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/errors"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/logger"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/metrics"
)

// claimsContextKey is the context key for validated bearer claims.
type claimsContextKey struct{}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// AuthConfig holds bearer authentication configuration.
type AuthConfig struct {
	Validator TokenValidator
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

// Auth returns middleware that requires a valid bearer token. On success the
// claims are attached to the request context; otherwise a 401 JSON error is
// written.
func Auth(cfg AuthConfig) Middleware {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(cfg.Validator, r.Header.Get("Authorization"))
			if err != nil {
				code := errors.GetCode(err)
				cfg.Metrics.RecordAuthFailure(string(code))
				log.WithContext(r.Context()).Warn("bearer authentication failed",
					"error_code", code,
					"path", r.URL.Path,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				errors.WriteJSON(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			if claims.Subject != "" {
				ctx = context.WithValue(ctx, logger.SubjectKey, claims.Subject)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(v TokenValidator, header string) (*jwt.Claims, error) {
	if header == "" {
		return nil, errors.Unauthorized("missing authorization")
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, errors.Unauthorized("invalid authorization header format")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.Unauthorized("missing bearer token")
	}

	return v.ValidateToken(token)
}

// ClaimsFromContext returns the bearer claims attached by Auth, or nil.
func ClaimsFromContext(ctx context.Context) *jwt.Claims {
	if claims, ok := ctx.Value(claimsContextKey{}).(*jwt.Claims); ok {
		return claims
	}
	return nil
}
