// Package server assembles the HTTP API: routes, middleware and lifecycle.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/guilhermeportfolio/portfolio-backend/internal/api/docs"
	"github.com/guilhermeportfolio/portfolio-backend/internal/api/handler"
	"github.com/guilhermeportfolio/portfolio-backend/internal/api/middleware"
	"github.com/guilhermeportfolio/portfolio-backend/internal/config"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/errors"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/health"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/logger"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/metrics"
	tlsconf "github.com/guilhermeportfolio/portfolio-backend/internal/shared/tls"
)

// Route patterns. They double as metric and span names.
const (
	RouteGoogleLogin = "POST /api/auth/google-login"
	RouteGoogleURL   = "GET /api/auth/google-url"
	RouteMe          = "GET /api/auth/me"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// Deps are the collaborators the server is built from. Metrics may be nil.
type Deps struct {
	Config    *config.Config
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Health    *health.Checker
	Exchanger handler.CodeExchanger
	Validator middleware.TokenValidator
}

// Server is the HTTP API server.
type Server struct {
	cfg     *config.Config
	log     *logger.Logger
	handler http.Handler
	limiter *middleware.RateLimiter
	tls     *tls.Config
	http    *http.Server
}

// New builds the server and its routes. Nothing listens until Run or Serve.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Exchanger == nil || deps.Validator == nil {
		return nil, fmt.Errorf("server: config, exchanger and validator are required")
	}
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	checker := deps.Health
	if checker == nil {
		checker = health.NewChecker()
	}

	s := &Server{
		cfg: deps.Config,
		log: log.WithComponent("http_server"),
	}

	if s.cfg.Server.TLS.Enabled() {
		tlsCfg, err := tlsconf.ServerTLSConfig(s.cfg.Server.TLS)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		s.tls = tlsCfg
	}

	mux := http.NewServeMux()
	type registration struct {
		pattern string
		handler http.Handler
	}
	var routes []registration
	add := func(pattern string, h http.Handler) {
		routes = append(routes, registration{pattern, h})
	}
	route := func(pattern string, h http.Handler, extra ...middleware.Middleware) {
		mws := append([]middleware.Middleware{
			middleware.Tracing(pattern),
			func(next http.Handler) http.Handler { return deps.Metrics.Instrument(pattern, next) },
		}, extra...)
		add(pattern, middleware.Chain(h, mws...))
	}

	auth := handler.NewAuthHandler(deps.Exchanger, log)

	var loginMiddleware []middleware.Middleware
	if s.cfg.RateLimit.Enabled {
		s.limiter = middleware.NewRateLimiter(
			s.cfg.RateLimit.RequestsPerSecond,
			s.cfg.RateLimit.Burst,
			middleware.WithRateLimitMetrics(deps.Metrics),
			middleware.WithTrustedProxyHeaders(s.cfg.RateLimit.TrustProxyHeaders),
		)
		loginMiddleware = append(loginMiddleware, s.limiter.Middleware(RouteGoogleLogin))
	}

	route(RouteGoogleLogin, http.HandlerFunc(auth.GoogleLogin), loginMiddleware...)
	route(RouteGoogleURL, http.HandlerFunc(auth.GoogleAuthURL))
	route(RouteMe, http.HandlerFunc(auth.Me), middleware.Auth(middleware.AuthConfig{
		Validator: deps.Validator,
		Logger:    log,
		Metrics:   deps.Metrics,
	}))

	healthHandler := checker.Handler()
	add("GET /health", healthHandler)
	add("GET /health/live", healthHandler)
	add("GET /health/ready", healthHandler)

	if s.cfg.Metrics.Enabled && deps.Metrics != nil {
		add("GET "+s.cfg.Metrics.Path, deps.Metrics.Handler())
	}

	if s.cfg.Docs.Enabled {
		docRoutes, err := docs.Routes(s.cfg.Docs.RoutePrefix)
		if err != nil {
			s.stopLimiter()
			return nil, fmt.Errorf("server: building docs routes: %w", err)
		}
		for pattern, h := range docRoutes {
			add(pattern, h)
		}
	}

	for _, reg := range routes {
		if err := handle(mux, reg.pattern, reg.handler); err != nil {
			s.stopLimiter()
			return nil, err
		}
	}

	s.handler = middleware.Chain(mux,
		middleware.RequestID(),
		middleware.Logging(log),
		middleware.Recovery(log),
		middleware.Security(),
		middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: s.cfg.Cors.AllowedOrigins,
			AllowedMethods: s.cfg.Cors.AllowedMethods,
			AllowedHeaders: s.cfg.Cors.AllowedHeaders,
			MaxAge:         600,
		}),
		middleware.MaxBodySize(maxBodyBytes),
	)

	s.http = &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.handler,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address, over TLS when a certificate is
// configured, and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		s.stopLimiter()
		return fmt.Errorf("listening on %s: %w", s.http.Addr, err)
	}
	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.stopLimiter()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "address", ln.Addr().String(), "tls", s.tls != nil)
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	<-errCh

	s.log.Info("http server stopped")
	return nil
}

// handle registers h on mux and reports a conflicting pattern as an error
// rather than the panic ServeMux raises.
func handle(mux *http.ServeMux, pattern string, h http.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeConfigInvalid, fmt.Sprintf("route %q cannot be registered", pattern)).
				Wrap(fmt.Errorf("%v", r))
		}
	}()
	mux.Handle(pattern, h)
	return nil
}

func (s *Server) stopLimiter() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
