// Package main is the entry point for the portfolio backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guilhermeportfolio/portfolio-backend/internal/api/server"
	"github.com/guilhermeportfolio/portfolio-backend/internal/auth/jwt"
	"github.com/guilhermeportfolio/portfolio-backend/internal/auth/oauth"
	"github.com/guilhermeportfolio/portfolio-backend/internal/config"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/health"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/logger"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/metrics"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/tracing"
)

const serviceName = "portfolio-backend"

// version is set at build time.
var version = "dev"

// maxHeapBytes is the heap size above which health reports degraded.
const maxHeapBytes = 512 << 20

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

// run loads configuration and serves until ctx is done. Configuration errors
// are returned before anything listens.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Output:      stdout,
	})
	log := logger.Default()
	log.Info("starting portfolio backend", "version", version, "environment", cfg.Environment)

	if cfg.Cors.Permissive() {
		log.Warn("CORS allows any origin; set Cors.AllowedOrigins to restrict it")
	}

	jwtManager, err := jwt.NewManager(cfg.JwtSettings.Secret)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}
	if jwtManager.WeakSecret() {
		log.Warn("JwtSettings.Secret is shorter than recommended", "min_bytes", jwt.MinSecretLength)
	}

	tracingCfg := cfg.Tracing
	tracingCfg.ServiceName = serviceName
	tracingCfg.ServiceVersion = version
	tracingCfg.Environment = cfg.Environment
	shutdownTracing, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("tracing shutdown error", "error", err)
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(metrics.Config{ServiceName: serviceName})
	}

	provider := oauth.NewGoogleProvider(oauth.GoogleConfig{
		ClientID:     cfg.GoogleAuth.ClientID,
		ClientSecret: cfg.GoogleAuth.ClientSecret,
		RedirectURL:  cfg.GoogleAuth.RedirectURI,
		TokenURL:     cfg.GoogleAuth.TokenURL,
		AuthURL:      cfg.GoogleAuth.AuthURL,
	}, oauth.NewHTTPClient(cfg.GoogleAuth.Timeout), oauth.WithMetrics(m))

	checker := health.NewChecker(
		health.WithVersion(version),
		health.WithTimeout(2*time.Second),
	)
	checker.Register("config", health.ConfiguredCheck(map[string]string{
		"JwtSettings.Secret":      cfg.JwtSettings.Secret,
		"GoogleAuth.ClientId":     cfg.GoogleAuth.ClientID,
		"GoogleAuth.ClientSecret": cfg.GoogleAuth.ClientSecret,
	}))
	checker.Register("memory", health.MemoryCheck(maxHeapBytes))

	srv, err := server.New(server.Deps{
		Config:    cfg,
		Logger:    log,
		Metrics:   m,
		Health:    checker,
		Exchanger: provider,
		Validator: jwtManager,
	})
	if err != nil {
		return err
	}

	if err := srv.Run(ctx); err != nil {
		return err
	}

	log.Info("portfolio backend stopped")
	return nil
}
