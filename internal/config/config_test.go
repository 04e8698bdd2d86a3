package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/errors"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validYAML = `
JwtSettings:
  Secret: file-secret
GoogleAuth:
  ClientId: file-client
  ClientSecret: file-client-secret
`

func TestLoad_FromYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "portfolio.yaml", validYAML))
	require.NoError(t, err)

	assert.Equal(t, "file-secret", cfg.JwtSettings.Secret)
	assert.Equal(t, "file-client", cfg.GoogleAuth.ClientID)
	assert.Equal(t, "file-client-secret", cfg.GoogleAuth.ClientSecret)

	// defaults
	assert.Equal(t, DefaultRedirectURI, cfg.GoogleAuth.RedirectURI)
	assert.Equal(t, "https://oauth2.googleapis.com/token", cfg.GoogleAuth.TokenURL)
	assert.Equal(t, 10*time.Second, cfg.GoogleAuth.Timeout)
	assert.Equal(t, 5281, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:5281", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.Cors.Permissive())
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "swagger", cfg.Docs.RoutePrefix)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_FromAppSettingsJSON(t *testing.T) {
	path := writeConfig(t, "appsettings.json", `{
		"JwtSettings": {"Secret": "json-secret"},
		"GoogleAuth": {"ClientId": "json-client", "ClientSecret": "json-client-secret"},
		"Docs": {"RoutePrefix": "/docs/"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "json-secret", cfg.JwtSettings.Secret)
	assert.Equal(t, "json-client", cfg.GoogleAuth.ClientID)
	assert.Equal(t, "docs", cfg.Docs.RoutePrefix)
}

func TestLoad_EnvironmentOverlay(t *testing.T) {
	t.Setenv("JWTSETTINGS__SECRET", "env-secret")
	t.Setenv("SERVER__PORT", "9090")
	t.Setenv("GOOGLEAUTH__TIMEOUT", "3s")
	t.Setenv("CORS__ALLOWEDORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(writeConfig(t, "portfolio.yaml", validYAML))
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.JwtSettings.Secret)
	assert.Equal(t, "file-client", cfg.GoogleAuth.ClientID)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.GoogleAuth.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Cors.AllowedOrigins)
	assert.False(t, cfg.Cors.Permissive())
}

func TestLoad_EnvironmentOnly(t *testing.T) {
	t.Setenv("JWTSETTINGS__SECRET", "env-secret")
	t.Setenv("GOOGLEAUTH__CLIENTID", "env-client")
	t.Setenv("GOOGLEAUTH__CLIENTSECRET", "env-client-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.JwtSettings.Secret)
	assert.Equal(t, "env-client", cfg.GoogleAuth.ClientID)
	assert.Equal(t, "env-client-secret", cfg.GoogleAuth.ClientSecret)
}

func TestLoad_MissingSections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing []string
	}{
		{
			name: "missing JwtSettings",
			content: `
GoogleAuth:
  ClientId: id
  ClientSecret: secret
`,
			missing: []string{"JwtSettings.Secret"},
		},
		{
			name: "missing GoogleAuth",
			content: `
JwtSettings:
  Secret: s
`,
			missing: []string{"GoogleAuth.ClientId", "GoogleAuth.ClientSecret"},
		},
		{
			name: "partial GoogleAuth",
			content: `
JwtSettings:
  Secret: s
GoogleAuth:
  ClientId: id
`,
			missing: []string{"GoogleAuth.ClientSecret"},
		},
		{
			name:    "empty file",
			content: "",
			missing: []string{"GoogleAuth.ClientId", "GoogleAuth.ClientSecret", "JwtSettings.Secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "portfolio.yaml", tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeConfigMissing))

			var appErr *errors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.missing, appErr.Details)
		})
	}
}

func TestValidate_EachRequiredSetting(t *testing.T) {
	for _, rs := range requiredSettings {
		t.Run(rs.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, "portfolio.yaml", validYAML))
			require.NoError(t, err)

			blank := map[string]func(){
				"JwtSettings.Secret":      func() { cfg.JwtSettings.Secret = " " },
				"GoogleAuth.ClientId":     func() { cfg.GoogleAuth.ClientID = "" },
				"GoogleAuth.ClientSecret": func() { cfg.GoogleAuth.ClientSecret = "" },
			}[rs.name]
			require.NotNil(t, blank)
			blank()
			require.Empty(t, strings.TrimSpace(rs.value(cfg)))

			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeConfigMissing))
			var appErr *errors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, []string{rs.name}, appErr.Details)
		})
	}
}

func TestLoad_ExplicitFileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfigInvalid))
}

func TestLoad_Undecodable(t *testing.T) {
	path := writeConfig(t, "portfolio.yaml", validYAML+`
Server:
  Port: not-a-number
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfigInvalid))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, "portfolio.yaml", validYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative redirect uri", func(c *Config) { c.GoogleAuth.RedirectURI = "/callback" }},
		{"bad token url", func(c *Config) { c.GoogleAuth.TokenURL = "::" }},
		{"negative timeout", func(c *Config) { c.GoogleAuth.Timeout = -time.Second }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }},
		{"tls cert without key", func(c *Config) { c.Server.TLS.CertFile = "cert.pem" }},
		{"empty docs prefix", func(c *Config) { c.Docs.RoutePrefix = "/" }},
		{"relative metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
		{"metrics on health route", func(c *Config) { c.Metrics.Path = "/health" }},
		{"metrics under health route", func(c *Config) { c.Metrics.Path = "/health/ready/" }},
		{"metrics under api", func(c *Config) { c.Metrics.Path = "/api/auth/metrics" }},
		{"metrics at root", func(c *Config) { c.Metrics.Path = "/" }},
		{"docs on health route", func(c *Config) { c.Docs.RoutePrefix = "health" }},
		{"docs under api", func(c *Config) { c.Docs.RoutePrefix = "/api/docs/" }},
		{"metrics under docs", func(c *Config) { c.Metrics.Path = "/swagger/metrics" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeConfigInvalid))
		})
	}

	t.Run("paths next to reserved routes are allowed", func(t *testing.T) {
		cfg := base()
		cfg.Metrics.Path = "/healthz"
		cfg.Docs.RoutePrefix = "apidocs"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("disabled surfaces skip overlap checks", func(t *testing.T) {
		cfg := base()
		cfg.Metrics.Enabled = false
		cfg.Metrics.Path = "/health"
		cfg.Docs.Enabled = false
		cfg.Docs.RoutePrefix = "api"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("disabled rate limit skips its checks", func(t *testing.T) {
		cfg := base()
		cfg.RateLimit.Enabled = false
		cfg.RateLimit.Burst = 0
		assert.NoError(t, cfg.Validate())
	})
}
