// Package config loads service configuration from a file with an
// environment overlay.
//
// Keys mirror the section layout of the settings file. Environment variables
// use the upper-cased key path with "__" between segments, for example
// JWTSETTINGS__SECRET or GOOGLEAUTH__CLIENTID.
package config

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/oauth2/google"

	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/errors"
	tlsconf "github.com/guilhermeportfolio/portfolio-backend/internal/shared/tls"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/tracing"
)

// DefaultRedirectURI is the frontend callback registered with Google.
const DefaultRedirectURI = "http://localhost:5173"

// JwtSettings configures bearer token verification.
type JwtSettings struct {
	Secret string `mapstructure:"secret"`
}

// GoogleAuthSettings configures the Google OAuth client.
type GoogleAuthSettings struct {
	ClientID     string        `mapstructure:"clientid"`
	ClientSecret string        `mapstructure:"clientsecret"`
	RedirectURI  string        `mapstructure:"redirecturi"`
	TokenURL     string        `mapstructure:"tokenurl"`
	AuthURL      string        `mapstructure:"authurl"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string         `mapstructure:"host"`
	Port            int            `mapstructure:"port"`
	ReadTimeout     time.Duration  `mapstructure:"readtimeout"`
	WriteTimeout    time.Duration  `mapstructure:"writetimeout"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdowntimeout"`
	TLS             tlsconf.Config `mapstructure:"tls"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CORSConfig configures cross-origin access. An empty AllowedOrigins list
// allows any origin; empty method and header lists allow whatever a
// preflight asks for.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowedorigins"`
	AllowedMethods []string `mapstructure:"allowedmethods"`
	AllowedHeaders []string `mapstructure:"allowedheaders"`
}

// Permissive reports whether every origin is allowed.
func (c CORSConfig) Permissive() bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// RateLimitConfig configures per-client rate limiting of the login route.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requestspersecond"`
	Burst             int     `mapstructure:"burst"`
	TrustProxyHeaders bool    `mapstructure:"trustproxyheaders"`
}

// DocsConfig configures the API documentation endpoint.
type DocsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	RoutePrefix string `mapstructure:"routeprefix"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Config is the complete service configuration. It is built once at startup
// and passed by pointer to the components that need it.
type Config struct {
	Environment string             `mapstructure:"environment"`
	JwtSettings JwtSettings        `mapstructure:"jwtsettings"`
	GoogleAuth  GoogleAuthSettings `mapstructure:"googleauth"`
	Server      ServerConfig       `mapstructure:"server"`
	Cors        CORSConfig         `mapstructure:"cors"`
	RateLimit   RateLimitConfig    `mapstructure:"ratelimit"`
	Docs        DocsConfig         `mapstructure:"docs"`
	Log         LogConfig          `mapstructure:"log"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
	Tracing     tracing.Config     `mapstructure:"tracing"`
}

// requiredSetting is a setting with no default. Its key is bound to the
// environment explicitly, since viper only overlays environment values onto
// known keys.
type requiredSetting struct {
	key   string
	name  string
	value func(*Config) string
}

var requiredSettings = []requiredSetting{
	{"jwtsettings.secret", "JwtSettings.Secret", func(c *Config) string { return c.JwtSettings.Secret }},
	{"googleauth.clientid", "GoogleAuth.ClientId", func(c *Config) string { return c.GoogleAuth.ClientID }},
	{"googleauth.clientsecret", "GoogleAuth.ClientSecret", func(c *Config) string { return c.GoogleAuth.ClientSecret }},
}

// reservedPaths are served by fixed routes. Metrics and docs must not be
// mounted on or under them.
var reservedPaths = []string{"/api", "/health"}

// overlaps reports whether path equals base or lies under it.
func overlaps(path, base string) bool {
	path = strings.TrimRight(path, "/")
	base = strings.TrimRight(base, "/")
	return path == base || strings.HasPrefix(path, base+"/") || strings.HasPrefix(base, path+"/")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("googleauth.redirecturi", DefaultRedirectURI)
	v.SetDefault("googleauth.tokenurl", google.Endpoint.TokenURL)
	v.SetDefault("googleauth.authurl", google.Endpoint.AuthURL)
	v.SetDefault("googleauth.timeout", "10s")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5281)
	v.SetDefault("server.readtimeout", "5s")
	v.SetDefault("server.writetimeout", "15s")
	v.SetDefault("server.shutdowntimeout", "30s")
	v.SetDefault("server.tls.certfile", "")
	v.SetDefault("server.tls.keyfile", "")
	v.SetDefault("server.tls.minversion", "1.2")

	v.SetDefault("cors.allowedorigins", []string{})
	v.SetDefault("cors.allowedmethods", []string{})
	v.SetDefault("cors.allowedheaders", []string{})

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requestspersecond", 5)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("ratelimit.trustproxyheaders", false)

	v.SetDefault("docs.enabled", true)
	v.SetDefault("docs.routeprefix", "swagger")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.samplerate", 1.0)
}

// Load reads configuration from path, or from portfolio.{yaml,json,toml} in
// the working directory, ./configs or /etc/portfolio when path is empty, then
// overlays environment variables and validates the result. A missing file is
// only an error when path is given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("portfolio")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/portfolio")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()
	for _, rs := range requiredSettings {
		if err := v.BindEnv(rs.key); err != nil {
			return nil, errors.Wrap(errors.CodeConfigInvalid, "binding environment", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, errors.Wrap(errors.CodeConfigInvalid, "reading config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.CodeConfigInvalid, "decoding config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that every required setting is present and that the
// optional ones are usable.
func (c *Config) Validate() error {
	var missing []string
	for _, rs := range requiredSettings {
		if strings.TrimSpace(rs.value(c)) == "" {
			missing = append(missing, rs.name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.ConfigMissing("missing required settings: " + strings.Join(missing, ", ")).
			WithDetails(missing)
	}

	for name, raw := range map[string]string{
		"GoogleAuth.RedirectUri": c.GoogleAuth.RedirectURI,
		"GoogleAuth.TokenUrl":    c.GoogleAuth.TokenURL,
		"GoogleAuth.AuthUrl":     c.GoogleAuth.AuthURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New(errors.CodeConfigInvalid, name+" must be an absolute URL")
		}
	}

	if c.GoogleAuth.Timeout < 0 {
		return errors.New(errors.CodeConfigInvalid, "GoogleAuth.Timeout must not be negative")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New(errors.CodeConfigInvalid, "Server.Port must be between 1 and 65535")
	}
	if err := c.Server.TLS.Validate(); err != nil {
		return errors.Wrap(errors.CodeConfigInvalid, "Server.TLS is invalid", err)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1) {
		return errors.New(errors.CodeConfigInvalid, "RateLimit.RequestsPerSecond and RateLimit.Burst must be positive")
	}
	c.Docs.RoutePrefix = strings.Trim(c.Docs.RoutePrefix, "/")
	if c.Docs.Enabled && c.Docs.RoutePrefix == "" {
		return errors.New(errors.CodeConfigInvalid, "Docs.RoutePrefix must not be empty")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New(errors.CodeConfigInvalid, "Metrics.Path must start with /")
	}

	for _, reserved := range reservedPaths {
		if c.Metrics.Enabled && overlaps(c.Metrics.Path, reserved) {
			return errors.New(errors.CodeConfigInvalid, "Metrics.Path must not overlap "+reserved)
		}
		if c.Docs.Enabled && overlaps("/"+c.Docs.RoutePrefix, reserved) {
			return errors.New(errors.CodeConfigInvalid, "Docs.RoutePrefix must not overlap "+reserved)
		}
	}
	if c.Metrics.Enabled && c.Docs.Enabled && overlaps(c.Metrics.Path, "/"+c.Docs.RoutePrefix) {
		return errors.New(errors.CodeConfigInvalid, "Metrics.Path must not overlap Docs.RoutePrefix")
	}

	return nil
}
