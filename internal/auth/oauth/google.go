// Package oauth implements the Google OAuth 2.0 authorization code exchange.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/errors"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/metrics"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/tracing"
)

// FailureMessage is the only text a caller sees when the exchange fails.
const FailureMessage = "authentication with Google failed"

const (
	// UpstreamName labels the token endpoint in metrics.
	UpstreamName = "google_token"

	// maxResponseBytes bounds how much of a token response is read.
	maxResponseBytes = 1 << 20
)

// Outcome labels recorded for each exchange.
const (
	OutcomeSuccess        = "success"
	OutcomeRejected       = "rejected"
	OutcomeMalformed      = "malformed"
	OutcomeTransportError = "transport_error"
)

// GoogleConfig holds Google OAuth configuration.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenURL     string
	AuthURL      string
}

// TokenPair is the part of Google's token response relayed to the caller.
type TokenPair struct {
	IDToken      string
	RefreshToken string
}

// googleTokenResponse is the JSON body of a successful token response.
type googleTokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// GoogleProvider exchanges authorization codes at Google's token endpoint.
// It is safe for concurrent use; the only shared state is the HTTP client.
type GoogleProvider struct {
	cfg     GoogleConfig
	oauth   *oauth2.Config
	client  *http.Client
	metrics *metrics.Metrics
}

// Option configures a GoogleProvider.
type Option func(*GoogleProvider)

// WithMetrics records upstream metrics for each exchange.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *GoogleProvider) {
		p.metrics = m
	}
}

// NewHTTPClient returns the pooled client shared by all exchanges. A zero
// timeout means no client-side limit beyond the request context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// NewGoogleProvider creates a provider. client must be constructed once and
// shared; it is never replaced per request.
func NewGoogleProvider(cfg GoogleConfig, client *http.Client, opts ...Option) *GoogleProvider {
	p := &GoogleProvider{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *GoogleProvider) Name() string {
	return "google"
}

// AuthCodeURL returns the Google consent URL that yields a code this
// provider can exchange. Offline access is requested so that Google issues
// a refresh token.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// exchangeForm builds the token request body. It always has exactly five
// fields and grant_type is fixed.
func (p *GoogleProvider) exchangeForm(code string) url.Values {
	return url.Values{
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {p.cfg.RedirectURL},
	}
}

// Exchange posts code to the token endpoint once and returns the id and
// refresh tokens. There is no retry. Every failure is an OAUTH_ERROR carrying
// FailureMessage; the cause is wrapped for logging but never includes the
// upstream response body. The returned id token is not verified.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*TokenPair, error) {
	if code == "" {
		return nil, errors.InvalidInput("code is required")
	}

	ctx, span := tracing.Tracer().Start(ctx, "google.token_exchange",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("oauth.provider", p.Name())),
	)
	defer span.End()

	start := time.Now()
	pair, status, outcome, err := p.exchange(ctx, code)
	p.metrics.RecordUpstreamRequest(UpstreamName, status, outcome, time.Since(start))

	span.SetAttributes(
		attribute.Int("http.response.status_code", status),
		attribute.String("oauth.outcome", outcome),
	)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, errors.OAuthError(FailureMessage).Wrap(err)
	}
	return pair, nil
}

func (p *GoogleProvider) exchange(ctx context.Context, code string) (*TokenPair, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL,
		strings.NewReader(p.exchangeForm(code).Encode()))
	if err != nil {
		return nil, 0, OutcomeTransportError, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, OutcomeTransportError, fmt.Errorf("calling token endpoint: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, OutcomeRejected,
			fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body googleTokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, resp.StatusCode, OutcomeMalformed, fmt.Errorf("decoding token response: %w", err)
	}
	if body.IDToken == "" {
		return nil, resp.StatusCode, OutcomeMalformed, fmt.Errorf("token response has no id_token")
	}

	return &TokenPair{
		IDToken:      body.IDToken,
		RefreshToken: body.RefreshToken,
	}, resp.StatusCode, OutcomeSuccess, nil
}
