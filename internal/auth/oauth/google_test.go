package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/errors"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/metrics"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc, opts ...Option) *GoogleProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewGoogleProvider(GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:5173",
		TokenURL:     srv.URL + "/token",
		AuthURL:      "https://accounts.example/o/oauth2/auth",
	}, NewHTTPClient(5*time.Second), opts...)
}

func jsonResponse(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestGoogleProvider_Exchange_Success(t *testing.T) {
	p := newTestProvider(t, jsonResponse(http.StatusOK,
		`{"access_token":"at","expires_in":3599,"id_token":"xyz","refresh_token":"uvw","token_type":"Bearer"}`))

	pair, err := p.Exchange(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "xyz", pair.IDToken)
	assert.Equal(t, "uvw", pair.RefreshToken)
}

func TestGoogleProvider_Exchange_RequestForm(t *testing.T) {
	var (
		gotForm        url.Values
		gotContentType string
		gotMethod      string
		gotPath        string
	)
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		jsonResponse(http.StatusOK, `{"id_token":"a","refresh_token":"b"}`)(w, r)
	})

	_, err := p.Exchange(context.Background(), "the-code")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/token", gotPath)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)

	keys := make([]string, 0, len(gotForm))
	for k := range gotForm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"client_id", "client_secret", "code", "grant_type", "redirect_uri"}, keys)

	assert.Equal(t, "client-id", gotForm.Get("client_id"))
	assert.Equal(t, "client-secret", gotForm.Get("client_secret"))
	assert.Equal(t, "the-code", gotForm.Get("code"))
	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "http://localhost:5173", gotForm.Get("redirect_uri"))
}

func TestGoogleProvider_Exchange_GrantTypeIsFixed(t *testing.T) {
	var grantType string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		grantType = r.PostForm.Get("grant_type")
		assert.Len(t, r.PostForm, 5)
		jsonResponse(http.StatusOK, `{"id_token":"a"}`)(w, r)
	})

	_, err := p.Exchange(context.Background(), "x&grant_type=refresh_token")
	require.NoError(t, err)
	assert.Equal(t, "authorization_code", grantType)
}

func TestGoogleProvider_Exchange_UpstreamRejects(t *testing.T) {
	const upstreamBody = `{"error":"invalid_grant","error_description":"Bad Request: code already redeemed"}`

	for _, status := range []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable,
		http.StatusMovedPermanently,
	} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			p := newTestProvider(t, jsonResponse(status, upstreamBody))

			pair, err := p.Exchange(context.Background(), "code")
			require.Error(t, err)
			assert.Nil(t, pair)
			assert.True(t, errors.IsCode(err, errors.CodeOAuthError))

			var appErr *errors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, FailureMessage, appErr.Message)
			assert.NotContains(t, err.Error(), "invalid_grant")
			assert.NotContains(t, err.Error(), "already redeemed")
		})
	}
}

func TestGoogleProvider_Exchange_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"empty body", ``},
		{"missing id_token", `{"access_token":"at","refresh_token":"r"}`},
		{"wrong type", `{"id_token":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, jsonResponse(http.StatusOK, tt.body))

			_, err := p.Exchange(context.Background(), "code")
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeOAuthError))
		})
	}
}

func TestGoogleProvider_Exchange_MissingRefreshTokenIsRelayedEmpty(t *testing.T) {
	p := newTestProvider(t, jsonResponse(http.StatusOK, `{"id_token":"only-id"}`))

	pair, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "only-id", pair.IDToken)
	assert.Empty(t, pair.RefreshToken)
}

func TestGoogleProvider_Exchange_EmptyCode(t *testing.T) {
	called := false
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := p.Exchange(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
	assert.False(t, called)
}

func TestGoogleProvider_Exchange_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	tokenURL := srv.URL + "/token"
	srv.Close()

	p := NewGoogleProvider(GoogleConfig{TokenURL: tokenURL}, NewHTTPClient(time.Second))

	_, err := p.Exchange(context.Background(), "code")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeOAuthError))
}

func TestGoogleProvider_Exchange_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Exchange(ctx, "code")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGoogleProvider_Exchange_ClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewGoogleProvider(GoogleConfig{TokenURL: srv.URL}, NewHTTPClient(50*time.Millisecond))

	_, err := p.Exchange(context.Background(), "code")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeOAuthError))
}

func TestGoogleProvider_Exchange_Concurrent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		code := r.PostForm.Get("code")
		jsonResponse(http.StatusOK, fmt.Sprintf(`{"id_token":"id-%s","refresh_token":"rt-%s"}`, code, code))(w, r)
	})

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := fmt.Sprintf("c%d", i)
			pair, err := p.Exchange(context.Background(), code)
			if err != nil {
				errs <- err
				return
			}
			if pair.IDToken != "id-"+code || pair.RefreshToken != "rt-"+code {
				errs <- fmt.Errorf("code %s got pair %+v", code, pair)
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestGoogleProvider_Exchange_Metrics(t *testing.T) {
	m := metrics.New(metrics.Config{ServiceName: "test"})

	ok := newTestProvider(t, jsonResponse(http.StatusOK, `{"id_token":"a"}`), WithMetrics(m))
	rejected := newTestProvider(t, jsonResponse(http.StatusBadRequest, `{}`), WithMetrics(m))

	_, err := ok.Exchange(context.Background(), "code")
	require.NoError(t, err)
	_, err = rejected.Exchange(context.Background(), "code")
	require.Error(t, err)

	body := scrape(t, m)
	assert.Contains(t, body, `outcome="success"`)
	assert.Contains(t, body, `outcome="rejected"`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	count, err := testutil.GatherAndCount(m.Registry(), "portfolio_upstream_requests_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestGoogleProvider_AuthCodeURL(t *testing.T) {
	p := NewGoogleProvider(GoogleConfig{
		ClientID:    "client-id",
		RedirectURL: "http://localhost:5173",
		AuthURL:     "https://accounts.example/o/oauth2/auth",
		TokenURL:    "https://oauth2.example/token",
	}, NewHTTPClient(time.Second))

	u, err := url.Parse(p.AuthCodeURL("state-1"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "accounts.example", u.Host)
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost:5173", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
}

