// Package handler implements the HTTP handlers of the auth API.
package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/guilhermeportfolio/portfolio-backend/internal/api/middleware"
	"github.com/guilhermeportfolio/portfolio-backend/internal/auth/oauth"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/errors"
	"github.com/guilhermeportfolio/portfolio-backend/internal/shared/logger"
)

// maxLoginBodyBytes bounds the login request body.
const maxLoginBodyBytes = 16 << 10

// CodeExchanger exchanges an authorization code for tokens.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (*oauth.TokenPair, error)
	AuthCodeURL(state string) string
}

// GoogleAuthRequest is the login request body.
type GoogleAuthRequest struct {
	Code string `json:"code"`
}

// LoginResponse is the login response body.
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// AuthURLResponse is the consent URL response body.
type AuthURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// MeResponse describes the authenticated caller.
type MeResponse struct {
	Subject string `json:"subject"`
	Claims  any    `json:"claims"`
}

// AuthHandler serves the auth routes. It holds no per-request state.
type AuthHandler struct {
	exchanger CodeExchanger
	log       *logger.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(exchanger CodeExchanger, log *logger.Logger) *AuthHandler {
	if log == nil {
		log = logger.Default()
	}
	return &AuthHandler{
		exchanger: exchanger,
		log:       log.WithComponent("auth_handler"),
	}
}

// GoogleLogin exchanges the code in the request body for Google tokens and
// returns them as {"token", "refreshToken"}. Every exchange failure is a 400
// with the same generic message.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodeLoginRequest(w, r)
	if err != nil {
		errors.WriteJSON(w, err)
		return
	}

	pair, err := h.exchanger.Exchange(ctx, req.Code)
	if err != nil {
		h.log.WarnContext(ctx, "google code exchange failed",
			"error_code", errors.GetCode(err),
			"error", err,
		)
		errors.WriteJSON(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:        pair.IDToken,
		RefreshToken: pair.RefreshToken,
	})
}

func decodeLoginRequest(w http.ResponseWriter, r *http.Request) (*GoogleAuthRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)

	var req GoogleAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case stderrors.As(err, &maxErr):
			return nil, errors.InvalidInput("request body too large")
		case stderrors.Is(err, io.EOF):
			return nil, errors.InvalidInput("request body is required")
		default:
			return nil, errors.InvalidInput("request body must be a JSON object")
		}
	}

	// The code is forwarded exactly as sent.
	if strings.TrimSpace(req.Code) == "" {
		return nil, errors.InvalidInput("code is required").
			WithDetails(map[string]string{"field": "code"})
	}
	return &req, nil
}

// GoogleAuthURL returns the Google consent URL. The caller may pass its own
// state; otherwise a random one is generated and returned.
func (h *AuthHandler) GoogleAuthURL(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		var err error
		state, err = randomState()
		if err != nil {
			errors.WriteJSON(w, errors.InternalWrap("generating state", err))
			return
		}
	}

	writeJSON(w, http.StatusOK, AuthURLResponse{
		URL:   h.exchanger.AuthCodeURL(state),
		State: state,
	})
}

// Me returns the subject and claims of the bearer token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		errors.WriteJSON(w, errors.Unauthorized("authentication required"))
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		Subject: claims.Subject,
		Claims:  claims,
	})
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
