package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/asvalue/asvalue-auth/audit"
	"github.com/asvalue/asvalue-auth/endpoint"
	"github.com/asvalue/asvalue-auth/middleware"
	"github.com/asvalue/asvalue-auth/profile"
	"github.com/asvalue/asvalue-auth/session"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
)

// Provider is the identity provider a Handler signs users in with.
// *GoogleProvider implements it.
type Provider interface {
	ID() string
	AuthCodeURL(state, challenge string) string
	ExchangeCodeForTokens(ctx context.Context, code, verifier string) (TokenResponse, error)
	FetchUserInfo(ctx context.Context, accessToken string) (GoogleUserInfo, error)
	VerifiesIDTokens() bool
	VerifyIDToken(ctx context.Context, raw string) (*oidc.IDToken, error)
}

// Services are the collaborators of a Handler.
type Services struct {
	Provider Provider
	States   *StateManager
	Profiles *profile.Service
	Sessions *session.Manager
	Audit    *audit.Logger
	Cookie   *middleware.SessionCookie
}

// Handler serves the sign-in flow:
//
//	GET       {base}/login/{provider}?next=/path
//	GET|POST  {base}/callback/{provider}
//	POST      {base}/signout
//	GET       {base}/session
//	GET       {base}/error?error=kind
type Handler struct {
	mux *http.ServeMux
	Services

	basePath       string
	errorPath      string
	postAuthPath   string
	onboardingPath string
	signedOutPath  string

	processors []endpoint.Processor
}

// Option configures the Handler.
type Option func(*Handler)

// WithProcessors adds processors to every auth endpoint.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(h *Handler) {
		h.processors = append(h.processors, p...)
	}
}

// WithErrorPath sets the page failures redirect to. Default "/auth/error".
func WithErrorPath(p string) Option {
	return func(h *Handler) { h.errorPath = p }
}

// WithPostAuthPath sets where a signed-in user lands when no next URL was
// requested. Default "/dashboard".
func WithPostAuthPath(p string) Option {
	return func(h *Handler) { h.postAuthPath = p }
}

// WithOnboardingPath sets where users who have not finished onboarding land.
// Default "/onboarding".
func WithOnboardingPath(p string) Option {
	return func(h *Handler) { h.onboardingPath = p }
}

// WithSignedOutPath sets the redirect after sign-out. Default "/".
func WithSignedOutPath(p string) Option {
	return func(h *Handler) { h.signedOutPath = p }
}

// NewHandler creates a Handler mounted at basePath (e.g. "/auth").
func NewHandler(svc Services, basePath string, opts ...Option) (*Handler, error) {
	if svc.Provider == nil || svc.States == nil || svc.Profiles == nil ||
		svc.Sessions == nil || svc.Audit == nil || svc.Cookie == nil {
		return nil, errors.New("auth: incomplete services")
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	h := &Handler{
		mux:            http.NewServeMux(),
		Services:       svc,
		basePath:       basePath,
		errorPath:      path.Join(basePath, "error"),
		postAuthPath:   "/dashboard",
		onboardingPath: "/onboarding",
		signedOutPath:  "/",
	}
	for _, opt := range opts {
		opt(h)
	}

	sessionRequired := middleware.NewSessionProcessor(svc.Cookie, svc.Sessions)
	sessionOptional := middleware.NewSessionProcessor(svc.Cookie, svc.Sessions, middleware.Optional())
	withSession := func(p endpoint.Processor) []endpoint.Processor {
		return append(append([]endpoint.Processor{}, h.processors...), p)
	}

	h.mux.HandleFunc("GET "+path.Join(basePath, "login", "{provider}"),
		endpoint.HandleFunc(h.login, h.processors...))
	callback := endpoint.HandleFunc(h.callback, h.processors...)
	h.mux.HandleFunc("GET "+path.Join(basePath, "callback", "{provider}"), callback)
	h.mux.HandleFunc("POST "+path.Join(basePath, "callback", "{provider}"), callback)
	h.mux.HandleFunc("POST "+path.Join(basePath, "signout"),
		endpoint.HandleFunc(h.signOut, withSession(sessionOptional)...))
	h.mux.HandleFunc("GET "+path.Join(basePath, "session"),
		endpoint.HandleFunc(h.currentSession, withSession(sessionRequired)...))
	h.mux.HandleFunc("GET "+path.Join(basePath, "error"),
		endpoint.HandleFunc(h.errorPage, h.processors...))

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// LoginURL returns the path that starts a sign-in with the configured provider.
func (h *Handler) LoginURL() string {
	return path.Join(h.basePath, "login", h.Provider.ID())
}

type LoginParams struct {
	ProviderID string `path:"provider"`
	NextURL    string `query:"next" maxLength:"2048"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, params LoginParams) (endpoint.Renderer, error) {
	if params.ProviderID != h.Provider.ID() {
		return nil, endpoint.Error(http.StatusNotFound, "provider not found", nil)
	}
	ctx := r.Context()

	verifier := GenerateCodeVerifier()
	challenge := GenerateCodeChallenge(verifier)
	state := GenerateState()
	next := ValidateNextURLIsLocal(params.NextURL)

	if err := h.States.Store(ctx, state, verifier, next); err != nil {
		return h.fail(r, err), nil
	}
	return &endpoint.RedirectRenderer{URL: h.Provider.AuthCodeURL(state, challenge), Status: http.StatusFound}, nil
}

// CallbackParams accepts both the query redirect and Google's form_post mode.
type CallbackParams struct {
	ProviderID string `path:"provider"`
	State      string `query:"state" form:"state" maxLength:"256"`
	Code       string `query:"code" form:"code" maxLength:"2048"`
	Error      string `query:"error" form:"error" maxLength:"256"`
	ErrorDesc  string `query:"error_description" form:"error_description" maxLength:"1024"`
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, params CallbackParams) (endpoint.Renderer, error) {
	if params.ProviderID != h.Provider.ID() {
		return nil, endpoint.Error(http.StatusNotFound, "provider not found", nil)
	}
	ctx := r.Context()

	if params.Error != "" {
		// Consume the state so the attempt cannot be resumed.
		if params.State != "" {
			_, _ = h.States.Validate(ctx, params.State)
		}
		pe := &ProviderError{Code: params.Error, Description: params.ErrorDesc}
		return h.fail(r, fmt.Errorf("%w: %w", ErrProviderDenied, pe)), nil
	}
	if params.Code == "" {
		return h.fail(r, ErrMissingCode), nil
	}

	st, err := h.States.Validate(ctx, params.State)
	if err != nil {
		return h.fail(r, err), nil
	}

	tokens, err := h.Provider.ExchangeCodeForTokens(ctx, params.Code, st.CodeVerifier)
	if err != nil {
		return h.fail(r, err), nil
	}

	var idToken *oidc.IDToken
	if h.Provider.VerifiesIDTokens() {
		idToken, err = h.Provider.VerifyIDToken(ctx, tokens.IDToken)
		if err != nil {
			return h.fail(r, fmt.Errorf("%w: id token: %w", ErrTokenExchange, err)), nil
		}
	}

	info, err := h.Provider.FetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		return h.fail(r, err), nil
	}
	if idToken != nil && idToken.Subject != info.ID {
		return h.fail(r, fmt.Errorf("%w: id token subject does not match userinfo", ErrUserInfo)), nil
	}

	p, err := h.Profiles.EnsureFromIdentity(ctx, info.Identity())
	if err != nil {
		if !errors.Is(err, profile.ErrUnverifiedEmail) {
			err = fmt.Errorf("%w: %w", ErrStorageWrite, err)
		}
		return h.fail(r, err), nil
	}

	fp := session.NewFingerprint(r)
	s, err := h.Sessions.Create(ctx, p.ID, fp)
	if err != nil {
		return h.fail(r, fmt.Errorf("%w: %w", ErrStorageWrite, err)), nil
	}
	err = h.Audit.Record(ctx, audit.Entry{
		UserID:    p.ID,
		EventType: audit.EventSignIn,
		IPAddress: fp.IPAddress,
		UserAgent: fp.UserAgent,
		SessionID: s.ID,
		Success:   true,
		Details:   map[string]any{"provider": h.Provider.ID()},
	})
	if err != nil {
		if derr := h.Sessions.Discard(ctx, s.ID); derr != nil {
			zerolog.Ctx(ctx).Error().Err(derr).Str("session_id", s.ID).Msg("discard session")
		}
		return h.fail(r, fmt.Errorf("%w: %w", ErrStorageWrite, err)), nil
	}

	ck, err := h.Cookie.Issue(s.Token, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "", err)
	}
	http.SetCookie(w, ck)

	zerolog.Ctx(ctx).Info().Str("user_id", p.ID).Str("session_id", s.ID).Msg("signed in")
	return &endpoint.RedirectRenderer{URL: h.landing(p, st.NextURL), Status: http.StatusFound}, nil
}

// landing picks the post-sign-in destination. Unfinished onboarding wins over
// any requested page.
func (h *Handler) landing(p profile.Profile, next string) string {
	if !p.OnboardingCompleted {
		return h.onboardingPath
	}
	if next != "" {
		return next
	}
	return h.postAuthPath
}

// fail logs and audits a terminal sign-in failure and sends the browser to
// the error page.
func (h *Handler) fail(r *http.Request, err error) endpoint.Renderer {
	ctx := r.Context()
	kind := ErrorKind(err)
	zerolog.Ctx(ctx).Error().Err(err).Str("kind", kind).Msg("sign-in failed")

	fp := session.NewFingerprint(r)
	details := map[string]any{"kind": kind, "provider": h.Provider.ID()}
	var pe *ProviderError
	if errors.As(err, &pe) {
		details["provider_error"] = pe.Code
	}
	// The flow has already failed; a lost audit write is logged by Record.
	_ = h.Audit.Record(ctx, audit.Entry{
		EventType:    audit.EventFailure,
		IPAddress:    fp.IPAddress,
		UserAgent:    fp.UserAgent,
		ErrorMessage: err.Error(),
		Details:      details,
	})

	target := h.errorPath + "?" + url.Values{"error": {kind}}.Encode()
	return &endpoint.RedirectRenderer{URL: target, Status: http.StatusFound}
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	ctx := r.Context()
	if s, ok := middleware.SessionFromContext(ctx); ok {
		if err := h.Sessions.Revoke(ctx, s, session.NewFingerprint(r)); err != nil {
			return nil, endpoint.Error(http.StatusInternalServerError, "", err)
		}
	}
	http.SetCookie(w, h.Cookie.Clear())
	return &endpoint.RedirectRenderer{URL: h.signedOutPath, Status: http.StatusSeeOther}, nil
}

// SessionInfo describes the caller's session.
type SessionInfo struct {
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id"`
	TokenIssuedAt time.Time `json:"token_issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		return nil, endpoint.Error(http.StatusUnauthorized, "sign-in required", nil)
	}
	return &endpoint.JSONRenderer{Value: SessionInfo{
		UserID:        s.UserID,
		SessionID:     s.ID,
		TokenIssuedAt: s.TokenIssuedAt,
		ExpiresAt:     s.ExpiresAt,
	}}, nil
}

// FailureInfo is the body of the error page.
type FailureInfo struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorPageParams struct {
	Kind string `query:"error" maxLength:"64"`
}

func (h *Handler) errorPage(w http.ResponseWriter, r *http.Request, params errorPageParams) (endpoint.Renderer, error) {
	kind := params.Kind
	msg, ok := failureMessages[kind]
	if !ok {
		kind = "server_error"
		msg = failureMessages[kind]
	}
	return &endpoint.JSONRenderer{
		Status: http.StatusUnauthorized,
		Value:  FailureInfo{Error: kind, Message: msg},
	}, nil
}
