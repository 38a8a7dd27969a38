package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/asvalue/asvalue-auth/profile"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Google endpoints used when ProviderConfig leaves them empty.
const (
	GoogleIssuer      = "https://accounts.google.com"
	GoogleJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// DefaultHTTPTimeout bounds each outbound call to the provider.
const DefaultHTTPTimeout = 10 * time.Second

// maxUserInfoBytes bounds the userinfo response body.
const maxUserInfoBytes = 1 << 20

// DefaultScopes are requested on every sign-in.
var DefaultScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// ProviderConfig describes the OAuth client registered with Google.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Endpoint overrides the authorization and token URLs (tests).
	Endpoint oauth2.Endpoint
	// UserInfoURL overrides the userinfo endpoint (tests).
	UserInfoURL string
}

// TokenResponse is the result of a successful code exchange.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Expiry       time.Time `json:"-"`
}

// GoogleUserInfo is the identity returned by the userinfo endpoint.
type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Identity converts u into the form the profile service consumes.
func (u GoogleUserInfo) Identity() profile.Identity {
	return profile.Identity{
		ProviderID:    u.ID,
		Email:         u.Email,
		EmailVerified: u.VerifiedEmail,
		Name:          u.Name,
		Picture:       u.Picture,
	}
}

// GoogleProvider talks to Google's OAuth 2.0 endpoints.
type GoogleProvider struct {
	config      oauth2.Config
	userInfoURL string
	client      *http.Client
	timeout     time.Duration
	verifier    *oidc.IDTokenVerifier
}

// ProviderOption configures a GoogleProvider.
type ProviderOption func(*GoogleProvider)

// WithHTTPClient sets the client used for the token and userinfo calls.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *GoogleProvider) { p.client = c }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *GoogleProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithIDTokenVerifier enables verification of the id_token returned by the
// token endpoint.
func WithIDTokenVerifier(v *oidc.IDTokenVerifier) ProviderOption {
	return func(p *GoogleProvider) { p.verifier = v }
}

// NewGoogleIDTokenVerifier returns a verifier for Google ID tokens issued to
// clientID. Signing keys are fetched from Google's JWKS endpoint on demand.
func NewGoogleIDTokenVerifier(ctx context.Context, clientID string) *oidc.IDTokenVerifier {
	keySet := oidc.NewRemoteKeySet(ctx, GoogleJWKSURL)
	return oidc.NewVerifier(GoogleIssuer, keySet, &oidc.Config{ClientID: clientID})
}

// NewGoogleProvider returns a GoogleProvider for cfg.
func NewGoogleProvider(cfg ProviderConfig, opts ...ProviderOption) *GoogleProvider {
	ep := cfg.Endpoint
	if ep.AuthURL == "" || ep.TokenURL == "" {
		ep = endpoints.Google
	}
	// Google expects the client credentials in the request body.
	ep.AuthStyle = oauth2.AuthStyleInParams

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	p := &GoogleProvider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     ep,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		userInfoURL: cfg.UserInfoURL,
		timeout:     DefaultHTTPTimeout,
	}
	if p.userInfoURL == "" {
		p.userInfoURL = GoogleUserInfoURL
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the provider identifier used in routes.
func (p *GoogleProvider) ID() string {
	return "google"
}

// AuthCodeURL returns the consent page URL for state, carrying the S256
// challenge.
func (p *GoogleProvider) AuthCodeURL(state, challenge string) string {
	return p.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", ChallengeMethod),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

func (p *GoogleProvider) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// ExchangeCodeForTokens trades an authorization code and its PKCE verifier
// for tokens. An error response from the token endpoint is returned as a
// *ProviderError wrapped in ErrTokenExchange. There is no retry.
func (p *GoogleProvider) ExchangeCodeForTokens(ctx context.Context, code, verifier string) (TokenResponse, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	tok, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			pe := &ProviderError{Code: re.ErrorCode, Description: re.ErrorDescription}
			if pe.Code == "" && re.Response != nil {
				pe.Code = fmt.Sprintf("http_%d", re.Response.StatusCode)
			}
			return TokenResponse{}, fmt.Errorf("%w: %w", ErrTokenExchange, pe)
		}
		return TokenResponse{}, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	expiresIn := tok.ExpiresIn
	if expiresIn == 0 && !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		ExpiresIn:    expiresIn,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		Expiry:       tok.Expiry,
	}, nil
}

// FetchUserInfo resolves accessToken to the Google identity it was issued for.
func (p *GoogleProvider) FetchUserInfo(ctx context.Context, accessToken string) (GoogleUserInfo, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return GoogleUserInfo{}, fmt.Errorf("%w: %w", ErrUserInfo, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return GoogleUserInfo{}, fmt.Errorf("%w: %w", ErrUserInfo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxUserInfoBytes))
		return GoogleUserInfo{}, fmt.Errorf("%w: unexpected status %d", ErrUserInfo, resp.StatusCode)
	}

	var info GoogleUserInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(&info); err != nil {
		return GoogleUserInfo{}, fmt.Errorf("%w: decode: %w", ErrUserInfo, err)
	}
	if info.ID == "" || info.Email == "" {
		return GoogleUserInfo{}, fmt.Errorf("%w: response missing id or email", ErrUserInfo)
	}
	return info, nil
}

// VerifiesIDTokens reports whether the provider was configured with a verifier.
func (p *GoogleProvider) VerifiesIDTokens() bool {
	return p.verifier != nil
}

// VerifyIDToken checks the signature, issuer, audience and expiry of raw.
func (p *GoogleProvider) VerifyIDToken(ctx context.Context, raw string) (*oidc.IDToken, error) {
	if p.verifier == nil {
		return nil, errors.New("id token verification not configured")
	}
	if raw == "" {
		return nil, errors.New("no id_token returned")
	}
	ctx, cancel := p.callContext(ctx)
	defer cancel()
	return p.verifier.Verify(ctx, raw)
}
