package middleware

// Session middleware for the endpoint processor pipeline. The browser holds
// only a sealed session token; the session itself lives in the server-side
// store and is resolved on every request.

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/asvalue/asvalue-auth/endpoint"
	"github.com/asvalue/asvalue-auth/session"
	"github.com/rs/zerolog"
)

// SessionCookieName is the cookie carrying the sealed session token. The route
// guard treats its presence as the authenticated signal.
const SessionCookieName = "asvalue-authenticated"

type sessionCookieData struct {
	Token string `cbor:"1,keyasint"`
}

// SessionCookie carries a session token inside a SecureCookie.
type SessionCookie struct {
	cookie SecureCookie
}

// NewSessionCookie wraps sc.
func NewSessionCookie(sc SecureCookie) *SessionCookie {
	return &SessionCookie{cookie: sc}
}

// Name returns the cookie name.
func (c *SessionCookie) Name() string {
	return c.cookie.Name()
}

// Issue returns a cookie carrying token from issuedAt until expires. Both
// times come from the session, so the max age follows the session clock.
func (c *SessionCookie) Issue(token string, issuedAt, expires time.Time) (*http.Cookie, error) {
	maxAge := int(expires.Sub(issuedAt).Seconds())
	if maxAge <= 0 {
		return c.cookie.Clear(), nil
	}
	return c.cookie.Encode(sessionCookieData{Token: token}, maxAge)
}

// Token opens the session cookie on r. present is true when the cookie was
// sent at all, even if it could not be opened.
func (c *SessionCookie) Token(r *http.Request) (token string, present bool) {
	ck, err := r.Cookie(c.cookie.Name())
	if err != nil || ck.Value == "" {
		return "", false
	}
	var data sessionCookieData
	if err := c.cookie.Decode(ck, &data); err != nil {
		return "", true
	}
	return data.Token, true
}

// Clear returns a cookie deleting the session cookie.
func (c *SessionCookie) Clear() *http.Cookie {
	return c.cookie.Clear()
}

// SessionResolver resolves a session token to a live session. It is
// implemented by *session.Manager.
type SessionResolver interface {
	Resolve(ctx context.Context, token string, fp session.Fingerprint) (session.Session, bool, error)
}

type sessionContextKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the session stored in ctx, if any.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(session.Session)
	return s, ok
}

// SessionProcessor resolves the session cookie against the server-side store
// and makes the session available through SessionFromContext.
//
// Invalid, expired or hijacked sessions have their cookie cleared. When the
// processor is required (the default), such requests fail with 401.
// Rotated tokens are written back to the client before the response commits.
type SessionProcessor struct {
	cookie   *SessionCookie
	sessions SessionResolver
	optional bool
}

// SessionProcessorOption configures a SessionProcessor.
type SessionProcessorOption func(*SessionProcessor)

// Optional lets requests without a valid session through, unauthenticated.
func Optional() SessionProcessorOption {
	return func(p *SessionProcessor) { p.optional = true }
}

// NewSessionProcessor returns a SessionProcessor.
func NewSessionProcessor(cookie *SessionCookie, sessions SessionResolver, opts ...SessionProcessorOption) *SessionProcessor {
	p := &SessionProcessor{cookie: cookie, sessions: sessions}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process implements endpoint.Processor.
func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	ctx := r.Context()
	token, present := p.cookie.Token(r)
	if token == "" {
		if present {
			p.deferClear(ctx)
		}
		return p.unauthenticated(w, r, next)
	}

	s, rotated, err := p.sessions.Resolve(ctx, token, session.NewFingerprint(r))
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrFingerprintMismatch):
		p.deferClear(ctx)
		return p.unauthenticated(w, r, next)
	case err != nil:
		return endpoint.Error(http.StatusInternalServerError, "", err)
	}

	if rotated {
		endpoint.Defer(ctx, func(w http.ResponseWriter) {
			ck, err := p.cookie.Issue(s.Token, s.TokenIssuedAt, s.ExpiresAt)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("issue rotated session cookie")
				return
			}
			http.SetCookie(w, ck)
		})
	}

	logger := zerolog.Ctx(ctx).With().Str("user_id", s.UserID).Str("session_id", s.ID).Logger()
	ctx = logger.WithContext(WithSession(ctx, s))
	*r = *r.WithContext(ctx)
	return next(w, r)
}

func (p *SessionProcessor) unauthenticated(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if p.optional {
		return next(w, r)
	}
	return endpoint.Error(http.StatusUnauthorized, "sign-in required", nil)
}

func (p *SessionProcessor) deferClear(ctx context.Context) {
	endpoint.Defer(ctx, func(w http.ResponseWriter) {
		http.SetCookie(w, p.cookie.Clear())
	})
}

var _ endpoint.Processor = (*SessionProcessor)(nil)
var _ SessionResolver = (*session.Manager)(nil)
