package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/asvalue/asvalue-auth/endpoint"
	"github.com/asvalue/asvalue-auth/session"
)

type fakeResolver struct {
	sess    session.Session
	rotated bool
	err     error
	gotFP   session.Fingerprint
}

func (f *fakeResolver) Resolve(ctx context.Context, token string, fp session.Fingerprint) (session.Session, bool, error) {
	f.gotFP = fp
	if f.err != nil {
		return session.Session{}, false, f.err
	}
	if token != f.sess.Token {
		return session.Session{}, false, session.ErrNotFound
	}
	return f.sess, f.rotated, nil
}

func newTestSessionCookie(t *testing.T) *SessionCookie {
	t.Helper()
	sc, err := NewSecureCookie(SessionCookieName, "k1", testKeys("k1"), WithSecure(false))
	if err != nil {
		t.Fatal(err)
	}
	return NewSessionCookie(sc)
}

func whoami(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	s, ok := SessionFromContext(r.Context())
	if !ok {
		return &endpoint.StringRenderer{Body: "anonymous"}, nil
	}
	return &endpoint.StringRenderer{Body: s.UserID}, nil
}

func serve(h http.Handler, ck *http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.Header.Set("User-Agent", "test-agent")
	if ck != nil {
		r.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func findCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

func TestSessionProcessor_Valid(t *testing.T) {
	cookie := newTestSessionCookie(t)
	res := &fakeResolver{sess: session.Session{ID: "s1", Token: "tok-1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}}
	h := endpoint.HandleFunc(whoami, NewSessionProcessor(cookie, res))

	ck, err := cookie.Issue("tok-1", time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	w := serve(h, ck)
	if w.Code != http.StatusOK || w.Body.String() != "u1" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
	if res.gotFP.UserAgent != "test-agent" {
		t.Errorf("fingerprint user agent = %q", res.gotFP.UserAgent)
	}
	if findCookie(w) != nil {
		t.Error("cookie rewritten without rotation")
	}
}

func TestSessionProcessor_Rotated(t *testing.T) {
	cookie := newTestSessionCookie(t)
	res := &fakeResolver{
		sess:    session.Session{ID: "s1", Token: "tok-1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)},
		rotated: true,
	}
	h := endpoint.HandleFunc(whoami, NewSessionProcessor(cookie, res))

	ck, _ := cookie.Issue("tok-1", time.Now(), time.Now().Add(time.Hour))
	w := serve(h, ck)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	next := findCookie(w)
	if next == nil {
		t.Fatal("rotated token not written back")
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(next)
	if tok, _ := cookie.Token(r); tok != "tok-1" {
		t.Errorf("cookie carries %q", tok)
	}
}

func TestSessionProcessor_Rejects(t *testing.T) {
	cookie := newTestSessionCookie(t)
	valid, _ := cookie.Issue("tok-1", time.Now(), time.Now().Add(time.Hour))
	unknown, _ := cookie.Issue("tok-2", time.Now(), time.Now().Add(time.Hour))

	tests := []struct {
		name        string
		cookie      *http.Cookie
		err         error
		wantStatus  int
		wantCleared bool
	}{
		{"no cookie", nil, nil, http.StatusUnauthorized, false},
		{"garbage cookie", &http.Cookie{Name: SessionCookieName, Value: "k1.garbage"}, nil, http.StatusUnauthorized, true},
		{"unknown token", unknown, nil, http.StatusUnauthorized, true},
		{"fingerprint mismatch", valid, session.ErrFingerprintMismatch, http.StatusUnauthorized, true},
		{"store down", valid, errors.New("connection reset"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &fakeResolver{sess: session.Session{ID: "s1", Token: "tok-1", UserID: "u1"}, err: tt.err}
			h := endpoint.HandleFunc(whoami, NewSessionProcessor(cookie, res))
			w := serve(h, tt.cookie)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			cleared := findCookie(w)
			if tt.wantCleared != (cleared != nil && cleared.MaxAge < 0) {
				t.Errorf("cookie cleared = %v, want %v", cleared != nil, tt.wantCleared)
			}
		})
	}
}

func TestSessionProcessor_Optional(t *testing.T) {
	cookie := newTestSessionCookie(t)
	res := &fakeResolver{sess: session.Session{Token: "tok-1", UserID: "u1"}}
	h := endpoint.HandleFunc(whoami, NewSessionProcessor(cookie, res, Optional()))

	w := serve(h, nil)
	if w.Code != http.StatusOK || w.Body.String() != "anonymous" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestSessionCookie_IssueExpired(t *testing.T) {
	cookie := newTestSessionCookie(t)
	ck, err := cookie.Issue("tok", time.Now(), time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if ck.MaxAge >= 0 {
		t.Errorf("expired session issued a live cookie: %+v", ck)
	}
}

func TestSessionCookie_IssueFollowsSessionClock(t *testing.T) {
	cookie := newTestSessionCookie(t)
	issued := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	ck, err := cookie.Issue("tok", issued, issued.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if ck.MaxAge != 3600 {
		t.Errorf("MaxAge = %d, want 3600", ck.MaxAge)
	}
}
