package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultProtectedPrefixes are the page paths that require a session cookie.
var DefaultProtectedPrefixes = []string{"/onboarding", "/dashboard", "/marketplace"}

// RouteGuard redirects page navigation under protected prefixes to the
// sign-in page when the request carries no session cookie.
//
// The guard only checks that the cookie is present and non-empty. It does not
// open or verify it; the SessionProcessor performs the server-side lookup for
// every API call the protected pages make.
type RouteGuard struct {
	cookieName string
	prefixes   []string
	signInPath string
}

// NewRouteGuard returns a RouteGuard. Prefixes are normalised to have a
// leading slash and no trailing slash.
func NewRouteGuard(cookieName, signInPath string, prefixes []string) *RouteGuard {
	g := &RouteGuard{cookieName: cookieName, signInPath: signInPath}
	for _, p := range prefixes {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		g.prefixes = append(g.prefixes, p)
	}
	return g
}

// Protected reports whether path lies under a protected prefix. Matching is
// by path segment: "/dashboard" covers "/dashboard/x" but not "/dashboards".
func (g *RouteGuard) Protected(path string) bool {
	for _, p := range g.prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Authenticated reports whether r carries a non-empty session cookie.
func (g *RouteGuard) Authenticated(r *http.Request) bool {
	c, err := r.Cookie(g.cookieName)
	return err == nil && c.Value != ""
}

// Middleware wraps next with the guard.
func (g *RouteGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Protected(r.URL.Path) || g.Authenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		target := g.signInPath + "?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
		http.Redirect(w, r, target, http.StatusFound)
	})
}
