package auth

import (
	"net/url"
	"strings"
)

// ValidateNextURLIsLocal returns nextURL if it is a local absolute path, and
// "" otherwise. Backslashes and control characters are rejected outright:
// browsers drop tabs and newlines and treat "\" as "/", which turns forms
// like "/\t/host" into a protocol-relative URL.
func ValidateNextURLIsLocal(nextURL string) string {
	if nextURL == "" || strings.ContainsRune(nextURL, '\\') {
		return ""
	}
	for _, c := range nextURL {
		if c < 0x20 || c == 0x7f {
			return ""
		}
	}
	u, err := url.Parse(nextURL)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Opaque != "" {
		return ""
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") ||
		!strings.HasPrefix(nextURL, "/") || strings.HasPrefix(nextURL, "//") {
		return ""
	}
	return nextURL
}
