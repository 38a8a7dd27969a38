package session

import (
	"net/http"
	"strings"
)

// Unknown is recorded for fingerprint attributes missing from the request.
const Unknown = "unknown"

// Fingerprint holds request attributes used as a weak session-hijack heuristic.
type Fingerprint struct {
	UserAgent string `json:"user_agent"`
	IPAddress string `json:"ip_address"`
	Timezone  string `json:"timezone"`
	Language  string `json:"language"`
}

// NewFingerprint derives a Fingerprint from request headers.
func NewFingerprint(r *http.Request) Fingerprint {
	return Fingerprint{
		UserAgent: orUnknown(r.Header.Get("User-Agent")),
		IPAddress: orUnknown(forwardedIP(r)),
		Timezone:  orUnknown(r.Header.Get("X-Timezone")),
		Language:  orUnknown(r.Header.Get("Accept-Language")),
	}
}

// ValidateFingerprint reports whether current may continue the session
// fingerprinted as stored. Only the user agent is compared; IP addresses
// change routinely on mobile networks.
func ValidateFingerprint(stored, current Fingerprint) bool {
	return stored.UserAgent == current.UserAgent
}

func forwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
