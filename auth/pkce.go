package auth

import "golang.org/x/oauth2"

// ChallengeMethod is the only PKCE challenge method this package issues.
const ChallengeMethod = "S256"

// GenerateCodeVerifier returns a fresh PKCE code verifier: 32 random bytes,
// base64url-encoded without padding (43 characters).
func GenerateCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// GenerateCodeChallenge derives the S256 challenge for verifier.
func GenerateCodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
