package auth

import (
	"errors"
	"fmt"

	"github.com/asvalue/asvalue-auth/profile"
)

// Failure kinds of the sign-in flow. Each is terminal for the request.
var (
	ErrMissingCode    = errors.New("missing authorization code")
	ErrInvalidState   = errors.New("invalid or expired state")
	ErrProviderDenied = errors.New("provider returned an error")
	ErrTokenExchange  = errors.New("token exchange failed")
	ErrUserInfo       = errors.New("userinfo fetch failed")
	ErrStorageWrite   = errors.New("storage write failed")
)

// ProviderError is an OAuth error reported by the identity provider, either
// on the redirect or in a token endpoint response.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error: %s (description: %s)", e.Code, e.Description)
	}
	return fmt.Sprintf("provider error: %s", e.Code)
}

// ErrorKind maps err to the short code passed to the error page.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrMissingCode):
		return "missing_code"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrProviderDenied):
		return "access_denied"
	case errors.Is(err, ErrTokenExchange):
		return "token_exchange_failed"
	case errors.Is(err, ErrUserInfo):
		return "userinfo_failed"
	case errors.Is(err, profile.ErrUnverifiedEmail):
		return "unverified_email"
	case errors.Is(err, ErrStorageWrite):
		return "storage_failed"
	default:
		return "server_error"
	}
}

// failureMessages are the user-facing texts for each ErrorKind.
var failureMessages = map[string]string{
	"missing_code":          "Google did not return an authorization code. Please try again.",
	"invalid_state":         "This sign-in link has expired or was already used. Please start again.",
	"access_denied":         "Sign-in was cancelled at Google.",
	"token_exchange_failed": "We could not complete sign-in with Google. Please try again.",
	"userinfo_failed":       "We could not read your Google account details. Please try again.",
	"unverified_email":      "Your Google account email address is not verified.",
	"storage_failed":        "Something went wrong on our side. Please try again shortly.",
	"server_error":          "Something went wrong on our side. Please try again shortly.",
}
