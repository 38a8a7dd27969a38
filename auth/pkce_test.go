package auth

import (
	"regexp"
	"testing"
)

var base64URLPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestGenerateCodeChallenge_RFC7636Vector(t *testing.T) {
	// RFC 7636, Appendix B.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := GenerateCodeChallenge(verifier); got != want {
		t.Fatalf("challenge = %q, want %q", got, want)
	}
	if GenerateCodeChallenge(verifier) != GenerateCodeChallenge(verifier) {
		t.Fatal("challenge is not deterministic")
	}
}

func TestGenerateCodeVerifier(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		v := GenerateCodeVerifier()
		if len(v) != 43 {
			t.Fatalf("verifier length = %d, want 43", len(v))
		}
		if !base64URLPattern.MatchString(v) {
			t.Fatalf("verifier %q has characters outside the base64url alphabet", v)
		}
		if seen[v] {
			t.Fatalf("duplicate verifier %q", v)
		}
		seen[v] = true

		c := GenerateCodeChallenge(v)
		if len(c) != 43 || !base64URLPattern.MatchString(c) {
			t.Fatalf("challenge %q is not unpadded base64url of a SHA-256 digest", c)
		}
	}
}

func TestGenerateState(t *testing.T) {
	a, b := GenerateState(), GenerateState()
	if len(a) != 64 {
		t.Fatalf("state length = %d, want 64", len(a))
	}
	if !regexp.MustCompile(`^[0-9a-f]+$`).MatchString(a) {
		t.Fatalf("state %q is not lowercase hex", a)
	}
	if a == b {
		t.Fatal("two states are equal")
	}
}

func TestValidateNextURLIsLocal(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/dashboard", "/dashboard"},
		{"/marketplace?q=1", "/marketplace?q=1"},
		{"//evil.example", ""},
		{"/\\evil.example", ""},
		{"https://evil.example/", ""},
		{"dashboard", ""},
		{"/\t/evil.example", ""},
		{"/\n/evil.example", ""},
		{"/\t\\evil.example", ""},
		{"/dash\x7fboard", ""},
		{"/a\\b", ""},
		{"javascript:alert(1)", ""},
		{"/settings/profile#name", "/settings/profile#name"},
	}
	for _, tt := range tests {
		if got := ValidateNextURLIsLocal(tt.in); got != tt.want {
			t.Errorf("ValidateNextURLIsLocal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
