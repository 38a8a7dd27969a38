package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("invalid cookie format")
	ErrCookieInvalid = errors.New("invalid cookie")
	ErrCookieConfig  = errors.New("invalid secure cookie configuration")
)

// maxCookieLen bounds the attacker-controlled data we decode.
const maxCookieLen = 4096

// KeySize is the key length required by the default AEAD.
const KeySize = chacha20poly1305.KeySize

// SecureCookie seals values into cookies and opens them again.
type SecureCookie interface {
	Name() string
	Encode(v any, maxAge int) (*http.Cookie, error)
	Decode(c *http.Cookie, v any) error
	// Clear returns a cookie that deletes this cookie in the client.
	Clear() *http.Cookie
}

// AEADCookie is a SecureCookie sealed with an AEAD (XChaCha20-Poly1305 by
// default) over a CBOR payload.
//
// Value format: keyID "." base64url(nonce || ciphertext). The additional data
// binds name, domain, path and the secure flag, so a value cannot be replayed
// under different cookie attributes. All keys in the key set are accepted for
// opening; keyID selects the sealing key, which allows rotation.
type AEADCookie struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite

	keyID string
	aeads map[string]cipher.AEAD

	newAEAD func([]byte) (cipher.AEAD, error)
}

// CookieOption configures an AEADCookie.
type CookieOption func(*AEADCookie)

// WithPath sets the cookie path. Default "/".
func WithPath(path string) CookieOption {
	return func(c *AEADCookie) { c.path = path }
}

// WithDomain sets the cookie domain.
func WithDomain(domain string) CookieOption {
	return func(c *AEADCookie) { c.domain = domain }
}

// WithSecure sets the Secure flag. Default true.
func WithSecure(secure bool) CookieOption {
	return func(c *AEADCookie) { c.secure = secure }
}

// WithSameSite sets the SameSite attribute. Default Lax.
func WithSameSite(s http.SameSite) CookieOption {
	return func(c *AEADCookie) { c.sameSite = s }
}

// WithAEAD replaces the AEAD constructor (e.g. AES-GCM).
func WithAEAD(f func([]byte) (cipher.AEAD, error)) CookieOption {
	return func(c *AEADCookie) { c.newAEAD = f }
}

// NewSecureCookie returns an AEADCookie named name that seals with keys[keyID].
func NewSecureCookie(name, keyID string, keys map[string][]byte, opts ...CookieOption) (*AEADCookie, error) {
	c := &AEADCookie{
		name:     name,
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
		keyID:    keyID,
		newAEAD:  chacha20poly1305.NewX,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.path == "" {
		c.path = "/"
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty cookie name", ErrCookieConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not in key set", ErrCookieConfig, keyID)
	}

	c.aeads = make(map[string]cipher.AEAD, len(keys))
	for id, k := range keys {
		if id == "" || strings.Contains(id, ".") {
			return nil, fmt.Errorf("%w: invalid key id %q", ErrCookieConfig, id)
		}
		aead, err := c.newAEAD(k)
		if err != nil {
			return nil, fmt.Errorf("%w: key %s: %v", ErrCookieConfig, id, err)
		}
		c.aeads[id] = aead
	}
	return c, nil
}

// Name returns the cookie name.
func (c *AEADCookie) Name() string {
	return c.name
}

func (c *AEADCookie) aad() []byte {
	secure := "f"
	if c.secure {
		secure = "t"
	}
	return []byte(c.name + ":" + c.domain + ":" + c.path + ":" + secure)
}

// Encode seals v into a cookie valid for maxAge seconds.
func (c *AEADCookie) Encode(v any, maxAge int) (*http.Cookie, error) {
	if maxAge <= 0 {
		return nil, ErrCookieInvalid
	}
	plain, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}

	aead := c.aeads[c.keyID]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plain, c.aad())

	return &http.Cookie{
		Name:     c.name,
		Value:    c.keyID + "." + base64.RawURLEncoding.EncodeToString(sealed),
		Path:     c.path,
		Domain:   c.domain,
		MaxAge:   maxAge,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: c.sameSite,
	}, nil
}

// Decode opens ck and unmarshals its payload into v.
func (c *AEADCookie) Decode(ck *http.Cookie, v any) error {
	if ck == nil || len(ck.Value) == 0 || len(ck.Value) > maxCookieLen {
		return ErrCookieFormat
	}
	keyID, enc, ok := strings.Cut(ck.Value, ".")
	if !ok || keyID == "" || enc == "" {
		return ErrCookieFormat
	}
	aead, ok := c.aeads[keyID]
	if !ok {
		return ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return ErrCookieFormat
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, c.aad())
	if err != nil {
		return ErrCookieInvalid
	}
	return cbor.Unmarshal(plain, v)
}

// Clear returns a cookie that deletes this cookie in the client.
func (c *AEADCookie) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     c.path,
		Domain:   c.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: c.sameSite,
	}
}

var _ SecureCookie = (*AEADCookie)(nil)
