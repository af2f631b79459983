// Package session mints and verifies CouchDB-compatible AuthSession cookies.
//
// The value format is CouchDB's own cookie-auth scheme:
//
//	base64url( "{username}:{hexExpiration}:{hmacSignature}" )
//
// where the signature is an HMAC over "{username}:{hexExpiration}" keyed by
// the server secret concatenated with the user's salt. Cookies minted here
// are accepted by CouchDB itself, and cookies minted by CouchDB verify here,
// so the server can validate sessions without a round-trip to the store.
package session

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"
)

// CookieName is the cookie CouchDB's cookie authentication uses.
const CookieName = "AuthSession"

// Algorithm selects the HMAC digest used to sign or verify a cookie.
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
)

// DefaultAlgorithms is the verify-side preference order. CouchDB changed its
// session digest over time, so verification tries each in turn and accepts
// the first match; cookies signed under the older algorithm stay valid.
var DefaultAlgorithms = []Algorithm{SHA256, SHA1}

func (a Algorithm) newHash() func() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New
	default:
		return sha1.New
	}
}

// Mint builds the AuthSession cookie value for username, expiring ttl from
// now. The HMAC key is the raw secret bytes followed by the raw salt bytes;
// the signature algorithm is SHA-1, matching what CouchDB itself mints.
func Mint(username, secret, salt string, ttl time.Duration, now time.Time) string {
	return MintWith(username, secret, salt, ttl, now, SHA1)
}

// MintWith is Mint with an explicit signature algorithm.
func MintWith(username, secret, salt string, ttl time.Duration, now time.Time, alg Algorithm) string {
	exp := now.Add(ttl).Unix()
	hexExp := strings.ToUpper(strconv.FormatInt(exp, 16))

	msg := username + ":" + hexExp
	mac := hmac.New(alg.newHash(), []byte(secret+salt))
	mac.Write([]byte(msg))
	sig := mac.Sum(nil)

	payload := msg + ":" + string(sig)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// SetCookie renders a Set-Cookie header value for a minted cookie. The
// Secure flag is only attached in production so local plaintext HTTP keeps
// working.
func SetCookie(value string, secure bool) string {
	c := CookieName + "=" + value + "; Path=/; HttpOnly"
	if secure {
		c += "; Secure"
	}
	return c
}

// ExpiredCookie renders a Set-Cookie header that clears the session cookie.
func ExpiredCookie(secure bool) string {
	c := CookieName + "=; Path=/; HttpOnly; Max-Age=0"
	if secure {
		c += "; Secure"
	}
	return c
}

// Result is the outcome of verifying a cookie value. On an expired cookie
// Username and Exp are still populated so callers can log who presented it.
type Result struct {
	OK       bool
	Username string
	Exp      time.Time
	Reason   string
}

const (
	reasonBadFormat    = "bad format"
	reasonHMACMismatch = "HMAC mismatch"
	reasonBadHex       = "bad hex"
	reasonExpired      = "expired"
)

// Verify checks a cookie value against the server secret and the user's
// salt, trying each algorithm in order and accepting the first whose digest
// matches (constant-time). The expiration boundary is inclusive: a cookie
// presented exactly at its expiration instant is still valid.
//
// The key is secret bytes plus raw salt bytes, the same construction Mint
// uses.
func Verify(value, secret, salt string, algs []Algorithm, now time.Time) Result {
	if len(algs) == 0 {
		algs = DefaultAlgorithms
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return Result{Reason: reasonBadFormat}
	}

	// Split on the first two colons only: the trailing signature is raw
	// bytes and may itself contain colons.
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 {
		return Result{Reason: reasonBadFormat}
	}
	username, hexExp, sig := parts[0], parts[1], []byte(parts[2])

	msg := username + ":" + hexExp
	key := []byte(secret + salt)

	matched := false
	for _, alg := range algs {
		mac := hmac.New(alg.newHash(), key)
		mac.Write([]byte(msg))
		if subtle.ConstantTimeCompare(mac.Sum(nil), sig) == 1 {
			matched = true
			break
		}
	}
	if !matched {
		return Result{Reason: reasonHMACMismatch}
	}

	expSecs, err := strconv.ParseInt(hexExp, 16, 64)
	if err != nil {
		return Result{Reason: reasonBadHex}
	}
	exp := time.Unix(expSecs, 0)

	if now.After(exp) {
		return Result{Username: username, Exp: exp, Reason: reasonExpired}
	}
	return Result{OK: true, Username: username, Exp: exp}
}

// ParseCookieHeader extracts the AuthSession value from a Cookie header.
// Returns an error when the cookie is absent.
func ParseCookieHeader(header string) (string, error) {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, CookieName+"="); ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("no %s cookie", CookieName)
}
