package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const keySalt = "wildwatch/session/v1"

// Keys are independent subkeys derived from the portal session secret.
type Keys struct {
	ClientCookie []byte
	Fingerprint  []byte
}

// DeriveKeys expands secret into purpose-bound keys with HKDF-SHA256.
func DeriveKeys(secret string) (Keys, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Keys{}, errors.New("auth: session secret is not configured")
	}
	cookieKey, err := expand(secret, "client-cookie")
	if err != nil {
		return Keys{}, err
	}
	fpKey, err := expand(secret, "token-fingerprint")
	if err != nil {
		return Keys{}, err
	}
	return Keys{ClientCookie: cookieKey, Fingerprint: fpKey}, nil
}

func expand(secret, info string) ([]byte, error) {
	out := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(keySalt), []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Fingerprint returns a keyed digest of token, safe to use as a cache key.
func Fingerprint(key []byte, token string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
