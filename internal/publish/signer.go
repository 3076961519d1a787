package publish

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTokenInvalid reports a malformed or forged download token.
	ErrTokenInvalid = errors.New("invalid download token")
	// ErrTokenExpired reports a download token past its expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// Signer generates and validates signed download tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns a signer keyed by secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Sign creates a token encoding the object key and expiry.
func (s *Signer) Sign(key string, expiry time.Time) string {
	payload := fmt.Sprintf("%s|%d", key, expiry.Unix())
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + s.mac([]byte(payload))
}

// Verify validates a token and returns the object key it grants.
func (s *Signer) Verify(token string) (string, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", ErrTokenInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrTokenInvalid
	}
	if !hmac.Equal([]byte(sig), []byte(s.mac(payload))) {
		return "", ErrTokenInvalid
	}
	key, expiryRaw, ok := strings.Cut(string(payload), "|")
	if !ok || !validKey(key) {
		return "", ErrTokenInvalid
	}
	expiry, err := strconv.ParseInt(expiryRaw, 10, 64)
	if err != nil {
		return "", ErrTokenInvalid
	}
	if s.now().Unix() > expiry {
		return "", ErrTokenExpired
	}
	return key, nil
}

func (s *Signer) mac(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
