package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMissingSecret = errors.New("auth secret is not configured")
)

const maxUserIDLen = 64

// TokenSigner issues and verifies compact HMAC user tokens. A token carries
// the user id and an expiry; the signature binds both.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner returns a signer whose tokens live for ttl.
func NewTokenSigner(secret []byte, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Enabled reports whether a secret is configured.
func (s *TokenSigner) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Issue mints a token for userID.
func (s *TokenSigner) Issue(userID string) (string, error) {
	if !s.Enabled() {
		return "", ErrMissingSecret
	}
	if userID == "" || len(userID) > maxUserIDLen || strings.Contains(userID, ".") {
		return "", fmt.Errorf("issue token: invalid user id %q", userID)
	}

	payload := make([]byte, 8+len(userID))
	binary.BigEndian.PutUint64(payload[:8], uint64(s.now().Add(s.ttl).Unix()))
	copy(payload[8:], userID)

	payloadEnc := base64.RawURLEncoding.EncodeToString(payload)
	sigEnc := base64.RawURLEncoding.EncodeToString(s.sign(payload))
	return payloadEnc + "." + sigEnc, nil
}

// Verify checks the signature and expiry and returns the user id.
func (s *TokenSigner) Verify(token string) (string, error) {
	if !s.Enabled() {
		return "", ErrMissingSecret
	}

	payloadEnc, sigEnc, ok := strings.Cut(token, ".")
	if !ok {
		return "", ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadEnc)
	if err != nil || len(payload) <= 8 {
		return "", ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigEnc)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !hmac.Equal(sig, s.sign(payload)) {
		return "", ErrInvalidToken
	}

	expires := int64(binary.BigEndian.Uint64(payload[:8]))
	if s.now().Unix() > expires {
		return "", ErrInvalidToken
	}
	return string(payload[8:]), nil
}

func (s *TokenSigner) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("pinradar-user|"))
	mac.Write(payload)
	return mac.Sum(nil)[:16]
}
