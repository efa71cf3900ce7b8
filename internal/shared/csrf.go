package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

const (
	// CSRFSessionKey is the key used to persist tokens in the session store.
	CSRFSessionKey = "csrf_token"
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrf_token"
	// CSRFHeader is the header alternative to the form field.
	CSRFHeader = "X-CSRF-Token"
)

// TokenHolder is the slice of session behaviour the CSRF manager relies on.
type TokenHolder interface {
	SessionID() string
	Get(key string) string
	Set(key, value string)
}

// CSRFManager issues and verifies CSRF tokens bound to a session.
type CSRFManager struct {
	secret  []byte
	enabled bool
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
// A disabled manager issues no tokens and accepts every request.
func NewCSRFManager(secret string, enabled bool) *CSRFManager {
	return &CSRFManager{secret: []byte(secret), enabled: enabled}
}

// Enabled reports whether tokens are enforced.
func (m *CSRFManager) Enabled() bool {
	return m != nil && m.enabled
}

// EnsureToken retrieves or generates a CSRF token for the session.
func (m *CSRFManager) EnsureToken(ctx context.Context, sess TokenHolder) (string, error) {
	if !m.Enabled() {
		return "", nil
	}
	if sess == nil {
		return "", errors.New("session missing")
	}
	if token := sess.Get(CSRFSessionKey); token != "" {
		return token, nil
	}
	token := m.generateToken(sess.SessionID())
	sess.Set(CSRFSessionKey, token)
	return token, nil
}

// VerifyToken compares the supplied token with the session token.
func (m *CSRFManager) VerifyToken(ctx context.Context, sess TokenHolder, token string) error {
	if !m.Enabled() {
		return nil
	}
	if sess == nil {
		return ErrCSRFTokenMissing
	}
	expected := sess.Get(CSRFSessionKey)
	if expected == "" {
		return ErrCSRFTokenMissing
	}
	if token == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

func (m *CSRFManager) generateToken(sessionID string) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(sessionID))
	_, _ = mac.Write([]byte{'|'})
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(time.Now().UnixNano()))
	_, _ = mac.Write(buf)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
