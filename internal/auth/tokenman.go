// Package auth gates the initial handshake between a newly-dialed sender
// and a receiver's listen socket with a short-lived one-time password,
// issued out-of-band through the admin console.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

const (
	OtpLength     = 16
	OtpExpiration = 10 * time.Minute
)

// TokenManager issues and validates one-shot OTPs. An OTP is consumed on
// first successful validation; this is not a transport-level auth
// mechanism (the wire itself stays unauthenticated/unencrypted per the
// spec's transport non-goal) — it only gates who may open a session.
type TokenManager struct {
	mu   sync.Mutex
	otps map[string]time.Time // otp -> expiration
}

func NewTokenManager() *TokenManager {
	return &TokenManager{
		otps: make(map[string]time.Time),
	}
}

// GenerateOtp mints a new OTP valid for OtpExpiration.
func (m *TokenManager) GenerateOtp() string {
	b := make([]byte, OtpLength)
	rand.Read(b)
	otp := base64.URLEncoding.EncodeToString(b)

	m.mu.Lock()
	m.otps[otp] = time.Now().Add(OtpExpiration)
	m.mu.Unlock()

	return otp
}

// ValidateOtp checks and consumes an OTP. A given OTP can only succeed once.
func (m *TokenManager) ValidateOtp(otp string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiration, ok := m.otps[otp]
	if !ok {
		return false
	}

	delete(m.otps, otp)

	return time.Now().Before(expiration)
}

var (
	instance     *TokenManager
	instanceOnce sync.Once
)

// Get returns the process-wide token manager singleton.
func Get() *TokenManager {
	instanceOnce.Do(func() {
		instance = NewTokenManager()
	})
	return instance
}
