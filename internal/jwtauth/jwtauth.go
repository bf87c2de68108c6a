// Package jwtauth issues and validates the HS256 session tokens that bind a
// controller's join_session request to the device session it is allowed to
// attach to.
package jwtauth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "arcs-server"

// DefaultLifetime is the token validity window used when Manager is
// constructed without an explicit override.
const DefaultLifetime = 24 * time.Hour

// Payload is the set of claims carried by a token, decoded from the
// registered and custom claim fields after successful validation.
type Payload struct {
	DeviceID    string
	SessionID   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Permissions []string
}

type claims struct {
	DeviceID    string   `json:"device_id"`
	SessionID   string   `json:"session_id"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Manager issues and validates JWTs signed with a single process-wide HMAC
// secret, and tracks an in-memory set of explicitly revoked tokens.
type Manager struct {
	secret   []byte
	lifetime time.Duration

	mu       sync.Mutex
	revoked  map[string]struct{}
	now      func() time.Time
	parser   *jwt.Parser
}

// NewManager creates a Manager signing with secret and issuing tokens valid
// for lifetime (DefaultLifetime if zero).
func NewManager(secret []byte, lifetime time.Duration) *Manager {
	if lifetime == 0 {
		lifetime = DefaultLifetime
	}
	m := &Manager{
		secret:   secret,
		lifetime: lifetime,
		revoked:  make(map[string]struct{}),
		now:      time.Now,
	}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	return m
}

// Lifetime returns the token validity window m was constructed with, so
// callers reporting an issued token's expiry (e.g. auth_response's
// expires_at) use the manager's actual configured lifetime rather than
// assuming DefaultLifetime.
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// Generate mints a signed token binding deviceID to sessionID with the
// given permission set.
func (m *Manager) Generate(deviceID, sessionID string, permissions []string) (string, error) {
	now := m.now()
	c := claims{
		DeviceID:    deviceID,
		SessionID:   sessionID,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(m.secret)
}

// Validate returns the decoded Payload iff the signature verifies, the
// issuer matches, the token has not expired, and it is not revoked.
func (m *Manager) Validate(tokenString string) (Payload, bool) {
	if m.isRevoked(tokenString) {
		return Payload{}, false
	}

	var c claims
	token, err := m.parser.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return Payload{}, false
	}
	if c.Issuer != issuer {
		return Payload{}, false
	}

	return Payload{
		DeviceID:    c.DeviceID,
		SessionID:   c.SessionID,
		IssuedAt:    c.IssuedAt.Time,
		ExpiresAt:   c.ExpiresAt.Time,
		Permissions: c.Permissions,
	}, true
}

// Revoke adds tokenString to the in-memory revocation set. Subsequent
// Validate calls for this exact token string will fail.
func (m *Manager) Revoke(tokenString string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[tokenString] = struct{}{}
}

func (m *Manager) isRevoked(tokenString string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[tokenString]
	return ok
}

// IsExpired reports whether tokenString's exp claim is in the past. It does
// not check the signature, revocation, or issuer — only expiry.
func (m *Manager) IsExpired(tokenString string) bool {
	var c claims
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, &c)
	if err != nil {
		return true
	}
	if c.ExpiresAt == nil {
		return true
	}
	return m.now().After(c.ExpiresAt.Time)
}
