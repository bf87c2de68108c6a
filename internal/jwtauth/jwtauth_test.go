package jwtauth

import (
	"testing"
	"time"
)

func TestGenerateThenValidateRoundTrips(t *testing.T) {
	m := NewManager([]byte("test-secret"), time.Hour)

	token, err := m.Generate("dev1", "sess1", []string{"touch", "key"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	payload, ok := m.Validate(token)
	if !ok {
		t.Fatal("expected freshly generated token to validate")
	}
	if payload.DeviceID != "dev1" || payload.SessionID != "sess1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRevokedTokenFailsValidation(t *testing.T) {
	m := NewManager([]byte("test-secret"), time.Hour)
	token, _ := m.Generate("dev1", "sess1", nil)

	m.Revoke(token)

	if _, ok := m.Validate(token); ok {
		t.Fatal("expected revoked token to fail validation")
	}
}

func TestExpiredTokenFailsValidation(t *testing.T) {
	m := NewManager([]byte("test-secret"), time.Hour)
	fixed := time.Now()
	m.now = func() time.Time { return fixed }

	token, _ := m.Generate("dev1", "sess1", nil)

	m.now = func() time.Time { return fixed.Add(2 * time.Hour) }
	if _, ok := m.Validate(token); ok {
		t.Fatal("expected expired token to fail validation")
	}
	if !m.IsExpired(token) {
		t.Fatal("expected IsExpired to report true past exp")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	m1 := NewManager([]byte("secret-one"), time.Hour)
	m2 := NewManager([]byte("secret-two"), time.Hour)

	token, _ := m1.Generate("dev1", "sess1", nil)
	if _, ok := m2.Validate(token); ok {
		t.Fatal("expected token signed with a different secret to fail validation")
	}
}
