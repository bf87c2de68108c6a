package session

import (
	"testing"
	"time"
)

func TestCreateIsIdempotentPerDevice(t *testing.T) {
	r := New(0)
	s1 := r.Create("dev1")
	s2 := r.Create("dev1")
	if s1.SessionID != s2.SessionID {
		t.Fatalf("expected idempotent create, got %s and %s", s1.SessionID, s2.SessionID)
	}
}

func TestJoinAddsControllerAsSetNotOverwrite(t *testing.T) {
	r := New(0)
	s := r.Create("dev1")

	if !r.Join(s.SessionID, "ctrl1") {
		t.Fatal("expected join to succeed")
	}
	if !r.Join(s.SessionID, "ctrl2") {
		t.Fatal("expected second join to succeed")
	}

	got, ok := r.Get(s.SessionID)
	if !ok {
		t.Fatal("expected session to be found")
	}
	if len(got.ControllerIDs) != 2 {
		t.Fatalf("expected both controllers retained, got %d", len(got.ControllerIDs))
	}
}

func TestJoinFailsForMissingSession(t *testing.T) {
	r := New(0)
	if r.Join("ghost", "ctrl1") {
		t.Fatal("expected join against missing session to fail")
	}
}

func TestCloseRemovesSession(t *testing.T) {
	r := New(0)
	s := r.Create("dev1")

	if !r.Close(s.SessionID) {
		t.Fatal("expected close to succeed")
	}
	if _, ok := r.Get(s.SessionID); ok {
		t.Fatal("expected closed session to be invisible to Get")
	}
}

func TestCleanupExpiredReapsIdleSessions(t *testing.T) {
	r := New(300 * time.Second)
	fixed := time.Now()
	r.now = func() time.Time { return fixed }

	s := r.Create("dev1")

	r.now = func() time.Time { return fixed.Add(301 * time.Second) }
	removed := r.CleanupExpired()

	if len(removed) != 1 || removed[0] != s.SessionID {
		t.Fatalf("expected session %s to be reaped, got %v", s.SessionID, removed)
	}
	if _, ok := r.Get(s.SessionID); ok {
		t.Fatal("expected reaped session to be gone")
	}
}

func TestByDeviceAndByController(t *testing.T) {
	r := New(0)
	s := r.Create("dev1")
	r.Join(s.SessionID, "ctrl1")

	if got, ok := r.ByDevice("dev1"); !ok || got.SessionID != s.SessionID {
		t.Fatal("expected ByDevice to find the session")
	}
	if got, ok := r.ByController("ctrl1"); !ok || got.SessionID != s.SessionID {
		t.Fatal("expected ByController to find the session")
	}
	if _, ok := r.ByController("ghost"); ok {
		t.Fatal("expected ByController to miss for unjoined controller")
	}
}

func TestAtMostOneActiveSessionPerDevice(t *testing.T) {
	r := New(0)
	s1 := r.Create("dev1")
	r.Close(s1.SessionID)

	s2 := r.Create("dev1")
	if s2.SessionID == s1.SessionID {
		t.Fatal("expected a fresh session id after the prior one closed")
	}

	count := 0
	for range r.sessions {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one active session for dev1, found %d", count)
	}
}
