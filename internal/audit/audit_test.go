package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := New(path)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	l.now = func() time.Time { return time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC) }
	l.stderr = &strings.Builder{}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(data)
}

func TestLogWritesPipeDelimitedLine(t *testing.T) {
	l, path := newTestLogger(t)
	l.Log(EventAuthSuccess, LevelInfo, "dev1", "authentication successful", "remote=127.0.0.1")

	got := readLog(t, path)
	want := "2026-01-02 15:04:05 | INFO | AUTH_SUCCESS | user=dev1 | authentication successful | remote=127.0.0.1\n"
	if got != want {
		t.Errorf("Log() wrote %q, want %q", got, want)
	}
}

func TestLogOmitsDetailsSeparatorWhenEmpty(t *testing.T) {
	l, path := newTestLogger(t)
	l.Log(EventCommandReceived, LevelInfo, "sess1", "command: touch", "")

	got := readLog(t, path)
	if strings.Contains(got, "| \n") || strings.HasSuffix(strings.TrimSuffix(got, "\n"), "|") {
		t.Errorf("Log() with empty details left a trailing separator: %q", got)
	}
}

func TestLogAuthSuccessAndFailure(t *testing.T) {
	l, path := newTestLogger(t)
	l.LogAuth(true, "dev1", "10.0.0.5")
	l.LogAuth(false, "dev2", "10.0.0.6")

	got := readLog(t, path)
	if !strings.Contains(got, "AUTH_SUCCESS | user=dev1") {
		t.Errorf("missing auth success entry: %q", got)
	}
	if !strings.Contains(got, "AUTH_FAILURE | user=dev2") {
		t.Errorf("missing auth failure entry: %q", got)
	}
}

func TestLogSessionStartAndEnd(t *testing.T) {
	l, path := newTestLogger(t)
	l.LogSession("sess1", "dev1", true)
	l.LogSession("sess1", "dev1", false)

	got := readLog(t, path)
	if !strings.Contains(got, "SESSION_START") || !strings.Contains(got, "SESSION_END") {
		t.Errorf("missing session lifecycle entries: %q", got)
	}
}

func TestLogCriticalLevelAlsoWritesToStderr(t *testing.T) {
	l, path := newTestLogger(t)
	stderr := &strings.Builder{}
	l.stderr = stderr

	l.Log(EventSuspiciousActivity, LevelCritical, "sess1", "repeated auth failures from one address", "")

	if !strings.Contains(stderr.String(), "SUSPICIOUS_ACTIVITY") {
		t.Errorf("expected CRIT-level entry echoed to stderr, got %q", stderr.String())
	}

	_ = readLog(t, path) // sanity: file write did not error
}

func TestLogWarningLevelDoesNotWriteToStderr(t *testing.T) {
	l, _ := newTestLogger(t)
	stderr := &strings.Builder{}
	l.stderr = stderr

	l.LogPermissionDenied("sess1", "controller lacks macro permission")

	if stderr.String() != "" {
		t.Errorf("expected WARN-level entry not echoed to stderr, got %q", stderr.String())
	}
}

func TestFlushForcesDurableWrite(t *testing.T) {
	l, path := newTestLogger(t)
	l.LogAuth(true, "dev1", "10.0.0.5")

	if err := l.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	got := readLog(t, path)
	if !strings.Contains(got, "AUTH_SUCCESS | user=dev1") {
		t.Errorf("expected entry durable after Flush(), got %q", got)
	}
}

func TestCloseIsIdempotentSafeToDeferTwice(t *testing.T) {
	l, _ := newTestLogger(t)
	if err := l.Close(); err != nil {
		t.Fatalf("first Close() error: %v", err)
	}
}
