// Package session implements the session registry: the mapping from a
// streaming device to the set of controllers attached to it, and the idle
// timeout that reaps sessions nobody is using.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a Session's position in its lifecycle.
type State int

const (
	StateNew State = iota
	StateActive
	StateClosed
)

// DefaultIdleTimeout is how long a session may go without traffic before
// cleanup_expired reaps it.
const DefaultIdleTimeout = 300 * time.Second

// Session is one streaming relationship between a device and the
// controllers attached to it. ControllerIDs is a true set: the original
// implementation this registry replaces stored a single controller_id and
// silently dropped earlier joiners when a second controller attached; here
// every joined controller is kept.
type Session struct {
	SessionID     string
	DeviceID      string
	ControllerIDs map[string]struct{}
	CreatedAt     time.Time
	LastActivity  time.Time
	State         State
}

// IsActive reports whether s is in the ACTIVE state.
func (s Session) IsActive() bool {
	return s.State == StateActive
}

// Registry tracks sessions under a single lock. Reads that scan the whole
// map (ByDevice, ByController, CleanupExpired) hold the lock for their
// entire duration, matching the registry's "hold while scanning" contract.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

// New creates an empty Registry with the given idle timeout (DefaultIdleTimeout
// if zero).
func New(idleTimeout time.Duration) *Registry {
	if idleTimeout == 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
}

// Create returns the existing active session for deviceID if one exists
// (idempotent), otherwise mints and stores a new one.
func (r *Registry) Create(deviceID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.DeviceID == deviceID && s.IsActive() {
			return s
		}
	}

	now := r.now()
	s := &Session{
		SessionID:     r.newID(),
		DeviceID:      deviceID,
		ControllerIDs: make(map[string]struct{}),
		CreatedAt:     now,
		LastActivity:  now,
		State:         StateActive,
	}
	r.sessions[s.SessionID] = s
	return s
}

// Join attaches controllerID to sessionID. Fails if the session is missing
// or not active.
func (r *Registry) Join(sessionID, controllerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || !s.IsActive() {
		return false
	}
	s.ControllerIDs[controllerID] = struct{}{}
	s.LastActivity = r.now()
	return true
}

// Get returns the session for sessionID if it exists and is active.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || !s.IsActive() {
		return nil, false
	}
	return s, true
}

// Touch advances sessionID's last-activity timestamp.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		s.LastActivity = r.now()
	}
}

// Close marks sessionID CLOSED and removes it from the registry. Returns
// false if it did not exist.
func (r *Registry) Close(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.State = StateClosed
	delete(r.sessions, sessionID)
	return true
}

// ByDevice returns the active session for deviceID, if any.
func (r *Registry) ByDevice(deviceID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.DeviceID == deviceID && s.IsActive() {
			return s, true
		}
	}
	return nil, false
}

// ByController returns the active session that controllerID has joined, if
// any.
func (r *Registry) ByController(controllerID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if !s.IsActive() {
			continue
		}
		if _, joined := s.ControllerIDs[controllerID]; joined {
			return s, true
		}
	}
	return nil, false
}

// CleanupExpired removes every session whose last activity is older than
// the registry's idle timeout. It returns the session ids it removed.
func (r *Registry) CleanupExpired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var removed []string
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity) > r.idleTimeout {
			s.State = StateClosed
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// RunIdleGC starts a goroutine that calls CleanupExpired on interval until
// stop is closed, invoking onExpired for every session id it reaps (e.g. to
// cascade into stream-router/controller notification). The caller owns the
// returned stop channel and must close it to terminate the goroutine.
func (r *Registry) RunIdleGC(interval time.Duration, onExpired func(sessionID string)) (stop chan struct{}) {
	stop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, id := range r.CleanupExpired() {
					if onExpired != nil {
						onExpired(id)
					}
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}
