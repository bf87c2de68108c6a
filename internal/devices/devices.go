// Package devices implements the device registry: the set of mobile
// devices that have been paired with this relay and may authenticate a
// streaming session.
package devices

import (
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Entry is one registered device. SecretHash is a bcrypt hash of the
// device's secret — the registry never stores or compares a secret in the
// clear.
type Entry struct {
	DeviceID     string
	SecretHash   string
	Model        string
	RegisteredAt time.Time
	IsActive     bool
}

// Store is the pluggable backing store a Registry may use to persist
// devices across restarts. The registry's in-memory map is authoritative at
// runtime; Store is consulted only at startup (Load) and written through on
// mutation (Save) on a best-effort basis.
type Store interface {
	Load() ([]Entry, error)
	Save(Entry) error
	Delete(deviceID string) error
}

// Registry is an in-memory, mutex-protected collection of device entries.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
	store   Store
	now     func() time.Time

	// AllowEmptyDeviceID permits Register("", ...) to succeed. Production
	// configuration leaves this false.
	AllowEmptyDeviceID bool
}

// New creates an empty Registry, optionally backed by store. If store is
// non-nil, New loads its entries into memory immediately.
func New(store Store) (*Registry, error) {
	r := &Registry{
		entries: make(map[string]Entry),
		store:   store,
		now:     time.Now,
	}
	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			return nil, err
		}
		for _, e := range loaded {
			r.entries[e.DeviceID] = e
		}
	}
	return r, nil
}

// Register creates a new device entry. It fails iff an entry with deviceID
// already exists, deviceID is empty and AllowEmptyDeviceID is false, or the
// secret cannot be hashed.
func (r *Registry) Register(deviceID, secret, model string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if deviceID == "" && !r.AllowEmptyDeviceID {
		return false
	}
	if _, exists := r.entries[deviceID]; exists {
		return false
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return false
	}

	entry := Entry{
		DeviceID:     deviceID,
		SecretHash:   string(hash),
		Model:        model,
		RegisteredAt: r.now(),
		IsActive:     true,
	}
	r.entries[deviceID] = entry

	if r.store != nil {
		r.store.Save(entry)
	}
	return true
}

// Authenticate reports whether deviceID exists, is active, and secret
// matches its stored hash. bcrypt.CompareHashAndPassword runs in constant
// time with respect to the candidate secret.
func (r *Registry) Authenticate(deviceID, secret string) bool {
	r.mu.Lock()
	entry, ok := r.entries[deviceID]
	r.mu.Unlock()

	if !ok || !entry.IsActive {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(entry.SecretHash), []byte(secret)) == nil
}

// Deactivate marks deviceID inactive. Returns false if it doesn't exist.
func (r *Registry) Deactivate(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[deviceID]
	if !ok {
		return false
	}
	entry.IsActive = false
	r.entries[deviceID] = entry

	if r.store != nil {
		r.store.Save(entry)
	}
	return true
}

// Get returns the entry for deviceID, including deactivated ones.
func (r *Registry) Get(deviceID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[deviceID]
	return entry, ok
}

// List returns every registered entry, active or not.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
