package remote

import (
	"context"
	"strings"
	"sync"
	"time"
)

// leaseRecord is a value that expires unless refreshed.
type leaseRecord struct {
	payload   []byte
	expiresAt time.Time
}

// subscriber is one registered event callback.
type subscriber struct {
	pattern string
	fn      EventFunc
}

// MemoryEphemeralStore is an in-process EphemeralStore. Lease expiry is
// enforced by the store itself, mirroring the server-side cleanup a remote
// ephemeral store performs for disconnected clients.
type MemoryEphemeralStore struct {
	mu          sync.RWMutex
	records     map[string]leaseRecord
	subscribers map[int]subscriber
	nextSub     int
}

// NewMemoryEphemeralStore creates an empty in-memory ephemeral store.
func NewMemoryEphemeralStore() *MemoryEphemeralStore {
	return &MemoryEphemeralStore{
		records:     make(map[string]leaseRecord),
		subscribers: make(map[int]subscriber),
	}
}

// matches reports whether a concrete path matches a subscription pattern.
func matches(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}

	return pattern == path
}

// notify dispatches an event to matching subscribers. Callbacks run on the
// caller's goroutine without the store lock held.
func (m *MemoryEphemeralStore) notify(path string, payload []byte) {
	m.mu.RLock()
	fns := make([]EventFunc, 0, len(m.subscribers))

	for _, sub := range m.subscribers {
		if matches(sub.pattern, path) {
			fns = append(fns, sub.fn)
		}
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(path, payload)
	}
}

// Publish broadcasts a transient payload to subscribers of the path.
func (m *MemoryEphemeralStore) Publish(_ context.Context, path string, payload []byte) error {
	m.notify(path, payload)

	return nil
}

// Subscribe delivers events for the given pattern until the returned cancel
// function is called.
func (m *MemoryEphemeralStore) Subscribe(_ context.Context, pattern string, fn EventFunc) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = subscriber{pattern: pattern, fn: fn}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.subscribers, id)
	}, nil
}

// SetLease writes or refreshes an expiring record and notifies subscribers.
func (m *MemoryEphemeralStore) SetLease(_ context.Context, path string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.records[path] = leaseRecord{
		payload:   append([]byte(nil), payload...),
		expiresAt: time.Now().Add(ttl),
	}
	m.mu.Unlock()

	m.notify(path, payload)

	return nil
}

// Delete removes a leased record, notifying subscribers with a nil payload.
func (m *MemoryEphemeralStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	_, existed := m.records[path]
	delete(m.records, path)
	m.mu.Unlock()

	if existed {
		m.notify(path, nil)
	}

	return nil
}

// List returns the live leased records under the prefix. Expired records
// are dropped on the way out.
func (m *MemoryEphemeralStore) List(_ context.Context, prefix string) (map[string][]byte, error) {
	now := time.Now()
	out := make(map[string][]byte)

	m.mu.Lock()
	defer m.mu.Unlock()

	for path, rec := range m.records {
		if !strings.HasPrefix(path, prefix) {
			continue
		}

		if now.After(rec.expiresAt) {
			delete(m.records, path)

			continue
		}

		out[path] = append([]byte(nil), rec.payload...)
	}

	return out, nil
}

// Sweep expires overdue leases and notifies subscribers, as a remote store
// would after a client disconnects. Returns the number of expired records.
func (m *MemoryEphemeralStore) Sweep(now time.Time) int {
	m.mu.Lock()

	var expired []string

	for path, rec := range m.records {
		if now.After(rec.expiresAt) {
			expired = append(expired, path)
			delete(m.records, path)
		}
	}
	m.mu.Unlock()

	for _, path := range expired {
		m.notify(path, nil)
	}

	return len(expired)
}

// Ensure MemoryEphemeralStore implements EphemeralStore.
var _ EphemeralStore = (*MemoryEphemeralStore)(nil)
