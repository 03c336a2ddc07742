// Package editlock gates concurrent free-text editing of a single shape so
// two users cannot type into the same text box at once. This is the only
// true mutex in the system; every other conflict resolves by timestamp.
// The lock is a lease in the ephemeral store, so an ungraceful disconnect
// releases it without any client cooperation.
package editlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arialgardner/techno-canvas/internal/remote"
)

// Common errors.
var (
	ErrLockHeld    = errors.New("shape is locked by another user")
	ErrNotHolder   = errors.New("lock is not held by this user")
	ErrLockMissing = errors.New("lock not held")
)

// DefaultTTL is the lock lease duration; holders refresh well inside it.
const DefaultTTL = 10 * time.Second

// holder is the persisted lock record.
type holder struct {
	UserID     string `json:"userId"`
	AcquiredAt int64  `json:"acquiredAt"` // unix milliseconds
}

// Path returns the ephemeral path of a shape's edit lock.
func Path(canvasID, shapeID string) string {
	return fmt.Sprintf("canvas/%s/locks/%s", canvasID, shapeID)
}

// Config configures a lock manager.
type Config struct {
	Store    remote.EphemeralStore
	CanvasID string
	UserID   string
	TTL      time.Duration
}

// Manager acquires, refreshes and releases this user's edit locks.
type Manager struct {
	store    remote.EphemeralStore
	canvasID string
	userID   string
	ttl      time.Duration
}

// NewManager creates a lock manager for one user on one canvas.
func NewManager(cfg Config) *Manager {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return &Manager{
		store:    cfg.Store,
		canvasID: cfg.CanvasID,
		userID:   cfg.UserID,
		ttl:      ttl,
	}
}

// Holder returns the user currently holding the shape's lock, or
// ErrLockMissing when it is free.
func (m *Manager) Holder(ctx context.Context, shapeID string) (string, error) {
	path := Path(m.canvasID, shapeID)

	records, err := m.store.List(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read lock: %w", err)
	}

	payload, ok := records[path]
	if !ok {
		return "", ErrLockMissing
	}

	var h holder
	if err := json.Unmarshal(payload, &h); err != nil {
		return "", fmt.Errorf("decode lock: %w", err)
	}

	return h.UserID, nil
}

// Acquire takes the shape's edit lock, failing with ErrLockHeld when
// another user holds a live lease. Re-acquiring one's own lock refreshes
// it. The check-then-set is best effort; the lock protects a human-speed
// interaction, not a data invariant.
func (m *Manager) Acquire(ctx context.Context, shapeID string) error {
	current, err := m.Holder(ctx, shapeID)

	switch {
	case errors.Is(err, ErrLockMissing):
		// Free.
	case err != nil:
		return err
	case current != m.userID:
		return ErrLockHeld
	}

	return m.write(ctx, shapeID)
}

// Refresh extends the lease of a lock this user holds.
func (m *Manager) Refresh(ctx context.Context, shapeID string) error {
	current, err := m.Holder(ctx, shapeID)
	if err != nil {
		return err
	}

	if current != m.userID {
		return ErrNotHolder
	}

	return m.write(ctx, shapeID)
}

// Release drops the lock if this user holds it. Releasing a free lock is a
// no-op.
func (m *Manager) Release(ctx context.Context, shapeID string) error {
	current, err := m.Holder(ctx, shapeID)
	if errors.Is(err, ErrLockMissing) {
		return nil
	}

	if err != nil {
		return err
	}

	if current != m.userID {
		return ErrNotHolder
	}

	return m.store.Delete(ctx, Path(m.canvasID, shapeID))
}

// write sets or refreshes the lease record.
func (m *Manager) write(ctx context.Context, shapeID string) error {
	payload, err := json.Marshal(holder{
		UserID:     m.userID,
		AcquiredAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode lock: %w", err)
	}

	return m.store.SetLease(ctx, Path(m.canvasID, shapeID), payload, m.ttl)
}
