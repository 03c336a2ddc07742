// Package canvas holds the client's in-memory authoritative shape map.
// Mutations apply synchronously so the UI reflects an edit with zero
// latency; the network never sits on this path.
package canvas

import (
	"sync"

	"github.com/arialgardner/techno-canvas/internal/delta"
	"github.com/arialgardner/techno-canvas/internal/shape"
)

// Store maps shape id to shape state for the active canvas. Remote deltas
// arriving for a shape under active local editing are buffered and applied
// once the edit ends, so a drag never fights a late echo of its own writes.
type Store struct {
	mu       sync.RWMutex
	shapes   map[string]shape.State
	editing  map[string]struct{}
	buffered map[string][]delta.Delta
}

// NewStore creates an empty local shape store.
func NewStore() *Store {
	return &Store{
		shapes:   make(map[string]shape.State),
		editing:  make(map[string]struct{}),
		buffered: make(map[string][]delta.Delta),
	}
}

// Get returns a copy of the shape's state.
func (s *Store) Get(id string) (shape.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.shapes[id]
	if !ok {
		return nil, false
	}

	return state.Clone(), true
}

// All returns a copy of the full shape map.
func (s *Store) All() map[string]shape.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]shape.State, len(s.shapes))

	for id, state := range s.shapes {
		out[id] = state.Clone()
	}

	return out
}

// Len returns the number of live shapes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.shapes)
}

// Apply merges a local delta into the shape, creating it if missing, and
// returns the resulting state. This is the optimistic path: it never blocks
// and never consults the network.
func (s *Store) Apply(id string, d delta.Delta) shape.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := delta.Apply(s.shapes[id], d)

	if len(next) == 0 {
		delete(s.shapes, id)

		return nil
	}

	s.shapes[id] = next

	return next.Clone()
}

// Put replaces a shape's state wholesale.
func (s *Store) Put(id string, state shape.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shapes[id] = state.Clone()
}

// Remove tombstones a shape from the live set.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.shapes, id)
	delete(s.buffered, id)
}

// BeginEdit marks a shape as under active local editing.
func (s *Store) BeginEdit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.editing[id] = struct{}{}
}

// EndEdit clears the editing flag and applies any remote deltas buffered
// while the edit was active, in arrival order. Returns how many applied.
func (s *Store) EndEdit(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.editing, id)

	pending := s.buffered[id]
	delete(s.buffered, id)

	for _, d := range pending {
		s.shapes[id] = delta.Apply(s.shapes[id], d)
	}

	return len(pending)
}

// IsEditing reports whether the shape is under active local editing.
func (s *Store) IsEditing(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.editing[id]

	return ok
}

// ApplyRemote merges a remote delta into the shape. While the shape is
// under active local editing the delta is buffered instead; the return
// value reports whether it applied immediately.
func (s *Store) ApplyRemote(id string, d delta.Delta) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, editing := s.editing[id]; editing {
		s.buffered[id] = append(s.buffered[id], d)

		return false
	}

	next := delta.Apply(s.shapes[id], d)

	if len(next) == 0 {
		delete(s.shapes, id)

		return true
	}

	s.shapes[id] = next

	return true
}

// ReplaceAll swaps in a full shape set, e.g. from a recovery snapshot.
func (s *Store) ReplaceAll(shapes map[string]shape.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shapes = make(map[string]shape.State, len(shapes))

	for id, state := range shapes {
		s.shapes[id] = state.Clone()
	}
}
