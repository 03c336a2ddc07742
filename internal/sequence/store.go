package sequence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// State is the persisted per-device session state.
type State struct {
	ClientID string `json:"clientId"`
	Counter  uint64 `json:"counter"`
}

// CounterStore persists session state so sequence numbers survive reloads.
type CounterStore interface {
	// Load returns the stored state, or the zero State when none exists.
	Load() (State, error)

	// Save persists the state.
	Save(State) error
}

// MemoryCounterStore keeps session state in memory. Useful for testing.
type MemoryCounterStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{}
}

// Load returns the stored state.
func (m *MemoryCounterStore) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state, nil
}

// Save persists the state.
func (m *MemoryCounterStore) Save(state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = state

	return nil
}

// FileCounterStore persists session state as a JSON file on disk.
type FileCounterStore struct {
	mu   sync.Mutex
	path string
}

// NewFileCounterStore creates a store backed by the given file path.
func NewFileCounterStore(path string) *FileCounterStore {
	return &FileCounterStore{path: path}
}

// Load reads the stored state. A missing file yields the zero State.
func (f *FileCounterStore) Load() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}

	if err != nil {
		return State{}, fmt.Errorf("read counter file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode counter file: %w", err)
	}

	return state, nil
}

// Save writes the state to disk atomically (write then rename).
func (f *FileCounterStore) Save(state State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode counter state: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write counter file: %w", err)
	}

	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace counter file: %w", err)
	}

	return nil
}

// Ensure implementations satisfy CounterStore.
var (
	_ CounterStore = (*MemoryCounterStore)(nil)
	_ CounterStore = (*FileCounterStore)(nil)
)
