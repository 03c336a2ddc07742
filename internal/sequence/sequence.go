// Package sequence produces the globally-orderable operation identifiers
// that attribute and order every mutation. Ids are {clientID}_{n} where n is
// a per-device counter persisted across restarts.
package sequence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidOperationID is returned when an id cannot be parsed.
var ErrInvalidOperationID = errors.New("invalid operation id")

// OperationID identifies one operation: "{clientID}_{sequenceNumber}".
type OperationID string

// Parse splits an operation id into its client id and sequence number.
func Parse(id OperationID) (string, uint64, error) {
	i := strings.LastIndexByte(string(id), '_')
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidOperationID, id)
	}

	n, err := strconv.ParseUint(string(id[i+1:]), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidOperationID, id)
	}

	return string(id[:i]), n, nil
}

// Compare orders two operation ids: first by client id (a stable tie-break
// across devices), then by sequence number. Unparseable ids fall back to
// lexical order so the result is still total.
func Compare(a, b OperationID) int {
	clientA, seqA, errA := Parse(a)
	clientB, seqB, errB := Parse(b)

	if errA != nil || errB != nil {
		return strings.Compare(string(a), string(b))
	}

	if c := strings.Compare(clientA, clientB); c != 0 {
		return c
	}

	switch {
	case seqA < seqB:
		return -1
	case seqA > seqB:
		return 1
	default:
		return 0
	}
}

// Session scopes a client id and its monotonic counter to one running
// canvas. Multiple canvases (and tests) run with independent sessions
// instead of sharing module-global state.
type Session struct {
	mu       sync.Mutex
	clientID string
	counter  uint64
	store    CounterStore
}

// NewSession loads persisted session state from the store, minting a fresh
// client id when none exists yet. Counter overflow is not handled; a uint64
// is unreachable within a device's lifetime.
func NewSession(store CounterStore) (*Session, error) {
	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load session state: %w", err)
	}

	if state.ClientID == "" {
		state.ClientID = uuid.NewString()

		if err := store.Save(state); err != nil {
			return nil, fmt.Errorf("persist new session: %w", err)
		}
	}

	return &Session{
		clientID: state.ClientID,
		counter:  state.Counter,
		store:    store,
	}, nil
}

// ClientID returns the session's persistent client id.
func (s *Session) ClientID() string {
	return s.clientID
}

// NextOperationID increments the counter, persists it and returns the new
// id. Persisting before returning is what keeps sequence numbers strictly
// increasing across reloads.
func (s *Session) NextOperationID() (OperationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++

	if err := s.store.Save(State{ClientID: s.clientID, Counter: s.counter}); err != nil {
		s.counter--

		return "", fmt.Errorf("persist sequence counter: %w", err)
	}

	return OperationID(fmt.Sprintf("%s_%d", s.clientID, s.counter)), nil
}

// IsLocal reports whether the id was generated by this session.
func (s *Session) IsLocal(id OperationID) bool {
	clientID, _, err := Parse(id)

	return err == nil && clientID == s.clientID
}

// Counter returns the current counter value.
func (s *Session) Counter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counter
}
