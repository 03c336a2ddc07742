// Package oplog records every final local mutation as an immutable,
// attributable operation, publishes it on the ephemeral operation feed and
// tracks which operations still await acknowledgement from the document
// store.
package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arialgardner/techno-canvas/internal/delta"
	"github.com/arialgardner/techno-canvas/internal/sequence"
	"github.com/arialgardner/techno-canvas/internal/shape"
)

// Common errors.
var (
	ErrOperationExists   = errors.New("operation already appended")
	ErrInterimOperation  = errors.New("interim operations are not persisted")
	ErrEmptyDelta        = errors.New("operation delta is empty")
	ErrMissingDependency = errors.New("oplog requires a session and store")
)

// Type classifies an operation.
type Type string

const (
	TypeCreate Type = "create"
	TypeUpdate Type = "update"
	TypeDelete Type = "delete"
)

// Operation is one ordered, attributable mutation. Base carries the
// pre-image of every field the delta touches, enabling exact inversion.
type Operation struct {
	ID        sequence.OperationID `json:"id"`
	Type      Type                 `json:"type"`
	ShapeID   string               `json:"shapeId"`
	UserID    string               `json:"userId"`
	Delta     delta.Delta          `json:"delta"`
	Base      shape.State          `json:"baseState,omitempty"`
	Final     bool                 `json:"final"`
	Timestamp int64                `json:"timestamp"` // unix milliseconds
}

// FeedPath returns the ephemeral-store path carrying a canvas's operations.
func FeedPath(canvasID string) string {
	return fmt.Sprintf("canvas/%s/ops", canvasID)
}

// PublishFunc broadcasts an encoded operation on the ephemeral feed.
// In practice this is remote.EphemeralStore.Publish.
type PublishFunc func(ctx context.Context, path string, payload []byte) error

// Config holds the log's dependencies.
type Config struct {
	Session  *sequence.Session
	Publish  PublishFunc
	CanvasID string
}

// Log is the client-side view of the append-only operation log.
type Log struct {
	mu       sync.Mutex
	session  *sequence.Session
	publish  PublishFunc
	canvasID string

	pending  map[sequence.OperationID]Operation
	appended map[sequence.OperationID]int64 // id -> append time, unix ms
}

// New creates an operation log for one canvas.
func New(cfg Config) (*Log, error) {
	if cfg.Session == nil || cfg.Publish == nil {
		return nil, ErrMissingDependency
	}

	return &Log{
		session:  cfg.Session,
		publish:  cfg.Publish,
		canvasID: cfg.CanvasID,
		pending:  make(map[sequence.OperationID]Operation),
		appended: make(map[sequence.OperationID]int64),
	}, nil
}

// NewOperation stamps a fresh sequence id and timestamp onto a mutation and
// registers it as pending. The delta must be non-empty.
func (l *Log) NewOperation(t Type, shapeID, userID string, d delta.Delta, base shape.State, final bool) (Operation, error) {
	if len(d) == 0 {
		return Operation{}, ErrEmptyDelta
	}

	id, err := l.session.NextOperationID()
	if err != nil {
		return Operation{}, err
	}

	op := Operation{
		ID:        id,
		Type:      t,
		ShapeID:   shapeID,
		UserID:    userID,
		Delta:     d,
		Base:      base.Clone(),
		Final:     final,
		Timestamp: time.Now().UnixMilli(),
	}

	if final {
		l.mu.Lock()
		l.pending[op.ID] = op
		l.mu.Unlock()
	}

	return op, nil
}

// Append publishes a final operation to the remote feed. The log is
// immutable: appending the same id twice is rejected.
func (l *Log) Append(ctx context.Context, op Operation) error {
	if !op.Final {
		return ErrInterimOperation
	}

	l.mu.Lock()

	if _, exists := l.appended[op.ID]; exists {
		l.mu.Unlock()

		return ErrOperationExists
	}

	l.appended[op.ID] = time.Now().UnixMilli()
	l.mu.Unlock()

	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation: %w", err)
	}

	return l.publish(ctx, FeedPath(l.canvasID), payload)
}

// Decode parses an operation from its feed payload.
func Decode(payload []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(payload, &op); err != nil {
		return Operation{}, fmt.Errorf("decode operation: %w", err)
	}

	return op, nil
}

// Acknowledge removes an operation from the pending set once the
// corresponding document write is confirmed.
func (l *Log) Acknowledge(id sequence.OperationID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.pending, id)
}

// AcknowledgeBefore acknowledges every pending operation for a shape
// created at or before cutoff (unix milliseconds). Returns the count.
func (l *Log) AcknowledgeBefore(shapeID string, cutoff int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0

	for id, op := range l.pending {
		if op.ShapeID == shapeID && op.Timestamp <= cutoff {
			delete(l.pending, id)
			n++
		}
	}

	return n
}

// Pending returns unacknowledged operations, optionally filtered by shape
// (shapeID "" means all), ordered by operation id.
func (l *Log) Pending(shapeID string) []Operation {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Operation

	for _, op := range l.pending {
		if shapeID == "" || op.ShapeID == shapeID {
			out = append(out, op)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return sequence.Compare(out[i].ID, out[j].ID) < 0
	})

	return out
}

// HasPending reports whether the shape has unacknowledged operations.
func (l *Log) HasPending(shapeID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, op := range l.pending {
		if op.ShapeID == shapeID {
			return true
		}
	}

	return false
}

// Prune garbage-collects the local record of appended operations older than
// maxAge, bounding log growth. Returns the number of entries dropped.
func (l *Log) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0

	for id, appendedAt := range l.appended {
		if appendedAt < cutoff {
			delete(l.appended, id)
			dropped++
		}
	}

	return dropped
}
