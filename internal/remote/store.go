// Package remote defines the two external collaborators the sync engine
// depends on: a strongly consistent document store holding authoritative
// per-shape records, and a low-latency ephemeral store broadcasting
// short-lived state (cursors, presence, the operation feed, edit locks).
// In-memory implementations live here; Postgres and Redis backends live in
// internal/pgstore and internal/redistore.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/arialgardner/techno-canvas/internal/shape"
)

// Common errors.
var (
	ErrBulkTooLarge     = errors.New("bulk write exceeds maximum batch size")
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrRejected marks a write the store refused (validation failure).
	// Unlike transient errors it must not be retried; the caller rolls the
	// optimistic local change back instead.
	ErrRejected = errors.New("write rejected by store")
)

// MaxBulkWrites bounds the number of documents a single bulk call may touch.
const MaxBulkWrites = 500

// ShapeWrite is one entry of a bulk document write. A nil Fields value
// deletes the shape record.
type ShapeWrite struct {
	ShapeID string
	Fields  shape.State
}

// Snapshot is a point-in-time capture of a canvas's full shape set.
type Snapshot struct {
	ID        string
	CanvasID  string
	Shapes    map[string]shape.State
	CreatedAt time.Time
}

// DocumentStore is the authoritative, strongly consistent shape storage.
type DocumentStore interface {
	// Shapes returns every live shape record for the canvas.
	Shapes(ctx context.Context, canvasID string) (map[string]shape.State, error)

	// PutShape creates or replaces a single shape record.
	PutShape(ctx context.Context, canvasID, shapeID string, fields shape.State) error

	// DeleteShape removes a shape record. Deleting a missing shape is a no-op.
	DeleteShape(ctx context.Context, canvasID, shapeID string) error

	// BulkWrite applies up to MaxBulkWrites creates/updates/deletes in one
	// round-trip. Returns ErrBulkTooLarge when the batch is over the bound.
	BulkWrite(ctx context.Context, canvasID string, writes []ShapeWrite) error

	// SaveSnapshot persists a point-in-time snapshot of the canvas.
	SaveSnapshot(ctx context.Context, snap Snapshot) error

	// LoadSnapshot returns the most recent snapshot for the canvas.
	// Returns ErrSnapshotNotFound when none exists.
	LoadSnapshot(ctx context.Context, canvasID string) (Snapshot, error)
}

// EventFunc receives a broadcast event. A nil payload signals that the
// record at the path was deleted or its lease expired.
type EventFunc func(path string, payload []byte)

// EphemeralStore is the broadcast channel for short-lived, high-frequency
// state. Records written with a lease are removed by the store itself when
// the lease expires, which is how disconnect cleanup works: no client code
// runs at disconnect, the holder simply stops refreshing.
type EphemeralStore interface {
	// Publish broadcasts a transient payload to subscribers of the path.
	Publish(ctx context.Context, path string, payload []byte) error

	// Subscribe delivers events for the given pattern. A pattern ending in
	// "*" matches every path with that prefix. The returned function
	// cancels the subscription.
	Subscribe(ctx context.Context, pattern string, fn EventFunc) (func(), error)

	// SetLease writes or refreshes a record that the store expires on its
	// own after ttl. Subscribers of the path observe the write.
	SetLease(ctx context.Context, path string, payload []byte, ttl time.Duration) error

	// Delete removes a leased record, notifying subscribers with a nil
	// payload.
	Delete(ctx context.Context, path string) error

	// List returns the live leased records under the prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}
