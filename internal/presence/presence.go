// Package presence runs the second, independent channel: ultra-high-
// frequency pointer positions and online/offline records, throttled on the
// way out, interpolated on the way in, and self-healing through leases.
package presence

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel defaults.
const (
	DefaultActiveInterval    = 50 * time.Millisecond  // between cursor sends while moving
	DefaultIdleInterval      = 400 * time.Millisecond // between cursor sends while idle
	DefaultMinDistance       = 2.0                    // canvas units below which movement is suppressed
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultInterpolation     = 120 * time.Millisecond
)

// StaleFactor scales the heartbeat interval into the staleness threshold: a
// record not refreshed for roughly two heartbeats is considered gone.
const StaleFactor = 2

// Cursor is one pointer sample.
type Cursor struct {
	UserID    string  `json:"userId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	UpdatedAt int64   `json:"updatedAt"` // unix milliseconds
}

// Record is one user's presence entry.
type Record struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen"` // unix milliseconds
}

// CursorPath returns the ephemeral path for one user's cursor.
func CursorPath(canvasID, userID string) string {
	return fmt.Sprintf("canvas/%s/cursors/%s", canvasID, userID)
}

// CursorPattern matches every cursor on a canvas.
func CursorPattern(canvasID string) string {
	return fmt.Sprintf("canvas/%s/cursors/*", canvasID)
}

// PresencePath returns the ephemeral path for one user's presence record.
func PresencePath(canvasID, userID string) string {
	return fmt.Sprintf("canvas/%s/presence/%s", canvasID, userID)
}

// PresencePattern matches every presence record on a canvas.
func PresencePattern(canvasID string) string {
	return fmt.Sprintf("canvas/%s/presence/*", canvasID)
}

func encode(v any) []byte {
	data, _ := json.Marshal(v)

	return data
}

func decodeCursor(payload []byte) (Cursor, error) {
	var c Cursor
	if err := json.Unmarshal(payload, &c); err != nil {
		return Cursor{}, fmt.Errorf("decode cursor: %w", err)
	}

	return c, nil
}

func decodeRecord(payload []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return Record{}, fmt.Errorf("decode presence record: %w", err)
	}

	return r, nil
}
