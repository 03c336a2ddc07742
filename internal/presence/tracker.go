package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arialgardner/techno-canvas/internal/pool"
)

// TrackerConfig configures the incoming side of the channel.
type TrackerConfig struct {
	Pool     *pool.Pool
	CanvasID string
	SelfID   string // own samples are ignored

	HeartbeatInterval time.Duration
	Interpolation     time.Duration
	Logger            zerolog.Logger
}

// Tracker follows every other participant's cursor and presence. Cursor
// targets feed per-user interpolators; presence records older than the
// staleness threshold drop out of the active-user set on their own, so a
// missed offline event heals without any explicit cleanup message.
type Tracker struct {
	poolRef  *pool.Pool
	canvasID string
	selfID   string
	log      zerolog.Logger

	staleAfter    time.Duration
	interpolation time.Duration

	mu       sync.Mutex
	cursors  map[string]*Interpolator
	presence map[string]Record

	cancels []func()
}

// NewTracker creates a tracker with defaults filled in.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	if cfg.Interpolation == 0 {
		cfg.Interpolation = DefaultInterpolation
	}

	return &Tracker{
		poolRef:       cfg.Pool,
		canvasID:      cfg.CanvasID,
		selfID:        cfg.SelfID,
		log:           cfg.Logger,
		staleAfter:    StaleFactor * cfg.HeartbeatInterval,
		interpolation: cfg.Interpolation,
		cursors:       make(map[string]*Interpolator),
		presence:      make(map[string]Record),
	}
}

// Start subscribes to the canvas's cursor and presence paths through the
// connection pool.
func (t *Tracker) Start(ctx context.Context) error {
	unsubCursors, err := t.poolRef.Subscribe(ctx, CursorPattern(t.canvasID), t.onCursor)
	if err != nil {
		return err
	}

	t.cancels = append(t.cancels, unsubCursors)

	unsubPresence, err := t.poolRef.Subscribe(ctx, PresencePattern(t.canvasID), t.onPresence)
	if err != nil {
		return err
	}

	t.cancels = append(t.cancels, unsubPresence)

	return nil
}

// Stop releases the tracker's subscriptions.
func (t *Tracker) Stop() {
	for _, cancel := range t.cancels {
		cancel()
	}

	t.cancels = nil
}

// onCursor handles one cursor event.
func (t *Tracker) onCursor(_ string, payload []byte) {
	if payload == nil {
		return // lease expiry of a cursor; presence staleness governs removal
	}

	cursor, err := decodeCursor(payload)
	if err != nil {
		t.log.Debug().Err(err).Msg("dropping malformed cursor sample")

		return
	}

	if cursor.UserID == t.selfID {
		return
	}

	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	interp, ok := t.cursors[cursor.UserID]
	if !ok {
		interp = NewInterpolator(t.interpolation)
		t.cursors[cursor.UserID] = interp
	}

	interp.SetTarget(cursor.X, cursor.Y, now)
}

// onPresence handles one presence event. A nil payload is the store-side
// cleanup after a disconnect.
func (t *Tracker) onPresence(path string, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if payload == nil {
		for userID, rec := range t.presence {
			if PresencePath(t.canvasID, userID) == path {
				rec.Online = false
				t.presence[userID] = rec
				delete(t.cursors, userID)

				break
			}
		}

		return
	}

	record, err := decodeRecord(payload)
	if err != nil {
		t.log.Debug().Err(err).Msg("dropping malformed presence record")

		return
	}

	if record.UserID == t.selfID {
		return
	}

	t.presence[record.UserID] = record
}

// Seed loads current presence records, e.g. from EphemeralStore.List, so a
// late joiner sees who is already on the canvas.
func (t *Tracker) Seed(records map[string][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, payload := range records {
		record, err := decodeRecord(payload)
		if err != nil || record.UserID == t.selfID {
			continue
		}

		t.presence[record.UserID] = record
	}
}

// ActiveUsers returns users whose presence record is online and fresher
// than the staleness threshold, sorted by id.
func (t *Tracker) ActiveUsers(now time.Time) []string {
	cutoff := now.Add(-t.staleAfter).UnixMilli()

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string

	for userID, rec := range t.presence {
		if rec.Online && rec.LastSeen >= cutoff {
			out = append(out, userID)
		}
	}

	sort.Strings(out)

	return out
}

// CursorAt returns a user's interpolated cursor position at the given time.
func (t *Tracker) CursorAt(userID string, now time.Time) (float64, float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	interp, ok := t.cursors[userID]
	if !ok {
		return 0, 0, false
	}

	x, y := interp.At(now)

	return x, y, true
}
