package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/arialgardner/techno-canvas/internal/shape"
)

// ErrSnapshotStale is returned when a recovery snapshot is older than the
// caller's age threshold and must not be offered.
var ErrSnapshotStale = errors.New("recovery snapshot too old")

// RecoverySnapshot is the crash-recovery capture of a session's shape
// state, written on shutdown and offered back on the next start unless it
// has aged out.
type RecoverySnapshot struct {
	CanvasID string                 `json:"canvasId"`
	Shapes   map[string]shape.State `json:"shapes"`
	SavedAt  time.Time              `json:"savedAt"`
}

// SaveRecovery writes the store's current state to path.
func (s *Store) SaveRecovery(path, canvasID string) error {
	snap := RecoverySnapshot{
		CanvasID: canvasID,
		Shapes:   s.All(),
		SavedAt:  time.Now(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode recovery snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write recovery snapshot: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace recovery snapshot: %w", err)
	}

	return nil
}

// LoadRecovery reads a recovery snapshot, discarding it when older than
// maxAge. A missing file is not an error; the bool reports whether a
// snapshot was loaded.
func LoadRecovery(path string, maxAge time.Duration) (RecoverySnapshot, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return RecoverySnapshot{}, false, nil
	}

	if err != nil {
		return RecoverySnapshot{}, false, fmt.Errorf("read recovery snapshot: %w", err)
	}

	var snap RecoverySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return RecoverySnapshot{}, false, fmt.Errorf("decode recovery snapshot: %w", err)
	}

	if time.Since(snap.SavedAt) > maxAge {
		_ = os.Remove(path)

		return RecoverySnapshot{}, false, ErrSnapshotStale
	}

	return snap, true, nil
}
