package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/arialgardner/techno-canvas/internal/delta"
	"github.com/arialgardner/techno-canvas/internal/remote"
)

// Reconcile re-derives local truth from the document store. For each shape
// present on either side the newer lastModifiedAt wins; remote-only shapes
// are added unless a local delete is still in flight, and local-only shapes
// with no pending operation were deleted remotely and are removed. This is the backstop for missed real-time
// events: correctness never depends on any single feed message arriving,
// only on reconciliation eventually running.
func (e *Engine) Reconcile(ctx context.Context) error {
	remoteShapes, err := e.docs.Shapes(ctx, e.canvasID)
	if err != nil {
		return fmt.Errorf("fetch remote shapes: %w", err)
	}

	local := e.shapes.All()

	var added, updated, removed, pushed int

	for id, rs := range remoteShapes {
		ls, exists := local[id]
		if !exists {
			if e.ops.HasPending(id) {
				// Locally absent with an operation in flight means a local
				// delete the store has not seen yet. Re-adding the remote
				// copy would resurrect the tombstoned shape.
				continue
			}

			e.shapes.Put(id, rs)
			added++

			continue
		}

		switch {
		case rs.LastModifiedAt() > ls.LastModifiedAt():
			e.shapes.ApplyRemote(id, delta.Diff(ls, rs))
			updated++
		case ls.LastModifiedAt() > rs.LastModifiedAt() && !e.ops.HasPending(id):
			// Local is newer but nothing is in flight for it, so the write
			// that carried it must have been lost. Re-send.
			e.queue.QueueWrite(e.collection(), id, ls, false)
			pushed++
		}
	}

	for id := range local {
		if _, exists := remoteShapes[id]; exists {
			continue
		}

		if e.ops.HasPending(id) {
			continue // our create/update has not landed yet
		}

		e.shapes.Remove(id)
		removed++
	}

	if added+updated+removed+pushed > 0 {
		e.log.Info().Int("added", added).Int("updated", updated).
			Int("removed", removed).Int("pushed", pushed).
			Msg("reconciliation applied changes")
	}

	return nil
}

// SaveSnapshot captures the current local shape set as a point-in-time
// snapshot in the document store.
func (e *Engine) SaveSnapshot(ctx context.Context) error {
	snap := remote.Snapshot{
		ID:        ulid.Make().String(),
		CanvasID:  e.canvasID,
		Shapes:    e.shapes.All(),
		CreatedAt: time.Now(),
	}

	if err := e.docs.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot replaces local state with the latest stored snapshot,
// typically before the first reconciliation on a cold start.
func (e *Engine) LoadSnapshot(ctx context.Context) error {
	snap, err := e.docs.LoadSnapshot(ctx, e.canvasID)
	if err != nil {
		return err
	}

	e.shapes.ReplaceAll(snap.Shapes)

	return nil
}
