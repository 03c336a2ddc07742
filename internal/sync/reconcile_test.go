package sync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/arialgardner/techno-canvas/internal/delta"
	"github.com/arialgardner/techno-canvas/internal/oplog"
	"github.com/arialgardner/techno-canvas/internal/remote"
	"github.com/arialgardner/techno-canvas/internal/sequence"
	"github.com/arialgardner/techno-canvas/internal/shape"
	"github.com/arialgardner/techno-canvas/internal/sync"
)

func TestReconcile_AddsRemoteOnlyShapes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "alice", nil, nil)
	ctx := context.Background()

	// A shape lands in the document store behind the engine's back, as if a
	// feed event was missed.
	s := shape.NewRectangle("r1", 0, 0, 10, 10)
	s[shape.FieldLastModifiedAt] = time.Now().UnixMilli()
	require.NoError(t, h.docs.PutShape(ctx, "c1", "r1", s))

	require.NoError(t, h.engine.Reconcile(ctx))

	if _, ok := h.engine.Shapes().Get("r1"); !ok {
		t.Error("expected remote-only shape added locally")
	}
}

func TestReconcile_NewerRemoteWins(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "alice", nil, nil)
	ctx := context.Background()

	_, err := h.engine.Apply(ctx, oplog.TypeCreate, "r1",
		delta.Diff(nil, shape.NewRectangle("r1", 0, 0, 10, 10)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.engine.PredictionStats().Pending == 0
	}, time.Second, 5*time.Millisecond)

	// A peer's newer write reaches the document store directly.
	local, _ := h.engine.Shapes().Get("r1")
	newer := local.Clone()
	newer[shape.FieldX] = 300.0
	newer[shape.FieldLastModifiedAt] = local.LastModifiedAt() + 1000
	require.NoError(t, h.docs.PutShape(ctx, "c1", "r1", newer))

	require.NoError(t, h.engine.Reconcile(ctx))

	s, _ := h.engine.Shapes().Get("r1")
	if x, _ := shape.Number(s[shape.FieldX]); x != 300 {
		t.Errorf("expected newer remote x 300, got %v", x)
	}
}

func TestReconcile_OlderRemoteRepushed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "alice", nil, nil)
	ctx := context.Background()

	_, err := h.engine.Apply(ctx, oplog.TypeCreate, "r1",
		delta.Diff(nil, shape.NewRectangle("r1", 0, 0, 10, 10)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.engine.PredictionStats().Pending == 0
	}, time.Second, 5*time.Millisecond)

	// The document store regresses to an older version, as if a write was
	// lost server-side.
	local, _ := h.engine.Shapes().Get("r1")
	older := local.Clone()
	older[shape.FieldX] = -50.0
	older[shape.FieldLastModifiedAt] = local.LastModifiedAt() - 5000
	require.NoError(t, h.docs.PutShape(ctx, "c1", "r1", older))

	require.NoError(t, h.engine.Reconcile(ctx))

	// Local state is untouched and the newer version is re-queued.
	s, _ := h.engine.Shapes().Get("r1")
	if x, _ := shape.Number(s[shape.FieldX]); x != 0 {
		t.Errorf("expected local x preserved, got %v", x)
	}

	require.Eventually(t, func() bool {
		stored, _ := h.docs.Shapes(ctx, "c1")
		x, _ := shape.Number(stored["r1"][shape.FieldX])

		return x == 0
	}, time.Second, 5*time.Millisecond)
}

func TestReconcile_RemovesRemotelyDeletedShapes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "alice", nil, nil)
	ctx := context.Background()

	_, err := h.engine.Apply(ctx, oplog.TypeCreate, "r1",
		delta.Diff(nil, shape.NewRectangle("r1", 0, 0, 10, 10)))
	require.NoError(t, err)

	// Wait until the create is acknowledged, then delete it remotely.
	require.Eventually(t, func() bool {
		return len(h.engine.PendingOperations("r1")) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.docs.DeleteShape(ctx, "c1", "r1"))

	require.NoError(t, h.engine.Reconcile(ctx))

	if _, ok := h.engine.Shapes().Get("r1"); ok {
		t.Error("expected remotely deleted shape removed locally")
	}
}

func TestReconcile_KeepsLocalShapeWithPendingWrite(t *testing.T) {
	t.Parallel()

	// With the document store down, the create stays pending; reconciliation
	// must not mistake the unacknowledged shape for a remote deletion.
	docs := &unavailableDocs{MemoryDocumentStore: remote.NewMemoryDocumentStore()}
	docs.down.Store(true)

	h := newHarnessWithDocs(t, "alice", docs)
	ctx := context.Background()

	_, err := h.Apply(ctx, oplog.TypeCreate, "r1",
		delta.Diff(nil, shape.NewRectangle("r1", 0, 0, 10, 10)))
	require.NoError(t, err)

	require.NoError(t, h.Reconcile(ctx))

	if _, ok := h.Shapes().Get("r1"); !ok {
		t.Error("expected unacknowledged local shape to survive reconciliation")
	}
}

func TestSnapshots_SaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "alice", nil, nil)
	ctx := context.Background()

	_, err := h.engine.Apply(ctx, oplog.TypeCreate, "r1",
		delta.Diff(nil, shape.NewRectangle("r1", 0, 0, 10, 10)))
	require.NoError(t, err)

	require.NoError(t, h.engine.SaveSnapshot(ctx))

	// Wipe local state, then restore from the snapshot.
	h.engine.Shapes().ReplaceAll(nil)

	if h.engine.Shapes().Len() != 0 {
		t.Fatal("expected empty store before restore")
	}

	require.NoError(t, h.engine.LoadSnapshot(ctx))

	if _, ok := h.engine.Shapes().Get("r1"); !ok {
		t.Error("expected shape restored from snapshot")
	}
}

func TestLoadSnapshot_MissingSnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "alice", nil, nil)

	err := h.engine.LoadSnapshot(context.Background())
	if !errors.Is(err, remote.ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestReconcile_DoesNotResurrectPendingDelete(t *testing.T) {
	t.Parallel()

	docs := remote.NewMemoryDocumentStore()

	session, err := sequence.NewSession(sequence.NewMemoryCounterStore())
	require.NoError(t, err)

	// Flush intervals far beyond the test window keep the delete in flight.
	engine, err := sync.NewEngine(sync.Config{
		CanvasID:              "c1",
		UserID:                "alice",
		Session:               session,
		Documents:             docs,
		Ephemeral:             remote.NewMemoryEphemeralStore(),
		Logger:                zerolog.Nop(),
		FlushInterval:         time.Hour,
		PriorityFlushInterval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))

	t.Cleanup(func() {
		_ = engine.Close(context.Background())
		cancel()
	})

	s := shape.NewRectangle("r1", 0, 0, 10, 10)
	s[shape.FieldLastModifiedAt] = time.Now().UnixMilli()
	require.NoError(t, docs.PutShape(ctx, "c1", "r1", s))

	require.NoError(t, engine.Reconcile(ctx))

	if _, ok := engine.Shapes().Get("r1"); !ok {
		t.Fatal("expected remote shape pulled in before the delete")
	}

	_, err = engine.Apply(ctx, oplog.TypeDelete, "r1", nil)
	require.NoError(t, err)

	// The store still holds the shape because nothing flushed yet; the next
	// reconciliation must not bring it back.
	require.NoError(t, engine.Reconcile(ctx))

	if _, ok := engine.Shapes().Get("r1"); ok {
		t.Error("expected shape to stay deleted while its delete is in flight")
	}
}
