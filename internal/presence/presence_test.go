package presence_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/arialgardner/techno-canvas/internal/pool"
	"github.com/arialgardner/techno-canvas/internal/presence"
	"github.com/arialgardner/techno-canvas/internal/remote"
)

func newPublisher(store remote.EphemeralStore) *presence.Publisher {
	return presence.NewPublisher(presence.PublisherConfig{
		Store:             store,
		CanvasID:          "c1",
		UserID:            "alice",
		ActiveInterval:    20 * time.Millisecond,
		IdleInterval:      80 * time.Millisecond,
		MinDistance:       2.0,
		HeartbeatInterval: time.Second,
		Logger:            zerolog.Nop(),
	})
}

func TestSendCursor_FirstSampleAlwaysSends(t *testing.T) {
	t.Parallel()

	store := remote.NewMemoryEphemeralStore()
	pub := newPublisher(store)

	sent, err := pub.SendCursor(context.Background(), 10, 10)
	require.NoError(t, err)

	if !sent {
		t.Error("expected first sample to send")
	}

	records, err := store.List(context.Background(), "canvas/c1/cursors/")
	require.NoError(t, err)

	if len(records) != 1 {
		t.Errorf("expected cursor lease written, got %v", records)
	}
}

func TestSendCursor_MovementThrottledToActiveInterval(t *testing.T) {
	t.Parallel()

	store := remote.NewMemoryEphemeralStore()
	pub := newPublisher(store)
	ctx := context.Background()

	_, err := pub.SendCursor(ctx, 0, 0)
	require.NoError(t, err)

	// A large move immediately after is still inside the active interval.
	sent, err := pub.SendCursor(ctx, 100, 100)
	require.NoError(t, err)

	if sent {
		t.Error("expected movement inside the active interval suppressed")
	}

	time.Sleep(25 * time.Millisecond)

	sent, err = pub.SendCursor(ctx, 100, 100)
	require.NoError(t, err)

	if !sent {
		t.Error("expected movement after the active interval to send")
	}
}

func TestSendCursor_StationaryPointerUsesIdleInterval(t *testing.T) {
	t.Parallel()

	store := remote.NewMemoryEphemeralStore()
	pub := newPublisher(store)
	ctx := context.Background()

	_, err := pub.SendCursor(ctx, 50, 50)
	require.NoError(t, err)

	// Sub-minimum-distance jitter past the active interval: still suppressed,
	// the idle interval governs stationary refreshes.
	time.Sleep(25 * time.Millisecond)

	sent, err := pub.SendCursor(ctx, 50.5, 50.5)
	require.NoError(t, err)

	if sent {
		t.Error("expected jitter below min distance suppressed before idle interval")
	}

	time.Sleep(80 * time.Millisecond)

	sent, err = pub.SendCursor(ctx, 50.5, 50.5)
	require.NoError(t, err)

	if !sent {
		t.Error("expected stationary refresh after idle interval")
	}
}

func TestInterpolator_FirstTargetSnaps(t *testing.T) {
	t.Parallel()

	interp := presence.NewInterpolator(120 * time.Millisecond)
	now := time.Now()

	interp.SetTarget(40, 60, now)

	x, y := interp.At(now)
	if x != 40 || y != 60 {
		t.Errorf("expected snap to (40,60), got (%v,%v)", x, y)
	}
}

func TestInterpolator_LinearEasing(t *testing.T) {
	t.Parallel()

	interp := presence.NewInterpolator(100 * time.Millisecond)
	start := time.Now()

	interp.SetTarget(0, 0, start)
	interp.SetTarget(100, 200, start)

	// Halfway through the window the position is halfway to the target.
	x, y := interp.At(start.Add(50 * time.Millisecond))
	if x != 50 || y != 100 {
		t.Errorf("expected midpoint (50,100), got (%v,%v)", x, y)
	}

	// Past the window it clamps at the target.
	x, y = interp.At(start.Add(time.Second))
	if x != 100 || y != 200 {
		t.Errorf("expected clamp at (100,200), got (%v,%v)", x, y)
	}
}

func TestInterpolator_RetargetEasesFromDisplayedPosition(t *testing.T) {
	t.Parallel()

	interp := presence.NewInterpolator(100 * time.Millisecond)
	start := time.Now()

	interp.SetTarget(0, 0, start)
	interp.SetTarget(100, 0, start)

	// Retarget mid-flight: easing restarts from the displayed position, not
	// from the previous target, so there is no visible jump.
	mid := start.Add(50 * time.Millisecond)
	interp.SetTarget(0, 0, mid)

	x, _ := interp.At(mid)
	if x != 50 {
		t.Errorf("expected easing to restart from displayed x=50, got %v", x)
	}
}

func newTrackerHarness(t *testing.T) (*presence.Tracker, *remote.MemoryEphemeralStore, func()) {
	t.Helper()

	store := remote.NewMemoryEphemeralStore()
	p := pool.New(pool.Config{Store: store, Logger: zerolog.Nop()})

	tracker := presence.NewTracker(presence.TrackerConfig{
		Pool:              p,
		CanvasID:          "c1",
		SelfID:            "self",
		HeartbeatInterval: time.Second,
		Logger:            zerolog.Nop(),
	})

	require.NoError(t, tracker.Start(context.Background()))

	return tracker, store, func() {
		tracker.Stop()
		p.Close()
	}
}

func publishCursor(t *testing.T, store *remote.MemoryEphemeralStore, userID string, x, y float64) {
	t.Helper()

	pub := presence.NewPublisher(presence.PublisherConfig{
		Store:             store,
		CanvasID:          "c1",
		UserID:            userID,
		HeartbeatInterval: time.Second,
		Logger:            zerolog.Nop(),
	})

	_, err := pub.SendCursor(context.Background(), x, y)
	require.NoError(t, err)
}

func TestTracker_FollowsRemoteCursors(t *testing.T) {
	t.Parallel()

	tracker, store, done := newTrackerHarness(t)
	defer done()

	publishCursor(t, store, "bob", 30, 40)

	// Past the easing window the displayed position equals the sample.
	x, y, ok := tracker.CursorAt("bob", time.Now().Add(time.Second))
	if !ok {
		t.Fatal("expected a cursor for bob")
	}

	if x != 30 || y != 40 {
		t.Errorf("expected (30,40), got (%v,%v)", x, y)
	}
}

func TestTracker_IgnoresOwnSamples(t *testing.T) {
	t.Parallel()

	tracker, store, done := newTrackerHarness(t)
	defer done()

	publishCursor(t, store, "self", 1, 1)

	if _, _, ok := tracker.CursorAt("self", time.Now()); ok {
		t.Error("expected own cursor ignored")
	}
}

func TestTracker_PresenceLifecycle(t *testing.T) {
	t.Parallel()

	tracker, store, done := newTrackerHarness(t)
	defer done()

	ctx := context.Background()

	// Bob comes online through a heartbeat lease.
	bob := presence.NewPublisher(presence.PublisherConfig{
		Store:             store,
		CanvasID:          "c1",
		UserID:            "bob",
		HeartbeatInterval: time.Second,
		Logger:            zerolog.Nop(),
	})

	bobCtx, bobStop := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})

	go func() {
		bob.RunHeartbeat(bobCtx)
		close(heartbeatDone)
	}()

	require.Eventually(t, func() bool {
		users := tracker.ActiveUsers(time.Now())

		return len(users) == 1 && users[0] == "bob"
	}, time.Second, 5*time.Millisecond)

	// Graceful exit deletes the record; the tracker marks bob offline.
	bobStop()
	<-heartbeatDone

	require.Eventually(t, func() bool {
		return len(tracker.ActiveUsers(time.Now())) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTracker_StaleRecordsDropOut(t *testing.T) {
	t.Parallel()

	tracker, store, done := newTrackerHarness(t)
	defer done()

	// An online record that was last refreshed long ago.
	require.NoError(t, store.SetLease(context.Background(),
		presence.PresencePath("c1", "ghost"),
		[]byte(`{"userId":"ghost","online":true,"lastSeen":1000}`),
		time.Minute))

	if users := tracker.ActiveUsers(time.Now()); len(users) != 0 {
		t.Errorf("expected stale record excluded, got %v", users)
	}
}

func TestTracker_SeedLoadsExistingRecords(t *testing.T) {
	t.Parallel()

	tracker, _, done := newTrackerHarness(t)
	defer done()

	now := time.Now().UnixMilli()

	tracker.Seed(map[string][]byte{
		presence.PresencePath("c1", "carol"): []byte(
			`{"userId":"carol","online":true,"lastSeen":` + strconv.FormatInt(now, 10) + `}`),
		presence.PresencePath("c1", "self"): []byte(
			`{"userId":"self","online":true,"lastSeen":` + strconv.FormatInt(now, 10) + `}`),
	})

	users := tracker.ActiveUsers(time.Now())
	if len(users) != 1 || users[0] != "carol" {
		t.Errorf("expected seeded carol only, got %v", users)
	}
}
