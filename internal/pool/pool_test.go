package pool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/arialgardner/techno-canvas/internal/pool"
	"github.com/arialgardner/techno-canvas/internal/remote"
)

// countingStore wraps the memory ephemeral store and counts physical
// subscriptions.
type countingStore struct {
	*remote.MemoryEphemeralStore

	opens  atomic.Int32
	closes atomic.Int32
	fail   atomic.Bool
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryEphemeralStore: remote.NewMemoryEphemeralStore()}
}

func (c *countingStore) Subscribe(ctx context.Context, pattern string, fn remote.EventFunc) (func(), error) {
	if c.fail.Load() {
		return nil, errors.New("stream unavailable")
	}

	cancel, err := c.MemoryEphemeralStore.Subscribe(ctx, pattern, fn)
	if err != nil {
		return nil, err
	}

	c.opens.Add(1)

	return func() {
		c.closes.Add(1)
		cancel()
	}, nil
}

func TestPool_ManyListenersOnePhysicalStream(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newCountingStore()
	p := pool.New(pool.Config{Store: store, Logger: zerolog.Nop()})
	defer p.Close()

	var delivered atomic.Int32

	const listeners = 5

	cancels := make([]func(), 0, listeners)

	for i := 0; i < listeners; i++ {
		cancel, err := p.Subscribe(ctx, "canvas/c1/ops", func(string, []byte) {
			delivered.Add(1)
		})
		require.NoError(t, err)

		cancels = append(cancels, cancel)
	}

	if got := store.opens.Load(); got != 1 {
		t.Errorf("expected 1 physical stream, got %d", got)
	}

	stats := p.Stats()
	if stats.Streams != 1 || stats.Listeners != listeners {
		t.Errorf("unexpected stats %+v", stats)
	}

	// One event fans out to every listener.
	require.NoError(t, store.Publish(ctx, "canvas/c1/ops", []byte("x")))

	if got := delivered.Load(); got != listeners {
		t.Errorf("expected %d deliveries, got %d", listeners, got)
	}

	for _, cancel := range cancels {
		cancel()
	}
}

func TestPool_LastListenerClosesStream(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newCountingStore()
	p := pool.New(pool.Config{Store: store, Logger: zerolog.Nop()})
	defer p.Close()

	cancelA, err := p.Subscribe(ctx, "canvas/c1/ops", func(string, []byte) {})
	require.NoError(t, err)

	cancelB, err := p.Subscribe(ctx, "canvas/c1/ops", func(string, []byte) {})
	require.NoError(t, err)

	cancelA()

	if got := store.closes.Load(); got != 0 {
		t.Errorf("stream closed while a listener remained, closes=%d", got)
	}

	cancelB()

	if got := store.closes.Load(); got != 1 {
		t.Errorf("expected stream closed after last listener left, closes=%d", got)
	}

	if stats := p.Stats(); stats.Streams != 0 {
		t.Errorf("expected no streams, got %+v", stats)
	}
}

func TestPool_DistinctPathsGetDistinctStreams(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newCountingStore()
	p := pool.New(pool.Config{Store: store, Logger: zerolog.Nop()})
	defer p.Close()

	_, err := p.Subscribe(ctx, "canvas/c1/ops", func(string, []byte) {})
	require.NoError(t, err)

	_, err = p.Subscribe(ctx, "canvas/c1/cursors/*", func(string, []byte) {})
	require.NoError(t, err)

	if got := store.opens.Load(); got != 2 {
		t.Errorf("expected 2 physical streams, got %d", got)
	}
}

func TestPool_CancelIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newCountingStore()
	p := pool.New(pool.Config{Store: store, Logger: zerolog.Nop()})
	defer p.Close()

	cancel, err := p.Subscribe(ctx, "canvas/c1/ops", func(string, []byte) {})
	require.NoError(t, err)

	cancel()
	cancel()

	if got := store.closes.Load(); got != 1 {
		t.Errorf("expected a single close, got %d", got)
	}
}

func TestPool_OpenFailureRemovesStreamEntry(t *testing.T) {
	t.Parallel()

	// A context that is already cancelled makes the backoff give up on the
	// first failed attempt instead of retrying.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newCountingStore()
	store.fail.Store(true)

	p := pool.New(pool.Config{Store: store, Logger: zerolog.Nop()})
	defer p.Close()

	if _, err := p.Subscribe(ctx, "canvas/c1/ops", func(string, []byte) {}); err == nil {
		t.Fatal("expected subscribe to fail")
	}

	if stats := p.Stats(); stats.Streams != 0 {
		t.Errorf("failed open left a stream entry: %+v", stats)
	}

	// The path is usable again once the store recovers.
	store.fail.Store(false)

	_, err := p.Subscribe(context.Background(), "canvas/c1/ops", func(string, []byte) {})
	require.NoError(t, err)
}

func TestPool_CheckForLeaks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newCountingStore()
	p := pool.New(pool.Config{Store: store, Logger: zerolog.Nop()})
	defer p.Close()

	for i := 0; i < 4; i++ {
		_, err := p.Subscribe(ctx, "canvas/c1/ops", func(string, []byte) {})
		require.NoError(t, err)
	}

	_, err := p.Subscribe(ctx, "canvas/c1/cursors/*", func(string, []byte) {})
	require.NoError(t, err)

	leaks := p.CheckForLeaks(3)
	if len(leaks) != 1 || leaks[0].Path != "canvas/c1/ops" || leaks[0].Listeners != 4 {
		t.Errorf("unexpected leaks %+v", leaks)
	}

	if leaks := p.CheckForLeaks(10); len(leaks) != 0 {
		t.Errorf("expected no leaks at higher threshold, got %+v", leaks)
	}
}

func TestPool_SubscribeAfterCloseFails(t *testing.T) {
	t.Parallel()

	store := newCountingStore()
	p := pool.New(pool.Config{Store: store, Logger: zerolog.Nop()})

	_, err := p.Subscribe(context.Background(), "canvas/c1/ops", func(string, []byte) {})
	require.NoError(t, err)

	p.Close()

	if got := store.closes.Load(); got != 1 {
		t.Errorf("expected close to tear down streams, closes=%d", got)
	}

	if _, err := p.Subscribe(context.Background(), "canvas/c1/ops", func(string, []byte) {}); err == nil {
		t.Error("expected subscribe on a closed pool to fail")
	}
}

func TestPool_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newCountingStore()
	p := pool.New(pool.Config{Store: store, Logger: zerolog.Nop()})
	defer p.Close()

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < 20; j++ {
				cancel, err := p.Subscribe(ctx, "canvas/c1/ops", func(string, []byte) {})
				if err != nil {
					t.Errorf("unexpected error: %v", err)

					return
				}

				cancel()
			}
		}()
	}

	wg.Wait()

	if stats := p.Stats(); stats.Streams != 0 || stats.Listeners != 0 {
		t.Errorf("expected empty pool after churn, got %+v", stats)
	}
}
