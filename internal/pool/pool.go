// Package pool multiplexes many logical subscriptions onto few physical
// streams and coalesces many small document writes into few round-trips.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/arialgardner/techno-canvas/internal/remote"
)

// Pool refcounts listeners per path: the first subscriber on a path opens
// one physical stream, later subscribers attach to it, and removing the
// last listener tears the stream down.
type Pool struct {
	mu      sync.Mutex
	open    remote.EphemeralStore
	log     zerolog.Logger
	streams map[string]*stream
	nextID  int
	closed  bool
}

// stream is one physical subscription shared by many listeners.
type stream struct {
	cancel    func()
	listeners map[int]remote.EventFunc
}

// Config holds the pool's dependencies.
type Config struct {
	Store  remote.EphemeralStore
	Logger zerolog.Logger
}

// New creates a connection pool over the given ephemeral store.
func New(cfg Config) *Pool {
	return &Pool{
		open:    cfg.Store,
		log:     cfg.Logger,
		streams: make(map[string]*stream),
	}
}

// Subscribe attaches a listener to the path's shared stream, opening the
// physical stream when this is the first listener. The returned function
// detaches only this listener, closing the stream when it was the last.
// Opening retries with exponential backoff until the context is done.
func (p *Pool) Subscribe(ctx context.Context, path string, fn remote.EventFunc) (func(), error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil, fmt.Errorf("pool closed")
	}

	id := p.nextID
	p.nextID++

	st, ok := p.streams[path]
	if ok {
		st.listeners[id] = fn
		p.mu.Unlock()

		return p.unsubscriber(path, id), nil
	}

	st = &stream{listeners: map[int]remote.EventFunc{id: fn}}
	p.streams[path] = st
	p.mu.Unlock()

	cancel, err := p.openStream(ctx, path)
	if err != nil {
		p.mu.Lock()
		delete(p.streams, path)
		p.mu.Unlock()

		return nil, err
	}

	p.mu.Lock()

	// Every listener may have detached (or the pool closed) while the open
	// was in flight. The entry is gone in that case and the fresh physical
	// stream must not outlive it.
	if p.streams[path] != st {
		p.mu.Unlock()
		cancel()

		return func() {}, nil
	}

	st.cancel = cancel
	p.mu.Unlock()

	return p.unsubscriber(path, id), nil
}

// openStream opens the single physical subscription for a path, retrying
// transient failures with backoff.
func (p *Pool) openStream(ctx context.Context, path string) (func(), error) {
	var cancel func()

	operation := func() error {
		var err error
		cancel, err = p.open.Subscribe(ctx, path, func(eventPath string, payload []byte) {
			p.dispatch(path, eventPath, payload)
		})

		return err
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("open stream %s: %w", path, err)
	}

	p.log.Debug().Str("path", path).Msg("physical stream opened")

	return cancel, nil
}

// dispatch fans one event out to every listener on the stream.
func (p *Pool) dispatch(path, eventPath string, payload []byte) {
	p.mu.Lock()
	st, ok := p.streams[path]

	var fns []remote.EventFunc

	if ok {
		fns = make([]remote.EventFunc, 0, len(st.listeners))
		for _, fn := range st.listeners {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(eventPath, payload)
	}
}

// unsubscriber builds the cancel function for one listener.
func (p *Pool) unsubscriber(path string, id int) func() {
	return func() {
		p.mu.Lock()

		st, ok := p.streams[path]
		if !ok {
			p.mu.Unlock()

			return
		}

		delete(st.listeners, id)

		var cancel func()

		if len(st.listeners) == 0 {
			cancel = st.cancel
			delete(p.streams, path)
		}
		p.mu.Unlock()

		if cancel != nil {
			cancel()
			p.log.Debug().Str("path", path).Msg("physical stream closed")
		}
	}
}

// Stats describes the pool's current footprint.
type Stats struct {
	Streams   int
	Listeners int
	PerPath   map[string]int
}

// Stats returns subscription and listener counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{PerPath: make(map[string]int, len(p.streams))}

	for path, st := range p.streams {
		s.Streams++
		s.Listeners += len(st.listeners)
		s.PerPath[path] = len(st.listeners)
	}

	return s
}

// Leak reports a path whose listener count crossed the leak threshold.
type Leak struct {
	Path      string
	Listeners int
}

// CheckForLeaks returns paths with at least threshold listeners, sorted by
// path. Accumulating listeners on one path usually means callers are not
// releasing their subscriptions. Diagnostic only, never fatal.
func (p *Pool) CheckForLeaks(threshold int) []Leak {
	p.mu.Lock()

	var leaks []Leak

	for path, st := range p.streams {
		if len(st.listeners) >= threshold {
			leaks = append(leaks, Leak{Path: path, Listeners: len(st.listeners)})
		}
	}
	p.mu.Unlock()

	sort.Slice(leaks, func(i, j int) bool { return leaks[i].Path < leaks[j].Path })

	for _, leak := range leaks {
		p.log.Warn().Str("path", leak.Path).Int("listeners", leak.Listeners).
			Msg("possible subscription leak")
	}

	return leaks
}

// Close tears down every physical stream.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true

	cancels := make([]func(), 0, len(p.streams))

	for _, st := range p.streams {
		if st.cancel != nil {
			cancels = append(cancels, st.cancel)
		}
	}

	p.streams = make(map[string]*stream)
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
