package pool

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arialgardner/techno-canvas/internal/shape"
)

// Write queue defaults.
const (
	DefaultFlushInterval         = 500 * time.Millisecond
	DefaultPriorityFlushInterval = 100 * time.Millisecond
)

// Entry is one queued document write. A nil Payload deletes the document.
type Entry struct {
	Collection string
	DocID      string
	Payload    shape.State
	Priority   bool
	QueuedAt   time.Time
}

// FlushFunc ships a batch of coalesced writes in one round-trip. Entries in
// a single call share a collection.
type FlushFunc func(ctx context.Context, collection string, entries []Entry) error

// QueueConfig configures a write queue.
type QueueConfig struct {
	Flush                 FlushFunc
	FlushInterval         time.Duration
	PriorityFlushInterval time.Duration
	Logger                zerolog.Logger
}

// Queue coalesces repeated writes to the same (collection, docId) within a
// flush window, keeping only the latest payload. Priority writes flush on
// their own, shorter interval. Without this, a drag gesture emitting dozens
// of interim updates per second would multiply remote write volume.
type Queue struct {
	mu      sync.Mutex
	entries map[string]Entry // key: collection + "\x00" + docID
	flush   FlushFunc
	log     zerolog.Logger

	interval         time.Duration
	priorityInterval time.Duration

	queued    int
	flushed   int
	coalesced int
}

// NewQueue creates a write queue. Run must be started for timed flushing.
func NewQueue(cfg QueueConfig) *Queue {
	interval := cfg.FlushInterval
	if interval == 0 {
		interval = DefaultFlushInterval
	}

	priorityInterval := cfg.PriorityFlushInterval
	if priorityInterval == 0 {
		priorityInterval = DefaultPriorityFlushInterval
	}

	return &Queue{
		entries:          make(map[string]Entry),
		flush:            cfg.Flush,
		log:              cfg.Logger,
		interval:         interval,
		priorityInterval: priorityInterval,
	}
}

// QueueWrite enqueues a write, replacing any queued write for the same
// (collection, docId). Priority sticks: once a key is queued as priority it
// flushes on the priority interval even if a later interim write lands.
func (q *Queue) QueueWrite(collection, docID string, payload shape.State, priority bool) {
	key := collection + "\x00" + docID

	q.mu.Lock()
	defer q.mu.Unlock()

	q.queued++

	prev, exists := q.entries[key]
	if exists {
		q.coalesced++
		priority = priority || prev.Priority
	}

	q.entries[key] = Entry{
		Collection: collection,
		DocID:      docID,
		Payload:    payload.Clone(),
		Priority:   priority,
		QueuedAt:   time.Now(),
	}
}

// Run flushes lanes on their intervals until the context is done, then
// performs a final drain.
func (q *Queue) Run(ctx context.Context) {
	normal := time.NewTicker(q.interval)
	priority := time.NewTicker(q.priorityInterval)

	defer normal.Stop()
	defer priority.Stop()

	for {
		select {
		case <-ctx.Done():
			q.drain(context.Background(), false)

			return
		case <-priority.C:
			q.drain(ctx, true)
		case <-normal.C:
			q.drain(ctx, false)
		}
	}
}

// FlushNow synchronously flushes everything queued, both lanes.
func (q *Queue) FlushNow(ctx context.Context) {
	q.drain(ctx, false)
}

// drain takes the due entries off the queue and ships them grouped by
// collection. With priorityOnly set, normal-lane entries stay queued.
// Failed batches are requeued for the next cycle (transient network
// failures retry, they do not surface as hard errors).
func (q *Queue) drain(ctx context.Context, priorityOnly bool) {
	q.mu.Lock()

	byCollection := make(map[string][]Entry)

	for key, e := range q.entries {
		if priorityOnly && !e.Priority {
			continue
		}

		byCollection[e.Collection] = append(byCollection[e.Collection], e)
		delete(q.entries, key)
	}
	q.mu.Unlock()

	for collection, entries := range byCollection {
		if err := q.flush(ctx, collection, entries); err != nil {
			q.log.Warn().Err(err).Str("collection", collection).
				Int("writes", len(entries)).Msg("flush failed, requeueing")
			q.requeue(entries)

			continue
		}

		q.mu.Lock()
		q.flushed += len(entries)
		q.mu.Unlock()
	}
}

// requeue puts failed entries back unless a newer write already replaced
// them.
func (q *Queue) requeue(entries []Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range entries {
		key := e.Collection + "\x00" + e.DocID
		if _, exists := q.entries[key]; !exists {
			q.entries[key] = e
		}
	}
}

// QueueStats reports write volume and how much coalescing saved.
type QueueStats struct {
	Queued    int // total QueueWrite calls
	Flushed   int // writes actually sent
	Coalesced int // writes absorbed by a newer payload
	Waiting   int // currently queued
}

// Stats returns the queue's counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStats{
		Queued:    q.queued,
		Flushed:   q.flushed,
		Coalesced: q.coalesced,
		Waiting:   len(q.entries),
	}
}
