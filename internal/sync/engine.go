// Package sync is the coordinating module of the engine: it owns the local
// shape store, prediction ledger and operation log as flat id-indexed maps,
// turns local intent into ordered attributable operations, ships them
// through the batched write queue, and heals divergence by last-write-wins
// reconciliation against the document store.
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arialgardner/techno-canvas/internal/canvas"
	"github.com/arialgardner/techno-canvas/internal/delta"
	"github.com/arialgardner/techno-canvas/internal/oplog"
	"github.com/arialgardner/techno-canvas/internal/pool"
	"github.com/arialgardner/techno-canvas/internal/predict"
	"github.com/arialgardner/techno-canvas/internal/remote"
	"github.com/arialgardner/techno-canvas/internal/sequence"
	"github.com/arialgardner/techno-canvas/internal/shape"
)

// Common errors.
var (
	ErrShapeNotFound = errors.New("shape not found")
	ErrEngineClosed  = errors.New("engine is closed")
)

// Engine defaults.
const (
	DefaultReconcileInterval = 30 * time.Second
	DefaultPredictionTimeout = 10 * time.Second
	DefaultPruneMaxAge       = 5 * time.Minute
	DefaultLeakThreshold     = 20
)

// Config holds an engine's dependencies and tuning.
type Config struct {
	CanvasID  string
	UserID    string
	Session   *sequence.Session
	Documents remote.DocumentStore
	Ephemeral remote.EphemeralStore
	Logger    zerolog.Logger

	ReconcileInterval     time.Duration
	PredictionTimeout     time.Duration
	PruneMaxAge           time.Duration
	FlushInterval         time.Duration
	PriorityFlushInterval time.Duration

	// RecoveryPath, when set, receives a crash-recovery snapshot on Close.
	RecoveryPath string
}

// Engine coordinates synchronization for one canvas. Every mutation, from
// direct interaction or any other producer, funnels through Apply; the
// engine is agnostic to mutation origin.
type Engine struct {
	canvasID string
	userID   string
	log      zerolog.Logger

	session *sequence.Session
	shapes  *canvas.Store
	ledger  *predict.Ledger
	ops     *oplog.Log
	queue   *pool.Queue
	conns   *pool.Pool
	docs    remote.DocumentStore

	reconcileInterval time.Duration
	predictionTimeout time.Duration
	pruneMaxAge       time.Duration
	recoveryPath      string

	mu            stdsync.Mutex
	opPredictions map[sequence.OperationID]string
	closed        bool

	triggers    chan string
	unsubscribe func()
	stop        context.CancelFunc
}

// collection returns the write-queue collection name for the canvas.
func (e *Engine) collection() string {
	return fmt.Sprintf("canvas/%s/shapes", e.canvasID)
}

// NewEngine wires an engine from its two remote collaborators.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Session == nil || cfg.Documents == nil || cfg.Ephemeral == nil {
		return nil, errors.New("engine requires a session and both stores")
	}

	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}

	if cfg.PredictionTimeout == 0 {
		cfg.PredictionTimeout = DefaultPredictionTimeout
	}

	if cfg.PruneMaxAge == 0 {
		cfg.PruneMaxAge = DefaultPruneMaxAge
	}

	e := &Engine{
		canvasID:          cfg.CanvasID,
		userID:            cfg.UserID,
		log:               cfg.Logger.With().Str("canvas", cfg.CanvasID).Logger(),
		session:           cfg.Session,
		shapes:            canvas.NewStore(),
		ledger:            predict.NewLedger(),
		docs:              cfg.Documents,
		reconcileInterval: cfg.ReconcileInterval,
		predictionTimeout: cfg.PredictionTimeout,
		pruneMaxAge:       cfg.PruneMaxAge,
		recoveryPath:      cfg.RecoveryPath,
		opPredictions:     make(map[sequence.OperationID]string),
		triggers:          make(chan string, 4),
	}

	ops, err := oplog.New(oplog.Config{
		Session:  cfg.Session,
		Publish:  cfg.Ephemeral.Publish,
		CanvasID: cfg.CanvasID,
	})
	if err != nil {
		return nil, err
	}

	e.ops = ops

	e.conns = pool.New(pool.Config{Store: cfg.Ephemeral, Logger: e.log})

	e.queue = pool.NewQueue(pool.QueueConfig{
		Flush:                 e.flush,
		FlushInterval:         cfg.FlushInterval,
		PriorityFlushInterval: cfg.PriorityFlushInterval,
		Logger:                e.log,
	})

	return e, nil
}

// Start subscribes to the remote operation feed and begins the queue,
// reconciliation and prediction-sweep loops. They stop when ctx is done or
// the engine is closed.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	unsub, err := e.conns.Subscribe(ctx, oplog.FeedPath(e.canvasID), e.handleOpEvent)
	if err != nil {
		cancel()

		return fmt.Errorf("subscribe operation feed: %w", err)
	}

	e.unsubscribe = unsub
	e.stop = cancel

	go e.queue.Run(ctx)
	go e.run(ctx)

	return nil
}

// Apply is the single entry point for local mutations. The delta lands in
// the local shape store synchronously; only final mutations are recorded as
// operations, predicted, and queued for remote persistence. Interim
// mutations during a drag or resize gesture are visual-only.
func (e *Engine) Apply(ctx context.Context, typ oplog.Type, shapeID string, d delta.Delta) (shape.State, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return nil, ErrEngineClosed
	}

	if typ == oplog.TypeDelete {
		return nil, e.applyDelete(ctx, shapeID)
	}

	if len(d) == 0 {
		return nil, oplog.ErrEmptyDelta
	}

	return e.applyUpsert(ctx, typ, shapeID, d)
}

// ApplyInterim applies a gesture-in-progress mutation: local only, never
// persisted, never logged.
func (e *Engine) ApplyInterim(shapeID string, d delta.Delta) (shape.State, error) {
	if len(d) == 0 {
		return nil, oplog.ErrEmptyDelta
	}

	return e.shapes.Apply(shapeID, d), nil
}

// applyUpsert handles final creates and updates.
func (e *Engine) applyUpsert(ctx context.Context, typ oplog.Type, shapeID string, d delta.Delta) (shape.State, error) {
	base, exists := e.shapes.Get(shapeID)

	now := time.Now().UnixMilli()
	next := delta.Apply(base, d)
	next[shape.FieldID] = shapeID
	next[shape.FieldLastModifiedBy] = e.userID
	next[shape.FieldLastModifiedAt] = now

	if !exists {
		typ = oplog.TypeCreate
		next[shape.FieldCreatedBy] = e.userID
		next[shape.FieldCreatedAt] = now
	}

	next = shape.Normalize(next)

	effective := delta.Diff(base, next)
	if len(effective) == 0 {
		return base, nil
	}

	e.shapes.Put(shapeID, next)

	op, err := e.ops.NewOperation(typ, shapeID, e.userID, effective, base, true)
	if err != nil {
		return nil, err
	}

	predictionID := e.ledger.Predict(shapeID, effective, base)

	e.mu.Lock()
	e.opPredictions[op.ID] = predictionID
	e.mu.Unlock()

	// Feed publish failures are transient: the queued document write and
	// the next reconciliation both carry the same state.
	if err := e.ops.Append(ctx, op); err != nil {
		e.log.Warn().Err(err).Str("shape", shapeID).Msg("operation feed publish failed")
	}

	e.queue.QueueWrite(e.collection(), shapeID, next, true)

	return next, nil
}

// applyDelete tombstones a shape everywhere.
func (e *Engine) applyDelete(ctx context.Context, shapeID string) error {
	base, exists := e.shapes.Get(shapeID)
	if !exists {
		return ErrShapeNotFound
	}

	// The delete delta clears every field, so its inverse is the full
	// pre-image and rolling it back resurrects the shape.
	d := make(delta.Delta, len(base))
	for k := range base {
		d[k] = nil
	}

	e.shapes.Remove(shapeID)

	op, err := e.ops.NewOperation(oplog.TypeDelete, shapeID, e.userID, d, base, true)
	if err != nil {
		return err
	}

	predictionID := e.ledger.Predict(shapeID, d, base)

	e.mu.Lock()
	e.opPredictions[op.ID] = predictionID
	e.mu.Unlock()

	if err := e.ops.Append(ctx, op); err != nil {
		e.log.Warn().Err(err).Str("shape", shapeID).Msg("operation feed publish failed")
	}

	e.queue.QueueWrite(e.collection(), shapeID, nil, true)

	return nil
}

// BulkCreate creates many shapes in one gesture, compressing the batch on
// the feed when it is large enough to pay off.
func (e *Engine) BulkCreate(ctx context.Context, shapes []shape.State) error {
	for _, s := range shapes {
		id := s.ID()
		if id == "" {
			return ErrShapeNotFound
		}

		d := delta.Diff(nil, s)
		if _, err := e.applyUpsert(ctx, oplog.TypeCreate, id, d); err != nil {
			return err
		}
	}

	if delta.ShouldCompress(shapes) {
		e.log.Debug().Int("shapes", len(shapes)).
			Int("batches", len(delta.Compress(shapes))).Msg("bulk create compressed")
	}

	return nil
}

// flush ships one coalesced batch to the document store and settles the
// predictions and operations the batch covers.
func (e *Engine) flush(ctx context.Context, _ string, entries []pool.Entry) error {
	writes := make([]remote.ShapeWrite, 0, len(entries))

	for _, en := range entries {
		writes = append(writes, remote.ShapeWrite{ShapeID: en.DocID, Fields: en.Payload})
	}

	for start := 0; start < len(writes); start += remote.MaxBulkWrites {
		end := min(start+remote.MaxBulkWrites, len(writes))

		if err := e.docs.BulkWrite(ctx, e.canvasID, writes[start:end]); err != nil {
			if errors.Is(err, remote.ErrRejected) {
				e.rejectEntries(entries[start:end], err)

				continue
			}

			return err
		}
	}

	for _, en := range entries {
		e.ledger.ConfirmBefore(en.DocID, en.QueuedAt)
		e.ops.AcknowledgeBefore(en.DocID, en.QueuedAt.UnixMilli())
	}

	return nil
}

// rejectEntries handles a store-side validation rejection: the optimistic
// local change is rolled back and the write is not retried.
func (e *Engine) rejectEntries(entries []pool.Entry, cause error) {
	for _, en := range entries {
		e.log.Warn().Err(cause).Str("shape", en.DocID).Msg("write rejected, rolling back")
		e.rollbackShape(en.DocID)
		e.ops.AcknowledgeBefore(en.DocID, en.QueuedAt.UnixMilli())
	}
}

// rollbackShape rolls back every pending prediction for a shape, applying
// the inverses to local state.
func (e *Engine) rollbackShape(shapeID string) {
	for _, p := range e.ledger.Pending(shapeID) {
		inverse, err := e.ledger.Rollback(p.ID)
		if err != nil {
			continue
		}

		e.shapes.Apply(shapeID, inverse)
	}
}

// handleOpEvent processes one operation from the remote feed.
func (e *Engine) handleOpEvent(_ string, payload []byte) {
	op, err := oplog.Decode(payload)
	if err != nil {
		e.log.Debug().Err(err).Msg("dropping malformed operation")

		return
	}

	if e.session.IsLocal(op.ID) {
		// Echo of our own operation coming back around the feed.
		e.mu.Lock()
		predictionID := e.opPredictions[op.ID]
		delete(e.opPredictions, op.ID)
		e.mu.Unlock()

		if predictionID != "" {
			_ = e.ledger.Confirm(predictionID)
		}

		return
	}

	e.applyRemoteOperation(op)
}

// applyRemoteOperation merges a peer's operation by last-write-wins. A
// conflicting remote value that beats a pending prediction rolls the
// prediction back before the remote delta lands.
func (e *Engine) applyRemoteOperation(op oplog.Operation) {
	local, exists := e.shapes.Get(op.ShapeID)

	if exists {
		remoteTS := op.Timestamp
		if ts, ok := shape.Number(op.Delta[shape.FieldLastModifiedAt]); ok {
			remoteTS = int64(ts)
		}

		if remoteTS < local.LastModifiedAt() {
			return // our state is newer; reconciliation settles stragglers
		}

		e.rollbackShape(op.ShapeID)
	}

	e.shapes.ApplyRemote(op.ShapeID, op.Delta)
}

// run drives the periodic loops: reconciliation, prediction expiry,
// operation pruning and leak diagnostics.
func (e *Engine) run(ctx context.Context) {
	reconcile := time.NewTicker(e.reconcileInterval)
	sweep := time.NewTicker(e.sweepInterval())
	prune := time.NewTicker(time.Minute)

	defer reconcile.Stop()
	defer sweep.Stop()
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-e.triggers:
			e.log.Debug().Str("reason", reason).Msg("reconciliation triggered")

			if err := e.Reconcile(ctx); err != nil {
				e.log.Warn().Err(err).Msg("triggered reconciliation failed")
			}
		case <-reconcile.C:
			if err := e.Reconcile(ctx); err != nil {
				e.log.Warn().Err(err).Msg("periodic reconciliation failed")
			}
		case <-sweep.C:
			e.sweepPredictions(time.Now())
		case <-prune.C:
			e.ops.Prune(e.pruneMaxAge)
			e.conns.CheckForLeaks(DefaultLeakThreshold)
		}
	}
}

// sweepInterval derives how often expired predictions are collected.
func (e *Engine) sweepInterval() time.Duration {
	interval := e.predictionTimeout / 4
	if interval < 250*time.Millisecond {
		interval = 250 * time.Millisecond
	}

	return interval
}

// sweepPredictions rolls back predictions that outlived the timeout without
// acknowledgement, restoring local state field by field.
func (e *Engine) sweepPredictions(now time.Time) {
	expired := e.ledger.ExpireBefore(now.Add(-e.predictionTimeout))

	for _, p := range expired {
		e.shapes.Apply(p.ShapeID, p.Inverse)
		e.log.Debug().Str("shape", p.ShapeID).Str("prediction", p.ID).
			Msg("prediction timed out, rolled back")
	}

	if len(expired) == 0 {
		return
	}

	// Drop stale ack correlations for the expired predictions.
	byID := make(map[string]struct{}, len(expired))
	for _, p := range expired {
		byID[p.ID] = struct{}{}
	}

	e.mu.Lock()
	for opID, predictionID := range e.opPredictions {
		if _, gone := byID[predictionID]; gone {
			delete(e.opPredictions, opID)
		}
	}
	e.mu.Unlock()
}

// OnVisibilityRegained requests an immediate reconciliation, called when
// the hosting tab becomes visible again.
func (e *Engine) OnVisibilityRegained() {
	e.trigger("visibility")
}

// OnReconnected requests an immediate reconciliation after the transport
// recovers from an offline or error state.
func (e *Engine) OnReconnected() {
	e.trigger("reconnect")
}

func (e *Engine) trigger(reason string) {
	select {
	case e.triggers <- reason:
	default: // a reconciliation is already queued
	}
}

// Shapes exposes the local shape store for renderers and culling.
func (e *Engine) Shapes() *canvas.Store {
	return e.shapes
}

// PendingOperations returns unacknowledged operations, optionally filtered
// by shape.
func (e *Engine) PendingOperations(shapeID string) []oplog.Operation {
	return e.ops.Pending(shapeID)
}

// PredictionStats returns the ledger's counters.
func (e *Engine) PredictionStats() predict.Stats {
	return e.ledger.Stats()
}

// QueueStats returns the write queue's counters.
func (e *Engine) QueueStats() pool.QueueStats {
	return e.queue.Stats()
}

// PoolStats returns the connection pool's footprint.
func (e *Engine) PoolStats() pool.Stats {
	return e.conns.Stats()
}

// Pool exposes the connection pool so sibling channels (presence) share
// physical streams with the engine.
func (e *Engine) Pool() *pool.Pool {
	return e.conns
}

// Close flushes outstanding writes, stops the background loops, releases
// subscriptions and, when configured, writes the crash-recovery snapshot.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return nil
	}

	e.closed = true
	e.mu.Unlock()

	e.queue.FlushNow(ctx)

	// Stop the queue and reconciliation loops; otherwise they keep mutating
	// state until the context passed to Start dies.
	if e.stop != nil {
		e.stop()
	}

	if e.unsubscribe != nil {
		e.unsubscribe()
	}

	e.conns.Close()

	if e.recoveryPath != "" {
		if err := e.shapes.SaveRecovery(e.recoveryPath, e.canvasID); err != nil {
			return err
		}
	}

	return nil
}
