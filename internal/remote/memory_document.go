package remote

import (
	"context"
	"sync"
	"time"

	"github.com/arialgardner/techno-canvas/internal/shape"
)

// canvasData holds all persisted data for a single canvas.
type canvasData struct {
	shapes   map[string]shape.State
	snapshot *Snapshot
}

// MemoryDocumentStore is an in-process DocumentStore. Useful for testing
// and single-node deployments.
type MemoryDocumentStore struct {
	mu       sync.RWMutex
	canvases map[string]*canvasData
}

// NewMemoryDocumentStore creates an empty in-memory document store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		canvases: make(map[string]*canvasData),
	}
}

// canvas returns the data for a canvas, creating it on first use.
// Callers must hold the write lock.
func (m *MemoryDocumentStore) canvas(canvasID string) *canvasData {
	data, ok := m.canvases[canvasID]
	if !ok {
		data = &canvasData{shapes: make(map[string]shape.State)}
		m.canvases[canvasID] = data
	}

	return data
}

// Shapes returns every live shape record for the canvas.
func (m *MemoryDocumentStore) Shapes(_ context.Context, canvasID string) (map[string]shape.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]shape.State)

	if data, ok := m.canvases[canvasID]; ok {
		for id, s := range data.shapes {
			out[id] = s.Clone()
		}
	}

	return out, nil
}

// PutShape creates or replaces a single shape record.
func (m *MemoryDocumentStore) PutShape(_ context.Context, canvasID, shapeID string, fields shape.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.canvas(canvasID).shapes[shapeID] = fields.Clone()

	return nil
}

// DeleteShape removes a shape record.
func (m *MemoryDocumentStore) DeleteShape(_ context.Context, canvasID, shapeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if data, ok := m.canvases[canvasID]; ok {
		delete(data.shapes, shapeID)
	}

	return nil
}

// BulkWrite applies the writes in one locked pass.
func (m *MemoryDocumentStore) BulkWrite(_ context.Context, canvasID string, writes []ShapeWrite) error {
	if len(writes) > MaxBulkWrites {
		return ErrBulkTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.canvas(canvasID)

	for _, w := range writes {
		if w.Fields == nil {
			delete(data.shapes, w.ShapeID)

			continue
		}

		data.shapes[w.ShapeID] = w.Fields.Clone()
	}

	return nil
}

// SaveSnapshot persists a point-in-time snapshot of the canvas.
func (m *MemoryDocumentStore) SaveSnapshot(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := snap
	cp.Shapes = make(map[string]shape.State, len(snap.Shapes))

	for id, s := range snap.Shapes {
		cp.Shapes[id] = s.Clone()
	}

	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	m.canvas(snap.CanvasID).snapshot = &cp

	return nil
}

// LoadSnapshot returns the most recent snapshot for the canvas.
func (m *MemoryDocumentStore) LoadSnapshot(_ context.Context, canvasID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.canvases[canvasID]
	if !ok || data.snapshot == nil {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return *data.snapshot, nil
}

// Ensure MemoryDocumentStore implements DocumentStore.
var _ DocumentStore = (*MemoryDocumentStore)(nil)
