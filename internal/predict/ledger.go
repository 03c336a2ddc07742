// Package predict is the shadow bookkeeping that lets a local mutation be
// provisionally believed and later confirmed or rolled back. Rollback is
// field-level: the stored inverse restores the pre-prediction value for
// every field the prediction touched, even if other fields changed since.
package predict

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/arialgardner/techno-canvas/internal/delta"
	"github.com/arialgardner/techno-canvas/internal/shape"
)

// Common errors.
var (
	ErrPredictionNotFound = errors.New("prediction not found")
	ErrPredictionSettled  = errors.New("prediction already settled")
)

// Status is the lifecycle state of a prediction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusRolledBack Status = "rolled_back"
)

// Prediction records one provisional mutation awaiting its verdict.
type Prediction struct {
	ID        string
	ShapeID   string
	Delta     delta.Delta
	Inverse   delta.Delta
	Status    Status
	CreatedAt time.Time
}

// Ledger tracks predictions for one canvas. Prediction ids are ULIDs, so
// iteration in id order is creation order.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*Prediction

	confirmed  int
	rolledBack int
}

// NewLedger creates an empty prediction ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries: make(map[string]*Prediction),
	}
}

// Predict records a pending prediction for the delta, computing its inverse
// against the base state, and returns the prediction id.
func (l *Ledger) Predict(shapeID string, d delta.Delta, base shape.State) string {
	p := &Prediction{
		ID:        ulid.Make().String(),
		ShapeID:   shapeID,
		Delta:     d,
		Inverse:   delta.Invert(d, base),
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[p.ID] = p

	return p.ID
}

// Confirm marks a pending prediction confirmed. Local state already
// reflects the delta, so nothing else happens.
func (l *Ledger) Confirm(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.entries[id]
	if !ok {
		return ErrPredictionNotFound
	}

	if p.Status != StatusPending {
		return ErrPredictionSettled
	}

	p.Status = StatusConfirmed
	l.confirmed++

	return nil
}

// ConfirmBefore confirms every pending prediction for a shape created at or
// before the cutoff. Used when a document write acknowledges the shape's
// state as of the time the write was queued; predictions made since stay
// pending.
func (l *Ledger) ConfirmBefore(shapeID string, cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0

	for _, p := range l.entries {
		if p.ShapeID == shapeID && p.Status == StatusPending && !p.CreatedAt.After(cutoff) {
			p.Status = StatusConfirmed
			l.confirmed++
			n++
		}
	}

	return n
}

// Rollback marks a pending prediction rolled back and returns the inverse
// delta for the caller to apply to local state.
func (l *Ledger) Rollback(id string) (delta.Delta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.entries[id]
	if !ok {
		return nil, ErrPredictionNotFound
	}

	if p.Status != StatusPending {
		return nil, ErrPredictionSettled
	}

	p.Status = StatusRolledBack
	l.rolledBack++

	return p.Inverse, nil
}

// Pending returns pending predictions, optionally filtered by shape
// (shapeID "" means all), in creation order.
func (l *Ledger) Pending(shapeID string) []Prediction {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Prediction

	for _, p := range l.entries {
		if p.Status == StatusPending && (shapeID == "" || p.ShapeID == shapeID) {
			out = append(out, *p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// ExpireBefore rolls back every pending prediction created before the
// cutoff and returns them (inverses included) for the caller to apply.
// A prediction that receives no acknowledgement within its timeout fails
// toward consistency, not optimism.
func (l *Ledger) ExpireBefore(cutoff time.Time) []Prediction {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Prediction

	for _, p := range l.entries {
		if p.Status == StatusPending && p.CreatedAt.Before(cutoff) {
			p.Status = StatusRolledBack
			l.rolledBack++
			out = append(out, *p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Stats summarizes the ledger.
type Stats struct {
	Total      int
	Pending    int
	Confirmed  int
	RolledBack int
	Accuracy   float64 // confirmed / (confirmed + rolledBack)
}

// Stats returns prediction counts and accuracy.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		Total:      len(l.entries),
		Confirmed:  l.confirmed,
		RolledBack: l.rolledBack,
	}
	s.Pending = s.Total - s.Confirmed - s.RolledBack

	if settled := s.Confirmed + s.RolledBack; settled > 0 {
		s.Accuracy = float64(s.Confirmed) / float64(settled)
	}

	return s
}
