package sync

import (
	"context"
	stdsync "sync"

	"github.com/rs/zerolog"

	"github.com/arialgardner/techno-canvas/internal/remote"
	"github.com/arialgardner/techno-canvas/internal/sequence"
)

// Manager keeps one running engine per canvas.
type Manager struct {
	mu      stdsync.RWMutex
	engines map[string]*Engine

	// Shared dependencies
	session   *sequence.Session
	userID    string
	documents remote.DocumentStore
	ephemeral remote.EphemeralStore
	logger    zerolog.Logger
}

// ManagerConfig holds the dependencies shared by every engine.
type ManagerConfig struct {
	Session   *sequence.Session
	UserID    string
	Documents remote.DocumentStore
	Ephemeral remote.EphemeralStore
	Logger    zerolog.Logger
}

// NewManager creates an engine registry.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		engines:   make(map[string]*Engine),
		session:   cfg.Session,
		userID:    cfg.UserID,
		documents: cfg.Documents,
		ephemeral: cfg.Ephemeral,
		logger:    cfg.Logger,
	}
}

// GetOrCreate returns the engine for a canvas, starting one on first use.
func (m *Manager) GetOrCreate(ctx context.Context, canvasID string) (*Engine, error) {
	m.mu.RLock()
	engine, exists := m.engines[canvasID]
	m.mu.RUnlock()

	if exists {
		return engine, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock
	if engine, exists = m.engines[canvasID]; exists {
		return engine, nil
	}

	engine, err := NewEngine(Config{
		CanvasID:  canvasID,
		UserID:    m.userID,
		Session:   m.session,
		Documents: m.documents,
		Ephemeral: m.ephemeral,
		Logger:    m.logger,
	})
	if err != nil {
		return nil, err
	}

	if err := engine.Start(ctx); err != nil {
		return nil, err
	}

	m.engines[canvasID] = engine

	return engine, nil
}

// Get returns an existing engine or nil.
func (m *Manager) Get(canvasID string) *Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.engines[canvasID]
}

// Close closes and removes a canvas's engine.
func (m *Manager) Close(ctx context.Context, canvasID string) error {
	m.mu.Lock()
	engine, exists := m.engines[canvasID]

	if !exists {
		m.mu.Unlock()

		return nil
	}

	delete(m.engines, canvasID)
	m.mu.Unlock()

	return engine.Close(ctx)
}

// CloseAll closes every engine.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))

	for _, e := range m.engines {
		engines = append(engines, e)
	}

	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	var lastErr error

	for _, e := range engines {
		if err := e.Close(ctx); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Count returns the number of running engines.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.engines)
}
