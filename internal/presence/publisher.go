package presence

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arialgardner/techno-canvas/internal/remote"
)

// PublisherConfig configures the local client's outgoing channel.
type PublisherConfig struct {
	Store    remote.EphemeralStore
	CanvasID string
	UserID   string

	ActiveInterval    time.Duration
	IdleInterval      time.Duration
	MinDistance       float64
	HeartbeatInterval time.Duration
	Logger            zerolog.Logger
}

// Publisher writes this client's cursor samples and presence record.
// Cursor writes are throttled: a shorter interval applies while the pointer
// is actively moving, a longer one while idle, and sub-minimum-distance
// movements are suppressed entirely. Both cursor and presence records are
// leases, so the store drops them by itself if this client vanishes.
type Publisher struct {
	store    remote.EphemeralStore
	canvasID string
	userID   string
	log      zerolog.Logger

	activeInterval time.Duration
	idleInterval   time.Duration
	minDistance    float64
	heartbeat      time.Duration
	leaseTTL       time.Duration

	mu       sync.Mutex
	lastSent time.Time
	lastX    float64
	lastY    float64
	hasLast  bool
}

// NewPublisher creates a publisher with defaults filled in.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.ActiveInterval == 0 {
		cfg.ActiveInterval = DefaultActiveInterval
	}

	if cfg.IdleInterval == 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}

	if cfg.MinDistance == 0 {
		cfg.MinDistance = DefaultMinDistance
	}

	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	return &Publisher{
		store:          cfg.Store,
		canvasID:       cfg.CanvasID,
		userID:         cfg.UserID,
		log:            cfg.Logger,
		activeInterval: cfg.ActiveInterval,
		idleInterval:   cfg.IdleInterval,
		minDistance:    cfg.MinDistance,
		heartbeat:      cfg.HeartbeatInterval,
		leaseTTL:       StaleFactor * cfg.HeartbeatInterval,
	}
}

// SendCursor publishes a pointer sample unless throttling suppresses it.
// Returns whether the sample went out.
func (p *Publisher) SendCursor(ctx context.Context, x, y float64) (bool, error) {
	now := time.Now()

	p.mu.Lock()

	if p.hasLast {
		dist := math.Hypot(x-p.lastX, y-p.lastY)
		elapsed := now.Sub(p.lastSent)

		// Real movement throttles to the active interval; a stationary
		// pointer only re-sends at the idle interval, which keeps the
		// cursor lease fresh without flooding the channel.
		moving := dist >= p.minDistance

		if moving && elapsed < p.activeInterval {
			p.mu.Unlock()

			return false, nil
		}

		if !moving && elapsed < p.idleInterval {
			p.mu.Unlock()

			return false, nil
		}
	}

	p.lastSent = now
	p.lastX = x
	p.lastY = y
	p.hasLast = true
	p.mu.Unlock()

	cursor := Cursor{UserID: p.userID, X: x, Y: y, UpdatedAt: now.UnixMilli()}

	err := p.store.SetLease(ctx, CursorPath(p.canvasID, p.userID), encode(cursor), p.leaseTTL)
	if err != nil {
		return false, err
	}

	return true, nil
}

// RunHeartbeat refreshes the presence record on the heartbeat interval
// until the context is done, then marks the record offline. Missing a
// refresh is harmless: the lease expires and peers drop the record.
func (p *Publisher) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	p.beat(ctx)

	for {
		select {
		case <-ctx.Done():
			// Best effort: ungraceful exits are covered by lease expiry.
			_ = p.store.Delete(context.Background(), PresencePath(p.canvasID, p.userID))

			return
		case <-ticker.C:
			p.beat(ctx)
		}
	}
}

// beat refreshes the presence lease once.
func (p *Publisher) beat(ctx context.Context) {
	record := Record{UserID: p.userID, Online: true, LastSeen: time.Now().UnixMilli()}

	err := p.store.SetLease(ctx, PresencePath(p.canvasID, p.userID), encode(record), p.leaseTTL)
	if err != nil {
		p.log.Debug().Err(err).Msg("presence heartbeat failed")
	}
}
