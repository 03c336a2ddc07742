// Package pgstore implements the document store contract on Postgres.
// Shape fields are stored as JSONB, one row per shape, and bulk writes go
// out as a single pipelined batch.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arialgardner/techno-canvas/internal/remote"
	"github.com/arialgardner/techno-canvas/internal/shape"
)

// schema is applied by Migrate. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS shapes (
	canvas_id        TEXT   NOT NULL,
	shape_id         TEXT   NOT NULL,
	fields           JSONB  NOT NULL,
	last_modified_at BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (canvas_id, shape_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT        PRIMARY KEY,
	canvas_id  TEXT        NOT NULL,
	shapes     JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS snapshots_canvas_idx
	ON snapshots (canvas_id, created_at DESC);
`

const (
	upsertShapeSQL = `
		INSERT INTO shapes (canvas_id, shape_id, fields, last_modified_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (canvas_id, shape_id)
		DO UPDATE SET fields = EXCLUDED.fields,
		              last_modified_at = EXCLUDED.last_modified_at`

	deleteShapeSQL = `DELETE FROM shapes WHERE canvas_id = $1 AND shape_id = $2`
)

// Store is a Postgres-backed remote.DocumentStore.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	return nil
}

// Ping verifies connectivity, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Shapes returns every live shape record for the canvas.
func (s *Store) Shapes(ctx context.Context, canvasID string) (map[string]shape.State, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT shape_id, fields FROM shapes WHERE canvas_id = $1`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]shape.State)

	for rows.Next() {
		var (
			shapeID string
			fields  []byte
		)

		if err := rows.Scan(&shapeID, &fields); err != nil {
			return nil, fmt.Errorf("scan shape row: %w", err)
		}

		var state shape.State
		if err := json.Unmarshal(fields, &state); err != nil {
			return nil, fmt.Errorf("decode shape %s: %w", shapeID, err)
		}

		out[shapeID] = state
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shapes: %w", err)
	}

	return out, nil
}

// PutShape creates or replaces a single shape record.
func (s *Store) PutShape(ctx context.Context, canvasID, shapeID string, fields shape.State) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: encode shape %s: %v", remote.ErrRejected, shapeID, err)
	}

	_, err = s.pool.Exec(ctx, upsertShapeSQL, canvasID, shapeID, payload, fields.LastModifiedAt())
	if err != nil {
		return fmt.Errorf("upsert shape: %w", err)
	}

	return nil
}

// DeleteShape removes a shape record.
func (s *Store) DeleteShape(ctx context.Context, canvasID, shapeID string) error {
	if _, err := s.pool.Exec(ctx, deleteShapeSQL, canvasID, shapeID); err != nil {
		return fmt.Errorf("delete shape: %w", err)
	}

	return nil
}

// BulkWrite applies the writes as one pipelined batch round-trip.
func (s *Store) BulkWrite(ctx context.Context, canvasID string, writes []remote.ShapeWrite) error {
	if len(writes) > remote.MaxBulkWrites {
		return remote.ErrBulkTooLarge
	}

	batch := &pgx.Batch{}

	for _, w := range writes {
		if w.Fields == nil {
			batch.Queue(deleteShapeSQL, canvasID, w.ShapeID)

			continue
		}

		payload, err := json.Marshal(w.Fields)
		if err != nil {
			return fmt.Errorf("%w: encode shape %s: %v", remote.ErrRejected, w.ShapeID, err)
		}

		batch.Queue(upsertShapeSQL, canvasID, w.ShapeID, payload, w.Fields.LastModifiedAt())
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("bulk write: %w", err)
	}

	return nil
}

// SaveSnapshot persists a point-in-time snapshot of the canvas.
func (s *Store) SaveSnapshot(ctx context.Context, snap remote.Snapshot) error {
	payload, err := json.Marshal(snap.Shapes)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO snapshots (id, canvas_id, shapes, created_at) VALUES ($1, $2, $3, $4)`,
		snap.ID, snap.CanvasID, payload, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot returns the most recent snapshot for the canvas.
func (s *Store) LoadSnapshot(ctx context.Context, canvasID string) (remote.Snapshot, error) {
	var (
		snap    remote.Snapshot
		payload []byte
	)

	err := s.pool.QueryRow(ctx,
		`SELECT id, canvas_id, shapes, created_at FROM snapshots
		 WHERE canvas_id = $1 ORDER BY created_at DESC LIMIT 1`, canvasID).
		Scan(&snap.ID, &snap.CanvasID, &payload, &snap.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return remote.Snapshot{}, remote.ErrSnapshotNotFound
	}

	if err != nil {
		return remote.Snapshot{}, fmt.Errorf("query snapshot: %w", err)
	}

	if err := json.Unmarshal(payload, &snap.Shapes); err != nil {
		return remote.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	return snap, nil
}

// Ensure Store implements DocumentStore.
var _ remote.DocumentStore = (*Store)(nil)
