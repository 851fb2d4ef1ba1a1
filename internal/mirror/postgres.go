package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/PaperTiger/server/internal/store"
)

const resourcesTable = "paper_tiger_resources"

// PostgresSink replicates resources into a single JSONB-payload table.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens the connection and ensures the mirror table exists.
func NewPostgresSink(connectionString string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		object TEXT NOT NULL,
		created BIGINT NOT NULL DEFAULT 0,
		payload JSONB NOT NULL,
		mirrored_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, resourcesTable)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create mirror table: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

// Upsert writes or replaces one resource row.
func (s *PostgresSink) Upsert(ctx context.Context, res store.Resource) error {
	payload, err := json.Marshal(map[string]any(res))
	if err != nil {
		return fmt.Errorf("marshal resource %s: %w", res.ID(), err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, object, created, payload, mirrored_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			object = EXCLUDED.object,
			created = EXCLUDED.created,
			payload = EXCLUDED.payload,
			mirrored_at = now()`, resourcesTable)
	if _, err := s.db.ExecContext(ctx, query, res.ID(), res.Object(), res.Created(), payload); err != nil {
		return fmt.Errorf("upsert resource %s: %w", res.ID(), err)
	}
	return nil
}

// Delete removes one resource row.
func (s *PostgresSink) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", resourcesTable)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete resource %s: %w", id, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
