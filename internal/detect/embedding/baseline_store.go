package embedding

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// BaselineStore persists the benign seed corpus used to fit the anomaly
// scorer as pgvector rows, so a redeploy can refit without re-embedding
// the whole corpus from raw text.
type BaselineStore struct {
	db *sql.DB
}

// NewBaselineStore wraps an existing *sql.DB (the same Postgres
// connection used by the identity/usage store).
func NewBaselineStore(db *sql.DB) *BaselineStore {
	return &BaselineStore{db: db}
}

// EnsureSchema creates the baseline_embeddings table if absent.
func (s *BaselineStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS baseline_embeddings (
			id BIGSERIAL PRIMARY KEY,
			model_id TEXT NOT NULL,
			model_version TEXT NOT NULL,
			embedding vector(384) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_baseline_embeddings_model
			ON baseline_embeddings(model_id, model_version);
	`)
	if err != nil {
		return fmt.Errorf("ensure baseline_embeddings schema: %w", err)
	}
	return nil
}

// Add appends one benign seed vector to the corpus for a given model
// identity.
func (s *BaselineStore) Add(ctx context.Context, identity Identity, vec []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO baseline_embeddings (model_id, model_version, embedding) VALUES ($1, $2, $3)`,
		identity.ModelID, identity.ModelVersion, pgvector.NewVector(vec),
	)
	if err != nil {
		return fmt.Errorf("insert baseline embedding: %w", err)
	}
	return nil
}

// Load fetches every stored benign vector for the given model identity,
// in insertion order, for use as FitBaseline's seed population.
func (s *BaselineStore) Load(ctx context.Context, identity Identity) ([][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding FROM baseline_embeddings WHERE model_id = $1 AND model_version = $2 ORDER BY id`,
		identity.ModelID, identity.ModelVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("query baseline embeddings: %w", err)
	}
	defer rows.Close()

	var out [][]float32
	for rows.Next() {
		var v pgvector.Vector
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan baseline embedding: %w", err)
		}
		out = append(out, v.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate baseline embeddings: %w", err)
	}
	return out, nil
}
