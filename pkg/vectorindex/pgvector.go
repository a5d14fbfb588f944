package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const defaultPGVectorTable = "schema_documents"

// PGQuerier is the subset of *pgxpool.Pool used here.
type PGQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

type PGVectorConfig struct {
	Logger *slog.Logger
	Pool   PGQuerier
	// Table must have columns id text, document text, metadata jsonb and
	// embedding vector.
	Table string
}

func (c *PGVectorConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Pool == nil {
		return fmt.Errorf("pool is required")
	}
	if c.Table == "" {
		c.Table = defaultPGVectorTable
	}
	return nil
}

// PGVector searches a pgvector table by cosine distance.
type PGVector struct {
	log   *slog.Logger
	cfg   PGVectorConfig
	query string
}

func NewPGVector(cfg PGVectorConfig) (*PGVector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate pgvector config: %w", err)
	}
	table := pgx.Identifier{cfg.Table}.Sanitize()
	return &PGVector{
		log: cfg.Logger,
		cfg: cfg,
		query: fmt.Sprintf(`
			SELECT id::text, document, metadata, embedding <=> $1::vector AS distance
			FROM %s
			ORDER BY embedding <=> $1::vector
			LIMIT $2`, table),
	}, nil
}

func (p *PGVector) Ping(ctx context.Context) error {
	return p.cfg.Pool.Ping(ctx)
}

// Query runs one nearest-neighbour search per vector.
func (p *PGVector) Query(ctx context.Context, embeddings [][]float32, nResults int) ([][]Document, error) {
	results := make([][]Document, 0, len(embeddings))
	for _, emb := range embeddings {
		docs, err := p.queryOne(ctx, emb, nResults)
		if err != nil {
			return nil, err
		}
		results = append(results, docs)
	}
	return results, nil
}

func (p *PGVector) queryOne(ctx context.Context, emb []float32, nResults int) ([]Document, error) {
	rows, err := p.cfg.Pool.Query(ctx, p.query, pgvector.NewVector(emb), nResults)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", p.cfg.Table, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc      Document
			metadata []byte
			distance float64
		)
		if err := rows.Scan(&doc.ID, &doc.Text, &metadata, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", doc.ID, err)
			}
		}
		doc.Distance = &distance
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document rows: %w", err)
	}
	return docs, nil
}
