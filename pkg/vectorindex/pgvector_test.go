package vectorindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestVectorIndex_PGVector_Query(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to cleanup postgres container: %v", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	uri := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := pgxpool.New(ctx, uri)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `CREATE TABLE schema_documents (id text PRIMARY KEY, document text NOT NULL, metadata jsonb, embedding vector(2))`)
	require.NoError(t, err)

	for _, row := range []struct {
		id  string
		doc string
		vec []float32
	}{
		{"1", "sales.revenue", []float32{1, 0}},
		{"2", "sales.region", []float32{0, 1}},
		{"3", "sales.total", []float32{0.9, 0.1}},
	} {
		_, err = pool.Exec(ctx, `INSERT INTO schema_documents (id, document, metadata, embedding) VALUES ($1, $2, '{"table":"sales"}', $3::vector)`,
			row.id, row.doc, pgvector.NewVector(row.vec))
		require.NoError(t, err)
	}

	idx, err := NewPGVector(PGVectorConfig{Logger: newTestLogger(), Pool: pool})
	require.NoError(t, err)
	require.NoError(t, idx.Ping(ctx))

	res, err := idx.Query(ctx, [][]float32{{1, 0}, {0, 1}}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, []string{"sales.revenue", "sales.total"}, []string{res[0][0].Text, res[0][1].Text})
	require.Equal(t, "sales.region", res[1][0].Text)
	require.Equal(t, "sales", res[1][0].Metadata["table"])
	require.NotNil(t, res[0][0].Distance)
}
