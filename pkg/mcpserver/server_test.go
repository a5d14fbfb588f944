package mcpserver

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/querysynth/pkg/agent"
	"github.com/malbeclabs/querysynth/pkg/artifacts"
	"github.com/malbeclabs/querysynth/pkg/executor"
	"github.com/malbeclabs/querysynth/pkg/ledger"
	"github.com/malbeclabs/querysynth/pkg/retrieval"
	"github.com/malbeclabs/querysynth/pkg/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type fakeEmbedder struct {
	err   error
	texts []string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.texts = texts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

type fakeIndex struct {
	docs []vectorindex.Document
	err  error
	n    int
}

func (f *fakeIndex) Query(_ context.Context, embeddings [][]float32, n int) ([][]vectorindex.Document, error) {
	f.n = n
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]vectorindex.Document, len(embeddings))
	for i := range embeddings {
		out[i] = f.docs[:min(n, len(f.docs))]
	}
	return out, nil
}

func (f *fakeIndex) Ping(context.Context) error { return f.err }

type fakePipeline struct {
	res *agent.Result
	err error
	inv agent.Invocation
}

func (f *fakePipeline) Run(_ context.Context, inv agent.Invocation) (*agent.Result, error) {
	f.inv = inv
	if f.res != nil {
		f.res.Invocation = inv
	}
	return f.res, f.err
}

func salesExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE sales (region VARCHAR, revenue DOUBLE)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO sales VALUES ('north', 100), ('north', 50), ('south', 70), ('west', 30)`)
	require.NoError(t, err)

	pool, err := executor.NewSQLPool(newTestLogger(), db)
	require.NoError(t, err)
	exec, err := executor.New(executor.Config{Logger: newTestLogger(), Pool: pool})
	require.NoError(t, err)
	return exec
}

func distance(d float64) *float64 { return &d }

func testDocs() []vectorindex.Document {
	return []vectorindex.Document{
		{ID: "1", Text: "sales.region: sales region name", Distance: distance(0.1)},
		{ID: "2", Text: "sales.revenue: revenue in USD", Distance: distance(0.2)},
		{ID: "3", Text: "sales.store_id: store identifier", Distance: distance(0.3)},
		{ID: "4", Text: "stores.city: store city", Distance: distance(0.4)},
	}
}

type testEnv struct {
	server   *Server
	root     string
	embedder *fakeEmbedder
	index    *fakeIndex
	ledger   *ledger.Ledger
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	log := newTestLogger()
	root := t.TempDir()

	sink, err := artifacts.NewFSSink(artifacts.FSSinkConfig{Logger: log, Root: root})
	require.NoError(t, err)
	led, err := ledger.New(ledger.Config{Logger: log})
	require.NoError(t, err)

	emb := &fakeEmbedder{}
	idx := &fakeIndex{docs: testDocs()}
	ret, err := retrieval.New(retrieval.Config{Logger: log, Embedder: emb, Index: idx})
	require.NoError(t, err)

	cfg := Config{
		Logger:    log,
		Runner:    salesExecutor(t),
		Retriever: ret,
		Embedder:  emb,
		Index:     idx,
		Sink:      sink,
		Ledger:    led,
		Clock:     clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 15, 4, 5, 0, time.Local)),
		Version:   "test",
		Context: DatabaseContext{
			Database:        "warehouse",
			Host:            "db",
			Port:            "5432",
			IndexBackend:    "chroma",
			IndexHost:       "chroma",
			IndexPort:       "8000",
			IndexCollection: "columns",
			EmbeddingModel:  "bge-m3",
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return &testEnv{server: s, root: root, embedder: emb, index: idx, ledger: led}
}

func TestMCPServer_New_Validate(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorContains(t, err, "logger is required")

	_, err = New(Config{Logger: newTestLogger()})
	require.ErrorContains(t, err, "query runner is required")
}

func TestMCPServer_Healthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok\n", rr.Body.String())
}

func TestMCPServer_Readyz(t *testing.T) {
	t.Parallel()

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, func(c *Config) {
			c.Ready = func(context.Context) error { return nil }
		})
		rr := httptest.NewRecorder()
		env.server.readyzHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("not ready", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, func(c *Config) {
			c.Ready = func(context.Context) error { return errors.New("database unreachable") }
		})
		rr := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		require.Equal(t, "not ready\n", rr.Body.String())
	})
}

func TestMCPServer_Auth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) {
		c.AllowedTokens = []string{"secret-token"}
	})
	h := env.server.Handler()

	tests := []struct {
		name   string
		header string
		body   string
	}{
		{"missing header", "", "unauthorized: missing authorization header\n"},
		{"wrong scheme", "Basic abc", "unauthorized: invalid authorization header format\n"},
		{"empty token", "Bearer  ", "unauthorized: empty token\n"},
		{"unknown token", "Bearer nope", "unauthorized: invalid token\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
			require.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
			require.Equal(t, tt.body, rr.Body.String())
		})
	}

	t.Run("health probes skip auth", func(t *testing.T) {
		t.Parallel()
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("valid token reaches mcp handler", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer secret-token")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.NotEqual(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestMCPServer_TokenAllowed(t *testing.T) {
	t.Parallel()

	allowed := []string{"alpha-token", "beta-token"}
	assert.True(t, tokenAllowed(allowed, "alpha-token"))
	assert.True(t, tokenAllowed(allowed, "beta-token"))
	assert.False(t, tokenAllowed(allowed, "alpha"))
	assert.False(t, tokenAllowed(allowed, "alpha-token-and-more"))
	assert.False(t, tokenAllowed(allowed, ""))
	assert.False(t, tokenAllowed(nil, "alpha-token"))
}
