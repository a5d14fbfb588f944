package vectorindex

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newFakeChroma(t *testing.T, lookups *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"nanosecond heartbeat":1}`))
	})
	mux.HandleFunc("GET /api/v2/tenants/default_tenant/databases/default_database/collections/schema_docs", func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		_, _ = w.Write([]byte(`{"id":"c-123","name":"schema_docs"}`))
	})
	mux.HandleFunc("POST /api/v2/tenants/default_tenant/databases/default_database/collections/c-123/query", func(w http.ResponseWriter, r *http.Request) {
		var req chromaQueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.NResults != 2 || len(req.QueryEmbeddings) != 2 {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{
			"ids": [["1","2"],["3"]],
			"documents": [["sales.revenue: total revenue","sales.region: region code"],["sales.region: region code"]],
			"distances": [[0.1,0.2],[0.05]],
			"metadatas": [[{"table":"sales"},null],[{"table":"sales"}]]
		}`))
	})
	return httptest.NewServer(mux)
}

func TestVectorIndex_Chroma_Query(t *testing.T) {
	t.Parallel()

	t.Run("returns per query results and caches collection id", func(t *testing.T) {
		t.Parallel()

		var lookups atomic.Int32
		srv := newFakeChroma(t, &lookups)
		defer srv.Close()

		c, err := NewChroma(ChromaConfig{Logger: newTestLogger(), BaseURL: srv.URL + "/", Collection: "schema_docs"})
		require.NoError(t, err)

		for range 2 {
			res, err := c.Query(t.Context(), [][]float32{{0.1}, {0.2}}, 2)
			require.NoError(t, err)
			require.Len(t, res, 2)
			require.Len(t, res[0], 2)
			require.Len(t, res[1], 1)
			require.Equal(t, "sales.revenue: total revenue", res[0][0].Text)
			require.Equal(t, "1", res[0][0].ID)
			require.InDelta(t, 0.1, *res[0][0].Distance, 1e-9)
			require.Equal(t, "sales", res[0][0].Metadata["table"])
			require.Nil(t, res[0][1].Metadata)
			require.Equal(t, "sales.region: region code", res[1][0].Text)
		}
		require.Equal(t, int32(1), lookups.Load())
	})

	t.Run("unknown collection is an error", func(t *testing.T) {
		t.Parallel()

		var lookups atomic.Int32
		srv := newFakeChroma(t, &lookups)
		defer srv.Close()

		c, err := NewChroma(ChromaConfig{Logger: newTestLogger(), BaseURL: srv.URL, Collection: "missing"})
		require.NoError(t, err)
		_, err = c.Query(t.Context(), [][]float32{{0.1}}, 2)
		require.ErrorContains(t, err, `collection "missing"`)
	})

	t.Run("ping hits heartbeat", func(t *testing.T) {
		t.Parallel()

		var lookups atomic.Int32
		srv := newFakeChroma(t, &lookups)
		defer srv.Close()

		c, err := NewChroma(ChromaConfig{Logger: newTestLogger(), BaseURL: srv.URL, Collection: "schema_docs"})
		require.NoError(t, err)
		require.NoError(t, c.Ping(t.Context()))
	})

	t.Run("config requires url and collection", func(t *testing.T) {
		t.Parallel()

		_, err := NewChroma(ChromaConfig{Logger: newTestLogger(), Collection: "x"})
		require.Error(t, err)
		_, err = NewChroma(ChromaConfig{Logger: newTestLogger(), BaseURL: "http://x"})
		require.Error(t, err)
	})
}
