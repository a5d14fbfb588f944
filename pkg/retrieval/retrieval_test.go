package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/querysynth/pkg/vectorindex"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type mockEmbedder struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
	calls     int
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	return m.EmbedFunc(ctx, texts)
}

type mockIndex struct {
	QueryFunc func(ctx context.Context, embeddings [][]float32, n int) ([][]vectorindex.Document, error)
}

func (m *mockIndex) Query(ctx context.Context, embeddings [][]float32, n int) ([][]vectorindex.Document, error) {
	return m.QueryFunc(ctx, embeddings, n)
}

func (m *mockIndex) Ping(context.Context) error { return nil }

func docs(texts ...string) []vectorindex.Document {
	out := make([]vectorindex.Document, 0, len(texts))
	for _, t := range texts {
		out = append(out, vectorindex.Document{Text: t, ID: t})
	}
	return out
}

func texts(d []vectorindex.Document) []string {
	out := make([]string, 0, len(d))
	for _, doc := range d {
		out = append(out, doc.Text)
	}
	return out
}

func TestRetrieval_Dedup(t *testing.T) {
	t.Parallel()

	t.Run("keeps first occurrence across queries", func(t *testing.T) {
		t.Parallel()

		got := Dedup([][]vectorindex.Document{docs("a", "b"), docs("b", "c"), docs("a")}, MaxDocuments)
		if diff := cmp.Diff([]string{"a", "b", "c"}, texts(got)); diff != "" {
			t.Fatalf("unexpected texts (-want +got):\n%s", diff)
		}
	})

	t.Run("caps at limit in first seen order", func(t *testing.T) {
		t.Parallel()

		var all []string
		for i := range 25 {
			all = append(all, fmt.Sprintf("doc-%02d", i))
		}
		got := Dedup([][]vectorindex.Document{docs(all[:10]...), docs(all[10:]...)}, MaxDocuments)
		require.Len(t, got, 20)
		require.Equal(t, all[:20], texts(got))
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()

		require.Empty(t, Dedup(nil, MaxDocuments))
	})
}

func TestRetrieval_BuildQueries(t *testing.T) {
	t.Parallel()

	got := BuildQueries("show revenue by region", []string{"revenue", "", "  ", "region"})
	require.Equal(t, []string{"show revenue by region", "revenue", "region"}, got)
}

func TestRetrieval_Retrieve(t *testing.T) {
	t.Parallel()

	t.Run("embeds once and queries each vector for its own top k", func(t *testing.T) {
		t.Parallel()

		emb := &mockEmbedder{EmbedFunc: func(_ context.Context, in []string) ([][]float32, error) {
			out := make([][]float32, len(in))
			for i := range in {
				out[i] = []float32{float32(i)}
			}
			return out, nil
		}}
		idx := &mockIndex{QueryFunc: func(_ context.Context, e [][]float32, n int) ([][]vectorindex.Document, error) {
			require.Len(t, e, 3)
			require.Equal(t, 15, n)
			return [][]vectorindex.Document{docs("a", "b"), docs("b", "c"), docs("a")}, nil
		}}

		r, err := New(Config{Logger: newTestLogger(), Embedder: emb, Index: idx})
		require.NoError(t, err)

		got, err := r.Retrieve(t.Context(), []string{"q", "revenue", "region"}, 0)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "c"}, texts(got))
		require.Equal(t, 1, emb.calls)
	})

	t.Run("embedding failure is a retrieval error", func(t *testing.T) {
		t.Parallel()

		emb := &mockEmbedder{EmbedFunc: func(context.Context, []string) ([][]float32, error) {
			return nil, errors.New("connection refused")
		}}
		r, err := New(Config{Logger: newTestLogger(), Embedder: emb, Index: &mockIndex{}})
		require.NoError(t, err)

		_, err = r.Retrieve(t.Context(), []string{"q"}, 5)
		var rerr *Error
		require.ErrorAs(t, err, &rerr)
		require.Equal(t, "embedding", rerr.Stage)
		require.ErrorContains(t, err, "connection refused")
	})

	t.Run("index failure is a retrieval error", func(t *testing.T) {
		t.Parallel()

		emb := &mockEmbedder{EmbedFunc: func(context.Context, []string) ([][]float32, error) {
			return [][]float32{{1}}, nil
		}}
		idx := &mockIndex{QueryFunc: func(context.Context, [][]float32, int) ([][]vectorindex.Document, error) {
			return nil, errors.New("collection not found")
		}}
		r, err := New(Config{Logger: newTestLogger(), Embedder: emb, Index: idx})
		require.NoError(t, err)

		_, err = r.Retrieve(t.Context(), []string{"q"}, 5)
		var rerr *Error
		require.ErrorAs(t, err, &rerr)
		require.Equal(t, "index query", rerr.Stage)
	})

	t.Run("no queries makes no calls", func(t *testing.T) {
		t.Parallel()

		emb := &mockEmbedder{}
		r, err := New(Config{Logger: newTestLogger(), Embedder: emb, Index: &mockIndex{}})
		require.NoError(t, err)
		got, err := r.Retrieve(t.Context(), nil, 5)
		require.NoError(t, err)
		require.Empty(t, got)
		require.Equal(t, 0, emb.calls)
	})
}
