// Package retrieval fans queries out to the vector index and folds the
// per-query results into one deduplicated, capped reference list.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/malbeclabs/querysynth/pkg/embedding"
	"github.com/malbeclabs/querysynth/pkg/metrics"
	"github.com/malbeclabs/querysynth/pkg/vectorindex"
)

const (
	MaxDocuments     = 20
	DefaultNPerQuery = 15
)

// Error reports a failed embedding or index call. Callers treat it as "no
// grounding available" rather than aborting.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieval %s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Config struct {
	Logger   *slog.Logger
	Embedder embedding.Embedder
	Index    vectorindex.Index
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Embedder == nil {
		return fmt.Errorf("embedder is required")
	}
	if c.Index == nil {
		return fmt.Errorf("index is required")
	}
	return nil
}

type Retriever struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate retrieval config: %w", err)
	}
	return &Retriever{log: cfg.Logger, cfg: cfg}, nil
}

// BuildQueries returns the user text followed by every non-empty name.
func BuildQueries(userText string, names []string) []string {
	queries := make([]string, 0, len(names)+1)
	queries = append(queries, userText)
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		queries = append(queries, n)
	}
	return queries
}

// Retrieve embeds all queries in one call, takes each query's own top
// nPerQuery documents, and returns their concatenation deduplicated by text
// and truncated to MaxDocuments.
func (r *Retriever) Retrieve(ctx context.Context, queries []string, nPerQuery int) ([]vectorindex.Document, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	if nPerQuery <= 0 {
		nPerQuery = DefaultNPerQuery
	}

	vectors, err := r.cfg.Embedder.Embed(ctx, queries)
	if err != nil {
		metrics.RetrievalCallsTotal.WithLabelValues("error").Inc()
		return nil, &Error{Stage: "embedding", Err: err}
	}

	perQuery, err := r.cfg.Index.Query(ctx, vectors, nPerQuery)
	if err != nil {
		metrics.RetrievalCallsTotal.WithLabelValues("error").Inc()
		return nil, &Error{Stage: "index query", Err: err}
	}

	docs := Dedup(perQuery, MaxDocuments)
	metrics.RetrievalCallsTotal.WithLabelValues("success").Inc()
	metrics.RetrievalDocuments.Observe(float64(len(docs)))
	r.log.Debug("retrieval: documents retrieved", "queries", len(queries), "documents", len(docs))
	return docs, nil
}

// Dedup concatenates the lists in order, keeps the first document seen for
// each text and stops at limit.
func Dedup(lists [][]vectorindex.Document, limit int) []vectorindex.Document {
	seen := make(map[string]struct{})
	out := make([]vectorindex.Document, 0, limit)
	for _, list := range lists {
		for _, doc := range list {
			if _, ok := seen[doc.Text]; ok {
				continue
			}
			seen[doc.Text] = struct{}{}
			out = append(out, doc)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}
