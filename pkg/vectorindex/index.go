// Package vectorindex queries a similarity index of documented schema
// snippets.
package vectorindex

import "context"

// Document is one reference snippet returned by a similarity search.
type Document struct {
	Text     string         `json:"document"`
	Distance *float64       `json:"distance,omitempty"`
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Index returns, for each query vector, its own top-n documents ordered by
// ascending distance.
type Index interface {
	Query(ctx context.Context, embeddings [][]float32, nResults int) ([][]Document, error)
	Ping(ctx context.Context) error
}
