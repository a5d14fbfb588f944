// Package llm wraps the language model that drafts column lists and SQL.
package llm

import "context"

// CompleteOptions holds options for a completion.
type CompleteOptions struct {
	CacheSystemPrompt bool
}

type CompleteOption func(*CompleteOptions)

// WithCacheControl marks the system prompt as cacheable. The producers in a
// refinement loop resend the same system prompt every round.
func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) {
		o.CacheSystemPrompt = true
	}
}

// Client sends a prompt and returns the response text.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)

func (f ClientFunc) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	return f(ctx, systemPrompt, userPrompt, opts...)
}
