// Package agent turns a natural-language data request into an executed,
// bounded SQL query.
//
// A run has three stages. A column-extraction loop asks the model which
// columns the request refers to. Retrieval then fetches reference documents
// for the request and each extracted column. Finally a SQL-generation loop
// drafts a statement, and its reviewer validates, clamps and executes it,
// feeding any failure back into the next draft. Both loops stop after
// MaxRounds rounds.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/querysynth/pkg/artifacts"
	"github.com/malbeclabs/querysynth/pkg/executor"
	"github.com/malbeclabs/querysynth/pkg/ledger"
	"github.com/malbeclabs/querysynth/pkg/llm"
	"github.com/malbeclabs/querysynth/pkg/prompts"
	"github.com/malbeclabs/querysynth/pkg/refine"
	"github.com/malbeclabs/querysynth/pkg/retrieval"
	"github.com/malbeclabs/querysynth/pkg/vectorindex"
)

// Retriever fetches reference documents for a set of queries.
type Retriever interface {
	Retrieve(ctx context.Context, queries []string, nPerQuery int) ([]vectorindex.Document, error)
}

// QueryRunner validates, clamps and executes a statement.
type QueryRunner interface {
	Run(ctx context.Context, sql string) executor.Result
}

type Config struct {
	Logger    *slog.Logger
	LLM       llm.Client
	Retriever Retriever
	Runner    QueryRunner

	// Optional. Without them results are returned but not stored.
	Sink   artifacts.Sink
	Ledger *ledger.Ledger

	Prompts   *prompts.Set
	Clock     clockwork.Clock
	MaxRounds int
	NPerQuery int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.LLM == nil {
		return fmt.Errorf("llm client is required")
	}
	if c.Retriever == nil {
		return fmt.Errorf("retriever is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("query runner is required")
	}
	if c.Prompts == nil {
		catalog, err := prompts.Default()
		if err != nil {
			return err
		}
		if c.Prompts, err = catalog.Resolve(); err != nil {
			return err
		}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = refine.DefaultMaxRounds
	}
	if c.NPerQuery <= 0 {
		c.NPerQuery = retrieval.DefaultNPerQuery
	}
	return nil
}

type Pipeline struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate agent config: %w", err)
	}
	return &Pipeline{log: cfg.Logger, cfg: cfg}, nil
}

// Retrieve fetches reference documents for the user text and the extracted
// column names.
func (p *Pipeline) Retrieve(ctx context.Context, userText string, columns []string) ([]vectorindex.Document, error) {
	return p.cfg.Retriever.Retrieve(ctx, retrieval.BuildQueries(userText, columns), p.cfg.NPerQuery)
}

// Run executes the whole pipeline for one invocation. A retrieval failure is
// logged and generation continues without reference documents. The returned
// error only reports a misconfigured pipeline.
func (p *Pipeline) Run(ctx context.Context, inv Invocation) (*Result, error) {
	p.log.Info("agent: run started", "invocationID", inv.ID, "query", inv.UserQuery)

	images, err := p.saveImages(ctx, inv)
	if err != nil {
		return nil, err
	}

	extraction, err := p.ExtractColumns(ctx, inv.UserQuery)
	if err != nil {
		return nil, err
	}
	res := &Result{Invocation: inv, Images: images, Extraction: extraction}

	columns := extraction.Result.Names()
	docs, err := p.Retrieve(ctx, inv.UserQuery, columns)
	if err != nil {
		p.log.Warn("agent: retrieval failed, generating without reference documents", "invocationID", inv.ID, "error", err)
		res.RetrievalErr = err
		docs = nil
	}
	res.Documents = docs

	res.Generation, err = p.GenerateSQL(ctx, inv, columns, docs)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) saveImages(ctx context.Context, inv Invocation) ([]*SavedImage, error) {
	if len(inv.Images) == 0 {
		return nil, nil
	}
	if p.cfg.Sink == nil || p.cfg.Ledger == nil {
		p.log.Warn("agent: no artifact storage, input images dropped", "invocationID", inv.ID, "count", len(inv.Images))
		return nil, nil
	}
	saved := make([]*SavedImage, 0, len(inv.Images))
	for _, img := range inv.Images {
		s, err := SaveImage(ctx, p.cfg.Sink, p.cfg.Ledger, inv, img)
		if err != nil {
			p.log.Error("agent: failed to store input image", "invocationID", inv.ID, "name", img.DisplayName, "error", err)
			return nil, err
		}
		p.log.Info("agent: input image stored", "invocationID", inv.ID, "filename", s.Filename, "width", s.Width, "height", s.Height)
		saved = append(saved, s)
	}
	return saved, nil
}

// Response converts the outcome into a tool response. A failed run reports
// the last failure together with the statement that caused it.
func (r *Result) Response() ToolResponse {
	g := r.Generation
	if !g.Terminated {
		msg := g.Verdict.Message
		if g.Query.SQL != "" {
			msg = fmt.Sprintf("%s\nSQL: %s", msg, g.Query.SQL)
		}
		return ToolResponse{Status: refine.StatusError, Message: msg}
	}
	return ToolResponse{
		Status:   refine.StatusSuccess,
		Message:  g.Verdict.Message,
		Escalate: true,
		Data: &ToolResponseData{
			Type: DataCSVTable,
			Content: TableContent{
				SQL:     g.Query.SQL,
				Records: g.Query.ResultSet.Records,
			},
		},
	}
}
