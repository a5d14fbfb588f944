package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/malbeclabs/querysynth/pkg/artifacts"
	"github.com/malbeclabs/querysynth/pkg/executor"
	"github.com/malbeclabs/querysynth/pkg/ledger"
	"github.com/malbeclabs/querysynth/pkg/llm"
	"github.com/malbeclabs/querysynth/pkg/prompts"
	"github.com/malbeclabs/querysynth/pkg/refine"
	"github.com/malbeclabs/querysynth/pkg/tabular"
	"github.com/malbeclabs/querysynth/pkg/vectorindex"
)

const msgSQLExecuted = "SQL executed."

// GenerateSQL drafts SQL for the invocation's query, runs each draft through
// validation, the clamp and the database, and stops at the first draft that
// executes. The stored result is recorded in the ledger.
func (p *Pipeline) GenerateSQL(ctx context.Context, inv Invocation, columns []string, docs []vectorindex.Document) (GenerationOutcome, error) {
	var (
		last     executor.Result
		artifact ledger.Artifact
		version  int
		saveErr  error
	)

	vars := map[string]string{
		"QUESTION":   inv.UserQuery,
		"COLUMNS":    formatColumns(columns),
		"REFERENCES": formatReferences(docs),
	}

	loop := refine.Loop[SQLCandidate]{
		Name:      "sql_generation",
		Logger:    p.log,
		MaxRounds: p.cfg.MaxRounds,
		Producer: func(ctx context.Context, round int, prev SQLCandidate) (SQLCandidate, error) {
			user := prompts.Render(p.cfg.Prompts.GenerateUser, vars)
			if last.Err != nil {
				retryVars := map[string]string{
					"FAILED_SQL": last.SQL,
					"ERROR":      last.Err.Error(),
				}
				for k, v := range vars {
					retryVars[k] = v
				}
				user = prompts.Render(p.cfg.Prompts.GenerateRetry, retryVars)
			}

			response, err := p.cfg.LLM.Complete(ctx, p.cfg.Prompts.GenerateSystem, user, llm.WithCacheControl())
			if err != nil {
				return prev, fmt.Errorf("LLM completion failed: %w", err)
			}
			sql, explanation, err := llm.ParseSQL(response)
			if err != nil {
				last = executor.Result{SQL: strings.TrimSpace(response), Err: err}
				return prev, fmt.Errorf("failed to parse generate response: %w", err)
			}
			return SQLCandidate{Text: sql, Explanation: explanation, Iteration: round}, nil
		},
		Reviewer: func(ctx context.Context, _ int, c SQLCandidate) refine.Verdict {
			last = p.cfg.Runner.Run(ctx, c.Text)
			if last.Err != nil {
				return refine.Reject(last.Err.Error())
			}
			artifact, version, saveErr = p.storeResult(ctx, inv, last)
			return refine.Accept(msgSQLExecuted)
		},
	}

	out, err := refine.Run(ctx, loop, SQLCandidate{})
	if err != nil {
		return GenerationOutcome{}, err
	}

	p.log.Info("agent: sql generation finished",
		"invocationID", inv.ID,
		"rounds", out.Rounds,
		"terminated", out.Terminated,
		"message", out.Verdict.Message)
	return GenerationOutcome{
		Candidate:   out.State,
		Query:       last,
		Verdict:     out.Verdict,
		Rounds:      out.Rounds,
		Terminated:  out.Terminated,
		Artifact:    artifact,
		Version:     version,
		ArtifactErr: saveErr,
	}, nil
}

// storeResult writes the result set as a CSV artifact and records it.
func (p *Pipeline) storeResult(ctx context.Context, inv Invocation, res executor.Result) (ledger.Artifact, int, error) {
	if p.cfg.Sink == nil && p.cfg.Ledger == nil {
		return nil, 0, nil
	}

	filename := artifacts.Filename(p.cfg.Clock, "output_data", "csv")
	mimeType := artifacts.MimeType("csv")

	var version int
	if p.cfg.Sink != nil {
		data, err := tabular.EncodeCSV(res.ResultSet)
		if err != nil {
			p.log.Error("agent: failed to encode result", "invocationID", inv.ID, "error", err)
			return nil, 0, err
		}
		version, err = p.cfg.Sink.Save(ctx, artifacts.Locator{UserID: inv.UserID, SessionID: inv.SessionID}, filename, mimeType, data)
		if err != nil {
			p.log.Error("agent: failed to save artifact", "invocationID", inv.ID, "error", err)
			return nil, 0, fmt.Errorf("failed to save artifact: %w", err)
		}
	}
	if p.cfg.Ledger == nil {
		return nil, version, nil
	}

	a, err := p.cfg.Ledger.Append(ctx, inv.ID, ledger.TypeTable, ledger.Metadata{
		Filename:       filename,
		MimeType:       mimeType,
		FunctionCallID: uuid.NewString(),
		UserQuery:      inv.UserQuery,
		SQLQuery:       res.SQL,
		DataLength:     len(res.ResultSet.Records),
	})
	if err != nil {
		p.log.Error("agent: failed to record artifact", "invocationID", inv.ID, "error", err)
		return nil, version, fmt.Errorf("failed to record artifact: %w", err)
	}
	return a, version, nil
}

func formatColumns(columns []string) string {
	if len(columns) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, c := range columns {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// formatReferences renders the document texts as a JSON array.
func formatReferences(docs []vectorindex.Document) string {
	texts := make([]string, 0, len(docs))
	for _, d := range docs {
		texts = append(texts, d.Text)
	}
	raw, err := json.Marshal(texts)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
