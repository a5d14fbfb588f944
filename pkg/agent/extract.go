package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/querysynth/pkg/llm"
	"github.com/malbeclabs/querysynth/pkg/prompts"
	"github.com/malbeclabs/querysynth/pkg/refine"
)

const (
	msgExtractionRequired  = "Column name extraction required."
	msgExtractionCompleted = "Column name extraction completed."
)

// ReviewExtraction accepts a non-empty extraction and rejects an empty one.
func ReviewExtraction(r ExtractionResult) refine.Verdict {
	if len(r.Items) == 0 {
		return refine.Reject(msgExtractionRequired)
	}
	return refine.Accept(msgExtractionCompleted)
}

// ExtractColumns asks the model for the columns userText refers to, retrying
// while the answer is empty, up to the configured round cap.
func (p *Pipeline) ExtractColumns(ctx context.Context, userText string) (ExtractionOutcome, error) {
	var feedback string

	loop := refine.Loop[ExtractionResult]{
		Name:      "column_extraction",
		Logger:    p.log,
		MaxRounds: p.cfg.MaxRounds,
		Producer: func(ctx context.Context, round int, _ ExtractionResult) (ExtractionResult, error) {
			user := prompts.Render(p.cfg.Prompts.ExtractUser, map[string]string{"QUESTION": userText})
			if feedback != "" {
				user = prompts.Render(p.cfg.Prompts.ExtractRetry, map[string]string{
					"QUESTION": userText,
					"FEEDBACK": feedback,
				})
			}

			response, err := p.cfg.LLM.Complete(ctx, p.cfg.Prompts.ExtractSystem, user, llm.WithCacheControl())
			if err != nil {
				feedback = err.Error()
				return ExtractionResult{}, fmt.Errorf("LLM completion failed: %w", err)
			}

			items, err := llm.DecodeItems[ExtractedColumnName](response)
			if err != nil {
				feedback = "the answer was not valid JSON"
				return ExtractionResult{}, fmt.Errorf("failed to parse extraction response: %w", err)
			}
			return cleanExtraction(ExtractionResult{Items: items}), nil
		},
		Reviewer: func(_ context.Context, _ int, r ExtractionResult) refine.Verdict {
			v := ReviewExtraction(r)
			if !v.Escalate {
				feedback = v.Message
			}
			return v
		},
	}

	out, err := refine.Run(ctx, loop, ExtractionResult{})
	if err != nil {
		return ExtractionOutcome{}, err
	}
	p.log.Info("agent: column extraction finished",
		"rounds", out.Rounds,
		"terminated", out.Terminated,
		"columns", out.State.Names())
	return ExtractionOutcome{
		Result:     out.State,
		Verdict:    out.Verdict,
		Rounds:     out.Rounds,
		Terminated: out.Terminated,
	}, nil
}

func cleanExtraction(r ExtractionResult) ExtractionResult {
	items := make([]ExtractedColumnName, 0, len(r.Items))
	for _, it := range r.Items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		items = append(items, ExtractedColumnName{Name: name})
	}
	return ExtractionResult{Items: items}
}
