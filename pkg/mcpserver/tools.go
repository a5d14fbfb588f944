package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/malbeclabs/querysynth/pkg/artifacts"
	"github.com/malbeclabs/querysynth/pkg/executor"
	"github.com/malbeclabs/querysynth/pkg/metrics"
	"github.com/malbeclabs/querysynth/pkg/refine"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	toolQueryData             = "query_data"
	toolSearchSimilarColumns  = "search_similar_columns"
	toolGetDatabaseContext    = "get_database_context"
	toolExitColumnExtraction  = "exit_column_extraction_loop"
	toolGetSQLQueryReferences = "get_sql_query_references"
	toolGetArtifacts          = "get_artifacts"
	toolGetArtifact           = "get_artifact"
	toolSaveImage             = "save_image"
	toolRunDataSearch         = "run_data_search"

	defaultScope = "default"
)

// toolOutput is implemented by every tool result so calls can be counted by
// outcome.
type toolOutput interface {
	status() refine.Status
}

// callScope identifies who a call's artifacts belong to. Missing values default
// to "default" and a fresh invocation ID.
type callScope struct {
	UserID       string
	SessionID    string
	InvocationID string
}

func (sc callScope) withDefaults() callScope {
	if sc.UserID == "" {
		sc.UserID = defaultScope
	}
	if sc.SessionID == "" {
		sc.SessionID = defaultScope
	}
	if sc.InvocationID == "" {
		sc.InvocationID = uuid.NewString()
	}
	return sc
}

func (sc callScope) locator() artifacts.Locator {
	return artifacts.Locator{UserID: sc.UserID, SessionID: sc.SessionID}
}

func (sc callScope) artifact(name string, version int) artifacts.Locator {
	return artifacts.Locator{UserID: sc.UserID, SessionID: sc.SessionID, Name: name, Version: version}
}

// addTool registers fn under name with schemas inferred from In and Out, and
// records call counts and durations.
func addTool[In any, Out toolOutput](s *Server, name, description string, fn func(ctx context.Context, in In) Out) error {
	inSchema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s input schema: %w", name, err)
	}
	outSchema, err := jsonschema.For[Out](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s output schema: %w", name, err)
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  inSchema,
		OutputSchema: outSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.log.Debug("mcpserver: handling tool call", "tool", name)

		out := fn(ctx, in)

		metrics.ToolCallsTotal.WithLabelValues(name, string(out.status())).Inc()
		metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		return nil, out, nil
	})
	return nil
}

// errorText returns the database message for execution failures and the
// error text otherwise.
func errorText(err error) string {
	var execErr *executor.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Message
	}
	return err.Error()
}
