package mcpserver

import (
	"context"
	"fmt"

	"github.com/malbeclabs/querysynth/pkg/agent"
	"github.com/malbeclabs/querysynth/pkg/refine"
)

type RunDataSearchInput struct {
	Query        string `json:"query" jsonschema:"the natural-language data request"`
	UserID       string `json:"user_id,omitempty" jsonschema:"owner of the stored artifact"`
	SessionID    string `json:"session_id,omitempty" jsonschema:"session the artifact belongs to"`
	InvocationID string `json:"invocation_id,omitempty" jsonschema:"ledger key, generated when empty"`
}

func (s *Server) registerRunDataSearch() error {
	return addTool(s, toolRunDataSearch, `
		Answer a natural-language data request end to end: extract the referenced columns,
		retrieve reference documents, then draft and execute SQL, retrying with the database error up to three times.
		On success the result is saved as a CSV artifact and returned with the executed SQL.
	`, s.handleRunDataSearch)
}

func (s *Server) handleRunDataSearch(ctx context.Context, in RunDataSearchInput) ToolResponseOutput {
	scope := callScope{UserID: in.UserID, SessionID: in.SessionID, InvocationID: in.InvocationID}.withDefaults()
	inv := agent.Invocation{
		ID:        scope.InvocationID,
		UserID:    scope.UserID,
		SessionID: scope.SessionID,
		UserQuery: in.Query,
	}

	res, err := s.cfg.Pipeline.Run(ctx, inv)
	if err != nil {
		s.log.Error("mcpserver: data search failed", "invocationID", inv.ID, "error", err)
		return ToolResponseOutput{Status: refine.StatusError, Message: fmt.Sprintf("Error running data search: %v", err), InvocationID: inv.ID}
	}

	out := fromToolResponse(res.Response())
	out.InvocationID = inv.ID
	out.Rounds = res.Generation.Rounds
	out.Version = res.Generation.Version
	if a := res.Generation.Artifact; a != nil {
		b := a.Common()
		out.ArtifactFilename = b.Filename
		if res.Generation.ArtifactErr == nil {
			out.ResourceURI = s.publishArtifact(scope.artifact(b.Filename, res.Generation.Version), b.MimeType, 0)
		}
	}
	return out
}
