package mcpserver

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/malbeclabs/querysynth/pkg/artifacts"
	"github.com/malbeclabs/querysynth/pkg/executor"
	"github.com/malbeclabs/querysynth/pkg/ledger"
	"github.com/malbeclabs/querysynth/pkg/refine"
	"github.com/malbeclabs/querysynth/pkg/tabular"
)

const sampleRows = 10

type QueryDataInput struct {
	SQL              string `json:"sql" jsonschema:"a single read-only SQL statement"`
	ArtifactFilename string `json:"artifact_filename,omitempty" jsonschema:"defaults to query_result_YYYYMMDD_HHMMSS.csv"`
	UserQuery        string `json:"user_query,omitempty" jsonschema:"the request the statement answers, recorded with the artifact"`
	UserID           string `json:"user_id,omitempty" jsonschema:"owner of the stored artifact"`
	SessionID        string `json:"session_id,omitempty" jsonschema:"session the artifact belongs to"`
	InvocationID     string `json:"invocation_id,omitempty" jsonschema:"ledger key, generated when empty"`
}

type QueryDataOutput struct {
	Status       refine.Status     `json:"status"`
	Message      string            `json:"message"`
	SQL          string            `json:"sql,omitempty"`
	Filename     string            `json:"filename,omitempty"`
	Version      int               `json:"version"`
	InvocationID string            `json:"invocation_id,omitempty"`
	ResourceURI  string            `json:"resource_uri,omitempty"`
	RowCount     int               `json:"row_count"`
	Columns      []string          `json:"columns,omitempty"`
	SampleRows   []executor.Record `json:"sample_rows,omitempty"`
}

func (o QueryDataOutput) status() refine.Status { return o.Status }

func (s *Server) registerQueryData() error {
	return addTool(s, toolQueryData, `
		Execute one read-only SQL query against the configured database.
		The statement is validated, its select lists are capped to 20 columns and its LIMIT to 300 rows.
		The full result is saved as a CSV artifact and recorded in the artifact ledger.
		Returns the row count, the columns and the first 10 rows.
	`, s.handleQueryData)
}

func (s *Server) handleQueryData(ctx context.Context, in QueryDataInput) QueryDataOutput {
	scope := callScope{UserID: in.UserID, SessionID: in.SessionID, InvocationID: in.InvocationID}.withDefaults()

	res := s.cfg.Runner.Run(ctx, in.SQL)
	if res.Err != nil {
		s.log.Info("mcpserver: query_data failed", "sql", res.SQL, "error", res.Err)
		return QueryDataOutput{
			Status:  refine.StatusError,
			Message: "Error executing SQL: " + errorText(res.Err),
			SQL:     res.SQL,
		}
	}
	if len(res.ResultSet.Records) == 0 {
		return QueryDataOutput{
			Status:   refine.StatusSuccess,
			Message:  "Query executed successfully but returned no results",
			SQL:      res.SQL,
			Columns:  res.ResultSet.Columns,
			RowCount: 0,
		}
	}

	filename := in.ArtifactFilename
	if filename == "" {
		filename = artifacts.Filename(s.cfg.Clock, "query_result", "csv")
	}
	mimeType := artifacts.MimeTypeForFile(filename)

	out := QueryDataOutput{
		SQL:          res.SQL,
		Filename:     filename,
		InvocationID: scope.InvocationID,
		RowCount:     len(res.ResultSet.Records),
		Columns:      res.ResultSet.Columns,
		SampleRows:   tabular.Preview(res.ResultSet, sampleRows),
	}

	data, err := tabular.EncodeCSV(res.ResultSet)
	if err != nil {
		out.Status, out.Message = refine.StatusError, fmt.Sprintf("Error encoding result: %v", err)
		return out
	}
	out.Version, err = s.cfg.Sink.Save(ctx, scope.locator(), filename, mimeType, data)
	if err != nil {
		s.log.Error("mcpserver: failed to save query artifact", "filename", filename, "error", err)
		out.Status, out.Message = refine.StatusError, fmt.Sprintf("Error saving artifact: %v", err)
		return out
	}
	if _, err := s.cfg.Ledger.Append(ctx, scope.InvocationID, ledger.TypeTable, ledger.Metadata{
		Filename:       filename,
		MimeType:       mimeType,
		FunctionCallID: uuid.NewString(),
		UserQuery:      in.UserQuery,
		SQLQuery:       res.SQL,
		DataLength:     out.RowCount,
	}); err != nil {
		s.log.Error("mcpserver: failed to record query artifact", "invocationID", scope.InvocationID, "error", err)
		out.Status, out.Message = refine.StatusError, fmt.Sprintf("Error recording artifact: %v", err)
		return out
	}

	out.ResourceURI = s.publishArtifact(scope.artifact(filename, out.Version), mimeType, len(data))

	out.Status = refine.StatusSuccess
	out.Message = fmt.Sprintf("Query executed successfully. %d rows saved to artifact.", out.RowCount)
	return out
}
