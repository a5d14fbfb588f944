package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/querysynth/pkg/agent"
	"github.com/malbeclabs/querysynth/pkg/ledger"
	"github.com/malbeclabs/querysynth/pkg/refine"
)

const notConfigured = "Not configured"

type DatabaseInfo struct {
	Database     string `json:"database"`
	Host         string `json:"host"`
	Port         string `json:"port"`
	DefaultTable string `json:"default_table"`
	Note         string `json:"note"`
}

type IndexInfo struct {
	Backend    string `json:"backend"`
	Host       string `json:"host"`
	Port       string `json:"port"`
	Collection string `json:"collection"`
	Note       string `json:"note"`
}

type EmbeddingInfo struct {
	Model string `json:"model"`
	Note  string `json:"note"`
}

type DatabaseContextInfo struct {
	Database  DatabaseInfo  `json:"database"`
	Index     IndexInfo     `json:"index"`
	Embedding EmbeddingInfo `json:"embedding"`
	Warnings  []string      `json:"warnings,omitempty"`
}

type GetDatabaseContextInput struct{}

type GetDatabaseContextOutput struct {
	Status  refine.Status       `json:"status"`
	Message string              `json:"message"`
	Context DatabaseContextInfo `json:"context"`
}

func (o GetDatabaseContextOutput) status() refine.Status { return o.Status }

func (s *Server) registerGetDatabaseContext() error {
	return addTool(s, toolGetDatabaseContext, `
		Describe the configured database, the similarity index and the embedding model.
		Call this first to learn which database query_data runs against.
	`, func(_ context.Context, _ GetDatabaseContextInput) GetDatabaseContextOutput {
		return s.databaseContext()
	})
}

func (s *Server) databaseContext() GetDatabaseContextOutput {
	c := s.cfg.Context
	orNotConfigured := func(v string) string {
		if v == "" {
			return notConfigured
		}
		return v
	}

	info := DatabaseContextInfo{
		Database: DatabaseInfo{
			Database:     orNotConfigured(c.Database),
			Host:         orNotConfigured(c.Host),
			Port:         orNotConfigured(c.Port),
			DefaultTable: orNotConfigured(c.DefaultTable),
			Note:         "Use the query_data tool to execute SQL queries on this database",
		},
		Index: IndexInfo{
			Backend:    orNotConfigured(c.IndexBackend),
			Host:       orNotConfigured(c.IndexHost),
			Port:       orNotConfigured(c.IndexPort),
			Collection: orNotConfigured(c.IndexCollection),
			Note:       "Use the search_similar_columns tool to find relevant column names",
		},
		Embedding: EmbeddingInfo{
			Model: orNotConfigured(c.EmbeddingModel),
			Note:  "Model used for vector similarity search",
		},
	}

	var missing []string
	if c.Database == "" {
		missing = append(missing, "database name")
	}
	if c.IndexCollection == "" {
		missing = append(missing, "index collection")
	}
	if len(missing) > 0 {
		s.log.Warn("mcpserver: incomplete database context", "missing", missing)
		info.Warnings = []string{
			"Missing configuration: " + strings.Join(missing, ", "),
			"Some tools may not work properly without these configurations",
		}
	}

	return GetDatabaseContextOutput{
		Status:  refine.StatusSuccess,
		Message: "Database context retrieved successfully",
		Context: info,
	}
}

type ExitColumnExtractionInput struct {
	Items []agent.ExtractedColumnName `json:"items" jsonschema:"the column names extracted from the request"`
}

type ToolResponseOutput struct {
	Status   refine.Status           `json:"status"`
	Message  string                  `json:"message"`
	Escalate bool                    `json:"escalate,omitempty"`
	Data     *agent.ToolResponseData `json:"data,omitempty"`

	InvocationID     string `json:"invocation_id,omitempty"`
	Rounds           int    `json:"rounds,omitempty"`
	ArtifactFilename string `json:"artifact_filename,omitempty"`
	Version          int    `json:"version,omitempty"`
	ResourceURI      string `json:"resource_uri,omitempty"`
}

func (o ToolResponseOutput) status() refine.Status { return o.Status }

func fromToolResponse(r agent.ToolResponse) ToolResponseOutput {
	return ToolResponseOutput{Status: r.Status, Message: r.Message, Escalate: r.Escalate, Data: r.Data}
}

func (s *Server) registerExitColumnExtraction() error {
	return addTool(s, toolExitColumnExtraction, `
		Finish column-name extraction. Succeeds and escalates when at least one column was extracted,
		otherwise asks for another extraction attempt.
	`, func(_ context.Context, in ExitColumnExtractionInput) ToolResponseOutput {
		return fromToolResponse(agent.FromVerdict(agent.ReviewExtraction(agent.ExtractionResult{Items: in.Items})))
	})
}

type GetArtifactsInput struct {
	InvocationID string `json:"invocation_id" jsonschema:"the invocation whose artifacts to list"`
}

type GetArtifactsOutput struct {
	Status    refine.Status   `json:"status"`
	Message   string          `json:"message"`
	Artifacts []ArtifactEntry `json:"artifacts,omitempty"`
}

// ArtifactEntry is one ledger entry. Table and image fields are set by kind.
type ArtifactEntry struct {
	Type           ledger.ArtifactType `json:"type"`
	Filename       string              `json:"filename"`
	MimeType       string              `json:"mime_type"`
	FunctionCallID string              `json:"function_call_id"`
	UserQuery      string              `json:"user_query,omitempty"`
	SQLQuery       string              `json:"sql_query,omitempty"`
	DataLength     int                 `json:"data_length,omitempty"`
	ImgSize        *[2]int             `json:"img_size,omitempty"`
}

func (o GetArtifactsOutput) status() refine.Status { return o.Status }

func (s *Server) registerGetArtifacts() error {
	return addTool(s, toolGetArtifacts, `
		List the artifacts recorded in the ledger for an invocation, in the order they were saved.
	`, s.handleGetArtifacts)
}

func (s *Server) handleGetArtifacts(ctx context.Context, in GetArtifactsInput) GetArtifactsOutput {
	state, err := s.cfg.Ledger.Get(ctx, in.InvocationID)
	if err != nil {
		return GetArtifactsOutput{Status: refine.StatusError, Message: fmt.Sprintf("Error reading ledger: %v", err)}
	}
	if state == nil {
		return GetArtifactsOutput{Status: refine.StatusSuccess, Message: "No artifacts recorded for this invocation."}
	}

	out := GetArtifactsOutput{Status: refine.StatusSuccess}
	for _, a := range state.Artifacts {
		b := a.Common()
		e := ArtifactEntry{
			Type:           b.Type,
			Filename:       b.Filename,
			MimeType:       b.MimeType,
			FunctionCallID: b.FunctionCallID,
			UserQuery:      b.UserQuery,
		}
		switch a := a.(type) {
		case *ledger.TableArtifact:
			e.SQLQuery, e.DataLength = a.SQLQuery, a.DataLength
		case *ledger.ImageArtifact:
			e.ImgSize = a.ImgSize
		}
		out.Artifacts = append(out.Artifacts, e)
	}
	out.Message = fmt.Sprintf("Found %d artifacts.", len(out.Artifacts))
	return out
}
