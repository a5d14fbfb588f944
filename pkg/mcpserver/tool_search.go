package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/malbeclabs/querysynth/pkg/artifacts"
	"github.com/malbeclabs/querysynth/pkg/refine"
	"github.com/malbeclabs/querysynth/pkg/retrieval"
	"github.com/malbeclabs/querysynth/pkg/vectorindex"
)

const (
	defaultSimilarColumns = 10
	topResults            = 3
)

type SearchSimilarColumnsInput struct {
	QueryText        string `json:"query_text" jsonschema:"natural-language text to match against documented columns"`
	NResults         int    `json:"n_results,omitempty" jsonschema:"number of columns to return, default 10"`
	ArtifactFilename string `json:"artifact_filename,omitempty" jsonschema:"defaults to similar_columns_YYYYMMDD_HHMMSS.json"`
	UserID           string `json:"user_id,omitempty" jsonschema:"owner of the stored artifact"`
	SessionID        string `json:"session_id,omitempty" jsonschema:"session the artifact belongs to"`
}

type SearchSimilarColumnsOutput struct {
	Status       refine.Status          `json:"status"`
	Message      string                 `json:"message"`
	Filename     string                 `json:"filename,omitempty"`
	Version      int                    `json:"version"`
	ResourceURI  string                 `json:"resource_uri,omitempty"`
	ResultsCount int                    `json:"results_count"`
	TopResults   []vectorindex.Document `json:"top_results,omitempty"`
}

func (o SearchSimilarColumnsOutput) status() refine.Status { return o.Status }

// similarColumnsArtifact is the JSON document saved for each search.
type similarColumnsArtifact struct {
	Query    string                 `json:"query"`
	NResults int                    `json:"n_results"`
	Results  []vectorindex.Document `json:"results"`
}

func (s *Server) registerSearchSimilarColumns() error {
	return addTool(s, toolSearchSimilarColumns, `
		Search the column documentation index for columns similar to the given text.
		All results are saved as a JSON artifact. Returns the result count and the three closest columns.
	`, s.handleSearchSimilarColumns)
}

func (s *Server) handleSearchSimilarColumns(ctx context.Context, in SearchSimilarColumnsInput) SearchSimilarColumnsOutput {
	n := in.NResults
	if n <= 0 {
		n = defaultSimilarColumns
	}
	fail := func(format string, args ...any) SearchSimilarColumnsOutput {
		msg := fmt.Sprintf(format, args...)
		s.log.Error("mcpserver: search_similar_columns failed", "error", msg)
		return SearchSimilarColumnsOutput{Status: refine.StatusError, Message: msg}
	}

	vectors, err := s.cfg.Embedder.Embed(ctx, []string{in.QueryText})
	if err != nil {
		return fail("Error getting embeddings: %v", err)
	}
	lists, err := s.cfg.Index.Query(ctx, vectors, n)
	if err != nil {
		return fail("Error querying index: %v", err)
	}
	var results []vectorindex.Document
	if len(lists) > 0 {
		results = lists[0]
	}
	if results == nil {
		results = []vectorindex.Document{}
	}

	filename := in.ArtifactFilename
	if filename == "" {
		filename = artifacts.Filename(s.cfg.Clock, "similar_columns", "json")
	}
	data, err := json.MarshalIndent(similarColumnsArtifact{Query: in.QueryText, NResults: n, Results: results}, "", "  ")
	if err != nil {
		return fail("Error encoding results: %v", err)
	}
	scope := callScope{UserID: in.UserID, SessionID: in.SessionID}.withDefaults()
	mimeType := artifacts.MimeTypeForFile(filename)
	version, err := s.cfg.Sink.Save(ctx, scope.locator(), filename, mimeType, data)
	if err != nil {
		return fail("Error saving artifact: %v", err)
	}

	return SearchSimilarColumnsOutput{
		Status:       refine.StatusSuccess,
		Message:      fmt.Sprintf("Found %d similar columns.", len(results)),
		Filename:     filename,
		Version:      version,
		ResourceURI:  s.publishArtifact(scope.artifact(filename, version), mimeType, len(data)),
		ResultsCount: len(results),
		TopResults:   results[:min(topResults, len(results))],
	}
}

type GetSQLQueryReferencesInput struct {
	UserInput string `json:"user_input" jsonschema:"the data request to find reference documents for"`
	NResults  int    `json:"n_results,omitempty" jsonschema:"documents per query, default 15"`
}

type GetSQLQueryReferencesOutput struct {
	Status        refine.Status          `json:"status"`
	Message       string                 `json:"message"`
	ReferenceDocs string                 `json:"reference_docs,omitempty"`
	Documents     []vectorindex.Document `json:"documents,omitempty"`
}

func (o GetSQLQueryReferencesOutput) status() refine.Status { return o.Status }

func (s *Server) registerGetSQLQueryReferences() error {
	return addTool(s, toolGetSQLQueryReferences, `
		Retrieve reference documents (column and table documentation, example queries) for a data request.
		Use them as grounding before writing SQL.
	`, s.handleGetSQLQueryReferences)
}

func (s *Server) handleGetSQLQueryReferences(ctx context.Context, in GetSQLQueryReferencesInput) GetSQLQueryReferencesOutput {
	n := in.NResults
	if n <= 0 {
		n = retrieval.DefaultNPerQuery
	}
	docs, err := s.cfg.Retriever.Retrieve(ctx, retrieval.BuildQueries(in.UserInput, nil), n)
	if err != nil {
		s.log.Warn("mcpserver: reference retrieval failed", "error", err)
		return GetSQLQueryReferencesOutput{Status: refine.StatusError, Message: fmt.Sprintf("Error retrieving reference documents: %v", err)}
	}

	texts := make([]string, 0, len(docs))
	for _, d := range docs {
		texts = append(texts, d.Text)
	}
	raw, err := json.Marshal(texts)
	if err != nil {
		return GetSQLQueryReferencesOutput{Status: refine.StatusError, Message: fmt.Sprintf("Error encoding reference documents: %v", err)}
	}
	return GetSQLQueryReferencesOutput{
		Status:        refine.StatusSuccess,
		Message:       fmt.Sprintf("Retrieved %d reference documents", len(docs)),
		ReferenceDocs: string(raw),
		Documents:     docs,
	}
}
