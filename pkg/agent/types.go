package agent

import (
	"github.com/malbeclabs/querysynth/pkg/executor"
	"github.com/malbeclabs/querysynth/pkg/ledger"
	"github.com/malbeclabs/querysynth/pkg/refine"
	"github.com/malbeclabs/querysynth/pkg/vectorindex"
)

// ExtractedColumnName is one column the user's request refers to.
type ExtractedColumnName struct {
	Name string `json:"extracted_column_name"`
}

type ExtractionResult struct {
	Items []ExtractedColumnName `json:"items"`
}

func (r ExtractionResult) Names() []string {
	out := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, it.Name)
	}
	return out
}

// SQLCandidate is one drafted statement. Iteration is the round that produced
// it.
type SQLCandidate struct {
	Text        string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
	Iteration   int    `json:"iteration"`
}

// Invocation identifies one end-to-end request.
type Invocation struct {
	ID        string
	UserID    string
	SessionID string
	UserQuery string
	// Images are stored and recorded before the request runs.
	Images []ImageInput
}

type ExtractionOutcome struct {
	Result     ExtractionResult
	Verdict    refine.Verdict
	Rounds     int
	Terminated bool
}

type GenerationOutcome struct {
	Candidate SQLCandidate
	// Query is the last execution, carrying the clamped SQL that ran.
	Query      executor.Result
	Verdict    refine.Verdict
	Rounds     int
	Terminated bool

	// Set when the result was stored. ArtifactErr reports a storage failure
	// after a successful query.
	Artifact    ledger.Artifact
	Version     int
	ArtifactErr error
}

// Result is everything one pipeline run produced.
type Result struct {
	Invocation Invocation
	Images     []*SavedImage
	Extraction ExtractionOutcome
	Documents  []vectorindex.Document
	// RetrievalErr is set when retrieval failed and generation ran without
	// reference documents.
	RetrievalErr error
	Generation   GenerationOutcome
}

type DataType string

const (
	DataImage         DataType = "image"
	DataMarkdownTable DataType = "markdown_table"
	DataCSVTable      DataType = "csv_table"
	DataExcelTable    DataType = "excel_table"
)

type ToolResponseData struct {
	Type    DataType `json:"type"`
	Content any      `json:"content"`
}

// ToolResponse is the payload returned to tool callers.
type ToolResponse struct {
	Status   refine.Status     `json:"status"`
	Message  string            `json:"message"`
	Data     *ToolResponseData `json:"data,omitempty"`
	Escalate bool              `json:"escalate,omitempty"`
}

// TableContent is the content of a csv_table response.
type TableContent struct {
	SQL     string            `json:"sql"`
	Records []executor.Record `json:"records"`
}

// FromVerdict wraps a loop verdict without data.
func FromVerdict(v refine.Verdict) ToolResponse {
	return ToolResponse{Status: v.Status, Message: v.Message, Escalate: v.Escalate}
}
