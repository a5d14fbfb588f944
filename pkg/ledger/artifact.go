package ledger

import (
	"encoding/json"
	"fmt"
)

type ArtifactType string

const (
	TypeImage ArtifactType = "img"
	TypeTable ArtifactType = "table"
)

// Base holds the fields every artifact carries.
type Base struct {
	Type           ArtifactType `json:"type"`
	Filename       string       `json:"filename"`
	MimeType       string       `json:"mime_type"`
	FunctionCallID string       `json:"function_call_id"`
	UserQuery      string       `json:"user_query"`
}

// Artifact is a *TableArtifact or an *ImageArtifact.
type Artifact interface {
	Kind() ArtifactType
	Common() Base
	clone() Artifact
}

type TableArtifact struct {
	Base
	SQLQuery   string `json:"sql_query,omitempty"`
	DataLength int    `json:"data_length"`
}

func (a *TableArtifact) Kind() ArtifactType { return TypeTable }
func (a *TableArtifact) Common() Base       { return a.Base }
func (a *TableArtifact) clone() Artifact {
	c := *a
	return &c
}

type ImageArtifact struct {
	Base
	// ImgSize is width and height in pixels.
	ImgSize *[2]int `json:"img_size,omitempty"`
}

func (a *ImageArtifact) Kind() ArtifactType { return TypeImage }
func (a *ImageArtifact) Common() Base       { return a.Base }
func (a *ImageArtifact) clone() Artifact {
	c := *a
	if a.ImgSize != nil {
		size := *a.ImgSize
		c.ImgSize = &size
	}
	return &c
}

// AppState is the ordered artifact list of one invocation.
type AppState struct {
	Artifacts []Artifact `json:"artifacts"`
}

func (s *AppState) clone() *AppState {
	if s == nil {
		return nil
	}
	out := &AppState{Artifacts: make([]Artifact, 0, len(s.Artifacts))}
	for _, a := range s.Artifacts {
		out.Artifacts = append(out.Artifacts, a.clone())
	}
	return out
}

func (s *AppState) UnmarshalJSON(data []byte) error {
	var raw struct {
		Artifacts []json.RawMessage `json:"artifacts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Artifacts = make([]Artifact, 0, len(raw.Artifacts))
	for _, r := range raw.Artifacts {
		var head struct {
			Type ArtifactType `json:"type"`
		}
		if err := json.Unmarshal(r, &head); err != nil {
			return err
		}
		var a Artifact
		switch head.Type {
		case TypeTable:
			a = &TableArtifact{}
		case TypeImage:
			a = &ImageArtifact{}
		default:
			return fmt.Errorf("unknown artifact type %q", head.Type)
		}
		if err := json.Unmarshal(r, a); err != nil {
			return fmt.Errorf("failed to decode %s artifact: %w", head.Type, err)
		}
		s.Artifacts = append(s.Artifacts, a)
	}
	return nil
}
