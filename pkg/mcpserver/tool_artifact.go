package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/malbeclabs/querysynth/pkg/agent"
	"github.com/malbeclabs/querysynth/pkg/artifacts"
	"github.com/malbeclabs/querysynth/pkg/refine"
)

// GetArtifactInput takes loosely typed values: clients send versions as
// numbers or strings.
type GetArtifactInput struct {
	UserID       any `json:"user_id,omitempty" jsonschema:"owner of the artifact"`
	SessionID    any `json:"session_id,omitempty" jsonschema:"session the artifact belongs to"`
	ArtifactName any `json:"artifact_name,omitempty" jsonschema:"the saved filename, e.g. query_result_20240102_150405.csv"`
	Version      any `json:"version,omitempty" jsonschema:"artifact version as a number or numeric string"`
}

type GetArtifactOutput struct {
	Status      refine.Status      `json:"status"`
	Message     string             `json:"message"`
	Locator     *artifacts.Locator `json:"locator,omitempty"`
	Location    string             `json:"location,omitempty"`
	MimeType    string             `json:"mime_type,omitempty"`
	ResourceURI string             `json:"resource_uri,omitempty"`
}

func (o GetArtifactOutput) status() refine.Status { return o.Status }

func (s *Server) registerGetArtifact() error {
	return addTool(s, toolGetArtifact, `
		Resolve one saved artifact version to its storage location, MIME type and resource URI.
		user_id, session_id, artifact_name and version are all required.
		Read the bytes through the returned resource URI.
	`, s.handleGetArtifact)
}

func (s *Server) handleGetArtifact(_ context.Context, in GetArtifactInput) GetArtifactOutput {
	loc, err := artifacts.ParseLocator(map[string]any{
		"user_id":       in.UserID,
		"session_id":    in.SessionID,
		"artifact_name": in.ArtifactName,
		"version":       in.Version,
	})
	if err != nil {
		return GetArtifactOutput{Status: refine.StatusError, Message: fmt.Sprintf("Error resolving artifact: %v", err)}
	}
	location, err := s.cfg.Sink.Location(loc)
	if err != nil {
		return GetArtifactOutput{Status: refine.StatusError, Message: fmt.Sprintf("Error resolving artifact: %v", err)}
	}
	uri, err := artifacts.ResourceURI(loc)
	if err != nil {
		return GetArtifactOutput{Status: refine.StatusError, Message: fmt.Sprintf("Error resolving artifact: %v", err)}
	}
	return GetArtifactOutput{
		Status:      refine.StatusSuccess,
		Message:     "Artifact resolved.",
		Locator:     &loc,
		Location:    location,
		MimeType:    artifacts.MimeTypeForFile(loc.Name),
		ResourceURI: uri,
	}
}

type SaveImageInput struct {
	Data         string `json:"data" jsonschema:"the image bytes, base64 encoded (PNG, JPEG or GIF)"`
	Filename     string `json:"filename,omitempty" jsonschema:"display name of the image; saved as user_input_<filename>"`
	UserQuery    string `json:"user_query,omitempty" jsonschema:"the request the image came with, recorded with the artifact"`
	UserID       string `json:"user_id,omitempty" jsonschema:"owner of the stored artifact"`
	SessionID    string `json:"session_id,omitempty" jsonschema:"session the artifact belongs to"`
	InvocationID string `json:"invocation_id,omitempty" jsonschema:"ledger key, generated when empty"`
}

type SaveImageOutput struct {
	Status       refine.Status `json:"status"`
	Message      string        `json:"message"`
	Filename     string        `json:"filename,omitempty"`
	Version      int           `json:"version"`
	MimeType     string        `json:"mime_type,omitempty"`
	Width        int           `json:"width,omitempty"`
	Height       int           `json:"height,omitempty"`
	InvocationID string        `json:"invocation_id,omitempty"`
	ResourceURI  string        `json:"resource_uri,omitempty"`
}

func (o SaveImageOutput) status() refine.Status { return o.Status }

func (s *Server) registerSaveImage() error {
	return addTool(s, toolSaveImage, `
		Save an image the user attached to a request.
		The image is stored as an artifact and recorded in the ledger with its pixel size.
	`, s.handleSaveImage)
}

func (s *Server) handleSaveImage(ctx context.Context, in SaveImageInput) SaveImageOutput {
	scope := callScope{UserID: in.UserID, SessionID: in.SessionID, InvocationID: in.InvocationID}.withDefaults()

	data, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return SaveImageOutput{Status: refine.StatusError, Message: fmt.Sprintf("Error decoding data: %v", err)}
	}
	inv := agent.Invocation{ID: scope.InvocationID, UserID: scope.UserID, SessionID: scope.SessionID, UserQuery: in.UserQuery}
	saved, err := agent.SaveImage(ctx, s.cfg.Sink, s.cfg.Ledger, inv, agent.ImageInput{DisplayName: in.Filename, Data: data})
	if err != nil {
		s.log.Info("mcpserver: save_image failed", "filename", in.Filename, "error", err)
		return SaveImageOutput{Status: refine.StatusError, Message: fmt.Sprintf("Error saving image: %v", err)}
	}

	return SaveImageOutput{
		Status:       refine.StatusSuccess,
		Message:      fmt.Sprintf("Image saved (%dx%d).", saved.Width, saved.Height),
		Filename:     saved.Filename,
		Version:      saved.Version,
		MimeType:     saved.MimeType,
		Width:        saved.Width,
		Height:       saved.Height,
		InvocationID: scope.InvocationID,
		ResourceURI:  s.publishArtifact(scope.artifact(saved.Filename, saved.Version), saved.MimeType, len(data)),
	}
}
