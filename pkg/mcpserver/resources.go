package mcpserver

import (
	"context"
	"errors"
	"strings"

	"github.com/malbeclabs/querysynth/pkg/artifacts"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxListedResources bounds how many saved artifacts resources/list reports.
// Older ones stay readable through the artifact template.
const maxListedResources = 500

func (s *Server) registerArtifactTemplate() {
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "artifact",
		Title:       "Stored artifact",
		Description: "One saved version of a query result, search result or image.",
		URITemplate: artifacts.ResourceURITemplate,
	}, s.readArtifact)
}

// publishArtifact lists a saved artifact version as a resource and returns
// its URI.
func (s *Server) publishArtifact(loc artifacts.Locator, mimeType string, size int) string {
	uri, err := artifacts.ResourceURI(loc)
	if err != nil {
		s.log.Warn("mcpserver: artifact not published", "name", loc.Name, "error", err)
		return ""
	}
	s.mcp.AddResource(&mcp.Resource{
		URI:      uri,
		Name:     loc.Name,
		MIMEType: mimeType,
		Size:     int64(size),
	}, s.readArtifact)

	s.resourcesMu.Lock()
	s.resources = append(s.resources, uri)
	var evicted []string
	if n := len(s.resources) - maxListedResources; n > 0 {
		evicted = append(evicted, s.resources[:n]...)
		s.resources = append(s.resources[:0], s.resources[n:]...)
	}
	s.resourcesMu.Unlock()
	if len(evicted) > 0 {
		s.mcp.RemoveResources(evicted...)
	}

	s.log.Debug("mcpserver: published artifact", "uri", uri)
	return uri
}

func (s *Server) readArtifact(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	loc, err := artifacts.ParseResourceURI(uri)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	data, err := s.cfg.Sink.Open(ctx, loc)
	if errors.Is(err, artifacts.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	if err != nil {
		s.log.Error("mcpserver: failed to read artifact", "uri", uri, "error", err)
		return nil, err
	}

	mimeType := artifacts.MimeTypeForFile(loc.Name)
	contents := &mcp.ResourceContents{URI: uri, MIMEType: mimeType}
	if isTextMime(mimeType) {
		contents.Text = string(data)
	} else {
		contents.Blob = data
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{contents}}, nil
}

func isTextMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") || mimeType == "application/json"
}
