package artifacts

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	resourcePrefix = "mcp://resources/"

	// ResourceURITemplate matches every URI built by ResourceURI.
	ResourceURITemplate = resourcePrefix + "{user_id}/{session_id}/{artifact_name}/versions/{version}"
)

// ResourceURI names a stored artifact version for MCP clients. Segments are
// percent-encoded down to unreserved characters so the URI also matches
// ResourceURITemplate.
func ResourceURI(loc Locator) (string, error) {
	if err := loc.Validate(); err != nil {
		return "", err
	}
	return resourcePrefix + escapeSegment(loc.UserID) + "/" + escapeSegment(loc.SessionID) + "/" +
		escapeSegment(loc.Name) + "/versions/" + strconv.Itoa(loc.Version), nil
}

// ParseResourceURI is the inverse of ResourceURI.
func ParseResourceURI(uri string) (Locator, error) {
	rest, ok := strings.CutPrefix(uri, resourcePrefix)
	if !ok {
		return Locator{}, fmt.Errorf("%w: %q is not an artifact resource", ErrInvalidLocator, uri)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 5 || parts[3] != "versions" {
		return Locator{}, fmt.Errorf("%w: %q is not an artifact resource", ErrInvalidLocator, uri)
	}

	var loc Locator
	for i, dst := range []*string{&loc.UserID, &loc.SessionID, &loc.Name} {
		v, err := url.PathUnescape(parts[i])
		if err != nil {
			return Locator{}, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
		}
		*dst = v
	}
	version, err := strconv.Atoi(parts[4])
	if err != nil {
		return Locator{}, fmt.Errorf("%w: version %q is not a number", ErrInvalidLocator, parts[4])
	}
	loc.Version = version
	return loc, loc.Validate()
}

func escapeSegment(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '-' || c == '.' || c == '_' || c == '~'
}
