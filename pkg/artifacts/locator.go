// Package artifacts stores the files produced by tool calls and resolves
// locators back to storage paths.
package artifacts

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrMissingLocator is returned when a locator lacks one of its required
	// fields.
	ErrMissingLocator = errors.New("artifact locator is incomplete")

	// ErrInvalidLocator is returned when a locator field is not a single path
	// segment.
	ErrInvalidLocator = errors.New("artifact locator is invalid")

	// ErrNotFound is returned when a sink holds no artifact at a locator.
	ErrNotFound = errors.New("artifact not found")
)

// Locator identifies one version of a stored artifact.
type Locator struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Name      string `json:"artifact_name"`
	Version   int    `json:"version"`
}

func (l Locator) Validate() error {
	for _, f := range []struct{ key, value string }{
		{"user_id", l.UserID},
		{"session_id", l.SessionID},
		{"artifact_name", l.Name},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %q is missing or empty", ErrMissingLocator, f.key)
		}
		if !isSegment(f.value) {
			return fmt.Errorf("%w: %q must be a single path segment, got %q", ErrInvalidLocator, f.key, f.value)
		}
	}
	if l.Version < 0 {
		return fmt.Errorf("%w: %q must not be negative", ErrMissingLocator, "version")
	}
	return nil
}

// isSegment reports whether v names exactly one directory entry, so joining
// it under a root cannot leave that root.
func isSegment(v string) bool {
	if v == "." || v == ".." {
		return false
	}
	return !strings.ContainsAny(v, "/\\\x00")
}

// ParseLocator builds a Locator from loosely typed input such as a decoded
// tool argument. All of user_id, session_id, artifact_name and version are
// required.
func ParseLocator(m map[string]any) (Locator, error) {
	var loc Locator
	for _, key := range []string{"user_id", "session_id", "artifact_name", "version"} {
		v, ok := m[key]
		if !ok || v == nil {
			return Locator{}, fmt.Errorf("%w: %q is missing or empty", ErrMissingLocator, key)
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			return Locator{}, fmt.Errorf("%w: %q is missing or empty", ErrMissingLocator, key)
		}
	}

	var ok bool
	if loc.UserID, ok = m["user_id"].(string); !ok {
		return Locator{}, fmt.Errorf("%w: %q must be a string", ErrMissingLocator, "user_id")
	}
	if loc.SessionID, ok = m["session_id"].(string); !ok {
		return Locator{}, fmt.Errorf("%w: %q must be a string", ErrMissingLocator, "session_id")
	}
	if loc.Name, ok = m["artifact_name"].(string); !ok {
		return Locator{}, fmt.Errorf("%w: %q must be a string", ErrMissingLocator, "artifact_name")
	}

	switch v := m["version"].(type) {
	case int:
		loc.Version = v
	case int64:
		loc.Version = int(v)
	case float64:
		loc.Version = int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Locator{}, fmt.Errorf("%w: %q is not a number", ErrMissingLocator, "version")
		}
		loc.Version = n
	default:
		return Locator{}, fmt.Errorf("%w: %q has unsupported type %T", ErrMissingLocator, "version", v)
	}
	return loc, loc.Validate()
}

// relPath is the slash-separated layout shared by every sink:
// <user>/sessions/<session>/artifacts/<name>/versions/<v>/<name>.
func (l Locator) relPath() string {
	return path.Join(l.versionsDir(), strconv.Itoa(l.Version), l.Name)
}

func (l Locator) versionsDir() string {
	return path.Join(l.UserID, "sessions", l.SessionID, "artifacts", l.Name, "versions")
}

// Resolve returns the filesystem path of the artifact under root.
func Resolve(root string, loc Locator) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("%w: artifact root is not configured", ErrMissingLocator)
	}
	if err := loc.Validate(); err != nil {
		return "", err
	}
	p := filepath.Join(root, filepath.FromSlash(loc.relPath()))
	if !within(root, p) {
		return "", fmt.Errorf("%w: %s resolves outside the artifact root", ErrInvalidLocator, p)
	}
	return p, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
