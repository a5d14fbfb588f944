package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/malbeclabs/querysynth/pkg/metrics"
)

// Sink persists artifact bytes and assigns each save a new version,
// starting at 0.
type Sink interface {
	Save(ctx context.Context, loc Locator, filename, mimeType string, data []byte) (int, error)
	// Open returns the bytes of one stored version, or ErrNotFound.
	Open(ctx context.Context, loc Locator) ([]byte, error)
	// Location is the filesystem path or object URL of a version.
	Location(loc Locator) (string, error)
}

type FSSinkConfig struct {
	Logger *slog.Logger
	Root   string
}

func (c *FSSinkConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Root == "" {
		return fmt.Errorf("%w: artifact root is not configured", ErrMissingLocator)
	}
	return nil
}

// FSSink writes artifacts to the local filesystem.
type FSSink struct {
	log  *slog.Logger
	root string

	mu sync.Mutex
}

func NewFSSink(cfg FSSinkConfig) (*FSSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate fs sink config: %w", err)
	}
	return &FSSink{log: cfg.Logger, root: cfg.Root}, nil
}

func (s *FSSink) Root() string { return s.root }

// Save writes data as the next version of filename. loc.Name and
// loc.Version are ignored.
func (s *FSSink) Save(ctx context.Context, loc Locator, filename, mimeType string, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	loc.Name = filename
	loc.Version = 0
	if err := loc.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, filepath.FromSlash(loc.versionsDir()))
	version, err := nextLocalVersion(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list versions of %s: %w", filename, err)
	}
	loc.Version = version

	p, err := Resolve(s.root, loc)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write artifact: %w", err)
	}

	metrics.ArtifactBytesTotal.WithLabelValues(mimeType).Add(float64(len(data)))
	s.log.Info("artifacts: saved", "path", p, "version", version, "mimeType", mimeType, "bytes", len(data))
	return version, nil
}

func (s *FSSink) Open(ctx context.Context, loc Locator) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := Resolve(s.root, loc)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

func (s *FSSink) Location(loc Locator) (string, error) {
	return Resolve(s.root, loc)
}

func nextLocalVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	next := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if v, err := strconv.Atoi(e.Name()); err == nil && v >= next {
			next = v + 1
		}
	}
	return next, nil
}
