// Package ledger records the artifacts produced for each invocation.
//
// Appends read the whole invocation state, copy it, add one artifact and
// write it back. They are serialized per invocation, so concurrent tool calls
// within one invocation cannot lose each other's writes, while different
// invocations never block one another.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/malbeclabs/querysynth/pkg/metrics"
)

// ValidationError reports an unsupported artifact type.
type ValidationError struct {
	Type string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("unsupported artifact type: %q", e.Type)
}

// Metadata describes a saved artifact. Fields that do not apply to the
// artifact type are ignored.
type Metadata struct {
	Filename       string
	MimeType       string
	FunctionCallID string
	UserQuery      string

	SQLQuery   string
	DataLength int

	ImgSize *[2]int
}

type Config struct {
	Logger *slog.Logger
	Store  Store
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Store == nil {
		c.Store = NewMemoryStore()
	}
	return nil
}

type Ledger struct {
	log   *slog.Logger
	store Store

	// mu is held for reading by per-invocation operations and for writing by
	// ClearAll.
	mu      sync.RWMutex
	locksMu sync.Mutex
	locks   map[string]*keyLock
}

// keyLock is dropped from Ledger.locks when its last holder or waiter leaves.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate ledger config: %w", err)
	}
	return &Ledger{
		log:   cfg.Logger,
		store: cfg.Store,
		locks: make(map[string]*keyLock),
	}, nil
}

func (l *Ledger) lock(invocationID string) func() {
	l.mu.RLock()
	l.locksMu.Lock()
	k, ok := l.locks[invocationID]
	if !ok {
		k = &keyLock{}
		l.locks[invocationID] = k
	}
	k.refs++
	l.locksMu.Unlock()

	k.mu.Lock()
	return func() {
		k.mu.Unlock()
		l.locksMu.Lock()
		if k.refs--; k.refs == 0 {
			delete(l.locks, invocationID)
		}
		l.locksMu.Unlock()
		l.mu.RUnlock()
	}
}

// Append builds an artifact of the given type and adds it to the
// invocation's state, creating the state on first use.
func (l *Ledger) Append(ctx context.Context, invocationID string, artifactType ArtifactType, md Metadata) (Artifact, error) {
	var artifact Artifact
	switch artifactType {
	case TypeImage:
		callID := md.FunctionCallID
		if callID == "" {
			callID = "user_input_from_invocation_" + invocationID
		}
		artifact = &ImageArtifact{
			Base: Base{
				Type:           TypeImage,
				Filename:       md.Filename,
				MimeType:       md.MimeType,
				FunctionCallID: callID,
				UserQuery:      md.UserQuery,
			},
			ImgSize: md.ImgSize,
		}
	case TypeTable:
		artifact = &TableArtifact{
			Base: Base{
				Type:           TypeTable,
				Filename:       md.Filename,
				MimeType:       md.MimeType,
				FunctionCallID: md.FunctionCallID,
				UserQuery:      md.UserQuery,
			},
			SQLQuery:   md.SQLQuery,
			DataLength: md.DataLength,
		}
	default:
		metrics.LedgerAppendsTotal.WithLabelValues(string(artifactType), "error").Inc()
		l.log.Error("ledger: unsupported artifact type", "invocationID", invocationID, "type", artifactType)
		return nil, &ValidationError{Type: string(artifactType)}
	}

	unlock := l.lock(invocationID)
	defer unlock()

	current, _, err := l.store.Load(ctx, invocationID)
	if err != nil {
		metrics.LedgerAppendsTotal.WithLabelValues(string(artifactType), "error").Inc()
		return nil, fmt.Errorf("failed to load state for %s: %w", invocationID, err)
	}
	next := current.clone()
	if next == nil {
		next = &AppState{}
	}
	next.Artifacts = append(next.Artifacts, artifact)

	if err := l.store.Save(ctx, invocationID, next); err != nil {
		metrics.LedgerAppendsTotal.WithLabelValues(string(artifactType), "error").Inc()
		return nil, fmt.Errorf("failed to save state for %s: %w", invocationID, err)
	}

	metrics.LedgerAppendsTotal.WithLabelValues(string(artifactType), "success").Inc()
	l.log.Info("ledger: artifact added",
		"invocationID", invocationID,
		"type", artifactType,
		"filename", md.Filename,
		"count", len(next.Artifacts))
	return artifact.clone(), nil
}

// Get returns a copy of the invocation's state, or nil if it has none.
func (l *Ledger) Get(ctx context.Context, invocationID string) (*AppState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, ok, err := l.store.Load(ctx, invocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load state for %s: %w", invocationID, err)
	}
	if !ok {
		return nil, nil
	}
	return state.clone(), nil
}

// Delete removes the invocation's state and reports whether it existed.
func (l *Ledger) Delete(ctx context.Context, invocationID string) (bool, error) {
	unlock := l.lock(invocationID)
	defer unlock()

	ok, err := l.store.Delete(ctx, invocationID)
	if err != nil {
		return false, fmt.Errorf("failed to delete state for %s: %w", invocationID, err)
	}
	return ok, nil
}

func (l *Ledger) GetAll(ctx context.Context) (map[string]*AppState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all, err := l.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load states: %w", err)
	}
	out := make(map[string]*AppState, len(all))
	for id, s := range all {
		out[id] = s.clone()
	}
	return out, nil
}

func (l *Ledger) ClearAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear states: %w", err)
	}
	return nil
}
