package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/querysynth/pkg/agent"
	"github.com/malbeclabs/querysynth/pkg/artifacts"
	"github.com/malbeclabs/querysynth/pkg/embedding"
	"github.com/malbeclabs/querysynth/pkg/ledger"
	"github.com/malbeclabs/querysynth/pkg/vectorindex"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
	defaultListenAddr        = "0.0.0.0:8010"
)

// Pipeline runs a full data search for one invocation.
type Pipeline interface {
	Run(ctx context.Context, inv agent.Invocation) (*agent.Result, error)
}

// DatabaseContext describes the configured backends for get_database_context.
// Empty fields are reported as not configured.
type DatabaseContext struct {
	Database     string
	Host         string
	Port         string
	DefaultTable string

	IndexBackend    string
	IndexHost       string
	IndexPort       string
	IndexCollection string

	EmbeddingModel string
}

type Config struct {
	Logger *slog.Logger

	Runner    agent.QueryRunner
	Retriever agent.Retriever
	Embedder  embedding.Embedder
	Index     vectorindex.Index
	Sink      artifacts.Sink
	Ledger    *ledger.Ledger

	// Optional. run_data_search is only registered when set.
	Pipeline Pipeline

	// Optional readiness probe used by /readyz.
	Ready func(ctx context.Context) error

	Context DatabaseContext
	Clock   clockwork.Clock

	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedTokens     []string // Bearer tokens allowed for MCP endpoint authentication
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("query runner is required")
	}
	if c.Retriever == nil {
		return fmt.Errorf("retriever is required")
	}
	if c.Embedder == nil {
		return fmt.Errorf("embedder is required")
	}
	if c.Index == nil {
		return fmt.Errorf("index is required")
	}
	if c.Sink == nil {
		return fmt.Errorf("artifact sink is required")
	}
	if c.Ledger == nil {
		return fmt.Errorf("ledger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
