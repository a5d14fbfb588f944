package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/querysynth/pkg/agent"
	"github.com/malbeclabs/querysynth/pkg/artifacts"
	"github.com/malbeclabs/querysynth/pkg/config"
	"github.com/malbeclabs/querysynth/pkg/embedding"
	"github.com/malbeclabs/querysynth/pkg/executor"
	"github.com/malbeclabs/querysynth/pkg/ledger"
	"github.com/malbeclabs/querysynth/pkg/llm"
	"github.com/malbeclabs/querysynth/pkg/mcpserver"
	"github.com/malbeclabs/querysynth/pkg/retrieval"
	"github.com/malbeclabs/querysynth/pkg/vectorindex"
)

const readinessTimeout = 60 * time.Second

// deps holds every component built from configuration.
type deps struct {
	executor  *executor.Executor
	embedder  *embedding.Client
	index     vectorindex.Index
	retriever *retrieval.Retriever
	sink      artifacts.Sink
	ledger    *ledger.Ledger
	pipeline  *agent.Pipeline // nil without a model key

	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// ready reports whether the database and the index respond.
func (d *deps) ready(ctx context.Context) error {
	return errors.Join(d.executor.Ping(ctx), d.index.Ping(ctx))
}

func buildDeps(ctx context.Context, log *slog.Logger, cfg *config.Config, requireLLM bool) (_ *deps, err error) {
	d := &deps{}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	var pgPool *pgxpool.Pool
	var pool executor.Pool
	if cfg.UsesPostgres() {
		log.Info("querysynth: connecting to postgres", "uri", config.RedactPostgresURI(cfg.PostgresURI))
		pp, err := executor.NewPgxPool(ctx, executor.PgxPoolConfig{Logger: log, URI: cfg.PostgresURI})
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pp.Close)
		pgPool, pool = pp.Raw(), pp
	} else {
		log.Info("querysynth: opening duckdb", "path", cfg.DuckDBPath)
		db, err := sql.Open("duckdb", cfg.DuckDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open duckdb: %w", err)
		}
		sp, err := executor.NewSQLPool(log, db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		d.closers = append(d.closers, sp.Close)
		pool = sp
	}
	if d.executor, err = executor.New(executor.Config{Logger: log, Pool: pool}); err != nil {
		return nil, err
	}

	if d.embedder, err = embedding.New(embedding.Config{
		Logger: log,
		URL:    cfg.EmbeddingURL,
		Model:  cfg.EmbeddingModel,
		APIKey: cfg.EmbeddingAPIKey,
	}); err != nil {
		return nil, err
	}

	switch cfg.VectorBackend {
	case config.VectorBackendPGVector:
		d.index, err = vectorindex.NewPGVector(vectorindex.PGVectorConfig{Logger: log, Pool: pgPool, Table: cfg.PGVectorTable})
	default:
		d.index, err = vectorindex.NewChroma(vectorindex.ChromaConfig{
			Logger:     log,
			BaseURL:    cfg.ChromaURL(),
			Tenant:     cfg.ChromaTenant,
			Database:   cfg.ChromaDatabase,
			Collection: cfg.ChromaCollection,
		})
	}
	if err != nil {
		return nil, err
	}

	if d.retriever, err = retrieval.New(retrieval.Config{Logger: log, Embedder: d.embedder, Index: d.index}); err != nil {
		return nil, err
	}

	if d.sink, err = buildSink(ctx, log, cfg); err != nil {
		return nil, err
	}

	store := ledger.Store(ledger.NewMemoryStore())
	if cfg.LedgerBackend == config.LedgerBackendPostgres {
		ps := ledger.NewPostgresStore(pgPool)
		if err := ps.Migrate(ctx); err != nil {
			return nil, err
		}
		store = ps
	}
	if d.ledger, err = ledger.New(ledger.Config{Logger: log, Store: store}); err != nil {
		return nil, err
	}

	if err := waitReady(ctx, log, d); err != nil {
		return nil, err
	}

	if cfg.AnthropicAPIKey == "" {
		if requireLLM {
			return nil, cfg.RequireLLM()
		}
		log.Warn("querysynth: ANTHROPIC_API_KEY not set, run_data_search is disabled")
		return d, nil
	}
	client, err := llm.NewAnthropic(llm.AnthropicConfig{
		Logger: log,
		APIKey: cfg.AnthropicAPIKey,
		Model:  anthropic.Model(cfg.AnthropicModel),
	})
	if err != nil {
		return nil, err
	}
	d.pipeline, err = agent.New(agent.Config{
		Logger:    log,
		LLM:       client,
		Retriever: d.retriever,
		Runner:    d.executor,
		Sink:      d.sink,
		Ledger:    d.ledger,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func buildSink(ctx context.Context, log *slog.Logger, cfg *config.Config) (artifacts.Sink, error) {
	if cfg.ArtifactS3Bucket == "" {
		return artifacts.NewFSSink(artifacts.FSSinkConfig{Logger: log, Root: cfg.ArtifactRoot})
	}
	client, err := artifacts.NewS3Client(ctx, artifacts.S3ClientConfig{
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return artifacts.NewS3Sink(artifacts.S3SinkConfig{
		Logger: log,
		Client: client,
		Bucket: cfg.ArtifactS3Bucket,
		Prefix: cfg.ArtifactS3Prefix,
	})
}

// waitReady retries the database and index pings with exponential backoff.
func waitReady(ctx context.Context, log *slog.Logger, d *deps) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := d.ready(ctx)
		if err != nil && attempt > 1 {
			log.Warn("querysynth: dependencies not ready, retrying", "attempt", attempt, "error", err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(readinessTimeout))
	if err != nil {
		return fmt.Errorf("dependencies not ready: %w", err)
	}
	return nil
}

// databaseContext describes the configured backends without credentials.
func databaseContext(cfg *config.Config) mcpserver.DatabaseContext {
	dc := mcpserver.DatabaseContext{
		DefaultTable:    cfg.DefaultTable,
		IndexBackend:    cfg.VectorBackend,
		IndexCollection: cfg.ChromaCollection,
		EmbeddingModel:  cfg.EmbeddingModel,
	}
	if cfg.UsesPostgres() {
		if u, err := url.Parse(cfg.PostgresURI); err == nil {
			dc.Database = strings.TrimPrefix(u.Path, "/")
			dc.Host = u.Hostname()
			dc.Port = u.Port()
		}
	} else {
		dc.Database = cfg.DuckDBPath
		dc.Host = "local"
	}
	switch cfg.VectorBackend {
	case config.VectorBackendPGVector:
		dc.IndexHost, dc.IndexPort = dc.Host, dc.Port
		dc.IndexCollection = cfg.PGVectorTable
	default:
		dc.IndexHost = cfg.ChromaHost
		dc.IndexPort = strconv.Itoa(cfg.ChromaPort)
	}
	return dc
}
