package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMinConns        = 5
	defaultMaxConns        = 20
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 30 * time.Minute
	defaultConnectTimeout  = 10 * time.Second
)

type PgxPoolConfig struct {
	Logger   *slog.Logger
	URI      string
	MinConns int32
	MaxConns int32
}

func (c *PgxPoolConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.URI == "" {
		return fmt.Errorf("postgres uri is required")
	}
	if c.MinConns == 0 {
		c.MinConns = defaultMinConns
	}
	if c.MaxConns == 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min conns %d exceeds max conns %d", c.MinConns, c.MaxConns)
	}
	return nil
}

// PgxPool is a bounded PostgreSQL pool. Acquire blocks while all connections
// are in use.
type PgxPool struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewPgxPool opens the pool and verifies connectivity.
func NewPgxPool(ctx context.Context, cfg PgxPoolConfig) (*PgxPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate pgx pool config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MaxConnLifetime = defaultMaxConnLifetime
	poolConfig.MaxConnIdleTime = defaultMaxConnIdleTime

	connectCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	cfg.Logger.Info("executor: postgres pool created",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
		"minConns", cfg.MinConns,
		"maxConns", cfg.MaxConns)

	return &PgxPool{log: cfg.Logger, pool: pool}, nil
}

// Raw exposes the underlying pool for components sharing it.
func (p *PgxPool) Raw() *pgxpool.Pool {
	return p.pool
}

func (p *PgxPool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PgxPool) Close() {
	p.pool.Close()
}

func (p *PgxPool) Query(ctx context.Context, sql string, maxRows, maxCols int) (ResultSet, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return ResultSet{}, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return ResultSet{}, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, 0, min(len(fields), maxCols))
	for i := 0; i < len(fields) && i < maxCols; i++ {
		columns = append(columns, fields[i].Name)
	}

	records := []Record{}
	for len(records) < maxRows && rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return ResultSet{}, fmt.Errorf("failed to read row: %w", err)
		}
		rec := make(Record, len(columns))
		for i, col := range columns {
			rec[col] = normalizeValue(values[i])
		}
		records = append(records, rec)
	}
	// Rows past the cap are discarded by Close.
	if len(records) < maxRows {
		if err := rows.Err(); err != nil {
			return ResultSet{}, err
		}
	}

	return ResultSet{Columns: columns, Records: records}, nil
}
