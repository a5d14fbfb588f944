// Package executor runs one bounded query per call against a pooled
// connection and returns its result as column-keyed records.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/malbeclabs/querysynth/pkg/metrics"
	"github.com/malbeclabs/querysynth/pkg/sqlclamp"
)

// Record is one row keyed by column name.
type Record map[string]any

type ResultSet struct {
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
}

// ExecutionError carries the database's message and the statement that
// produced it.
type ExecutionError struct {
	SQL     string
	Message string
}

func (e *ExecutionError) Error() string {
	return "Error while querying DB: " + e.Message
}

// Result is what every execution returns. Err is nil on success.
type Result struct {
	SQL       string
	ResultSet ResultSet
	Err       error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Pool runs a statement on one scoped connection, reading at most maxRows rows
// and the first maxCols columns. Implementations release the connection on
// every path.
type Pool interface {
	Query(ctx context.Context, sql string, maxRows, maxCols int) (ResultSet, error)
	Ping(ctx context.Context) error
	Close()
}

type Config struct {
	Logger  *slog.Logger
	Pool    Pool
	MaxRows int
	MaxCols int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Pool == nil {
		return fmt.Errorf("pool is required")
	}
	if c.MaxRows <= 0 || c.MaxRows > sqlclamp.MaxResultRows {
		c.MaxRows = sqlclamp.MaxResultRows
	}
	if c.MaxCols <= 0 || c.MaxCols > sqlclamp.MaxResultColumns {
		c.MaxCols = sqlclamp.MaxResultColumns
	}
	return nil
}

type Executor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate executor config: %w", err)
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

func (e *Executor) Ping(ctx context.Context) error {
	return e.cfg.Pool.Ping(ctx)
}

// Sanitize replaces non-breaking spaces with plain spaces.
func Sanitize(sql string) string {
	return strings.ReplaceAll(sql, "\u00a0", " ")
}

// Execute runs sql as given. It does not retry.
func (e *Executor) Execute(ctx context.Context, sql string) Result {
	start := time.Now()
	rs, err := e.cfg.Pool.Query(ctx, sql, e.cfg.MaxRows, e.cfg.MaxCols)
	metrics.DatabaseQueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DatabaseQueriesTotal.WithLabelValues("error").Inc()
		e.log.Info("executor: query returned error", "sql", sql, "error", err)
		return Result{SQL: sql, Err: &ExecutionError{SQL: sql, Message: err.Error()}}
	}
	metrics.DatabaseQueriesTotal.WithLabelValues("success").Inc()
	e.log.Debug("executor: query executed", "rows", len(rs.Records), "columns", len(rs.Columns), "duration", time.Since(start))
	return Result{SQL: sql, ResultSet: rs}
}

// Run validates, clamps and executes sql. A rejected statement is reported in
// Result.Err as a *sqlclamp.ValidationError and never reaches the database.
func (e *Executor) Run(ctx context.Context, sql string) Result {
	sql = Sanitize(sql)
	if err := sqlclamp.Validate(sql); err != nil {
		return Result{SQL: sql, Err: err}
	}
	return e.Execute(ctx, sqlclamp.Clamp(sql))
}
