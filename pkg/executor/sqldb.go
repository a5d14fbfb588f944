package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// SQLPool adapts a database/sql handle, such as an embedded DuckDB.
type SQLPool struct {
	log *slog.Logger
	db  *sql.DB
}

func NewSQLPool(log *slog.Logger, db *sql.DB) (*SQLPool, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &SQLPool{log: log, db: db}, nil
}

func (p *SQLPool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *SQLPool) Close() {
	if err := p.db.Close(); err != nil {
		p.log.Error("executor: failed to close database", "error", err)
	}
}

func (p *SQLPool) Query(ctx context.Context, query string, maxRows, maxCols int) (ResultSet, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return ResultSet{}, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return ResultSet{}, err
	}
	defer rows.Close()

	allColumns, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("failed to get columns: %w", err)
	}
	columns := allColumns[:min(len(allColumns), maxCols)]

	records := []Record{}
	for len(records) < maxRows && rows.Next() {
		values := make([]any, len(allColumns))
		valuePtrs := make([]any, len(allColumns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return ResultSet{}, fmt.Errorf("failed to scan row: %w", err)
		}

		rec := make(Record, len(columns))
		for i, col := range columns {
			rec[col] = normalizeValue(values[i])
		}
		records = append(records, rec)
	}
	if len(records) < maxRows {
		if err := rows.Err(); err != nil {
			return ResultSet{}, err
		}
	}

	return ResultSet{Columns: append([]string(nil), columns...), Records: records}, nil
}

// normalizeValue turns driver-specific values into plain ones that encode
// cleanly as JSON and CSV.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case *big.Int:
		if val.IsInt64() {
			return val.Int64()
		}
		return val.String()
	default:
		return val
	}
}
