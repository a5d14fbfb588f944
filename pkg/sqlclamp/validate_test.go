package sqlclamp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLClamp_Validate(t *testing.T) {
	t.Parallel()

	valid := []string{
		"SELECT * FROM t",
		"select region, sum(revenue) from sales group by region;",
		"WITH x AS (SELECT 1 AS a) SELECT a FROM x",
		"(SELECT a FROM t) UNION (SELECT a FROM u)",
		"VALUES (1), (2)",
		"SELECT 'DROP TABLE t; DELETE FROM u' AS s",
		"SELECT \"update\" FROM t",
		"SELECT a FROM t -- delete later\n",
		"SELECT a FROM t LIMIT ALL",
		"SELECT E'it\\'s' AS s",
		"SELECT $$ ; $$ AS s",
		"SELECT created_at FROM t",
	}
	for _, sql := range valid {
		t.Run("accepts "+sql, func(t *testing.T) {
			t.Parallel()
			require.NoError(t, Validate(sql))
		})
	}

	invalid := []struct {
		sql    string
		reason string
	}{
		{"", "empty query"},
		{"  ;  ", "empty query"},
		{"SELECT 1; SELECT 2", "multiple statements"},
		{"SELECT 1; DROP TABLE t", "multiple statements"},
		{"DELETE FROM t", "read-only"},
		{"UPDATE t SET a = 1", "read-only"},
		{"WITH x AS (DELETE FROM t RETURNING *) SELECT * FROM x", "DELETE"},
		{"WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x", "INSERT"},
		{"SELECT * INTO backup FROM t", "SELECT INTO"},
		{"SELECT * FROM t FOR UPDATE", "UPDATE"},
		{"SELECT 'open", "unterminated string"},
		{"SELECT (a FROM t", "unbalanced"},
		{"SELECT a FROM t LIMIT $1", "integer literal"},
		{"SELECT a FROM t LIMIT 1.5", "integer literal"},
		{"SELECT a FROM t LIMIT", "without a value"},
	}
	for _, tt := range invalid {
		t.Run("rejects "+tt.sql, func(t *testing.T) {
			t.Parallel()

			err := Validate(tt.sql)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Contains(t, verr.Reason, tt.reason)
			require.Equal(t, tt.sql, verr.SQL)
		})
	}
}
