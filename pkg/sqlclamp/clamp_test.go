package sqlclamp

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func columns(n int) string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d", i+1)
	}
	return strings.Join(cols, ", ")
}

func TestSQLClamp_Clamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "large limit is lowered",
			in:   "SELECT * FROM t LIMIT 5000",
			want: "SELECT * FROM t LIMIT 300",
		},
		{
			name: "small limit is unchanged",
			in:   "SELECT * FROM t LIMIT 10",
			want: "SELECT * FROM t LIMIT 10",
		},
		{
			name: "limit at the cap is unchanged",
			in:   "select * from t limit 300",
			want: "select * from t limit 300",
		},
		{
			name: "missing limit is appended",
			in:   "SELECT * FROM t",
			want: "SELECT * FROM t LIMIT 300;",
		},
		{
			name: "trailing semicolons and whitespace are stripped before appending",
			in:   "SELECT * FROM t ; ;\n",
			want: "SELECT * FROM t LIMIT 300;",
		},
		{
			name: "trailing comment is dropped before appending",
			in:   "SELECT * FROM t -- all rows",
			want: "SELECT * FROM t LIMIT 300;",
		},
		{
			name: "limit with offset",
			in:   "SELECT a FROM t ORDER BY a LIMIT 1000 OFFSET 20",
			want: "SELECT a FROM t ORDER BY a LIMIT 300 OFFSET 20",
		},
		{
			name: "limit all is bounded",
			in:   "SELECT a FROM t LIMIT ALL",
			want: "SELECT a FROM t LIMIT 300",
		},
		{
			name: "fetch first is bounded",
			in:   "SELECT a FROM t FETCH FIRST 1000 ROWS ONLY",
			want: "SELECT a FROM t FETCH FIRST 300 ROWS ONLY",
		},
		{
			name: "subquery limit does not count as outer limit",
			in:   "SELECT * FROM (SELECT * FROM t LIMIT 5000) s",
			want: "SELECT * FROM (SELECT * FROM t LIMIT 5000) s LIMIT 300;",
		},
		{
			name: "limit inside a string literal is ignored",
			in:   "SELECT 'LIMIT 5000' AS note FROM t",
			want: "SELECT 'LIMIT 5000' AS note FROM t LIMIT 300;",
		},
		{
			name: "overflowing limit is lowered",
			in:   "SELECT a FROM t LIMIT 99999999999999999999999",
			want: "SELECT a FROM t LIMIT 300",
		},
		{
			name: "cte with outer limit",
			in:   "WITH x AS (SELECT a FROM t LIMIT 9999) SELECT a FROM x LIMIT 500",
			want: "WITH x AS (SELECT a FROM t LIMIT 9999) SELECT a FROM x LIMIT 300",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Clamp(tt.in))
		})
	}
}

func TestSQLClamp_Clamp_Columns(t *testing.T) {
	t.Parallel()

	t.Run("keeps first twenty columns and the from suffix", func(t *testing.T) {
		t.Parallel()

		got := Clamp("SELECT " + columns(25) + " FROM t")
		require.Equal(t, "SELECT "+columns(20)+" FROM t LIMIT 300;", got)
	})

	t.Run("twenty columns are unchanged", func(t *testing.T) {
		t.Parallel()

		in := "SELECT " + columns(20) + " FROM t LIMIT 5"
		require.Equal(t, in, Clamp(in))
	})

	t.Run("commas inside function calls are not column separators", func(t *testing.T) {
		t.Parallel()

		in := "SELECT coalesce(a, b, c), " + columns(19) + " FROM t LIMIT 5"
		require.Equal(t, in, Clamp(in))
	})

	t.Run("distinct on is skipped", func(t *testing.T) {
		t.Parallel()

		got := Clamp("SELECT DISTINCT ON (a, b) " + columns(22) + " FROM t LIMIT 5")
		require.Equal(t, "SELECT DISTINCT ON (a, b) "+columns(20)+" FROM t LIMIT 5", got)
	})

	t.Run("only the outer select list is clamped", func(t *testing.T) {
		t.Parallel()

		inner := "SELECT " + columns(25) + " FROM t"
		in := "SELECT c1 FROM (" + inner + ") s LIMIT 5"
		require.Equal(t, in, Clamp(in))
	})

	t.Run("select without from", func(t *testing.T) {
		t.Parallel()

		got := Clamp("SELECT " + columns(21))
		require.Equal(t, "SELECT "+columns(20)+" LIMIT 300;", got)
	})
}

func TestSQLClamp_Clamp_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"SELECT * FROM t LIMIT 5000",
		"SELECT * FROM t",
		"SELECT * FROM t;",
		"SELECT " + columns(25) + " FROM t",
		"SELECT " + columns(30) + " FROM t WHERE x = 'a, b' ORDER BY c1 LIMIT 10000",
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"SELECT a FROM t -- note",
		"SELECT 'unterminated",
	}
	for _, in := range inputs {
		once := Clamp(in)
		require.Equal(t, once, Clamp(once), "input: %s", in)
	}
}
