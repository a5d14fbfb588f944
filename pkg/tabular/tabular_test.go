package tabular

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/malbeclabs/querysynth/pkg/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResultSet() executor.ResultSet {
	return executor.ResultSet{
		Columns: []string{"region", "revenue"},
		Records: []executor.Record{
			{"region": "north", "revenue": 120.5},
			{"region": "south, east", "revenue": nil},
			{"region": "west", "revenue": int64(7)},
		},
	}
}

func TestTabular_EncodeCSV(t *testing.T) {
	t.Parallel()

	data, err := EncodeCSV(sampleResultSet())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}))

	body := string(data[3:])
	assert.Equal(t, "region,revenue\r\nnorth,120.5\r\n\"south, east\",null\r\nwest,7\r\n", body)
}

func TestTabular_EncodeCSV_Empty(t *testing.T) {
	t.Parallel()

	data, err := EncodeCSV(executor.ResultSet{Columns: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, "a\r\n", string(data[3:]))
}

func TestTabular_Render(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Render(&buf, sampleResultSet(), 2)
	out := buf.String()
	assert.Contains(t, out, "region")
	assert.Contains(t, out, "north")
	assert.Contains(t, out, "null")
	assert.NotContains(t, out, "west")
	assert.True(t, strings.Contains(out, "+"))
}

func TestTabular_Preview(t *testing.T) {
	t.Parallel()

	rs := sampleResultSet()
	assert.Len(t, Preview(rs, 10), 3)
	assert.Len(t, Preview(rs, 2), 2)
	assert.Empty(t, Preview(rs, 0))
}

func TestTabular_FormatValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2024-03-01", FormatValue(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-03-01 10:30:00", FormatValue(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "0.1", FormatValue(0.1))
}
