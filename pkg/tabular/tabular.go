// Package tabular encodes query results for storage and display.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/malbeclabs/querysynth/pkg/executor"
	"github.com/olekukonko/tablewriter"
)

// NullValue is written for missing values.
const NullValue = "null"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// EncodeCSV returns the result set as a UTF-8 CSV with a byte order mark and
// CRLF line endings, so spreadsheet tools open it with the right encoding.
func EncodeCSV(rs executor.ResultSet) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)
	w.UseCRLF = true
	if err := w.Write(rs.Columns); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, rec := range rs.Records {
		if err := w.Write(row(rs.Columns, rec)); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Render writes at most maxRows records as a bordered table. maxRows <= 0
// renders everything.
func Render(out io.Writer, rs executor.ResultSet, maxRows int) {
	table := tablewriter.NewWriter(out)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(rs.Columns)

	records := rs.Records
	if maxRows > 0 && len(records) > maxRows {
		records = records[:maxRows]
	}
	for _, rec := range records {
		table.Append(row(rs.Columns, rec))
	}
	table.Render()
}

// Preview returns the first n records.
func Preview(rs executor.ResultSet, n int) []executor.Record {
	if n < 0 || len(rs.Records) <= n {
		return rs.Records
	}
	return rs.Records[:n]
}

func row(columns []string, rec executor.Record) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = FormatValue(rec[c])
	}
	return out
}

// FormatValue renders a normalized database value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return NullValue
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.DateTime)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
