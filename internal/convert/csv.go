package convert

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/andresuchdata/parquetwrite/internal/domain"
)

const timestampTextLayout = "2006-01-02 15:04:05.999999"

// writeCSV re-emits the table as comma separated text with a header row.
func writeCSV(w io.Writer, table *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Schema.Names()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, len(table.Schema))
	for _, row := range table.Rows {
		for i, v := range row {
			record[i] = formatText(v, table.Schema[i].Type)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// formatText renders a cell for text-based outputs. Null is the empty string.
func formatText(v any, t domain.ColumnType) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if t == domain.TypeDate {
			return x.Format(dateLayout)
		}
		return x.Format(timestampTextLayout)
	}
	return fmt.Sprint(v)
}
