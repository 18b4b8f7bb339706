package convert

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andresuchdata/parquetwrite/internal/domain"
)

// TimestampPolicy decides what happens to timestamps finer than a microsecond.
type TimestampPolicy string

const (
	TimestampTruncate TimestampPolicy = "truncate"
	TimestampReject   TimestampPolicy = "reject"
)

// ParseTimestampPolicy accepts truncate or reject; empty means truncate.
func ParseTimestampPolicy(s string) (TimestampPolicy, error) {
	switch TimestampPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", TimestampTruncate:
		return TimestampTruncate, nil
	case TimestampReject:
		return TimestampReject, nil
	}
	return "", fmt.Errorf("timestamp policy %q must be truncate or reject", s)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
}

const dateLayout = "2006-01-02"

// Table is the typed in-memory form of a source file. Cell values are nil,
// string, int64, float64, bool or time.Time (timestamps and dates, UTC).
type Table struct {
	Schema domain.Schema
	Rows   [][]any
}

// RowCount is the table cardinality.
func (t *Table) RowCount() int64 {
	return int64(len(t.Rows))
}

// ParseStats reports lossy conversions made while parsing.
type ParseStats struct {
	TruncatedTimestamps int
}

// ReadTable parses headerless delimited text with the given column order and types.
func ReadTable(r io.Reader, schema domain.Schema, delimiter rune, policy TimestampPolicy) (*Table, ParseStats, error) {
	var stats ParseStats
	if len(schema) == 0 {
		return nil, stats, domain.NewError(domain.KindInvalidSchema, "column list is empty")
	}
	if err := validateDelimiter(delimiter); err != nil {
		return nil, stats, err
	}

	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.FieldsPerRecord = len(schema)
	reader.ReuseRecord = true

	table := &Table{Schema: schema}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, stats, domain.WrapError(domain.KindInvalidSchema, pe.Err, "line %d", pe.Line)
			}
			return nil, stats, fmt.Errorf("read source: %w", err)
		}

		line, _ := reader.FieldPos(0)
		row := make([]any, len(schema))
		for i, raw := range record {
			v, truncated, err := parseValue(raw, schema[i].Type, policy)
			if err != nil {
				return nil, stats, domain.WrapError(domain.KindInvalidSchema, err, "line %d column %q", line, schema[i].Name)
			}
			if truncated {
				stats.TruncatedTimestamps++
			}
			row[i] = v
		}
		table.Rows = append(table.Rows, row)
	}
	return table, stats, nil
}

func validateDelimiter(d rune) error {
	if d == 0 || d == '\r' || d == '\n' || d == '"' || d == utf8.RuneError || !utf8.ValidRune(d) {
		return domain.NewError(domain.KindInvalidSchema, "invalid delimiter %q", d)
	}
	return nil
}

// parseValue converts one field. Empty fields are null.
func parseValue(raw string, t domain.ColumnType, policy TimestampPolicy) (any, bool, error) {
	if raw == "" {
		return nil, false, nil
	}
	switch t {
	case domain.TypeString:
		return raw, false, nil
	case domain.TypeInteger:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("%q is not an integer", raw)
		}
		return v, false, nil
	case domain.TypeFloat:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, false, fmt.Errorf("%q is not a number", raw)
		}
		return v, false, nil
	case domain.TypeBoolean:
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, false, fmt.Errorf("%q is not a boolean", raw)
		}
		return v, false, nil
	case domain.TypeTimestamp:
		return parseTimestamp(strings.TrimSpace(raw), policy)
	case domain.TypeDate:
		v, err := time.Parse(dateLayout, strings.TrimSpace(raw))
		if err != nil {
			return nil, false, fmt.Errorf("%q is not a date (YYYY-MM-DD)", raw)
		}
		return v, false, nil
	}
	return nil, false, fmt.Errorf("unsupported column type %q", t)
}

func parseTimestamp(raw string, policy TimestampPolicy) (any, bool, error) {
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		ts = ts.UTC()
		micro := ts.Truncate(time.Microsecond)
		if micro.Equal(ts) {
			return ts, false, nil
		}
		if policy == TimestampReject {
			return nil, false, fmt.Errorf("timestamp %q is finer than microsecond precision", raw)
		}
		return micro, true, nil
	}
	return nil, false, fmt.Errorf("%q is not a timestamp", raw)
}
