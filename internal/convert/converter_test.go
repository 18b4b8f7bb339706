package convert

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var skuSchema = domain.Schema{
	{Name: "sku", Type: domain.TypeString},
	{Name: "qty", Type: domain.TypeInteger},
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "merged.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestConverter(policy TimestampPolicy) *Converter {
	return NewConverter(zerolog.Nop(), policy)
}

func TestConvert_RoundTripPerFormat(t *testing.T) {
	src := writeSource(t, "sku1,10\nsku2,20\nsku3,30\n")

	tests := []struct {
		format   domain.Format
		file     string
		readBack func(t *testing.T, path string) int
	}{
		{format: domain.FormatColumnar, file: "out.parquet", readBack: countParquetRows},
		{format: "parquet", file: "alias.parquet", readBack: countParquetRows},
		{format: domain.FormatDelimitedText, file: "out.csv", readBack: countCSVRows},
		{format: domain.FormatSpreadsheet, file: "out.xlsx", readBack: countXLSXRows},
		{format: "excel", file: "alias.xlsx", readBack: countXLSXRows},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			out := filepath.Join(t.TempDir(), tt.file)
			res, err := newTestConverter(TimestampTruncate).Convert(context.Background(), domain.ConversionRequest{
				SourceFile: src,
				Schema:     skuSchema,
				Delimiter:  ',',
				Format:     tt.format,
			}, out)
			require.NoError(t, err)

			assert.Equal(t, int64(3), res.RowCount)
			assert.Equal(t, out, res.LocalArtifactPath)
			assert.Equal(t, 3, tt.readBack(t, out))
			assert.NoFileExists(t, out+partialSuffix)
		})
	}
}

func TestConvert_ParquetValues(t *testing.T) {
	src := writeSource(t, "sku1|10|1.5|true|2024-03-01 10:00:00.123456|2024-03-01\n|||||\n")
	schema := domain.Schema{
		{Name: "sku", Type: domain.TypeString},
		{Name: "qty", Type: domain.TypeInteger},
		{Name: "price", Type: domain.TypeFloat},
		{Name: "active", Type: domain.TypeBoolean},
		{Name: "seen_at", Type: domain.TypeTimestamp},
		{Name: "day", Type: domain.TypeDate},
	}
	out := filepath.Join(t.TempDir(), "out.parquet")

	res, err := newTestConverter(TimestampReject).Convert(context.Background(), domain.ConversionRequest{
		SourceFile: src,
		Schema:     schema,
		Delimiter:  '|',
		Format:     domain.FormatColumnar,
	}, out)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.RowCount)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	reader := parquet.NewReader(f)
	defer reader.Close()

	cols := map[string]int{}
	for i, path := range reader.Schema().Columns() {
		cols[path[0]] = i
	}
	require.Len(t, cols, 6)

	rows := make([]parquet.Row, 2)
	n, err := reader.ReadRows(rows)
	if err != nil {
		require.ErrorIs(t, err, io.EOF)
	}
	require.Equal(t, 2, n)

	first := rows[0]
	assert.Equal(t, "sku1", string(first[cols["sku"]].ByteArray()))
	assert.Equal(t, int64(10), first[cols["qty"]].Int64())
	assert.Equal(t, 1.5, first[cols["price"]].Double())
	assert.True(t, first[cols["active"]].Boolean())
	wantTS := time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC)
	assert.Equal(t, wantTS.UnixMicro(), first[cols["seen_at"]].Int64())
	wantDay := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay
	assert.Equal(t, int32(wantDay), first[cols["day"]].Int32())

	for name, idx := range cols {
		assert.True(t, rows[1][idx].IsNull(), "column %s should be null", name)
	}
}

func TestConvert_ParquetKeepsColumnOrder(t *testing.T) {
	src := writeSource(t, "sku1,10,2024-03-01\n")
	schema := domain.Schema{
		{Name: "sku", Type: domain.TypeString},
		{Name: "qty", Type: domain.TypeInteger},
		{Name: "day", Type: domain.TypeDate},
	}
	out := filepath.Join(t.TempDir(), "out.parquet")

	_, err := newTestConverter(TimestampTruncate).Convert(context.Background(), domain.ConversionRequest{
		SourceFile: src,
		Schema:     schema,
		Delimiter:  ',',
		Format:     domain.FormatColumnar,
	}, out)
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)
	pf, err := parquet.OpenFile(f, info.Size())
	require.NoError(t, err)

	var names []string
	for _, field := range pf.Schema().Fields() {
		names = append(names, field.Name())
		assert.True(t, field.Optional(), "column %s should be optional", field.Name())
	}
	assert.Equal(t, schema.Names(), names)

	reader := parquet.NewReader(f)
	defer reader.Close()
	rows := make([]parquet.Row, 1)
	n, err := reader.ReadRows(rows)
	if err != nil {
		require.ErrorIs(t, err, io.EOF)
	}
	require.Equal(t, 1, n)
	assert.Equal(t, "sku1", string(rows[0][0].ByteArray()))
	assert.Equal(t, int64(10), rows[0][1].Int64())
}

func TestConvert_RejectsMalformedSchema(t *testing.T) {
	tests := []struct {
		name   string
		schema domain.Schema
		format domain.Format
	}{
		{
			name:   "duplicate names",
			schema: domain.Schema{{Name: "x", Type: domain.TypeString}, {Name: "x", Type: domain.TypeString}},
			format: domain.FormatColumnar,
		},
		{
			name:   "blank name",
			schema: domain.Schema{{Name: "x", Type: domain.TypeString}, {Name: " ", Type: domain.TypeString}},
			format: domain.FormatDelimitedText,
		},
		{
			name:   "unknown type",
			schema: domain.Schema{{Name: "x", Type: domain.TypeString}, {Name: "y", Type: "money"}},
			format: domain.FormatSpreadsheet,
		},
		{
			name:   "comma in columnar name",
			schema: domain.Schema{{Name: "x", Type: domain.TypeString}, {Name: "a,b", Type: domain.TypeString}},
			format: domain.FormatColumnar,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeSource(t, "a|b\n")
			dir := t.TempDir()

			_, err := newTestConverter(TimestampTruncate).Convert(context.Background(), domain.ConversionRequest{
				SourceFile: src,
				Schema:     tt.schema,
				Delimiter:  '|',
				Format:     tt.format,
			}, filepath.Join(dir, "out"))

			assert.ErrorIs(t, err, domain.ErrInvalidSchema)
			entries, readErr := os.ReadDir(dir)
			require.NoError(t, readErr)
			assert.Empty(t, entries)
		})
	}
}

func TestConvert_UnsupportedFormatLeavesNoOutput(t *testing.T) {
	src := writeSource(t, "sku1,10\n")
	dir := t.TempDir()
	out := filepath.Join(dir, "out.xml")

	_, err := newTestConverter(TimestampTruncate).Convert(context.Background(), domain.ConversionRequest{
		SourceFile: src,
		Schema:     skuSchema,
		Delimiter:  ',',
		Format:     "xml",
	}, out)

	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestConvert_InvalidSourceData(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{name: "not an integer", content: "sku1,10\nsku2,ten\n", errText: `line 2 column "qty"`},
		{name: "too many fields", content: "sku1,10,extra\n", errText: "line 1"},
		{name: "too few fields", content: "sku1,10\nsku2\n", errText: "line 2"},
		{name: "bare quote", content: "sk\"u1,10\n", errText: "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := writeSource(t, tt.content)
			dir := t.TempDir()
			out := filepath.Join(dir, "out.parquet")

			_, err := newTestConverter(TimestampTruncate).Convert(context.Background(), domain.ConversionRequest{
				SourceFile: src,
				Schema:     skuSchema,
				Delimiter:  ',',
				Format:     domain.FormatColumnar,
			}, out)

			require.ErrorIs(t, err, domain.ErrInvalidSchema)
			assert.Contains(t, err.Error(), tt.errText)
			entries, readErr := os.ReadDir(dir)
			require.NoError(t, readErr)
			assert.Empty(t, entries)
		})
	}
}

func TestConvert_MissingSource(t *testing.T) {
	_, err := newTestConverter(TimestampTruncate).Convert(context.Background(), domain.ConversionRequest{
		SourceFile: filepath.Join(t.TempDir(), "absent.csv"),
		Schema:     skuSchema,
		Delimiter:  ',',
		Format:     domain.FormatDelimitedText,
	}, filepath.Join(t.TempDir(), "out.csv"))

	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConvert_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestConverter(TimestampTruncate).Convert(ctx, domain.ConversionRequest{
		SourceFile: writeSource(t, "sku1,10\n"),
		Schema:     skuSchema,
		Delimiter:  ',',
		Format:     domain.FormatDelimitedText,
	}, filepath.Join(t.TempDir(), "out.csv"))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadTable_TimestampPolicy(t *testing.T) {
	schema := domain.Schema{{Name: "seen_at", Type: domain.TypeTimestamp}}
	input := "2024-03-01T10:00:00.123456789Z\n2024-03-01 10:00:00\n"

	t.Run("truncate", func(t *testing.T) {
		table, stats, err := ReadTable(strings.NewReader(input), schema, ',', TimestampTruncate)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TruncatedTimestamps)
		assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC), table.Rows[0][0])
		assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), table.Rows[1][0])
	})

	t.Run("reject", func(t *testing.T) {
		_, _, err := ReadTable(strings.NewReader(input), schema, ',', TimestampReject)
		require.ErrorIs(t, err, domain.ErrInvalidSchema)
		assert.Contains(t, err.Error(), "finer than microsecond")
	})

	t.Run("offsets normalize to UTC", func(t *testing.T) {
		table, _, err := ReadTable(strings.NewReader("2024-03-01T12:00:00+02:00\n"), schema, ',', TimestampReject)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), table.Rows[0][0])
	})
}

func TestReadTable_Values(t *testing.T) {
	schema := domain.Schema{
		{Name: "name", Type: domain.TypeString},
		{Name: "n", Type: domain.TypeInteger},
		{Name: "x", Type: domain.TypeFloat},
		{Name: "ok", Type: domain.TypeBoolean},
	}
	table, _, err := ReadTable(strings.NewReader("\"a;b\";-7;2.25;FALSE\n;;;\n"), schema, ';', TimestampTruncate)
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []any{"a;b", int64(-7), 2.25, false}, table.Rows[0])
	assert.Equal(t, []any{nil, nil, nil, nil}, table.Rows[1])
}

func TestReadTable_RejectsBadInput(t *testing.T) {
	_, _, err := ReadTable(strings.NewReader("a\n"), nil, ',', TimestampTruncate)
	assert.ErrorIs(t, err, domain.ErrInvalidSchema)

	_, _, err = ReadTable(strings.NewReader("a\n"), skuSchema, '"', TimestampTruncate)
	assert.ErrorIs(t, err, domain.ErrInvalidSchema)

	_, _, err = ReadTable(strings.NewReader("a\n"), skuSchema, 0, TimestampTruncate)
	assert.ErrorIs(t, err, domain.ErrInvalidSchema)
}

func TestParseTimestampPolicy(t *testing.T) {
	p, err := ParseTimestampPolicy("")
	require.NoError(t, err)
	assert.Equal(t, TimestampTruncate, p)

	p, err = ParseTimestampPolicy("Reject")
	require.NoError(t, err)
	assert.Equal(t, TimestampReject, p)

	_, err = ParseTimestampPolicy("round")
	assert.Error(t, err)
}

func TestWriteAtomically_RemovesPartialOnFailure(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.parquet")

	err := writeAtomically(dest, func(w io.Writer) error {
		_, _ = w.Write([]byte("PAR1"))
		return errors.New("encoder failed")
	})

	require.EqualError(t, err, "encoder failed")
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+partialSuffix)
}

func TestWriteCSV_FormatsValues(t *testing.T) {
	table := &Table{
		Schema: domain.Schema{
			{Name: "sku", Type: domain.TypeString},
			{Name: "price", Type: domain.TypeFloat},
			{Name: "seen_at", Type: domain.TypeTimestamp},
			{Name: "day", Type: domain.TypeDate},
		},
		Rows: [][]any{
			{"sku1", 2.5, time.Date(2024, 3, 1, 10, 0, 0, 5000, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
			{nil, nil, nil, nil},
		},
	}
	var sb strings.Builder
	require.NoError(t, writeCSV(&sb, table))
	assert.Equal(t, "sku,price,seen_at,day\nsku1,2.5,2024-03-01 10:00:00.000005,2024-03-01\n,,,\n", sb.String())
}

func countParquetRows(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)

	pf, err := parquet.OpenFile(f, info.Size())
	require.NoError(t, err)
	return int(pf.NumRows())
}

func countCSVRows(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, []string{"sku", "qty"}, records[0])
	return len(records) - 1
}

func countXLSXRows(t *testing.T, path string) int {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"sku", "qty"}, rows[0])
	return len(rows) - 1
}
