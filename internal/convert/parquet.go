package convert

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/parquet-go/parquet-go"
)

const parquetSchemaName = "report"

// parquetField maps a column type to the Go type and tag options that yield
// an optional parquet leaf of that type.
func parquetField(t domain.ColumnType) (reflect.Type, string, error) {
	switch t {
	case domain.TypeString:
		return reflect.TypeOf(""), "", nil
	case domain.TypeInteger:
		return reflect.TypeOf(int64(0)), "", nil
	case domain.TypeFloat:
		return reflect.TypeOf(float64(0)), "", nil
	case domain.TypeBoolean:
		return reflect.TypeOf(false), "", nil
	case domain.TypeTimestamp:
		return reflect.TypeOf(int64(0)), ",timestamp(microsecond)", nil
	case domain.TypeDate:
		return reflect.TypeOf(int32(0)), ",date", nil
	}
	return nil, "", fmt.Errorf("no parquet mapping for column type %q", t)
}

// parquetSchema builds the file schema with leaves in the supplied column
// order. parquet.Group sorts its fields by name, a struct keeps them as declared.
func parquetSchema(schema domain.Schema) (*parquet.Schema, error) {
	fields := make([]reflect.StructField, len(schema))
	for i, col := range schema {
		if strings.ContainsRune(col.Name, ',') {
			return nil, domain.NewError(domain.KindInvalidSchema, "column %q: names written to parquet cannot contain a comma", col.Name)
		}
		typ, opts, err := parquetField(col.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = reflect.StructField{
			Name: fmt.Sprintf("Col%d", i),
			Type: typ,
			Tag:  reflect.StructTag("parquet:" + strconv.Quote(col.Name+",optional"+opts)),
		}
	}
	return parquet.NewSchema(parquetSchemaName, parquet.SchemaOf(reflect.New(reflect.StructOf(fields)).Interface())), nil
}

// writeParquet encodes the table as Snappy-compressed Parquet.
func writeParquet(w io.Writer, table *Table) error {
	schema, err := parquetSchema(table.Schema)
	if err != nil {
		return err
	}

	writer := parquet.NewWriter(w, schema, parquet.Compression(&parquet.Snappy))

	const batchSize = 1024
	batch := make([]parquet.Row, 0, batchSize)
	for _, values := range table.Rows {
		row := make(parquet.Row, len(values))
		for i, v := range values {
			row[i] = parquetValue(v, table.Schema[i].Type).Level(0, definitionLevel(v), i)
		}
		batch = append(batch, row)
		if len(batch) == batchSize {
			if _, err := writer.WriteRows(batch); err != nil {
				return fmt.Errorf("write parquet rows: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if _, err := writer.WriteRows(batch); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func definitionLevel(v any) int {
	if v == nil {
		return 0
	}
	return 1
}

func parquetValue(v any, t domain.ColumnType) parquet.Value {
	if v == nil {
		return parquet.NullValue()
	}
	switch x := v.(type) {
	case string:
		return parquet.ByteArrayValue([]byte(x))
	case int64:
		return parquet.Int64Value(x)
	case float64:
		return parquet.DoubleValue(x)
	case bool:
		return parquet.BooleanValue(x)
	case time.Time:
		if t == domain.TypeDate {
			return parquet.Int32Value(int32(x.Unix() / secondsPerDay))
		}
		return parquet.Int64Value(x.UnixMicro())
	}
	return parquet.NullValue()
}

const secondsPerDay = 24 * 60 * 60
