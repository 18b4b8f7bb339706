package domain

import (
	"sort"
	"strings"
)

// Format is a target serialization.
type Format string

const (
	FormatColumnar      Format = "columnar"
	FormatDelimitedText Format = "delimited-text"
	FormatSpreadsheet   Format = "spreadsheet"
)

var formatAliases = map[string]Format{
	"columnar":       FormatColumnar,
	"parquet":        FormatColumnar,
	"delimited-text": FormatDelimitedText,
	"csv":            FormatDelimitedText,
	"spreadsheet":    FormatSpreadsheet,
	"excel":          FormatSpreadsheet,
	"xlsx":           FormatSpreadsheet,
}

// ParseFormat returns the target format for a name or alias (case-insensitive).
func ParseFormat(name string) (Format, error) {
	if f, ok := formatAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return f, nil
	}
	return "", NewError(KindUnsupportedFormat, "target format %q is not one of %s", name, strings.Join(FormatNames(), ", "))
}

// FormatNames lists every accepted format name, sorted.
func FormatNames() []string {
	names := make([]string, 0, len(formatAliases))
	for k := range formatAliases {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// RunMode toggles the row count check.
type RunMode string

const (
	RunModeNormal RunMode = "normal"
	RunModeManual RunMode = "manual"
)

// ParseRunMode accepts "normal" or "manual"; empty means normal.
func ParseRunMode(s string) (RunMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(RunModeNormal):
		return RunModeNormal, nil
	case string(RunModeManual):
		return RunModeManual, nil
	}
	return "", NewError(KindInvalidSchema, "run mode %q must be normal or manual", s)
}

// Status is the outcome of one task.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ColumnType is a supported source column type.
type ColumnType string

const (
	TypeString    ColumnType = "string"
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeDate      ColumnType = "date"
)

var columnTypeAliases = map[string]ColumnType{
	"string":         TypeString,
	"str":            TypeString,
	"object":         TypeString,
	"text":           TypeString,
	"int":            TypeInteger,
	"integer":        TypeInteger,
	"int64":          TypeInteger,
	"int32":          TypeInteger,
	"long":           TypeInteger,
	"float":          TypeFloat,
	"float64":        TypeFloat,
	"double":         TypeFloat,
	"number":         TypeFloat,
	"bool":           TypeBoolean,
	"boolean":        TypeBoolean,
	"timestamp":      TypeTimestamp,
	"datetime":       TypeTimestamp,
	"datetime64[ns]": TypeTimestamp,
	"date":           TypeDate,
}

// Valid reports whether t is one of the canonical column types.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeTimestamp, TypeDate:
		return true
	}
	return false
}

// ParseColumnType returns the column type for a name or alias (case-insensitive).
func ParseColumnType(name string) (ColumnType, bool) {
	t, ok := columnTypeAliases[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}
