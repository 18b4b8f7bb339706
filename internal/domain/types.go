package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entity is one record in a metadata namespace.
type Entity struct {
	Key        string         `json:"key"`
	Properties map[string]any `json:"properties"`
}

// JobEntry is the upstream record selected by the locator. It is never mutated here.
type JobEntry struct {
	Key              string
	Status           string
	SourceBucket     string
	SourcePath       string
	JobID            string
	ExpectedRowCount *int64
	Properties       map[string]any
}

// Column is one named, typed column of the source file.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema is the ordered column list supplied out-of-band for a headerless source.
type Schema []Column

// ParseSchema pairs column names with type names. Every type must be known.
func ParseSchema(names, types []string) (Schema, error) {
	if len(names) != len(types) {
		return nil, NewError(KindInvalidSchema, "%d column names but %d column types", len(names), len(types))
	}
	schema := make(Schema, 0, len(names))
	for i, name := range names {
		t, ok := ParseColumnType(types[i])
		if !ok {
			return nil, NewError(KindInvalidSchema, "column %q has unsupported type %q", strings.TrimSpace(name), types[i])
		}
		schema = append(schema, Column{Name: strings.TrimSpace(name), Type: t})
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

// Validate requires at least one column, non-blank unique names and known types.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return NewError(KindInvalidSchema, "column list is empty")
	}
	seen := make(map[string]struct{}, len(s))
	for i, col := range s {
		if strings.TrimSpace(col.Name) == "" {
			return NewError(KindInvalidSchema, "column %d has an empty name", i+1)
		}
		if _, dup := seen[col.Name]; dup {
			return NewError(KindInvalidSchema, "column %q appears more than once", col.Name)
		}
		seen[col.Name] = struct{}{}
		if !col.Type.Valid() {
			return NewError(KindInvalidSchema, "column %q has unsupported type %q", col.Name, col.Type)
		}
	}
	return nil
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Types returns the canonical column type names in order.
func (s Schema) Types() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = string(c.Type)
	}
	return out
}

// ConversionRequest describes one conversion of a staged source file.
type ConversionRequest struct {
	SourceFile        string
	Schema            Schema
	Delimiter         rune
	Format            Format
	DestinationBucket string
	DestinationPath   string
}

// ConversionResult is produced once per request.
type ConversionResult struct {
	RowCount          int64
	LocalArtifactPath string
}

// TaskIdentity is the idempotency key of a status record.
type TaskIdentity struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	TaskID     string `json:"task_id"`
}

// Validate requires all three parts.
func (id TaskIdentity) Validate() error {
	var missing []string
	if strings.TrimSpace(id.WorkflowID) == "" {
		missing = append(missing, "workflow_id")
	}
	if strings.TrimSpace(id.RunID) == "" {
		missing = append(missing, "run_id")
	}
	if strings.TrimSpace(id.TaskID) == "" {
		missing = append(missing, "task_id")
	}
	if len(missing) > 0 {
		return NewError(KindInvalidSchema, "task identity is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Filter returns the equality predicate that selects this identity's record.
func (id TaskIdentity) Filter() map[string]any {
	return map[string]any{
		"workflow_id": id.WorkflowID,
		"run_id":      id.RunID,
		"task_id":     id.TaskID,
	}
}

// TaskStatusRecord is the persisted outcome of one task.
type TaskStatusRecord struct {
	WorkflowID       string         `json:"workflow_id"`
	RunID            string         `json:"run_id"`
	TaskID           string         `json:"task_id"`
	UpstreamTaskID   string         `json:"upstream_task_id"`
	ReportName       string         `json:"report_name"`
	ReportDate       string         `json:"report_date"`
	ColumnNames      []string       `json:"column_names"`
	ColumnTypes      []string       `json:"column_types"`
	OutputBucket     string         `json:"output_bucket"`
	OutputPath       string         `json:"output_path"`
	ExceptionName    string         `json:"exception_name"`
	ExceptionDetails string         `json:"exception_details"`
	Status           Status         `json:"status"`
	TotalRowCount    *int64         `json:"total_row_count"`
	ExpectedRowCount *int64         `json:"expected_row_count"`
	SourceRevisionID string         `json:"source_revision_id"`
	ReportType       string         `json:"report_type"`
	QueryNamespace   string         `json:"query_namespace"`
	FilterPredicate  map[string]any `json:"filter_predicate"`
	JobID            string         `json:"job_id"`
	CreatedAt        time.Time      `json:"created_at"`
	ModifiedAt       time.Time      `json:"modified_at"`
}

// Identity returns the record's idempotency key.
func (r TaskStatusRecord) Identity() TaskIdentity {
	return TaskIdentity{WorkflowID: r.WorkflowID, RunID: r.RunID, TaskID: r.TaskID}
}

// RecordInput carries everything known about one task outcome.
type RecordInput struct {
	Identity         TaskIdentity
	UpstreamTaskID   string
	ReportName       string
	ReportDate       string
	Schema           Schema
	OutputBucket     string
	OutputPath       string
	TotalRowCount    *int64
	ExpectedRowCount *int64
	SourceRevisionID string
	ReportType       string
	QueryNamespace   string
	FilterPredicate  map[string]any
	JobID            string
	// Err is nil for a successful run.
	Err error
}

// NewTaskStatusRecord builds the complete outcome record in one step. Status and
// exception fields derive from in.Err. Timestamps are left for the recorder.
func NewTaskStatusRecord(in RecordInput) TaskStatusRecord {
	rec := TaskStatusRecord{
		WorkflowID:       in.Identity.WorkflowID,
		RunID:            in.Identity.RunID,
		TaskID:           in.Identity.TaskID,
		UpstreamTaskID:   in.UpstreamTaskID,
		ReportName:       in.ReportName,
		ReportDate:       in.ReportDate,
		ColumnNames:      in.Schema.Names(),
		ColumnTypes:      in.Schema.Types(),
		OutputBucket:     in.OutputBucket,
		OutputPath:       in.OutputPath,
		Status:           StatusSuccess,
		TotalRowCount:    copyCount(in.TotalRowCount),
		ExpectedRowCount: copyCount(in.ExpectedRowCount),
		SourceRevisionID: in.SourceRevisionID,
		ReportType:       in.ReportType,
		QueryNamespace:   in.QueryNamespace,
		FilterPredicate:  copyMap(in.FilterPredicate),
		JobID:            in.JobID,
	}
	if in.Err != nil {
		rec.Status = StatusFailure
		rec.ExceptionName = string(KindOf(in.Err))
		if rec.ExceptionName == "" {
			rec.ExceptionName = "Error"
		}
		rec.ExceptionDetails = in.Err.Error()
	}
	return rec
}

// ToProperties flattens the record into metadata properties.
func (r TaskStatusRecord) ToProperties() (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal status record: %w", err)
	}
	props := make(map[string]any)
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("flatten status record: %w", err)
	}
	return props, nil
}

// TaskStatusRecordFromProperties rebuilds a record from stored properties.
func TaskStatusRecordFromProperties(props map[string]any) (TaskStatusRecord, error) {
	var rec TaskStatusRecord
	raw, err := json.Marshal(props)
	if err != nil {
		return rec, fmt.Errorf("marshal properties: %w", err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode status record: %w", err)
	}
	return rec, nil
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

func copyCount(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
