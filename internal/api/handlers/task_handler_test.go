package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/andresuchdata/parquetwrite/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTasks struct {
	got     pipeline.Request
	rec     domain.TaskStatusRecord
	err     error
	found   bool
	findErr error
}

func (f *fakeTasks) Run(_ context.Context, req pipeline.Request) (domain.TaskStatusRecord, error) {
	f.got = req
	return f.rec, f.err
}

func (f *fakeTasks) Find(_ context.Context, id domain.TaskIdentity) (domain.TaskStatusRecord, bool, error) {
	f.got.Identity = id
	return f.rec, f.found, f.findErr
}

func newTestRouter(tasks TaskService) *gin.Engine {
	h := NewTaskHandler(tasks, zerolog.Nop())
	r := gin.New()
	r.POST("/conversions", h.CreateConversion)
	r.GET("/tasks/:workflow_id/:run_id/:task_id", h.GetTask)
	return r
}

func validBody() map[string]any {
	return map[string]any{
		"workflow_id":      "inventory_dag",
		"run_id":           "scheduled__2024-03-01",
		"task_id":          "parquet_write",
		"query_namespace":  "MergeReportTask",
		"filter":           map[string]any{"report_date": "2024-03-01"},
		"column_names":     []string{"sku", "qty"},
		"column_types":     []string{"string", "int"},
		"delimiter":        "pipe",
		"format":           "parquet",
		"output_bucket":    "curated",
		"output_path":      "inventory/2024-03-01",
		"output_file_name": "inventory.parquet",
		"mode":             "MANUAL",
	}
}

func post(t *testing.T, r http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/conversions", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateConversion_Success(t *testing.T) {
	tasks := &fakeTasks{rec: domain.TaskStatusRecord{
		WorkflowID: "inventory_dag", Status: domain.StatusSuccess, TotalRowCount: domain.Int64Ptr(3),
		ModifiedAt: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}}

	w := post(t, newTestRouter(tasks), validBody())

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, '|', tasks.got.Delimiter)
	assert.Equal(t, domain.RunModeManual, tasks.got.Mode)
	assert.Equal(t, domain.Format("parquet"), tasks.got.Format)
	assert.Equal(t, "inventory/2024-03-01/inventory.parquet", tasks.got.OutputObject())
	assert.Equal(t, []string{"string", "integer"}, tasks.got.Schema.Types())
	assert.Equal(t, "MergeReportTask", tasks.got.Query.Namespace)

	var rec domain.TaskStatusRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, domain.StatusSuccess, rec.Status)
	assert.Equal(t, int64(3), *rec.TotalRowCount)
}

func TestCreateConversion_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b map[string]any)
	}{
		{name: "missing task id", mutate: func(b map[string]any) { delete(b, "task_id") }},
		{name: "unknown column type", mutate: func(b map[string]any) { b["column_types"] = []string{"string", "money"} }},
		{name: "column length mismatch", mutate: func(b map[string]any) { b["column_types"] = []string{"string"} }},
		{name: "long delimiter", mutate: func(b map[string]any) { b["delimiter"] = "::" }},
		{name: "bad mode", mutate: func(b map[string]any) { b["mode"] = "forced" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := &fakeTasks{}
			body := validBody()
			tt.mutate(body)

			w := post(t, newTestRouter(tasks), body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"kind":"InvalidSchema"`)
			assert.Empty(t, tasks.got.Identity.TaskID, "pipeline must not run")
		})
	}
}

func TestCreateConversion_PipelineFailure(t *testing.T) {
	rec := domain.TaskStatusRecord{TaskID: "parquet_write", Status: domain.StatusFailure, ExceptionName: "CountMismatch"}
	tasks := &fakeTasks{rec: rec, err: domain.CountMismatchError(3, 5)}

	w := post(t, newTestRouter(tasks), validBody())

	require.Equal(t, http.StatusConflict, w.Code)
	var resp struct {
		Kind   string                   `json:"kind"`
		Delta  int64                    `json:"delta"`
		Record *domain.TaskStatusRecord `json:"record"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "CountMismatch", resp.Kind)
	assert.Equal(t, int64(2), resp.Delta)
	require.NotNil(t, resp.Record)
	assert.Equal(t, domain.StatusFailure, resp.Record.Status)
}

func TestGetTask(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		tasks := &fakeTasks{found: true, rec: domain.TaskStatusRecord{WorkflowID: "wf", RunID: "run", TaskID: "task", Status: domain.StatusSuccess}}
		w := httptest.NewRecorder()
		newTestRouter(tasks).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/wf/run/task", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, domain.TaskIdentity{WorkflowID: "wf", RunID: "run", TaskID: "task"}, tasks.got.Identity)
		assert.Contains(t, w.Body.String(), `"status":"success"`)
	})

	t.Run("missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		newTestRouter(&fakeTasks{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/wf/run/task", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("store down", func(t *testing.T) {
		tasks := &fakeTasks{findErr: domain.NewError(domain.KindStorageUnreachable, "timeout")}
		w := httptest.NewRecorder()
		newTestRouter(tasks).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/wf/run/task", nil))
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestStatusForKind(t *testing.T) {
	tests := map[domain.Kind]int{
		domain.KindConfigNotFound:     http.StatusNotFound,
		domain.KindSourceNotFound:     http.StatusNotFound,
		domain.KindUnsupportedFormat:  http.StatusBadRequest,
		domain.KindInvalidSchema:      http.StatusBadRequest,
		domain.KindCountMismatch:      http.StatusConflict,
		domain.KindStorageUnreachable: http.StatusBadGateway,
		domain.KindCredential:         http.StatusInternalServerError,
		domain.Kind(""):               http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusForKind(kind), string(kind))
	}
}
