package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/andresuchdata/parquetwrite/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TaskService runs conversions and reads their recorded outcomes.
type TaskService interface {
	Run(ctx context.Context, req pipeline.Request) (domain.TaskStatusRecord, error)
	Find(ctx context.Context, id domain.TaskIdentity) (domain.TaskStatusRecord, bool, error)
}

type TaskHandler struct {
	tasks TaskService
	log   zerolog.Logger
}

func NewTaskHandler(tasks TaskService, log zerolog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, log: log}
}

// ConversionRequest is the JSON body of POST /conversions.
type ConversionRequest struct {
	WorkflowID     string         `json:"workflow_id" binding:"required"`
	RunID          string         `json:"run_id" binding:"required"`
	TaskID         string         `json:"task_id" binding:"required"`
	UpstreamTaskID string         `json:"upstream_task_id"`
	ReportName     string         `json:"report_name"`
	ReportDate     string         `json:"report_date"`
	ReportType     string         `json:"report_type"`
	QueryNamespace string         `json:"query_namespace" binding:"required"`
	Filter         map[string]any `json:"filter"`
	BucketField    string         `json:"bucket_field"`
	PathField      string         `json:"path_field"`
	RowCountField  string         `json:"row_count_field"`
	OrderField     string         `json:"order_field"`
	ColumnNames    []string       `json:"column_names" binding:"required"`
	ColumnTypes    []string       `json:"column_types" binding:"required"`
	Delimiter      string         `json:"delimiter"`
	Format         string         `json:"format" binding:"required"`
	OutputBucket   string         `json:"output_bucket" binding:"required"`
	OutputPath     string         `json:"output_path" binding:"required"`
	OutputFileName string         `json:"output_file_name"`
	Mode           string         `json:"mode"`
}

// ToPipelineRequest parses the schema, delimiter and mode of the body.
func (r ConversionRequest) ToPipelineRequest() (pipeline.Request, error) {
	schema, err := domain.ParseSchema(r.ColumnNames, r.ColumnTypes)
	if err != nil {
		return pipeline.Request{}, err
	}
	delimiter := r.Delimiter
	if delimiter == "" {
		delimiter = ","
	}
	sep, err := pipeline.ParseDelimiter(delimiter)
	if err != nil {
		return pipeline.Request{}, err
	}
	mode, err := domain.ParseRunMode(r.Mode)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		Identity:       domain.TaskIdentity{WorkflowID: r.WorkflowID, RunID: r.RunID, TaskID: r.TaskID},
		UpstreamTaskID: r.UpstreamTaskID,
		ReportName:     r.ReportName,
		ReportDate:     r.ReportDate,
		ReportType:     r.ReportType,
		Query: pipeline.JobQuery{
			Namespace:     r.QueryNamespace,
			Filter:        r.Filter,
			BucketField:   r.BucketField,
			PathField:     r.PathField,
			RowCountField: r.RowCountField,
			OrderField:    r.OrderField,
		},
		Schema:         schema,
		Delimiter:      sep,
		Format:         domain.Format(r.Format),
		OutputBucket:   r.OutputBucket,
		OutputPath:     r.OutputPath,
		OutputFileName: r.OutputFileName,
		Mode:           mode,
	}, nil
}

// CreateConversion runs one conversion synchronously and returns the stored record.
func (h *TaskHandler) CreateConversion(c *gin.Context) {
	var body ConversionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": domain.KindInvalidSchema})
		return
	}

	req, err := body.ToPipelineRequest()
	if err != nil {
		h.errorResponse(c, err, nil)
		return
	}

	rec, err := h.tasks.Run(c.Request.Context(), req)
	if err != nil {
		var stored *domain.TaskStatusRecord
		if rec.Status != "" {
			stored = &rec
		}
		h.errorResponse(c, err, stored)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetTask returns the recorded outcome of a task run.
func (h *TaskHandler) GetTask(c *gin.Context) {
	id := domain.TaskIdentity{
		WorkflowID: c.Param("workflow_id"),
		RunID:      c.Param("run_id"),
		TaskID:     c.Param("task_id"),
	}
	rec, found, err := h.tasks.Find(c.Request.Context(), id)
	if err != nil {
		h.errorResponse(c, err, nil)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "task status not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *TaskHandler) errorResponse(c *gin.Context, err error, rec *domain.TaskStatusRecord) {
	kind := domain.KindOf(err)
	status := StatusForKind(kind)
	event := h.log.Warn()
	if status >= http.StatusInternalServerError {
		event = h.log.Error()
	}
	event.Err(err).Str("kind", string(kind)).Str("path", c.Request.URL.Path).Msg("request failed")

	resp := gin.H{"error": err.Error(), "kind": kind}
	var de *domain.Error
	if errors.As(err, &de) && de.Kind == domain.KindCountMismatch {
		resp["delta"] = de.Delta
	}
	if rec != nil {
		resp["record"] = rec
	}
	c.JSON(status, resp)
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindConfigNotFound, domain.KindSourceNotFound:
		return http.StatusNotFound
	case domain.KindUnsupportedFormat, domain.KindInvalidSchema:
		return http.StatusBadRequest
	case domain.KindCountMismatch:
		return http.StatusConflict
	case domain.KindStorageUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
