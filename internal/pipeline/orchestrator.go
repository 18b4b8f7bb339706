package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/andresuchdata/parquetwrite/internal/metadata"
	"github.com/andresuchdata/parquetwrite/internal/notify"
	"github.com/andresuchdata/parquetwrite/internal/storage"
	"github.com/rs/zerolog"
)

// Converter turns a staged source file into the requested format.
type Converter interface {
	Convert(ctx context.Context, req domain.ConversionRequest, localOutput string) (domain.ConversionResult, error)
}

// Config holds the per-process settings of a pipeline.
type Config struct {
	// StagingDir is the parent of each run's private working directory.
	StagingDir      string
	StatusNamespace string
	SourceRevision  string
}

// Pipeline runs locate, stage, convert, validate, publish and record for one
// request at a time. Runs share no mutable state.
type Pipeline struct {
	cfg       Config
	locator   *Locator
	stager    *Stager
	converter Converter
	validator *Validator
	publisher *Publisher
	recorder  *Recorder
	notifier  notify.Notifier
	log       zerolog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock sets the recorder clock.
func WithClock(clock Clock) Option {
	return func(p *Pipeline) { p.recorder.clock = clock }
}

// WithNotifier publishes every stored record.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

func New(cfg Config, store metadata.Store, provider storage.Provider, converter Converter, log zerolog.Logger, opts ...Option) *Pipeline {
	if cfg.StatusNamespace == "" {
		cfg.StatusNamespace = "ParquetWriteTask"
	}
	p := &Pipeline{
		cfg:       cfg,
		locator:   NewLocator(store, log.With().Str("component", "locator").Logger()),
		stager:    NewStager(provider, log.With().Str("component", "stager").Logger()),
		converter: converter,
		validator: NewValidator(log.With().Str("component", "validator").Logger()),
		publisher: NewPublisher(provider, log.With().Str("component", "publisher").Logger()),
		recorder:  NewRecorder(store, RealClock{}, log.With().Str("component", "recorder").Logger()),
		notifier:  notify.Noop{},
		log:       log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Recorder exposes the status recorder for read access.
func (p *Pipeline) Recorder() *Recorder {
	return p.recorder
}

// Find returns the stored outcome for id, if any.
func (p *Pipeline) Find(ctx context.Context, id domain.TaskIdentity) (domain.TaskStatusRecord, bool, error) {
	return p.recorder.Find(ctx, p.cfg.StatusNamespace, id)
}

// StatusNamespace is the namespace status records are written to.
func (p *Pipeline) StatusNamespace() string {
	return p.cfg.StatusNamespace
}

// Run executes one request. Invalid requests fail before any I/O and write
// nothing. Any later failure writes a failure record for the identity and
// returns the original error.
func (p *Pipeline) Run(ctx context.Context, req Request) (domain.TaskStatusRecord, error) {
	if err := req.Validate(); err != nil {
		p.log.Error().Err(err).Msg("rejected pipeline request")
		return domain.TaskStatusRecord{}, err
	}
	// Validate has already accepted the mode; this only normalizes it.
	req.Mode, _ = domain.ParseRunMode(string(req.Mode))

	log := p.log.With().
		Str("workflow_id", req.Identity.WorkflowID).
		Str("run_id", req.Identity.RunID).
		Str("task_id", req.Identity.TaskID).
		Str("report", req.ReportName).
		Logger()
	ctx = log.WithContext(ctx)

	r := &run{req: req, objectPath: req.OutputObject()}

	// An unknown format still gets a failure record, but nothing is downloaded.
	format, err := domain.ParseFormat(string(req.Format))
	if err != nil {
		return p.fail(ctx, log, r, err)
	}
	req.Format = format

	workDir, err := os.MkdirTemp(p.cfg.StagingDir, "parquetwrite-")
	if err != nil {
		return p.fail(ctx, log, r, fmt.Errorf("create staging directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("dir", workDir).Msg("failed to remove staging directory")
		}
	}()

	query := req.Query
	query.ReportName, query.ReportDate = req.ReportName, req.ReportDate
	entry, err := p.locator.Locate(ctx, query)
	if err != nil {
		return p.fail(ctx, log, r, err)
	}
	r.entry = &entry

	staged, err := p.stager.Stage(ctx, entry.SourceBucket, entry.SourcePath,
		filepath.Join(workDir, "source", path.Base(entry.SourcePath)))
	if err != nil {
		return p.fail(ctx, log, r, err)
	}

	result, err := p.converter.Convert(ctx, domain.ConversionRequest{
		SourceFile:        staged,
		Schema:            req.Schema,
		Delimiter:         req.Delimiter,
		Format:            req.Format,
		DestinationBucket: req.OutputBucket,
		DestinationPath:   r.objectPath,
	}, filepath.Join(workDir, "output", path.Base(r.objectPath)))
	if err != nil {
		return p.fail(ctx, log, r, err)
	}
	r.produced = domain.Int64Ptr(result.RowCount)

	if err := p.validator.Validate(ctx, result.RowCount, entry.ExpectedRowCount, req.Mode); err != nil {
		return p.fail(ctx, log, r, err)
	}

	if err := p.publisher.Publish(ctx, result.LocalArtifactPath, req.OutputBucket, r.objectPath); err != nil {
		return p.fail(ctx, log, r, err)
	}

	stored, err := p.recorder.Record(ctx, p.cfg.StatusNamespace, p.record(r, nil))
	if err != nil {
		return stored, err
	}
	p.notify(ctx, log, stored)

	log.Info().Int64("row_count", result.RowCount).Str("output", r.objectPath).Msg("pipeline run succeeded")
	return stored, nil
}

// run carries what one invocation has learned so far.
type run struct {
	req        Request
	objectPath string
	entry      *domain.JobEntry
	produced   *int64
}

func (p *Pipeline) record(r *run, runErr error) domain.TaskStatusRecord {
	in := domain.RecordInput{
		Identity:         r.req.Identity,
		UpstreamTaskID:   r.req.UpstreamTaskID,
		ReportName:       r.req.ReportName,
		ReportDate:       r.req.ReportDate,
		Schema:           r.req.Schema,
		OutputBucket:     r.req.OutputBucket,
		OutputPath:       r.objectPath,
		TotalRowCount:    r.produced,
		SourceRevisionID: p.cfg.SourceRevision,
		ReportType:       r.req.ReportType,
		QueryNamespace:   r.req.Query.Namespace,
		FilterPredicate:  r.req.Query.Filter,
		Err:              runErr,
	}
	if r.entry != nil {
		in.ExpectedRowCount = r.entry.ExpectedRowCount
		in.JobID = r.entry.JobID
	}
	return domain.NewTaskStatusRecord(in)
}

// fail writes a best-effort failure record and returns runErr unchanged.
func (p *Pipeline) fail(ctx context.Context, log zerolog.Logger, r *run, runErr error) (domain.TaskStatusRecord, error) {
	log.Error().Err(runErr).Str("kind", string(domain.KindOf(runErr))).Msg("pipeline run failed")

	// The record is written even when the run was cancelled.
	recordCtx := context.WithoutCancel(ctx)
	rec := p.record(r, runErr)
	stored, err := p.recorder.Record(recordCtx, p.cfg.StatusNamespace, rec)
	if err != nil {
		log.Error().Err(err).Msg("failed to write failure record")
		return rec, runErr
	}
	p.notify(recordCtx, log, stored)
	return stored, runErr
}

func (p *Pipeline) notify(ctx context.Context, log zerolog.Logger, rec domain.TaskStatusRecord) {
	if err := p.notifier.Notify(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("failed to publish task outcome")
	}
}
