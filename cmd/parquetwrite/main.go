package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/andresuchdata/parquetwrite/internal/app"
	"github.com/andresuchdata/parquetwrite/internal/config"
	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/andresuchdata/parquetwrite/internal/metadata"
	"github.com/andresuchdata/parquetwrite/internal/pipeline"
	"github.com/andresuchdata/parquetwrite/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

type ctxKey int

const (
	appKey ctxKey = iota
	configKey
	loggerKey
)

func newIdentityFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "workflow-id", Usage: "Workflow identifier", Required: true, EnvVars: []string{"WORKFLOW_ID"}},
		&cli.StringFlag{Name: "run-id", Usage: "Run identifier", Required: true, EnvVars: []string{"RUN_ID"}},
		&cli.StringFlag{Name: "task-id", Usage: "Task identifier", Required: true, EnvVars: []string{"TASK_ID"}},
	}
}

func loadConfig(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	c.Context = context.WithValue(c.Context, configKey, cfg)
	c.Context = context.WithValue(c.Context, loggerKey, log)
	return nil
}

func initApp(c *cli.Context) error {
	if err := loadConfig(c); err != nil {
		return err
	}
	cfg := c.Context.Value(configKey).(*config.Config)
	log := c.Context.Value(loggerKey).(zerolog.Logger)

	a, err := app.New(c.Context, cfg, log)
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", kindOrError(err), err), 1)
	}
	c.Context = context.WithValue(c.Context, appKey, a)
	return nil
}

func closeApp(c *cli.Context) error {
	if a, ok := c.Context.Value(appKey).(*app.App); ok && a != nil {
		return a.Close()
	}
	return nil
}

func main() {
	cliApp := &cli.App{
		Name:  "parquetwrite",
		Usage: "Convert a merged report into a columnar, delimited or spreadsheet artifact and record the outcome",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Usage: "Override LOG_LEVEL (debug, info, warn, error)"},
		},
		Commands: []*cli.Command{
			{
				Name:   "convert",
				Usage:  "Locate, convert, validate, publish and record one task run",
				Flags:  convertFlags(),
				Before: initApp,
				After:  closeApp,
				Action: runConvert,
			},
			{
				Name:   "status",
				Usage:  "Print the recorded outcome of a task run as JSON",
				Flags:  newIdentityFlags(),
				Before: initApp,
				After:  closeApp,
				Action: runStatus,
			},
			{
				Name:   "migrate",
				Usage:  "Create the metadata table and indexes in Postgres",
				Before: loadConfig,
				Action: runMigrate,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func convertFlags() []cli.Flag {
	return append(newIdentityFlags(),
		&cli.StringFlag{Name: "upstream-task-id", Usage: "Task that produced the merged report"},
		&cli.StringFlag{Name: "report-name", Usage: "Report name"},
		&cli.StringFlag{Name: "report-date", Usage: "Report date"},
		&cli.StringFlag{Name: "report-type", Usage: "Report type"},
		&cli.StringFlag{Name: "query-namespace", Usage: "Namespace of the upstream entries", Required: true},
		&cli.StringFlag{Name: "filter", Usage: "JSON object of property equalities", Value: "{}"},
		&cli.StringFlag{Name: "bucket-field", Usage: "Entry property holding the source bucket", Value: pipeline.DefaultBucketField},
		&cli.StringFlag{Name: "path-field", Usage: "Entry property holding the source path", Value: pipeline.DefaultPathField},
		&cli.StringFlag{Name: "row-count-field", Usage: "Entry property holding the expected row count", Value: pipeline.DefaultRowCountField},
		&cli.StringFlag{Name: "order-field", Usage: "Pick the successful entry with the largest value of this property"},
		&cli.StringFlag{Name: "schema", Usage: "Columns as name:type pairs, e.g. sku:string,qty:integer"},
		&cli.StringSliceFlag{Name: "columns", Usage: "Column names, in order"},
		&cli.StringSliceFlag{Name: "types", Usage: "Column types, in order"},
		&cli.StringFlag{Name: "delimiter", Usage: "Source field delimiter (a character, or tab, comma, pipe, semicolon)", Value: ","},
		&cli.StringFlag{Name: "format", Usage: "Output format (" + strings.Join(domain.FormatNames(), ", ") + ")", Required: true},
		&cli.StringFlag{Name: "output-bucket", Usage: "Destination bucket", Required: true},
		&cli.StringFlag{Name: "output-path", Usage: "Destination object path, or its directory with --output-file-name", Required: true},
		&cli.StringFlag{Name: "output-file-name", Usage: "Destination file name"},
		&cli.StringFlag{Name: "mode", Usage: "normal or manual; manual accepts a row count mismatch", Value: string(domain.RunModeNormal)},
	)
}

func runConvert(c *cli.Context) error {
	a := c.Context.Value(appKey).(*app.App)

	req, err := buildRequest(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", kindOrError(err), err), 2)
	}

	rec, err := a.Pipeline.Run(c.Context, req)
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", kindOrError(err), err), 1)
	}
	return printJSON(c, rec)
}

func runStatus(c *cli.Context) error {
	a := c.Context.Value(appKey).(*app.App)
	id := domain.TaskIdentity{
		WorkflowID: c.String("workflow-id"),
		RunID:      c.String("run-id"),
		TaskID:     c.String("task-id"),
	}
	rec, found, err := a.Pipeline.Find(c.Context, id)
	if err != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", kindOrError(err), err), 1)
	}
	if !found {
		return cli.Exit(fmt.Sprintf("no status recorded for %s/%s/%s", id.WorkflowID, id.RunID, id.TaskID), 3)
	}
	return printJSON(c, rec)
}

func runMigrate(c *cli.Context) error {
	cfg := c.Context.Value(configKey).(*config.Config)
	log := c.Context.Value(loggerKey).(zerolog.Logger)
	if cfg.Metadata.Backend != "postgres" {
		return cli.Exit(fmt.Sprintf("migrate needs METADATA_BACKEND=postgres, got %q", cfg.Metadata.Backend), 2)
	}

	store, err := metadata.NewPostgresStore(c.Context, app.MetadataConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(c.Context); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	log.Info().Str("database", cfg.Metadata.DBName).Msg("metadata schema is up to date")
	return nil
}

func buildRequest(c *cli.Context) (pipeline.Request, error) {
	names, types := c.StringSlice("columns"), c.StringSlice("types")
	if raw := c.String("schema"); raw != "" {
		var err error
		if names, types, err = parseSchemaFlag(raw); err != nil {
			return pipeline.Request{}, err
		}
	}
	schema, err := domain.ParseSchema(names, types)
	if err != nil {
		return pipeline.Request{}, err
	}

	var filter map[string]any
	if err := json.Unmarshal([]byte(c.String("filter")), &filter); err != nil {
		return pipeline.Request{}, domain.WrapError(domain.KindInvalidSchema, err, "filter must be a JSON object")
	}

	delimiter, err := pipeline.ParseDelimiter(c.String("delimiter"))
	if err != nil {
		return pipeline.Request{}, err
	}
	mode, err := domain.ParseRunMode(c.String("mode"))
	if err != nil {
		return pipeline.Request{}, err
	}

	return pipeline.Request{
		Identity: domain.TaskIdentity{
			WorkflowID: c.String("workflow-id"),
			RunID:      c.String("run-id"),
			TaskID:     c.String("task-id"),
		},
		UpstreamTaskID: c.String("upstream-task-id"),
		ReportName:     c.String("report-name"),
		ReportDate:     c.String("report-date"),
		ReportType:     c.String("report-type"),
		Query: pipeline.JobQuery{
			Namespace:     c.String("query-namespace"),
			Filter:        filter,
			BucketField:   c.String("bucket-field"),
			PathField:     c.String("path-field"),
			RowCountField: c.String("row-count-field"),
			OrderField:    c.String("order-field"),
		},
		Schema:         schema,
		Delimiter:      delimiter,
		Format:         domain.Format(c.String("format")),
		OutputBucket:   c.String("output-bucket"),
		OutputPath:     c.String("output-path"),
		OutputFileName: c.String("output-file-name"),
		Mode:           mode,
	}, nil
}

// parseSchemaFlag splits "a:string,b:integer" into names and types.
func parseSchemaFlag(raw string) ([]string, []string, error) {
	var names, types []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := strings.Cut(part, ":")
		if !ok {
			return nil, nil, domain.NewError(domain.KindInvalidSchema, "schema entry %q must be name:type", part)
		}
		names = append(names, strings.TrimSpace(name))
		types = append(types, strings.TrimSpace(typ))
	}
	return names, types, nil
}

func kindOrError(err error) string {
	if kind := domain.KindOf(err); kind != "" {
		return string(kind)
	}
	return "Error"
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
