// Package app wires configuration into a ready-to-run pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andresuchdata/parquetwrite/internal/config"
	"github.com/andresuchdata/parquetwrite/internal/convert"
	"github.com/andresuchdata/parquetwrite/internal/metadata"
	"github.com/andresuchdata/parquetwrite/internal/notify"
	"github.com/andresuchdata/parquetwrite/internal/pipeline"
	"github.com/andresuchdata/parquetwrite/internal/storage"
	"github.com/rs/zerolog"
)

// App owns the pipeline and every connection opened for it.
type App struct {
	Pipeline *pipeline.Pipeline
	Store    metadata.Store
	closers  []io.Closer
	log      zerolog.Logger
}

// StorageConfig maps the storage section of cfg.
func StorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Backend:         cfg.Storage.Backend,
		CredentialsFile: cfg.Storage.CredentialsFile,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKey:       cfg.Storage.AccessKey,
		SecretKey:       cfg.Storage.SecretKey,
		Region:          cfg.Storage.Region,
		UseSSL:          cfg.Storage.UseSSL,
		LocalRoot:       cfg.Storage.LocalRoot,
	}
}

// MetadataConfig maps the metadata section of cfg.
func MetadataConfig(cfg *config.Config) metadata.Config {
	m := cfg.Metadata
	return metadata.Config{
		Backend:        m.Backend,
		Driver:         m.Driver,
		Host:           m.Host,
		Port:           m.Port,
		User:           m.User,
		Password:       m.Password,
		DBName:         m.DBName,
		SSLMode:        m.SSLMode,
		MaxConcurrency: m.MaxConcurrency,
		RedisURL:       m.RedisURL,
		RedisHost:      m.RedisHost,
		RedisPort:      m.RedisPort,
		RedisPassword:  m.RedisPassword,
		RedisDB:        m.RedisDB,
	}
}

// New opens the metadata store, the storage backend and, when enabled, the
// notifier. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	policy, err := convert.ParseTimestampPolicy(cfg.App.TimestampPolicy)
	if err != nil {
		return nil, err
	}

	store, err := metadata.New(ctx, MetadataConfig(cfg), log.With().Str("component", "metadata").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	a.Store = store
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	provider, err := storage.New(ctx, StorageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.Backend, err)
	}

	opts := []pipeline.Option{}
	if cfg.Notify.Enabled {
		n, err := notify.NewRabbitMQ(cfg.Notify.URL, cfg.Notify.Exchange, log.With().Str("component", "notify").Logger())
		if err != nil {
			return nil, fmt.Errorf("failed to connect notifier: %w", err)
		}
		a.closers = append(a.closers, n)
		opts = append(opts, pipeline.WithNotifier(n))
	}

	a.Pipeline = pipeline.New(pipeline.Config{
		StagingDir:      cfg.App.StagingDir,
		StatusNamespace: cfg.App.StatusNamespace,
		SourceRevision:  cfg.App.SourceRevision,
	}, store, provider, convert.NewConverter(log.With().Str("component", "converter").Logger(), policy), log, opts...)

	log.Info().
		Str("storage", cfg.Storage.Backend).
		Str("metadata", cfg.Metadata.Backend).
		Bool("notify", cfg.Notify.Enabled).
		Msg("pipeline initialized")
	return a, nil
}

// Close releases every connection in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
