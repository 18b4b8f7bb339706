package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrency = 10

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS metadata_entities (
		namespace   TEXT        NOT NULL,
		key         TEXT        NOT NULL,
		properties  JSONB       NOT NULL DEFAULT '{}'::jsonb,
		inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (namespace, key)
	)`,
	`CREATE INDEX IF NOT EXISTS metadata_entities_properties_idx
		ON metadata_entities USING GIN (properties jsonb_path_ops)`,
}

const (
	queryEntitiesSQL = `SELECT key, properties
		FROM metadata_entities
		WHERE namespace = $1 AND properties @> $2::jsonb
		ORDER BY inserted_at, key`

	upsertEntitySQL = `INSERT INTO metadata_entities (namespace, key, properties)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (namespace, key) DO UPDATE SET properties = EXCLUDED.properties`
)

// PostgresStore keeps entities in one JSONB table.
type PostgresStore struct {
	db  *sqlx.DB
	sem *semaphore.Weighted
	log zerolog.Logger
}

type entityRow struct {
	Key        string `db:"key"`
	Properties []byte `db:"properties"`
}

// NewPostgresStore creates a connection pool with the lib/pq ("postgres") or
// pgx ("pgx") driver.
func NewPostgresStore(ctx context.Context, cfg Config, log zerolog.Logger) (*PostgresStore, error) {
	driver, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, driver, buildDSN(cfg))
	if err != nil {
		return nil, domain.WrapError(domain.KindStorageUnreachable, err, "connect to postgres at %s:%s", cfg.Host, cfg.Port)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = defaultMaxConcurrency
	}

	log.Info().Str("driver", driver).Str("host", cfg.Host).Str("db", cfg.DBName).Msg("connected to metadata database")

	return &PostgresStore{
		db:  db,
		sem: semaphore.NewWeighted(int64(limit)),
		log: log.With().Str("component", "metadata.postgres").Logger(),
	}, nil
}

func driverName(driver string) (string, error) {
	switch driver {
	case "", "postgres":
		return "postgres", nil
	case "pgx":
		return "pgx", nil
	}
	return "", fmt.Errorf("unsupported postgres driver %q (must be postgres or pgx)", driver)
}

func buildDSN(cfg Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
}

// EnsureSchema creates the entity table and its index when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	return s.withSlot(ctx, func() error {
		for _, stmt := range schemaStatements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("could not apply metadata schema: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Query(ctx context.Context, namespace string, filter map[string]any) ([]domain.Entity, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = map[string]any{}
	}
	predicate, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("filter is not json encodable: %w", err)
	}

	var rows []entityRow
	err = s.withSlot(ctx, func() error {
		return s.db.SelectContext(ctx, &rows, queryEntitiesSQL, namespace, string(predicate))
	})
	if err != nil {
		s.log.Error().Err(err).Str("namespace", namespace).Msg("metadata query failed")
		return nil, fmt.Errorf("query namespace %s: %w", namespace, err)
	}

	entities := make([]domain.Entity, 0, len(rows))
	for _, row := range rows {
		props := make(map[string]any)
		if err := json.Unmarshal(row.Properties, &props); err != nil {
			return nil, fmt.Errorf("decode entity %s/%s: %w", namespace, row.Key, err)
		}
		// JSONB containment treats arrays as subsets; keep exact equality.
		if !matches(props, filter) {
			continue
		}
		entities = append(entities, domain.Entity{Key: row.Key, Properties: props})
	}
	return entities, nil
}

func (s *PostgresStore) Put(ctx context.Context, namespace string, e domain.Entity) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if e.Key == "" {
		return fmt.Errorf("entity key must be provided")
	}
	props := e.Properties
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("properties are not json encodable: %w", err)
	}

	err = s.withSlot(ctx, func() error {
		_, err := s.db.ExecContext(ctx, upsertEntitySQL, namespace, e.Key, string(raw))
		return err
	})
	if err != nil {
		s.log.Error().Err(err).Str("namespace", namespace).Str("key", e.Key).Msg("metadata upsert failed")
		return fmt.Errorf("put %s/%s: %w", namespace, e.Key, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// withSlot runs fn while holding one of the bounded concurrency slots.
func (s *PostgresStore) withSlot(ctx context.Context, fn func() error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire semaphore: %w", err)
	}
	defer s.sem.Release(1)
	return fn()
}

var _ Store = (*PostgresStore)(nil)
