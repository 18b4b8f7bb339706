package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/rs/zerolog"
)

// Store queries and persists entities grouped by namespace.
type Store interface {
	// Query returns every entity in namespace whose properties equal each
	// filter value. Order is insertion order for all stores in this package.
	Query(ctx context.Context, namespace string, filter map[string]any) ([]domain.Entity, error)
	// Put creates or replaces the entity with e.Key.
	Put(ctx context.Context, namespace string, e domain.Entity) error
}

// Config selects and configures a store.
type Config struct {
	Backend        string // postgres, redis, memory
	Driver         string // postgres or pgx
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MaxConcurrency int
	RedisURL       string
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
}

// New opens the store named by cfg.Backend. Callers should Close stores that
// implement io.Closer.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "postgres":
		return NewPostgresStore(ctx, cfg, log)
	case "redis":
		return NewRedisStore(ctx, cfg, log)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown metadata backend %q, registered backends: memory, postgres, redis", cfg.Backend)
}

// normalize converts v to the shape it has after a JSON round trip, so values
// from callers and values read back from a store compare equal.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeProperties(props map[string]any) (map[string]any, error) {
	if props == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("properties are not json encodable: %w", err)
	}
	out := make(map[string]any, len(props))
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return out, nil
}

// matches reports whether every filter entry equals the normalized property.
func matches(props map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := props[k]
		if !ok {
			return false
		}
		nw, err := normalize(want)
		if err != nil {
			return false
		}
		if !reflect.DeepEqual(got, nw) {
			return false
		}
	}
	return true
}

func validateNamespace(namespace string) error {
	if strings.TrimSpace(namespace) == "" {
		return fmt.Errorf("namespace must be provided")
	}
	return nil
}
