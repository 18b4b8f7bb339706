package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore keeps each entity as a JSON string and a per-namespace sorted
// set of keys scored by first insertion time.
type RedisStore struct {
	client *redis.Client
	log    zerolog.Logger
	now    func() time.Time
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg Config, log zerolog.Logger) (*RedisStore, error) {
	opts, err := buildRedisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, domain.WrapError(domain.KindStorageUnreachable, err, "redis ping %s", opts.Addr)
	}

	return newRedisStore(client, log), nil
}

func newRedisStore(client *redis.Client, log zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		log:    log.With().Str("component", "metadata.redis").Logger(),
		now:    time.Now,
	}
}

func buildRedisOptions(cfg Config) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opt, nil
	}

	host := cfg.RedisHost
	if host == "" {
		host = "127.0.0.1"
	}

	port := cfg.RedisPort
	if port == "" {
		port = "6379"
	}

	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

func entityKey(namespace, key string) string {
	return fmt.Sprintf("metadata:%s:%s", namespace, key)
}

func indexKey(namespace string) string {
	return fmt.Sprintf("metadata:%s:index", namespace)
}

func (s *RedisStore) Query(ctx context.Context, namespace string, filter map[string]any) ([]domain.Entity, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	keys, err := s.client.ZRange(ctx, indexKey(namespace), 0, -1).Result()
	if err != nil {
		s.log.Error().Err(err).Str("namespace", namespace).Msg("redis index read failed")
		return nil, fmt.Errorf("read index of %s: %w", namespace, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = entityKey(namespace, k)
	}
	values, err := s.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		s.log.Error().Err(err).Str("namespace", namespace).Msg("redis entity read failed")
		return nil, fmt.Errorf("read entities of %s: %w", namespace, err)
	}

	var out []domain.Entity
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Indexed but deleted out of band.
			continue
		}
		props := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return nil, fmt.Errorf("decode entity %s/%s: %w", namespace, keys[i], err)
		}
		if matches(props, filter) {
			out = append(out, domain.Entity{Key: keys[i], Properties: props})
		}
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, namespace string, e domain.Entity) error {
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

	score := float64(s.now().UnixMicro())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entityKey(namespace, e.Key), raw, 0)
		pipe.ZAddNX(ctx, indexKey(namespace), redis.Z{Score: score, Member: e.Key})
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("namespace", namespace).Str("key", e.Key).Msg("redis put failed")
		return fmt.Errorf("put %s/%s: %w", namespace, e.Key, err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
