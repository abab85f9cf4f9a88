package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key rivanna writes.
const DefaultRedisPrefix = "rivanna"

// RedisConfig holds connection settings for a Redis Stack server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key namespace, DefaultRedisPrefix when empty
	Dim      int    // vector dimension, EmbeddingDim when zero
}

// RedisStore implements Store on RediSearch: one HNSW cosine index per scope
// over hashes keyed "<prefix>:<scope tag>:<text>".
type RedisStore struct {
	client *redis.Client
	prefix string
	dim    int
	logger *slog.Logger
}

var _ Store = (*RedisStore)(nil)

// DialRedis connects to cfg.Addr and verifies the connection with PING.
// RESP2 is forced because FT.SEARCH replies are parsed as flat arrays.
func DialRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Protocol: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("memory redis: ping %s: %w", cfg.Addr, err)
	}
	return NewRedisStore(client, cfg, logger), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	dim := cfg.Dim
	if dim <= 0 {
		dim = EmbeddingDim
	}
	return &RedisStore{client: client, prefix: prefix, dim: dim, logger: logger}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) indexName(scope string) string {
	return "idx:" + s.prefix + ":" + scopeTag(scope)
}

// keyPrefix is the RediSearch PREFIX of scope. The fixed-width tag keeps one
// scope's prefix from matching another's keys.
func (s *RedisStore) keyPrefix(scope string) string {
	return s.prefix + ":" + scopeTag(scope) + ":"
}

func (s *RedisStore) CreateIndex(ctx context.Context, scope string) error {
	err := s.client.Do(ctx,
		"FT.CREATE", s.indexName(scope),
		"ON", "HASH",
		"PREFIX", "1", s.keyPrefix(scope),
		"SCHEMA",
		"text", "TEXT",
		"embedding", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(s.dim),
		"DISTANCE_METRIC", "COSINE",
	).Err()
	if err != nil {
		if strings.Contains(err.Error(), "Index already exists") {
			return nil
		}
		return fmt.Errorf("memory redis: create index %s: %w", s.indexName(scope), err)
	}
	s.logger.Info("memory redis: created index", "index", s.indexName(scope))
	return nil
}

func (s *RedisStore) SetRecord(ctx context.Context, scope, text string, embedding []float32) error {
	key := s.keyPrefix(scope) + text
	if err := s.client.HSet(ctx, key, "text", text, "embedding", encodeVector(embedding)).Err(); err != nil {
		return fmt.Errorf("memory redis: set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SimilaritySearch(ctx context.Context, scope string, embedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	reply, err := s.client.Do(ctx,
		"FT.SEARCH", s.indexName(scope),
		fmt.Sprintf("*=>[KNN %d @embedding $BLOB AS dist]", k),
		"PARAMS", "2", "BLOB", encodeVector(embedding),
		"SORTBY", "dist",
		"RETURN", "2", "dist", "text",
		"LIMIT", "0", strconv.Itoa(k),
		"DIALECT", "2",
	).Result()
	if err != nil {
		return nil, fmt.Errorf("memory redis: search %s: %w", s.indexName(scope), err)
	}
	matches, err := parseSearchReply(reply, s.keyPrefix(scope))
	if err != nil {
		return nil, fmt.Errorf("memory redis: search %s: %w", s.indexName(scope), err)
	}
	return topMatches(matches, k), nil
}

func (s *RedisStore) DeleteRecord(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("memory redis: delete %s: %w", key, err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *RedisStore) ListRecords(ctx context.Context, scope string) ([]Record, error) {
	prefix := s.keyPrefix(scope)
	var records []Record
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		records = append(records, Record{Key: key, Text: strings.TrimPrefix(key, prefix)})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("memory redis: scan %s*: %w", prefix, err)
	}
	sortRecords(records)
	return records, nil
}

// parseSearchReply decodes a RESP2 FT.SEARCH reply:
//
//	[total, key1, [field, value, ...], key2, [...], ...]
//
// Cosine distance is converted to similarity as 1 - dist.
func parseSearchReply(reply any, keyPrefix string) ([]Match, error) {
	items, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected reply type %T", reply)
	}
	if len(items) == 0 {
		return nil, errors.New("empty reply")
	}

	matches := make([]Match, 0, (len(items)-1)/2)
	for i := 1; i+1 < len(items); i += 2 {
		key, ok := items[i].(string)
		if !ok {
			return nil, fmt.Errorf("reply item %d: key has type %T", i, items[i])
		}
		fields, ok := items[i+1].([]any)
		if !ok {
			return nil, fmt.Errorf("reply item %d: fields have type %T", i+1, items[i+1])
		}

		m := Match{Text: strings.TrimPrefix(key, keyPrefix)}
		for j := 0; j+1 < len(fields); j += 2 {
			name, _ := fields[j].(string)
			value, _ := fields[j+1].(string)
			switch name {
			case "dist":
				dist, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return nil, fmt.Errorf("parse dist for %s: %w", key, err)
				}
				m.Similarity = 1 - dist
			case "text":
				if value != "" {
					m.Text = value
				}
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}
