package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bdobrica/rivanna/internal/rivanna/memory"
)

// Memory backends selectable with MemoryConfig.Backend.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// MemoryConfig selects the vector store and the embedding cache.
type MemoryConfig struct {
	// Backend is one of BackendRedis, BackendSQLite (default) or
	// BackendMemory.
	Backend string
	Redis   memory.RedisConfig
	// EmbedCacheDir persists embeddings in a Badger database. When empty
	// the cache lives in process memory.
	EmbedCacheDir string
}

func (c MemoryConfig) backend() string {
	return orDefault(c.Backend, BackendSQLite)
}

// Memory is the vector store and embedder selected by a MemoryConfig.
type Memory struct {
	Store    memory.Store
	Embedder memory.Embedder

	closers []func() error
}

// OpenMemory builds the memory backend. db backs the SQLite store.
func OpenMemory(ctx context.Context, cfg MemoryConfig, ai OpenAIConfig, db *sql.DB, logger *slog.Logger) (*Memory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Memory{}

	switch backend := cfg.backend(); backend {
	case BackendRedis:
		rs, err := memory.DialRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		m.Store = rs
		m.closers = append(m.closers, rs.Close)
	case BackendSQLite:
		if db == nil {
			return nil, fmt.Errorf("memory backend %q needs a database", backend)
		}
		m.Store = memory.NewSQLiteStore(db, logger)
	case BackendMemory:
		m.Store = memory.NewInMemoryStore()
	default:
		return nil, fmt.Errorf("unknown memory backend %q (want %s, %s or %s)", backend, BackendRedis, BackendSQLite, BackendMemory)
	}

	model := orDefault(ai.EmbeddingModel, memory.DefaultEmbeddingModel)
	var cache memory.Cache
	if cfg.EmbedCacheDir != "" {
		bc, err := memory.OpenBadgerCache(cfg.EmbedCacheDir, model, logger)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		cache = bc
		m.closers = append(m.closers, bc.Close)
	} else {
		cache = memory.NewMemoryCache()
	}

	inner := memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{
		APIKey:  ai.APIKey,
		BaseURL: ai.BaseURL,
		Model:   model,
	})
	m.Embedder = memory.NewCachingEmbedder(inner, cache, memory.DefaultEmbedRetry, logger)

	logger.Info("memory ready", "backend", cfg.backend(), "embedding_model", model, "persistent_cache", cfg.EmbedCacheDir != "")
	return m, nil
}

// Library returns the teach/list/forget view of the memory.
func (m *Memory) Library(logger *slog.Logger) *memory.Library {
	return memory.NewLibrary(m.Store, m.Embedder, logger)
}

// Close releases backend connections.
func (m *Memory) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		errs = append(errs, m.closers[i]())
	}
	return errors.Join(errs...)
}
