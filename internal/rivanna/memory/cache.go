package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache maps exact input text to its embedding. Entries are never evicted.
type Cache interface {
	Get(text string) ([]float32, bool)
	Put(text string, vec []float32)
}

// MemoryCache is a process-wide Cache held in a map.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]float32
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]float32)}
}

func (c *MemoryCache) Get(text string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[text]
	return v, ok
}

func (c *MemoryCache) Put(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[text] = vec
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// BadgerCache persists embeddings across restarts so that a redeploy does
// not re-embed the whole history. Keys are the SHA-256 of the model name and
// text; values are msgpack-encoded.
type BadgerCache struct {
	db     *badger.DB
	model  string
	logger *slog.Logger
}

var _ Cache = (*BadgerCache)(nil)

type cachedVector struct {
	Model  string    `msgpack:"m"`
	Vector []float32 `msgpack:"v"`
}

// OpenBadgerCache opens (or creates) a cache in dir. An empty dir opens an
// in-memory database.
func OpenBadgerCache(dir, model string, logger *slog.Logger) (*BadgerCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("embed cache: open badger %q: %w", dir, err)
	}
	return &BadgerCache{db: db, model: model, logger: logger}, nil
}

// Close flushes and closes the database.
func (c *BadgerCache) Close() error { return c.db.Close() }

func (c *BadgerCache) key(text string) []byte {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return []byte("embed:" + hex.EncodeToString(sum[:]))
}

func (c *BadgerCache) Get(text string) ([]float32, bool) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(text))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("embed cache: read failed", "err", err)
		return nil, false
	}

	var cv cachedVector
	if err := msgpack.Unmarshal(raw, &cv); err != nil {
		c.logger.Warn("embed cache: decode failed", "err", err)
		return nil, false
	}
	return cv.Vector, true
}

func (c *BadgerCache) Put(text string, vec []float32) {
	raw, err := msgpack.Marshal(cachedVector{Model: c.model, Vector: vec})
	if err != nil {
		c.logger.Warn("embed cache: encode failed", "err", err)
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.key(text), raw)
	})
	if err != nil {
		c.logger.Warn("embed cache: write failed", "err", err)
	}
}

// badgerLogger routes badger's printf-style logging into slog, demoting its
// chatty INFO output to DEBUG.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) Errorf(f string, args ...any)   { b.l.Error("badger: " + fmt.Sprintf(f, args...)) }
func (b badgerLogger) Warningf(f string, args ...any) { b.l.Warn("badger: " + fmt.Sprintf(f, args...)) }
func (b badgerLogger) Infof(f string, args ...any)    { b.l.Debug("badger: " + fmt.Sprintf(f, args...)) }
func (b badgerLogger) Debugf(f string, args ...any)   { b.l.Debug("badger: " + fmt.Sprintf(f, args...)) }
