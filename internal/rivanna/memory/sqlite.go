package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore implements Store on the memories table (migration
// 0001_memories.sql). Search loads every embedding of the scope and ranks
// in Go, since modernc.org/sqlite cannot load vector extensions. That is
// fast enough for the hundreds of facts a community teaches its bot.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore returns a SQLiteStore on db. If logger is nil, the default
// slog logger is used.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger}
}

// CreateIndex is a no-op: the table and its scope index come from the
// migrations.
func (s *SQLiteStore) CreateIndex(context.Context, string) error { return nil }

func (s *SQLiteStore) SetRecord(ctx context.Context, scope, text string, embedding []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (key, id, scope, text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET embedding = excluded.embedding`,
		recordKey(scope, text),
		uuid.NewString(),
		scope,
		text,
		encodeVector(embedding),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("memory sqlite: insert record: %w", err)
	}
	s.logger.Debug("memory sqlite: stored record", "scope", scope, "text_len", len(text))
	return nil
}

func (s *SQLiteStore) SimilaritySearch(ctx context.Context, scope string, embedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT text, embedding FROM memories WHERE scope = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: query records: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			text string
			blob []byte
		)
		if err := rows.Scan(&text, &blob); err != nil {
			return nil, fmt.Errorf("memory sqlite: scan record: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("memory sqlite: skip malformed embedding", "scope", scope, "err", err)
			continue
		}
		matches = append(matches, Match{Text: text, Similarity: cosineSimilarity(embedding, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: iterate records: %w", err)
	}
	return topMatches(matches, k), nil
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("memory sqlite: delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("memory sqlite: delete record: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, scope string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, text FROM memories WHERE scope = ? ORDER BY text`, scope)
	if err != nil {
		return nil, fmt.Errorf("memory sqlite: list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Text); err != nil {
			return nil, fmt.Errorf("memory sqlite: scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory sqlite: iterate records: %w", err)
	}
	return records, nil
}
