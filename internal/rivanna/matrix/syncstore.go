package matrix

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*DBSyncStore)(nil)

// DBSyncStore persists the /sync filter ID and next_batch token in the
// matrix_sync_state table so a restart does not replay room history (and
// answer old messages again).
type DBSyncStore struct {
	db *sql.DB
}

func newDBSyncStore(db *sql.DB) *DBSyncStore {
	return &DBSyncStore{db: db}
}

func (s *DBSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, filter_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET filter_id = excluded.filter_id, updated_at = excluded.updated_at`,
		userID.String(), filterID, now())
	return err
}

func (s *DBSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, "filter_id", userID)
}

func (s *DBSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, next_batch, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET next_batch = excluded.next_batch, updated_at = excluded.updated_at`,
		userID.String(), nextBatchToken, now())
	return err
}

func (s *DBSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, "next_batch", userID)
}

// load reads one column; column is always a literal from this file.
func (s *DBSyncStore) load(ctx context.Context, column string, userID id.UserID) (string, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT "+column+" FROM matrix_sync_state WHERE user_id = ?", userID.String(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
