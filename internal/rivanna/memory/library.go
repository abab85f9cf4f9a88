package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrEmptyMemory is returned when teaching blank text.
var ErrEmptyMemory = errors.New("memory: text is empty")

// ErrIndexOutOfRange is returned by Forget for a number not in the listing.
var ErrIndexOutOfRange = errors.New("memory: no memory with that number")

// Library is the user-facing view of a Store: teach a fact, list what is
// known, forget by listing position. Chat commands and the CLI both go
// through it.
type Library struct {
	store    Store
	embedder Embedder
	logger   *slog.Logger
}

// NewLibrary returns a Library over store and embedder.
func NewLibrary(store Store, embedder Embedder, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{store: store, embedder: embedder, logger: logger}
}

// Teach embeds text and stores it in scope.
func (l *Library) Teach(ctx context.Context, scope, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMemory
	}
	if err := l.store.CreateIndex(ctx, scope); err != nil {
		return err
	}
	vec, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("memory: embed: %w", err)
	}
	if err := l.store.SetRecord(ctx, scope, text, vec); err != nil {
		return err
	}
	l.logger.Info("memory: taught", "scope", scope, "text_len", len(text))
	return nil
}

// List returns the records of scope in display order.
func (l *Library) List(ctx context.Context, scope string) ([]Record, error) {
	return l.store.ListRecords(ctx, scope)
}

// Forget deletes the n-th record (1-based) of List and returns it.
func (l *Library) Forget(ctx context.Context, scope string, n int) (Record, error) {
	records, err := l.store.ListRecords(ctx, scope)
	if err != nil {
		return Record{}, err
	}
	if n < 1 || n > len(records) {
		return Record{}, fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, n, len(records))
	}
	rec := records[n-1]
	if err := l.store.DeleteRecord(ctx, rec.Key); err != nil {
		return Record{}, err
	}
	l.logger.Info("memory: forgot", "scope", scope, "key", rec.Key)
	return rec, nil
}
