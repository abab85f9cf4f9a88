package memory

import (
	"context"
	"strings"
	"sync"
)

// InMemoryStore is a process-local Store using brute-force cosine search.
// It is used when no Redis or SQLite backend is configured, and in tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string][]float32 // scope → text → embedding
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{scopes: make(map[string]map[string][]float32)}
}

func (s *InMemoryStore) CreateIndex(_ context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scopes[scope]; !ok {
		s.scopes[scope] = make(map[string][]float32)
	}
	return nil
}

func (s *InMemoryStore) SetRecord(_ context.Context, scope, text string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.scopes[scope]
	if !ok {
		records = make(map[string][]float32)
		s.scopes[scope] = records
	}
	records[text] = append([]float32(nil), embedding...)
	return nil
}

func (s *InMemoryStore) SimilaritySearch(_ context.Context, scope string, embedding []float32, k int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.scopes[scope]
	matches := make([]Match, 0, len(records))
	for text, vec := range records {
		matches = append(matches, Match{Text: text, Similarity: cosineSimilarity(embedding, vec)})
	}
	return topMatches(matches, k), nil
}

func (s *InMemoryStore) DeleteRecord(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, text, ok := strings.Cut(key, ":")
	if !ok {
		return ErrRecordNotFound
	}
	for scope, records := range s.scopes {
		if scopeTag(scope) != tag {
			continue
		}
		if _, ok := records[text]; ok {
			delete(records, text)
			return nil
		}
	}
	return ErrRecordNotFound
}

func (s *InMemoryStore) ListRecords(_ context.Context, scope string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]Record, 0, len(s.scopes[scope]))
	for text := range s.scopes[scope] {
		records = append(records, Record{Key: recordKey(scope, text), Text: text})
	}
	sortRecords(records)
	return records, nil
}
