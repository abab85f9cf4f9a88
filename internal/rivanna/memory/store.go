// Package memory holds the long-lived facts the persona has been taught and
// the embedding machinery used to recall them. Facts are grouped by scope
// (the Matrix space a room belongs to) and recalled by cosine similarity.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
)

// EmbeddingDim is the vector size produced by text-embedding-3-small.
const EmbeddingDim = 1536

// ErrRecordNotFound is returned when deleting a key that does not exist.
var ErrRecordNotFound = errors.New("memory: record not found")

// Record is a stored memory as listed to users.
type Record struct {
	Key  string // backend-specific key, passed back to DeleteRecord
	Text string
}

// Match is one similarity-search hit.
type Match struct {
	Text       string
	Similarity float64 // cosine similarity, higher is closer
}

// Store is a per-scope vector index of memory texts.
type Store interface {
	// CreateIndex prepares scope for writes and searches. Creating an index
	// that already exists is not an error.
	CreateIndex(ctx context.Context, scope string) error
	// SetRecord stores text with its embedding, replacing an existing record
	// with the same text.
	SetRecord(ctx context.Context, scope, text string, embedding []float32) error
	// SimilaritySearch returns up to k matches ordered by descending
	// similarity.
	SimilaritySearch(ctx context.Context, scope string, embedding []float32, k int) ([]Match, error)
	// DeleteRecord removes the record stored under key.
	DeleteRecord(ctx context.Context, key string) error
	// ListRecords returns every record in scope ordered by text.
	ListRecords(ctx context.Context, scope string) ([]Record, error)
}

// scopeTag stands in for scope inside keys. Matrix IDs contain colons (and
// may end in a port), so a raw scope cannot be delimited by one.
func scopeTag(scope string) string {
	sum := sha256.Sum256([]byte(scope))
	return hex.EncodeToString(sum[:8])
}

// recordKey is the key used by the SQLite and in-memory stores.
func recordKey(scope, text string) string {
	return scopeTag(scope) + ":" + text
}

// cosineSimilarity returns 0 if either vector is empty, mismatched, or has
// zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// topMatches sorts matches by descending similarity (ties by text) and keeps
// at most k.
func topMatches(matches []Match, k int) []Match {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Text < matches[j].Text
	})
	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// encodeVector packs v as little-endian float32, the layout RediSearch
// expects for FLOAT32 vector fields.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("memory: vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Text < records[j].Text })
}
