package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"

	"healthq/internal/model"
)

var (
	ErrLengthMismatch    = errors.New("chunks and vectors length mismatch")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrIndexSealed       = errors.New("index is sealed")
)

// Index is a similarity-searchable set of (chunk, vector) pairs. Indexes are
// filled once per document batch and then only searched.
type Index interface {
	Add(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error
	// Search returns at most k chunks ordered by descending cosine
	// similarity. An empty index returns an empty result.
	Search(ctx context.Context, vector []float32, k int) ([]model.ScoredChunk, error)
	Len() int
	Close() error
}

// Persistent is implemented by indexes that outlive the process. Only a
// sealed index can be reopened; Discard closes the index and deletes its
// storage.
type Persistent interface {
	Index
	Seal(ctx context.Context) error
	Discard() error
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// topK sorts scored by descending score, keeping insertion order for ties,
// and truncates it to k.
func topK(scored []model.ScoredChunk, k int) []model.ScoredChunk {
	if k <= 0 || len(scored) == 0 {
		return []model.ScoredChunk{}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}
