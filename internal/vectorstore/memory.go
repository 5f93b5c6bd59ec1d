package vectorstore

import (
	"context"
	"sync"

	"healthq/internal/model"
)

// MemoryIndex is a brute-force cosine index held in process memory.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	chunks    []model.Chunk
	vectors   [][]float32
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func (m *MemoryIndex) Add(_ context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return ErrLengthMismatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dimension := m.dimension
	for _, v := range vectors {
		if dimension == 0 {
			dimension = len(v)
		}
		if len(v) != dimension {
			return ErrDimensionMismatch
		}
	}
	m.dimension = dimension
	m.chunks = append(m.chunks, chunks...)
	m.vectors = append(m.vectors, vectors...)
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, vector []float32, k int) ([]model.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.chunks) == 0 {
		return []model.ScoredChunk{}, nil
	}
	if m.dimension != 0 && len(vector) != m.dimension {
		return nil, ErrDimensionMismatch
	}
	scored := make([]model.ScoredChunk, len(m.chunks))
	for i := range m.chunks {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scored[i] = model.ScoredChunk{Chunk: m.chunks[i], Score: cosineSimilarity(vector, m.vectors[i])}
	}
	return topK(scored, k), nil
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

func (m *MemoryIndex) Close() error { return nil }
