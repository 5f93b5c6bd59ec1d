package app

import (
	"context"

	"go.uber.org/zap"

	"healthq/internal/ai"
	"healthq/internal/model"
	"healthq/internal/vectorstore"
)

const DefaultTopK = 4

// IndexProvider hands out the index to search together with a release func
// that ends the read. A nil index means nothing is indexed.
type IndexProvider interface {
	Acquire() (vectorstore.Index, func())
}

// StaticIndex serves one fixed index, as used for a single request batch.
type StaticIndex struct {
	Index vectorstore.Index
}

func (s StaticIndex) Acquire() (vectorstore.Index, func()) { return s.Index, func() {} }

type Retriever struct {
	embedder ai.Embedder
	indexes  IndexProvider
	topK     int
	log      *zap.Logger
}

func NewRetriever(embedder ai.Embedder, indexes IndexProvider, topK int, log *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{embedder: embedder, indexes: indexes, topK: topK, log: log}
}

// Retrieve returns up to topK chunks ranked by similarity to query, highest
// first, with no score threshold. Retrieval failures degrade to an empty
// result.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]model.ScoredChunk, error) {
	idx, release := r.indexes.Acquire()
	defer release()
	if idx == nil || idx.Len() == 0 {
		return []model.ScoredChunk{}, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) != 1 {
		r.log.Warn("embed query failed", zap.Error(err))
		return []model.ScoredChunk{}, nil
	}

	chunks, err := idx.Search(ctx, vectors[0], r.topK)
	if err != nil {
		r.log.Warn("index search failed", zap.Error(err))
		return []model.ScoredChunk{}, nil
	}
	return chunks, nil
}
