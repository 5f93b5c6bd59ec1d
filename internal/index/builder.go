package index

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"healthq/internal/ai"
	"healthq/internal/chunker"
	"healthq/internal/model"
	"healthq/internal/vectorstore"
)

const (
	defaultBatchSize   = 64
	defaultConcurrency = 4
)

type BuildStats struct {
	Pages    int
	Chunks   int
	Batches  int
	Duration time.Duration
}

type BuilderOptions struct {
	BatchSize   int
	Concurrency int
}

// Builder turns pages into a searchable index: split, embed, insert.
type Builder struct {
	chunker     *chunker.Chunker
	embedder    ai.Embedder
	factory     Factory
	batchSize   int
	concurrency int
	log         *zap.Logger
}

func NewBuilder(c *chunker.Chunker, embedder ai.Embedder, factory Factory, opts BuilderOptions, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	if factory == nil {
		factory = MemoryFactory{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Builder{
		chunker:     c,
		embedder:    embedder,
		factory:     factory,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		log:         log,
	}
}

func (b *Builder) Factory() Factory { return b.factory }

// Build creates a new index under key holding every chunk of pages. On
// failure the partially filled index is discarded and nothing is returned.
func (b *Builder) Build(ctx context.Context, key string, pages []model.PageRecord) (vectorstore.Index, BuildStats, error) {
	start := time.Now()
	chunks := b.chunker.Split(pages)
	stats := BuildStats{Pages: len(pages), Chunks: len(chunks)}

	vectors, batches, err := b.embedAll(ctx, chunks)
	stats.Batches = batches
	if err != nil {
		return nil, stats, fmt.Errorf("%w: embed chunks failed: %w", model.ErrIndexBuild, err)
	}

	idx, err := b.factory.Create(key)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: create index failed: %w", model.ErrIndexBuild, err)
	}
	if err := fill(ctx, idx, chunks, vectors); err != nil {
		b.discard(key, idx)
		return nil, stats, fmt.Errorf("%w: %w", model.ErrIndexBuild, err)
	}

	stats.Duration = time.Since(start)
	b.log.Info("index built",
		zap.String("key", key),
		zap.Int("pages", stats.Pages),
		zap.Int("chunks", stats.Chunks),
		zap.Int("batches", stats.Batches),
		zap.Duration("duration", stats.Duration),
	)
	return idx, stats, nil
}

// fill adds every chunk and seals persistent indexes so they can be
// reopened later.
func fill(ctx context.Context, idx vectorstore.Index, chunks []model.Chunk, vectors [][]float32) error {
	if len(chunks) > 0 {
		if err := idx.Add(ctx, chunks, vectors); err != nil {
			return fmt.Errorf("add chunks failed: %w", err)
		}
	}
	if p, ok := idx.(vectorstore.Persistent); ok {
		return p.Seal(ctx)
	}
	return nil
}

func (b *Builder) discard(key string, idx vectorstore.Index) {
	var err error
	if p, ok := idx.(vectorstore.Persistent); ok {
		err = p.Discard()
	} else {
		err = idx.Close()
	}
	if err != nil {
		b.log.Warn("discard partial index failed", zap.String("key", key), zap.Error(err))
	}
}

func (b *Builder) embedAll(ctx context.Context, chunks []model.Chunk) ([][]float32, int, error) {
	if len(chunks) == 0 {
		return nil, 0, nil
	}
	vectors := make([][]float32, len(chunks))
	batches := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for start := 0; start < len(chunks); start += b.batchSize {
		end := start + b.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches++
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		offset := start
		g.Go(func() error {
			out, err := b.embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(out), len(texts))
			}
			copy(vectors[offset:], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, batches, err
	}
	return vectors, batches, nil
}
