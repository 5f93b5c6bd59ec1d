package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthq/internal/ai"
	"healthq/internal/index"
	"healthq/internal/loader"
	"healthq/internal/metrics"
	"healthq/internal/model"
	"healthq/internal/session"
	"healthq/internal/vectorstore"
)

type QAOptions struct {
	TopK               int
	FallbackToQuestion bool
	PromptVariant      string
	// SignatureParams are folded into knowledge-base signatures so that a
	// change of chunking or embedder forces a rebuild.
	SignatureParams []string
}

type QADeps struct {
	Loader *loader.Loader
	// KnowledgeBase builds the shared index; Ephemeral builds per-request
	// indexes and should use an in-memory factory.
	KnowledgeBase *index.Builder
	Ephemeral     *index.Builder
	Cache         *index.Cache
	Embedder      ai.Embedder
	Generator     ai.Generator
	Store         session.Store
	Locker        *session.Locker
	Publisher     TurnPublisher
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

type KnowledgeBaseInfo struct {
	Signature string `json:"signature"`
	Documents int    `json:"documents"`
	Pages     int    `json:"pages"`
	Chunks    int    `json:"chunks"`
	Reused    bool   `json:"reused"`
}

// QAService is the entry point for both surfaces: the one-shot document run
// and conversational turns over a shared knowledge base.
type QAService struct {
	loader    *loader.Loader
	kb        *index.Builder
	ephemeral *index.Builder
	cache     *index.Cache
	embedder  ai.Embedder
	generator ai.Generator
	rewriter  *Rewriter
	composer  *Composer
	locker    *session.Locker
	publisher TurnPublisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	opts      QAOptions

	pipeline *Pipeline
}

func NewQAService(deps QADeps, opts QAOptions) *QAService {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cache := deps.Cache
	if cache == nil {
		cache = index.NewCache(log)
	}
	locker := deps.Locker
	if locker == nil {
		locker = session.NewLocker(0)
	}
	store := deps.Store
	if store == nil {
		store = session.NewMemoryStore()
	}
	ephemeral := deps.Ephemeral
	if ephemeral == nil {
		ephemeral = deps.KnowledgeBase
	}

	s := &QAService{
		loader:    deps.Loader,
		kb:        deps.KnowledgeBase,
		ephemeral: ephemeral,
		cache:     cache,
		embedder:  deps.Embedder,
		generator: deps.Generator,
		rewriter:  NewRewriter(deps.Generator, opts.FallbackToQuestion, log),
		composer:  NewComposer(deps.Generator, opts.PromptVariant),
		locker:    locker,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		log:       log,
		opts:      opts,
	}
	s.pipeline = s.newPipeline(cache, store)
	return s
}

func (s *QAService) newPipeline(indexes IndexProvider, store session.Store) *Pipeline {
	return NewPipeline(PipelineDeps{
		Rewriter:  s.rewriter,
		Retriever: NewRetriever(s.embedder, indexes, s.opts.TopK, s.log),
		Composer:  s.composer,
		Store:     store,
		Locker:    s.locker,
		Publisher: s.publisher,
		Metrics:   s.metrics,
		Logger:    s.log,
	})
}

// Run downloads the document at url, indexes it and answers every question
// in order. Each question is answered with an empty history; a blank
// question is answered with the decline phrase.
func (s *QAService) Run(ctx context.Context, url string, questions []string) ([]string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: documents url is required", model.ErrInvalidInput)
	}
	total := time.Now()

	started := time.Now()
	ref, err := s.loader.Fetch(ctx, url)
	if err == nil {
		var pages []model.PageRecord
		pages, err = s.loader.Load(ctx, []model.DocumentRef{ref})
		if err == nil {
			s.metrics.ObserveStage(metrics.StageLoad, started, nil)
			return s.answerAll(ctx, pages, questions, total)
		}
	}
	s.metrics.ObserveStage(metrics.StageLoad, started, err)
	return nil, err
}

func (s *QAService) answerAll(ctx context.Context, pages []model.PageRecord, questions []string, total time.Time) ([]string, error) {
	started := time.Now()
	idx, stats, err := s.ephemeral.Build(ctx, "", pages)
	s.metrics.ObserveStage(metrics.StageIndex, started, err)
	s.metrics.ObserveIndexBuild(err)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	pipeline := s.newPipeline(StaticIndex{Index: idx}, session.NewMemoryStore())
	answers := make([]string, 0, len(questions))
	for i, question := range questions {
		if strings.TrimSpace(question) == "" {
			s.log.Warn("blank question in document run", zap.Int("position", i))
			answers = append(answers, s.composer.DeclinePhrase())
			continue
		}
		result, err := pipeline.HandleTurn(ctx, "run-"+uuid.NewString(), question)
		if err != nil {
			return nil, err
		}
		answers = append(answers, result.Turn.Answer)
	}

	s.log.Info("document run completed",
		zap.Int("pages", stats.Pages),
		zap.Int("chunks", stats.Chunks),
		zap.Int("questions", len(questions)),
		zap.Duration("elapsed", time.Since(total)),
	)
	return answers, nil
}

// BuildKnowledgeBase makes refs the shared knowledge base. An unchanged batch
// reuses the current index; with rebuild set the index is always rebuilt.
func (s *QAService) BuildKnowledgeBase(ctx context.Context, refs []model.DocumentRef, rebuild bool) (*KnowledgeBaseInfo, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no documents", model.ErrInvalidInput)
	}
	signature, err := index.Signature(refs, s.opts.SignatureParams...)
	if err != nil {
		return nil, err
	}
	if rebuild {
		s.cache.Invalidate()
	}

	info := &KnowledgeBaseInfo{Signature: signature, Documents: len(refs)}
	idx, reused, err := s.cache.Ensure(ctx, signature, func(ctx context.Context) (vectorstore.Index, error) {
		if !rebuild {
			if idx, err := s.kb.Factory().Open(signature); err == nil {
				s.log.Info("knowledge base reopened", zap.String("signature", signature), zap.Int("chunks", idx.Len()))
				return idx, nil
			} else if !errors.Is(err, vectorstore.ErrIndexNotFound) {
				s.log.Warn("reopen knowledge base failed", zap.String("signature", signature), zap.Error(err))
			}
		}

		started := time.Now()
		pages, err := s.loader.Load(ctx, refs)
		s.metrics.ObserveStage(metrics.StageLoad, started, err)
		if err != nil {
			return nil, err
		}
		info.Pages = len(pages)

		started = time.Now()
		idx, _, err := s.kb.Build(ctx, signature, pages)
		s.metrics.ObserveStage(metrics.StageIndex, started, err)
		s.metrics.ObserveIndexBuild(err)
		return idx, err
	})
	s.metrics.ObserveCacheLookup(reused)
	if err != nil {
		return nil, err
	}

	info.Reused = reused
	info.Chunks = idx.Len()
	s.metrics.SetKnowledgeBaseChunks(info.Chunks)
	return info, nil
}

func (s *QAService) ResetKnowledgeBase() {
	s.cache.Invalidate()
	s.metrics.SetKnowledgeBaseChunks(0)
}

// KnowledgeBaseSignature is empty when no knowledge base is active.
func (s *QAService) KnowledgeBaseSignature() string {
	return s.cache.Signature()
}

// Ask answers question within sessionID over the shared knowledge base.
func (s *QAService) Ask(ctx context.Context, sessionID, question string) (*TurnResult, error) {
	if s.cache.Current() == nil {
		return nil, model.ErrNoKnowledgeBase
	}
	return s.pipeline.HandleTurn(ctx, sessionID, question)
}

func (s *QAService) Transcript(ctx context.Context, sessionID string) ([]model.Turn, error) {
	return s.pipeline.Transcript(ctx, sessionID)
}

func (s *QAService) ResetSession(ctx context.Context, sessionID string) error {
	return s.pipeline.ResetSession(ctx, sessionID)
}
