package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthq/internal/ai"
	"healthq/internal/chunker"
	"healthq/internal/embedding"
	"healthq/internal/index"
	"healthq/internal/loader"
	"healthq/internal/model"
	"healthq/internal/session"
	"healthq/internal/vectorstore"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls [][]ai.ChatMessage
	reply func(messages []ai.ChatMessage) (string, error)
}

func (g *fakeGenerator) Generate(_ context.Context, messages []ai.ChatMessage) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, messages)
	g.mu.Unlock()
	return g.reply(messages)
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// recordingEmbedder remembers every text it was asked to embed.
type recordingEmbedder struct {
	inner ai.Embedder
	mu    sync.Mutex
	seen  []string
}

func (e *recordingEmbedder) Name() string { return e.inner.Name() }

func (e *recordingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.seen = append(e.seen, texts...)
	e.mu.Unlock()
	return e.inner.Embed(ctx, texts)
}

// echoContext answers with the context block of the answer prompt and
// rewrites follow-ups by prefixing them.
func echoContext(messages []ai.ChatMessage) (string, error) {
	system := messages[0].Content
	if system == contextualizePrompt {
		return "standalone: " + messages[len(messages)-1].Content, nil
	}
	if i := strings.Index(system, "Context:\n"); i >= 0 {
		rest := system[i+len("Context:\n"):]
		if j := strings.Index(rest, "\n\nAnswer:"); j >= 0 {
			rest = rest[:j]
		}
		return "According to the policy: " + rest, nil
	}
	return "", errors.New("unexpected prompt")
}

func pageIndex(t *testing.T, embedder ai.Embedder, texts ...string) vectorstore.Index {
	t.Helper()
	pages := make([]model.PageRecord, len(texts))
	for i, text := range texts {
		pages[i] = model.PageRecord{DocumentID: "doc", Source: "policy.pdf", PageIndex: i, Text: text}
	}
	b := index.NewBuilder(chunker.New(), embedder, index.MemoryFactory{}, index.BuilderOptions{}, nil)
	idx, _, err := b.Build(context.Background(), "", pages)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func newTestPipeline(gen ai.Generator, emb ai.Embedder, idx vectorstore.Index, store session.Store) *Pipeline {
	return NewPipeline(PipelineDeps{
		Rewriter:  NewRewriter(gen, false, nil),
		Retriever: NewRetriever(emb, StaticIndex{Index: idx}, DefaultTopK, nil),
		Composer:  NewComposer(gen, PromptVariantPolicy),
		Store:     store,
	})
}

func TestRewriter(t *testing.T) {
	ctx := context.Background()
	history := []model.Turn{{Question: "Is maternity covered?", Answer: "Yes, after 24 months."}}

	t.Run("first turn is identity", func(t *testing.T) {
		gen := &fakeGenerator{reply: echoContext}
		got, err := NewRewriter(gen, false, nil).Rewrite(ctx, nil, "What is the deductible?")
		require.NoError(t, err)
		assert.Equal(t, "What is the deductible?", got)
		assert.Zero(t, gen.callCount())
	})

	t.Run("follow-up goes through the model with history", func(t *testing.T) {
		gen := &fakeGenerator{reply: echoContext}
		got, err := NewRewriter(gen, false, nil).Rewrite(ctx, history, "What about twins?")
		require.NoError(t, err)
		assert.Equal(t, "standalone: What about twins?", got)
		require.Equal(t, 1, gen.callCount())

		msgs := gen.calls[0]
		require.Len(t, msgs, 4)
		assert.Equal(t, ai.RoleSystem, msgs[0].Role)
		assert.Equal(t, ai.RoleUser, msgs[1].Role)
		assert.Equal(t, "Is maternity covered?", msgs[1].Content)
		assert.Equal(t, ai.RoleAssistant, msgs[2].Role)
		assert.Equal(t, ai.RoleUser, msgs[3].Role)
	})

	failing := func([]ai.ChatMessage) (string, error) { return "", errors.New("upstream 503") }

	t.Run("failure keeps the cause", func(t *testing.T) {
		timeout := func([]ai.ChatMessage) (string, error) { return "", context.DeadlineExceeded }
		_, err := NewRewriter(&fakeGenerator{reply: timeout}, false, nil).Rewrite(ctx, history, "q")
		assert.ErrorIs(t, err, model.ErrRewrite)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("failure propagates", func(t *testing.T) {
		_, err := NewRewriter(&fakeGenerator{reply: failing}, false, nil).Rewrite(ctx, history, "q")
		assert.ErrorIs(t, err, model.ErrRewrite)
	})

	t.Run("failure falls back when configured", func(t *testing.T) {
		got, err := NewRewriter(&fakeGenerator{reply: failing}, true, nil).Rewrite(ctx, history, "q")
		require.NoError(t, err)
		assert.Equal(t, "q", got)
	})
}

func TestComposer(t *testing.T) {
	ctx := context.Background()
	chunks := []model.ScoredChunk{
		{Chunk: model.Chunk{ID: "a", Text: "Room rent is capped at 1%."}},
		{Chunk: model.Chunk{ID: "b", Text: "ICU is capped at 2%."}},
	}

	t.Run("no chunks declines without a model call", func(t *testing.T) {
		gen := &fakeGenerator{reply: echoContext}
		got, err := NewComposer(gen, PromptVariantPolicy).Compose(ctx, "q", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, PolicyDeclinePhrase, got)

		got, err = NewComposer(gen, PromptVariantConcise).Compose(ctx, "q", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, ConciseDeclinePhrase, got)
		assert.Zero(t, gen.callCount())
	})

	t.Run("context block joins chunks", func(t *testing.T) {
		gen := &fakeGenerator{reply: func([]ai.ChatMessage) (string, error) { return "  ok  ", nil }}
		history := []model.Turn{{Question: "q0", Answer: "a0"}}
		got, err := NewComposer(gen, PromptVariantPolicy).Compose(ctx, "q1", history, chunks)
		require.NoError(t, err)
		assert.Equal(t, "ok", got)

		msgs := gen.calls[0]
		require.Len(t, msgs, 4)
		assert.Contains(t, msgs[0].Content, "Room rent is capped at 1%.\n\nICU is capped at 2%.")
		assert.Contains(t, msgs[0].Content, "at least 50 words")
		assert.Contains(t, msgs[0].Content, PolicyDeclinePhrase)
		assert.Equal(t, "q1", msgs[3].Content)
	})

	t.Run("concise variant", func(t *testing.T) {
		gen := &fakeGenerator{reply: func([]ai.ChatMessage) (string, error) { return "ok", nil }}
		_, err := NewComposer(gen, PromptVariantConcise).Compose(ctx, "q", nil, chunks)
		require.NoError(t, err)
		assert.Contains(t, gen.calls[0][0].Content, "say you don't know")
		assert.Contains(t, gen.calls[0][0].Content, "three sentences maximum")
	})

	t.Run("failure propagates", func(t *testing.T) {
		gen := &fakeGenerator{reply: func([]ai.ChatMessage) (string, error) { return "", context.DeadlineExceeded }}
		_, err := NewComposer(gen, PromptVariantPolicy).Compose(ctx, "q", nil, chunks)
		assert.ErrorIs(t, err, model.ErrAnswer)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestPipeline_DeductibleEndToEnd(t *testing.T) {
	emb := &recordingEmbedder{inner: embedding.NewLocalEmbedder(256)}
	idx := pageIndex(t, emb, "The deductible is $500 per year.")
	gen := &fakeGenerator{reply: echoContext}
	p := newTestPipeline(gen, emb, idx, session.NewMemoryStore())

	result, err := p.HandleTurn(context.Background(), "s1", "What is the deductible?")
	require.NoError(t, err)

	require.NotEmpty(t, result.Sources)
	assert.Equal(t, "The deductible is $500 per year.", result.Sources[0].Chunk.Text)
	assert.Contains(t, result.Turn.Answer, "$500")
	assert.Equal(t, []string{result.Sources[0].Chunk.ID}, result.Turn.ChunkIDs)
}

func TestPipeline_FirstTurnPassesRawQuestionToRetriever(t *testing.T) {
	emb := &recordingEmbedder{inner: embedding.NewLocalEmbedder(64)}
	idx := pageIndex(t, emb, "Cataract surgery has a two year waiting period.")
	emb.seen = nil

	gen := &fakeGenerator{reply: echoContext}
	p := newTestPipeline(gen, emb, idx, session.NewMemoryStore())

	result, err := p.HandleTurn(context.Background(), "s1", "Is cataract covered?")
	require.NoError(t, err)
	assert.Equal(t, []string{"Is cataract covered?"}, emb.seen)
	assert.Equal(t, "Is cataract covered?", result.Turn.StandaloneQuestion)

	_, err = p.HandleTurn(context.Background(), "s1", "And the waiting period?")
	require.NoError(t, err)
	assert.Equal(t, "standalone: And the waiting period?", emb.seen[1])
}

func TestPipeline_QuestionIsNotTrimmed(t *testing.T) {
	emb := &recordingEmbedder{inner: embedding.NewLocalEmbedder(64)}
	idx := pageIndex(t, emb, "Cataract surgery has a two year waiting period.")
	emb.seen = nil

	p := newTestPipeline(&fakeGenerator{reply: echoContext}, emb, idx, session.NewMemoryStore())
	result, err := p.HandleTurn(context.Background(), "s1", "  Is cataract covered?\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"  Is cataract covered?\n"}, emb.seen)
	assert.Equal(t, "  Is cataract covered?\n", result.Turn.StandaloneQuestion)
}

func TestPipeline_TranscriptGrowsOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewLocalEmbedder(64)
	idx := pageIndex(t, emb, "Ambulance charges are covered up to 2000.")
	store := session.NewMemoryStore()

	var failCompose atomic.Bool
	gen := &fakeGenerator{reply: func(messages []ai.ChatMessage) (string, error) {
		if failCompose.Load() && messages[0].Content != contextualizePrompt {
			return "", errors.New("model overloaded")
		}
		return echoContext(messages)
	}}
	p := newTestPipeline(gen, emb, idx, store)

	_, err := p.HandleTurn(ctx, "s1", "Are ambulance charges covered?")
	require.NoError(t, err)
	turns, err := p.Transcript(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	failCompose.Store(true)
	_, err = p.HandleTurn(ctx, "s1", "Up to how much?")
	assert.ErrorIs(t, err, model.ErrAnswer)
	turns, err = p.Transcript(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	failCompose.Store(false)
	_, err = p.HandleTurn(ctx, "s1", "Up to how much?")
	require.NoError(t, err)
	turns, err = p.Transcript(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Up to how much?", turns[1].Question)

	require.NoError(t, p.ResetSession(ctx, "s1"))
	turns, err = p.Transcript(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestPipeline_EmptyIndexDeclines(t *testing.T) {
	gen := &fakeGenerator{reply: echoContext}
	p := newTestPipeline(gen, embedding.NewLocalEmbedder(64), nil, session.NewMemoryStore())

	result, err := p.HandleTurn(context.Background(), "s1", "What is the co-pay?")
	require.NoError(t, err)
	assert.Equal(t, PolicyDeclinePhrase, result.Turn.Answer)
	assert.Empty(t, result.Sources)
	assert.Zero(t, gen.callCount())
}

func TestPipeline_RejectsBlankInput(t *testing.T) {
	p := newTestPipeline(&fakeGenerator{reply: echoContext}, embedding.NewLocalEmbedder(64), nil, session.NewMemoryStore())
	_, err := p.HandleTurn(context.Background(), "", "q")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = p.HandleTurn(context.Background(), "s", "   ")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

type recordingPublisher struct {
	mu    sync.Mutex
	turns []model.Turn
	err   error
}

func (p *recordingPublisher) PublishTurn(_ context.Context, turn model.Turn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
	return p.err
}

func TestPipeline_PublishFailureDoesNotFailTurn(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	gen := &fakeGenerator{reply: echoContext}
	p := NewPipeline(PipelineDeps{
		Rewriter:  NewRewriter(gen, false, nil),
		Retriever: NewRetriever(embedding.NewLocalEmbedder(64), StaticIndex{}, 0, nil),
		Composer:  NewComposer(gen, PromptVariantPolicy),
		Store:     session.NewMemoryStore(),
		Publisher: pub,
	})

	result, err := p.HandleTurn(context.Background(), "s1", "q")
	require.NoError(t, err)
	require.Len(t, pub.turns, 1)
	assert.Equal(t, result.Turn.ID, pub.turns[0].ID)
}

// pageExtract treats content as form-feed separated pages.
func pageExtract(calls *atomic.Int32) loader.PageExtractor {
	return func(r io.Reader) ([]string, error) {
		calls.Add(1)
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return strings.Split(string(raw), "\f"), nil
	}
}

func newTestService(t *testing.T, gen ai.Generator, calls *atomic.Int32) *QAService {
	t.Helper()
	return newTestServiceWithFactory(t, gen, calls, index.MemoryFactory{})
}

func newTestServiceWithFactory(t *testing.T, gen ai.Generator, calls *atomic.Int32, factory index.Factory) *QAService {
	t.Helper()
	emb := embedding.NewLocalEmbedder(128)
	ld := loader.New(loader.Options{TempDir: t.TempDir(), Extract: pageExtract(calls)}, nil)
	builder := index.NewBuilder(chunker.New(), emb, factory, index.BuilderOptions{}, nil)
	return NewQAService(QADeps{
		Loader:        ld,
		KnowledgeBase: builder,
		Ephemeral:     builder,
		Embedder:      emb,
		Generator:     gen,
	}, QAOptions{TopK: 2, PromptVariant: PromptVariantPolicy})
}

func TestQAService_Run(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/policy.pdf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("The deductible is $500 per year.\fMaternity is covered after 24 months."))
	}))
	defer srv.Close()

	var calls atomic.Int32
	svc := newTestService(t, &fakeGenerator{reply: echoContext}, &calls)

	answers, err := svc.Run(context.Background(), srv.URL+"/policy.pdf", []string{
		"What is the deductible?",
		"When is maternity covered?",
	})
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Contains(t, answers[0], "$500")
	assert.Contains(t, answers[1], "24 months")

	answers, err = svc.Run(context.Background(), srv.URL+"/policy.pdf", []string{"What is the deductible?", "  "})
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Contains(t, answers[0], "$500")
	assert.Equal(t, PolicyDeclinePhrase, answers[1])

	_, err = svc.Run(context.Background(), srv.URL+"/missing.pdf", []string{"q"})
	assert.ErrorIs(t, err, model.ErrDocumentFetch)

	_, err = svc.Run(context.Background(), "", []string{"q"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestQAService_KnowledgeBaseReuse(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	svc := newTestService(t, &fakeGenerator{reply: echoContext}, &calls)

	_, err := svc.Ask(ctx, "s1", "q")
	assert.ErrorIs(t, err, model.ErrNoKnowledgeBase)

	refs := []model.DocumentRef{{Name: "policy.pdf", Content: []byte("Dental is excluded.")}}
	info, err := svc.BuildKnowledgeBase(ctx, refs, false)
	require.NoError(t, err)
	assert.False(t, info.Reused)
	assert.Equal(t, 1, info.Chunks)
	assert.Equal(t, int32(1), calls.Load())

	info, err = svc.BuildKnowledgeBase(ctx, refs, false)
	require.NoError(t, err)
	assert.True(t, info.Reused)
	assert.Equal(t, int32(1), calls.Load())

	info, err = svc.BuildKnowledgeBase(ctx, refs, true)
	require.NoError(t, err)
	assert.False(t, info.Reused)
	assert.Equal(t, int32(2), calls.Load())

	changed := []model.DocumentRef{{Name: "policy.pdf", Content: []byte("Dental is covered.")}}
	info, err = svc.BuildKnowledgeBase(ctx, changed, false)
	require.NoError(t, err)
	assert.False(t, info.Reused)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, info.Signature, svc.KnowledgeBaseSignature())

	result, err := svc.Ask(ctx, "s1", "Is dental covered?")
	require.NoError(t, err)
	assert.Contains(t, result.Turn.Answer, "Dental is covered.")

	turns, err := svc.Transcript(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	svc.ResetKnowledgeBase()
	_, err = svc.Ask(ctx, "s1", "q")
	assert.ErrorIs(t, err, model.ErrNoKnowledgeBase)
}

func TestQAService_FailedBuildKeepsPreviousKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	svc := newTestService(t, &fakeGenerator{reply: echoContext}, &calls)

	info, err := svc.BuildKnowledgeBase(ctx, []model.DocumentRef{{Name: "a.pdf", Content: []byte("Alpha.")}}, false)
	require.NoError(t, err)

	_, err = svc.BuildKnowledgeBase(ctx, []model.DocumentRef{{Name: "notes.txt", Content: []byte("x")}}, false)
	assert.ErrorIs(t, err, model.ErrDocumentParse)
	assert.Equal(t, info.Signature, svc.KnowledgeBaseSignature())
}

func TestQAService_UnsealedKnowledgeBaseFileIsRebuilt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	var calls atomic.Int32
	svc := newTestServiceWithFactory(t, &fakeGenerator{reply: echoContext}, &calls, index.SQLiteFactory{Dir: dir})

	refs := []model.DocumentRef{{Name: "policy.pdf", Content: []byte("Dental is covered after 12 months.")}}
	signature, err := index.Signature(refs)
	require.NoError(t, err)
	leftover, err := vectorstore.NewSQLiteIndex(filepath.Join(dir, signature+".db"))
	require.NoError(t, err)
	require.NoError(t, leftover.Close())

	info, err := svc.BuildKnowledgeBase(ctx, refs, false)
	require.NoError(t, err)
	assert.False(t, info.Reused)
	assert.Equal(t, 1, info.Chunks)
	assert.Equal(t, int32(1), calls.Load())

	result, err := svc.Ask(ctx, "s1", "Is dental covered?")
	require.NoError(t, err)
	assert.Contains(t, result.Turn.Answer, "Dental is covered after 12 months.")
	svc.ResetKnowledgeBase()

	restarted := newTestServiceWithFactory(t, &fakeGenerator{reply: echoContext}, &calls, index.SQLiteFactory{Dir: dir})
	info, err = restarted.BuildKnowledgeBase(ctx, refs, false)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Chunks)
	assert.Equal(t, int32(1), calls.Load())
	restarted.ResetKnowledgeBase()
}
