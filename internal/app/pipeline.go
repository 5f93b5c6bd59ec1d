package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthq/internal/metrics"
	"healthq/internal/model"
	"healthq/internal/session"
)

// TurnPublisher hands completed turns to the archive. It is optional.
type TurnPublisher interface {
	PublishTurn(ctx context.Context, turn model.Turn) error
}

type TurnResult struct {
	Turn    model.Turn          `json:"turn"`
	Sources []model.ScoredChunk `json:"sources"`
}

type PipelineDeps struct {
	Rewriter  *Rewriter
	Retriever *Retriever
	Composer  *Composer
	Store     session.Store
	Locker    *session.Locker
	Publisher TurnPublisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Pipeline runs one conversational turn: rewrite, retrieve, compose, append.
// Turns on the same session id are serialised.
type Pipeline struct {
	rewriter  *Rewriter
	retriever *Retriever
	composer  *Composer
	store     session.Store
	locker    *session.Locker
	publisher TurnPublisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	locker := deps.Locker
	if locker == nil {
		locker = session.NewLocker(0)
	}
	return &Pipeline{
		rewriter:  deps.Rewriter,
		retriever: deps.Retriever,
		composer:  deps.Composer,
		store:     deps.Store,
		locker:    locker,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		log:       log,
		now:       time.Now,
	}
}

// HandleTurn answers question within sessionID. On any failure the
// transcript is left exactly as it was.
func (p *Pipeline) HandleTurn(ctx context.Context, sessionID, question string) (result *TurnResult, err error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: session id and question are required", model.ErrInvalidInput)
	}

	unlock := p.locker.Lock(sessionID)
	defer unlock()
	defer func() { p.metrics.ObserveTurn(err) }()

	sess, err := p.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session failed: %w", err)
	}
	transcript := sess.Turns

	started := time.Now()
	standalone, err := p.rewriter.Rewrite(ctx, transcript, question)
	p.metrics.ObserveStage(metrics.StageRewrite, started, err)
	if err != nil {
		return nil, err
	}

	started = time.Now()
	chunks, err := p.retriever.Retrieve(ctx, standalone)
	p.metrics.ObserveStage(metrics.StageRetrieve, started, err)
	if err != nil {
		return nil, err
	}

	started = time.Now()
	answer, err := p.composer.Compose(ctx, question, transcript, chunks)
	p.metrics.ObserveStage(metrics.StageCompose, started, err)
	if err != nil {
		return nil, err
	}

	turn := model.Turn{
		ID:                 uuid.NewString(),
		SessionID:          sessionID,
		Question:           question,
		StandaloneQuestion: standalone,
		ChunkIDs:           model.ChunkIDs(chunks),
		Answer:             answer,
		CreatedAt:          p.now().UTC(),
	}
	started = time.Now()
	err = p.store.Append(ctx, sessionID, turn)
	p.metrics.ObserveStage(metrics.StageAppend, started, err)
	if err != nil {
		return nil, fmt.Errorf("append turn failed: %w", err)
	}

	p.publish(ctx, turn)

	p.log.Debug("turn completed",
		zap.String("session_id", sessionID),
		zap.String("turn_id", turn.ID),
		zap.Int("chunks", len(chunks)),
	)
	return &TurnResult{Turn: turn, Sources: chunks}, nil
}

func (p *Pipeline) publish(ctx context.Context, turn model.Turn) {
	if p.publisher == nil {
		return
	}
	err := p.publisher.PublishTurn(ctx, turn)
	p.metrics.ObserveArchivePublish(err)
	if err != nil {
		p.log.Warn("publish turn failed", zap.String("turn_id", turn.ID), zap.Error(err))
	}
}

func (p *Pipeline) Transcript(ctx context.Context, sessionID string) ([]model.Turn, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", model.ErrInvalidInput)
	}
	return p.store.Transcript(ctx, sessionID)
}

func (p *Pipeline) ResetSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", model.ErrInvalidInput)
	}
	unlock := p.locker.Lock(sessionID)
	defer unlock()
	return p.store.Reset(ctx, sessionID)
}
