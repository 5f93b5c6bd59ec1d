package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"healthq/internal/ai"
	appsvc "healthq/internal/app"
	"healthq/internal/chunker"
	"healthq/internal/config"
	"healthq/internal/embedding"
	"healthq/internal/index"
	"healthq/internal/loader"
	"healthq/internal/metrics"
	mysqlClient "healthq/internal/platform/mysql"
	rabbitmqClient "healthq/internal/platform/rabbitmq"
	redisClient "healthq/internal/platform/redis"
	"healthq/internal/repository"
	"healthq/internal/session"
	"healthq/internal/worker"
)

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	QA      *appsvc.QAService

	MySQL         *gorm.DB
	Archive       *repository.TurnRecordRepository
	Redis         *redis.Client
	MQConn        *amqp.Connection
	TurnPublisher *rabbitmqClient.TurnPublisher
	ArchiveWorker *worker.TurnArchiveWorker

	StartedAt time.Time
}

// New connects the optional backends selected in cfg and assembles the QA
// service. Backends that fail to connect are fatal.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		Config:    cfg,
		Logger:    log,
		Metrics:   metrics.New(),
		StartedAt: time.Now(),
	}

	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	store, err := a.sessionStore()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	llmClient := ai.NewOpenAICompatibleClient(
		ai.WithTimeout(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second),
		ai.WithRateLimit(cfg.LLM.RequestsPerSecond),
	)
	generator := ai.NewChatGenerator(llmClient, ai.ChatConfig{
		BaseURL: cfg.ChatBaseURL(),
		APIKey:  cfg.ChatAPIKey(),
		Model:   cfg.ChatModel(),
	})
	embedder := newEmbedder(cfg, llmClient)

	split := chunker.New(chunker.WithChunkSize(cfg.Chunking.Size), chunker.WithOverlap(cfg.Chunking.Overlap))
	builderOpts := index.BuilderOptions{BatchSize: cfg.Embedding.BatchSize, Concurrency: cfg.Embedding.Concurrency}
	var kbFactory index.Factory = index.MemoryFactory{}
	if cfg.VectorStore.Backend == config.BackendSQLite {
		kbFactory = index.SQLiteFactory{Dir: cfg.VectorStore.Dir}
	}

	var publisher appsvc.TurnPublisher
	if a.TurnPublisher != nil {
		publisher = a.TurnPublisher
	}

	a.QA = appsvc.NewQAService(appsvc.QADeps{
		Loader: loader.New(loader.Options{
			TempDir:         cfg.Documents.TempDir,
			RetainTempFiles: cfg.Documents.RetainTempFiles,
			FetchTimeout:    time.Duration(cfg.Documents.FetchTimeoutSeconds) * time.Second,
		}, log.Named("loader")),
		KnowledgeBase: index.NewBuilder(split, embedder, kbFactory, builderOpts, log.Named("index")),
		Ephemeral:     index.NewBuilder(split, embedder, index.MemoryFactory{}, builderOpts, log.Named("index")),
		Cache:         index.NewCache(log.Named("kb")),
		Embedder:      embedder,
		Generator:     generator,
		Store:         store,
		Locker:        session.NewLocker(0),
		Publisher:     publisher,
		Metrics:       a.Metrics,
		Logger:        log.Named("qa"),
	}, appsvc.QAOptions{
		TopK:               cfg.Retrieval.TopK,
		FallbackToQuestion: cfg.Rewrite.FallbackToQuestion,
		PromptVariant:      cfg.Answer.PromptVariant,
		SignatureParams: []string{
			embedder.Name(),
			strconv.Itoa(cfg.Chunking.Size),
			strconv.Itoa(cfg.Chunking.Overlap),
		},
	})

	log.Info("application assembled",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.ChatModel()),
		zap.String("embedder", embedder.Name()),
		zap.String("vectorstore", cfg.VectorStore.Backend),
		zap.String("session_backend", cfg.Session.Backend),
		zap.Bool("turn_archive", a.TurnPublisher != nil),
	)
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	if cfg.Session.Backend == config.BackendRedis {
		client, err := redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.Redis = client
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.TurnArchiveQueue)
		if err != nil {
			return err
		}
		a.MQConn = conn
		a.TurnPublisher = rabbitmqClient.NewTurnPublisher(conn, cfg.RabbitMQ.TurnArchiveQueue)
	}

	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, cfg.MySQLDSN())
		if err != nil {
			return err
		}
		a.MySQL = db
		a.Archive = repository.NewTurnRecordRepository(db)
	}

	if a.MQConn != nil && a.MySQL != nil {
		archiveWorker := worker.NewTurnArchiveWorker(
			a.MQConn,
			a.Archive,
			cfg.RabbitMQ.TurnArchiveQueue,
			a.Logger.Named("archive"),
		)
		if err := archiveWorker.Start(ctx); err != nil {
			return fmt.Errorf("start turn archive worker failed: %w", err)
		}
		a.ArchiveWorker = archiveWorker
	}
	return nil
}

func (a *App) sessionStore() (session.Store, error) {
	switch a.Config.Session.Backend {
	case config.BackendMemory, "":
		return session.NewMemoryStore(), nil
	case config.BackendRedis:
		ttl := time.Duration(a.Config.Session.TTLSeconds) * time.Second
		return session.NewRedisStore(a.Redis, a.Config.Redis.KeyPrefix, ttl), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", a.Config.Session.Backend)
	}
}

func newEmbedder(cfg *config.Config, client *ai.OpenAICompatibleClient) ai.Embedder {
	if cfg.Embedding.Provider == config.ProviderLocal {
		return embedding.NewLocalEmbedder(cfg.Embedding.LocalDimension)
	}
	return ai.NewRemoteEmbedder(client, ai.EmbeddingConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.Embedding.Model,
	})
}

func (a *App) Close() error {
	var errs []error
	if a.ArchiveWorker != nil {
		a.ArchiveWorker.Close()
	}
	if a.TurnPublisher != nil {
		if err := a.TurnPublisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if a.QA != nil {
		a.QA.ResetKnowledgeBase()
	}
	return errors.Join(errs...)
}
