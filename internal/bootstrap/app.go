package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"investigraph/internal/ai"
	appsvc "investigraph/internal/app"
	"investigraph/internal/cache"
	"investigraph/internal/config"
	"investigraph/internal/graph"
	"investigraph/internal/metrics"
	"investigraph/internal/model"
	mysqlClient "investigraph/internal/platform/mysql"
	rabbitmqClient "investigraph/internal/platform/rabbitmq"
	redisClient "investigraph/internal/platform/redis"
	"investigraph/internal/repository"
	"investigraph/internal/vector"
	"investigraph/internal/worker"
)

type App struct {
	Config  *config.Config
	MySQL   *gorm.DB
	Redis   *redis.Client
	MQConn  *amqp.Connection
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Ingest *appsvc.IngestService
	Query  *appsvc.QueryService
	Graphs *appsvc.GraphService

	IngestWorker *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("app", cfg.App.Name)
	slog.SetDefault(logger)

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.Document{},
		&model.Chunk{},
		&model.Entity{},
		&model.Relationship{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	llm := ai.NewOpenAICompatibleClient()
	chatCfg := ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	}
	extractCfg := ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.ExtractModel,
	}
	if extractCfg.Model == "" {
		extractCfg.Model = cfg.LLM.Model
	}
	embCfg := ai.EmbeddingConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
	}
	rerankCfg := ai.RerankConfig{
		BaseURL: cfg.LLM.RerankBaseURL,
		APIKey:  cfg.LLM.RerankAPIKey,
		Model:   cfg.LLM.RerankModel,
	}

	docRepo := repository.NewDocumentRepository(mysqlDB)
	chunkRepo := repository.NewChunkRepository(mysqlDB)
	graphStore := graph.NewGormStore(mysqlDB)
	index := vector.NewGormIndex(mysqlDB)
	extractor := graph.NewExtractor(llm, extractCfg)

	lease := cache.NewIngestLease(redisCli, time.Duration(cfg.Redis.IngestLeaseSeconds)*time.Second)
	graphCache := cache.NewGraphCache(redisCli, time.Duration(cfg.Redis.GraphTTLSeconds)*time.Second)
	publisher := rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue)

	m := metrics.New()

	ingestService := appsvc.NewIngestService(
		docRepo,
		chunkRepo,
		graphStore,
		index,
		llm,
		extractor,
		publisher,
		lease,
		cfg.Retrieval,
		embCfg,
		m,
		logger,
	).WithViewCache(graphCache)
	queryService := appsvc.NewQueryService(
		docRepo,
		chunkRepo,
		graphStore,
		index,
		llm,
		llm,
		llm,
		extractor,
		cfg.Retrieval,
		embCfg,
		chatCfg,
		rerankCfg,
		m,
		logger,
	)
	graphService := appsvc.NewGraphService(docRepo, graphStore, graphCache, m, logger)

	ingestWorker := worker.NewIngestWorker(mqConn, ingestService, cfg.RabbitMQ.IngestQueue, logger)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	return &App{
		Config:       cfg,
		MySQL:        mysqlDB,
		Redis:        redisCli,
		MQConn:       mqConn,
		Logger:       logger,
		Metrics:      m,
		Ingest:       ingestService,
		Query:        queryService,
		Graphs:       graphService,
		IngestWorker: ingestWorker,
		StartedAt:    time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
