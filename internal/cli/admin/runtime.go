package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/chimera/internal/agents"
	"github.com/cloo-solutions/chimera/internal/chat"
	"github.com/cloo-solutions/chimera/internal/config"
	"github.com/cloo-solutions/chimera/internal/connector"
	"github.com/cloo-solutions/chimera/internal/database"
	"github.com/cloo-solutions/chimera/internal/graphindex"
	"github.com/cloo-solutions/chimera/internal/ingest"
	"github.com/cloo-solutions/chimera/internal/jobs"
	"github.com/cloo-solutions/chimera/internal/knowledge"
	"github.com/cloo-solutions/chimera/internal/llm"
	"github.com/cloo-solutions/chimera/internal/metrics"
	"github.com/cloo-solutions/chimera/internal/repository"
	"github.com/cloo-solutions/chimera/internal/retrieval"
	"github.com/cloo-solutions/chimera/internal/server"
	"github.com/cloo-solutions/chimera/internal/storage"
	"github.com/cloo-solutions/chimera/internal/vectorindex"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const metricsNamespace = "chimera"

// runtime holds every long-lived dependency of the daemon. Optional backends
// are nil when not configured.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	pool    *pgxpool.Pool
	index   vectorindex.Index
	graph   graphindex.Client
	storage *storage.S3Client
	redis   *redis.Client

	manager      *ingest.Manager
	engine       *retrieval.Engine
	orchestrator *chat.Orchestrator
	queue        *jobs.Queue
	runs         *repository.SyncRunRepository

	closers []func()
}

type runtimeOptions struct {
	migrate bool
}

func buildRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts runtimeOptions) (rt *runtime, err error) {
	if !cfg.HasOpenAI() && cfg.OpenAIBaseURL == "" {
		return nil, fmt.Errorf("an embedding provider is required: set CHIMERA_OPENAI_API_KEY or CHIMERA_OPENAI_BASE_URL")
	}

	rt = &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(metricsNamespace, prometheus.DefaultRegisterer),
	}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if cfg.HasDatabase() {
		if opts.migrate {
			if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		maxConns := cfg.DatabaseMaxConns
		if maxConns <= 0 {
			maxConns = database.PoolSize(cfg.WorkerConcurrency)
		}
		rt.pool, err = database.NewPool(ctx, database.Config{
			URL:             cfg.DatabaseURL,
			MaxConns:        maxConns,
			MaxConnLifetime: cfg.DatabaseMaxConnLifetime,
			ConnectTimeout:  10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rt.pool.Close)
		rt.runs = repository.NewSyncRunRepository(rt.pool)
		logger.Info("connected to database")
	}

	if err := rt.openVectorIndex(ctx); err != nil {
		return nil, err
	}
	if err := rt.openGraph(ctx); err != nil {
		return nil, err
	}

	if cfg.HasS3() {
		rt.storage, err = storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := rt.storage.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		logger.Info("S3 bucket ready", zap.String("bucket", cfg.S3Bucket))
	}

	if cfg.HasRedis() {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:                  cfg.RedisAddr,
			Password:              cfg.RedisPassword,
			DB:                    cfg.RedisDB,
			ContextTimeoutEnabled: true,
		})
		rt.closers = append(rt.closers, func() { _ = rt.redis.Close() })
		rt.queue = jobs.NewQueue(rt.redis, cfg.QueueName, logger)
		if err := rt.queue.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
	}

	if err := rt.buildServices(); err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) openVectorIndex(ctx context.Context) error {
	cfg := rt.cfg
	switch cfg.VectorBackend {
	case "pgvector":
		if rt.pool == nil {
			return fmt.Errorf("vector backend pgvector requires a database")
		}
		rt.index = repository.NewChunkRepository(rt.pool, cfg.VectorDimensions)
	case "memory":
		rt.index = vectorindex.NewMemory(cfg.VectorDimensions)
	default:
		q, err := vectorindex.NewQdrantIndex(vectorindex.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantUseTLS,
			Collection: cfg.QdrantCollection,
			Dimensions: cfg.VectorDimensions,
			Timeout:    cfg.IndexTimeout,
		})
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() { _ = q.Close() })
		rt.index = q
	}

	if err := rt.index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to prepare vector index: %w", err)
	}
	rt.logger.Info("vector index ready", zap.String("backend", cfg.VectorBackend))
	return nil
}

func (rt *runtime) openGraph(ctx context.Context) error {
	if !rt.cfg.HasGraph() {
		rt.graph = graphindex.Null{}
		rt.logger.Info("no graph store configured, retrieval is vector-only")
		return nil
	}

	client, err := graphindex.NewNeo4jClient(ctx, graphindex.Neo4jConfig{
		URI:      rt.cfg.Neo4jURI,
		User:     rt.cfg.Neo4jUser,
		Password: rt.cfg.Neo4jPassword,
		Database: rt.cfg.Neo4jDatabase,
		Timeout:  rt.cfg.GraphTimeout,
	})
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	})
	if err := client.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare graph schema: %w", err)
	}
	rt.graph = client
	rt.logger.Info("graph store ready")
	return nil
}

func (rt *runtime) buildServices() error {
	cfg, logger := rt.cfg, rt.logger

	llmClient := llm.NewClient(llm.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		ChatModel:           cfg.ChatModel,
		EmbeddingModel:      cfg.EmbeddingModel,
		EmbeddingDimensions: cfg.VectorDimensions,
		RequestsPerSecond:   cfg.ExtractionRPS,
	}, logger)

	prompts, err := agents.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return err
	}
	ner, err := agents.NewNER(llmClient, prompts, logger)
	if err != nil {
		return err
	}
	relation, err := agents.NewRelation(llmClient, prompts, logger)
	if err != nil {
		return err
	}
	resolution, err := agents.NewResolution(llmClient, prompts, logger)
	if err != nil {
		return err
	}
	queryAnalysis, err := agents.NewQueryAnalysis(llmClient, prompts, logger)
	if err != nil {
		return err
	}

	pipeline := knowledge.NewPipeline(knowledge.Agents{
		NER:        ner,
		Relation:   relation,
		Resolution: resolution,
	}, rt.graph, logger, rt.metrics)

	chunking := connector.DefaultChunkConfig()
	registry := connector.NewRegistry(logger)
	registry.Register(connector.TypeText, connector.NewTextFactory(chunking))
	registry.Register(connector.TypeFeishu, connector.NewFeishuFactory(nil, logger))
	if rt.storage != nil {
		registry.Register(connector.TypeFile, connector.NewFileFactory(rt.storage, chunking))
	}

	rt.manager = ingest.NewManager(registry, llmClient, rt.index, pipeline, ingest.Config{
		VectorBatchSize:    cfg.VectorBatchSize,
		KnowledgeBatchSize: cfg.KnowledgeBatchSize,
		IndexTimeout:       cfg.IndexTimeout,
	}, logger, rt.metrics)

	retrievalCfg := retrieval.DefaultConfig()
	retrievalCfg.IndexTimeout = cfg.IndexTimeout
	retrievalCfg.GraphTimeout = cfg.GraphTimeout
	rt.engine = retrieval.NewEngine(llmClient, rt.index, rt.graph, retrievalCfg, logger, rt.metrics)

	rt.orchestrator, err = chat.NewOrchestrator(queryAnalysis, rt.engine, llmClient, prompts,
		chat.Config{GenerationTimeout: cfg.GenerationTimeout}, logger, rt.metrics)
	if err != nil {
		return err
	}

	logger.Info("services ready",
		zap.Strings("connectors", registry.Names()),
		zap.Bool("graph", rt.graph.Available()),
		zap.Bool("queue", rt.queue != nil),
		zap.Bool("run_log", rt.runs != nil))
	return nil
}

// runRecorder returns the run log as an interface, nil when not configured
func (rt *runtime) runRecorder() jobs.RunRecorder {
	if rt.runs == nil {
		return nil
	}
	return rt.runs
}

// newWorker builds a queue consumer pool; it requires a queue
func (rt *runtime) newWorker(concurrency int) (*jobs.Worker, error) {
	if rt.queue == nil {
		return nil, fmt.Errorf("the worker requires CHIMERA_REDIS_ADDR")
	}
	if concurrency <= 0 {
		concurrency = rt.cfg.WorkerConcurrency
	}
	processor := jobs.NewSyncProcessor(rt.manager, rt.runRecorder(), rt.queue, rt.logger)
	return jobs.NewWorker(rt.queue, processor, concurrency, rt.logger, rt.metrics), nil
}

func (rt *runtime) health(ctx context.Context) server.HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	report := server.HealthReport{Status: "ok", Graph: rt.engine.GraphAvailable(), Checks: map[string]bool{}}
	if rt.pool != nil {
		report.Checks["database"] = rt.pool.Ping(ctx) == nil
	}
	if rt.queue != nil {
		report.Checks["queue"] = rt.queue.Ping(ctx) == nil
	}
	for _, ok := range report.Checks {
		if !ok {
			report.Status = "degraded"
		}
	}
	return report
}

// Close releases backends in reverse order of opening
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
