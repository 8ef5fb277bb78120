package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"ragcore/internal/cache"
	"ragcore/internal/chunker"
	"ragcore/internal/config"
	"ragcore/internal/embeddings"
	"ragcore/internal/index"
	"ragcore/internal/logger"
	"ragcore/internal/pipeline"
	"ragcore/internal/queue"
	"ragcore/internal/registry"
	"ragcore/internal/retrieval"
	"ragcore/internal/storage"
)

// Deps bundles the runtime dependencies of the service.
type Deps struct {
	Config    config.Config
	Log       *slog.Logger
	Registry  registry.Registry
	Blobs     storage.Store
	Index     *index.Index
	Embedder  embeddings.Embedder
	Cache     cache.Cache
	Queue     queue.Queue
	Pipeline  *pipeline.Pipeline
	Retriever *retrieval.Coordinator
}

// Build loads env, config, and wires all components.
func Build() (Deps, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	chunkOpts := chunker.Options{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}
	if err := chunkOpts.Validate(); err != nil {
		return Deps{}, fmt.Errorf("invalid chunking config: %w", err)
	}

	reg, err := buildRegistry(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize registry: %w", err)
	}
	blobs, err := storage.NewDisk(cfg.UploadDir)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize artifact storage: %w", err)
	}
	ix, err := index.New(cfg.VectorDim)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	embedder, err := buildEmbedder(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c, err := buildCache(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize cache: %w", err)
	}
	q, err := buildQueue(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}

	tracker := pipeline.NewTracker()
	pipe := pipeline.New(log, reg, blobs, ix, embedder, tracker, cfg.MaxUploadSize, chunkOpts)
	retriever := retrieval.New(log, ix, reg, embedder, c, time.Duration(cfg.CacheTTL)*time.Second)

	return Deps{
		Config:    cfg,
		Log:       log,
		Registry:  reg,
		Blobs:     blobs,
		Index:     ix,
		Embedder:  embedder,
		Cache:     c,
		Queue:     q,
		Pipeline:  pipe,
		Retriever: retriever,
	}, nil
}

func buildRegistry(cfg config.Config, log *slog.Logger) (registry.Registry, error) {
	switch cfg.RegistryProvider {
	case "memory":
		log.Info("using in-memory document registry")
		return registry.NewMemory(), nil
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when REGISTRY_PROVIDER=postgres")
		}
		reg, err := registry.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres document registry")
		return reg, nil
	default:
		return nil, fmt.Errorf("invalid REGISTRY_PROVIDER: %s (valid options: memory, postgres)", cfg.RegistryProvider)
	}
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	switch cfg.EmbedderProvider {
	case "hash":
		log.Info("using deterministic hash embedder", "dim", cfg.VectorDim)
		return embeddings.NewHashEmbedder(cfg.VectorDim)
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDER_PROVIDER=openai")
		}
		embedder, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(cfg.EmbeddingModel), cfg.VectorDim)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel)
		return embedder, nil
	default:
		return nil, fmt.Errorf("invalid EMBEDDER_PROVIDER: %s (valid options: hash, openai)", cfg.EmbedderProvider)
	}
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	switch cfg.CacheProvider {
	case "noop":
		return cache.NewNoOp(), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required when CACHE_PROVIDER=redis")
		}
		c, err := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		log.Info("using Redis query cache", "addr", cfg.RedisAddr)
		return c, nil
	default:
		return nil, fmt.Errorf("invalid CACHE_PROVIDER: %s (valid options: noop, redis)", cfg.CacheProvider)
	}
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, error) {
	switch cfg.QueueProvider {
	case "inproc":
		log.Info("using in-process task queue")
		return queue.NewInproc(log, 64), nil
	case "nats":
		if cfg.QueueURL == "" {
			return nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), nil
	default:
		return nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: inproc, nats)", cfg.QueueProvider)
	}
}
