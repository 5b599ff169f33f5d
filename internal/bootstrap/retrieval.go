package bootstrap

import (
	"fmt"

	"trip-planner-be/internal/config"
	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/embedding"
	"trip-planner-be/pkg/retrieval"
	"trip-planner-be/pkg/retrieval/cache"
	"trip-planner-be/pkg/retrieval/httpgw"
	"trip-planner-be/pkg/retrieval/pgvector"
	"trip-planner-be/pkg/retrieval/qdrant"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// NewGateway picks the retrieval backend and wraps it in the configured
// cache. The returned close func is never nil.
func NewGateway(cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient, log logger.ILogger) (retrieval.Gateway, func() error, error) {
	noClose := func() error { return nil }

	var (
		gateway retrieval.Gateway
		closeFn = noClose
	)
	embedder := func() embedding.EmbeddingProvider {
		return embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.OllamaEmbeddingModel)
	}

	switch cfg.Retrieval.Backend {
	case "http":
		gateway = httpgw.New(cfg.Retrieval.RagURL, cfg.Retrieval.RagTimeout)
	case "qdrant":
		client, err := qdrant.New(qdrant.Config{
			URL:            cfg.Retrieval.QdrantURL,
			CollectionName: cfg.Retrieval.QdrantCollection,
			APIKey:         cfg.Keys.Qdrant,
			MinScore:       float32(cfg.Retrieval.MinScore),
		}, embedder())
		if err != nil {
			return nil, noClose, err
		}
		gateway, closeFn = client, client.Close
	case "pgvector":
		if db == nil {
			return nil, noClose, fmt.Errorf("pgvector retrieval needs a database")
		}
		gateway = pgvector.New(db, embedder(), cfg.Retrieval.PgvectorThreshold)
	case "none", "":
		gateway = retrieval.Noop{}
	default:
		return nil, noClose, fmt.Errorf("unsupported retrieval backend: %s", cfg.Retrieval.Backend)
	}

	switch cfg.Retrieval.Cache {
	case "redis":
		if rdb == nil {
			log.Warn("BOOTSTRAP", "Redis cache requested without REDIS_URL, using memory cache", nil)
			gateway = cache.NewMemoryGateway(gateway, cfg.Retrieval.CacheTTL)
		} else {
			gateway = cache.NewRedisGateway(gateway, rdb, cfg.Retrieval.CacheTTL, log)
		}
	case "memory":
		gateway = cache.NewMemoryGateway(gateway, cfg.Retrieval.CacheTTL)
	}

	log.Info("BOOTSTRAP", "Retrieval configured", map[string]interface{}{
		"backend": cfg.Retrieval.Backend,
		"cache":   cfg.Retrieval.Cache,
	})
	return gateway, closeFn, nil
}
