// Package cache wraps a retrieval.Gateway with a result cache. Errors from
// the cache itself never fail a search.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/pkg/retrieval"

	"github.com/redis/go-redis/v9"
)

type RedisGateway struct {
	next   retrieval.Gateway
	client redis.UniversalClient
	ttl    time.Duration
	logger logger.ILogger
}

var _ retrieval.Gateway = &RedisGateway{}

func NewRedisGateway(next retrieval.Gateway, client redis.UniversalClient, ttl time.Duration, log logger.ILogger) *RedisGateway {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisGateway{next: next, client: client, ttl: ttl, logger: log}
}

func (g *RedisGateway) Search(ctx context.Context, req retrieval.Request) ([]retrieval.Snippet, error) {
	key := req.CacheKey()

	raw, err := g.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []retrieval.Snippet
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
		g.logger.Warn("RETRIEVAL_CACHE", "Dropping undecodable cache entry", map[string]interface{}{"key": key})
	case !errors.Is(err, redis.Nil):
		g.logger.Warn("RETRIEVAL_CACHE", "Redis get failed", map[string]interface{}{"key": key, "error": err.Error()})
	}

	snippets, err := g.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	// Empty results are not cached so a freshly indexed city shows up.
	if len(snippets) > 0 {
		payload, _ := json.Marshal(snippets)
		if err := g.client.Set(ctx, key, payload, g.ttl).Err(); err != nil {
			g.logger.Warn("RETRIEVAL_CACHE", "Redis set failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}
	return snippets, nil
}
