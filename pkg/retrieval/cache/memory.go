package cache

import (
	"context"
	"time"

	"trip-planner-be/pkg/retrieval"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryGateway is the single-instance variant used when no redis is
// configured.
type MemoryGateway struct {
	next  retrieval.Gateway
	cache *gocache.Cache
}

var _ retrieval.Gateway = &MemoryGateway{}

func NewMemoryGateway(next retrieval.Gateway, ttl time.Duration) *MemoryGateway {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryGateway{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (g *MemoryGateway) Search(ctx context.Context, req retrieval.Request) ([]retrieval.Snippet, error) {
	key := req.CacheKey()
	if x, found := g.cache.Get(key); found {
		return x.([]retrieval.Snippet), nil
	}

	snippets, err := g.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(snippets) > 0 {
		g.cache.SetDefault(key, snippets)
	}
	return snippets, nil
}

// Flush drops every cached result.
func (g *MemoryGateway) Flush() {
	g.cache.Flush()
}
