// Package qdrant is a retrieval.Gateway over a Qdrant collection of travel
// knowledge chunks. Points carry "content", "title", "city" and "source_id"
// payload fields.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"trip-planner-be/pkg/embedding"
	"trip-planner-be/pkg/retrieval"

	"github.com/qdrant/go-client/qdrant"
)

type Config struct {
	// URL is the Qdrant gRPC address, e.g. "http://localhost:6334".
	URL            string
	CollectionName string
	APIKey         string
	MinScore       float32
}

type Client struct {
	client     *qdrant.Client
	embedder   embedding.EmbeddingProvider
	collection string
	minScore   float32
}

var _ retrieval.Gateway = &Client{}

func New(cfg Config, embedder embedding.EmbeddingProvider) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}

	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		port = p
	}

	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &Client{
		client:     qc,
		embedder:   embedder,
		collection: cfg.CollectionName,
		minScore:   cfg.MinScore,
	}, nil
}

func (c *Client) Search(ctx context.Context, req retrieval.Request) ([]retrieval.Snippet, error) {
	req = req.Normalize()

	vector, err := c.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := uint64(req.TopK)
	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         localityFilter(req.Locality),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	snippets := make([]retrieval.Snippet, 0, len(points))
	for _, point := range points {
		if c.minScore > 0 && point.Score < c.minScore {
			continue
		}

		s := retrieval.Snippet{Score: point.Score}
		if point.Id != nil {
			if id := point.Id.GetUuid(); id != "" {
				s.ID = id
			} else {
				s.ID = strconv.FormatUint(point.Id.GetNum(), 10)
			}
		}
		for k, v := range point.Payload {
			switch k {
			case "content":
				s.Text = v.GetStringValue()
			case "title":
				s.Title = v.GetStringValue()
			case "city":
				s.Locality = v.GetStringValue()
			case "source_id":
				s.SourceID = v.GetStringValue()
			case "url":
				s.URL = v.GetStringValue()
			}
		}
		if s.SourceID == "" {
			s.SourceID = s.ID
		}
		snippets = append(snippets, s)
	}
	return snippets, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func localityFilter(locality string) *qdrant.Filter {
	if locality == "" {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "city",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: locality}},
				},
			},
		}},
	}
}
