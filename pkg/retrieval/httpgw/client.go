// Package httpgw is a retrieval.Gateway backed by a standalone RAG search
// service (POST /search {query, city, top_k}).
package httpgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trip-planner-be/pkg/retrieval"
)

type Client struct {
	baseURL string
	client  *http.Client
}

var _ retrieval.Gateway = &Client{}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Query string `json:"query"`
	City  string `json:"city"`
	TopK  int    `json:"top_k"`
}

type searchResult struct {
	ID         string  `json:"id"`
	City       string  `json:"city"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
	URL        string  `json:"url,omitempty"`
	SourceFile string  `json:"source_file,omitempty"`
}

type searchResponse struct {
	Contexts string         `json:"contexts"`
	Results  []searchResult `json:"results"`
}

func (c *Client) Search(ctx context.Context, req retrieval.Request) ([]retrieval.Snippet, error) {
	req = req.Normalize()

	body, err := json.Marshal(searchRequest{Query: req.Query, City: req.Locality, TopK: req.TopK})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rag search request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rag response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rag search status %d: %s", resp.StatusCode, string(raw))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var decoded searchResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode rag response: %w", err)
	}

	// Older deployments only return the joined context string.
	if len(decoded.Results) == 0 && strings.TrimSpace(decoded.Contexts) != "" {
		return []retrieval.Snippet{{
			ID:       "contexts",
			Title:    "RAG Context",
			Text:     decoded.Contexts,
			SourceID: "rag",
			Locality: req.Locality,
		}}, nil
	}

	snippets := make([]retrieval.Snippet, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		source := r.SourceFile
		if source == "" {
			source = r.URL
		}
		snippets = append(snippets, retrieval.Snippet{
			ID:       r.ID,
			Text:     r.Content,
			Title:    r.Title,
			Score:    r.Score,
			SourceID: source,
			Locality: r.City,
			URL:      r.URL,
		})
	}
	return snippets, nil
}
