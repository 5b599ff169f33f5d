// Package retrieval defines the knowledge retrieval gateway and its backends.
package retrieval

import (
	"context"
	"fmt"
	"strings"
)

const DefaultTopK = 5

// Request is one retrieval query. Locality optionally restricts results to
// a city or region.
type Request struct {
	Query    string
	Locality string
	TopK     int
}

func (r Request) Normalize() Request {
	r.Query = strings.TrimSpace(r.Query)
	r.Locality = strings.TrimSpace(r.Locality)
	if r.TopK <= 0 {
		r.TopK = DefaultTopK
	}
	return r
}

// CacheKey is stable for equal normalized requests.
func (r Request) CacheKey() string {
	n := r.Normalize()
	return fmt.Sprintf("retrieval:%s:%d:%s", strings.ToLower(n.Locality), n.TopK, strings.ToLower(n.Query))
}

// Snippet is one ranked piece of supporting text.
type Snippet struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Title    string  `json:"title,omitempty"`
	Score    float32 `json:"score"`
	SourceID string  `json:"source_id"`
	Locality string  `json:"locality,omitempty"`
	URL      string  `json:"url,omitempty"`
}

// Summary renders "title: first n runes of text".
func (s Snippet) Summary(n int) string {
	text := []rune(s.Text)
	if n > 0 && len(text) > n {
		text = text[:n]
	}
	if s.Title == "" {
		return string(text)
	}
	return s.Title + ": " + string(text)
}

// Gateway returns ranked snippets. An empty slice with a nil error is a
// valid answer.
type Gateway interface {
	Search(ctx context.Context, req Request) ([]Snippet, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request) ([]Snippet, error)

func (f GatewayFunc) Search(ctx context.Context, req Request) ([]Snippet, error) {
	return f(ctx, req)
}

// Noop always returns no results. Used when retrieval is disabled.
type Noop struct{}

func (Noop) Search(context.Context, Request) ([]Snippet, error) { return nil, nil }
