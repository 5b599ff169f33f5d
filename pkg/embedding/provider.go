package embedding

import (
	"context"
	"fmt"
	"math"
)

// EmbeddingProvider turns retrieval queries into vectors for the vector
// store backends.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchProvider embeds many texts in one round trip. Indexing prefers it.
type BatchProvider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type ProviderFunc func(ctx context.Context, text string) ([]float32, error)

func (f ProviderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// EmbedAll embeds texts in order, batching when p supports it.
func EmbedAll(ctx context.Context, p EmbeddingProvider, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batch, ok := p.(BatchProvider); ok {
		vectors, err := batch.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}
		return vectors, nil
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// unit scales vec to length one so cosine distance in pgvector and qdrant
// is a plain dot product.
func unit(vec []float64) []float32 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)

	out := make([]float32, len(vec))
	for i, v := range vec {
		if norm == 0 {
			out[i] = float32(v)
			continue
		}
		out[i] = float32(v / norm)
	}
	return out
}
