// Package pgvector is a retrieval.Gateway over the knowledge_chunks table
// using pgvector cosine distance.
package pgvector

import (
	"context"
	"fmt"
	"strings"

	"trip-planner-be/internal/model"
	"trip-planner-be/pkg/embedding"
	"trip-planner-be/pkg/retrieval"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type Store struct {
	db        *gorm.DB
	embedder  embedding.EmbeddingProvider
	threshold float64
}

var _ retrieval.Gateway = &Store{}

// New builds the store. Results below threshold similarity are dropped; a
// zero threshold keeps everything.
func New(db *gorm.DB, embedder embedding.EmbeddingProvider, threshold float64) *Store {
	return &Store{db: db, embedder: embedder, threshold: threshold}
}

type scoredChunk struct {
	model.KnowledgeChunk
	Similarity float64
}

func (s *Store) Search(ctx context.Context, req retrieval.Request) ([]retrieval.Snippet, error) {
	req = req.Normalize()

	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryVector := pgvector.NewVector(vec)

	// Cosine distance in pgvector is 1 - cosine_similarity.
	query := s.db.WithContext(ctx).
		Table("knowledge_chunks").
		Select("knowledge_chunks.*, 1 - (embedding_value <=> ?) as similarity", queryVector).
		Where("deleted_at IS NULL")
	if req.Locality != "" {
		query = query.Where("LOWER(city) = ?", strings.ToLower(req.Locality))
	}
	if s.threshold > 0 {
		query = query.Where("1 - (embedding_value <=> ?) >= ?", queryVector, s.threshold)
	}

	var rows []scoredChunk
	if err := query.Order("similarity DESC").Limit(req.TopK).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}

	snippets := make([]retrieval.Snippet, len(rows))
	for i, row := range rows {
		snippets[i] = retrieval.Snippet{
			ID:       row.Id.String(),
			Text:     row.Content,
			Title:    row.Title,
			Score:    float32(row.Similarity),
			SourceID: row.SourceId,
			Locality: row.City,
			URL:      row.Url,
		}
	}
	return snippets, nil
}

// Chunk is one document section to index.
type Chunk struct {
	City     string
	Title    string
	Content  string
	SourceID string
	URL      string
}

// Index embeds and stores chunks, replacing any previous chunks with the
// same source id.
func (s *Store) Index(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	kept := make([]int, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		kept = append(kept, i)
		texts = append(texts, c.Title+"\n"+c.Content)
	}

	vectors, err := embedding.EmbedAll(ctx, s.embedder, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	rows := make([]*model.KnowledgeChunk, 0, len(kept))
	sources := make(map[string]struct{})
	for n, i := range kept {
		c := chunks[i]
		rows = append(rows, &model.KnowledgeChunk{
			Id:             uuid.New(),
			City:           c.City,
			Title:          c.Title,
			Content:        c.Content,
			SourceId:       c.SourceID,
			Url:            c.URL,
			EmbeddingValue: pgvector.NewVector(vectors[n]),
			ChunkIndex:     i,
		})
		if c.SourceID != "" {
			sources[c.SourceID] = struct{}{}
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for source := range sources {
			if err := tx.Where("source_id = ?", source).Delete(&model.KnowledgeChunk{}).Error; err != nil {
				return err
			}
		}
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	return len(rows), nil
}
