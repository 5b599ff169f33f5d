// Command seed embeds travel knowledge from a JSON file into the
// knowledge_chunks table used by the pgvector retrieval backend.
//
//	go run ./cmd/seed -file data/paris.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"trip-planner-be/internal/config"
	"trip-planner-be/pkg/database"
	"trip-planner-be/pkg/embedding"
	"trip-planner-be/pkg/retrieval/pgvector"
)

type seedChunk struct {
	City     string `json:"city"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	SourceID string `json:"source_id"`
	URL      string `json:"url"`
}

func main() {
	file := flag.String("file", "", "JSON array of {city, title, content, source_id, url}")
	flag.Parse()
	if *file == "" {
		log.Fatal("Error: -file is required")
	}

	cfg := config.Load()

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Error: Failed to read %s: %v", *file, err)
	}
	var input []seedChunk
	if err := json.Unmarshal(raw, &input); err != nil {
		log.Fatalf("Error: Failed to decode %s: %v", *file, err)
	}

	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, cfg.IsProduction())
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	chunks := make([]pgvector.Chunk, 0, len(input))
	for _, c := range input {
		chunks = append(chunks, pgvector.Chunk{
			City:     c.City,
			Title:    c.Title,
			Content:  c.Content,
			SourceID: c.SourceID,
			URL:      c.URL,
		})
	}

	embedder := embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.OllamaEmbeddingModel)
	store := pgvector.New(db, embedder, cfg.Retrieval.PgvectorThreshold)

	n, err := store.Index(context.Background(), chunks)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	log.Printf("✅ Indexed %d knowledge chunks from %s", n, *file)
}
