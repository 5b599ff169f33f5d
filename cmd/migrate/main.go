// Command migrate prepares the planner schema: chat history tables and the
// pgvector knowledge store.
//
//	go run ./cmd/migrate [-skip-vector]
package main

import (
	"flag"
	"log"

	"trip-planner-be/internal/config"
	"trip-planner-be/internal/model"
	"trip-planner-be/pkg/database"

	"gorm.io/gorm"
)

type step struct {
	name     string
	required bool
	run      func(db *gorm.DB) error
}

func execStep(name, sql string, required bool) step {
	return step{name: name, required: required, run: func(db *gorm.DB) error {
		return db.Exec(sql).Error
	}}
}

func main() {
	skipVector := flag.Bool("skip-vector", false, "skip the pgvector extension and knowledge_chunks (http or qdrant retrieval)")
	flag.Parse()

	cfg := config.Load()
	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, cfg.IsProduction())
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	historyModels := []interface{}{&model.ChatSession{}, &model.ChatMessage{}}

	steps := []step{
		execStep("extension pgcrypto", `CREATE EXTENSION IF NOT EXISTS pgcrypto;`, false),
		{name: "chat history tables", required: true, run: func(db *gorm.DB) error {
			return db.AutoMigrate(historyModels...)
		}},
		execStep("history replay index",
			`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_created ON chat_messages (chat_session_id, created_at);`, false),
	}
	if !*skipVector {
		steps = append(steps,
			execStep("extension vector", `CREATE EXTENSION IF NOT EXISTS vector;`, true),
			step{name: "knowledge chunks table", required: true, run: func(db *gorm.DB) error {
				return db.AutoMigrate(&model.KnowledgeChunk{})
			}},
			execStep("knowledge hnsw index",
				`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_embedding ON knowledge_chunks USING hnsw (embedding_value vector_cosine_ops);`, false),
		)
	}

	for i, s := range steps {
		log.Printf("Step %d/%d: %s", i+1, len(steps), s.name)
		if err := s.run(db); err != nil {
			if s.required {
				log.Fatalf("Error: %s failed: %v", s.name, err)
			}
			log.Printf("Warn: %s failed: %v. Continuing...", s.name, err)
		}
	}

	log.Printf("Success: planner schema ready (%d steps)", len(steps))
}
