package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// KnowledgeChunk is one embedded piece of travel knowledge (guide section,
// POI description, hotel blurb) searchable by cosine distance.
type KnowledgeChunk struct {
	Id             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	City           string          `gorm:"type:varchar(100);index"`
	Title          string          `gorm:"type:text"`
	Content        string          `gorm:"type:text;not null"`
	SourceId       string          `gorm:"type:varchar(255);index"`
	Url            string          `gorm:"type:text"`
	EmbeddingValue pgvector.Vector `gorm:"type:vector(768)"` // nomic-embed-text
	ChunkIndex     int             `gorm:"default:0"`
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime"`
	DeletedAt      gorm.DeletedAt  `gorm:"index"`
}

func (KnowledgeChunk) TableName() string {
	return "knowledge_chunks"
}
