package scope

import "gorm.io/gorm"

func OrderByCreatedDesc(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC")
}

// Both messages of a turn share created_at; role breaks the tie so the
// user message sorts before the assistant reply.
func OrderTurnsDesc(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC").Order("role ASC")
}

func OrderTurnsAsc(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC").Order("role DESC")
}
