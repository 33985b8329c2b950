package db

import (
	"github.com/processlens/backend/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Analysis{},
		&domain.AnalysisThought{},
		&domain.DatasetBlob{},
	)
	if err != nil {
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		return err
	}

	return nil
}

func createCustomIndexes(db *gorm.DB) error {
	// Project listing pages by creation time
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_analyses_created_desc
		ON analyses (created_at DESC)
	`).Error; err != nil {
		return err
	}

	// Thought replay for a single task
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_analysis_thoughts_task_time
		ON analysis_thoughts (analysis_id, created_at, id)
	`).Error; err != nil {
		return err
	}

	return nil
}
