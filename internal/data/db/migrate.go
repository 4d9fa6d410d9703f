package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/whytv-ai/whytv-backend/internal/data/runs"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&runs.StageRun{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
