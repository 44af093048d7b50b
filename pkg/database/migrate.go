package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Migrate creates or updates the tables of the given models
func Migrate(db *gorm.DB, models ...interface{}) error {
	log.Debug().Int("models", len(models)).Msg("Running history database migrations")

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HasTable checks if a table exists
func HasTable(db *gorm.DB, model interface{}) bool {
	return db.Migrator().HasTable(model)
}
