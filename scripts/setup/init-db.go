package main

import (
	"fmt"
	"os"

	"github.com/alvesdmateus/repo-provisioner/internal/state"
	"github.com/alvesdmateus/repo-provisioner/pkg/config"
	"github.com/alvesdmateus/repo-provisioner/pkg/database"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Creates the run history schema ahead of time, e.g. for a shared postgres
// database that CI jobs write to.
func main() {
	// Initialize logger
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Info().Msg("Starting history database initialization...")

	configFile := ""
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Str("driver", cfg.History.Driver).
		Msg("Connecting to history database")

	db, err := database.New(database.Config{
		Driver: cfg.History.Driver,
		DSN:    cfg.History.DSN,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	if err := database.HealthCheck(db); err != nil {
		log.Fatal().Err(err).Msg("History database unavailable")
	}

	models := state.Models()
	existed := make([]bool, len(models))
	for i, model := range models {
		existed[i] = database.HasTable(db, model)
	}

	// Run migrations
	if err := database.Migrate(db, models...); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Close database connection
	if err := database.Close(db); err != nil {
		log.Error().Err(err).Msg("Failed to close database connection")
	}

	fmt.Println("\nHistory database initialized successfully!")
	fmt.Println("\nTables:")
	for i, model := range models {
		status := "created"
		if existed[i] {
			status = "migrated"
		}
		fmt.Printf("  - %T: %s\n", model, status)
	}
}
