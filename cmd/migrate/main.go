package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lgulliver/upturn/internal/common"
	"github.com/lgulliver/upturn/pkg/config"
	"github.com/lgulliver/upturn/pkg/types"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		up   = flag.Bool("up", false, "Create or update the ledger tables")
		down = flag.Bool("down", false, "Drop the ledger tables")
	)
	flag.Parse()

	if *up == *down {
		fmt.Printf("Usage: %s [-up | -down]\n", os.Args[0])
		fmt.Println("  -up    Create or update the ledger tables")
		fmt.Println("  -down  Drop the ledger tables")
		os.Exit(1)
	}

	// Load configuration
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if *up {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		log.Info().Str("driver", cfg.Database.Driver).Msg("Migrations completed successfully")
	}

	if *down {
		if err := db.Migrator().DropTable(&types.DownloadRecord{}); err != nil {
			log.Fatal().Err(err).Msg("Failed to drop tables")
		}
		log.Info().Str("driver", cfg.Database.Driver).Msg("Rollback completed successfully")
	}
}
