package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/flexprice/plancore/internal/config"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/postgres"
	"github.com/flexprice/plancore/migrations"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Print pending migration SQL without executing it")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	logger.Infow("connecting to database", "host", cfg.Postgres.Host, "dbname", cfg.Postgres.DBName)
	db, err := postgres.NewDB(cfg, logger)
	if err != nil {
		logger.Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if *dryRun {
		pending, err := migrations.Pending(ctx, db)
		if err != nil {
			logger.Fatalw("failed to list migrations", "error", err)
		}
		for _, name := range pending {
			sql, err := migrations.Source(name)
			if err != nil {
				logger.Fatalw("failed to read migration", "name", name, "error", err)
			}
			fmt.Printf("-- %s\n%s\n\n", name, sql)
		}
		return
	}

	if err := migrations.Apply(ctx, db, logger); err != nil {
		logger.Fatalw("migration failed", "error", err)
	}
	logger.Info("migration completed successfully")
}
