// Package main loads raw MBP files into the snapshot store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"orderflow-lab/internal/config"
	"orderflow-lab/internal/loader"
	"orderflow-lab/internal/logger"
	"orderflow-lab/internal/storage"
	"orderflow-lab/internal/storage/memory"
	"orderflow-lab/internal/storage/migrations"
	pgstore "orderflow-lab/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	stockIDs := flag.String("stock-id", "", "Comma-separated symbols to ingest")
	dataDir := flag.String("data-dir", "", "Root directory of raw files")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	maxLevels := flag.Int("max-levels", 0, "Number of book levels to keep (1-10)")
	useMemory := flag.Bool("use-memory", false, "Load into memory only (dry run)")
	flag.Parse()

	log := logger.Default()
	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Warn("Failed to load .env file")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if *stockIDs != "" {
		cfg.Build.Symbols = strings.Split(*stockIDs, ",")
	}
	if *dataDir != "" {
		cfg.Input.DataDir = *dataDir
	}
	if *postgresDSN != "" {
		cfg.Storage.Postgres.DSN = *postgresDSN
	}
	if *maxLevels != 0 {
		cfg.Pipeline.MaxLevels = *maxLevels
	}
	cfg.Input.Source = config.SourceFiles
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid command-line settings")
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Fatal("Failed to configure logger")
	}
	entry := log.WithComponent("ingest").WithFields(logger.Fields{"run_id": uuid.NewString()})

	ctx, cancel := context.WithCancel(context.Background())

	// Second signal or 30s after the first forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)
	go func() {
		sig := <-sigCh
		entry.WithFields(logger.Fields{"signal": sig.String()}).Warn("Initiating graceful shutdown")
		cancel()
		select {
		case <-sigCh:
			entry.Error("Second signal received, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			entry.Error("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, log, *useMemory)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		entry.WithError(err).Fatal("Ingest failed")
	}
	entry.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Log, useMemory bool) error {
	if len(cfg.Build.Symbols) == 0 {
		return fmt.Errorf("no symbols to ingest: set --stock-id or build.symbols")
	}
	session, err := cfg.SessionWindow()
	if err != nil {
		return err
	}
	ld, err := loader.New(loader.Options{
		DataDir:   cfg.Input.DataDir,
		Pattern:   cfg.Input.Pattern,
		MaxLevels: cfg.Pipeline.MaxLevels,
		Session:   &session,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	var store storage.SnapshotStore
	if useMemory {
		store = memory.NewSnapshotStore()
	} else {
		if cfg.Storage.Postgres.DSN == "" {
			return fmt.Errorf("postgres DSN is required (or use --use-memory)")
		}
		pool, err := pgstore.NewPool(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		store = pgstore.NewSnapshotStore(pool)
	}

	entry := log.WithComponent("ingest")
	for _, symbol := range cfg.Build.Symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		start := time.Now()
		snaps, err := ld.LoadSymbol(ctx, symbol)
		if err != nil {
			return err
		}
		if err := store.InsertBulk(ctx, snaps); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return fmt.Errorf("%s already ingested: %w", symbol, err)
			}
			return fmt.Errorf("insert snapshots for %s: %w", symbol, err)
		}
		entry.WithFields(logger.Fields{
			"symbol":    symbol,
			"snapshots": len(snaps),
		}).Duration("ingest_symbol", time.Since(start))
		entry.WithFields(logger.Fields{"symbol": symbol, "snapshots": len(snaps)}).Info("Symbol ingested")
	}
	return nil
}
