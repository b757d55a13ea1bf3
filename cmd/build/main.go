// Package main builds minute OFI feature tables.
// Executes: load snapshots → level flow → aggregation → normalization → export
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"orderflow-lab/internal/config"
	"orderflow-lab/internal/export"
	"orderflow-lab/internal/loader"
	"orderflow-lab/internal/logger"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/ofi"
	"orderflow-lab/internal/reporting"
	"orderflow-lab/internal/storage"
	chstore "orderflow-lab/internal/storage/clickhouse"
	"orderflow-lab/internal/storage/memory"
	"orderflow-lab/internal/storage/migrations"
	pgstore "orderflow-lab/internal/storage/postgres"
	"orderflow-lab/internal/verification"
)

// flagOverrides holds command-line values that take precedence over the
// config file. Zero values leave the file setting alone.
type flagOverrides struct {
	stockIDs      string
	outputPath    string
	maxLevels     int
	source        string
	workers       int
	formats       string
	metricsAddr   string
	storeFeatures bool
	verify        bool
	verifyOnly    bool
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	var fo flagOverrides
	flag.StringVar(&fo.stockIDs, "stock-id", "", "Comma-separated symbols to build")
	flag.StringVar(&fo.outputPath, "output-path", "", "Output directory for feature files")
	flag.IntVar(&fo.maxLevels, "max-levels", 0, "Number of book levels (1-10)")
	flag.StringVar(&fo.source, "source", "", "Snapshot source: files or postgres")
	flag.IntVar(&fo.workers, "workers", 0, "Symbols built concurrently")
	flag.StringVar(&fo.formats, "formats", "", "Comma-separated output formats: csv, parquet")
	flag.StringVar(&fo.metricsAddr, "metrics-addr", "", "Prometheus metrics HTTP address (empty to disable)")
	flag.BoolVar(&fo.storeFeatures, "store-features", false, "Persist features to ClickHouse")
	flag.BoolVar(&fo.verify, "verify", false, "After building, rebuild and compare with stored features")
	flag.BoolVar(&fo.verifyOnly, "verify-only", false, "Only verify stored features, skip build and export")
	flag.Parse()

	log := logger.Default()
	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Warn("Failed to load .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	fo.apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid command-line settings")
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Fatal("Failed to configure logger")
	}

	runID := uuid.NewString()
	entry := log.WithComponent("build").WithFields(logger.Fields{"run_id": runID})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, entry)
	}

	start := time.Now()
	err = run(ctx, cfg, log, runID, fo.verify || fo.verifyOnly, fo.verifyOnly)
	observability.DefaultMetrics.RecordPipelineRun(observability.PhaseBuild, observability.RunStatus(err), time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			entry.Warn("Build cancelled")
			os.Exit(130)
		}
		entry.WithError(err).Error("Build failed")
		os.Exit(1)
	}
	observability.DefaultMetrics.LastSuccessfulBuild.SetToCurrentTime()
	entry.WithFields(logger.Fields{"duration": time.Since(start).String()}).Info("Build completed")
}

func (fo flagOverrides) apply(cfg *config.Config) {
	if syms := splitList(fo.stockIDs); len(syms) > 0 {
		cfg.Build.Symbols = syms
	}
	if fo.outputPath != "" {
		cfg.Output.Path = fo.outputPath
	}
	if fo.maxLevels != 0 {
		cfg.Pipeline.MaxLevels = fo.maxLevels
	}
	if fo.source != "" {
		cfg.Input.Source = fo.source
	}
	if fo.workers != 0 {
		cfg.Build.Workers = fo.workers
	}
	if formats := splitList(fo.formats); len(formats) > 0 {
		cfg.Output.Formats = formats
	}
	if fo.metricsAddr != "" {
		cfg.Metrics.Addr = fo.metricsAddr
	}
	if fo.storeFeatures || fo.verify || fo.verifyOnly {
		cfg.Storage.ClickHouse.Enabled = true
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Log, runID string, verify, verifyOnly bool) error {
	session, err := cfg.SessionWindow()
	if err != nil {
		return err
	}

	opts := cfg.PipelineOptions()
	opts.Location = session.Location
	opts.Logger = log
	pipeline, err := ofi.NewPipeline(opts)
	if err != nil {
		return err
	}

	snapshots, symbols, closeSource, err := openSnapshotSource(ctx, cfg, session, log)
	if err != nil {
		return err
	}
	defer closeSource()
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to build: set --stock-id or build.symbols")
	}

	var features storage.FeatureStore
	if cfg.Storage.ClickHouse.Enabled {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouse.DSN)
		if err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		defer conn.Close()
		features = chstore.NewFeatureStore(conn)
	}

	var uploader export.Uploader
	if s3cfg := cfg.Storage.S3; s3cfg.Enabled {
		u, err := export.NewS3Uploader(ctx, export.S3Options{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			PathStyle:       s3cfg.PathStyle,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		if err != nil {
			return err
		}
		uploader = u
	}

	exporter, err := export.NewExporter(export.Options{
		OutputDir:   cfg.Output.Path,
		Formats:     cfg.Output.Formats,
		Compression: cfg.Output.Compression,
		Uploader:    uploader,
		RunID:       runID,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	var results []*ofi.Result
	if !verifyOnly {
		runner := ofi.NewRunner(pipeline, snapshots, features)
		if results, err = runner.BuildBatch(ctx, symbols, cfg.Build.Workers); err != nil {
			return err
		}
	}

	for _, res := range results {
		paths, err := exporter.Export(ctx, res.Symbol, res.Rows, pipeline.MaxLevels())
		if err != nil {
			return fmt.Errorf("export %s: %w", res.Symbol, err)
		}
		log.WithComponent("build").WithFields(logger.Fields{
			"symbol":          res.Symbol,
			"rows":            len(res.Rows),
			"events":          res.Stats.Events,
			"alignment_drops": res.Stats.Alignment.Dropped(),
			"files":           paths,
		}).Info("Symbol exported")
	}

	var verified *verification.VerificationReport
	if verify {
		verifier := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
			Pipeline:      pipeline,
			SnapshotStore: snapshots,
			FeatureStore:  features,
		})
		if verified, err = verifier.VerifyAll(ctx, symbols); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		log.WithComponent("build").WithFields(logger.Fields{
			"matched":   verified.MatchedSymbols,
			"divergent": verified.DivergentSymbols,
		}).Info("Verification completed")
	}

	report := reporting.NewGenerator(runID, pipeline.Settings()).Generate(results, verified)
	if err := writeReport(cfg.Output.Path, report); err != nil {
		return err
	}
	if verified != nil && verified.DivergentSymbols > 0 {
		return fmt.Errorf("%d of %d symbols diverge from stored features", verified.DivergentSymbols, verified.TotalSymbols)
	}
	return nil
}

// writeReport writes BUILD_REPORT.md and build_summary.csv next to the
// feature files.
func writeReport(dir string, report *reporting.Report) error {
	files := map[string]string{
		"BUILD_REPORT.md":   reporting.RenderMarkdown(report),
		"build_summary.csv": reporting.RenderCSV(report.Symbols),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// openSnapshotSource returns the store to build from and the symbols to
// build. File input is loaded into a memory store first.
func openSnapshotSource(ctx context.Context, cfg *config.Config, session loader.SessionWindow, log *logger.Log) (storage.SnapshotStore, []string, func(), error) {
	switch cfg.Input.Source {
	case config.SourcePostgres:
		pool, err := pgstore.NewPool(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		store := pgstore.NewSnapshotStore(pool)
		symbols := cfg.Build.Symbols
		if len(symbols) == 0 {
			if symbols, err = store.ListSymbols(ctx); err != nil {
				pool.Close()
				return nil, nil, nil, fmt.Errorf("list symbols: %w", err)
			}
		}
		return store, symbols, pool.Close, nil

	default:
		ld, err := loader.New(loader.Options{
			DataDir:   cfg.Input.DataDir,
			Pattern:   cfg.Input.Pattern,
			MaxLevels: cfg.Pipeline.MaxLevels,
			Session:   &session,
			Logger:    log,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		store := memory.NewSnapshotStore()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Build.Workers)
		for _, symbol := range cfg.Build.Symbols {
			g.Go(func() error {
				snaps, err := ld.LoadSymbol(gctx, symbol)
				if err != nil {
					return err
				}
				return store.InsertBulk(gctx, snaps)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, nil, err
		}
		return store, cfg.Build.Symbols, func() {}, nil
	}
}

func serveMetrics(addr string, entry *logger.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	entry.WithFields(logger.Fields{"addr": addr}).Info("Starting metrics server")
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		entry.WithError(err).Error("Metrics server error")
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
