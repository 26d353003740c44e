package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"clip-arena/internal/config"
	"clip-arena/internal/dataset"
	apperrors "clip-arena/internal/errors"
	"clip-arena/internal/export"
	"clip-arena/internal/importer"
	"clip-arena/internal/logger"
	"clip-arena/internal/metrics"
	"clip-arena/internal/profiling"
	"clip-arena/internal/validation"
	"clip-arena/internal/vectordb"
)

// openStore is replaced in tests
var openStore = vectordb.Open

var backendTitles = map[string]string{
	vectordb.BackendWeaviate: "Weaviate",
	vectordb.BackendMilvus:   "Milvus",
	vectordb.BackendQdrant:   "Qdrant",
}

func main() {
	flags, err := ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		fmt.Fprintln(os.Stderr, "Run clip-arena --help for usage.")
		os.Exit(2)
	}
	if flags.Help {
		PrintHelp()
		return
	}
	if flags.Version {
		PrintVersion()
		return
	}
	if err := flags.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid flags: %v\n", err)
		os.Exit(2)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	cfg, err := config.LoadConfig(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	flags.Apply(cfg)
	if err := validation.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration:\n%v\n", err)
		os.Exit(2)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if flags.IsSearch() {
		err = runSearch(ctx, cfg, flags, os.Stdout)
	} else {
		err = runImport(ctx, cfg, flags, os.Stdout)
	}
	stop()
	if err != nil {
		logger.Error("Run failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runImport(ctx context.Context, cfg *config.Config, flags *Flags, out io.Writer) error {
	session, err := profiling.Start(profiling.Config{CPUProfile: flags.CPUProfile, MemoryProfile: flags.MemProfile})
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := session.Stop(); stopErr != nil {
			logger.Warn("Failed to write profiles", "error", stopErr)
		}
	}()

	fmt.Fprintf(out, "Loading dataset: %s split: %s\n", cfg.Dataset.Name, cfg.Dataset.Split)
	ds, err := dataset.NewLoader(cfg.Dataset).Load(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Preparing dataset")

	store, err := connect(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer store.Close()

	return importAndReport(ctx, cfg, store, ds, out)
}

// connect opens the configured backend and waits until it answers
func connect(ctx context.Context, cfg *config.Config, out io.Writer) (vectordb.Store, error) {
	fmt.Fprintf(out, "Connecting to %s\n", backendTitle(cfg.Backend))
	timeout, err := cfg.GetConnectTimeout()
	if err != nil {
		return nil, apperrors.NewConfigError("invalid connect timeout", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := vectordb.WaitReady(ctx, store, timeout, vectordb.DefaultBackoffConfig()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func importAndReport(ctx context.Context, cfg *config.Config, store vectordb.Store, records importer.Records, out io.Writer) error {
	mc := metrics.NewMetricsCollector(cfg.Output.Metrics != "", cfg.Output.Directory, map[string]string{
		"backend":    store.Backend(),
		"collection": cfg.Collection.Name,
	})

	imp := importer.New(store, cfg, importer.WithOutput(out), importer.WithChunkObserver(mc.RecordChunk))
	outcome, err := imp.Run(ctx, records)
	if err != nil {
		return err
	}
	importer.PrintOutcome(out, outcome)

	return writeExports(cfg, store.Backend(), outcome, mc, out)
}

func writeExports(cfg *config.Config, backend string, outcome *importer.Outcome, mc *metrics.MetricsCollector, out io.Writer) error {
	if cfg.Output.Directory != "" {
		if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	if cfg.Output.Format != "" {
		info := export.RunInfo{
			Backend:     backend,
			Collection:  cfg.Collection.Name,
			Dataset:     cfg.Dataset.Name,
			Split:       cfg.Dataset.Split,
			BatchSize:   cfg.Batch.Size,
			Concurrency: cfg.Batch.Concurrency,
		}
		results := cfg.Output.Path
		if results == "" {
			results = export.DefaultResultsName(time.Now())
		}
		files, err := export.ExportOutcome(outcome, info, cfg.Output.Format, outputPath(cfg.Output.Directory, results))
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintf(out, "Results written to %s\n", f)
		}
	}

	if cfg.Output.FailedObjects != "" {
		path := outputPath(cfg.Output.Directory, cfg.Output.FailedObjects)
		if err := export.WriteFailedObjects(path, outcome.FailedObjects); err != nil {
			return err
		}
		fmt.Fprintf(out, "Failed objects written to %s\n", path)
	}

	if cfg.Output.Metrics != "" {
		path := outputPath(cfg.Output.Directory, cfg.Output.Metrics)
		if err := mc.ExportPrometheus(path); err != nil {
			return err
		}
		series := strings.TrimSuffix(path, filepath.Ext(path)) + "_chunks.csv"
		if err := mc.ExportTimeSeries(series); err != nil {
			return err
		}
		fmt.Fprintf(out, "Metrics written to %s and %s\n", path, series)
	}
	return nil
}

// outputPath places relative paths under the configured output directory
func outputPath(dir, path string) string {
	if dir == "" || path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func backendTitle(backend string) string {
	if t, ok := backendTitles[backend]; ok {
		return t
	}
	return backendTitles[vectordb.BackendWeaviate]
}
