package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"clip-arena/internal/config"
	"clip-arena/internal/validation"
)

// Flags holds all command-line flags
type Flags struct {
	// Connection and collection
	Backend        string
	Collection     string
	KeepCollection bool

	// Dataset
	Split string

	// Import parameters
	BatchSize   int
	Concurrency int

	// Search mode
	Search      string
	SearchImage string
	Similar     int64
	Limit       int

	// Output
	ConfigPath    string
	OutputFormat  string
	OutputPath    string
	FailedObjects string
	Metrics       string
	LogLevel      string

	// General flags
	Version bool
	Help    bool

	// Profiling flags
	CPUProfile string
	MemProfile string
}

// ParseFlags parses command-line flags and returns Flags struct
func ParseFlags(args []string) (*Flags, error) {
	flags := &Flags{}
	fs := flag.NewFlagSet("clip-arena", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&flags.Backend, "backend", "", "Vector database: weaviate, milvus or qdrant (default: weaviate)")
	fs.StringVar(&flags.Collection, "collection", "", "Collection name (default: ClipArena)")
	fs.BoolVar(&flags.KeepCollection, "keep-collection", false, "Keep an existing collection instead of deleting it")

	fs.StringVar(&flags.Split, "split", "", "Dataset split (default: sfw)")

	fs.IntVar(&flags.BatchSize, "batch-size", 0, "Objects per batch request (default: 5)")
	fs.IntVar(&flags.Concurrency, "concurrency", 0, "Batch requests in flight (default: 1)")

	fs.StringVar(&flags.Search, "search", "", "Search every vector with this text instead of importing")
	fs.StringVar(&flags.SearchImage, "search-image", "", "Search every vector with this image file instead of importing")
	fs.Int64Var(&flags.Similar, "similar", -1, "Search every vector with the image of the object with this index")
	fs.IntVar(&flags.Limit, "limit", 0, "Results per vector (default: 10)")

	fs.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	fs.StringVar(&flags.OutputFormat, "output", "", "Export the import outcome (json, csv, both)")
	fs.StringVar(&flags.OutputPath, "output-path", "", "Output file path (without extension)")
	fs.StringVar(&flags.FailedObjects, "failed-objects", "", "Write failed objects to this parquet file")
	fs.StringVar(&flags.Metrics, "metrics", "", "Write import metrics in Prometheus text format to this file")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")

	fs.StringVar(&flags.CPUProfile, "cpu-profile", "", "Enable CPU profiling and write to file")
	fs.StringVar(&flags.MemProfile, "mem-profile", "", "Enable memory profiling and write to file")
	fs.BoolVar(&flags.Version, "version", false, "Print version and exit")
	fs.BoolVar(&flags.Help, "help", false, "Print help and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return flags, nil
}

// PrintVersion prints the version information
func PrintVersion() {
	fmt.Println("clip-arena version 1.0.0")
}

// PrintHelp prints the help message
func PrintHelp() {
	fmt.Println("CLIP Arena Importer")
	fmt.Println("===================")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  clip-arena [flags]")
	fmt.Println()
	fmt.Println("Operation Modes:")
	fmt.Println("  (no mode flags)       Import the dataset into the collection")
	fmt.Println("  --search string       Text search across every named vector")
	fmt.Println("  --search-image string Image search across every named vector")
	fmt.Println("  --similar int         Search with the image of an imported object")
	fmt.Println()
	fmt.Println("Import Parameters:")
	fmt.Println("  --backend string      weaviate, milvus or qdrant (default: weaviate)")
	fmt.Println("  --collection string   Collection name (default: ClipArena)")
	fmt.Println("  --keep-collection     Keep an existing collection (default: delete and recreate)")
	fmt.Println("  --split string        Dataset split (default: sfw)")
	fmt.Println("  --batch-size int      Objects per batch request (default: 5)")
	fmt.Println("  --concurrency int     Batch requests in flight (default: 1)")
	fmt.Println()
	fmt.Println("Search Parameters:")
	fmt.Println("  --limit int           Results per vector (default: 10)")
	fmt.Println()
	fmt.Println("General Flags:")
	fmt.Println("  --config string       Path to config file")
	fmt.Println("  --output string       Export the outcome (json, csv, both)")
	fmt.Println("  --output-path string  Output file path (without extension)")
	fmt.Println("  --failed-objects string  Write failed objects as parquet")
	fmt.Println("  --metrics string      Write import metrics (Prometheus text format)")
	fmt.Println("  --log-level string    DEBUG, INFO, WARN or ERROR")
	fmt.Println("  --cpu-profile string  Write a CPU profile")
	fmt.Println("  --mem-profile string  Write a heap profile")
	fmt.Println("  --version             Print version and exit")
	fmt.Println("  --help                Print this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Import into the local Weaviate")
	fmt.Println("  clip-arena")
	fmt.Println()
	fmt.Println("  # Import into Qdrant, keeping the collection and exporting the outcome")
	fmt.Println("  clip-arena --backend qdrant --keep-collection --output json")
	fmt.Println()
	fmt.Println("  # Compare the four models on one query")
	fmt.Println("  clip-arena --search \"a dog on a beach\"")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0  Success")
	fmt.Println("  1  Error")
	fmt.Println("  2  Validation failure")
}

// IsSearch returns true if one of the search modes was requested
func (f *Flags) IsSearch() bool {
	return f.Search != "" || f.SearchImage != "" || f.Similar >= 0
}

// Validate validates flags and returns an error if invalid
func (f *Flags) Validate() error {
	if f.Version || f.Help {
		return nil
	}

	modes := 0
	for _, set := range []bool{f.Search != "", f.SearchImage != "", f.Similar >= 0} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return fmt.Errorf("only one of --search, --search-image and --similar can be used")
	}
	if f.Limit < 0 {
		return fmt.Errorf("--limit cannot be negative")
	}
	if f.Backend != "" {
		if err := validation.ValidateBackend(f.Backend); err != nil {
			return fmt.Errorf("invalid --backend: %w", err)
		}
	}
	if f.BatchSize < 0 || f.Concurrency < 0 {
		return fmt.Errorf("--batch-size and --concurrency cannot be negative")
	}
	switch f.OutputFormat {
	case "", "json", "csv", "both":
	default:
		return fmt.Errorf("invalid --output %q (expected json, csv or both)", f.OutputFormat)
	}
	if f.SearchImage != "" {
		if _, err := os.Stat(f.SearchImage); err != nil {
			return fmt.Errorf("invalid --search-image: %w", err)
		}
	}
	return nil
}

// Apply overrides the loaded configuration with every flag that was set
func (f *Flags) Apply(cfg *config.Config) {
	cfg.Backend = or(f.Backend, cfg.Backend)
	cfg.Collection.Name = or(f.Collection, cfg.Collection.Name)
	if f.KeepCollection {
		cfg.Collection.Keep = true
	}
	cfg.Dataset.Split = or(f.Split, cfg.Dataset.Split)
	cfg.Batch.Size = resolveInt(f.BatchSize, cfg.Batch.Size)
	cfg.Batch.Concurrency = resolveInt(f.Concurrency, cfg.Batch.Concurrency)
	cfg.Output.Format = or(f.OutputFormat, cfg.Output.Format)
	cfg.Output.Path = or(f.OutputPath, cfg.Output.Path)
	cfg.Output.FailedObjects = or(f.FailedObjects, cfg.Output.FailedObjects)
	cfg.Output.Metrics = or(f.Metrics, cfg.Output.Metrics)
	cfg.LogLevel = or(f.LogLevel, cfg.LogLevel)
}

func or(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func resolveInt(flagVal, cfgVal int) int {
	if flagVal > 0 {
		return flagVal
	}
	return cfgVal
}
