package dataset

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"clip-arena/internal/config"
	apperrors "clip-arena/internal/errors"
	"clip-arena/internal/logger"
)

const (
	SourceHuggingFace = "huggingface"
	SourceS3          = "s3"
	SourceLocal       = "local"
)

// Loader resolves a dataset split to local parquet shards, downloading them
// into the cache directory when needed.
type Loader struct {
	cfg        config.DatasetConfig
	httpClient *http.Client
	s3Client   S3API
}

// Option customizes a Loader
type Option func(*Loader)

// WithHTTPClient sets the client used for HuggingFace requests
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.httpClient = c }
}

// WithS3Client sets the client used by the s3 source
func WithS3Client(c S3API) Option {
	return func(l *Loader) { l.s3Client = c }
}

func NewLoader(cfg config.DatasetConfig, opts ...Option) *Loader {
	cfg.CacheDir = expandHome(cfg.CacheDir)
	if cfg.Source == "" {
		cfg.Source = SourceHuggingFace
	}
	l := &Loader{
		cfg:        cfg,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load makes every shard of the configured split available locally and
// opens them as a Dataset.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	logger.Info("Loading dataset",
		"name", l.cfg.Name,
		"split", l.cfg.Split,
		"source", l.cfg.Source)

	var files []string
	var err error
	switch l.cfg.Source {
	case SourceHuggingFace:
		files, err = l.fetchHuggingFace(ctx)
	case SourceS3:
		files, err = l.fetchS3(ctx)
	case SourceLocal:
		files, err = localShards(l.cfg.LocalPath)
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown dataset source %q", l.cfg.Source), nil)
	}
	if err != nil {
		return nil, apperrors.NewDatasetError("failed to fetch dataset", err).
			WithContext("name", l.cfg.Name).
			WithContext("split", l.cfg.Split)
	}

	ds, err := Open(files...)
	if err != nil {
		return nil, apperrors.NewDatasetError("failed to open dataset", err)
	}
	ds.Name = l.cfg.Name
	ds.Split = l.cfg.Split

	logger.Info("Dataset ready", "shards", len(files), "rows", ds.Len())
	return ds, nil
}

// splitDir is the cache directory of the configured split
func (l *Loader) splitDir(configName string) string {
	return filepath.Join(l.cfg.CacheDir, strings.ReplaceAll(l.cfg.Name, "/", "___"), configName, l.cfg.Split)
}

// Dataset is an ordered list of parquet shards
type Dataset struct {
	Name  string
	Split string

	files []string
	rows  int64
}

// Open builds a dataset from parquet files in the given order
func Open(files ...string) (*Dataset, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no parquet files")
	}
	ds := &Dataset{files: files}
	for _, f := range files {
		n, err := countRows(f)
		if err != nil {
			return nil, err
		}
		ds.rows += n
	}
	return ds, nil
}

// Len is the total number of rows across all shards
func (d *Dataset) Len() int64 {
	return d.rows
}

func (d *Dataset) Files() []string {
	return append([]string(nil), d.files...)
}

// Each calls fn for every row in shard order. It stops at the first error
// returned by fn or when ctx is cancelled. Each can be called repeatedly.
func (d *Dataset) Each(ctx context.Context, fn func(RawRecord) error) error {
	for _, f := range d.files {
		if err := readShard(ctx, f, fn); err != nil {
			return err
		}
	}
	return nil
}

// localShards returns path itself, or the sorted parquet files directly inside it
func localShards(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("local_path is not set")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	files, err := filepath.Glob(filepath.Join(path, "*.parquet"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no parquet files in %s", path)
	}
	sort.Strings(files)
	return files, nil
}

func isCached(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > 0
}

func expandHome(dir string) string {
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, dir[2:])
		}
	}
	return dir
}
