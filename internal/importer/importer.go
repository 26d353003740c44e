// Package importer drives one import run: reset the collection, stream the
// dataset through the batcher, flush and count.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"clip-arena/internal/batch"
	"clip-arena/internal/config"
	"clip-arena/internal/dataset"
	apperrors "clip-arena/internal/errors"
	"clip-arena/internal/logger"
	"clip-arena/internal/vectordb"
)

const defaultProgressEvery = 1000

// Records is an ordered, re-iterable sequence of dataset rows
type Records interface {
	Len() int64
	Each(ctx context.Context, fn func(dataset.RawRecord) error) error
}

// Outcome summarizes an import run
type Outcome struct {
	Expected      int64
	Submitted     int64
	Failed        int
	Elapsed       time.Duration
	TotalCount    int64
	FailedObjects []vectordb.FailedObject
}

type Importer struct {
	store  vectordb.Store
	cfg    *config.Config
	schema vectordb.Schema
	out    io.Writer

	onChunk func(batch.ChunkResult)
}

type Option func(*Importer)

// WithOutput sets where the step lines are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(i *Importer) { i.out = w }
}

// WithChunkObserver registers a callback for every submitted chunk
func WithChunkObserver(fn func(batch.ChunkResult)) Option {
	return func(i *Importer) { i.onChunk = fn }
}

func New(store vectordb.Store, cfg *config.Config, opts ...Option) *Importer {
	i := &Importer{
		store:  store,
		cfg:    cfg,
		schema: vectordb.SchemaFromConfig(cfg.Collection),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Schema is the collection schema the importer creates
func (i *Importer) Schema() vectordb.Schema {
	return i.schema
}

// Run resets the collection and imports every record
func (i *Importer) Run(ctx context.Context, records Records) (*Outcome, error) {
	if err := ResetCollection(ctx, i.store, i.schema, i.cfg.Collection.Keep, i.out); err != nil {
		return nil, err
	}
	return i.Import(ctx, records)
}

// Import streams records into the collection, then flushes and counts it.
// Rejected objects are reported in the outcome and never fail the run.
func (i *Importer) Import(ctx context.Context, records Records) (*Outcome, error) {
	collection := i.schema.Name
	split := i.cfg.Dataset.Split
	every := int64(i.cfg.Batch.ProgressEvery)
	if every <= 0 {
		every = defaultProgressEvery
	}

	expected := records.Len()
	fmt.Fprintf(i.out, "Import data: %d\n", expected)
	logger.Info("Starting import",
		"collection", collection,
		"objects", expected,
		"batch_size", i.cfg.Batch.Size,
		"concurrency", i.cfg.Batch.Concurrency)

	start := time.Now()
	b := batch.New(func(ctx context.Context, objects []vectordb.Object) ([]vectordb.FailedObject, error) {
		return i.store.InsertBatch(ctx, collection, objects)
	}, batch.Options{
		Size:        i.cfg.Batch.Size,
		Concurrency: i.cfg.Batch.Concurrency,
		OnChunk:     i.onChunk,
	})
	progress := logger.NewProgressLogger("Imported", expected)

	var pos int64
	err := records.Each(ctx, func(raw dataset.RawRecord) error {
		if err := b.Add(ctx, dataset.Transform(raw, split).Object()); err != nil {
			return err
		}
		if pos%every == 0 {
			i.logProgress(ctx, progress, pos)
		}
		pos++
		return nil
	})
	if err != nil {
		// wait for chunks already handed to workers
		b.Flush(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, apperrors.NewDatasetError("failed to read dataset", err).WithContext("position", pos)
	}

	if err := b.Flush(ctx); err != nil {
		return nil, err
	}
	if err := i.store.Flush(ctx, collection); err != nil {
		return nil, apperrors.NewBatchError("failed to flush collection", err).WithContext("collection", collection)
	}
	elapsed := time.Since(start)

	total, err := i.store.Count(ctx, collection)
	if err != nil {
		return nil, apperrors.NewBatchError("failed to count collection", err).WithContext("collection", collection)
	}

	failed := b.FailedObjects()
	submitted, chunks := b.Stats()
	if len(failed) > 0 {
		logger.Warn("Objects failed to import",
			"failed", len(failed),
			"first_error", failed[0].Message)
	}
	logger.Info("Import finished",
		"submitted", submitted,
		"chunks", chunks,
		"failed", len(failed),
		"total_count", total,
		"elapsed", elapsed.Round(time.Millisecond))

	return &Outcome{
		Expected:      expected,
		Submitted:     submitted,
		Failed:        len(failed),
		Elapsed:       elapsed,
		TotalCount:    total,
		FailedObjects: failed,
	}, nil
}

// logProgress reports the live object count. A failed count only warns.
func (i *Importer) logProgress(ctx context.Context, progress *logger.ProgressLogger, pos int64) {
	count, err := i.store.Count(ctx, i.schema.Name)
	if err != nil {
		logger.Warn("Failed to count objects", "position", pos, "error", err)
		return
	}
	progress.Log(count, pos)
}
