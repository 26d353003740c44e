// Package batch groups objects into fixed-size chunks and submits them with a
// bounded number of chunks in flight. Failures are collected, not returned.
package batch

import (
	"context"
	"sync"
	"time"

	"clip-arena/internal/logger"
	"clip-arena/internal/vectordb"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultSize        = 5
	DefaultConcurrency = 1
)

// SubmitFunc sends one chunk. Per-object rejections are returned as failed
// objects; an error means the whole request failed.
type SubmitFunc func(ctx context.Context, objects []vectordb.Object) ([]vectordb.FailedObject, error)

// ChunkResult describes one submitted chunk
type ChunkResult struct {
	Objects  int
	Failed   int
	Err      error
	Duration time.Duration
}

type Options struct {
	Size        int
	Concurrency int
	// OnChunk, if set, is called after every chunk from the worker goroutine
	OnChunk func(ChunkResult)
}

// Batcher buffers objects and hands full chunks to workers. Add, Flush and
// Close must be called from a single goroutine.
type Batcher struct {
	submit SubmitFunc
	opts   Options
	buf    []vectordb.Object
	group  errgroup.Group

	mu        sync.Mutex
	failed    []vectordb.FailedObject
	submitted int64
	chunks    int64
}

// New creates a batcher. Non-positive sizes fall back to the defaults.
func New(submit SubmitFunc, opts Options) *Batcher {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	b := &Batcher{
		submit: submit,
		opts:   opts,
		buf:    make([]vectordb.Object, 0, opts.Size),
	}
	b.group.SetLimit(opts.Concurrency)
	return b
}

// Add buffers obj and dispatches the chunk once it is full. It blocks while
// Concurrency chunks are in flight. The only error is a cancelled context.
func (b *Batcher) Add(ctx context.Context, obj vectordb.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.buf = append(b.buf, obj)
	if len(b.buf) >= b.opts.Size {
		b.dispatch(ctx)
	}
	return nil
}

// Flush sends the partial chunk and waits for every in-flight chunk
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.buf) > 0 && ctx.Err() == nil {
		b.dispatch(ctx)
	}
	b.group.Wait()
	return ctx.Err()
}

// Close flushes the batcher
func (b *Batcher) Close(ctx context.Context) error {
	return b.Flush(ctx)
}

func (b *Batcher) dispatch(ctx context.Context) {
	chunk := b.buf
	b.buf = make([]vectordb.Object, 0, b.opts.Size)

	b.group.Go(func() error {
		start := time.Now()
		failed, err := b.submit(ctx, chunk)
		if err != nil {
			logger.Warn("Batch request failed", "objects", len(chunk), "error", err)
			failed = make([]vectordb.FailedObject, len(chunk))
			for i, obj := range chunk {
				failed[i] = vectordb.FailedObject{Object: obj, Message: err.Error()}
			}
		}

		b.mu.Lock()
		b.failed = append(b.failed, failed...)
		b.submitted += int64(len(chunk))
		b.chunks++
		b.mu.Unlock()

		if b.opts.OnChunk != nil {
			b.opts.OnChunk(ChunkResult{
				Objects:  len(chunk),
				Failed:   len(failed),
				Err:      err,
				Duration: time.Since(start),
			})
		}
		return nil
	})
}

// FailedObjects returns every failure collected since the batcher was created
func (b *Batcher) FailedObjects() []vectordb.FailedObject {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]vectordb.FailedObject(nil), b.failed...)
}

// Stats reports the number of objects and chunks handed to submit so far
func (b *Batcher) Stats() (submitted, chunks int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitted, b.chunks
}
