// Package search queries every named vector of the collection with the same
// text or image and lays the results out side by side.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"

	apperrors "clip-arena/internal/errors"
	"clip-arena/internal/logger"
	"clip-arena/internal/vectordb"

	"golang.org/x/sync/errgroup"
)

const DefaultLimit = 10

var titles = map[string]string{
	"metaclip2":     "MetaCLIP2",
	"modernvbert":   "ModernVBERT",
	"vitb32laion5b": "ViT-B/32 LAION-5B",
	"siglip2":       "SigLIP2",
}

// Title is the display name of a named vector
func Title(vector string) string {
	if t, ok := titles[vector]; ok {
		return t
	}
	return vector
}

// Query is either a text or a base64 encoded image
type Query struct {
	Text        string
	Base64Image string
}

func (q Query) validate() error {
	if (q.Text == "") == (q.Base64Image == "") {
		return apperrors.NewValidationError("exactly one of text or image must be set", nil)
	}
	return nil
}

// Column holds the hits of one named vector
type Column struct {
	Vector string
	Title  string
	Hits   []vectordb.Hit
}

// Run searches all vectors in parallel. If any search fails the whole
// query fails.
func Run(ctx context.Context, s vectordb.Searcher, collection string, vectors []string, q Query, limit int) ([]Column, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	columns := make([]Column, len(vectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, vector := range vectors {
		g.Go(func() error {
			var hits []vectordb.Hit
			var err error
			if q.Text != "" {
				hits, err = s.SearchNearText(gctx, collection, vector, q.Text, limit)
			} else {
				hits, err = s.SearchNearImage(gctx, collection, vector, q.Base64Image, limit)
			}
			if err != nil {
				return fmt.Errorf("search on %s failed: %w", vector, err)
			}
			columns[i] = Column{Vector: vector, Title: Title(vector), Hits: hits}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Debug("Search finished", "collection", collection, "vectors", len(vectors), "limit", limit)
	return columns, nil
}

// Similar searches with the image of the object stored for index
func Similar(ctx context.Context, store vectordb.Store, s vectordb.Searcher, collection string, vectors []string, index int64, limit int) ([]Column, error) {
	obj, err := store.GetByID(ctx, collection, vectordb.ObjectID(index))
	if err != nil {
		if errors.Is(err, vectordb.ErrNotFound) {
			return nil, apperrors.NewValidationError(fmt.Sprintf("no object with index %d", index), err)
		}
		return nil, err
	}
	image, _ := obj.Properties[vectordb.PropBase64Image].(string)
	if image == "" {
		return nil, fmt.Errorf("object with index %d has no image", index)
	}
	return Run(ctx, s, collection, vectors, Query{Base64Image: image}, limit)
}

// Print writes one block per vector
func Print(w io.Writer, columns []Column) {
	for i, col := range columns {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s\n", col.Title)
		if len(col.Hits) == 0 {
			fmt.Fprintln(w, "  No results found")
			continue
		}
		for rank, h := range col.Hits {
			fmt.Fprintf(w, "  %2d. index=%d dataset=%s distance=%.4f\n", rank+1, h.Index, h.DatasetName, h.Distance)
		}
	}
}
