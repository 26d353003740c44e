package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"clip-arena/internal/config"
	"clip-arena/internal/search"
	"clip-arena/internal/vectordb"
)

func runSearch(ctx context.Context, cfg *config.Config, flags *Flags, out io.Writer) error {
	store, err := connect(ctx, cfg, io.Discard)
	if err != nil {
		return err
	}
	defer store.Close()

	return searchAndPrint(ctx, cfg, flags, store, out)
}

func searchAndPrint(ctx context.Context, cfg *config.Config, flags *Flags, store vectordb.Store, out io.Writer) error {
	searcher, ok := store.(vectordb.Searcher)
	if !ok {
		return fmt.Errorf("backend %s does not support search", store.Backend())
	}

	collection := cfg.Collection.Name
	vectors := vectordb.SchemaFromConfig(cfg.Collection).VectorNames()

	var (
		columns []search.Column
		err     error
	)
	switch {
	case flags.Similar >= 0:
		fmt.Fprintf(out, "Objects similar to index %d in %s\n\n", flags.Similar, collection)
		columns, err = search.Similar(ctx, store, searcher, collection, vectors, flags.Similar, flags.Limit)
	case flags.SearchImage != "":
		var image string
		image, err = readImage(flags.SearchImage)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Image search for %s in %s\n\n", flags.SearchImage, collection)
		columns, err = search.Run(ctx, searcher, collection, vectors, search.Query{Base64Image: image}, flags.Limit)
	default:
		fmt.Fprintf(out, "Text search for %q in %s\n\n", flags.Search, collection)
		columns, err = search.Run(ctx, searcher, collection, vectors, search.Query{Text: flags.Search}, flags.Limit)
	}
	if err != nil {
		return err
	}

	search.Print(out, columns)
	return nil
}

func readImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
