package importer

import (
	"context"
	"fmt"
	"io"

	apperrors "clip-arena/internal/errors"
	"clip-arena/internal/logger"
	"clip-arena/internal/vectordb"
)

// ResetCollection prepares the target collection. By default the collection
// is deleted without checking whether it exists and then created from
// schema. With keep set, an existing collection is left untouched and only a
// missing one is created. Nothing is rolled back if creation fails.
func ResetCollection(ctx context.Context, store vectordb.Store, schema vectordb.Schema, keep bool, out io.Writer) error {
	if keep {
		exists, err := store.HasCollection(ctx, schema.Name)
		if err != nil {
			return apperrors.NewSchemaError("failed to check collection", err).WithContext("collection", schema.Name)
		}
		if exists {
			fmt.Fprintf(out, "Keep collection: %s\n", schema.Name)
			logger.Info("Collection exists, keeping it", "collection", schema.Name)
			return nil
		}
	} else {
		fmt.Fprintf(out, "Delete collection: %s\n", schema.Name)
		if err := store.DeleteCollection(ctx, schema.Name); err != nil {
			return apperrors.NewSchemaError("failed to delete collection", err).WithContext("collection", schema.Name)
		}
	}

	fmt.Fprintf(out, "Create collection: %s\n", schema.Name)
	logger.Info("Creating collection",
		"collection", schema.Name,
		"backend", store.Backend(),
		"vectors", schema.VectorNames())
	if err := store.CreateCollection(ctx, schema); err != nil {
		return apperrors.NewSchemaError("failed to create collection", err).WithContext("collection", schema.Name)
	}
	return nil
}
