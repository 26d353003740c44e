package vectordb

import (
	"context"
	"fmt"

	"clip-arena/internal/config"
	apperrors "clip-arena/internal/errors"
	"clip-arena/internal/logger"
)

// Open creates the store for the configured backend. Milvus and Qdrant get
// one inference client per named vector of the collection.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	schema := SchemaFromConfig(cfg.Collection)
	timeout, err := cfg.GetConnectTimeout()
	if err != nil {
		return nil, apperrors.NewConfigError("invalid connect timeout", err)
	}

	logger.Info("Opening vector database", "backend", cfg.Backend, "collection", schema.Name)

	var store Store
	switch cfg.Backend {
	case BackendWeaviate, "":
		store, err = NewWeaviateStore(cfg.Weaviate, timeout)
	case BackendMilvus:
		store, err = NewMilvusStore(ctx, cfg.Milvus, schema.Vectors, NewVectorizers(schema.Vectors, timeout))
	case BackendQdrant:
		store, err = NewQdrantStore(cfg.Qdrant, schema.Vectors, NewVectorizers(schema.Vectors, timeout))
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unsupported backend %q", cfg.Backend), nil)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
