// Package vectordb adapts the supported vector databases to a single Store
// used by the importer. Embedding, indexing and quantization stay inside the
// database or the inference containers; this package only drives them.
package vectordb

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const (
	BackendWeaviate = "weaviate"
	BackendMilvus   = "milvus"
	BackendQdrant   = "qdrant"
)

// ErrNotFound is returned by GetByID when no object has the given ID
var ErrNotFound = errors.New("object not found")

// Object is a single batch object: a derived ID plus its properties
type Object struct {
	ID         uuid.UUID
	Properties map[string]any
}

// FailedObject is an object the database rejected, with the reason
type FailedObject struct {
	Object  Object
	Message string
}

// Store is the collection-level surface the importer needs from a vector database
type Store interface {
	Backend() string
	Ready(ctx context.Context) error

	HasCollection(ctx context.Context, name string) (bool, error)
	// DeleteCollection removes the collection. Deleting a missing collection is not an error.
	DeleteCollection(ctx context.Context, name string) error
	CreateCollection(ctx context.Context, schema Schema) error

	// InsertBatch writes one chunk. Per-object rejections come back as
	// FailedObjects; a non-nil error means the whole request failed.
	InsertBatch(ctx context.Context, collection string, objects []Object) ([]FailedObject, error)
	Count(ctx context.Context, collection string) (int64, error)
	// Flush makes inserted objects durable and visible to Count
	Flush(ctx context.Context, collection string) error
	GetByID(ctx context.Context, collection string, id uuid.UUID) (*Object, error)

	Close() error
}

// Hit is one search result
type Hit struct {
	ID          string
	Index       int64
	DatasetName string
	Distance    float64
}

// Searcher runs similarity queries against one named vector. Distances are
// reported so that smaller means closer on every backend.
type Searcher interface {
	SearchNearText(ctx context.Context, collection, targetVector, text string, limit int) ([]Hit, error)
	SearchNearImage(ctx context.Context, collection, targetVector, base64Image string, limit int) ([]Hit, error)
}

func failAll(objects []Object, msg string) []FailedObject {
	failed := make([]FailedObject, len(objects))
	for i, obj := range objects {
		failed[i] = FailedObject{Object: obj, Message: msg}
	}
	return failed
}
