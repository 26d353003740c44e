package vectordb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clip-arena/internal/config"
	apperrors "clip-arena/internal/errors"
	"clip-arena/internal/logger"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const clipVectorizer = "multi2vec-clip"

// WeaviateStore drives a Weaviate instance. Weaviate calls the inference
// endpoints itself, so objects are sent without vectors.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore creates a client for the configured instance. No request
// is made until the first operation.
func NewWeaviateStore(cfg config.WeaviateConfig, timeout time.Duration) (*WeaviateStore, error) {
	wcfg := weaviate.Config{
		Host:             cfg.Host,
		Scheme:           cfg.Scheme,
		ConnectionClient: &http.Client{Timeout: timeout},
	}
	if cfg.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to create weaviate client", err)
	}
	return &WeaviateStore{client: client}, nil
}

func (w *WeaviateStore) Backend() string { return BackendWeaviate }

func (w *WeaviateStore) Ready(ctx context.Context) error {
	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return apperrors.NewNetworkError("weaviate readiness check failed", err)
	}
	if !ready {
		return apperrors.NewNetworkError("weaviate is not ready", nil)
	}
	return nil
}

func (w *WeaviateStore) HasCollection(ctx context.Context, name string) (bool, error) {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(name).Do(ctx)
	if err != nil {
		return false, apperrors.NewSchemaError("failed to check collection", err).WithContext("collection", name)
	}
	return exists, nil
}

func (w *WeaviateStore) DeleteCollection(ctx context.Context, name string) error {
	err := w.client.Schema().ClassDeleter().WithClassName(name).Do(ctx)
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return apperrors.NewSchemaError("failed to delete collection", err).WithContext("collection", name)
	}
	return nil
}

func (w *WeaviateStore) CreateCollection(ctx context.Context, schema Schema) error {
	class := weaviateClass(schema)
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return apperrors.NewSchemaError("failed to create collection", err).WithContext("collection", schema.Name)
	}
	return nil
}

// weaviateClass maps a schema onto a Weaviate class with one named vector
// per VectorConfig, each vectorized by its own multi2vec-clip module instance
func weaviateClass(schema Schema) *models.Class {
	props := make([]*models.Property, 0, len(schema.Properties))
	for _, p := range schema.Properties {
		props = append(props, &models.Property{
			Name:     p.Name,
			DataType: []string{string(p.DataType)},
		})
	}

	vectors := make(map[string]models.VectorConfig, len(schema.Vectors))
	for _, v := range schema.Vectors {
		indexConfig := map[string]any{}
		if v.QuantizerBits > 0 {
			indexConfig["rq"] = map[string]any{
				"enabled": true,
				"bits":    v.QuantizerBits,
			}
		}
		vectors[v.Name] = models.VectorConfig{
			Vectorizer: map[string]any{
				clipVectorizer: map[string]any{
					"imageFields":        v.SourceProperties,
					"inferenceUrl":       v.InferenceURL,
					"vectorizeClassName": false,
				},
			},
			VectorIndexType:   v.IndexType,
			VectorIndexConfig: indexConfig,
		}
	}

	return &models.Class{
		Class:        schema.Name,
		Properties:   props,
		VectorConfig: vectors,
	}
}

func (w *WeaviateStore) InsertBatch(ctx context.Context, collection string, objects []Object) ([]FailedObject, error) {
	if len(objects) == 0 {
		return nil, nil
	}

	batch := make([]*models.Object, len(objects))
	byID := make(map[strfmt.UUID]Object, len(objects))
	for i, obj := range objects {
		id := strfmt.UUID(obj.ID.String())
		batch[i] = &models.Object{
			Class:      collection,
			ID:         id,
			Properties: obj.Properties,
		}
		byID[id] = obj
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(batch...).Do(ctx)
	if err != nil {
		return nil, apperrors.NewBatchError("batch request failed", err).WithContext("objects", len(objects))
	}

	var failed []FailedObject
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil || len(r.Result.Errors.Error) == 0 {
			continue
		}
		msgs := make([]string, 0, len(r.Result.Errors.Error))
		for _, e := range r.Result.Errors.Error {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		obj, ok := byID[r.ID]
		if !ok {
			logger.Warn("Batch response references an unknown object", "id", r.ID)
			continue
		}
		failed = append(failed, FailedObject{Object: obj, Message: strings.Join(msgs, "; ")})
	}
	return failed, nil
}

func (w *WeaviateStore) Count(ctx context.Context, collection string) (int64, error) {
	resp, err := w.client.GraphQL().Aggregate().
		WithClassName(collection).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, apperrors.NewNetworkError("aggregate query failed", err).WithContext("collection", collection)
	}
	if len(resp.Errors) > 0 {
		return 0, fmt.Errorf("aggregate query failed: %s", graphQLErrors(resp.Errors))
	}
	return parseAggregateCount(resp.Data, collection)
}

func parseAggregateCount(data map[string]models.JSONObject, collection string) (int64, error) {
	agg, ok := data["Aggregate"].(map[string]any)
	if !ok {
		return 0, fmt.Errorf("aggregate response has no Aggregate field")
	}
	rows, ok := agg[collection].([]any)
	if !ok || len(rows) == 0 {
		return 0, fmt.Errorf("aggregate response has no rows for %s", collection)
	}
	row, ok := rows[0].(map[string]any)
	if !ok {
		return 0, fmt.Errorf("unexpected aggregate row %T", rows[0])
	}
	meta, ok := row["meta"].(map[string]any)
	if !ok {
		return 0, fmt.Errorf("aggregate row has no meta")
	}
	count, ok := meta["count"].(float64)
	if !ok {
		return 0, fmt.Errorf("aggregate meta has no count")
	}
	return int64(count), nil
}

// Flush is a no-op: a successful batch response means the objects are stored
func (w *WeaviateStore) Flush(ctx context.Context, collection string) error {
	return nil
}

func (w *WeaviateStore) GetByID(ctx context.Context, collection string, id uuid.UUID) (*Object, error) {
	objs, err := w.client.Data().ObjectsGetter().
		WithClassName(collection).
		WithID(id.String()).
		Do(ctx)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ErrNotFound
		}
		return nil, apperrors.NewNetworkError("failed to get object", err).WithContext("id", id.String())
	}
	if len(objs) == 0 || objs[0] == nil {
		return nil, ErrNotFound
	}

	props, _ := objs[0].Properties.(map[string]any)
	return &Object{ID: id, Properties: normalizeNumbers(props)}, nil
}

func (w *WeaviateStore) SearchNearText(ctx context.Context, collection, targetVector, text string, limit int) ([]Hit, error) {
	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{text}).
		WithTargetVectors(targetVector)

	resp, err := w.client.GraphQL().Get().
		WithClassName(collection).
		WithFields(searchFields()...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	return parseSearch(resp, err, collection)
}

func (w *WeaviateStore) SearchNearImage(ctx context.Context, collection, targetVector, base64Image string, limit int) ([]Hit, error) {
	nearImage := w.client.GraphQL().NearImageArgBuilder().
		WithImage(base64Image).
		WithTargetVectors(targetVector)

	resp, err := w.client.GraphQL().Get().
		WithClassName(collection).
		WithFields(searchFields()...).
		WithNearImage(nearImage).
		WithLimit(limit).
		Do(ctx)
	return parseSearch(resp, err, collection)
}

func searchFields() []graphql.Field {
	return []graphql.Field{
		{Name: PropIndex},
		{Name: PropDatasetName},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}
}

func parseSearch(resp *models.GraphQLResponse, err error, collection string) ([]Hit, error) {
	if err != nil {
		return nil, apperrors.NewNetworkError("search failed", err).WithContext("collection", collection)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("search failed: %s", graphQLErrors(resp.Errors))
	}

	get, ok := resp.Data["Get"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("search response has no Get field")
	}
	rows, _ := get[collection].([]any)

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		hit := Hit{}
		if v, ok := row[PropIndex].(float64); ok {
			hit.Index = int64(v)
		}
		hit.DatasetName, _ = row[PropDatasetName].(string)
		if add, ok := row["_additional"].(map[string]any); ok {
			hit.ID, _ = add["id"].(string)
			hit.Distance, _ = add["distance"].(float64)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func graphQLErrors(errs []*models.GraphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

// normalizeNumbers turns integral JSON numbers back into int64
func normalizeNumbers(props map[string]any) map[string]any {
	for k, v := range props {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			props[k] = int64(f)
		}
	}
	return props
}

func isStatus(err error, code int) bool {
	var werr *fault.WeaviateClientError
	return errors.As(err, &werr) && werr.StatusCode == code
}

func (w *WeaviateStore) Close() error {
	return nil
}
