package vectordb

import (
	"context"
	"fmt"

	"clip-arena/internal/config"
	apperrors "clip-arena/internal/errors"
	"clip-arena/internal/logger"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

const qdrantMaxMessageSize = 256 << 20

// QdrantAPI is the part of *qdrant.Client the store uses
type QdrantAPI interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// QdrantStore drives a Qdrant instance over gRPC. Vectors are computed
// client-side through the inference endpoints and upserted with the payload.
type QdrantStore struct {
	api   QdrantAPI
	embed *embedder
}

// NewQdrantStore dials the configured instance. vectors are the named vectors
// of the collection and must each have a vectorizer.
func NewQdrantStore(cfg config.QdrantConfig, vectors []VectorConfig, vectorizers map[string]Vectorizer) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallSendMsgSize(qdrantMaxMessageSize),
				grpc.MaxCallRecvMsgSize(qdrantMaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, apperrors.NewConfigError("failed to create qdrant client", err)
	}
	return NewQdrantStoreWithAPI(client, vectors, vectorizers)
}

// NewQdrantStoreWithAPI wraps an existing client
func NewQdrantStoreWithAPI(api QdrantAPI, vectors []VectorConfig, vectorizers map[string]Vectorizer) (*QdrantStore, error) {
	embed, err := newEmbedder(vectors, vectorizers)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid vector configuration", err)
	}
	return &QdrantStore{api: api, embed: embed}, nil
}

func (q *QdrantStore) Backend() string { return BackendQdrant }

func (q *QdrantStore) Ready(ctx context.Context) error {
	if _, err := q.api.HealthCheck(ctx); err != nil {
		return apperrors.NewNetworkError("qdrant health check failed", err)
	}
	return nil
}

func (q *QdrantStore) HasCollection(ctx context.Context, name string) (bool, error) {
	exists, err := q.api.CollectionExists(ctx, name)
	if err != nil {
		return false, apperrors.NewSchemaError("failed to check collection", err).WithContext("collection", name)
	}
	return exists, nil
}

func (q *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	// deleting a missing collection is an error in qdrant
	exists, err := q.HasCollection(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := q.api.DeleteCollection(ctx, name); err != nil {
		return apperrors.NewSchemaError("failed to delete collection", err).WithContext("collection", name)
	}
	return nil
}

func (q *QdrantStore) CreateCollection(ctx context.Context, schema Schema) error {
	embed, err := newEmbedder(schema.Vectors, q.embed.vectorizers)
	if err != nil {
		return apperrors.NewSchemaError("invalid vector configuration", err)
	}
	dims, err := embed.dimensions(ctx)
	if err != nil {
		return apperrors.NewSchemaError("failed to resolve vector dimensions", err)
	}

	params := make(map[string]*qdrant.VectorParams, len(schema.Vectors))
	for _, v := range schema.Vectors {
		params[v.Name] = qdrantVectorParams(v, dims[v.Name])
	}

	err = q.api.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: schema.Name,
		VectorsConfig:  qdrant.NewVectorsConfigMap(params),
	})
	if err != nil {
		return apperrors.NewSchemaError("failed to create collection", err).WithContext("collection", schema.Name)
	}
	q.embed = embed
	return nil
}

// qdrantVectorParams maps a vector config onto Qdrant. A flat index is an
// HNSW config with m=0, which makes Qdrant answer every query by full scan.
func qdrantVectorParams(v VectorConfig, dim int) *qdrant.VectorParams {
	params := &qdrant.VectorParams{
		Size:     uint64(dim),
		Distance: qdrant.Distance_Cosine,
	}
	if v.IndexType == "flat" {
		params.HnswConfig = &qdrant.HnswConfigDiff{M: qdrant.PtrOf(uint64(0))}
	}

	switch v.QuantizerBits {
	case 1:
		params.QuantizationConfig = qdrant.NewQuantizationBinary(&qdrant.BinaryQuantization{
			AlwaysRam: qdrant.PtrOf(true),
		})
	case 8:
		params.QuantizationConfig = qdrant.NewQuantizationScalar(&qdrant.ScalarQuantization{
			Type:      qdrant.QuantizationType_Int8,
			AlwaysRam: qdrant.PtrOf(true),
		})
	}
	return params
}

func (q *QdrantStore) InsertBatch(ctx context.Context, collection string, objects []Object) ([]FailedObject, error) {
	if len(objects) == 0 {
		return nil, nil
	}
	var failed []FailedObject
	valid := make([]Object, 0, len(objects))
	payloads := make([]map[string]*qdrant.Value, 0, len(objects))
	for _, obj := range objects {
		payload, err := qdrant.TryValueMap(obj.Properties)
		if err != nil {
			failed = append(failed, FailedObject{Object: obj, Message: err.Error()})
			continue
		}
		valid = append(valid, obj)
		payloads = append(payloads, payload)
	}
	if len(valid) == 0 {
		return failed, nil
	}

	vectors, err := q.embed.embed(ctx, valid)
	if err != nil {
		return nil, apperrors.NewBatchError("vectorization failed", err).WithContext("objects", len(objects))
	}

	points := make([]*qdrant.PointStruct, len(valid))
	for i, obj := range valid {
		named := make(map[string]*qdrant.Vector, len(vectors))
		for name, vecs := range vectors {
			named[name] = qdrant.NewVectorDense(vecs[i])
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(obj.ID.String()),
			Vectors: qdrant.NewVectorsMap(named),
			Payload: payloads[i],
		}
	}

	_, err = q.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return nil, apperrors.NewBatchError("upsert failed", err).WithContext("objects", len(objects))
	}
	return failed, nil
}

func (q *QdrantStore) Count(ctx context.Context, collection string) (int64, error) {
	n, err := q.api.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, apperrors.NewNetworkError("count failed", err).WithContext("collection", collection)
	}
	return int64(n), nil
}

// Flush is a no-op: upserts are sent with wait=true
func (q *QdrantStore) Flush(ctx context.Context, collection string) error {
	return nil
}

func (q *QdrantStore) GetByID(ctx context.Context, collection string, id uuid.UUID) (*Object, error) {
	points, err := q.api.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id.String())},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to get point", err).WithContext("id", id.String())
	}
	if len(points) == 0 {
		return nil, ErrNotFound
	}
	return &Object{ID: id, Properties: fromQdrantPayload(points[0].GetPayload())}, nil
}

func (q *QdrantStore) SearchNearText(ctx context.Context, collection, targetVector, text string, limit int) ([]Hit, error) {
	return q.search(ctx, collection, targetVector, text, "", limit)
}

func (q *QdrantStore) SearchNearImage(ctx context.Context, collection, targetVector, base64Image string, limit int) ([]Hit, error) {
	return q.search(ctx, collection, targetVector, "", base64Image, limit)
}

func (q *QdrantStore) search(ctx context.Context, collection, targetVector, text, image string, limit int) ([]Hit, error) {
	vec, err := q.embed.query(ctx, targetVector, text, image)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	points, err := q.api.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Using:          qdrant.PtrOf(targetVector),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayloadInclude(PropIndex, PropDatasetName),
	})
	if err != nil {
		return nil, apperrors.NewNetworkError("search failed", err).WithContext("collection", collection)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		hits = append(hits, Hit{
			ID:          p.GetId().GetUuid(),
			Index:       payload[PropIndex].GetIntegerValue(),
			DatasetName: payload[PropDatasetName].GetStringValue(),
			// cosine similarity, reported as a distance like the other backends
			Distance: 1 - float64(p.GetScore()),
		})
	}
	return hits, nil
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	props := make(map[string]any, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_IntegerValue:
			props[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			props[k] = kind.DoubleValue
		case *qdrant.Value_StringValue:
			props[k] = kind.StringValue
		case *qdrant.Value_BoolValue:
			props[k] = kind.BoolValue
		default:
			logger.Debug("Skipping unsupported payload value", "key", k)
		}
	}
	return props
}

func (q *QdrantStore) Close() error {
	return q.api.Close()
}
