package mocks

import (
	"context"
	"sync"

	"clip-arena/internal/vectordb"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/qdrant/go-client/qdrant"
)

// MockStore is an in-memory vectordb.Store. Any *Func field that is set
// replaces the default behavior of its method.
type MockStore struct {
	mu          sync.Mutex
	collections map[string]vectordb.Schema
	objects     map[string]map[uuid.UUID]vectordb.Object
	calls       []string

	ReadyFunc            func(ctx context.Context) error
	DeleteCollectionFunc func(ctx context.Context, name string) error
	CreateCollectionFunc func(ctx context.Context, schema vectordb.Schema) error
	InsertBatchFunc      func(ctx context.Context, collection string, objects []vectordb.Object) ([]vectordb.FailedObject, error)
	CountFunc            func(ctx context.Context, collection string) (int64, error)
	FlushFunc            func(ctx context.Context, collection string) error
	SearchNearTextFunc   func(ctx context.Context, collection, targetVector, text string, limit int) ([]vectordb.Hit, error)
	SearchNearImageFunc  func(ctx context.Context, collection, targetVector, base64Image string, limit int) ([]vectordb.Hit, error)
}

func NewMockStore() *MockStore {
	return &MockStore{
		collections: make(map[string]vectordb.Schema),
		objects:     make(map[string]map[uuid.UUID]vectordb.Object),
	}
}

func (m *MockStore) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

// Calls returns the names of the methods called so far, in order
func (m *MockStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Objects returns the stored objects of a collection
func (m *MockStore) Objects(collection string) map[uuid.UUID]vectordb.Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]vectordb.Object, len(m.objects[collection]))
	for id, obj := range m.objects[collection] {
		out[id] = obj
	}
	return out
}

func (m *MockStore) Backend() string { return "mock" }

func (m *MockStore) Ready(ctx context.Context) error {
	m.record("Ready")
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return nil
}

func (m *MockStore) HasCollection(ctx context.Context, name string) (bool, error) {
	m.record("HasCollection")
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MockStore) DeleteCollection(ctx context.Context, name string) error {
	m.record("DeleteCollection")
	if m.DeleteCollectionFunc != nil {
		return m.DeleteCollectionFunc(ctx, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	delete(m.objects, name)
	return nil
}

func (m *MockStore) CreateCollection(ctx context.Context, schema vectordb.Schema) error {
	m.record("CreateCollection")
	if m.CreateCollectionFunc != nil {
		return m.CreateCollectionFunc(ctx, schema)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[schema.Name] = schema
	if m.objects[schema.Name] == nil {
		m.objects[schema.Name] = make(map[uuid.UUID]vectordb.Object)
	}
	return nil
}

func (m *MockStore) InsertBatch(ctx context.Context, collection string, objects []vectordb.Object) ([]vectordb.FailedObject, error) {
	m.record("InsertBatch")
	var failed []vectordb.FailedObject
	if m.InsertBatchFunc != nil {
		var err error
		failed, err = m.InsertBatchFunc(ctx, collection, objects)
		if err != nil {
			return nil, err
		}
	}

	rejected := make(map[uuid.UUID]bool, len(failed))
	for _, f := range failed {
		rejected[f.Object.ID] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects[collection] == nil {
		m.objects[collection] = make(map[uuid.UUID]vectordb.Object)
	}
	for _, obj := range objects {
		if !rejected[obj.ID] {
			m.objects[collection][obj.ID] = obj
		}
	}
	return failed, nil
}

func (m *MockStore) Count(ctx context.Context, collection string) (int64, error) {
	m.record("Count")
	if m.CountFunc != nil {
		return m.CountFunc(ctx, collection)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.objects[collection])), nil
}

func (m *MockStore) Flush(ctx context.Context, collection string) error {
	m.record("Flush")
	if m.FlushFunc != nil {
		return m.FlushFunc(ctx, collection)
	}
	return nil
}

func (m *MockStore) GetByID(ctx context.Context, collection string, id uuid.UUID) (*vectordb.Object, error) {
	m.record("GetByID")
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[collection][id]
	if !ok {
		return nil, vectordb.ErrNotFound
	}
	return &obj, nil
}

func (m *MockStore) SearchNearText(ctx context.Context, collection, targetVector, text string, limit int) ([]vectordb.Hit, error) {
	m.record("SearchNearText")
	if m.SearchNearTextFunc != nil {
		return m.SearchNearTextFunc(ctx, collection, targetVector, text, limit)
	}
	return nil, nil
}

func (m *MockStore) SearchNearImage(ctx context.Context, collection, targetVector, base64Image string, limit int) ([]vectordb.Hit, error) {
	m.record("SearchNearImage")
	if m.SearchNearImageFunc != nil {
		return m.SearchNearImageFunc(ctx, collection, targetVector, base64Image, limit)
	}
	return nil, nil
}

func (m *MockStore) Close() error {
	m.record("Close")
	return nil
}

// MockVectorizer returns vectors of a fixed dimension whose first component
// is the position of the input
type MockVectorizer struct {
	Dim int

	VectorizeImagesFunc func(ctx context.Context, images []string) ([][]float32, error)

	mu    sync.Mutex
	calls int
}

func (m *MockVectorizer) VectorizeImages(ctx context.Context, images []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.VectorizeImagesFunc != nil {
		return m.VectorizeImagesFunc(ctx, images)
	}
	out := make([][]float32, len(images))
	for i := range images {
		out[i] = make([]float32, m.Dim)
		if m.Dim > 0 {
			out[i][0] = float32(i)
		}
	}
	return out, nil
}

func (m *MockVectorizer) VectorizeText(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, m.Dim), nil
}

func (m *MockVectorizer) Dimensions(ctx context.Context) (int, error) {
	return m.Dim, nil
}

// Calls returns how many VectorizeImages calls were made
func (m *MockVectorizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockMilvusAPI is a mock implementation of vectordb.MilvusAPI
type MockMilvusAPI struct {
	PingFunc             func(ctx context.Context) error
	HasCollectionFunc    func(ctx context.Context, name string) (bool, error)
	DropCollectionFunc   func(ctx context.Context, name string) error
	CreateCollectionFunc func(ctx context.Context, schema *entity.Schema) error
	CreateIndexFunc      func(ctx context.Context, collection, field string, idx entity.Index) error
	UpsertFunc           func(ctx context.Context, collection string, columns ...entity.Column) error
	FlushFunc            func(ctx context.Context, collection string) error
	LoadCollectionFunc   func(ctx context.Context, collection string) error
	RowCountFunc         func(ctx context.Context, collection string) (int64, error)
	QueryFunc            func(ctx context.Context, collection, expr string, outputFields []string) ([]entity.Column, error)
	SearchFunc           func(ctx context.Context, collection, vectorField string, vector []float32, metric entity.MetricType, topK int, outputFields []string) ([]entity.Column, []float32, error)
}

func (m *MockMilvusAPI) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockMilvusAPI) HasCollection(ctx context.Context, name string) (bool, error) {
	if m.HasCollectionFunc != nil {
		return m.HasCollectionFunc(ctx, name)
	}
	return false, nil
}

func (m *MockMilvusAPI) DropCollection(ctx context.Context, name string) error {
	if m.DropCollectionFunc != nil {
		return m.DropCollectionFunc(ctx, name)
	}
	return nil
}

func (m *MockMilvusAPI) CreateCollection(ctx context.Context, schema *entity.Schema) error {
	if m.CreateCollectionFunc != nil {
		return m.CreateCollectionFunc(ctx, schema)
	}
	return nil
}

func (m *MockMilvusAPI) CreateIndex(ctx context.Context, collection, field string, idx entity.Index) error {
	if m.CreateIndexFunc != nil {
		return m.CreateIndexFunc(ctx, collection, field, idx)
	}
	return nil
}

func (m *MockMilvusAPI) Upsert(ctx context.Context, collection string, columns ...entity.Column) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, collection, columns...)
	}
	return nil
}

func (m *MockMilvusAPI) Flush(ctx context.Context, collection string) error {
	if m.FlushFunc != nil {
		return m.FlushFunc(ctx, collection)
	}
	return nil
}

func (m *MockMilvusAPI) LoadCollection(ctx context.Context, collection string) error {
	if m.LoadCollectionFunc != nil {
		return m.LoadCollectionFunc(ctx, collection)
	}
	return nil
}

func (m *MockMilvusAPI) RowCount(ctx context.Context, collection string) (int64, error) {
	if m.RowCountFunc != nil {
		return m.RowCountFunc(ctx, collection)
	}
	return 0, nil
}

func (m *MockMilvusAPI) Query(ctx context.Context, collection, expr string, outputFields []string) ([]entity.Column, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, collection, expr, outputFields)
	}
	return nil, nil
}

func (m *MockMilvusAPI) Search(ctx context.Context, collection, vectorField string, vector []float32, metric entity.MetricType, topK int, outputFields []string) ([]entity.Column, []float32, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, collection, vectorField, vector, metric, topK, outputFields)
	}
	return nil, nil, nil
}

func (m *MockMilvusAPI) Close() error { return nil }

// MockQdrantAPI is a mock implementation of vectordb.QdrantAPI
type MockQdrantAPI struct {
	HealthCheckFunc      func(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExistsFunc func(ctx context.Context, name string) (bool, error)
	CreateCollectionFunc func(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollectionFunc func(ctx context.Context, name string) error
	UpsertFunc           func(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	CountFunc            func(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	GetFunc              func(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	QueryFunc            func(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

func (m *MockQdrantAPI) HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error) {
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx)
	}
	return &qdrant.HealthCheckReply{Title: "qdrant", Version: "1.16.2"}, nil
}

func (m *MockQdrantAPI) CollectionExists(ctx context.Context, name string) (bool, error) {
	if m.CollectionExistsFunc != nil {
		return m.CollectionExistsFunc(ctx, name)
	}
	return false, nil
}

func (m *MockQdrantAPI) CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error {
	if m.CreateCollectionFunc != nil {
		return m.CreateCollectionFunc(ctx, request)
	}
	return nil
}

func (m *MockQdrantAPI) DeleteCollection(ctx context.Context, name string) error {
	if m.DeleteCollectionFunc != nil {
		return m.DeleteCollectionFunc(ctx, name)
	}
	return nil
}

func (m *MockQdrantAPI) Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, request)
	}
	return &qdrant.UpdateResult{}, nil
}

func (m *MockQdrantAPI) Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx, request)
	}
	return 0, nil
}

func (m *MockQdrantAPI) Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, request)
	}
	return nil, nil
}

func (m *MockQdrantAPI) Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, request)
	}
	return nil, nil
}

func (m *MockQdrantAPI) Close() error { return nil }
