package vectordb_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"clip-arena/internal/config"
	"clip-arena/internal/mocks"
	"clip-arena/internal/vectordb"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

func testSchema(dims int) vectordb.Schema {
	cfg := config.Default().Collection
	for i := range cfg.Vectors {
		cfg.Vectors[i].Dimensions = dims
	}
	return vectordb.SchemaFromConfig(cfg)
}

func testVectorizers(schema vectordb.Schema, dim int) map[string]vectordb.Vectorizer {
	out := make(map[string]vectordb.Vectorizer, len(schema.Vectors))
	for _, v := range schema.Vectors {
		out[v.Name] = &mocks.MockVectorizer{Dim: dim}
	}
	return out
}

func objects(indices ...int64) []vectordb.Object {
	objs := make([]vectordb.Object, len(indices))
	for i, idx := range indices {
		objs[i] = vectordb.Object{
			ID: vectordb.ObjectID(idx),
			Properties: map[string]any{
				vectordb.PropIndex:       idx,
				vectordb.PropBase64Image: "aGVsbG8=",
				vectordb.PropDatasetName: "photos",
				vectordb.PropSplit:       "sfw",
			},
		}
	}
	return objs
}

func TestNewMilvusStoreInvalidMetric(t *testing.T) {
	schema := testSchema(4)
	_, err := vectordb.NewMilvusStoreWithAPI(&mocks.MockMilvusAPI{}, "HAMMING", schema.Vectors, testVectorizers(schema, 4))
	if err == nil {
		t.Error("expected error for unsupported metric type")
	}
}

func TestMilvusCreateCollection(t *testing.T) {
	schema := testSchema(0)
	var created *entity.Schema
	var indexed []string

	api := &mocks.MockMilvusAPI{
		CreateCollectionFunc: func(ctx context.Context, s *entity.Schema) error {
			created = s
			return nil
		},
		CreateIndexFunc: func(ctx context.Context, collection, field string, idx entity.Index) error {
			indexed = append(indexed, field)
			return nil
		},
	}
	store, err := vectordb.NewMilvusStoreWithAPI(api, "COSINE", schema.Vectors, testVectorizers(schema, 16))
	if err != nil {
		t.Fatalf("NewMilvusStoreWithAPI() error = %v", err)
	}

	if err := store.CreateCollection(context.Background(), schema); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	if created == nil || created.CollectionName != "ClipArena" {
		t.Fatalf("created schema = %+v", created)
	}

	// id, index, dataset_name, split + one field per vector
	if len(created.Fields) != 4+len(schema.Vectors) {
		t.Errorf("got %d fields, want %d", len(created.Fields), 4+len(schema.Vectors))
	}
	for _, f := range created.Fields {
		if f.Name == vectordb.PropBase64Image {
			t.Error("schema should not have a base64_image field")
		}
	}
	if !created.Fields[0].PrimaryKey {
		t.Error("first field should be the primary key")
	}
	last := created.Fields[len(created.Fields)-1]
	if last.Name != "siglip2" || last.TypeParams["dim"] != "16" {
		t.Errorf("last field = %s %v, want siglip2 with probed dim 16", last.Name, last.TypeParams)
	}
	if strings.Join(indexed, ",") != strings.Join(schema.VectorNames(), ",") {
		t.Errorf("indexed fields = %v", indexed)
	}
}

func TestMilvusInsertBatch(t *testing.T) {
	schema := testSchema(8)
	var columns []entity.Column

	api := &mocks.MockMilvusAPI{
		UpsertFunc: func(ctx context.Context, collection string, cols ...entity.Column) error {
			columns = cols
			return nil
		},
	}
	store, err := vectordb.NewMilvusStoreWithAPI(api, "COSINE", schema.Vectors, testVectorizers(schema, 8))
	if err != nil {
		t.Fatalf("NewMilvusStoreWithAPI() error = %v", err)
	}

	objs := objects(10, 20, 30)
	objs[1].Properties[vectordb.PropIndex] = "twenty"

	failed, err := store.InsertBatch(context.Background(), "ClipArena", objs)
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if len(failed) != 1 || failed[0].Object.ID != vectordb.ObjectID(20) {
		t.Fatalf("failed = %+v, want the object with a non-integer index", failed)
	}

	// id, index, dataset_name, split + one column per vector
	if len(columns) != 4+len(schema.Vectors) {
		t.Fatalf("got %d columns", len(columns))
	}
	for _, c := range columns {
		if c.Len() != 2 {
			t.Errorf("column %s has %d rows, want 2", c.Name(), c.Len())
		}
		if c.Name() == vectordb.PropBase64Image {
			t.Error("base64_image should not be stored in milvus")
		}
	}
	ids := columns[0].(*entity.ColumnVarChar)
	if first, _ := ids.ValueByIdx(0); first != vectordb.ObjectID(10).String() {
		t.Errorf("first id = %s", first)
	}
}

func TestMilvusInsertBatchLargeImage(t *testing.T) {
	schema := testSchema(8)
	upserted := 0
	api := &mocks.MockMilvusAPI{
		UpsertFunc: func(ctx context.Context, collection string, cols ...entity.Column) error {
			upserted += cols[0].Len()
			return nil
		},
	}
	store, err := vectordb.NewMilvusStoreWithAPI(api, "COSINE", schema.Vectors, testVectorizers(schema, 8))
	if err != nil {
		t.Fatalf("NewMilvusStoreWithAPI() error = %v", err)
	}

	objs := objects(1, 2, 3)
	for _, obj := range objs {
		obj.Properties[vectordb.PropBase64Image] = strings.Repeat("A", 81920)
	}
	failed, err := store.InsertBatch(context.Background(), "ClipArena", objs)
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("failed = %d, want 0 (first: %s)", len(failed), failed[0].Message)
	}
	if upserted != 3 {
		t.Errorf("upserted %d rows, want 3", upserted)
	}
}

func TestMilvusReimportUpserts(t *testing.T) {
	schema := testSchema(8)
	rows := make(map[string]bool)
	api := &mocks.MockMilvusAPI{
		HasCollectionFunc: func(ctx context.Context, name string) (bool, error) {
			return true, nil
		},
		UpsertFunc: func(ctx context.Context, collection string, cols ...entity.Column) error {
			ids := cols[0].(*entity.ColumnVarChar)
			for i := 0; i < ids.Len(); i++ {
				id, _ := ids.ValueByIdx(i)
				rows[id] = true
			}
			return nil
		},
		RowCountFunc: func(ctx context.Context, collection string) (int64, error) {
			return int64(len(rows)), nil
		},
	}
	store, err := vectordb.NewMilvusStoreWithAPI(api, "COSINE", schema.Vectors, testVectorizers(schema, 8))
	if err != nil {
		t.Fatalf("NewMilvusStoreWithAPI() error = %v", err)
	}

	for run := 0; run < 2; run++ {
		if _, err := store.InsertBatch(context.Background(), "ClipArena", objects(10, 20, 30)); err != nil {
			t.Fatalf("run %d: InsertBatch() error = %v", run, err)
		}
	}
	if n, err := store.Count(context.Background(), "ClipArena"); err != nil || n != 3 {
		t.Errorf("Count() after re-import = %d, %v, want 3", n, err)
	}
}

func TestMilvusInsertBatchVectorizerError(t *testing.T) {
	schema := testSchema(8)
	vectorizers := testVectorizers(schema, 8)
	vectorizers["siglip2"] = &mocks.MockVectorizer{
		Dim: 8,
		VectorizeImagesFunc: func(ctx context.Context, images []string) ([][]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	inserted := false
	api := &mocks.MockMilvusAPI{
		UpsertFunc: func(ctx context.Context, collection string, cols ...entity.Column) error {
			inserted = true
			return nil
		},
	}
	store, err := vectordb.NewMilvusStoreWithAPI(api, "L2", schema.Vectors, vectorizers)
	if err != nil {
		t.Fatalf("NewMilvusStoreWithAPI() error = %v", err)
	}

	_, err = store.InsertBatch(context.Background(), "ClipArena", objects(1, 2))
	if err == nil {
		t.Fatal("expected error when a vectorizer fails")
	}
	if inserted {
		t.Error("Upsert should not be called when vectorization fails")
	}
}

func TestMilvusGetByID(t *testing.T) {
	schema := testSchema(8)
	var gotExpr string
	api := &mocks.MockMilvusAPI{
		QueryFunc: func(ctx context.Context, collection, expr string, fields []string) ([]entity.Column, error) {
			gotExpr = expr
			if !strings.Contains(expr, vectordb.ObjectID(30).String()) {
				return nil, nil
			}
			return []entity.Column{
				entity.NewColumnInt64(vectordb.PropIndex, []int64{30}),
				entity.NewColumnVarChar(vectordb.PropDatasetName, []string{"photos"}),
			}, nil
		},
	}
	store, err := vectordb.NewMilvusStoreWithAPI(api, "COSINE", schema.Vectors, testVectorizers(schema, 8))
	if err != nil {
		t.Fatalf("NewMilvusStoreWithAPI() error = %v", err)
	}

	obj, err := store.GetByID(context.Background(), "ClipArena", vectordb.ObjectID(30))
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if gotExpr != `id == "604ed872-ae2d-5d91-8e3e-572f3a3aaaa5"` {
		t.Errorf("expr = %s", gotExpr)
	}
	if obj.Properties[vectordb.PropIndex] != int64(30) || obj.Properties[vectordb.PropDatasetName] != "photos" {
		t.Errorf("properties = %v", obj.Properties)
	}

	_, err = store.GetByID(context.Background(), "ClipArena", vectordb.ObjectID(31))
	if !errors.Is(err, vectordb.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMilvusFlushLoadsCollection(t *testing.T) {
	schema := testSchema(8)
	var calls []string
	api := &mocks.MockMilvusAPI{
		FlushFunc: func(ctx context.Context, collection string) error {
			calls = append(calls, "flush")
			return errors.New("flush not supported")
		},
		LoadCollectionFunc: func(ctx context.Context, collection string) error {
			calls = append(calls, "load")
			return nil
		},
		RowCountFunc: func(ctx context.Context, collection string) (int64, error) {
			return 3, nil
		},
	}
	store, err := vectordb.NewMilvusStoreWithAPI(api, "COSINE", schema.Vectors, testVectorizers(schema, 8))
	if err != nil {
		t.Fatalf("NewMilvusStoreWithAPI() error = %v", err)
	}

	if err := store.Flush(context.Background(), "ClipArena"); err != nil {
		t.Fatalf("Flush() error = %v, a failed flush should only warn", err)
	}
	if strings.Join(calls, ",") != "flush,load" {
		t.Errorf("calls = %v", calls)
	}
	if n, err := store.Count(context.Background(), "ClipArena"); err != nil || n != 3 {
		t.Errorf("Count() = %d, %v", n, err)
	}
}

func TestMilvusDeleteMissingCollection(t *testing.T) {
	schema := testSchema(8)
	dropped := false
	api := &mocks.MockMilvusAPI{
		DropCollectionFunc: func(ctx context.Context, name string) error {
			dropped = true
			return nil
		},
	}
	store, err := vectordb.NewMilvusStoreWithAPI(api, "COSINE", schema.Vectors, testVectorizers(schema, 8))
	if err != nil {
		t.Fatalf("NewMilvusStoreWithAPI() error = %v", err)
	}
	if err := store.DeleteCollection(context.Background(), "ClipArena"); err != nil {
		t.Fatalf("DeleteCollection() error = %v", err)
	}
	if dropped {
		t.Error("DropCollection should not be called for a missing collection")
	}
}

func TestMilvusSearch(t *testing.T) {
	schema := testSchema(8)
	api := &mocks.MockMilvusAPI{
		SearchFunc: func(ctx context.Context, collection, field string, vec []float32, metric entity.MetricType, topK int, out []string) ([]entity.Column, []float32, error) {
			if field != "metaclip2" || topK != 5 || len(vec) != 8 {
				t.Errorf("search on %s topK=%d dim=%d", field, topK, len(vec))
			}
			return []entity.Column{
				entity.NewColumnVarChar("id", []string{vectordb.ObjectID(10).String()}),
				entity.NewColumnInt64(vectordb.PropIndex, []int64{10}),
			}, []float32{0.75}, nil
		},
	}
	store, err := vectordb.NewMilvusStoreWithAPI(api, "COSINE", schema.Vectors, testVectorizers(schema, 8))
	if err != nil {
		t.Fatalf("NewMilvusStoreWithAPI() error = %v", err)
	}

	hits, err := store.SearchNearText(context.Background(), "ClipArena", "metaclip2", "a cat", 5)
	if err != nil {
		t.Fatalf("SearchNearText() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Index != 10 || hits[0].Distance != 0.25 {
		t.Errorf("hits = %+v", hits)
	}
}
