package vectordb

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"clip-arena/internal/config"
	apperrors "clip-arena/internal/errors"
	"clip-arena/internal/logger"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	milvusIDField     = "id"
	milvusIDLength    = 36
	milvusNameMaxLen  = 256
	milvusSplitMaxLen = 64
	milvusShardNum    = 1
	milvusDefaultTopK = 10
)

// MilvusAPI is the subset of Milvus operations the store needs. The SDK
// client is wrapped by milvusClient; tests substitute a mock.
type MilvusAPI interface {
	Ping(ctx context.Context) error
	HasCollection(ctx context.Context, name string) (bool, error)
	DropCollection(ctx context.Context, name string) error
	CreateCollection(ctx context.Context, schema *entity.Schema) error
	CreateIndex(ctx context.Context, collection, field string, idx entity.Index) error
	// Upsert replaces rows whose primary key already exists
	Upsert(ctx context.Context, collection string, columns ...entity.Column) error
	Flush(ctx context.Context, collection string) error
	LoadCollection(ctx context.Context, collection string) error
	RowCount(ctx context.Context, collection string) (int64, error)
	// Query returns the requested output columns in order
	Query(ctx context.Context, collection, expr string, outputFields []string) ([]entity.Column, error)
	// Search returns the requested output columns of the top hits and their scores
	Search(ctx context.Context, collection, vectorField string, vector []float32, metric entity.MetricType, topK int, outputFields []string) ([]entity.Column, []float32, error)
	Close() error
}

// MilvusStore drives a Milvus or Zilliz Cloud instance. Milvus has no
// vectorizer modules, so vectors come from the inference endpoints. The
// base64 image is only sent to the vectorizers: it does not fit a VarChar
// column, so objects read back from Milvus carry no image.
type MilvusStore struct {
	api    MilvusAPI
	metric entity.MetricType
	embed  *embedder
}

// NewMilvusStore connects to the configured instance
func NewMilvusStore(ctx context.Context, cfg config.MilvusConfig, vectors []VectorConfig, vectorizers map[string]Vectorizer) (*MilvusStore, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address:       cfg.Address,
		APIKey:        cfg.APIKey,
		EnableTLSAuth: strings.HasPrefix(cfg.Address, "https://"),
	})
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to connect to milvus", err).WithContext("address", cfg.Address)
	}
	return NewMilvusStoreWithAPI(&milvusClient{c: c}, cfg.MetricType, vectors, vectorizers)
}

// NewMilvusStoreWithAPI wraps an existing API implementation
func NewMilvusStoreWithAPI(api MilvusAPI, metricType string, vectors []VectorConfig, vectorizers map[string]Vectorizer) (*MilvusStore, error) {
	metric, err := parseMetricType(metricType)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid milvus metric type", err)
	}
	embed, err := newEmbedder(vectors, vectorizers)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid vector configuration", err)
	}
	return &MilvusStore{api: api, metric: metric, embed: embed}, nil
}

func parseMetricType(s string) (entity.MetricType, error) {
	switch strings.ToUpper(s) {
	case "", "COSINE":
		return entity.COSINE, nil
	case "L2":
		return entity.L2, nil
	case "IP":
		return entity.IP, nil
	default:
		return "", fmt.Errorf("unsupported metric type: %s", s)
	}
}

func (m *MilvusStore) Backend() string { return BackendMilvus }

func (m *MilvusStore) Ready(ctx context.Context) error {
	if err := m.api.Ping(ctx); err != nil {
		return apperrors.NewNetworkError("milvus is not reachable", err)
	}
	return nil
}

func (m *MilvusStore) HasCollection(ctx context.Context, name string) (bool, error) {
	has, err := m.api.HasCollection(ctx, name)
	if err != nil {
		return false, apperrors.NewSchemaError("failed to check collection", err).WithContext("collection", name)
	}
	return has, nil
}

func (m *MilvusStore) DeleteCollection(ctx context.Context, name string) error {
	// DropCollection fails on a missing collection
	has, err := m.HasCollection(ctx, name)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	logger.Info("Dropping existing collection", "collection", name)
	if err := m.api.DropCollection(ctx, name); err != nil {
		return apperrors.NewSchemaError("failed to drop collection", err).WithContext("collection", name)
	}
	return nil
}

func (m *MilvusStore) CreateCollection(ctx context.Context, schema Schema) error {
	embed, err := newEmbedder(schema.Vectors, m.embed.vectorizers)
	if err != nil {
		return apperrors.NewSchemaError("invalid vector configuration", err)
	}
	dims, err := embed.dimensions(ctx)
	if err != nil {
		return apperrors.NewSchemaError("failed to resolve vector dimensions", err)
	}

	if err := m.api.CreateCollection(ctx, milvusSchema(schema, dims)); err != nil {
		return apperrors.NewSchemaError("failed to create collection", err).WithContext("collection", schema.Name)
	}
	logger.Info("Collection created", "collection", schema.Name, "vectors", len(schema.Vectors))

	for _, v := range schema.Vectors {
		if v.QuantizerBits > 0 {
			logger.Warn("Quantization is not applied on milvus, using an unquantized FLAT index",
				"vector", v.Name, "bits", v.QuantizerBits)
		}
		idx, err := entity.NewIndexFlat(m.metric)
		if err != nil {
			return fmt.Errorf("failed to create index config: %w", err)
		}
		if err := m.api.CreateIndex(ctx, schema.Name, v.Name, idx); err != nil {
			return apperrors.NewSchemaError("failed to create index", err).
				WithContext("collection", schema.Name).
				WithContext("vector", v.Name)
		}
	}

	m.embed = embed
	return nil
}

// milvusSchema lays out a collection with a UUID primary key, the scalar
// properties and one float vector field per named vector
func milvusSchema(schema Schema, dims map[string]int) *entity.Schema {
	fields := []*entity.Field{
		entity.NewField().
			WithName(milvusIDField).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(milvusIDLength).
			WithIsPrimaryKey(true).
			WithIsAutoID(false),
		entity.NewField().
			WithName(PropIndex).
			WithDataType(entity.FieldTypeInt64),
		entity.NewField().
			WithName(PropDatasetName).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(milvusNameMaxLen),
		entity.NewField().
			WithName(PropSplit).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(milvusSplitMaxLen),
	}
	for _, v := range schema.Vectors {
		fields = append(fields, entity.NewField().
			WithName(v.Name).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dims[v.Name])))
	}

	return &entity.Schema{
		CollectionName: schema.Name,
		AutoID:         false,
		Fields:         fields,
	}
}

// milvusRow is one object flattened into column values
type milvusRow struct {
	id          string
	index       int64
	datasetName string
	split       string
}

func toMilvusRow(obj Object) (milvusRow, error) {
	row := milvusRow{id: obj.ID.String()}

	idx, ok := toInt64(obj.Properties[PropIndex])
	if !ok {
		return row, fmt.Errorf("property %q is not an integer", PropIndex)
	}
	row.index = idx

	if _, ok := obj.Properties[PropBase64Image].(string); !ok {
		return row, fmt.Errorf("property %q is not a string", PropBase64Image)
	}

	row.datasetName, _ = obj.Properties[PropDatasetName].(string)
	row.split, _ = obj.Properties[PropSplit].(string)
	return row, nil
}

func (m *MilvusStore) InsertBatch(ctx context.Context, collection string, objects []Object) ([]FailedObject, error) {
	if len(objects) == 0 {
		return nil, nil
	}

	var failed []FailedObject
	valid := make([]Object, 0, len(objects))
	rows := make([]milvusRow, 0, len(objects))
	for _, obj := range objects {
		row, err := toMilvusRow(obj)
		if err != nil {
			failed = append(failed, FailedObject{Object: obj, Message: err.Error()})
			continue
		}
		valid = append(valid, obj)
		rows = append(rows, row)
	}
	if len(valid) == 0 {
		return failed, nil
	}

	vectors, err := m.embed.embed(ctx, valid)
	if err != nil {
		return nil, apperrors.NewBatchError("vectorization failed", err).WithContext("objects", len(objects))
	}

	ids := make([]string, len(rows))
	indices := make([]int64, len(rows))
	names := make([]string, len(rows))
	splits := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.id
		indices[i] = r.index
		names[i] = r.datasetName
		splits[i] = r.split
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(milvusIDField, ids),
		entity.NewColumnInt64(PropIndex, indices),
		entity.NewColumnVarChar(PropDatasetName, names),
		entity.NewColumnVarChar(PropSplit, splits),
	}
	for _, v := range m.embed.vectors {
		vecs := vectors[v.Name]
		columns = append(columns, entity.NewColumnFloatVector(v.Name, len(vecs[0]), vecs))
	}

	if err := m.api.Upsert(ctx, collection, columns...); err != nil {
		return nil, apperrors.NewBatchError("upsert failed", err).WithContext("objects", len(objects))
	}
	return failed, nil
}

// Count returns the row count of flushed segments. It lags behind inserts
// until Flush is called.
func (m *MilvusStore) Count(ctx context.Context, collection string) (int64, error) {
	n, err := m.api.RowCount(ctx, collection)
	if err != nil {
		return 0, apperrors.NewNetworkError("failed to get collection statistics", err).WithContext("collection", collection)
	}
	return n, nil
}

// Flush seals the inserted segments and loads the collection for serving
func (m *MilvusStore) Flush(ctx context.Context, collection string) error {
	logger.Info("Flushing collection", "collection", collection)
	if err := m.api.Flush(ctx, collection); err != nil {
		logger.Warn("Flush failed; continuing to load collection anyway", "collection", collection, "error", err)
	}
	logger.Info("Loading collection for serving", "collection", collection)
	if err := m.api.LoadCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to load collection '%s': %w", collection, err)
	}
	return nil
}

var milvusOutputFields = []string{PropIndex, PropDatasetName, PropSplit}

func (m *MilvusStore) GetByID(ctx context.Context, collection string, id uuid.UUID) (*Object, error) {
	expr := fmt.Sprintf("%s == %q", milvusIDField, id.String())
	cols, err := m.api.Query(ctx, collection, expr, milvusOutputFields)
	if err != nil {
		return nil, apperrors.NewNetworkError("query failed", err).WithContext("id", id.String())
	}
	rows := columnRows(cols)
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &Object{ID: id, Properties: rows[0]}, nil
}

func (m *MilvusStore) SearchNearText(ctx context.Context, collection, targetVector, text string, limit int) ([]Hit, error) {
	return m.search(ctx, collection, targetVector, text, "", limit)
}

func (m *MilvusStore) SearchNearImage(ctx context.Context, collection, targetVector, base64Image string, limit int) ([]Hit, error) {
	return m.search(ctx, collection, targetVector, "", base64Image, limit)
}

func (m *MilvusStore) search(ctx context.Context, collection, targetVector, text, image string, limit int) ([]Hit, error) {
	vec, err := m.embed.query(ctx, targetVector, text, image)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if limit <= 0 {
		limit = milvusDefaultTopK
	}

	cols, scores, err := m.api.Search(ctx, collection, targetVector, vec, m.metric, limit,
		[]string{milvusIDField, PropIndex, PropDatasetName})
	if err != nil {
		return nil, apperrors.NewNetworkError("search failed", err).WithContext("collection", collection)
	}

	rows := columnRows(cols)
	hits := make([]Hit, 0, len(rows))
	for i, row := range rows {
		hit := Hit{}
		hit.ID, _ = row[milvusIDField].(string)
		hit.Index, _ = row[PropIndex].(int64)
		hit.DatasetName, _ = row[PropDatasetName].(string)
		if i < len(scores) {
			hit.Distance = m.distance(scores[i])
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// distance turns a Milvus score into a distance where smaller is closer
func (m *MilvusStore) distance(score float32) float64 {
	switch m.metric {
	case entity.COSINE, entity.IP:
		return 1 - float64(score)
	default:
		return float64(score)
	}
}

// columnRows transposes scalar result columns into property maps
func columnRows(cols []entity.Column) []map[string]any {
	n := 0
	for _, c := range cols {
		if c != nil && c.Len() > n {
			n = c.Len()
		}
	}
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = make(map[string]any, len(cols))
	}
	for _, c := range cols {
		switch col := c.(type) {
		case *entity.ColumnVarChar:
			for i := 0; i < col.Len(); i++ {
				if v, err := col.ValueByIdx(i); err == nil {
					rows[i][col.Name()] = v
				}
			}
		case *entity.ColumnInt64:
			for i := 0; i < col.Len(); i++ {
				if v, err := col.ValueByIdx(i); err == nil {
					rows[i][col.Name()] = v
				}
			}
		}
	}
	return rows
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	default:
		return 0, false
	}
}

func (m *MilvusStore) Close() error {
	return m.api.Close()
}

// milvusClient adapts client.Client to MilvusAPI
type milvusClient struct {
	c client.Client
}

// Ping lists collections, a lightweight call that fails while the cluster
// is still spinning up
func (m *milvusClient) Ping(ctx context.Context) error {
	_, err := m.c.ListCollections(ctx)
	return err
}

func (m *milvusClient) HasCollection(ctx context.Context, name string) (bool, error) {
	return m.c.HasCollection(ctx, name)
}

func (m *milvusClient) DropCollection(ctx context.Context, name string) error {
	return m.c.DropCollection(ctx, name)
}

func (m *milvusClient) CreateCollection(ctx context.Context, schema *entity.Schema) error {
	return m.c.CreateCollection(ctx, schema, milvusShardNum)
}

func (m *milvusClient) CreateIndex(ctx context.Context, collection, field string, idx entity.Index) error {
	return m.c.CreateIndex(ctx, collection, field, idx, false)
}

func (m *milvusClient) Upsert(ctx context.Context, collection string, columns ...entity.Column) error {
	_, err := m.c.Upsert(ctx, collection, "", columns...)
	return err
}

func (m *milvusClient) Flush(ctx context.Context, collection string) error {
	return m.c.Flush(ctx, collection, false)
}

func (m *milvusClient) LoadCollection(ctx context.Context, collection string) error {
	return m.c.LoadCollection(ctx, collection, false)
}

func (m *milvusClient) RowCount(ctx context.Context, collection string) (int64, error) {
	stats, err := m.c.GetCollectionStatistics(ctx, collection)
	if err != nil {
		return 0, err
	}
	rowCount, ok := stats["row_count"]
	if !ok {
		return 0, fmt.Errorf("collection statistics have no row_count")
	}
	return strconv.ParseInt(rowCount, 10, 64)
}

func (m *milvusClient) Query(ctx context.Context, collection, expr string, outputFields []string) ([]entity.Column, error) {
	rs, err := m.c.Query(ctx, collection, []string{}, expr, outputFields)
	if err != nil {
		return nil, err
	}
	cols := make([]entity.Column, 0, len(outputFields))
	for _, f := range outputFields {
		if col := rs.GetColumn(f); col != nil {
			cols = append(cols, col)
		}
	}
	return cols, nil
}

func (m *milvusClient) Search(ctx context.Context, collection, vectorField string, vector []float32, metric entity.MetricType, topK int, outputFields []string) ([]entity.Column, []float32, error) {
	results, err := m.c.Search(
		ctx,
		collection,
		[]string{},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		vectorField,
		metric,
		topK,
		&emptySearchParam{},
	)
	if err != nil {
		return nil, nil, err
	}
	if len(results) == 0 {
		return nil, nil, nil
	}

	cols := make([]entity.Column, 0, len(outputFields))
	for _, f := range outputFields {
		if col := results[0].Fields.GetColumn(f); col != nil {
			cols = append(cols, col)
		}
	}
	if idCol, ok := results[0].IDs.(*entity.ColumnVarChar); ok && !hasColumn(cols, milvusIDField) {
		cols = append(cols, idCol)
	}
	return cols, results[0].Scores, nil
}

func hasColumn(cols []entity.Column, name string) bool {
	for _, c := range cols {
		if c.Name() == name {
			return true
		}
	}
	return false
}

func (m *milvusClient) Close() error {
	return m.c.Close()
}

// emptySearchParam leaves the search parameters to the server defaults
type emptySearchParam struct{}

func (e *emptySearchParam) Params() map[string]interface{} {
	return make(map[string]interface{})
}

func (e *emptySearchParam) AddRadius(radius float64) {}

func (e *emptySearchParam) AddRangeFilter(rangeFilter float64) {}
