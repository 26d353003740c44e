package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"clip-arena/internal/config"
	apperrors "clip-arena/internal/errors"
	"clip-arena/internal/vectordb"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// writeShard writes n rows starting at index start, including an image
// column the reader is expected to skip.
func writeShard(t *testing.T, path string, start int64, n int, withName bool) {
	t.Helper()

	fields := []arrow.Field{
		{Name: "image", Type: arrow.BinaryTypes.Binary},
		{Name: "index", Type: arrow.PrimitiveTypes.Int64},
		{Name: "base64_image", Type: arrow.BinaryTypes.String},
	}
	if withName {
		fields = append(fields, arrow.Field{Name: "dataset_name", Type: arrow.BinaryTypes.String})
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	for i := 0; i < n; i++ {
		idx := start + int64(i)
		b.Field(0).(*array.BinaryBuilder).Append([]byte{0xff, 0xd8, 0xff})
		b.Field(1).(*array.Int64Builder).Append(idx)
		b.Field(2).(*array.StringBuilder).Append(fmt.Sprintf("img-%d", idx))
		if withName {
			b.Field(3).(*array.StringBuilder).Append("photos")
		}
	}
	rec := b.NewRecordBatch()
	defer rec.Release()

	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(schema, &buf, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	if err := w.Write(rec); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func shardBytes(t *testing.T, start int64, n int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shard.parquet")
	writeShard(t, path, start, n, true)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func collect(t *testing.T, ds *Dataset) []RawRecord {
	t.Helper()
	var out []RawRecord
	if err := ds.Each(context.Background(), func(r RawRecord) error {
		out = append(out, r)
		return nil
	}); err != nil {
		t.Fatalf("Each() error = %v", err)
	}
	return out
}

func TestTransform(t *testing.T) {
	tests := []struct {
		name  string
		raw   RawRecord
		split string
	}{
		{name: "drops image", raw: RawRecord{Index: 10, Base64Image: "aGk=", DatasetName: "photos", Image: []byte{1, 2}}, split: "sfw"},
		{name: "empty fields kept", raw: RawRecord{Index: 0}, split: "sfw"},
		{name: "other split", raw: RawRecord{Index: 7, DatasetName: "art"}, split: "nsfw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Transform(tt.raw, tt.split)
			if rec.Index != tt.raw.Index || rec.Base64Image != tt.raw.Base64Image || rec.DatasetName != tt.raw.DatasetName {
				t.Errorf("Transform() = %+v, fields not copied from %+v", rec, tt.raw)
			}
			if rec.Split != tt.split {
				t.Errorf("Split = %q, want %q", rec.Split, tt.split)
			}

			props := rec.Properties()
			if len(props) != 4 {
				t.Errorf("got %d properties, want 4: %v", len(props), props)
			}
			if _, ok := props["image"]; ok {
				t.Error("properties should not contain the image")
			}
			if props[vectordb.PropIndex] != tt.raw.Index || props[vectordb.PropSplit] != tt.split {
				t.Errorf("properties = %v", props)
			}
		})
	}
}

func TestRecordObject(t *testing.T) {
	obj := Transform(RawRecord{Index: 20}, "sfw").Object()
	if obj.ID != vectordb.ObjectID(20) {
		t.Errorf("ID = %s, want %s", obj.ID, vectordb.ObjectID(20))
	}
	if obj.ID.String() != "66e549b7-01e2-5d07-98d5-430f74d8d3b2" {
		t.Errorf("ID = %s", obj.ID)
	}
}

func TestDatasetEach(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "0000.parquet")
	second := filepath.Join(dir, "0001.parquet")
	writeShard(t, first, 0, 3, true)
	writeShard(t, second, 3, 4, true)

	ds, err := Open(first, second)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if ds.Len() != 7 {
		t.Errorf("Len() = %d, want 7", ds.Len())
	}

	for pass := 0; pass < 2; pass++ {
		records := collect(t, ds)
		if len(records) != 7 {
			t.Fatalf("pass %d: got %d records, want 7", pass, len(records))
		}
		for i, r := range records {
			if r.Index != int64(i) {
				t.Fatalf("pass %d: record %d has index %d", pass, i, r.Index)
			}
			if r.Base64Image != fmt.Sprintf("img-%d", i) || r.DatasetName != "photos" {
				t.Errorf("record %d = %+v", i, r)
			}
			if r.Image != nil {
				t.Error("image column should not be read")
			}
		}
	}
}

func TestDatasetEachStopsOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000.parquet")
	writeShard(t, path, 0, 5, true)
	ds, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	stop := errors.New("stop")
	seen := 0
	err = ds.Each(context.Background(), func(r RawRecord) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || seen != 2 {
		t.Errorf("Each() = %v after %d records", err, seen)
	}
}

func TestDatasetMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000.parquet")
	writeShard(t, path, 0, 2, false)
	ds, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	err = ds.Each(context.Background(), func(RawRecord) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "dataset_name") {
		t.Errorf("Each() error = %v, want missing dataset_name", err)
	}
}

func TestEmitRecordsRejectsBadColumns(t *testing.T) {
	tests := []struct {
		name     string
		nameType arrow.DataType
		nullAt   int
		want     string
	}{
		{"valid", arrow.BinaryTypes.String, -1, ""},
		{"null index", arrow.BinaryTypes.String, 1, "null values"},
		{"numeric dataset name", arrow.PrimitiveTypes.Int64, -1, "unsupported string column type for dataset_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema := arrow.NewSchema([]arrow.Field{
				{Name: "index", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
				{Name: "base64_image", Type: arrow.BinaryTypes.String},
				{Name: "dataset_name", Type: tt.nameType},
			}, nil)
			b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
			defer b.Release()
			for i := 0; i < 3; i++ {
				if i == tt.nullAt {
					b.Field(0).(*array.Int64Builder).AppendNull()
				} else {
					b.Field(0).(*array.Int64Builder).Append(int64(i))
				}
				b.Field(1).(*array.StringBuilder).Append("aGVsbG8=")
				switch nb := b.Field(2).(type) {
				case *array.StringBuilder:
					nb.Append("photos")
				case *array.Int64Builder:
					nb.Append(7)
				}
			}
			rec := b.NewRecordBatch()
			defer rec.Release()

			var got []RawRecord
			err := emitRecords(rec, func(r RawRecord) error {
				got = append(got, r)
				return nil
			})
			if tt.want == "" {
				if err != nil || len(got) != 3 || got[2].Index != 2 || got[2].DatasetName != "photos" {
					t.Errorf("emitRecords() = %+v, %v", got, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("emitRecords() error = %v, want %q", err, tt.want)
			}
			if len(got) != 0 {
				t.Errorf("emitted %d records before failing", len(got))
			}
		})
	}
}

func TestOpenNoFiles(t *testing.T) {
	if _, err := Open(); err == nil {
		t.Error("expected error for an empty dataset")
	}
}

func TestPickConfig(t *testing.T) {
	tests := []struct {
		name    string
		index   parquetIndex
		want    string
		got     string
		wantErr bool
	}{
		{name: "configured", index: parquetIndex{"default": nil, "extra": nil}, want: "extra", got: "extra"},
		{name: "empty means default", index: parquetIndex{"default": nil, "extra": nil}, got: "default"},
		{name: "only config", index: parquetIndex{"photos": nil}, want: "default", got: "photos"},
		{name: "ambiguous", index: parquetIndex{"a": nil, "b": nil}, want: "c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickConfig(tt.index, tt.want)
			if (err != nil) != tt.wantErr {
				t.Fatalf("pickConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.got {
				t.Errorf("pickConfig() = %q, want %q", got, tt.got)
			}
		})
	}
}

func TestLoaderHuggingFace(t *testing.T) {
	shards := [][]byte{shardBytes(t, 0, 2), shardBytes(t, 2, 3)}
	var downloads int32
	var auth atomic.Value

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/api/datasets/SamoXXX/MV-VDB-photos-small/parquet", func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{"default":{"sfw":["%[1]s/shards/0.parquet","%[1]s/shards/1.parquet"],"nsfw":[]}}`, srv.URL)
	})
	mux.HandleFunc("/shards/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&downloads, 1)
		i := 0
		if strings.HasSuffix(r.URL.Path, "1.parquet") {
			i = 1
		}
		w.Write(shards[i])
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.Default().Dataset
	cfg.HFEndpoint = srv.URL
	cfg.HFToken = "hf_test"
	cfg.CacheDir = t.TempDir()

	ds, err := NewLoader(cfg, WithHTTPClient(srv.Client())).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ds.Len() != 5 || ds.Split != "sfw" {
		t.Errorf("dataset = %d rows, split %q", ds.Len(), ds.Split)
	}
	if got := auth.Load(); got != "Bearer hf_test" {
		t.Errorf("Authorization = %v", got)
	}

	wantFirst := filepath.Join(cfg.CacheDir, "SamoXXX___MV-VDB-photos-small", "default", "sfw", "0000.parquet")
	if files := ds.Files(); len(files) != 2 || files[0] != wantFirst {
		t.Errorf("files = %v, want first %s", files, wantFirst)
	}
	if records := collect(t, ds); records[4].Index != 4 {
		t.Errorf("last record = %+v", records[4])
	}

	// cached shards are not downloaded again
	if _, err := NewLoader(cfg, WithHTTPClient(srv.Client())).Load(context.Background()); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if n := atomic.LoadInt32(&downloads); n != 2 {
		t.Errorf("shards downloaded %d times, want 2", n)
	}
}

func TestLoaderHuggingFaceErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		split   string
		wantMsg string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, split: "sfw", wantMsg: "HF_TOKEN"},
		{name: "missing split", status: http.StatusOK, body: `{"default":{"train":["x"]}}`, split: "sfw", wantMsg: `split "sfw"`},
		{name: "bad json", status: http.StatusOK, body: `not json`, split: "sfw", wantMsg: "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			cfg := config.Default().Dataset
			cfg.HFEndpoint = srv.URL
			cfg.Split = tt.split
			cfg.CacheDir = t.TempDir()

			_, err := NewLoader(cfg).Load(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("Load() error = %v, want %q", err, tt.wantMsg)
			}
			if apperrors.TypeOf(err) != apperrors.ErrorTypeDataset {
				t.Errorf("error type = %v, want dataset", apperrors.TypeOf(err))
			}
		})
	}
}

func TestLoaderLocal(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, filepath.Join(dir, "b.parquet"), 4, 1, true)
	writeShard(t, filepath.Join(dir, "a.parquet"), 0, 4, true)
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0644)

	cfg := config.Default().Dataset
	cfg.Source = SourceLocal
	cfg.LocalPath = dir

	ds, err := NewLoader(cfg).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	records := collect(t, ds)
	if len(records) != 5 || records[0].Index != 0 || records[4].Index != 4 {
		t.Errorf("records = %+v", records)
	}

	cfg.LocalPath = filepath.Join(dir, "b.parquet")
	ds, err = NewLoader(cfg).Load(context.Background())
	if err != nil || ds.Len() != 1 {
		t.Errorf("single file Load() = %v, %v", ds, err)
	}
}

func TestLoaderUnknownSource(t *testing.T) {
	cfg := config.Default().Dataset
	cfg.Source = "ftp"
	_, err := NewLoader(cfg).Load(context.Background())
	if apperrors.TypeOf(err) != apperrors.ErrorTypeConfig {
		t.Errorf("error = %v, want config error", err)
	}
}

type fakeS3 struct {
	objects map[string][]byte
	gets    int32
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key, data := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(data)))})
		}
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	atomic.AddInt32(&f.gets, 1)
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func TestLoaderS3(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{
		"photos/sfw/0001.parquet": shardBytes(t, 3, 2),
		"photos/sfw/0000.parquet": shardBytes(t, 0, 3),
		"photos/sfw/_SUCCESS":     []byte{},
		"other/0000.parquet":      shardBytes(t, 100, 1),
	}}

	cfg := config.Default().Dataset
	cfg.Source = SourceS3
	cfg.CacheDir = t.TempDir()
	cfg.S3.Bucket = "datasets"
	cfg.S3.Prefix = "photos/sfw/"

	ds, err := NewLoader(cfg, WithS3Client(fake)).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	records := collect(t, ds)
	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}
	for i, r := range records {
		if r.Index != int64(i) {
			t.Fatalf("records out of key order: %+v", records)
		}
	}

	if _, err := NewLoader(cfg, WithS3Client(fake)).Load(context.Background()); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if n := atomic.LoadInt32(&fake.gets); n != 2 {
		t.Errorf("GetObject called %d times, want 2", n)
	}
}
