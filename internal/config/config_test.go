package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()

	if c.Backend != "weaviate" {
		t.Errorf("Backend = %q, want weaviate", c.Backend)
	}
	if c.Dataset.Name != "SamoXXX/MV-VDB-photos-small" || c.Dataset.Split != "sfw" {
		t.Errorf("Dataset = %+v", c.Dataset)
	}
	if c.Dataset.CacheDir != "../.data/datasets" {
		t.Errorf("CacheDir = %q", c.Dataset.CacheDir)
	}
	if c.Collection.Name != "ClipArena" || c.Collection.Keep {
		t.Errorf("Collection = %+v", c.Collection)
	}
	if c.Batch.Size != 5 || c.Batch.Concurrency != 1 || c.Batch.ProgressEvery != 1000 {
		t.Errorf("Batch = %+v", c.Batch)
	}

	wantVectors := []struct {
		name string
		url  string
	}{
		{"metaclip2", "http://192.168.0.67:8100"},
		{"modernvbert", "http://192.168.0.67:8101"},
		{"vitb32laion5b", "http://192.168.0.67:8102"},
		{"siglip2", "http://192.168.0.67:8103"},
	}
	if len(c.Collection.Vectors) != len(wantVectors) {
		t.Fatalf("got %d vectors, want %d", len(c.Collection.Vectors), len(wantVectors))
	}
	for i, want := range wantVectors {
		got := c.Collection.Vectors[i]
		if got.Name != want.name || got.InferenceURL != want.url {
			t.Errorf("vector %d = %+v, want %s at %s", i, got, want.name, want.url)
		}
		if got.IndexType != "flat" || got.QuantizerBits != 1 {
			t.Errorf("vector %s index = %s/%d, want flat/1", got.Name, got.IndexType, got.QuantizerBits)
		}
	}
}

func TestGetConnectTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout string
		want    time.Duration
		wantErr bool
	}{
		{"empty uses default", "", 30 * time.Second, false},
		{"seconds", "10s", 10 * time.Second, false},
		{"minutes", "2m", 2 * time.Minute, false},
		{"invalid", "soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{ConnectTimeout: tt.timeout}
			got, err := c.GetConnectTimeout()
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetConnectTimeout() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("GetConnectTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetConfigValue(t *testing.T) {
	if got := GetConfigValue("x", "d"); got != "x" {
		t.Errorf("GetConfigValue() = %v, want x", got)
	}
	if got := GetConfigValue("", "d"); got != "d" {
		t.Errorf("GetConfigValue() = %v, want d", got)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
backend: qdrant
dataset:
  split: nsfw
collection:
  name: Arena2
  keep: true
  vectors:
    - name: only
      inference_url: http://localhost:9000
      index_type: flat
      quantizer_bits: 1
      dimensions: 512
batch:
  size: 50
qdrant:
  port: 7000
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if c.Backend != "qdrant" {
		t.Errorf("Backend = %q", c.Backend)
	}
	if c.Dataset.Split != "nsfw" {
		t.Errorf("Split = %q", c.Dataset.Split)
	}
	// Untouched fields keep their defaults.
	if c.Dataset.Name != "SamoXXX/MV-VDB-photos-small" {
		t.Errorf("Name = %q", c.Dataset.Name)
	}
	if c.Batch.Size != 50 || c.Batch.Concurrency != 1 {
		t.Errorf("Batch = %+v", c.Batch)
	}
	if !c.Collection.Keep || c.Collection.Name != "Arena2" {
		t.Errorf("Collection = %+v", c.Collection)
	}
	if len(c.Collection.Vectors) != 1 || c.Collection.Vectors[0].Dimensions != 512 {
		t.Errorf("Vectors = %+v", c.Collection.Vectors)
	}
	if c.Qdrant.Port != 7000 || c.Qdrant.Host != "localhost" {
		t.Errorf("Qdrant = %+v", c.Qdrant)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadConfig() with missing explicit path should fail")
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	t.Setenv("CLIP_ARENA_BACKEND", "milvus")
	t.Setenv("WEAVIATE_HOST", "weaviate:8080")
	t.Setenv("MILVUS_ADDRESS", "milvus:19530")
	t.Setenv("HF_TOKEN", "hf_secret")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("QDRANT_PORT", "6500")

	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if c.Backend != "milvus" {
		t.Errorf("Backend = %q", c.Backend)
	}
	if c.Weaviate.Host != "weaviate:8080" {
		t.Errorf("Weaviate.Host = %q", c.Weaviate.Host)
	}
	if c.Milvus.Address != "milvus:19530" {
		t.Errorf("Milvus.Address = %q", c.Milvus.Address)
	}
	if c.Dataset.HFToken != "hf_secret" {
		t.Errorf("HFToken = %q", c.Dataset.HFToken)
	}
	if c.Dataset.S3.AccessKey != "AKIA" {
		t.Errorf("S3.AccessKey = %q", c.Dataset.S3.AccessKey)
	}
	if c.Qdrant.Port != 6500 {
		t.Errorf("Qdrant.Port = %d", c.Qdrant.Port)
	}
}

func TestLoadConfigInvalidPortEnv(t *testing.T) {
	t.Setenv("QDRANT_PORT", "abc")
	if _, err := LoadConfig(""); err == nil {
		t.Error("expected error for invalid QDRANT_PORT")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CLIP_ARENA_TEST_DOTENV=loaded\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CLIP_ARENA_TEST_DOTENV") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("CLIP_ARENA_TEST_DOTENV"); got != "loaded" {
		t.Errorf("CLIP_ARENA_TEST_DOTENV = %q, want loaded", got)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	c := Default()
	c.Dataset.HFToken = "secret"
	if err := SaveConfig(c, path); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty config file")
	}
	if strings.Contains(string(data), "secret") {
		t.Error("saved config leaks the HF token")
	}
}

