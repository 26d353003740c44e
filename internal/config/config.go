package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "./configs/config.yaml"

// Config holds the configuration for an import run
type Config struct {
	Backend    string           `yaml:"backend"`
	Dataset    DatasetConfig    `yaml:"dataset"`
	Collection CollectionConfig `yaml:"collection"`
	Weaviate   WeaviateConfig   `yaml:"weaviate"`
	Milvus     MilvusConfig     `yaml:"milvus"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Batch      BatchConfig      `yaml:"batch"`
	Output     OutputConfig     `yaml:"output"`

	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	ConnectTimeout string `yaml:"connect_timeout"`
}

// DatasetConfig selects the dataset and where its parquet shards come from
type DatasetConfig struct {
	Name       string   `yaml:"name"`
	Split      string   `yaml:"split"`
	Config     string   `yaml:"config"`
	Source     string   `yaml:"source"` // huggingface, s3 or local
	CacheDir   string   `yaml:"cache_dir"`
	HFEndpoint string   `yaml:"hf_endpoint"`
	HFToken    string   `yaml:"-"`
	LocalPath  string   `yaml:"local_path"`
	S3         S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// CollectionConfig describes the target collection and its named vectors
type CollectionConfig struct {
	Name    string         `yaml:"name"`
	Keep    bool           `yaml:"keep"`
	Vectors []VectorConfig `yaml:"vectors"`
}

// VectorConfig is one named vector pipeline. Dimensions of 0 means the
// dimension is probed from the inference endpoint when a backend needs it.
type VectorConfig struct {
	Name          string `yaml:"name"`
	InferenceURL  string `yaml:"inference_url"`
	IndexType     string `yaml:"index_type"`
	QuantizerBits int    `yaml:"quantizer_bits"`
	Dimensions    int    `yaml:"dimensions"`
}

type WeaviateConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
	APIKey string `yaml:"api_key"`
}

type MilvusConfig struct {
	Address    string `yaml:"address"`
	APIKey     string `yaml:"api_key"`
	MetricType string `yaml:"metric_type"`
}

type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// BatchConfig controls the batch importer
type BatchConfig struct {
	Size          int `yaml:"size"`
	Concurrency   int `yaml:"concurrency"`
	ProgressEvery int `yaml:"progress_every"`
}

// OutputConfig controls the optional result exports
type OutputConfig struct {
	Format        string `yaml:"format"` // json, csv or both; empty disables
	Directory     string `yaml:"directory"`
	Path          string `yaml:"path"` // results file without extension
	FailedObjects string `yaml:"failed_objects"`
	Metrics       string `yaml:"metrics"`
}

// DefaultVectors are the four CLIP-family pipelines of the arena
func DefaultVectors() []VectorConfig {
	names := []string{"metaclip2", "modernvbert", "vitb32laion5b", "siglip2"}
	vectors := make([]VectorConfig, len(names))
	for i, name := range names {
		vectors[i] = VectorConfig{
			Name:          name,
			InferenceURL:  fmt.Sprintf("http://192.168.0.67:%d", 8100+i),
			IndexType:     "flat",
			QuantizerBits: 1,
		}
	}
	return vectors
}

// Default returns the configuration used when no file, flag or env var is set
func Default() *Config {
	return &Config{
		Backend: "weaviate",
		Dataset: DatasetConfig{
			Name:       "SamoXXX/MV-VDB-photos-small",
			Split:      "sfw",
			Config:     "default",
			Source:     "huggingface",
			CacheDir:   "../.data/datasets",
			HFEndpoint: "https://huggingface.co",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Collection: CollectionConfig{
			Name:    "ClipArena",
			Vectors: DefaultVectors(),
		},
		Weaviate: WeaviateConfig{
			Host:   "localhost:8080",
			Scheme: "http",
		},
		Milvus: MilvusConfig{
			Address:    "localhost:19530",
			MetricType: "COSINE",
		},
		Qdrant: QdrantConfig{
			Host: "localhost",
			Port: 6334,
		},
		Batch: BatchConfig{
			Size:          5,
			Concurrency:   1,
			ProgressEvery: 1000,
		},
		LogLevel:       "INFO",
		LogFormat:      "text",
		ConnectTimeout: "30s",
	}
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored; existing variables are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from file and environment on top of the defaults
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			configPath = defaultConfigPath
		}
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(c *Config) error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.Backend, "CLIP_ARENA_BACKEND")
	setString(&c.Weaviate.Host, "WEAVIATE_HOST")
	setString(&c.Weaviate.Scheme, "WEAVIATE_SCHEME")
	setString(&c.Weaviate.APIKey, "WEAVIATE_API_KEY")
	setString(&c.Milvus.Address, "MILVUS_ADDRESS")
	setString(&c.Milvus.APIKey, "MILVUS_API_KEY")
	setString(&c.Qdrant.Host, "QDRANT_HOST")
	setString(&c.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&c.Dataset.HFToken, "HF_TOKEN")
	setString(&c.Dataset.S3.AccessKey, "AWS_ACCESS_KEY_ID")
	setString(&c.Dataset.S3.SecretKey, "AWS_SECRET_ACCESS_KEY")
	setString(&c.Dataset.S3.Region, "AWS_REGION")
	setString(&c.Dataset.S3.Endpoint, "AWS_ENDPOINT_URL")

	if v := os.Getenv("QDRANT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QDRANT_PORT %q: %w", v, err)
		}
		c.Qdrant.Port = port
	}
	return nil
}

// GetConnectTimeout parses the connect timeout, defaulting to 30s
func (c *Config) GetConnectTimeout() (time.Duration, error) {
	if c.ConnectTimeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(c.ConnectTimeout)
}

// SaveConfig writes the configuration to a YAML file. Secrets are not written.
func SaveConfig(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// GetConfigValue returns a config value with fallback to default
func GetConfigValue(value string, defaultValue string) string {
	if value != "" {
		return value
	}
	return defaultValue
}
