package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"clip-arena/internal/config"
	apperrors "clip-arena/internal/errors"
)

var (
	weaviateClassPattern = regexp.MustCompile(`^[A-Z][_0-9A-Za-z]*$`)
	milvusNamePattern    = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	qdrantNamePattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	vectorNamePattern    = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// ValidateBackend validates the backend name
func ValidateBackend(backend string) error {
	switch backend {
	case "weaviate", "milvus", "qdrant":
		return nil
	}
	return fmt.Errorf("invalid backend: %q. Valid backends are: weaviate, milvus, qdrant", backend)
}

// ValidateCollectionName validates the collection name against the naming
// rules of the given backend
func ValidateCollectionName(backend, name string) error {
	if name == "" {
		return fmt.Errorf("collection name cannot be empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("collection name '%s' exceeds maximum length of 255 characters", name)
	}

	switch backend {
	case "weaviate":
		if !weaviateClassPattern.MatchString(name) {
			return fmt.Errorf("collection name '%s' is not a valid Weaviate class name. It must start with an uppercase letter and contain only letters, digits and underscores", name)
		}
	case "milvus":
		if !milvusNamePattern.MatchString(name) {
			return fmt.Errorf("collection name '%s' contains invalid characters. Use only letters, digits and underscores, not starting with a digit", name)
		}
	default:
		if !qdrantNamePattern.MatchString(name) {
			return fmt.Errorf("collection name '%s' contains invalid characters. Use only alphanumeric characters, underscores, and hyphens", name)
		}
	}
	return nil
}

// ValidateURL validates an http(s) URL
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if len(raw) > 2048 {
		return fmt.Errorf("URL exceeds maximum length of 2048 characters")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must start with http:// or https://, got: %s", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

// ValidateBatch validates the batch importer parameters
func ValidateBatch(b config.BatchConfig) error {
	if b.Size <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", b.Size)
	}
	if b.Size > 10000 {
		return fmt.Errorf("batch size %d exceeds maximum recommended value of 10000", b.Size)
	}
	if b.Concurrency < 1 {
		return fmt.Errorf("batch concurrency must be at least 1, got %d", b.Concurrency)
	}
	if b.Concurrency > 64 {
		return fmt.Errorf("batch concurrency %d exceeds maximum recommended value of 64", b.Concurrency)
	}
	if b.ProgressEvery <= 0 {
		return fmt.Errorf("progress interval must be positive, got %d", b.ProgressEvery)
	}
	return nil
}

// ValidateVectors validates the named vector pipelines
func ValidateVectors(vectors []config.VectorConfig) error {
	if len(vectors) == 0 {
		return fmt.Errorf("at least one named vector is required")
	}
	seen := make(map[string]bool, len(vectors))
	for _, v := range vectors {
		if !vectorNamePattern.MatchString(v.Name) {
			return fmt.Errorf("invalid vector name %q", v.Name)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate vector name %q", v.Name)
		}
		seen[v.Name] = true

		if err := ValidateURL(v.InferenceURL); err != nil {
			return fmt.Errorf("vector %s: inference url: %w", v.Name, err)
		}
		if v.IndexType != "" && !strings.EqualFold(v.IndexType, "flat") {
			return fmt.Errorf("vector %s: unsupported index type %q (only flat)", v.Name, v.IndexType)
		}
		switch v.QuantizerBits {
		case 0, 1, 8:
		default:
			return fmt.Errorf("vector %s: quantizer bits must be 1 or 8, got %d", v.Name, v.QuantizerBits)
		}
		if v.Dimensions < 0 || v.Dimensions > 32768 {
			return fmt.Errorf("vector %s: dimension %d out of range", v.Name, v.Dimensions)
		}
	}
	return nil
}

// ValidateDataset validates the dataset source selection
func ValidateDataset(d config.DatasetConfig) error {
	if d.Split == "" {
		return fmt.Errorf("dataset split cannot be empty")
	}
	switch d.Source {
	case "huggingface":
		if d.Name == "" {
			return fmt.Errorf("dataset name cannot be empty")
		}
		if err := ValidateURL(d.HFEndpoint); err != nil {
			return fmt.Errorf("hf endpoint: %w", err)
		}
	case "s3":
		if d.S3.Bucket == "" {
			return fmt.Errorf("s3 source requires a bucket")
		}
	case "local":
		if d.LocalPath == "" {
			return fmt.Errorf("local source requires a path")
		}
	default:
		return fmt.Errorf("invalid dataset source: %q. Valid sources are: huggingface, s3, local", d.Source)
	}
	if d.Source != "local" && d.CacheDir == "" {
		return fmt.Errorf("cache dir cannot be empty")
	}
	return nil
}

// ValidateMetricType validates a Milvus metric type
func ValidateMetricType(metricType string) error {
	upper := strings.ToUpper(strings.TrimSpace(metricType))
	validTypes := []string{"L2", "IP", "COSINE"}
	for _, validType := range validTypes {
		if upper == validType {
			return nil
		}
	}
	return fmt.Errorf("invalid metric type: %s. Valid types are: %s", metricType, strings.Join(validTypes, ", "))
}

// ValidateConfig checks the merged configuration and reports every problem found
func ValidateConfig(c *config.Config) error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(ValidateBackend(c.Backend))
	add(ValidateCollectionName(c.Backend, c.Collection.Name))
	add(ValidateVectors(c.Collection.Vectors))
	add(ValidateDataset(c.Dataset))
	add(ValidateBatch(c.Batch))
	if _, err := c.GetConnectTimeout(); err != nil {
		add(fmt.Errorf("invalid connect timeout: %w", err))
	}

	switch c.Backend {
	case "weaviate":
		if c.Weaviate.Host == "" {
			add(fmt.Errorf("weaviate host cannot be empty"))
		}
		if c.Weaviate.Scheme != "http" && c.Weaviate.Scheme != "https" {
			add(fmt.Errorf("weaviate scheme must be http or https, got %q", c.Weaviate.Scheme))
		}
	case "milvus":
		if c.Milvus.Address == "" {
			add(fmt.Errorf("milvus address cannot be empty"))
		}
		add(ValidateMetricType(c.Milvus.MetricType))
	case "qdrant":
		if c.Qdrant.Host == "" {
			add(fmt.Errorf("qdrant host cannot be empty"))
		}
		if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
			add(fmt.Errorf("qdrant port %d out of range", c.Qdrant.Port))
		}
	}

	switch c.Output.Format {
	case "", "json", "csv", "both":
	default:
		add(fmt.Errorf("invalid output format: %q. Valid formats are: json, csv, both", c.Output.Format))
	}

	if len(errs) == 0 {
		return nil
	}
	return apperrors.NewValidationError("invalid configuration", errors.Join(errs...))
}
