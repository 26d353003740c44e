package vectordb

import (
	"clip-arena/internal/config"
)

// DataType is a backend-neutral property type
type DataType string

const (
	DataTypeText   DataType = "text"
	DataTypeBlob   DataType = "blob"
	DataTypeNumber DataType = "number"
)

const (
	PropIndex       = "index"
	PropBase64Image = "base64_image"
	PropDatasetName = "dataset_name"
	PropSplit       = "split"
)

type Property struct {
	Name     string
	DataType DataType
}

// VectorConfig describes one named vector: what it embeds, where the
// embedding model runs, and how the database should index it
type VectorConfig struct {
	Name             string
	SourceProperties []string
	InferenceURL     string
	IndexType        string
	QuantizerBits    int
	Dimensions       int
}

// Schema is the collection definition handed to Store.CreateCollection
type Schema struct {
	Name       string
	Properties []Property
	Vectors    []VectorConfig
}

// DefaultSchema returns the arena collection: three scalar properties and
// the given named vectors, all embedding the base64 image
func DefaultSchema(name string, vectors []VectorConfig) Schema {
	return Schema{
		Name: name,
		Properties: []Property{
			{Name: PropDatasetName, DataType: DataTypeText},
			{Name: PropBase64Image, DataType: DataTypeBlob},
			{Name: PropIndex, DataType: DataTypeNumber},
		},
		Vectors: vectors,
	}
}

// SchemaFromConfig builds the collection schema from the collection config
func SchemaFromConfig(c config.CollectionConfig) Schema {
	vectors := make([]VectorConfig, 0, len(c.Vectors))
	for _, v := range c.Vectors {
		indexType := v.IndexType
		if indexType == "" {
			indexType = "flat"
		}
		vectors = append(vectors, VectorConfig{
			Name:             v.Name,
			SourceProperties: []string{PropBase64Image},
			InferenceURL:     v.InferenceURL,
			IndexType:        indexType,
			QuantizerBits:    v.QuantizerBits,
			Dimensions:       v.Dimensions,
		})
	}
	return DefaultSchema(c.Name, vectors)
}

// Property looks up a declared property by name
func (s Schema) Property(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// VectorNames returns the names of the named vectors in declaration order
func (s Schema) VectorNames() []string {
	names := make([]string, len(s.Vectors))
	for i, v := range s.Vectors {
		names[i] = v.Name
	}
	return names
}
