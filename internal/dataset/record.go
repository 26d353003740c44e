// Package dataset fetches the parquet shards of an image dataset and iterates
// its rows in order.
package dataset

import (
	"clip-arena/internal/vectordb"
)

// RawRecord is one dataset row as stored in the parquet shards
type RawRecord struct {
	Index       int64
	Base64Image string
	DatasetName string
	// Image is the decoded image column. The reader does not project it.
	Image []byte
}

// Record is the import form of a row: the image is dropped and the split
// the row came from is attached.
type Record struct {
	Index       int64
	Base64Image string
	DatasetName string
	Split       string
}

// Transform maps one raw row to its import record
func Transform(raw RawRecord, split string) Record {
	return Record{
		Index:       raw.Index,
		Base64Image: raw.Base64Image,
		DatasetName: raw.DatasetName,
		Split:       split,
	}
}

// Properties returns the property map sent to the vector database
func (r Record) Properties() map[string]any {
	return map[string]any{
		vectordb.PropIndex:       r.Index,
		vectordb.PropBase64Image: r.Base64Image,
		vectordb.PropDatasetName: r.DatasetName,
		vectordb.PropSplit:       r.Split,
	}
}

// Object returns the batch object for r, keyed by the ID derived from its index
func (r Record) Object() vectordb.Object {
	return vectordb.Object{
		ID:         vectordb.ObjectID(r.Index),
		Properties: r.Properties(),
	}
}
