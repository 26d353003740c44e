package dataset

import (
	"context"
	"fmt"
	"os"

	"clip-arena/internal/logger"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

const (
	colIndex       = "index"
	colBase64Image = "base64_image"
	colDatasetName = "dataset_name"

	readBatchSize = 1000
)

// countRows returns the row count stored in the parquet footer
func countRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer f.Close()

	rdr, err := file.NewParquetReader(f)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet reader for %s: %w", path, err)
	}
	defer rdr.Close()

	return rdr.NumRows(), nil
}

// readShard streams the rows of one parquet file to fn. Only the index,
// base64_image and dataset_name columns are read.
func readShard(ctx context.Context, path string, fn func(RawRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer f.Close()

	rdr, err := file.NewParquetReader(f)
	if err != nil {
		return fmt.Errorf("failed to create parquet reader for %s: %w", path, err)
	}
	defer rdr.Close()

	schema := rdr.MetaData().Schema
	columns := make([]int, 0, 3)
	for _, name := range []string{colIndex, colBase64Image, colDatasetName} {
		idx := schema.ColumnIndexByName(name)
		if idx < 0 {
			return fmt.Errorf("parquet file %s has no %q column", path, name)
		}
		columns = append(columns, idx)
	}

	arrowReader, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{
		Parallel:  false,
		BatchSize: readBatchSize,
	}, memory.DefaultAllocator)
	if err != nil {
		return fmt.Errorf("failed to create arrow reader: %w", err)
	}

	rr, err := arrowReader.GetRecordReader(ctx, columns, nil)
	if err != nil {
		return fmt.Errorf("failed to create record reader: %w", err)
	}
	defer rr.Release()

	logger.Debug("Reading parquet shard",
		"path", path,
		"num_rows", rdr.NumRows(),
		"num_row_groups", rdr.NumRowGroups())

	for rr.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emitRecords(rr.RecordBatch(), fn); err != nil {
			return err
		}
	}
	if err := rr.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

func emitRecords(record arrow.RecordBatch, fn func(RawRecord) error) error {
	schema := record.Schema()
	indexIdx := findFieldIndex(schema, colIndex)
	imageIdx := findFieldIndex(schema, colBase64Image)
	nameIdx := findFieldIndex(schema, colDatasetName)
	if indexIdx < 0 || imageIdx < 0 || nameIdx < 0 {
		return fmt.Errorf("missing required columns (index:%d, base64_image:%d, dataset_name:%d)",
			indexIdx, imageIdx, nameIdx)
	}

	indices, err := getInt64Column(record, indexIdx)
	if err != nil {
		return err
	}
	images, err := getStringColumn(record, imageIdx)
	if err != nil {
		return err
	}
	names, err := getStringColumn(record, nameIdx)
	if err != nil {
		return err
	}

	for i := range indices {
		err := fn(RawRecord{
			Index:       indices[i],
			Base64Image: images[i],
			DatasetName: names[i],
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func findFieldIndex(schema *arrow.Schema, name string) int {
	for i, field := range schema.Fields() {
		if field.Name == name {
			return i
		}
	}
	return -1
}

// getStringColumn handles String, LargeString and Binary columns. Nulls become "".
func getStringColumn(record arrow.RecordBatch, colIdx int) ([]string, error) {
	col := record.Column(colIdx)
	numRows := int(record.NumRows())
	result := make([]string, numRows)

	switch c := col.(type) {
	case *array.String:
		for i := 0; i < numRows; i++ {
			result[i] = c.Value(i)
		}
	case *array.LargeString:
		for i := 0; i < numRows; i++ {
			result[i] = c.Value(i)
		}
	case *array.Binary:
		for i := 0; i < numRows; i++ {
			result[i] = string(c.Value(i))
		}
	case *array.LargeBinary:
		for i := 0; i < numRows; i++ {
			result[i] = string(c.Value(i))
		}
	default:
		return nil, fmt.Errorf("unsupported string column type for %s: %s",
			record.ColumnName(colIdx), col.DataType())
	}
	return result, nil
}

// getInt64Column reads an integer index column. A null index has no
// object id, so it is an error.
func getInt64Column(record arrow.RecordBatch, colIdx int) ([]int64, error) {
	col := record.Column(colIdx)
	numRows := int(record.NumRows())
	if n := col.NullN(); n > 0 {
		for i := 0; i < numRows; i++ {
			if col.IsNull(i) {
				return nil, fmt.Errorf("%s column has %d null values (first at row %d)", record.ColumnName(colIdx), n, i)
			}
		}
	}
	result := make([]int64, numRows)

	switch c := col.(type) {
	case *array.Int64:
		copy(result, c.Int64Values())
	case *array.Int32:
		for i := 0; i < numRows; i++ {
			result[i] = int64(c.Value(i))
		}
	case *array.Uint32:
		for i := 0; i < numRows; i++ {
			result[i] = int64(c.Value(i))
		}
	case *array.Float64:
		for i := 0; i < numRows; i++ {
			result[i] = int64(c.Value(i))
		}
	default:
		return nil, fmt.Errorf("unsupported index column type: %s", col.DataType())
	}
	return result, nil
}
