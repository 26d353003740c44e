package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"clip-arena/internal/importer"
	"clip-arena/internal/logger"
	"clip-arena/internal/vectordb"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// RunInfo identifies the import run an outcome belongs to
type RunInfo struct {
	Backend     string `json:"backend"`
	Collection  string `json:"collection"`
	Dataset     string `json:"dataset"`
	Split       string `json:"split"`
	BatchSize   int    `json:"batch_size"`
	Concurrency int    `json:"concurrency"`
}

// Summary is the exported form of an import outcome
type Summary struct {
	Expected       int64   `json:"expected"`
	Submitted      int64   `json:"submitted"`
	Failed         int     `json:"failed"`
	TotalCount     int64   `json:"total_count"`
	ElapsedMinutes float64 `json:"elapsed_minutes"`
	ObjectsPerSec  float64 `json:"objects_per_second"`
	SuccessRate    float64 `json:"success_rate"`
}

// Summarize computes the exported figures of an outcome
func Summarize(o *importer.Outcome) Summary {
	s := Summary{
		Expected:       o.Expected,
		Submitted:      o.Submitted,
		Failed:         o.Failed,
		TotalCount:     o.TotalCount,
		ElapsedMinutes: o.Elapsed.Minutes(),
	}
	if secs := o.Elapsed.Seconds(); secs > 0 {
		s.ObjectsPerSec = float64(o.Submitted) / secs
	}
	if o.Submitted > 0 {
		s.SuccessRate = float64(o.Submitted-int64(o.Failed)) / float64(o.Submitted) * 100.0
	}
	return s
}

// ExportOutcome writes the outcome as JSON and/or CSV and returns the files written
func ExportOutcome(o *importer.Outcome, info RunInfo, format string, outputPath string) ([]string, error) {
	var written []string
	if format == "json" || format == "both" {
		path, err := exportJSON(o, info, outputPath)
		if err != nil {
			return written, fmt.Errorf("failed to export JSON: %w", err)
		}
		written = append(written, path)
	}

	if format == "csv" || format == "both" {
		path, err := exportCSV(o, info, outputPath)
		if err != nil {
			return written, fmt.Errorf("failed to export CSV: %w", err)
		}
		written = append(written, path)
	}

	return written, nil
}

// DefaultResultsName is the file name, without extension, used when no output path is given
func DefaultResultsName(t time.Time) string {
	return "import_results_" + t.Format("20060102_150405")
}

func outputFile(outputPath, ext string) string {
	if outputPath == "" {
		return DefaultResultsName(time.Now()) + ext
	}
	if filepath.Ext(outputPath) != ext {
		return outputPath + ext
	}
	return outputPath
}

func exportJSON(o *importer.Outcome, info RunInfo, outputPath string) (string, error) {
	exportData := struct {
		Timestamp string  `json:"timestamp"`
		Run       RunInfo `json:"run"`
		Summary   Summary `json:"summary"`
	}{
		Timestamp: time.Now().Format(time.RFC3339),
		Run:       info,
		Summary:   Summarize(o),
	}

	jsonPath := outputFile(outputPath, ".json")
	data, err := json.MarshalIndent(exportData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write JSON file: %w", err)
	}

	logger.Info("Results exported to JSON", "path", jsonPath)
	return jsonPath, nil
}

func exportCSV(o *importer.Outcome, info RunInfo, outputPath string) (string, error) {
	csvPath := outputFile(outputPath, ".csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := []string{
		"Backend", "Collection", "Dataset", "Split", "Batch Size", "Concurrency",
		"Expected", "Submitted", "Failed", "Total Count",
		"Elapsed (min)", "Objects/s", "Success Rate (%)",
	}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}

	s := Summarize(o)
	row := []string{
		info.Backend, info.Collection, info.Dataset, info.Split,
		strconv.Itoa(info.BatchSize),
		strconv.Itoa(info.Concurrency),
		strconv.FormatInt(s.Expected, 10),
		strconv.FormatInt(s.Submitted, 10),
		strconv.Itoa(s.Failed),
		strconv.FormatInt(s.TotalCount, 10),
		fmt.Sprintf("%.3f", s.ElapsedMinutes),
		fmt.Sprintf("%.2f", s.ObjectsPerSec),
		fmt.Sprintf("%.2f", s.SuccessRate),
	}
	if err := w.Write(row); err != nil {
		return "", fmt.Errorf("failed to write CSV row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to write CSV file: %w", err)
	}

	logger.Info("Results exported to CSV", "path", csvPath)
	return csvPath, nil
}

// FailedObjectRecord is one row of the failed-objects parquet file. The
// image payload is not written.
type FailedObjectRecord struct {
	ID          string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Index       int64  `parquet:"name=index, type=INT64"`
	DatasetName string `parquet:"name=dataset_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Split       string `parquet:"name=split, type=BYTE_ARRAY, convertedtype=UTF8"`
	Message     string `parquet:"name=message, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func failedRecord(f vectordb.FailedObject) FailedObjectRecord {
	rec := FailedObjectRecord{
		ID:      f.Object.ID.String(),
		Message: f.Message,
	}
	switch v := f.Object.Properties[vectordb.PropIndex].(type) {
	case int64:
		rec.Index = v
	case int:
		rec.Index = int64(v)
	case float64:
		rec.Index = int64(v)
	}
	rec.DatasetName, _ = f.Object.Properties[vectordb.PropDatasetName].(string)
	rec.Split, _ = f.Object.Properties[vectordb.PropSplit].(string)
	return rec
}

// WriteFailedObjects writes failed objects to a parquet file
func WriteFailedObjects(path string, failed []vectordb.FailedObject) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(FailedObjectRecord), 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, f := range failed {
		if err := pw.Write(failedRecord(f)); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}

	logger.Info("Failed objects exported", "path", path, "count", len(failed))
	return nil
}

// ReadFailedObjects reads a file written by WriteFailedObjects
func ReadFailedObjects(path string) ([]FailedObjectRecord, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(FailedObjectRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	records := make([]FailedObjectRecord, int(pr.GetNumRows()))
	if len(records) == 0 {
		return records, nil
	}
	if err := pr.Read(&records); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}
