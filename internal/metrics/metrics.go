package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"clip-arena/internal/batch"
)

// MetricsCollector records per-chunk import metrics and exports them
type MetricsCollector struct {
	mu              sync.RWMutex
	chunkLatencies  []timeSeriesPoint
	objects         int64
	failed          int64
	chunks          int64
	chunkErrors     int64
	startTime       time.Time
	enabled         bool
	exportDirectory string
	labels          map[string]string
}

type timeSeriesPoint struct {
	Timestamp time.Time
	Value     float64
	Objects   int
	Failed    int
}

// NewMetricsCollector creates a collector. labels are attached to every exported series.
func NewMetricsCollector(enabled bool, exportDirectory string, labels map[string]string) *MetricsCollector {
	return &MetricsCollector{
		chunkLatencies:  make([]timeSeriesPoint, 0),
		startTime:       time.Now(),
		enabled:         enabled,
		exportDirectory: exportDirectory,
		labels:          labels,
	}
}

// RecordChunk records one submitted chunk. Safe for concurrent use, so it
// can be passed directly as the batcher's chunk callback.
func (mc *MetricsCollector) RecordChunk(r batch.ChunkResult) {
	if !mc.enabled {
		return
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.chunkLatencies = append(mc.chunkLatencies, timeSeriesPoint{
		Timestamp: time.Now(),
		Value:     r.Duration.Seconds() * 1000,
		Objects:   r.Objects,
		Failed:    r.Failed,
	})
	mc.objects += int64(r.Objects)
	mc.failed += int64(r.Failed)
	mc.chunks++
	if r.Err != nil {
		mc.chunkErrors++
	}
}

// ExportPrometheus writes the metrics in the Prometheus text format
func (mc *MetricsCollector) ExportPrometheus(outputPath string) error {
	if !mc.enabled {
		return nil
	}

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if outputPath == "" {
		outputPath = filepath.Join(mc.exportDirectory, fmt.Sprintf("metrics_%s.prom", time.Now().Format("20060102_150405")))
	}

	var b strings.Builder
	labels := formatPrometheusLabels(mc.labels)

	b.WriteString("# HELP import_chunk_latency_ms Batch request latency in milliseconds\n")
	b.WriteString("# TYPE import_chunk_latency_ms summary\n")
	sorted := make([]float64, len(mc.chunkLatencies))
	var sum float64
	for i, p := range mc.chunkLatencies {
		sorted[i] = p.Value
		sum += p.Value
	}
	sort.Float64s(sorted)
	for _, q := range []float64{0.5, 0.9, 0.99} {
		fmt.Fprintf(&b, "import_chunk_latency_ms%s %.2f\n",
			formatPrometheusLabels(withLabel(mc.labels, "quantile", fmt.Sprintf("%g", q))), quantile(sorted, q))
	}
	fmt.Fprintf(&b, "import_chunk_latency_ms_sum%s %.2f\n", labels, sum)
	fmt.Fprintf(&b, "import_chunk_latency_ms_count%s %d\n", labels, len(sorted))

	counters := []struct {
		name, help string
		value      int64
	}{
		{"import_objects_total", "Objects submitted to the vector database", mc.objects},
		{"import_failed_objects_total", "Objects the vector database rejected", mc.failed},
		{"import_chunks_total", "Batch requests sent", mc.chunks},
		{"import_chunk_errors_total", "Batch requests that failed as a whole", mc.chunkErrors},
	}
	for _, c := range counters {
		fmt.Fprintf(&b, "\n# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(&b, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(&b, "%s%s %d\n", c.name, labels, c.value)
	}

	b.WriteString("\n# HELP import_duration_seconds Time since the collector was created\n")
	b.WriteString("# TYPE import_duration_seconds gauge\n")
	fmt.Fprintf(&b, "import_duration_seconds%s %.3f\n", labels, time.Since(mc.startTime).Seconds())

	if err := os.WriteFile(outputPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// ExportTimeSeries writes one CSV row per chunk
func (mc *MetricsCollector) ExportTimeSeries(outputPath string) error {
	if !mc.enabled {
		return nil
	}

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if outputPath == "" {
		outputPath = filepath.Join(mc.exportDirectory, fmt.Sprintf("timeseries_%s.csv", time.Now().Format("20060102_150405")))
	}

	var b strings.Builder
	b.WriteString("timestamp,latency_ms,objects,failed\n")
	for _, p := range mc.chunkLatencies {
		fmt.Fprintf(&b, "%s,%.2f,%d,%d\n", p.Timestamp.Format(time.RFC3339), p.Value, p.Objects, p.Failed)
	}

	if err := os.WriteFile(outputPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write time-series file: %w", err)
	}
	return nil
}

// formatPrometheusLabels renders labels sorted by name
func formatPrometheusLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

// quantile uses nearest rank on sorted values
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted))*q+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// GetSummary returns the collected totals
func (mc *MetricsCollector) GetSummary() map[string]any {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return map[string]any{
		"objects":             mc.objects,
		"failed":              mc.failed,
		"chunks":              mc.chunks,
		"chunk_errors":        mc.chunkErrors,
		"collection_duration": time.Since(mc.startTime).Seconds(),
	}
}
