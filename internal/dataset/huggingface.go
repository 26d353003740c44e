package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"clip-arena/internal/logger"
)

const defaultConfigName = "default"

// parquetIndex is the response of the HuggingFace parquet listing:
// config name -> split name -> shard URLs
type parquetIndex map[string]map[string][]string

func (l *Loader) fetchHuggingFace(ctx context.Context) ([]string, error) {
	index, err := l.resolveParquet(ctx)
	if err != nil {
		return nil, err
	}

	configName, err := pickConfig(index, l.cfg.Config)
	if err != nil {
		return nil, err
	}
	urls, ok := index[configName][l.cfg.Split]
	if !ok || len(urls) == 0 {
		return nil, fmt.Errorf("split %q not found in config %q", l.cfg.Split, configName)
	}

	dir := l.splitDir(configName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	files := make([]string, len(urls))
	for i, u := range urls {
		dest := filepath.Join(dir, fmt.Sprintf("%04d.parquet", i))
		files[i] = dest
		if isCached(dest) {
			logger.Info("File already cached, skipping download", "file_index", i, "path", dest)
			continue
		}
		if err := l.download(ctx, u, dest); err != nil {
			return nil, fmt.Errorf("failed to download shard %d: %w", i, err)
		}
	}
	return files, nil
}

func (l *Loader) resolveParquet(ctx context.Context) (parquetIndex, error) {
	endpoint := strings.TrimRight(l.cfg.HFEndpoint, "/")
	u := fmt.Sprintf("%s/api/datasets/%s/parquet", endpoint, l.cfg.Name)

	resp, err := l.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var index parquetIndex
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		return nil, fmt.Errorf("failed to decode parquet listing: %w", err)
	}
	return index, nil
}

// pickConfig returns want if the dataset has it, otherwise the only config
func pickConfig(index parquetIndex, want string) (string, error) {
	if want == "" {
		want = defaultConfigName
	}
	if _, ok := index[want]; ok {
		return want, nil
	}
	if len(index) == 1 {
		for name := range index {
			return name, nil
		}
	}

	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	sort.Strings(names)
	return "", fmt.Errorf("config %q not found, available: %s", want, strings.Join(names, ", "))
}

// download writes rawURL to dest through a temporary file
func (l *Loader) download(ctx context.Context, rawURL, dest string) error {
	logger.Info("Downloading dataset file", "url", rawURL, "dest", dest)

	tmpPath := dest + ".tmp"
	defer os.Remove(tmpPath)

	resp, err := l.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to move file to cache: %w", err)
	}

	logger.Info("Download completed",
		"bytes_downloaded", written,
		"expected_bytes", resp.ContentLength,
		"dest", dest)
	return nil
}

// get issues an authenticated GET and fails on any non-200 status
func (l *Loader) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if l.cfg.HFToken != "" {
		req.Header.Set("Authorization", "Bearer "+l.cfg.HFToken)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s failed with status: %s (try setting HF_TOKEN if the dataset requires authentication)",
			rawURL, resp.Status)
	}
	return resp, nil
}
