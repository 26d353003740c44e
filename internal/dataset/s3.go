package dataset

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"clip-arena/internal/config"
	"clip-arena/internal/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the part of the S3 client the s3 source uses
type S3API interface {
	s3.ListObjectsV2APIClient
	manager.DownloadAPIClient
}

// NewS3Client builds a client for AWS or any S3-compatible endpoint.
// A custom endpoint switches to path-style addressing.
func NewS3Client(cfg config.S3Config) *s3.Client {
	opts := s3.Options{
		Region: cfg.Region,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	if cfg.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	return s3.New(opts)
}

func (l *Loader) fetchS3(ctx context.Context) ([]string, error) {
	cfg := l.cfg.S3
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is not set")
	}
	client := l.s3Client
	if client == nil {
		client = NewS3Client(cfg)
	}

	keys, err := listParquetKeys(ctx, client, cfg.Bucket, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no parquet objects under s3://%s/%s", cfg.Bucket, cfg.Prefix)
	}

	configName := l.cfg.Config
	if configName == "" {
		configName = defaultConfigName
	}
	dir := l.splitDir(configName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	downloader := manager.NewDownloader(client)
	files := make([]string, len(keys))
	for i, key := range keys {
		dest := filepath.Join(dir, path.Base(key))
		files[i] = dest
		if isCached(dest) {
			logger.Info("File already cached, skipping download", "key", key, "path", dest)
			continue
		}
		if err := downloadS3(ctx, downloader, cfg.Bucket, key, dest); err != nil {
			return nil, fmt.Errorf("failed to download s3://%s/%s: %w", cfg.Bucket, key, err)
		}
	}
	return files, nil
}

// listParquetKeys returns the sorted .parquet keys under prefix
func listParquetKeys(ctx context.Context, client s3.ListObjectsV2APIClient, bucket, prefix string) ([]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, ".parquet") {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func downloadS3(ctx context.Context, downloader *manager.Downloader, bucket, key, dest string) error {
	logger.Info("Downloading dataset file", "bucket", bucket, "key", key, "dest", dest)

	tmpPath := dest + ".tmp"
	defer os.Remove(tmpPath)

	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	written, err := downloader.Download(ctx, out, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to move file to cache: %w", err)
	}
	logger.Info("Download completed", "bytes_downloaded", written, "dest", dest)
	return nil
}
