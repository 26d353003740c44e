package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"clip-arena/internal/config"
	"clip-arena/internal/export"
	"clip-arena/internal/logger"
	"clip-arena/internal/vectordb"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	backend := flag.String("backend", "", "Vector database: weaviate, milvus or qdrant")
	collection := flag.String("collection", "", "Collection name")
	index := flag.Int64("index", -1, "Look up the object imported for this dataset index")
	failedObjects := flag.String("failed-objects", "", "Summarize a failed-objects parquet file")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *collection != "" {
		cfg.Collection.Name = *collection
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if *failedObjects != "" {
		if err := summarizeFailed(*failedObjects); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read failed objects: %v\n", err)
			os.Exit(1)
		}
		return
	}

	timeout, err := cfg.GetConnectTimeout()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid connect_timeout: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := vectordb.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := vectordb.WaitReady(ctx, store, timeout, vectordb.DefaultBackoffConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Connected to %s.\n", store.Backend())

	name := cfg.Collection.Name
	exists, err := store.HasCollection(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check collection: %v\n", err)
		os.Exit(1)
	}
	if !exists {
		fmt.Printf("Collection %s does not exist\n", name)
		return
	}

	if err := store.Flush(ctx, name); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush: %v\n", err)
		os.Exit(1)
	}
	count, err := store.Count(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to count: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("aggregate.total_count: %d\n", count)

	if *index < 0 {
		return
	}
	id := vectordb.ObjectID(*index)
	obj, err := store.GetByID(ctx, name, id)
	if errors.Is(err, vectordb.ErrNotFound) {
		fmt.Printf("No object for index %d (id %s)\n", *index, id)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get object: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Object %s\n", obj.ID)
	keys := make([]string, 0, len(obj.Properties))
	for k := range obj.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := obj.Properties[k]
		if s, ok := v.(string); ok && len(s) > 64 {
			v = fmt.Sprintf("%s... (%d bytes)", s[:64], len(s))
		}
		fmt.Printf("  %s: %v\n", k, v)
	}
}

func summarizeFailed(path string) error {
	records, err := export.ReadFailedObjects(path)
	if err != nil {
		return err
	}
	fmt.Printf("%d failed objects in %s\n", len(records), path)

	byMessage := make(map[string]int)
	for _, r := range records {
		byMessage[r.Message]++
	}
	messages := make([]string, 0, len(byMessage))
	for m := range byMessage {
		messages = append(messages, m)
	}
	sort.Slice(messages, func(i, j int) bool { return byMessage[messages[i]] > byMessage[messages[j]] })
	for _, m := range messages {
		fmt.Printf("  %6d  %s\n", byMessage[m], m)
	}
	return nil
}
