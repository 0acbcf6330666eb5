// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/remotezygote/parcel/lib/asset"
	"github.com/remotezygote/parcel/lib/assetstore"
	"github.com/remotezygote/parcel/lib/cache"
	"github.com/remotezygote/parcel/lib/clock"
	"github.com/remotezygote/parcel/lib/codec"
	"github.com/remotezygote/parcel/lib/config"
	"github.com/remotezygote/parcel/lib/pipeline"
	"github.com/remotezygote/parcel/lib/reporter"
	"github.com/remotezygote/parcel/lib/requestgraph"
	"github.com/remotezygote/parcel/lib/transform"
	"github.com/remotezygote/parcel/lib/vfs"
	"github.com/remotezygote/parcel/lib/workerfarm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    string
		projectConfig string
		cacheDir      string
		storeDir      string
		lockFile      string
		envContext    string
		noCache       bool
		useFarm       bool
		dumpGraph     bool
	)
	flag.StringVar(&configPath, "config", "", "options file (default: $PARCEL_CONFIG or built-in defaults)")
	flag.StringVar(&projectConfig, "project-config", "", "project config file (.parcelrc)")
	flag.StringVar(&cacheDir, "cache-dir", "", "request cache directory")
	flag.StringVar(&storeDir, "store-dir", "", "content-addressed store directory")
	flag.StringVar(&lockFile, "lock-file", "", "lock file driving dep-version invalidation")
	flag.StringVar(&envContext, "env-context", "browser", "target context (browser, node)")
	flag.BoolVar(&noCache, "no-cache", false, "skip cache lookup")
	flag.BoolVar(&useFarm, "farm", false, "run transforms through the worker farm")
	flag.BoolVar(&dumpGraph, "dump-graph", false, "print the request graph snapshot in CBOR diagnostic notation")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		return fmt.Errorf("no input files (usage: parcel-transform [flags] file...)")
	}

	opts, err := loadOptions(configPath)
	if err != nil {
		return err
	}
	if projectConfig != "" {
		opts.ProjectConfig = projectConfig
	}
	if cacheDir != "" {
		opts.CacheDir = cacheDir
		opts.StoreDir = filepath.Join(cacheDir, "store")
	}
	if storeDir != "" {
		opts.StoreDir = storeDir
	}
	if lockFile != "" {
		opts.LockFile = lockFile
	}
	if noCache {
		opts.Cache = false
	}

	logger := newLogger(opts.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fsys := vfs.OS()
	store, err := assetstore.New(opts.StoreDir, logger)
	if err != nil {
		return err
	}
	requestCache, err := cache.Open(opts.CacheDir, logger)
	if err != nil {
		return err
	}
	defer requestCache.Close()

	project, err := config.LoadProject(fsys, opts.ProjectConfig)
	if err != nil {
		return err
	}
	resolver, err := buildResolver(project)
	if err != nil {
		return err
	}

	runner := &pipeline.Runner{
		FS:        fsys,
		Pipelines: resolver,
		Store:     store,
		Options:   opts,
		Logger:    logger,
	}

	graph := requestgraph.New(logger)
	snapshotPath := filepath.Join(opts.CacheDir, "graph.cbor")
	if data, err := os.ReadFile(snapshotPath); err == nil {
		if err := graph.Restore(data); err != nil {
			logger.Warn("discarding request graph snapshot", "error", err)
			graph = requestgraph.New(logger)
		} else {
			graph.InvalidateOnStartup()
		}
	}

	driver := &transform.Driver{
		Graph:    graph,
		FS:       fsys,
		Cache:    requestCache,
		Store:    store,
		Runner:   runner,
		Reporter: reporter.Slog(logger),
		Options:  opts,
		Clock:    clock.Real(),
		Logger:   logger,
	}
	if useFarm {
		farm := workerfarm.NewLocal(opts.Workers)
		transform.RegisterTransformHandler(farm, runner, buildResolver)
		driver.Farm = farm
	}

	env := asset.Env{Context: envContext}

	// Requests run in parallel; the graph deduplicates identical
	// work and the farm bounds transform concurrency.
	group, groupCtx := errgroup.WithContext(ctx)
	results := make([][]*asset.Asset, len(files))
	for i, file := range files {
		i, file := i, file
		group.Go(func() error {
			assets, err := driver.RunAssetRequest(groupCtx, transform.AssetRequestInput{
				FilePath: file,
				Env:      env,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			results[i] = assets
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, file := range files {
		for _, a := range results[i] {
			fmt.Printf("%s\t%s\t%s\t%d bytes\t%s\n",
				file, a.Type, a.Hash[:12], a.Stats.Size, a.Stats.Time)
		}
	}

	snapshot, err := graph.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshotting request graph: %w", err)
	}
	if err := os.WriteFile(snapshotPath, snapshot, 0o644); err != nil {
		return fmt.Errorf("writing request graph snapshot: %w", err)
	}

	if dumpGraph {
		diag, err := codec.Diagnose(snapshot)
		if err != nil {
			return err
		}
		fmt.Println(diag)
	}
	return nil
}

func loadOptions(path string) (*config.Options, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}

// buildResolver interns one handle per plugin name and assembles the
// per-type pipelines. Plugin names resolve through the built-in
// registry; external plugin loading is a packaging concern outside
// this binary.
func buildResolver(project *config.ProjectConfig) (pipeline.Resolver, error) {
	handles := make(map[string]*pipeline.Handle)
	intern := func(name string) *pipeline.Handle {
		if h, ok := handles[name]; ok {
			return h
		}
		h := pipeline.NewHandle(builtinTransformer(name))
		handles[name] = h
		return h
	}

	byType := make(map[string]pipeline.Pipeline)
	for pattern, chain := range project.Transformers {
		t, ok := strings.CutPrefix(pattern, "*.")
		if !ok {
			return nil, fmt.Errorf("unsupported transformer pattern %q (want \"*.<ext>\")", pattern)
		}
		p := make(pipeline.Pipeline, 0, len(chain))
		for _, name := range chain {
			p = append(p, intern(name))
		}
		byType[t] = p
	}
	return pipeline.NewExtensionResolver(byType), nil
}
