// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remotezygote/parcel/lib/asset"
	"github.com/remotezygote/parcel/lib/assetstore"
	"github.com/remotezygote/parcel/lib/cache"
	"github.com/remotezygote/parcel/lib/clock"
	"github.com/remotezygote/parcel/lib/config"
	"github.com/remotezygote/parcel/lib/fingerprint"
	"github.com/remotezygote/parcel/lib/pipeline"
	"github.com/remotezygote/parcel/lib/reporter"
	"github.com/remotezygote/parcel/lib/requestgraph"
	"github.com/remotezygote/parcel/lib/vfs"
	"github.com/remotezygote/parcel/lib/workerfarm"
)

// rewritingTransformer rewrites code, declares b.txt as a connected
// file when present, and counts hook invocations.
type rewritingTransformer struct {
	name       string
	fsys       vfs.FS
	connect    string // path declared as connected file, if non-empty
	transforms atomic.Int64

	// devDeps, when non-nil, makes GetConfig emit a config request.
	devDeps      map[string]string
	resolvedPath string
}

func (t *rewritingTransformer) Name() string { return t.name }

func (t *rewritingTransformer) GetConfig(ctx context.Context, view *asset.View, opts *config.Options, resolve pipeline.ResolveFunc) (*pipeline.Config, error) {
	if t.devDeps == nil {
		return nil, nil
	}
	return &pipeline.Config{
		Value:        "cfg",
		ResolvedPath: t.resolvedPath,
		DevDeps:      t.devDeps,
	}, nil
}

func (t *rewritingTransformer) Transform(ctx context.Context, view *asset.View, cfg any, opts *config.Options) ([]pipeline.Result, error) {
	t.transforms.Add(1)
	code, err := view.Code()
	if err != nil {
		return nil, err
	}
	view.SetCode(append([]byte("out:"), code...))
	if t.connect != "" {
		cf, err := asset.Connect(t.fsys, t.connect)
		if err != nil {
			return nil, err
		}
		view.AddConnectedFile(cf)
	}
	return []pipeline.Result{pipeline.Reify(view)}, nil
}

type testEnv struct {
	fsys    *vfs.MemFS
	opts    *config.Options
	store   *assetstore.Store
	cache   *cache.Cache
	runner  *pipeline.Runner
	plugins map[string]pipeline.Pipeline
}

func newTestEnv(t *testing.T, plugins map[string]pipeline.Pipeline) *testEnv {
	t.Helper()

	fsys := vfs.NewMemFS()
	fsys.WriteFile("/project/.parcelrc", []byte(`{
		// project pipelines
		"transformers": {"*.js": ["test-js"]},
	}`))

	opts := config.Default()
	opts.CacheDir = t.TempDir()
	opts.StoreDir = t.TempDir()
	opts.ProjectConfig = "/project/.parcelrc"

	store, err := assetstore.New(opts.StoreDir, nil)
	if err != nil {
		t.Fatalf("assetstore.New: %v", err)
	}
	requestCache, err := cache.Open(opts.CacheDir, nil)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { requestCache.Close() })

	return &testEnv{
		fsys:  fsys,
		opts:  opts,
		store: store,
		cache: requestCache,
		runner: &pipeline.Runner{
			FS:        fsys,
			Pipelines: pipeline.NewExtensionResolver(plugins),
			Store:     store,
			Options:   opts,
		},
		plugins: plugins,
	}
}

func (e *testEnv) newDriver() *Driver {
	return &Driver{
		Graph:    requestgraph.New(nil),
		FS:       e.fsys,
		Cache:    e.cache,
		Store:    e.store,
		Runner:   e.runner,
		Reporter: reporter.Null(),
		Options:  e.opts,
		Clock:    clock.Fake(),
	}
}

func TestAssetRequestProducesAssets(t *testing.T) {
	tr := &rewritingTransformer{name: "test-js"}
	env := newTestEnv(t, map[string]pipeline.Pipeline{"js": {pipeline.NewHandle(tr)}})
	tr.fsys = env.fsys
	env.fsys.WriteFile("/src/a.js", []byte("x=1"))

	driver := env.newDriver()
	assets, err := driver.RunAssetRequest(context.Background(), AssetRequestInput{
		FilePath: "/src/a.js",
		Env:      asset.Env{Context: "browser"},
	})
	if err != nil {
		t.Fatalf("RunAssetRequest: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("got %d assets, want 1", len(assets))
	}
	code, err := asset.ReadAll(assets[0].Content)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(code) != "out:x=1" {
		t.Errorf("content = %q", code)
	}
	if assets[0].Hash != fingerprint.Bytes(code) {
		t.Error("asset hash is not the fingerprint of its content")
	}
	if tr.transforms.Load() != 1 {
		t.Errorf("transform ran %d times", tr.transforms.Load())
	}
}

func TestCacheHitSkipsTransformerHooks(t *testing.T) {
	tr := &rewritingTransformer{name: "test-js", connect: "/src/b.txt"}
	env := newTestEnv(t, map[string]pipeline.Pipeline{"js": {pipeline.NewHandle(tr)}})
	tr.fsys = env.fsys
	env.fsys.WriteFile("/src/a.js", []byte("x=1"))
	env.fsys.WriteFile("/src/b.txt", []byte("side input"))

	input := AssetRequestInput{FilePath: "/src/a.js", Env: asset.Env{Context: "browser"}}

	first, err := env.newDriver().RunAssetRequest(context.Background(), input)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	// A fresh graph simulates a new process: the result must come
	// from the persistent cache, with zero transformer hooks.
	second, err := env.newDriver().RunAssetRequest(context.Background(), input)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if tr.transforms.Load() != 1 {
		t.Errorf("transform ran %d times across both runs, want 1", tr.transforms.Load())
	}

	if len(first) != len(second) {
		t.Fatalf("asset counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Hash != second[i].Hash {
			t.Errorf("asset %d hash differs across runs", i)
		}
		a, _ := asset.ReadAll(first[i].Content)
		b, _ := asset.ReadAll(second[i].Content)
		if string(a) != string(b) {
			t.Errorf("asset %d content differs across runs", i)
		}
	}
}

func TestConnectedFileChangeInvalidates(t *testing.T) {
	tr := &rewritingTransformer{name: "test-js", connect: "/src/b.txt"}
	env := newTestEnv(t, map[string]pipeline.Pipeline{"js": {pipeline.NewHandle(tr)}})
	tr.fsys = env.fsys
	env.fsys.WriteFile("/src/a.js", []byte("x=1"))
	env.fsys.WriteFile("/src/b.txt", []byte("v1"))

	input := AssetRequestInput{FilePath: "/src/a.js", Env: asset.Env{Context: "browser"}}
	driver := env.newDriver()

	if _, err := driver.RunAssetRequest(context.Background(), input); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Modify the connected file and feed the journal: the request
	// goes dirty, the cache entry fails validation, and the
	// transformer runs again.
	env.fsys.WriteFile("/src/b.txt", []byte("v2"))
	if n := driver.Graph.RespondToFSEvents([]vfs.Event{{Kind: vfs.EventUpdate, Path: "/src/b.txt"}}); n == 0 {
		t.Fatal("connected-file update matched no request nodes")
	}

	if _, err := driver.RunAssetRequest(context.Background(), input); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if tr.transforms.Load() != 2 {
		t.Errorf("transform ran %d times, want 2 (cache miss after connected-file change)", tr.transforms.Load())
	}
}

func TestInlineCodeBypassesCache(t *testing.T) {
	tr := &rewritingTransformer{name: "test-js"}
	env := newTestEnv(t, map[string]pipeline.Pipeline{"js": {pipeline.NewHandle(tr)}})
	tr.fsys = env.fsys

	input := AssetRequestInput{
		FilePath: "/src/virtual.js",
		Env:      asset.Env{Context: "browser"},
		Code:     []byte("inline = true"),
	}

	if _, err := env.newDriver().RunAssetRequest(context.Background(), input); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// A fresh graph gets no cache help: the transformer must run
	// again.
	if _, err := env.newDriver().RunAssetRequest(context.Background(), input); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if tr.transforms.Load() != 2 {
		t.Errorf("transform ran %d times, want 2 (inline code is never cached)", tr.transforms.Load())
	}

	// The request id is still deterministic across runs.
	idA, err := input.RequestID()
	if err != nil {
		t.Fatalf("RequestID: %v", err)
	}
	idB, _ := input.RequestID()
	if idA != idB {
		t.Error("inline request id is not deterministic")
	}
}

func TestInlineCodeIdentityIsContentDerived(t *testing.T) {
	a := AssetRequestInput{FilePath: "/src/v.js", Code: []byte("one")}
	b := AssetRequestInput{FilePath: "/src/v.js", Code: []byte("two")}
	idA, err := a.RequestID()
	if err != nil {
		t.Fatalf("RequestID: %v", err)
	}
	idB, err := b.RequestID()
	if err != nil {
		t.Fatalf("RequestID: %v", err)
	}
	if idA == idB {
		t.Error("two inline snippets at the same path share a request id")
	}
}

func TestConfigAndVersionSubrequests(t *testing.T) {
	tr := &rewritingTransformer{
		name:         "test-js",
		devDeps:      map[string]string{"babel-preset-env": "7.0.0"},
		resolvedPath: "/project/babel.config.json",
	}
	env := newTestEnv(t, map[string]pipeline.Pipeline{"js": {pipeline.NewHandle(tr)}})
	tr.fsys = env.fsys
	env.fsys.WriteFile("/src/a.js", []byte("x=1"))
	env.opts.LockFile = "/project/yarn.lock"

	driver := env.newDriver()
	if _, err := driver.RunAssetRequest(context.Background(), AssetRequestInput{
		FilePath: "/src/a.js",
		Env:      asset.Env{Context: "browser"},
	}); err != nil {
		t.Fatalf("RunAssetRequest: %v", err)
	}

	// The version request registered a file-update edge on the lock
	// file: touching it dirties the version node and its ancestors
	// up to the asset request.
	if n := driver.Graph.RespondToFSEvents([]vfs.Event{{Kind: vfs.EventUpdate, Path: "/project/yarn.lock"}}); n < 2 {
		t.Errorf("lock-file update invalidated %d nodes, want the version node and its ancestors", n)
	}

	// The plugin config file registered update and delete edges.
	if n := driver.Graph.RespondToFSEvents([]vfs.Event{{Kind: vfs.EventDelete, Path: "/project/babel.config.json"}}); n == 0 {
		t.Error("config delete matched no nodes")
	}
}

func TestFarmExecution(t *testing.T) {
	tr := &rewritingTransformer{name: "test-js"}
	env := newTestEnv(t, map[string]pipeline.Pipeline{"js": {pipeline.NewHandle(tr)}})
	tr.fsys = env.fsys
	env.fsys.WriteFile("/src/a.js", []byte("x=1"))

	// The farm builds its pipeline resolver from the serialized
	// project config, not from the driver's in-process resolver.
	var decoded map[string][]string
	farm := workerfarm.NewLocal(2)
	RegisterTransformHandler(farm, env.runner, func(project *config.ProjectConfig) (pipeline.Resolver, error) {
		decoded = project.Transformers
		byType := make(map[string]pipeline.Pipeline)
		for pattern, chain := range project.Transformers {
			if len(chain) != 1 || chain[0] != tr.Name() {
				return nil, fmt.Errorf("unexpected chain for %q: %v", pattern, chain)
			}
			byType[strings.TrimPrefix(pattern, "*.")] = pipeline.Pipeline{pipeline.NewHandle(tr)}
		}
		return pipeline.NewExtensionResolver(byType), nil
	})

	driver := env.newDriver()
	driver.Farm = farm

	assets, err := driver.RunAssetRequest(context.Background(), AssetRequestInput{
		FilePath: "/src/a.js",
		Env:      asset.Env{Context: "browser"},
	})
	if err != nil {
		t.Fatalf("RunAssetRequest via farm: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("got %d assets, want 1", len(assets))
	}
	code, _ := asset.ReadAll(assets[0].Content)
	if string(code) != "out:x=1" {
		t.Errorf("farm content = %q", code)
	}

	// The handler consumed the config cache the driver wrote.
	if chain := decoded["*.js"]; len(chain) != 1 || chain[0] != "test-js" {
		t.Errorf("worker decoded transformers = %v, want the project config's js chain", decoded)
	}
}

func TestMissingSourceFailsOnlyThatRequest(t *testing.T) {
	good := &rewritingTransformer{name: "test-js"}
	env := newTestEnv(t, map[string]pipeline.Pipeline{"js": {pipeline.NewHandle(good)}})
	good.fsys = env.fsys
	env.fsys.WriteFile("/src/good.js", []byte("ok"))

	driver := env.newDriver()

	// Missing file: the request fails.
	if _, err := driver.RunAssetRequest(context.Background(), AssetRequestInput{
		FilePath: "/src/missing.js",
		Env:      asset.Env{Context: "browser"},
	}); err == nil {
		t.Fatal("expected error for missing source file")
	}

	// The sibling request is unaffected.
	assets, err := driver.RunAssetRequest(context.Background(), AssetRequestInput{
		FilePath: "/src/good.js",
		Env:      asset.Env{Context: "browser"},
	})
	if err != nil {
		t.Fatalf("sibling request failed: %v", err)
	}
	if len(assets) != 1 {
		t.Errorf("got %d assets", len(assets))
	}
}

func TestAssetStatsTimeRecorded(t *testing.T) {
	tr := &rewritingTransformer{name: "test-js"}
	env := newTestEnv(t, map[string]pipeline.Pipeline{"js": {pipeline.NewHandle(tr)}})
	tr.fsys = env.fsys
	env.fsys.WriteFile("/src/a.js", []byte("x=1"))

	driver := env.newDriver()
	fake := clock.Fake()
	driver.Clock = fake

	// Advance the clock inside the transformer so elapsed time is
	// non-zero and deterministic.
	env.runner.Pipelines = pipeline.NewExtensionResolver(map[string]pipeline.Pipeline{
		"js": {pipeline.NewHandle(&clockAdvancingTransformer{inner: tr, fake: fake})},
	})

	assets, err := driver.RunAssetRequest(context.Background(), AssetRequestInput{
		FilePath: "/src/a.js",
		Env:      asset.Env{Context: "browser"},
	})
	if err != nil {
		t.Fatalf("RunAssetRequest: %v", err)
	}
	if assets[0].Stats.Time == 0 {
		t.Error("asset stats.time was not recorded")
	}
}

type clockAdvancingTransformer struct {
	inner *rewritingTransformer
	fake  *clock.FakeClock
}

func (t *clockAdvancingTransformer) Name() string { return t.inner.Name() }

func (t *clockAdvancingTransformer) Transform(ctx context.Context, view *asset.View, cfg any, opts *config.Options) ([]pipeline.Result, error) {
	t.fake.Advance(42 * time.Millisecond)
	return t.inner.Transform(ctx, view, cfg, opts)
}
