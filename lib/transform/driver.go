// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"
	"fmt"
	"log/slog"

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

// AssetRequestInput describes one asset request. Options is the
// opaque optionsRef: shared process options excluded from the
// request identity.
type AssetRequestInput struct {
	FilePath string    `cbor:"filePath"`
	Env      asset.Env `cbor:"env"`

	// Code, when non-nil, makes this an inline-code request: the
	// content is transformed instead of the file at FilePath, the
	// content hash anchors identity, and the cache is bypassed.
	Code []byte `cbor:"code,omitempty"`

	// SideEffects defaults to true when nil.
	SideEffects *bool `cbor:"sideEffects,omitempty"`

	Options *config.Options `cbor:"-"`
}

// RequestID derives the namespaced content-derived request id. The
// options reference does not participate.
func (in AssetRequestInput) RequestID() (string, error) {
	fp, err := fingerprint.Value(struct {
		FilePath    string    `cbor:"filePath"`
		Env         asset.Env `cbor:"env"`
		Code        []byte    `cbor:"code,omitempty"`
		SideEffects *bool     `cbor:"sideEffects,omitempty"`
	}{in.FilePath, in.Env, in.Code, in.SideEffects})
	if err != nil {
		return "", fmt.Errorf("fingerprinting asset request: %w", err)
	}
	return requestgraph.KindAssetRequest + ":" + fp, nil
}

// Driver is the public entry of the transformation core. It resolves
// configuration, invokes the pipeline (in-process or through the
// worker farm), and registers every discovered invalidation in the
// request graph.
type Driver struct {
	Graph    *requestgraph.Graph
	FS       vfs.FS
	Cache    *cache.Cache
	Store    *assetstore.Store
	Runner   *pipeline.Runner
	Reporter reporter.Reporter
	Options  *config.Options
	Clock    clock.Clock
	Logger   *slog.Logger

	// Farm, when non-nil, offloads pipeline execution through the
	// "runTransform" handle instead of running in-process.
	Farm workerfarm.Farm
}

// RunAssetRequest transforms one input and returns the produced
// assets. Identical concurrent requests share a single execution;
// repeated requests with unchanged connected files are served from
// the cache without invoking any transformer hook.
func (d *Driver) RunAssetRequest(ctx context.Context, input AssetRequestInput) ([]*asset.Asset, error) {
	if input.Options == nil {
		input.Options = d.Options
	}
	id, err := input.RequestID()
	if err != nil {
		return nil, err
	}

	req := requestgraph.Request{
		ID:   id,
		Kind: requestgraph.KindAssetRequest,
		Run: func(ctx context.Context, api requestgraph.RunAPI) (any, error) {
			return d.runAssetRequest(ctx, api, id, input)
		},
	}
	return requestgraph.RunTyped[[]*asset.Asset](ctx, d.Graph, req)
}

func (d *Driver) runAssetRequest(ctx context.Context, api requestgraph.RunAPI, id string, input AssetRequestInput) ([]*asset.Asset, error) {
	logger := d.logger()
	start := d.clock().Now()

	d.report(reporter.Event{
		Type:      reporter.TypeBuildProgress,
		Phase:     reporter.PhaseTransforming,
		RequestID: id,
		FilePath:  input.FilePath,
	})

	realpath, err := d.FS.Realpath(input.FilePath)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", input.FilePath, err)
	}
	api.InvalidateOnFileUpdate(realpath)

	// Resolve the project configuration as a child request; workers
	// receive the serialized cache path, never the live config.
	projectConfig, err := requestgraph.RunTyped[ProjectConfigResult](ctx, api, d.projectConfigRequest())
	if err != nil {
		return nil, err
	}

	// Cache lookup. Inline-code requests are never served from the
	// cache: their identity already includes the content, and the
	// caller opts out to avoid cross-source aliasing through the
	// nominal file path.
	useCache := input.Options.Cache && input.Code == nil
	var cacheKey string
	var staleEntry *cache.Entry
	if useCache {
		cacheKey, err = cache.Key(realpath, input.Env)
		if err != nil {
			return nil, err
		}
		entry, found, err := d.Cache.Get(cacheKey)
		if err != nil {
			return nil, err
		}
		if found {
			if cache.CheckCachedAssets(d.FS, d.Store, entry) {
				logger.Debug("asset request served from cache", "filePath", realpath)
				d.report(reporter.Event{
					Type:      reporter.TypeBuildProgress,
					Phase:     reporter.PhaseCacheHit,
					RequestID: id,
					FilePath:  realpath,
				})
				d.registerAssetInvalidations(api, entry)
				return d.materializeEntry(entry)
			}
			// The entry as a whole is stale, but individual assets
			// may still be reusable mid-pipeline.
			staleEntry = entry
		}
	}

	runResult, rootHash, err := d.execute(ctx, input, realpath, projectConfig, staleEntry)
	if err != nil {
		return nil, err
	}

	// Stamp per-asset wall time and persist blobs.
	elapsed := d.clock().Since(start)
	entry := &cache.Entry{FilePath: realpath, Env: input.Env, Hash: rootHash}
	for _, a := range runResult.Assets {
		a.Stats.Time = elapsed
		stored, err := cache.Persist(d.Store, a)
		if err != nil {
			return nil, err
		}
		entry.Assets = append(entry.Assets, stored)
	}
	for _, a := range runResult.InitialAssets {
		stored, err := cache.Persist(d.Store, a)
		if err != nil {
			return nil, err
		}
		entry.InitialAssets = append(entry.InitialAssets, stored)
	}

	d.registerAssetInvalidations(api, entry)

	// Register every loaded plugin config as a child request, and
	// its dev dependencies as version requests.
	for _, configRequest := range runResult.ConfigRequests {
		result, err := requestgraph.RunTyped[ConfigRequestResult](ctx, api, d.configRequest(configRequest))
		if err != nil {
			return nil, err
		}
		for specifier := range result.DevDeps {
			if _, err := api.RunRequest(ctx, d.versionRequest(specifier, result.DevDeps[specifier], result.ResolvedPath)); err != nil {
				return nil, err
			}
		}
	}

	if useCache {
		if err := d.Cache.Set(cacheKey, entry); err != nil {
			return nil, err
		}
	}

	d.report(reporter.Event{
		Type:      reporter.TypeBuildProgress,
		Phase:     reporter.PhaseFinished,
		RequestID: id,
		FilePath:  realpath,
	})
	return runResult.Assets, nil
}

// execute runs the pipeline either in-process or through the worker
// farm. Returns the run result and the root asset's content hash.
func (d *Driver) execute(ctx context.Context, input AssetRequestInput, realpath string, projectConfig ProjectConfigResult, staleEntry *cache.Entry) (*pipeline.RunResult, string, error) {
	if d.Farm != nil {
		return d.executeOnFarm(ctx, input, realpath, projectConfig)
	}

	root, err := d.buildRootAsset(input, realpath)
	if err != nil {
		return nil, "", err
	}
	result, err := d.Runner.Run(ctx, root, staleEntry)
	if err != nil {
		return nil, "", err
	}
	return result, root.Hash, nil
}

func (d *Driver) executeOnFarm(ctx context.Context, input AssetRequestInput, realpath string, projectConfig ProjectConfigResult) (*pipeline.RunResult, string, error) {
	handle, err := d.Farm.CreateHandle(TransformHandleName)
	if err != nil {
		return nil, "", err
	}
	raw, err := handle.Call(ctx, TransformRequest{
		ConfigCachePath: projectConfig.CachePath,
		FilePath:        realpath,
		Env:             input.Env,
		Code:            input.Code,
		SideEffects:     input.SideEffects,
	})
	if err != nil {
		return nil, "", err
	}
	response, ok := raw.(*TransformResponse)
	if !ok {
		return nil, "", fmt.Errorf("transform handle returned %T", raw)
	}
	return response.Result, response.RootHash, nil
}

// buildRootAsset constructs the pipeline input. Inline code anchors
// its identity on the content hash; file inputs on the realpath.
func (d *Driver) buildRootAsset(input AssetRequestInput, realpath string) (*asset.Asset, error) {
	sideEffects := true
	if input.SideEffects != nil {
		sideEffects = *input.SideEffects
	}
	if input.Code != nil {
		return asset.NewInline(input.Code, realpath, input.Env, sideEffects), nil
	}
	return asset.NewFromFile(d.FS, realpath, input.Env, sideEffects)
}

// registerAssetInvalidations installs update and delete edges for
// every file included in any of the entry's assets.
func (d *Driver) registerAssetInvalidations(api requestgraph.RunAPI, entry *cache.Entry) {
	register := func(assets []cache.StoredAsset) {
		for _, stored := range assets {
			for _, cf := range stored.ConnectedFiles {
				api.InvalidateOnFileUpdate(cf.FilePath)
				api.InvalidateOnFileDelete(cf.FilePath)
			}
		}
	}
	register(entry.Assets)
	register(entry.InitialAssets)
}

// materializeEntry rebuilds live assets from a validated cache entry.
func (d *Driver) materializeEntry(entry *cache.Entry) ([]*asset.Asset, error) {
	assets := make([]*asset.Asset, 0, len(entry.Assets))
	for _, stored := range entry.Assets {
		a, err := stored.Materialize(d.Store)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, nil
}

func (d *Driver) clock() clock.Clock {
	if d.Clock == nil {
		return clock.Real()
	}
	return d.Clock
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Driver) report(event reporter.Event) {
	if d.Reporter != nil {
		d.Reporter.Report(event)
	}
}
