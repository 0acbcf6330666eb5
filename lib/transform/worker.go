// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/remotezygote/parcel/lib/asset"
	"github.com/remotezygote/parcel/lib/codec"
	"github.com/remotezygote/parcel/lib/config"
	"github.com/remotezygote/parcel/lib/pipeline"
	"github.com/remotezygote/parcel/lib/workerfarm"
)

// TransformHandleName is the worker-farm handle the driver dispatches
// pipeline execution through.
const TransformHandleName = "runTransform"

// TransformRequest is the structurally serializable argument of the
// runTransform handle. The project config travels as a cache path,
// never as a live object.
type TransformRequest struct {
	ConfigCachePath string    `cbor:"configCachePath"`
	FilePath        string    `cbor:"filePath"`
	Env             asset.Env `cbor:"env"`
	Code            []byte    `cbor:"code,omitempty"`
	SideEffects     *bool     `cbor:"sideEffects,omitempty"`
}

// TransformResponse is the handle's result.
type TransformResponse struct {
	Result   *pipeline.RunResult
	RootHash string
}

// ResolverBuilder turns a decoded project config into the pipeline
// resolver a worker runs against. Implementations must intern
// transformer handles so shallow pipeline equality holds within one
// resolver.
type ResolverBuilder func(project *config.ProjectConfig) (pipeline.Resolver, error)

// RegisterTransformHandler installs the runTransform worker function
// on a local farm. The handler loads the serialized project config
// from the cache path in each request, builds the per-worker pipeline
// resolver from it, and runs the pipeline the way an out-of-process
// worker would — from side-effect-free inputs only. Resolvers are
// memoized by cache path, so every request against the same config
// shares one set of interned handles. The cache directory lives on
// the real filesystem regardless of the input FS.
func RegisterTransformHandler(farm *workerfarm.LocalFarm, runner *pipeline.Runner, buildResolver ResolverBuilder) {
	var mu sync.Mutex
	resolvers := make(map[string]pipeline.Resolver)

	resolverFor := func(cachePath string) (pipeline.Resolver, error) {
		mu.Lock()
		defer mu.Unlock()
		if resolver, ok := resolvers[cachePath]; ok {
			return resolver, nil
		}
		data, err := os.ReadFile(cachePath)
		if err != nil {
			return nil, fmt.Errorf("reading project config cache: %w", err)
		}
		var project config.ProjectConfig
		if err := codec.Unmarshal(data, &project); err != nil {
			return nil, fmt.Errorf("decoding project config cache: %w", err)
		}
		resolver, err := buildResolver(&project)
		if err != nil {
			return nil, fmt.Errorf("building pipeline resolver: %w", err)
		}
		resolvers[cachePath] = resolver
		return resolver, nil
	}

	farm.Register(TransformHandleName, func(ctx context.Context, args codec.RawMessage) (any, error) {
		var req TransformRequest
		if err := codec.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("decoding transform request: %w", err)
		}
		if req.ConfigCachePath == "" {
			return nil, fmt.Errorf("transform request carries no config cache path")
		}

		resolver, err := resolverFor(req.ConfigCachePath)
		if err != nil {
			return nil, err
		}
		workerRunner := *runner
		workerRunner.Pipelines = resolver

		sideEffects := true
		if req.SideEffects != nil {
			sideEffects = *req.SideEffects
		}

		var root *asset.Asset
		if req.Code != nil {
			root = asset.NewInline(req.Code, req.FilePath, req.Env, sideEffects)
		} else {
			var err error
			root, err = asset.NewFromFile(workerRunner.FS, req.FilePath, req.Env, sideEffects)
			if err != nil {
				return nil, err
			}
		}

		result, err := workerRunner.Run(ctx, root, nil)
		if err != nil {
			return nil, err
		}
		return &TransformResponse{Result: result, RootHash: root.Hash}, nil
	})
}
