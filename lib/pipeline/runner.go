// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/remotezygote/parcel/lib/asset"
	"github.com/remotezygote/parcel/lib/assetstore"
	"github.com/remotezygote/parcel/lib/cache"
	"github.com/remotezygote/parcel/lib/config"
	"github.com/remotezygote/parcel/lib/vfs"
)

// Runner drives an asset through its transformer pipeline.
type Runner struct {
	FS        vfs.FS
	Pipelines Resolver

	// Deps resolves module specifiers for config loading. May be nil
	// when no transformer resolves dependencies.
	Deps DepResolver

	// Store backs per-asset cache reuse: connected-file checks and
	// rematerialization of cached children.
	Store *assetstore.Store

	Options *config.Options
	Logger  *slog.Logger
}

// RunResult is the outcome of one pipeline invocation.
type RunResult struct {
	// Assets are the finalized outputs in transformer-declaration
	// order.
	Assets []*asset.Asset

	// InitialAssets is non-nil only when a post-process step rewrote
	// the outputs; it holds the pre-post-process set.
	InitialAssets []*asset.Asset

	// ConfigRequests are the invalidation stories of every plugin
	// config loaded during the run.
	ConfigRequests []ConfigRequest
}

// generateFunc materializes code from an asset's residual AST. It is
// carried from step to step so the runner can regenerate lazily: only
// when the next transformer cannot consume the AST, or when the
// pipeline terminates with an AST still attached.
type generateFunc func(ctx context.Context, a *asset.Asset) (GenerateOutput, error)

// runState accumulates cross-step results of one Run call.
type runState struct {
	entry          *cache.Entry
	initialAssets  []*asset.Asset
	configRequests []ConfigRequest
}

// Run applies the asset's transformer chain until no further
// transformation applies. The optional cacheEntry enables per-asset
// reuse: children whose hash matches a cached asset with unchanged
// connected files skip their remaining pipeline.
func (r *Runner) Run(ctx context.Context, input *asset.Asset, cacheEntry *cache.Entry) (*RunResult, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	original, err := r.Pipelines.ResolvePipeline(input.FilePath)
	if err != nil {
		return nil, err
	}
	logger.Debug("running pipeline",
		"filePath", input.FilePath,
		"transformers", strings.Join(original.Names(), ","))

	st := &runState{entry: cacheEntry}
	assets, err := r.runPipeline(ctx, st, input, original, original, nil)
	if err != nil {
		return nil, err
	}

	return &RunResult{
		Assets:         assets,
		InitialAssets:  st.initialAssets,
		ConfigRequests: st.configRequests,
	}, nil
}

// runPipeline executes one step of the chain for the given asset and
// recurses over the step's children. pl is the remaining chain,
// original the full pipeline this input type resolved to (the
// reference for jump detection), prevGen the previous step's
// generate.
func (r *Runner) runPipeline(ctx context.Context, st *runState, in *asset.Asset, pl, original Pipeline, prevGen generateFunc) ([]*asset.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(pl) == 0 {
		return nil, fmt.Errorf("%w: empty pipeline for %s", ErrNoPipeline, in.FilePath)
	}

	handle := pl[0]
	t := handle.Transformer()
	view := asset.NewView(in)
	inputType := in.Type

	// (a) Config load.
	var cfg any
	if loader, ok := t.(ConfigLoader); ok {
		loaded, err := loader.GetConfig(ctx, view, r.Options, r.resolveFor(in))
		if err != nil {
			return nil, fmt.Errorf("loading config for %s on %s: %w", handle.ID(), in.FilePath, err)
		}
		if loaded != nil {
			cfg = loaded.Value
			if req, ok := configRequestFrom(handle.ID(), loaded); ok {
				st.configRequests = append(st.configRequests, req)
			}
		}
	}

	// (b) AST reconciliation. A foreign AST the current transformer
	// cannot reuse is materialized through the previous generate and
	// dropped; a reusable AST is kept as-is.
	if in.AST != nil {
		reuse := false
		if reuser, ok := t.(ASTReuser); ok {
			reuse = reuser.CanReuseAST(in.AST)
		}
		if !reuse && prevGen != nil {
			out, err := prevGen(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("regenerating %s before %s: %w", in.FilePath, handle.ID(), err)
			}
			in.SetContent(out.Content, out.Map)
			in.AST = nil
		}
	}
	if in.AST == nil {
		if parser, ok := t.(Parser); ok {
			ast, err := parser.Parse(ctx, view, cfg, r.Options)
			if err != nil {
				return nil, fmt.Errorf("%s parsing %s: %w", handle.ID(), in.FilePath, err)
			}
			in.AST = ast
		}
	}

	// (c) Transform.
	results, err := t.Transform(ctx, view, cfg, r.Options)
	if err != nil {
		return nil, fmt.Errorf("%s transforming %s: %w", handle.ID(), in.FilePath, err)
	}

	children := make([]*asset.Asset, 0, len(results))
	for i, res := range results {
		payload, err := res.normalize()
		if err != nil {
			return nil, fmt.Errorf("%s on %s: %w", handle.ID(), in.FilePath, err)
		}
		child, err := in.Child(payload, strconv.Itoa(i))
		if err != nil {
			return nil, fmt.Errorf("%s on %s: %w", handle.ID(), in.FilePath, err)
		}
		children = append(children, child)
	}

	gen := r.generateFor(handle, cfg)

	// (d) Recurse over children.
	var out []*asset.Asset
	for _, child := range children {
		// Per-asset cache reuse: a child whose hash matches a cached
		// asset with unchanged connected files skips the rest of its
		// pipeline.
		if st.entry != nil {
			if reused, ok := r.reuseFromCache(st.entry, child); ok {
				out = append(out, reused)
				continue
			}
		}

		next := original
		if child.Type != inputType {
			jumpPath := replaceTypeExt(child.FilePath, child.Type)
			next, err = r.Pipelines.ResolvePipeline(jumpPath)
			if err != nil {
				return nil, fmt.Errorf("resolving pipeline after type change %s -> %s: %w",
					inputType, child.Type, err)
			}
		}

		switch {
		case next.Equal(original) && len(pl) == 1:
			// Finalized: materialize any residual AST and append.
			if child.AST != nil {
				if gen == nil {
					return nil, &MissingGenerateError{Transformer: handle.ID(), FilePath: child.FilePath}
				}
				genOut, err := gen(ctx, child)
				if err != nil {
					return nil, fmt.Errorf("%s generating %s: %w", handle.ID(), child.FilePath, err)
				}
				child.SetContent(genOut.Content, genOut.Map)
				child.AST = nil
			}
			out = append(out, child)

		case next.Equal(original):
			sub, err := r.runPipeline(ctx, st, child, pl[1:], original, gen)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)

		default:
			// Pipeline jump: the child follows the new chain from its
			// head, with this step's generate carried across.
			sub, err := r.runPipeline(ctx, st, child, next, next, gen)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}

	// (e) Post-process. The pre-post-process set is preserved so
	// future cache checks can match either representation.
	if pp, ok := t.(PostProcessor); ok {
		processed, err := pp.PostProcess(ctx, out, cfg, r.Options, r.resolveFor(in))
		if err != nil {
			return nil, fmt.Errorf("%s post-processing %s: %w", handle.ID(), in.FilePath, err)
		}
		if processed != nil {
			st.initialAssets = append(st.initialAssets, out...)
			out = processed
		}
	}

	return out, nil
}

// reuseFromCache looks the child up in the entry's pre-post-process
// assets when present, else the final assets, and revalidates
// connected files before serving.
func (r *Runner) reuseFromCache(entry *cache.Entry, child *asset.Asset) (*asset.Asset, bool) {
	pool := entry.Assets
	if len(entry.InitialAssets) > 0 {
		pool = entry.InitialAssets
	}
	for _, stored := range pool {
		if stored.Hash != child.Hash {
			continue
		}
		if !r.Store.CheckConnectedFiles(r.FS, stored.ConnectedFiles) {
			continue
		}
		materialized, err := stored.Materialize(r.Store)
		if err != nil {
			// Readback failure is a miss, never fatal.
			continue
		}
		return materialized, true
	}
	return nil, false
}

// generateFor binds a transformer's generate hook to its config.
// Returns nil when the transformer has no generator.
func (r *Runner) generateFor(handle *Handle, cfg any) generateFunc {
	generator, ok := handle.Transformer().(Generator)
	if !ok {
		return nil
	}
	return func(ctx context.Context, a *asset.Asset) (GenerateOutput, error) {
		return generator.Generate(ctx, asset.NewView(a), cfg, r.Options)
	}
}

// resolveFor builds the resolve function handed to config loaders and
// post-processors, bound to the asset's environment.
func (r *Runner) resolveFor(in *asset.Asset) ResolveFunc {
	return func(from, to string) (string, error) {
		if r.Deps == nil {
			return "", fmt.Errorf("%w: no resolver configured (%s from %s)", ErrResolveFailed, to, from)
		}
		resolved, err := r.Deps.Resolve(in.Env, to, from)
		if err != nil {
			return "", fmt.Errorf("%w: %s from %s: %v", ErrResolveFailed, to, from, err)
		}
		return resolved, nil
	}
}

// configRequestFrom extracts the invalidation story of a loaded
// config. Configs without any invalidation data produce no request.
func configRequestFrom(plugin string, c *Config) (ConfigRequest, bool) {
	if c.ResolvedPath == "" && len(c.IncludedFiles) == 0 && c.WatchGlob == "" &&
		!c.InvalidateOnStartup && len(c.DevDeps) == 0 {
		return ConfigRequest{}, false
	}
	return ConfigRequest{
		Plugin:              plugin,
		ResolvedPath:        c.ResolvedPath,
		IncludedFiles:       c.IncludedFiles,
		WatchGlob:           c.WatchGlob,
		InvalidateOnStartup: c.InvalidateOnStartup,
		DevDeps:             c.DevDeps,
	}, true
}

// replaceTypeExt rewrites a path's extension to the new asset type,
// producing the hypothetical file the jumped-to pipeline resolves on.
func replaceTypeExt(path, newType string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + newType
}
