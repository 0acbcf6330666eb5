// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/remotezygote/parcel/lib/asset"
	"github.com/remotezygote/parcel/lib/config"
)

// Transformer is a plugin operating on a single source type. The
// Transform hook is mandatory; the remaining hooks ([ConfigLoader],
// [ASTReuser], [Parser], [Generator], [PostProcessor]) are optional
// capability interfaces type-asserted at the call site.
type Transformer interface {
	// Name returns the stable plugin id, e.g. "parcel-transformer-babel".
	Name() string

	// Transform produces zero or more results from the asset view.
	// Returning zero results is valid and yields an empty asset list.
	Transform(ctx context.Context, view *asset.View, cfg any, opts *config.Options) ([]Result, error)
}

// ConfigLoader loads per-plugin configuration before the other hooks
// run. The returned Config.Value is passed unchanged to the
// transformer's other hooks; the invalidation fields feed the
// request graph through config sub-requests.
type ConfigLoader interface {
	GetConfig(ctx context.Context, view *asset.View, opts *config.Options, resolve ResolveFunc) (*Config, error)
}

// ASTReuser lets a transformer accept an AST produced by an earlier
// step. Absent this interface, a foreign AST forces regeneration
// through the previous step's generate.
type ASTReuser interface {
	CanReuseAST(ast *asset.AST) bool
}

// Parser produces an AST from an asset that has none.
type Parser interface {
	Parse(ctx context.Context, view *asset.View, cfg any, opts *config.Options) (*asset.AST, error)
}

// Generator materializes code and a source map from an asset's AST.
type Generator interface {
	Generate(ctx context.Context, view *asset.View, cfg any, opts *config.Options) (GenerateOutput, error)
}

// PostProcessor rewrites the collected asset set after a pipeline
// completes. A nil return keeps the original set.
type PostProcessor interface {
	PostProcess(ctx context.Context, assets []*asset.Asset, cfg any, opts *config.Options, resolve ResolveFunc) ([]*asset.Asset, error)
}

// GenerateOutput is the materialized form of an AST.
type GenerateOutput struct {
	Content []byte
	Map     asset.SourceMap
}

// ResolveFunc resolves a module specifier relative to a source file,
// backed by the resolver subsystem.
type ResolveFunc func(from, to string) (string, error)

// Config is the result of a ConfigLoader. Value is the opaque plugin
// config; the remaining fields describe how the loaded configuration
// invalidates.
type Config struct {
	// Value is handed unchanged to the plugin's other hooks.
	Value any

	// ResolvedPath is the config file the loader settled on, if any.
	ResolvedPath string

	// IncludedFiles are additional files the config depends on
	// (extended configs, presets).
	IncludedFiles []string

	// WatchGlob, when set, re-resolves the config if a matching file
	// appears.
	WatchGlob string

	// InvalidateOnStartup forces re-resolution on every process
	// start (for configs read from the environment).
	InvalidateOnStartup bool

	// DevDeps maps module specifiers to opaque version stamps for
	// plugin packages whose upgrade must invalidate.
	DevDeps map[string]string
}

// ConfigRequest is the invalidation story of one loaded config,
// surfaced to the asset request driver which registers it as a child
// request in the graph.
type ConfigRequest struct {
	Plugin              string            `cbor:"plugin"`
	ResolvedPath        string            `cbor:"resolvedPath,omitempty"`
	IncludedFiles       []string          `cbor:"includedFiles,omitempty"`
	WatchGlob           string            `cbor:"watchGlob,omitempty"`
	InvalidateOnStartup bool              `cbor:"shouldInvalidateOnStartup,omitempty"`
	DevDeps             map[string]string `cbor:"devDeps,omitempty"`
}

// Result is the tagged variant a transform emits per produced asset:
// either an explicit payload or a mutated view reified back into a
// payload at the pipeline boundary.
type Result struct {
	emitted *asset.TransformerResult
	reified *asset.View
}

// Emit wraps an explicit transformer result.
func Emit(r asset.TransformerResult) Result {
	return Result{emitted: &r}
}

// Reify wraps a mutated asset view; the pipeline normalizes it by
// reading the view's content, map, dependencies, and connected files.
func Reify(v *asset.View) Result {
	return Result{reified: v}
}

func (r Result) normalize() (asset.TransformerResult, error) {
	switch {
	case r.emitted != nil:
		return *r.emitted, nil
	case r.reified != nil:
		return r.reified.Result(), nil
	default:
		return asset.TransformerResult{}, errors.New("pipeline: empty result variant")
	}
}

// Handle is an interned transformer handle. The config subsystem
// creates one handle per plugin and reuses it across pipelines, so
// pipeline equality is reference equality on handles.
type Handle struct {
	id string
	t  Transformer
}

// NewHandle interns a transformer.
func NewHandle(t Transformer) *Handle {
	return &Handle{id: t.Name(), t: t}
}

// ID returns the stable plugin id.
func (h *Handle) ID() string { return h.id }

// Transformer returns the wrapped plugin.
func (h *Handle) Transformer() Transformer { return h.t }

// Pipeline is the ordered transformer chain for a source type.
type Pipeline []*Handle

// Equal reports shallow per-plugin identity: same length, same
// interned handles. Handles are cached by the config subsystem, so
// pointer comparison is the correct test.
func (p Pipeline) Equal(other Pipeline) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Names returns the plugin ids, for logs and errors.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, h := range p {
		names[i] = h.ID()
	}
	return names
}

// Resolver maps a file path to its transformer pipeline. Backed by
// the project configuration; implementations must return interned
// pipelines so that shallow equality holds across calls.
type Resolver interface {
	ResolvePipeline(filePath string) (Pipeline, error)
}

// DepResolver resolves module specifiers for transformer config
// loading. This is the external resolver subsystem.
type DepResolver interface {
	Resolve(env asset.Env, specifier, sourcePath string) (string, error)
}

// ErrNoPipeline is returned when no transformer chain exists for a
// file's type. An empty pipeline is a configuration error; the
// resolver must always return at least one transformer.
var ErrNoPipeline = errors.New("pipeline: no transformers configured for type")

// ErrResolveFailed is returned when the resolver subsystem cannot
// find a dependency. It surfaces to the transformer's resolve caller;
// transformers decide whether to rethrow.
var ErrResolveFailed = errors.New("pipeline: resolve failed")

// MissingGenerateError reports an asset that carries an AST whose
// producer offers no generate hook while the pipeline must emit code.
// Fatal for the request.
type MissingGenerateError struct {
	Transformer string
	FilePath    string
}

func (e *MissingGenerateError) Error() string {
	return fmt.Sprintf("pipeline: transformer %s left an AST on %s but provides no generate",
		e.Transformer, e.FilePath)
}
