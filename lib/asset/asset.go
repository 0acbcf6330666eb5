// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package asset

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/remotezygote/parcel/lib/fingerprint"
	"github.com/remotezygote/parcel/lib/vfs"
)

// Env describes the target a request is built for. It is an opaque
// equality key: two requests with different environments are
// unrelated, and the environment participates in every request and
// asset identity.
type Env struct {
	// Context is the execution context, e.g. "browser" or "node".
	Context string `cbor:"context"`

	// OutputFormat is the module format of the eventual output,
	// e.g. "esmodule" or "commonjs".
	OutputFormat string `cbor:"outputFormat,omitempty"`

	// Engines maps engine names to version ranges, e.g.
	// {"chrome": ">=90"}.
	Engines map[string]string `cbor:"engines,omitempty"`
}

// Fingerprint returns the environment's identity token.
func (e Env) Fingerprint() (string, error) {
	return fingerprint.Value(e)
}

// AST is an opaque syntax tree handle. The core never inspects
// Program; it belongs to whichever transformer produced it.
// ProducerID names that transformer so CanReuseAST checks can refuse
// trees from foreign producers.
type AST struct {
	ProducerID string
	Version    string
	Program    any
}

// SourceMap is an opaque serialized source map.
type SourceMap []byte

// Stats records per-asset measurements surfaced to reporters.
type Stats struct {
	Size int64         `cbor:"size"`
	Time time.Duration `cbor:"time"`
}

// ConnectedFile records a file whose content influences an asset.
// Any change to a connected file must invalidate the asset; Hash is
// the file's content fingerprint at the time it was read.
type ConnectedFile struct {
	FilePath string `cbor:"filePath"`
	Hash     string `cbor:"hash"`
}

// Connect reads and fingerprints the file at path, producing the
// ConnectedFile record a transformer declares on its output.
func Connect(fsys vfs.FS, path string) (ConnectedFile, error) {
	hash, err := fingerprint.File(fsys, path)
	if err != nil {
		return ConnectedFile{}, err
	}
	return ConnectedFile{FilePath: path, Hash: hash}, nil
}

// Dependency is a module reference discovered by a transformer. The
// core records dependencies on assets but does not resolve them;
// resolution and linking are downstream stages.
type Dependency struct {
	Specifier  string         `cbor:"specifier"`
	SourcePath string         `cbor:"sourcePath,omitempty"`
	Env        Env            `cbor:"env"`
	IsAsync    bool           `cbor:"isAsync,omitempty"`
	Meta       map[string]any `cbor:"meta,omitempty"`
}

// Asset is an intermediate artifact flowing through the pipeline.
// Assets are created by the pipeline, mutated only by the transformer
// currently holding them (through a View), committed exactly once to
// the asset store, then immutable.
type Asset struct {
	// IDBase anchors the asset's identity: the file path for file
	// inputs, the content hash for inline inputs (so two distinct
	// inline snippets at the same path never alias).
	IDBase string

	// Salt distinguishes sibling results of a single transform.
	Salt string

	FilePath string

	// Type is the file-extension-derived asset type ("js", "css").
	Type string

	Env Env

	// Content is the asset bytes: buffered up to MaxBufferSize,
	// streamed above it.
	Content Content

	// Hash is the content fingerprint over the materialized bytes at
	// the time of construction. Invariant: Hash is a pure function of
	// Content.
	Hash string

	// AST, when non-nil, was produced by the transformer named in
	// AST.ProducerID. An asset carrying an AST must either have an
	// in-process generator available or sit on a pipeline that
	// guarantees re-parse.
	AST *AST

	Map SourceMap

	Stats Stats

	SideEffects bool

	Dependencies []Dependency

	// ConnectedFiles is a superset of every file whose change must
	// invalidate this asset.
	ConnectedFiles []ConnectedFile

	Meta map[string]any
}

// TypeFromPath derives the asset type from a file extension.
func TypeFromPath(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}

// NewFromFile constructs the root asset for a file input. The file is
// read once: hashed and buffered (or demoted to a stream) in a single
// pass.
func NewFromFile(fsys vfs.FS, filePath string, env Env, sideEffects bool) (*Asset, error) {
	content, hash, size, err := hashFileContent(fsys, filePath)
	if err != nil {
		return nil, err
	}
	return &Asset{
		IDBase:      filePath,
		FilePath:    filePath,
		Type:        TypeFromPath(filePath),
		Env:         env,
		Content:     content,
		Hash:        hash,
		Stats:       Stats{Size: size},
		SideEffects: sideEffects,
	}, nil
}

// NewInline constructs the root asset for an inline code blob. The
// content hash, not the file path, anchors its identity.
func NewInline(code []byte, filePath string, env Env, sideEffects bool) *Asset {
	hash := fingerprint.Bytes(code)
	return &Asset{
		IDBase:      hash,
		FilePath:    filePath,
		Type:        TypeFromPath(filePath),
		Env:         env,
		Content:     &Buffer{Data: code},
		Hash:        hash,
		Stats:       Stats{Size: int64(len(code))},
		SideEffects: sideEffects,
	}
}

// ID returns the asset's stable identity token, derived from its
// idBase, type, environment, and sibling salt.
func (a *Asset) ID() (string, error) {
	return fingerprint.Value(struct {
		IDBase string `cbor:"idBase"`
		Type   string `cbor:"type"`
		Env    Env    `cbor:"env"`
		Salt   string `cbor:"salt,omitempty"`
	}{a.IDBase, a.Type, a.Env, a.Salt})
}

// Child derives a new asset from a transformer result. The child
// inherits the parent's idBase plus a per-result salt, carries the
// declared type, and has its own content hash.
func (a *Asset) Child(result TransformerResult, salt string) (*Asset, error) {
	if result.Content == nil && result.AST == nil {
		return nil, fmt.Errorf("transformer result for %s carries neither content nor AST", a.FilePath)
	}

	child := &Asset{
		IDBase:         a.IDBase,
		Salt:           salt,
		FilePath:       a.FilePath,
		Type:           result.Type,
		Env:            a.Env,
		Content:        result.Content,
		AST:            result.AST,
		Map:            result.Map,
		SideEffects:    a.SideEffects,
		Dependencies:   result.Dependencies,
		ConnectedFiles: result.ConnectedFiles,
		Meta:           result.Meta,
	}
	if result.Env != nil {
		child.Env = *result.Env
	}
	if result.IsIsolated {
		child.SideEffects = false
	}

	if result.Content != nil {
		data, err := ReadAll(result.Content)
		if err != nil {
			return nil, err
		}
		child.Hash = fingerprint.Bytes(data)
		child.Stats.Size = int64(len(data))
	}
	return child, nil
}

// SetContent replaces the asset's content and rehashes. Used when a
// generate call materializes code from a residual AST.
func (a *Asset) SetContent(data []byte, m SourceMap) {
	a.Content = &Buffer{Data: data}
	a.Hash = fingerprint.Bytes(data)
	a.Stats.Size = int64(len(data))
	a.Map = m
}

// TransformerResult is the payload a transformer emits per produced
// asset.
type TransformerResult struct {
	Type           string
	Content        Content
	AST            *AST
	Map            SourceMap
	Dependencies   []Dependency
	ConnectedFiles []ConnectedFile

	// Env, when non-nil, overrides the inherited environment.
	Env *Env

	// IsIsolated marks results whose side effects must not leak into
	// siblings.
	IsIsolated bool

	Meta map[string]any
}
