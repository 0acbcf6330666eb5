// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package asset

// View is the mutable window a transformer hook receives over the
// asset it currently holds. Hooks read code, swap ASTs, and register
// dependencies through the view; the pipeline normalizes a mutated
// view back into a TransformerResult when the transform hook returns
// the view itself (wrapped by pipeline.Reify) instead of an explicit
// result.
type View struct {
	a *Asset

	newDependencies   []Dependency
	newConnectedFiles []ConnectedFile
}

// NewView wraps an asset in a mutable view. The pipeline creates one
// view per transformer step.
func NewView(a *Asset) *View {
	return &View{a: a}
}

// FilePath returns the asset's source path.
func (v *View) FilePath() string { return v.a.FilePath }

// Type returns the asset's current type.
func (v *View) Type() string { return v.a.Type }

// SetType changes the asset's type. A type change at the end of a
// transform triggers a pipeline jump.
func (v *View) SetType(t string) { v.a.Type = t }

// Env returns the asset's environment.
func (v *View) Env() Env { return v.a.Env }

// Code materializes and returns the asset's content bytes.
func (v *View) Code() ([]byte, error) {
	return ReadAll(v.a.Content)
}

// SetCode replaces the asset's content and rehashes it.
func (v *View) SetCode(data []byte) {
	v.a.SetContent(data, v.a.Map)
}

// AST returns the current syntax tree handle, or nil.
func (v *View) AST() *AST { return v.a.AST }

// SetAST installs a syntax tree produced by the calling transformer.
func (v *View) SetAST(ast *AST) { v.a.AST = ast }

// Map returns the current source map, or nil.
func (v *View) Map() SourceMap { return v.a.Map }

// SetMap replaces the source map.
func (v *View) SetMap(m SourceMap) { v.a.Map = m }

// Meta returns the asset's metadata bag, creating it on first use.
func (v *View) Meta() map[string]any {
	if v.a.Meta == nil {
		v.a.Meta = make(map[string]any)
	}
	return v.a.Meta
}

// AddDependency records a module reference discovered during the
// transform.
func (v *View) AddDependency(d Dependency) {
	v.newDependencies = append(v.newDependencies, d)
}

// AddConnectedFile declares a file whose change must invalidate this
// asset.
func (v *View) AddConnectedFile(cf ConnectedFile) {
	v.newConnectedFiles = append(v.newConnectedFiles, cf)
}

// Result normalizes the view into a TransformerResult by reading the
// asset's current content, map, dependencies, and connected files.
// Used when a transformer mutates its input in place rather than
// emitting explicit results.
func (v *View) Result() TransformerResult {
	return TransformerResult{
		Type:           v.a.Type,
		Content:        v.a.Content,
		AST:            v.a.AST,
		Map:            v.a.Map,
		Dependencies:   append(append([]Dependency(nil), v.a.Dependencies...), v.newDependencies...),
		ConnectedFiles: append(append([]ConnectedFile(nil), v.a.ConnectedFiles...), v.newConnectedFiles...),
		Meta:           v.a.Meta,
	}
}

// Asset returns the underlying asset. The pipeline uses this after
// the hooks have run; transformers should stick to the view methods.
func (v *View) Asset() *Asset { return v.a }
