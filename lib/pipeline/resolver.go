// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"

	"github.com/remotezygote/parcel/lib/asset"
)

// ExtensionResolver maps asset types (file extensions) to interned
// pipelines. It is the in-process implementation of the config
// service's pipeline lookup: pipelines are built once, so repeated
// resolution of the same type returns the identical slice and
// shallow equality holds.
type ExtensionResolver struct {
	byType map[string]Pipeline
}

// NewExtensionResolver builds a resolver over a type -> pipeline map.
func NewExtensionResolver(byType map[string]Pipeline) *ExtensionResolver {
	return &ExtensionResolver{byType: byType}
}

// ResolvePipeline returns the pipeline for the file's
// extension-derived type.
func (r *ExtensionResolver) ResolvePipeline(filePath string) (Pipeline, error) {
	t := asset.TypeFromPath(filePath)
	p, ok := r.byType[t]
	if !ok || len(p) == 0 {
		return nil, fmt.Errorf("%w: %q (%s)", ErrNoPipeline, t, filePath)
	}
	return p, nil
}
