// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/remotezygote/parcel/lib/asset"
	"github.com/remotezygote/parcel/lib/config"
	"github.com/remotezygote/parcel/lib/pipeline"
)

// builtinTransformer maps a plugin name to a built-in implementation.
// Unknown names get the passthrough transformer under their own name
// so pipeline structure, caching, and invalidation can be exercised
// without external plugin loading.
func builtinTransformer(name string) pipeline.Transformer {
	switch name {
	case "json":
		return &jsonTransformer{name: name}
	default:
		return &passthroughTransformer{name: name}
	}
}

// passthroughTransformer forwards content unchanged.
type passthroughTransformer struct {
	name string
}

func (t *passthroughTransformer) Name() string { return t.name }

func (t *passthroughTransformer) Transform(ctx context.Context, view *asset.View, cfg any, opts *config.Options) ([]pipeline.Result, error) {
	return []pipeline.Result{pipeline.Reify(view)}, nil
}

// jsonTransformer validates and compacts JSON content.
type jsonTransformer struct {
	name string
}

func (t *jsonTransformer) Name() string { return t.name }

func (t *jsonTransformer) Transform(ctx context.Context, view *asset.View, cfg any, opts *config.Options) ([]pipeline.Result, error) {
	code, err := view.Code()
	if err != nil {
		return nil, err
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, code); err != nil {
		return nil, fmt.Errorf("invalid JSON in %s: %w", view.FilePath(), err)
	}
	view.SetCode(compact.Bytes())
	return []pipeline.Result{pipeline.Reify(view)}, nil
}
