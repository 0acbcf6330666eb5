// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/remotezygote/parcel/lib/vfs"
)

// DefaultProjectConfigName is the conventional project config file
// name.
const DefaultProjectConfigName = ".parcelrc"

// maxExtendsDepth bounds the extends chain. A cycle of config files
// extending each other fails here instead of recursing forever.
const maxExtendsDepth = 8

// ProjectConfig is the parsed project configuration: a mapping from
// file glob (by extension, e.g. "*.js") to the ordered list of
// transformer plugin names. The file format is JSON with comments
// and trailing commas.
type ProjectConfig struct {
	// Extends names a base config whose pipelines this one overlays.
	// Relative paths resolve against the extending file's directory.
	// Patterns declared in both keep the extending config's chain.
	Extends string `json:"extends,omitempty"`

	// Transformers maps extension globs to plugin name chains.
	Transformers map[string][]string `json:"transformers"`
}

// LoadProject reads and parses the project config at path, resolving
// its extends chain: base pipelines are merged in under the child's,
// with the child's entries winning per pattern.
func LoadProject(fsys vfs.FS, path string) (*ProjectConfig, error) {
	return loadProject(fsys, path, 0)
}

func loadProject(fsys vfs.FS, path string, depth int) (*ProjectConfig, error) {
	if depth > maxExtendsDepth {
		return nil, fmt.Errorf("project config extends chain exceeds %d levels at %s", maxExtendsDepth, path)
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading project config: %w", err)
	}
	pc, err := ParseProject(data, path)
	if err != nil {
		return nil, err
	}

	if pc.Extends != "" {
		basePath := pc.Extends
		if !filepath.IsAbs(basePath) {
			basePath = filepath.Join(filepath.Dir(path), basePath)
		}
		base, err := loadProject(fsys, basePath, depth+1)
		if err != nil {
			return nil, fmt.Errorf("loading extended config %q of %s: %w", pc.Extends, path, err)
		}

		merged := make(map[string][]string, len(base.Transformers)+len(pc.Transformers))
		for pattern, chain := range base.Transformers {
			merged[pattern] = chain
		}
		for pattern, chain := range pc.Transformers {
			merged[pattern] = chain
		}
		pc.Transformers = merged
	}

	if len(pc.Transformers) == 0 {
		return nil, fmt.Errorf("project config %s resolves to no transformers", path)
	}
	return pc, nil
}

// ParseProject parses project config bytes. The origin is only used
// in error messages. A config may declare no transformers of its own
// only when it extends a base config.
func ParseProject(data []byte, origin string) (*ProjectConfig, error) {
	var pc ProjectConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &pc); err != nil {
		return nil, fmt.Errorf("parsing project config %s: %w", origin, err)
	}
	if pc.Extends == "" && len(pc.Transformers) == 0 {
		return nil, fmt.Errorf("project config %s declares no transformers", origin)
	}
	for pattern, chain := range pc.Transformers {
		if len(chain) == 0 {
			return nil, fmt.Errorf("project config %s: empty transformer chain for %q", origin, pattern)
		}
	}
	return &pc, nil
}
