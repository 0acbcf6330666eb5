// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/remotezygote/parcel/lib/codec"
	"github.com/remotezygote/parcel/lib/config"
	"github.com/remotezygote/parcel/lib/fingerprint"
	"github.com/remotezygote/parcel/lib/pipeline"
	"github.com/remotezygote/parcel/lib/requestgraph"
)

// ProjectConfigResult is the result of the project configuration
// sub-request: the resolved config file and the serialized copy
// workers load instead of receiving a live config object.
type ProjectConfigResult struct {
	ConfigPath string `cbor:"configPath"`
	CachePath  string `cbor:"cachePath"`
}

// ConfigRequestResult is the result of a plugin config sub-request.
type ConfigRequestResult struct {
	ResolvedPath              string            `cbor:"resolvedPath,omitempty"`
	IncludedFiles             []string          `cbor:"includedFiles,omitempty"`
	WatchGlob                 string            `cbor:"watchGlob,omitempty"`
	ShouldInvalidateOnStartup bool              `cbor:"shouldInvalidateOnStartup"`
	DevDeps                   map[string]string `cbor:"devDeps,omitempty"`
}

// projectConfigRequest resolves the project configuration, serializes
// it into the cache directory for worker consumption, and registers
// its invalidation edges.
func (d *Driver) projectConfigRequest() requestgraph.Request {
	configPath := d.Options.ProjectConfig
	fp := fingerprint.String(configPath)
	return requestgraph.Request{
		ID:   requestgraph.KindConfigRequest + ":" + fp,
		Kind: requestgraph.KindConfigRequest,
		Run: func(ctx context.Context, api requestgraph.RunAPI) (any, error) {
			realpath, err := d.FS.Realpath(configPath)
			if err != nil {
				return nil, fmt.Errorf("resolving project config: %w", err)
			}
			api.InvalidateOnFileUpdate(realpath)
			api.InvalidateOnFileDelete(realpath)
			// A closer config file appearing anywhere in the project
			// must win over the current one.
			api.InvalidateOnFileCreate(config.DefaultProjectConfigName)

			project, err := config.LoadProject(d.FS, realpath)
			if err != nil {
				return nil, err
			}

			encoded, err := codec.Marshal(project)
			if err != nil {
				return nil, fmt.Errorf("serializing project config: %w", err)
			}
			cachePath := filepath.Join(d.Options.CacheDir, "config-"+fingerprint.Bytes(encoded)[:16]+".cbor")
			if err := os.MkdirAll(d.Options.CacheDir, 0o755); err != nil {
				return nil, fmt.Errorf("creating cache directory: %w", err)
			}
			if err := os.WriteFile(cachePath, encoded, 0o644); err != nil {
				return nil, fmt.Errorf("writing project config cache: %w", err)
			}

			return ProjectConfigResult{ConfigPath: realpath, CachePath: cachePath}, nil
		},
	}
}

// configRequest registers a plugin config's invalidation edges as a
// child node in the graph.
func (d *Driver) configRequest(cr pipeline.ConfigRequest) requestgraph.Request {
	fp, _ := fingerprint.Value(cr)
	return requestgraph.Request{
		ID:   requestgraph.KindConfigRequest + ":" + fp,
		Kind: requestgraph.KindConfigRequest,
		Run: func(ctx context.Context, api requestgraph.RunAPI) (any, error) {
			if cr.ResolvedPath != "" {
				// Edges are a set; duplicate registrations collapse.
				api.InvalidateOnFileUpdate(cr.ResolvedPath)
				api.InvalidateOnFileDelete(cr.ResolvedPath)
			}
			for _, included := range cr.IncludedFiles {
				api.InvalidateOnFileUpdate(included)
			}
			if cr.WatchGlob != "" {
				api.InvalidateOnFileCreate(cr.WatchGlob)
			}
			if cr.InvalidateOnStartup {
				api.InvalidateOnStartup()
			}
			return ConfigRequestResult{
				ResolvedPath:              cr.ResolvedPath,
				IncludedFiles:             cr.IncludedFiles,
				WatchGlob:                 cr.WatchGlob,
				ShouldInvalidateOnStartup: cr.InvalidateOnStartup,
				DevDeps:                   cr.DevDeps,
			}, nil
		},
	}
}

// versionRequest tracks one dev dependency's version stamp. When a
// lock file is configured, the node re-runs on lock-file changes so
// plugin upgrades invalidate the assets they produced.
//
// resolveFrom is the resolved config path. The nearest package
// boundary would be more precise; the config path is a known coarse
// approximation retained from the original behavior.
func (d *Driver) versionRequest(specifier, version, resolveFrom string) requestgraph.Request {
	fp, _ := fingerprint.Value(struct {
		Specifier   string `cbor:"specifier"`
		ResolveFrom string `cbor:"resolveFrom,omitempty"`
	}{specifier, resolveFrom})
	return requestgraph.Request{
		ID:   requestgraph.KindVersionRequest + ":" + fp,
		Kind: requestgraph.KindVersionRequest,
		Run: func(ctx context.Context, api requestgraph.RunAPI) (any, error) {
			if d.Options.LockFile != "" {
				api.InvalidateOnFileUpdate(d.Options.LockFile)
			}
			return version, nil
		},
	}
}
