// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the process options and the project
// configuration.
//
// Options come from a single YAML file named by the PARCEL_CONFIG
// environment variable or a --config flag. There is no automatic
// discovery of options files; this keeps configuration deterministic
// and auditable. The project configuration (.parcelrc) is separate:
// a JSON-with-comments file mapping file patterns to transformer
// chains, located relative to the project being built.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the options
// file path.
const EnvConfigPath = "PARCEL_CONFIG"

// Options are the recognized process options. An Options value is
// passed by reference into transformer hooks as the opaque
// optionsRef; it is excluded from request identity.
type Options struct {
	// Cache enables cache lookup for file requests. Inline-code
	// requests never consult the cache regardless.
	Cache bool `yaml:"cache"`

	// CacheDir is the directory holding the request cache database
	// and the request graph snapshot.
	CacheDir string `yaml:"cache_dir"`

	// StoreDir is the content-addressed asset store root.
	StoreDir string `yaml:"store_dir"`

	// LockFile, when set, drives dep-version request invalidation:
	// version sub-requests register a file-update edge on it.
	LockFile string `yaml:"lock_file,omitempty"`

	// ProjectConfig is the path of the project configuration file.
	ProjectConfig string `yaml:"project_config"`

	// Workers bounds the worker-farm pool. Zero means GOMAXPROCS.
	Workers int `yaml:"workers,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`
}

// Default returns the options used when no file is given.
func Default() *Options {
	return &Options{
		Cache:         true,
		CacheDir:      ".parcel-cache",
		StoreDir:      filepath.Join(".parcel-cache", "store"),
		ProjectConfig: ".parcelrc",
		Workers:       runtime.GOMAXPROCS(0),
		LogLevel:      "info",
	}
}

// Load reads options from the YAML file at path, applying defaults
// for unset fields.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading options file: %w", err)
	}

	opts := Default()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parsing options file %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options in %s: %w", path, err)
	}
	return opts, nil
}

// LoadFromEnv loads options from the file named by PARCEL_CONFIG,
// falling back to defaults when the variable is unset.
func LoadFromEnv() (*Options, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks option consistency.
func (o *Options) Validate() error {
	if o.CacheDir == "" {
		return fmt.Errorf("cache_dir must not be empty")
	}
	if o.StoreDir == "" {
		return fmt.Errorf("store_dir must not be empty")
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	switch o.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", o.LogLevel)
	}
	return nil
}
