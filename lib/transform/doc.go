// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package transform is the public entry of the transformation core.
//
// An asset request names a source file (or inline code blob) and an
// environment. The driver runs it through the request graph: it
// resolves the project configuration as a child request, consults
// the cache keyed by request fingerprint, executes the transformer
// pipeline in-process or through the worker farm, commits the
// produced assets to the content-addressed store, and registers
// every discovered invalidation — per-asset connected files, plugin
// config files, and dev-dependency version stamps against the lock
// file.
//
// Errors fail the one request that raised them: the graph records no
// result, siblings are unaffected, and partially registered edges
// are discarded with the failed run.
package transform
