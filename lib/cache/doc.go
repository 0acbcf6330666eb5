// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache persists the results of successful asset requests.
//
// Keys are request fingerprints (file path + environment); values are
// CBOR-encoded entries listing the produced assets by their blob keys
// in the asset store. Entries for inline-code requests are never
// written or served: their identity already includes the content, and
// the caller opts out to avoid cross-source aliasing through the
// nominal file path.
//
// A retrieved entry is only trusted after [CheckCachedAssets]
// re-hashes every asset's connected files. Corrupt entries decode as
// misses, never as errors.
package cache
