// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package assetstore persists intermediate assets in a local
// content-addressed store.
//
// Blobs are keyed by content fingerprint and written atomically
// through a temp directory, so a crash never leaves a partial blob
// under its final name. Commits are idempotent on the key and
// concurrent commits of the same key coalesce into one write.
//
// Each blob carries a one-byte compression tag plus the uncompressed
// size. Source text compresses with zstd, unknown or binary content
// with LZ4, and incompressible input falls back to raw storage. Reads
// verify the content digest against the key; any readback failure
// surfaces as [ErrNotFound] — a cache miss, never a fatal error.
//
// The store also owns connected-file validation: re-hashing the files
// an asset declared as inputs and reporting whether any changed since
// the asset was produced.
package assetstore
