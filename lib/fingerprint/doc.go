// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint computes content-derived identity tokens.
//
// Two domains, separated by BLAKE3 keyed hashing:
//
//   - Value: structured values (request inputs, environments) are
//     canonicalized through deterministic CBOR and hashed. Identical
//     logical values produce identical digests across processes and
//     runs regardless of map iteration order.
//
//   - Content: raw bytes (asset content, source maps, connected
//     files). [HashStream] digests a reader in a single pass while
//     feeding each chunk to an optional tap, so callers can buffer
//     and measure size concurrently with hashing.
//
// Digests are opaque equality tokens. Nothing in the system parses
// them; they are compared, used as map keys, and embedded in cache
// keys and store paths.
package fingerprint
