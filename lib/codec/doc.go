// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding and decoding.
//
// All persisted metadata (cache entries, stored asset records, request
// graph snapshots) and all structured-value fingerprints go through
// this package. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2), so the same logical value always produces identical bytes —
// a requirement for content-derived identity: two processes hashing
// the same request input must arrive at the same fingerprint.
//
// Struct types use cbor struct tags where field names matter on disk;
// fxamacker/cbor also falls back to json tags, so types shared with
// JSON surfaces round-trip through both encoders.
package codec
