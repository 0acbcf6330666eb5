// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package asset defines the data model of the transformation core:
// environments, asset records, transformer results, and the dual
// buffer/stream content representation.
//
// An asset's identity has two anchors. File inputs use the file path
// as idBase; inline-code inputs use the content hash, so two distinct
// snippets nominally at the same path never alias. The content hash
// itself is always a pure function of the materialized bytes.
//
// Content up to [MaxBufferSize] lives in memory; above the threshold
// the buffer is discarded during the single hashing pass and the
// asset carries a re-openable stream instead.
package asset
