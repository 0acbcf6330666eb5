// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline applies ordered transformer chains to assets.
//
// Each step runs four phases: config load, AST reconciliation,
// transform, and recursion over the produced children; an optional
// post-process phase rewrites the collected outputs afterwards. The
// runner never materializes an AST into code unless forced — by the
// next transformer's inability to consume it, or by pipeline
// termination with the AST still attached — so adjacent transformers
// that understand the same tree share it without regeneration.
//
// A transformer result whose type differs from the input's triggers a
// pipeline jump: the chain for the new type is resolved and, when it
// is not shallow-equal to the current one, the child restarts at its
// head. Pipelines are interned by the config subsystem, making
// reference equality on handles the correct jump test.
//
// Transformers implement any subset of the optional capability
// interfaces; only Transform is mandatory. AST contents are opaque to
// the runner — trees belong to whichever plugin produced them.
package pipeline
