// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// parcel-transform runs asset requests from the command line.
//
// Given a project config (.parcelrc) mapping extensions to
// transformer chains, it transforms each input file through the
// incremental core: results are cached by request fingerprint,
// content is committed to the content-addressed store, and the
// request graph snapshot is persisted across invocations so a
// subsequent run with unchanged inputs touches no transformer.
//
//	parcel-transform --cache-dir .parcel-cache src/index.js src/app.json
//
// Pass --farm to route transforms through the bounded worker pool,
// --no-cache to force re-transformation, and --dump-graph to print
// the persisted request graph in CBOR diagnostic notation.
package main
