// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package requestgraph schedules and memoizes keyed units of work.
//
// Every request carries a content-derived id. Running a request whose
// node is known and not invalidated returns the stored result without
// executing; otherwise the request runs with an api through which it
// registers invalidation edges (file update, file delete, file-create
// glob, startup) and child requests. Edges land in the graph
// atomically with the run's success — a failed run leaves no trace
// and releases its dedup marker so the next caller retries.
//
// Concurrent runs of the same id share a single execution; both
// callers see the same result or error. A request that transitively
// runs itself fails with [ErrRequestCycle] instead of deadlocking.
//
// At the start of a build the graph consumes a filesystem-change
// journal: nodes whose edges match an event go dirty together with
// all their ancestors, and everything else keeps serving from memory.
// The structure (not the results) can be snapshotted to disk so a new
// process replays the journal and startup edges before its first
// request.
package requestgraph
