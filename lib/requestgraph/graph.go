// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package requestgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Request kinds. The kind namespaces the request id; ids are formed
// as "<kind>:<fingerprint>".
const (
	KindAssetRequest   = "asset_request"
	KindConfigRequest  = "parcel_config_request"
	KindVersionRequest = "dep_version_request"
)

// ErrRequestCycle is returned when a request transitively runs
// itself. Without this check two mutually dependent requests would
// deadlock on each other's in-flight markers.
var ErrRequestCycle = errors.New("requestgraph: request cycle detected")

// Request is a keyed, memoized unit of work.
type Request struct {
	// ID is the stable content-derived identity. Two requests with
	// the same ID are the same work.
	ID string

	// Kind classifies the request (asset, config, version).
	Kind string

	// Run executes the request. Invalidation edges and child
	// requests go through the api; edges registered by a failed run
	// are discarded.
	Run func(ctx context.Context, api RunAPI) (any, error)
}

// RunAPI is the surface a request's Run receives. Edge registrations
// are buffered and committed atomically with the request's success.
type RunAPI interface {
	// InvalidateOnFileUpdate re-runs this request when the file at
	// path changes.
	InvalidateOnFileUpdate(path string)

	// InvalidateOnFileDelete re-runs this request when the file at
	// path is removed.
	InvalidateOnFileDelete(path string)

	// InvalidateOnFileCreate re-runs this request when a file
	// matching the glob appears.
	InvalidateOnFileCreate(glob string)

	// InvalidateOnStartup re-runs this request on every process
	// start.
	InvalidateOnStartup()

	// RunRequest executes a child request with memoization and
	// records the parent/child edge.
	RunRequest(ctx context.Context, req Request) (any, error)
}

// Runner is anything that can execute a request: the graph itself for
// top-level requests, a RunAPI for children.
type Runner interface {
	RunRequest(ctx context.Context, req Request) (any, error)
}

// RunTyped runs a request and type-asserts its result.
func RunTyped[T any](ctx context.Context, runner Runner, req Request) (T, error) {
	result, err := runner.RunRequest(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("request %s returned %T, want %T", req.ID, result, zero)
	}
	return typed, nil
}

type edgeKind uint8

const (
	edgeFileUpdate edgeKind = iota
	edgeFileDelete
	edgeFileCreate
	edgeStartup
)

// edge is one invalidation trigger. Edges live in a set, so
// registering the same edge twice is harmless.
type edge struct {
	kind    edgeKind
	pattern string
}

type node struct {
	id     string
	kind   string
	result any
	valid  bool

	edges    map[edge]struct{}
	children map[string]struct{}
	parents  map[string]struct{}
}

// inflightRun is the dedup marker: concurrent RunRequest calls with
// the same id share one execution and receive the same result or
// error.
type inflightRun struct {
	done   chan struct{}
	result any
	err    error
}

// Graph is the request scheduler. It memoizes request results by id,
// records fine-grained invalidation edges, deduplicates concurrent
// identical work, and re-executes dirty subgraphs when the
// filesystem journal reports changes.
type Graph struct {
	logger *slog.Logger

	mu       sync.Mutex
	nodes    map[string]*node
	inflight map[string]*inflightRun
}

// New creates an empty request graph.
func New(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		logger:   logger,
		nodes:    make(map[string]*node),
		inflight: make(map[string]*inflightRun),
	}
}

// RunRequest executes a top-level request. If the request's node is
// known and not invalidated, the cached result is returned without
// re-executing Run.
func (g *Graph) RunRequest(ctx context.Context, req Request) (any, error) {
	return g.run(ctx, req, nil)
}

func (g *Graph) run(ctx context.Context, req Request, chain []string) (any, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("requestgraph: request has no id")
	}
	if slices.Contains(chain, req.ID) {
		path := append(slices.Clone(chain), req.ID)
		return nil, fmt.Errorf("%w: %s", ErrRequestCycle, strings.Join(path, " -> "))
	}

	g.mu.Lock()
	// A valid node with a nil result is restored structure from a
	// snapshot: its topology is live but the work must re-execute.
	if n, ok := g.nodes[req.ID]; ok && n.valid && n.result != nil {
		result := n.result
		g.mu.Unlock()
		return result, nil
	}
	if fl, ok := g.inflight[req.ID]; ok {
		g.mu.Unlock()
		select {
		case <-fl.done:
			return fl.result, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fl := &inflightRun{done: make(chan struct{})}
	g.inflight[req.ID] = fl
	g.mu.Unlock()

	api := &runAPI{
		graph:    g,
		chain:    append(slices.Clone(chain), req.ID),
		edges:    make(map[edge]struct{}),
		children: make(map[string]struct{}),
	}

	result, err := req.Run(ctx, api)

	g.mu.Lock()
	if err != nil {
		// The node is unresolved: no cached result, edges discarded.
		// The dedup marker is released below so future runs retry.
		g.detachLocked(req.ID)
		delete(g.nodes, req.ID)
	} else {
		g.commitLocked(req, result, api)
	}
	delete(g.inflight, req.ID)
	fl.result, fl.err = result, err
	g.mu.Unlock()
	close(fl.done)

	return result, err
}

// commitLocked stores a successful run: result, edges, and child set,
// replacing whatever the node held before.
func (g *Graph) commitLocked(req Request, result any, api *runAPI) {
	g.detachLocked(req.ID)

	n, ok := g.nodes[req.ID]
	if !ok {
		n = &node{id: req.ID, kind: req.Kind, parents: make(map[string]struct{})}
		g.nodes[req.ID] = n
	}
	n.result = result
	n.valid = true
	n.edges = api.edges
	n.children = api.children

	// Child results are committed before the parent finishes
	// (guarantee: children run to completion inside Run), so the
	// child nodes exist and can carry the back edge.
	for childID := range api.children {
		if child, ok := g.nodes[childID]; ok {
			child.parents[req.ID] = struct{}{}
		}
	}
}

// detachLocked removes the node's parent back-links from its previous
// children, preparing for a re-run or removal.
func (g *Graph) detachLocked(id string) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for childID := range n.children {
		if child, ok := g.nodes[childID]; ok {
			delete(child.parents, id)
		}
	}
	n.children = nil
	n.edges = nil
}

// runAPI buffers the edges and children a running request registers.
// Nothing lands in the graph until the run succeeds.
type runAPI struct {
	graph *Graph
	chain []string

	mu       sync.Mutex
	edges    map[edge]struct{}
	children map[string]struct{}
}

func (r *runAPI) addEdge(e edge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[e] = struct{}{}
}

func (r *runAPI) InvalidateOnFileUpdate(path string) {
	r.addEdge(edge{kind: edgeFileUpdate, pattern: path})
}

func (r *runAPI) InvalidateOnFileDelete(path string) {
	r.addEdge(edge{kind: edgeFileDelete, pattern: path})
}

func (r *runAPI) InvalidateOnFileCreate(glob string) {
	r.addEdge(edge{kind: edgeFileCreate, pattern: glob})
}

func (r *runAPI) InvalidateOnStartup() {
	r.addEdge(edge{kind: edgeStartup})
}

func (r *runAPI) RunRequest(ctx context.Context, req Request) (any, error) {
	result, err := r.graph.run(ctx, req, r.chain)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.children[req.ID] = struct{}{}
	r.mu.Unlock()
	return result, nil
}
