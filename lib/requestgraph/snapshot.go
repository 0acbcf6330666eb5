// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package requestgraph

import (
	"fmt"
	"sort"

	"github.com/remotezygote/parcel/lib/codec"
)

// snapshotVersion guards the serialized layout. Bump on any change to
// the snapshot structs; a mismatched snapshot is discarded.
const snapshotVersion = 1

type snapshotEdge struct {
	Kind    uint8  `cbor:"kind"`
	Pattern string `cbor:"pattern,omitempty"`
}

type snapshotNode struct {
	ID       string         `cbor:"id"`
	Kind     string         `cbor:"kind"`
	Edges    []snapshotEdge `cbor:"edges,omitempty"`
	Children []string       `cbor:"children,omitempty"`
}

type snapshot struct {
	Version int            `cbor:"version"`
	Nodes   []snapshotNode `cbor:"nodes"`
}

// Snapshot serializes the graph's structure: node ids, kinds,
// invalidation edges, and parent/child topology. Results are not
// serialized — they live in the cache keyed by request fingerprint.
// A restored graph lets the next process replay a filesystem journal
// and honor startup edges before any request runs.
func (g *Graph) Snapshot() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := snapshot{Version: snapshotVersion}
	for _, n := range g.nodes {
		if !n.valid {
			continue
		}
		sn := snapshotNode{ID: n.id, Kind: n.kind}
		for e := range n.edges {
			sn.Edges = append(sn.Edges, snapshotEdge{Kind: uint8(e.kind), Pattern: e.pattern})
		}
		for childID := range n.children {
			sn.Children = append(sn.Children, childID)
		}
		// Deterministic output for byte-stable snapshots.
		sort.Slice(sn.Edges, func(i, j int) bool {
			if sn.Edges[i].Kind != sn.Edges[j].Kind {
				return sn.Edges[i].Kind < sn.Edges[j].Kind
			}
			return sn.Edges[i].Pattern < sn.Edges[j].Pattern
		})
		sort.Strings(sn.Children)
		snap.Nodes = append(snap.Nodes, sn)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })

	return codec.Marshal(snap)
}

// Restore loads a snapshot into an empty graph. Restored nodes carry
// their edges and topology but no results: every request re-executes
// on first run, while invalidation bookkeeping (journal replay,
// startup edges) works immediately.
func (g *Graph) Restore(data []byte) error {
	var snap snapshot
	if err := codec.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding request graph snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("request graph snapshot version %d, want %d", snap.Version, snapshotVersion)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.nodes) > 0 {
		return fmt.Errorf("cannot restore into a non-empty request graph")
	}

	for _, sn := range snap.Nodes {
		n := &node{
			id:       sn.ID,
			kind:     sn.Kind,
			valid:    true,
			edges:    make(map[edge]struct{}, len(sn.Edges)),
			children: make(map[string]struct{}, len(sn.Children)),
			parents:  make(map[string]struct{}),
		}
		for _, se := range sn.Edges {
			n.edges[edge{kind: edgeKind(se.Kind), pattern: se.Pattern}] = struct{}{}
		}
		for _, childID := range sn.Children {
			n.children[childID] = struct{}{}
		}
		g.nodes[sn.ID] = n
	}

	// Rebuild parent back-links. Restored nodes are valid structure
	// with absent results; RunRequest re-executes them on first use,
	// while journal replay and startup edges work immediately.
	for id, n := range g.nodes {
		for childID := range n.children {
			if child, ok := g.nodes[childID]; ok {
				child.parents[id] = struct{}{}
			}
		}
	}
	return nil
}

// HasResult reports whether a node holds a memoized result that
// RunRequest would serve.
func (g *Graph) HasResult(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	return ok && n.valid && n.result != nil
}
