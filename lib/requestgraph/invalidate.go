// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package requestgraph

import (
	"path"
	"path/filepath"

	"github.com/remotezygote/parcel/lib/vfs"
)

// RespondToFSEvents consumes a filesystem-change journal and marks
// nodes whose invalidation edges match as dirty, along with all of
// their ancestors. Dirty nodes re-execute on their next RunRequest;
// unaffected nodes keep serving from memory. Returns the number of
// nodes invalidated.
func (g *Graph) RespondToFSEvents(events []vfs.Event) int {
	if len(events) == 0 {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var dirty []string
	for id, n := range g.nodes {
		if !n.valid {
			continue
		}
		if nodeMatchesEvents(n, events) {
			dirty = append(dirty, id)
		}
	}

	count := 0
	for _, id := range dirty {
		count += g.invalidateLocked(id)
	}
	if count > 0 {
		g.logger.Debug("invalidated requests from fs journal",
			"events", len(events), "nodes", count)
	}
	return count
}

// InvalidateOnStartup marks every node carrying a startup edge as
// dirty. Call once when a new process adopts a restored graph.
func (g *Graph) InvalidateOnStartup() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var dirty []string
	for id, n := range g.nodes {
		if !n.valid {
			continue
		}
		if _, ok := n.edges[edge{kind: edgeStartup}]; ok {
			dirty = append(dirty, id)
		}
	}

	count := 0
	for _, id := range dirty {
		count += g.invalidateLocked(id)
	}
	return count
}

// invalidateLocked marks a node and all its ancestors dirty. A dirty
// node's result is retained until the re-run replaces it, but
// RunRequest will not serve it.
func (g *Graph) invalidateLocked(id string) int {
	n, ok := g.nodes[id]
	if !ok || !n.valid {
		return 0
	}
	n.valid = false
	count := 1
	for parentID := range n.parents {
		count += g.invalidateLocked(parentID)
	}
	return count
}

func nodeMatchesEvents(n *node, events []vfs.Event) bool {
	for _, event := range events {
		switch event.Kind {
		case vfs.EventUpdate:
			if _, ok := n.edges[edge{kind: edgeFileUpdate, pattern: event.Path}]; ok {
				return true
			}
		case vfs.EventDelete:
			if _, ok := n.edges[edge{kind: edgeFileDelete, pattern: event.Path}]; ok {
				return true
			}
		case vfs.EventCreate:
			for e := range n.edges {
				if e.kind == edgeFileCreate && globMatches(e.pattern, event.Path) {
					return true
				}
			}
		}
	}
	return false
}

// globMatches matches a file-create glob against a path. The pattern
// matches against the full path and, as a convenience for patterns
// like ".babelrc", against the base name.
func globMatches(pattern, p string) bool {
	if ok, err := path.Match(pattern, p); err == nil && ok {
		return true
	}
	if ok, err := path.Match(pattern, filepath.Base(p)); err == nil && ok {
		return true
	}
	return false
}
