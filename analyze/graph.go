// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyze

import (
	"sort"

	"github.com/AleutianAI/harbormaster/workspace"
)

// DependencyGraph is the reverse adjacency map of a workspace: an edge
// A→B means "B depends on A", so a change to A cascades to B.
//
// # Description
//
// The graph is constructed once per analysis from declared
// intra-workspace dependencies and is read-only afterwards. It never
// contains self-loops (the workspace scan strips them); dependency
// cycles are permitted and traversal must not assume their absence.
//
// # Thread Safety
//
// Safe for concurrent reads after construction.
type DependencyGraph struct {
	dependents map[string][]string
}

// NewDependencyGraph builds the reverse graph from workspace packages.
func NewDependencyGraph(packages []workspace.Package) *DependencyGraph {
	dependents := make(map[string][]string, len(packages))
	for _, p := range packages {
		if _, ok := dependents[p.Scope]; !ok {
			dependents[p.Scope] = nil
		}
		for _, dep := range p.Dependencies {
			dependents[dep] = append(dependents[dep], p.Scope)
		}
	}
	for scope := range dependents {
		sort.Strings(dependents[scope])
	}
	return &DependencyGraph{dependents: dependents}
}

// Dependents returns the packages that directly depend on scope.
func (g *DependencyGraph) Dependents(scope string) []string {
	return g.dependents[scope]
}

// cascadeFrom walks the reverse graph breadth-first from the seed set.
//
// # Description
//
// Each newly reached package is recorded with the set of already
// impacted or cascaded packages that reached it. The visited set is
// seeded with the direct-impact packages, which keeps the result
// disjoint from them by construction and guarantees termination in the
// presence of dependency cycles: no package is ever queued twice.
func (g *DependencyGraph) cascadeFrom(seeds []string) map[string][]string {
	seedSet := make(map[string]bool, len(seeds))
	visited := make(map[string]bool, len(seeds))
	queue := make([]string, 0, len(seeds))
	for _, s := range seeds {
		seedSet[s] = true
		visited[s] = true
		queue = append(queue, s)
	}

	triggeredBy := make(map[string][]string)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dependent := range g.dependents[current] {
			if !visited[dependent] {
				visited[dependent] = true
				queue = append(queue, dependent)
			}
			// Record the trigger even for already-visited cascade
			// members so TriggeredBy names every path source, but
			// never for direct-impact packages.
			if !seedSet[dependent] {
				triggeredBy[dependent] = appendUnique(triggeredBy[dependent], current)
			}
		}
	}
	return triggeredBy
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
