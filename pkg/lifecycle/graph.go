// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"sort"
	"strings"
)

// DependencyGraph maps each component to the ordered set of components it
// depends on. The graph is declared once at startup and treated as
// immutable afterwards; it must be acyclic, which FindCycles verifies.
type DependencyGraph map[ComponentType][]ComponentType

// DefaultDependencyGraph returns the dependency declarations for the
// standard component set.
func DefaultDependencyGraph() DependencyGraph {
	return DependencyGraph{
		ComponentAIClient:            nil,
		ComponentProjectContext:      nil,
		ComponentConversationManager: nil,
		ComponentIntentAnalyzer: {
			ComponentAIClient,
		},
		ComponentTaskPlanner: {
			ComponentAIClient,
			ComponentProjectContext,
		},
		ComponentAdvancedContextManager: {
			ComponentProjectContext,
			ComponentConversationManager,
		},
		ComponentNaturalLanguageRouter: {
			ComponentIntentAnalyzer,
			ComponentTaskPlanner,
		},
	}
}

// Clone returns a deep copy of the graph.
func (g DependencyGraph) Clone() DependencyGraph {
	out := make(DependencyGraph, len(g))
	for t, deps := range g {
		if deps == nil {
			out[t] = nil
			continue
		}
		cp := make([]ComponentType, len(deps))
		copy(cp, deps)
		out[t] = cp
	}
	return out
}

// Declared returns every component the graph mentions, as a node or as a
// dependency of one, in deterministic order.
func (g DependencyGraph) Declared() []ComponentType {
	set := make(map[ComponentType]bool, len(g))
	for t, deps := range g {
		set[t] = true
		for _, d := range deps {
			set[d] = true
		}
	}
	out := make([]ComponentType, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DependenciesOf returns a copy of the declared dependencies of t.
func (g DependencyGraph) DependenciesOf(t ComponentType) []ComponentType {
	deps := g[t]
	if len(deps) == 0 {
		return nil
	}
	cp := make([]ComponentType, len(deps))
	copy(cp, deps)
	return cp
}

// DependentsOf returns the components that declare t as a dependency
// (reverse edges), in deterministic order.
func (g DependencyGraph) DependentsOf(t ComponentType) []ComponentType {
	var out []ComponentType
	for node, deps := range g {
		for _, d := range deps {
			if d == t {
				out = append(out, node)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Cycle is an ordered list of components forming a dependency cycle. The
// first element repeats implicitly after the last.
type Cycle []ComponentType

// String renders the cycle as "a -> b -> c -> a".
func (c Cycle) String() string {
	if len(c) == 0 {
		return ""
	}
	parts := make([]string, 0, len(c)+1)
	for _, t := range c {
		parts = append(parts, string(t))
	}
	parts = append(parts, string(c[0]))
	return strings.Join(parts, " -> ")
}

// FindCycles detects cycles in the graph using depth-first search with
// recursion-stack tracking. Each cycle is reported once, as the ordered
// list of components on it. An empty result means the graph is acyclic.
//
// This runs at startup and in diagnostics, not on the request path: the
// graph is fixed after declaration.
func (g DependencyGraph) FindCycles() []Cycle {
	nodes := make([]ComponentType, 0, len(g))
	for t := range g {
		nodes = append(nodes, t)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	visited := make(map[ComponentType]bool)
	onStack := make(map[ComponentType]bool)
	var stack []ComponentType
	var cycles []Cycle
	seen := make(map[string]bool)

	var visit func(t ComponentType)
	visit = func(t ComponentType) {
		visited[t] = true
		onStack[t] = true
		stack = append(stack, t)

		for _, dep := range g[t] {
			if !visited[dep] {
				visit(dep)
			} else if onStack[dep] {
				// Slice the current stack from the first occurrence of dep.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cyc := make(Cycle, len(stack)-start)
				copy(cyc, stack[start:])
				if key := cyc.canonical(); !seen[key] {
					seen[key] = true
					cycles = append(cycles, cyc)
				}
			}
		}

		stack = stack[:len(stack)-1]
		onStack[t] = false
	}

	for _, t := range nodes {
		if !visited[t] {
			visit(t)
		}
	}
	return cycles
}

// canonical returns a rotation-invariant key so the same cycle discovered
// from different entry points is reported once.
func (c Cycle) canonical() string {
	if len(c) == 0 {
		return ""
	}
	min := 0
	for i := range c {
		if c[i] < c[min] {
			min = i
		}
	}
	parts := make([]string, 0, len(c))
	for i := 0; i < len(c); i++ {
		parts = append(parts, string(c[(min+i)%len(c)]))
	}
	return strings.Join(parts, "|")
}
