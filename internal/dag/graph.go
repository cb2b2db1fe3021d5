// Package dag holds the pipeline's static dependency graph: a fixed mapping
// from stage name to the set of stage names it depends on. The graph is
// validated once at construction; execution order and failure/invalidation
// cascades are derived from it, never hard-coded in the scheduler.
package dag

import (
	"container/heap"
	"sort"
	"strings"

	"taxi-etl-pipeline/internal/model"
)

// Node declares one stage and its upstream dependencies.
type Node struct {
	Name      string
	DependsOn []string
}

// Graph is an immutable, validated DAG. Safe for concurrent reads.
type Graph struct {
	names      []string // declaration order
	index      map[string]int
	deps       map[string][]string
	dependents map[string][]string
}

// New builds and validates a Graph. A duplicate or empty stage name, an edge
// to an unknown stage, a self-loop, or any cycle is a fatal configuration
// error, not a runtime retry condition.
func New(nodes []Node) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, model.ConfigErrorf("pipeline has no stages")
	}

	g := &Graph{
		index:      make(map[string]int, len(nodes)),
		deps:       make(map[string][]string, len(nodes)),
		dependents: make(map[string][]string, len(nodes)),
	}

	for _, n := range nodes {
		if n.Name == "" {
			return nil, model.ConfigErrorf("stage name is required")
		}
		if _, dup := g.index[n.Name]; dup {
			return nil, model.ConfigErrorf("duplicate stage name: %q", n.Name)
		}
		g.index[n.Name] = len(g.names)
		g.names = append(g.names, n.Name)
	}

	for _, n := range nodes {
		seen := make(map[string]bool, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			if dep == n.Name {
				return nil, model.ConfigErrorf("stage %q depends on itself", n.Name)
			}
			if _, ok := g.index[dep]; !ok {
				return nil, model.ConfigErrorf("stage %q depends on unknown stage %q", n.Name, dep)
			}
			if seen[dep] {
				return nil, model.ConfigErrorf("stage %q declares dependency %q twice", n.Name, dep)
			}
			seen[dep] = true
			g.deps[n.Name] = append(g.deps[n.Name], dep)
			g.dependents[dep] = append(g.dependents[dep], n.Name)
		}
	}

	if _, err := g.topoOrder(); err != nil {
		return nil, err
	}
	return g, nil
}

// Names returns the stage names in declaration order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Has reports whether the graph declares the named stage.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Dependencies returns the direct upstream stages of name.
func (g *Graph) Dependencies(name string) []string {
	out := make([]string, len(g.deps[name]))
	copy(out, g.deps[name])
	return out
}

// TopologicalOrder returns a deterministic order in which every stage appears
// after all its dependencies. Ties among independent stages are broken by
// declaration order, so test runs are reproducible.
func (g *Graph) TopologicalOrder() []string {
	order, _ := g.topoOrder() // validated at construction, cannot fail
	return order
}

// Downstream returns every stage that transitively depends on name, in
// deterministic topological position order. Used for failure propagation and
// the force-rerun invalidation cascade.
func (g *Graph) Downstream(name string) []string {
	visited := map[string]bool{name: true}
	queue := append([]string(nil), g.dependents[name]...)
	reach := make(map[string]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		reach[cur] = true
		queue = append(queue, g.dependents[cur]...)
	}

	out := make([]string, 0, len(reach))
	for n := range reach {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return g.index[out[i]] < g.index[out[j]] })
	return out
}

type declHeap []int

func (h declHeap) Len() int           { return len(h) }
func (h declHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h declHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *declHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *declHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a min-heap keyed by declaration index.
func (g *Graph) topoOrder() ([]string, error) {
	indeg := make([]int, len(g.names))
	for _, name := range g.names {
		indeg[g.index[name]] = len(g.deps[name])
	}

	ready := &declHeap{}
	heap.Init(ready)
	for i, name := range g.names {
		if len(g.deps[name]) == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]string, 0, len(g.names))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		name := g.names[i]
		order = append(order, name)
		for _, dep := range g.dependents[name] {
			j := g.index[dep]
			indeg[j]--
			if indeg[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}

	if len(order) != len(g.names) {
		var stuck []string
		for i, name := range g.names {
			if indeg[i] > 0 {
				stuck = append(stuck, name)
			}
		}
		return nil, model.ConfigErrorf("cycle detected among stages: %s", strings.Join(stuck, ", "))
	}
	return order, nil
}
