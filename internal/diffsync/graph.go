package diffsync

import (
	"fmt"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/diffsync/internal/perspective"
)

// NullNode anchors every parent-less node of a Graph so that all nodes share
// one root.
var NullNode = gocid.Undef

// Graph is a child -> parent adjacency view over a set of revision nodes.
type Graph struct {
	index   map[gocid.Cid]int
	nodes   []gocid.Cid
	parents [][]int
}

func newGraph() *Graph {
	g := &Graph{index: make(map[gocid.Cid]int)}
	g.addNode(NullNode)
	return g
}

func (g *Graph) addNode(h gocid.Cid) int {
	if i, ok := g.index[h]; ok {
		return i
	}
	i := len(g.nodes)
	g.index[h] = i
	g.nodes = append(g.nodes, h)
	g.parents = append(g.parents, nil)
	return i
}

// buildGraph creates a graph from nodes in topological order. Parents that
// are not part of the set are ignored; a node left without parents is
// attached to NullNode.
func buildGraph(sorted []gocid.Cid, entries map[gocid.Cid]perspective.EntryReference) *Graph {
	g := newGraph()
	for _, h := range sorted {
		g.addNode(h)
	}
	for _, h := range sorted {
		child := g.index[h]
		for _, p := range entries[h].Parents {
			if pi, ok := g.index[p]; ok && !p.Equals(NullNode) {
				g.parents[child] = append(g.parents[child], pi)
			}
		}
		if len(g.parents[child]) == 0 {
			g.parents[child] = []int{g.index[NullNode]}
		}
	}
	return g
}

// Len returns the number of nodes including NullNode.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Contains reports whether h is a node of the graph.
func (g *Graph) Contains(h gocid.Cid) bool {
	_, ok := g.index[h]
	return ok
}

// Paths enumerates every simple path from child down to ancestor following
// parent edges. Each path starts with child and ends with ancestor. The
// result is empty when ancestor is not reachable.
func (g *Graph) Paths(child, ancestor gocid.Cid) ([][]gocid.Cid, error) {
	from, ok := g.index[child]
	if !ok {
		return nil, fmt.Errorf("%w: must get parent index after building graph: %s", ErrInternal, child)
	}
	to, ok := g.index[ancestor]
	if !ok {
		return nil, fmt.Errorf("%w: must get parent index after building graph: %s", ErrInternal, ancestor)
	}

	var (
		paths   [][]gocid.Cid
		stack   = []int{from}
		onStack = map[int]bool{from: true}
		walk    func(int)
	)
	walk = func(n int) {
		if n == to {
			path := make([]gocid.Cid, len(stack))
			for i, idx := range stack {
				path[i] = g.nodes[idx]
			}
			paths = append(paths, path)
			return
		}
		for _, p := range g.parents[n] {
			if onStack[p] {
				continue
			}
			onStack[p] = true
			stack = append(stack, p)
			walk(p)
			stack = stack[:len(stack)-1]
			onStack[p] = false
		}
	}
	walk(from)
	return paths, nil
}
