package pipeline

import (
	"container/heap"
	"sort"
)

// Graph is an immutable, validated task graph.
//
// It is safe for concurrent read access.
type Graph[S any] struct {
	nodes    []*task[S]
	index    map[TaskID]int
	outgoing [][]int // sorted ascending
	incoming [][]int // sorted ascending
	order    []int   // topological
}

func newGraph[S any](nodes []*task[S], outgoing [][]int) (*Graph[S], error) {
	g := &Graph[S]{
		nodes:    nodes,
		index:    make(map[TaskID]int, len(nodes)),
		outgoing: outgoing,
		incoming: make([][]int, len(nodes)),
	}
	for i, n := range nodes {
		g.index[n.id] = i
	}
	for from := range outgoing {
		sort.Ints(outgoing[from])
		for _, to := range outgoing[from] {
			g.incoming[to] = append(g.incoming[to], from)
		}
	}
	for i := range g.incoming {
		sort.Ints(g.incoming[i])
	}

	g.order = g.topoOrderIndices()
	if len(g.order) != len(nodes) {
		return nil, cycleError(g.findCycle())
	}
	return g, nil
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a topological order; among ready tasks the one
// registered first runs first.
func (g *Graph[S]) topoOrderIndices() []int {
	indeg := make([]int, len(g.nodes))
	for i := range g.incoming {
		indeg[i] = len(g.incoming[i])
	}

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle returns one cycle as a path that starts and ends with the same
// task.
func (g *Graph[S]) findCycle() []TaskID {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]TaskID, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.nodes[cycle[i]].id)
	}
	return out
}

// Tasks returns all task IDs in execution order.
func (g *Graph[S]) Tasks() []TaskID {
	out := make([]TaskID, 0, len(g.order))
	for _, i := range g.order {
		out = append(out, g.nodes[i].id)
	}
	return out
}

// Has reports whether id is part of the graph.
func (g *Graph[S]) Has(id TaskID) bool {
	_, ok := g.index[id]
	return ok
}

// Dependencies returns the direct dependencies of id.
func (g *Graph[S]) Dependencies(id TaskID) []TaskID {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.incoming[i])
}

// Dependents returns the tasks that directly depend on id.
func (g *Graph[S]) Dependents(id TaskID) []TaskID {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.outgoing[i])
}

// Ancestors returns every task id transitively depends on.
func (g *Graph[S]) Ancestors(id TaskID) []TaskID {
	return g.reach(id, g.incoming)
}

// Descendants returns every task that transitively depends on id.
func (g *Graph[S]) Descendants(id TaskID) []TaskID {
	return g.reach(id, g.outgoing)
}

func (g *Graph[S]) reach(id TaskID, adj [][]int) []TaskID {
	start, ok := g.index[id]
	if !ok {
		return nil
	}
	seen := make([]bool, len(g.nodes))
	stack := append([]int(nil), adj[start]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, adj[n]...)
	}
	var out []int
	for i, ok := range seen {
		if ok {
			out = append(out, i)
		}
	}
	return g.ids(out)
}

func (g *Graph[S]) ids(indices []int) []TaskID {
	out := make([]TaskID, 0, len(indices))
	for _, i := range indices {
		out = append(out, g.nodes[i].id)
	}
	return out
}

// Restrict returns the sub-graph of the tasks for which keep returns true.
// Ordering between kept tasks that was established through removed tasks is
// preserved.
func (g *Graph[S]) Restrict(keep func(TaskID) bool) (*Graph[S], error) {
	mapping := make([]int, len(g.nodes))
	var nodes []*task[S]
	for i, n := range g.nodes {
		mapping[i] = -1
		if keep(n.id) {
			mapping[i] = len(nodes)
			nodes = append(nodes, &task[S]{id: n.id, action: n.action, noAction: n.noAction, index: len(nodes)})
		}
	}
	if len(nodes) == 0 {
		return nil, invalidf("no tasks")
	}

	outgoing := make([][]int, len(nodes))
	for i := range g.nodes {
		from := mapping[i]
		if from < 0 {
			continue
		}
		for _, d := range g.reachIndices(i, func(j int) bool { return mapping[j] >= 0 }) {
			outgoing[from] = append(outgoing[from], mapping[d])
		}
	}
	return newGraph(nodes, outgoing)
}

// reachIndices returns the nearest tasks reachable from start for which stop
// returns true, without walking past them.
func (g *Graph[S]) reachIndices(start int, stop func(int) bool) []int {
	seen := make([]bool, len(g.nodes))
	var out []int
	stack := append([]int(nil), g.outgoing[start]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		if stop(n) {
			out = append(out, n)
			continue
		}
		stack = append(stack, g.outgoing[n]...)
	}
	sort.Ints(out)
	return out
}
