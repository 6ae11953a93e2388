// Package wto builds a weak topological order over one function's ICFG,
// following Bourdoncle's "Efficient chaotic iteration strategies with
// widenings" (1993): a single recursive DFS partitions the graph into
// singletons and cycles in one pass, assigning each node a depth-first
// number and promoting any node that closes a loop into a cycle headed
// by itself.
package wto

import "github.com/oisee/absint/pkg/ir"

// WTO lazily computes and caches the weak topological order of each
// function it is asked about, implementing the ir.WTO contract consumed
// by the fixpoint driver.
type WTO struct {
	icfg ir.ICFG
	cache map[ir.NodeID][]ir.Component
}

// New returns a WTO provider backed by icfg.
func New(icfg ir.ICFG) *WTO {
	return &WTO{icfg: icfg, cache: make(map[ir.NodeID][]ir.Component)}
}

// ForFunction returns fn's weak topological order, computing it on first
// request.
func (w *WTO) ForFunction(fn ir.NodeID) []ir.Component {
	if c, ok := w.cache[fn]; ok {
		return c
	}
	c := Build(w.icfg, w.icfg.FunEntry(fn))
	w.cache[fn] = c
	return c
}

// Build runs Bourdoncle's partitioning algorithm over the subgraph
// reachable from entry and returns its top-level component list.
func Build(icfg ir.ICFG, entry ir.NodeID) []ir.Component {
	b := &builder{icfg: icfg, dfn: make(map[ir.NodeID]uint32)}
	var partition []ir.Component
	b.visit(entry, &partition)
	return partition
}

// the depth-first number UINT_MAX sentinel marking a node as fully
// closed (popped and assigned to a component).
const closedDfn = ^uint32(0)

type builder struct {
	icfg ir.ICFG
	num uint32
	dfn map[ir.NodeID]uint32
	stack []ir.NodeID
}

func (b *builder) dfnOf(n ir.NodeID) uint32 { return b.dfn[n] }

func (b *builder) push(n ir.NodeID) { b.stack = append(b.stack, n) }

func (b *builder) pop() ir.NodeID {
	n := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return n
}

func (b *builder) successors(n ir.NodeID) []ir.NodeID {
	edges := b.icfg.OutEdges(n)
	out := make([]ir.NodeID, len(edges))
	for i, e := range edges {
		out[i] = e.To
	}
	return out
}

func prepend(partition *[]ir.Component, c ir.Component) {
	*partition = append([]ir.Component{c}, *partition...)
}

// visit is the main recursive step: it assigns n a depth-first number,
// recurses into its unvisited successors, and on returning to the node
// that started the current strongly-connected region, emits either a
// Singleton (no back edge found) or a Cycle headed by n.
func (b *builder) visit(n ir.NodeID, partition *[]ir.Component) uint32 {
	b.push(n)
	b.num++
	head := b.num
	b.dfn[n] = head
	loop := false

	for _, succ := range b.successors(n) {
		var min uint32
		if succDfn := b.dfnOf(succ); succDfn == 0 {
			min = b.visit(succ, partition)
		} else {
			min = succDfn
		}
		if min <= head {
			head = min
			loop = true
		}
	}

	if head == b.dfnOf(n) {
		b.dfn[n] = closedDfn
		element := b.pop()
		if loop {
			for element != n {
				b.dfn[element] = 0
				element = b.pop()
			}
			prepend(partition, b.component(n))
		} else {
			prepend(partition, ir.Singleton{Node: n})
		}
	}
	return head
}

// component builds the Cycle headed by n: n itself, followed by the
// partition of every successor not yet assigned to a component.
func (b *builder) component(n ir.NodeID) ir.Component {
	var body []ir.Component
	for _, succ := range b.successors(n) {
		if b.dfnOf(succ) == 0 {
			b.visit(succ, &body)
		}
	}
	return ir.Cycle{Head: n, Body: append([]ir.Component{ir.Singleton{Node: n}}, body...)}
}
