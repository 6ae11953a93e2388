package wto

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oisee/absint/pkg/ir"
)

func componentNodes(c ir.Component) []ir.NodeID {
	switch v := c.(type) {
	case ir.Singleton:
		return []ir.NodeID{v.Node}
	case ir.Cycle:
		var out []ir.NodeID
		for _, inner := range v.Body {
			out = append(out, componentNodes(inner)...)
		}
		return out
	default:
		return nil
	}
}

func allNodes(cs []ir.Component) []ir.NodeID {
	var out []ir.NodeID
	for _, c := range cs {
		out = append(out, componentNodes(c)...)
	}
	return out
}

func TestBuildLinearChainIsAllSingletons(t *testing.T) {
	prog := ir.NewProgram()
	fn := ir.NodeID(100)
	entry, exit := prog.NewFunction(fn)
	mid := prog.NewNode(fn, ir.KindIntra)
	prog.AddEdge(entry, mid)
	prog.AddEdge(mid, exit)

	comps := Build(prog, entry)
	assert.Len(t, comps, 3)
	for _, c := range comps {
		_, isSingleton := c.(ir.Singleton)
		assert.True(t, isSingleton)
	}
	assert.Equal(t, []ir.NodeID{entry, mid, exit}, allNodes(comps))
}

func TestBuildSimpleLoopProducesOneCycle(t *testing.T) {
	prog := ir.NewProgram()
	fn := ir.NodeID(100)
	entry, exit := prog.NewFunction(fn)
	header := prog.NewNode(fn, ir.KindIntra)
	body := prog.NewNode(fn, ir.KindIntra)

	prog.AddEdge(entry, header)
	prog.AddEdge(header, body)
	prog.AddEdge(body, header) // back edge
	prog.AddEdge(header, exit)

	comps := Build(prog, entry)
	assert.Len(t, comps, 3) // entry, cycle(header), exit

	cycle, ok := comps[1].(ir.Cycle)
	if !assert.True(t, ok, "expected a cycle at position 1") {
		return
	}
	assert.Equal(t, header, cycle.Head)
	assert.Equal(t, []ir.NodeID{header, body}, componentNodes(cycle))
}

func TestBuildNestedLoopsProduceNestedCycles(t *testing.T) {
	prog := ir.NewProgram()
	fn := ir.NodeID(100)
	entry, exit := prog.NewFunction(fn)
	outer := prog.NewNode(fn, ir.KindIntra)
	inner := prog.NewNode(fn, ir.KindIntra)
	innerBody := prog.NewNode(fn, ir.KindIntra)

	prog.AddEdge(entry, outer)
	prog.AddEdge(outer, inner)
	prog.AddEdge(inner, innerBody)
	prog.AddEdge(innerBody, inner) // inner back edge
	prog.AddEdge(inner, outer)     // outer back edge
	prog.AddEdge(outer, exit)

	comps := Build(prog, entry)
	outerCycle, ok := comps[1].(ir.Cycle)
	if !assert.True(t, ok) {
		return
	}
	assert.Equal(t, outer, outerCycle.Head)

	var innerCycle ir.Cycle
	found := false
	for _, c := range outerCycle.Body {
		if cyc, ok := c.(ir.Cycle); ok {
			innerCycle = cyc
			found = true
		}
	}
	assert.True(t, found, "expected a nested cycle headed by inner")
	assert.Equal(t, inner, innerCycle.Head)
}

func TestWTOForFunctionCaches(t *testing.T) {
	prog := ir.NewProgram()
	fn := ir.NodeID(100)
	entry, exit := prog.NewFunction(fn)
	prog.AddEdge(entry, exit)

	w := New(prog)
	first := w.ForFunction(fn)
	second := w.ForFunction(fn)
	assert.Equal(t, first, second)
}
