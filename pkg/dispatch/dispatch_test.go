package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/extapi"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

type testCallGraph struct {
	scc map[ir.NodeID]int
}

func (g *testCallGraph) SCCOf(fn ir.NodeID) int { return g.scc[fn] }
func (g *testCallGraph) Callees(call ir.NodeID) []ir.NodeID { return nil }

func TestDispatchExternalBindsResult(t *testing.T) {
	prog := ir.NewProgram()
	s := state.New(prog, config.Default())

	arg0 := prog.NewVar(ir.Var{})
	s.Set(arg0, lattice.IntervalVal(lattice.Num('a')))

	fn := prog.NewVar(ir.Var{})
	prog.SetFunctionName(fn, "isalpha")
	call, _ := prog.NewCall(0)
	prog.SetDirectCallee(call, fn)
	prog.SetArguments(call, []ir.NodeID{arg0})
	result := prog.NewVar(ir.Var{})
	prog.SetResultVar(call, result)

	d := New(prog, prog, nil, config.Default(), extapi.NewRegistry(), nil, nil, nil, nil)
	out, err := d.Dispatch(s, call)
	assert.NoError(t, err)
	assert.Equal(t, lattice.Num(1), out.Get(result).Interval())
}

func TestDispatchDirectCallRunsCalleeFixpoint(t *testing.T) {
	prog := ir.NewProgram()
	calleeID := ir.NodeID(900)
	entry, exit := prog.NewFunction(calleeID)
	_ = entry
	_ = exit
	prog.SetFunctionName(calleeID, "callee")

	call, _ := prog.NewCall(0)
	prog.SetDirectCallee(call, calleeID)

	cg := &testCallGraph{scc: map[ir.NodeID]int{0: 1, calleeID: 2}}

	ranWith := ir.NodeID(0)
	runFull := func(fn ir.NodeID, entryState *state.State) *state.State {
		ranWith = fn
		return entryState
	}

	s := state.New(prog, config.Default())
	d := New(prog, prog, cg, config.Default(), extapi.NewRegistry(), nil, nil, runFull, nil)
	_, err := d.Dispatch(s, call)
	assert.NoError(t, err)
	assert.Equal(t, calleeID, ranWith)
}

func TestDispatchRecursiveHavocsWithoutRunningCallee(t *testing.T) {
	prog := ir.NewProgram()
	calleeID := ir.NodeID(900)
	prog.NewFunction(calleeID)

	call, _ := prog.NewCall(calleeID)
	prog.SetDirectCallee(call, calleeID)
	result := prog.NewVar(ir.Var{})
	prog.SetResultVar(call, result)
	s := state.New(prog, config.Default())
	s.Set(result, lattice.IntervalVal(lattice.Num(7)))

	cg := &testCallGraph{scc: map[ir.NodeID]int{calleeID: 5}}

	runFullCalled := false
	runFull := func(fn ir.NodeID, entryState *state.State) *state.State {
		runFullCalled = true
		return entryState
	}

	cfg := config.Default()
	cfg.HandleRecur = config.Top
	d := New(prog, prog, cg, cfg, extapi.NewRegistry(), nil, nil, runFull, nil)
	out, err := d.Dispatch(s, call)
	assert.NoError(t, err)
	assert.False(t, runFullCalled)
	assert.True(t, out.Get(result).Interval().IsTop())
}

func TestDispatchRecursiveWidenNarrowRunsOnceWhenNotActive(t *testing.T) {
	prog := ir.NewProgram()
	calleeID := ir.NodeID(900)
	prog.NewFunction(calleeID)

	call, _ := prog.NewCall(calleeID)
	prog.SetDirectCallee(call, calleeID)

	cg := &testCallGraph{scc: map[ir.NodeID]int{calleeID: 5}}
	runFullCalled := false
	runFull := func(fn ir.NodeID, entryState *state.State) *state.State {
		runFullCalled = true
		return entryState
	}

	cfg := config.Default()
	cfg.HandleRecur = config.WidenNarrow
	s := state.New(prog, config.Default())
	d := New(prog, prog, cg, cfg, extapi.NewRegistry(), nil, nil, runFull, nil)
	_, err := d.Dispatch(s, call)
	assert.NoError(t, err)
	assert.True(t, runFullCalled)
}
