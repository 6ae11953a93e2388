package fixpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/extapi"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
	"github.com/oisee/absint/pkg/wto"
)

func newTestDriver(prog *ir.Program, cfg config.Config) *Driver {
	return NewDriver(prog, prog, nil, wto.New(prog), cfg, extapi.NewRegistry(), nil, nil)
}

func TestRunFunctionAppliesStatementsInOrder(t *testing.T) {
	prog := ir.NewProgram()
	fn := prog.NewVar(ir.Var{})
	entry, exit := prog.NewFunction(fn)
	mid := prog.NewNode(fn, ir.KindIntra)
	prog.AddEdge(entry, mid)
	prog.AddEdge(mid, exit)

	i := prog.NewVar(ir.Var{})
	j := prog.NewVar(ir.Var{})
	prog.SetStatements(mid, ir.CopyStmt{Lhs: j, Rhs: i})

	d := newTestDriver(prog, config.Default())
	s := state.New(prog, config.Default())
	s.Set(i, lattice.IntervalVal(lattice.Num(42)))

	out := d.RunFunction(fn, s)
	assert.Equal(t, lattice.Num(42), out.Get(j).Interval())
}

func TestRunFunctionSkipsUnreachableNode(t *testing.T) {
	prog := ir.NewProgram()
	fn := prog.NewVar(ir.Var{})
	entry, exit := prog.NewFunction(fn)
	deadEdgeSrc := prog.NewNode(fn, ir.KindIntra)
	unreachable := prog.NewNode(fn, ir.KindIntra)

	cmpRes := prog.NewVar(ir.Var{})
	j := prog.NewVar(ir.Var{})
	i := prog.NewVar(ir.Var{})

	prog.AddEdge(entry, deadEdgeSrc)
	prog.SetStatements(deadEdgeSrc, ir.CmpStmt{Res: cmpRes, Op0: i, Op1: i, Pred: 0})
	// Takes the edge only when cmpRes == 99, which it can never be since
	// Op0 == Op1 always compares equal-ish; use a constant that the
	// comparison result can never produce to force infeasibility.
	prog.AddCondEdge(deadEdgeSrc, unreachable, cmpRes, 99)
	prog.SetStatements(unreachable, ir.CopyStmt{Lhs: j, Rhs: i})
	prog.AddEdge(unreachable, exit)
	prog.AddEdge(deadEdgeSrc, exit)

	d := newTestDriver(prog, config.Default())
	s := state.New(prog, config.Default())
	s.Set(i, lattice.IntervalVal(lattice.Num(5)))

	out := d.RunFunction(fn, s)
	_, ok := d.StateAt[unreachable]
	assert.False(t, ok, "infeasible successor should never be scheduled")
	assert.NotNil(t, out)
}

func TestRunFunctionCycleWidensToUnboundedInterval(t *testing.T) {
	prog := ir.NewProgram()
	fn := prog.NewVar(ir.Var{})
	entry, exit := prog.NewFunction(fn)
	head := prog.NewNode(fn, ir.KindIntra)
	body := prog.NewNode(fn, ir.KindIntra)

	i := prog.NewVar(ir.Var{})
	one := prog.NewVar(ir.Var{ConstKind: ir.ConstInt, ConstInt: 1, HasValue: true})

	prog.AddEdge(entry, head)
	prog.AddEdge(head, body)
	prog.AddEdge(body, head) // back edge closes the cycle
	prog.AddEdge(head, exit)
	prog.SetStatements(body, ir.BinaryOpStmt{Res: i, Op0: i, Op1: one, Opcode: ir.BinAdd})

	d := newTestDriver(prog, config.Default())
	s := state.New(prog, config.Default())
	s.Set(i, lattice.IntervalVal(lattice.Num(0)))
	s.Set(one, lattice.IntervalVal(lattice.Num(1)))

	out := d.RunFunction(fn, s)
	assert.NotNil(t, out)
	assert.Empty(t, d.ContractViolations)
	assert.Nil(t, d.Aborted)

	headState, ok := d.StateAt[head]
	if assert.True(t, ok) {
		assert.True(t, headState.Get(i).Interval().Hi >= 3 || headState.Get(i).Interval().IsTop(),
			"an unbounded increment loop must widen i past the widening delay")
	}
}

func TestRunFunctionRecursiveCallUnderWidenNarrowReentersCallee(t *testing.T) {
	prog := ir.NewProgram()

	fn := prog.NewVar(ir.Var{})
	entry, exit := prog.NewFunction(fn)
	callNode, retNode := prog.NewCall(fn)
	prog.SetDirectCallee(callNode, fn)
	result := prog.NewVar(ir.Var{})
	prog.SetResultVar(callNode, result)

	prog.AddEdge(entry, callNode)
	prog.AddEdge(callNode, retNode)
	prog.AddEdge(retNode, exit)

	cg := &singleSCCGraph{}
	cfg := config.Default()
	cfg.HandleRecur = config.WidenNarrow

	d := NewDriver(prog, prog, cg, wto.New(prog), cfg, extapi.NewRegistry(), nil, nil)
	s := state.New(prog, cfg)

	out := d.RunFunction(fn, s)
	assert.NotNil(t, out)
	assert.Nil(t, d.Aborted)
}

// singleSCCGraph reports every function in the same SCC, modelling a
// self-recursive call for the dispatcher's recursion classification.
type singleSCCGraph struct{}

func (g *singleSCCGraph) SCCOf(fn ir.NodeID) int             { return 1 }
func (g *singleSCCGraph) Callees(call ir.NodeID) []ir.NodeID { return nil }
