// Package branch implements the branch-feasibility oracle:
// given a post-state at a conditional edge's source node, decide whether
// the edge can be taken and, if so, refine the propagated state with
// whatever the comparison (or switch key) establishes along that edge.
package branch

import (
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// Feasible decides whether edge can be taken from post-state s, returning
// the (possibly refined) state to propagate to the edge's target and
// true, or nil and false when the edge is provably dead. stmts is the PAG statement list
// of the edge's source ICFG node, used to locate the defining Cmp (or,
// for a switch-like edge, to walk backward through the producing Copy
// and Load) per the "at most one Copy, then at most one Load" contract.
func Feasible(s *state.State, edge ir.Edge, stmts []ir.Statement) (*state.State, bool) {
	if !edge.Conditional {
		return s, true
	}
	res := edge.Condition
	if s.Get(res).IsBottom() {
		return s, true
	}
	if cmp, ok := findCmp(stmts, res); ok {
		return refineCmp(s, cmp, edge.SuccCondValue, stmts)
	}
	return refineSwitchKey(s, res, edge.SuccCondValue, stmts)
}

func refineCmp(s *state.State, cmp ir.CmpStmt, succ int64, stmts []ir.Statement) (*state.State, bool) {
	resVal := s.Get(cmp.Res)
	if !resVal.IsInterval() {
		return s, true
	}
	meetSucc := resVal.Interval().Meet(lattice.Num(succ))
	if meetSucc.IsBottom() {
		return nil, false
	}

	out := s.Clone()
	out.Set(cmp.Res, lattice.IntervalVal(meetSucc))

	if cmp.Pred == ir.CmpFalse || cmp.Pred == ir.CmpTrue {
		return out, true
	}

	a, c, pred, ok := normalize(out, cmp)
	if !ok {
		return out, true
	}
	if succ == 0 {
		pred = pred.Invert()
	}

	switch pred {
	case ir.CmpEq:
		refineVar(out, a, lattice.Num(c), stmts)
	case ir.CmpGt:
		refineVar(out, a, lattice.Range(c+1, lattice.PosInf), stmts)
	case ir.CmpGe:
		refineVar(out, a, lattice.Range(c, lattice.PosInf), stmts)
	case ir.CmpLt:
		refineVar(out, a, lattice.Range(lattice.NegInf, c-1), stmts)
	case ir.CmpLe:
		refineVar(out, a, lattice.Range(lattice.NegInf, c), stmts)
	// CmpNe: complement of a singleton is not an interval, no refinement.
	default:
	}
	return out, true
}

// normalize picks the operand of cmp that is not (yet) known to be a
// numeral as "a", the other's numeral value as "c", and swaps the
// predicate when the numeral side had to move from left to right.
func normalize(s *state.State, cmp ir.CmpStmt) (ir.NodeID, int64, ir.Predicate, bool) {
	an, aok := numeralOf(s.Get(cmp.Op0))
	bn, bok := numeralOf(s.Get(cmp.Op1))
	switch {
	case !aok && bok:
		return cmp.Op0, bn, cmp.Pred, true
	case aok && !bok:
		return cmp.Op1, an, cmp.Pred.Swap(), true
	default:
		return 0, 0, cmp.Pred, false
	}
}

func numeralOf(v lattice.AbsVal) (int64, bool) {
	if !v.IsInterval() {
		return 0, false
	}
	return v.Interval().Numeral()
}

func refineVar(s *state.State, a ir.NodeID, refine lattice.Interval, stmts []ir.Statement) {
	cur := s.Get(a)
	if !cur.IsInterval() {
		return
	}
	s.Set(a, lattice.IntervalVal(cur.Interval().Meet(refine)))
	propagateThroughMemory(s, a, refine, stmts)
}

// refineSwitchKey implements step 3: res has no defining
// Cmp, so it is itself the switch key.
func refineSwitchKey(s *state.State, k ir.NodeID, succ int64, stmts []ir.Statement) (*state.State, bool) {
	cur := s.Get(k)
	if !cur.IsInterval() {
		return s, true
	}
	refined := cur.Interval().Meet(lattice.Num(succ))
	if refined.IsBottom() {
		return nil, false
	}
	out := s.Clone()
	out.Set(k, lattice.IntervalVal(refined))
	propagateThroughMemory(out, k, refined, stmts)
	return out, true
}

// propagateThroughMemory walks backward at most one Copy edge and then
// at most one Load edge from v, and if that chain exists, meets every
// memory cell addressed by the Load's pointer with refine too.
func propagateThroughMemory(s *state.State, v ir.NodeID, refine lattice.Interval, stmts []ir.Statement) {
	copyStmt, ok := findCopyProducing(stmts, v)
	if !ok {
		return
	}
	loadStmt, ok := findLoadProducing(stmts, copyStmt.Rhs)
	if !ok {
		return
	}
	ptr := s.Get(loadStmt.Rhs)
	ptr.Addrs().Each(func(addr uint32) {
		cell := s.Load(addr)
		if cell.IsInterval() {
			s.Store(addr, lattice.IntervalVal(cell.Interval().Meet(refine)))
		}
	})
}

func findCmp(stmts []ir.Statement, res ir.NodeID) (ir.CmpStmt, bool) {
	for _, st := range stmts {
		if c, ok := st.(ir.CmpStmt); ok && c.Res == res {
			return c, true
		}
	}
	return ir.CmpStmt{}, false
}

func findCopyProducing(stmts []ir.Statement, v ir.NodeID) (ir.CopyStmt, bool) {
	for _, st := range stmts {
		if c, ok := st.(ir.CopyStmt); ok && c.Lhs == v {
			return c, true
		}
	}
	return ir.CopyStmt{}, false
}

func findLoadProducing(stmts []ir.Statement, v ir.NodeID) (ir.LoadStmt, bool) {
	for _, st := range stmts {
		if l, ok := st.(ir.LoadStmt); ok && l.Lhs == v {
			return l, true
		}
	}
	return ir.LoadStmt{}, false
}
