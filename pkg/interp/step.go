package interp

import (
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// Step applies the transfer function for one PAG statement to s, in
// place. Call nodes' Call statement is not handled here — the call-site
// dispatcher (pkg/dispatch) runs after Step has applied every intra-node
// statement.
func Step(s *state.State, pag ir.PAG, cfg config.Config, stmt ir.Statement) {
	switch st := stmt.(type) {
	case ir.AddrStmt:
		execAddr(s, pag, st)
	case ir.CopyStmt:
		execCopy(s, st)
	case ir.GepStmt:
		execGep(s, cfg, st)
	case ir.LoadStmt:
		execLoad(s, st)
	case ir.StoreStmt:
		execStore(s, st)
	case ir.PhiStmt:
		execPhi(s, st)
	case ir.SelectStmt:
		execSelect(s, st)
	case ir.CmpStmt:
		execCmp(s, st)
	case ir.BinaryOpStmt:
		execBinary(s, st)
	case ir.UnaryOpStmt:
		execUnary(s, st)
	case ir.BranchStmt:
		// no state update; consumed by the branch-feasibility oracle.
	case ir.CallPEStmt:
		s.Set(st.Lhs, s.Get(st.Rhs))
	case ir.RetPEStmt:
		s.Set(st.Lhs, s.Get(st.Rhs))
	}
}

func execAddr(s *state.State, pag ir.PAG, st ir.AddrStmt) {
	v := pag.Node(st.Rhs)
	val := addrObjectValue(v, st.Rhs)
	if v.Type != nil && v.Type.Kind == ir.TypeInt && val.IsInterval() {
		val = lattice.IntervalVal(val.Interval().Meet(TypeRange(v.Type)))
	}
	s.Set(st.Rhs, val)
	s.Set(st.Lhs, s.Get(st.Rhs))
}

func addrObjectValue(v ir.Var, rhs ir.NodeID) lattice.AbsVal {
	switch v.ConstKind {
	case ir.ConstInt:
		return lattice.IntervalVal(lattice.Num(v.ConstInt))
	case ir.ConstFloat:
		return lattice.IntervalVal(lattice.Num(int64(v.ConstFloat)))
	case ir.ConstNull:
		return lattice.IntervalVal(lattice.Num(0))
	case ir.ConstAggregate:
		return lattice.TopVal()
	default:
		// Global values and other non-constant objects materialize as
		// their own address.
		return lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(rhs)))
	}
}

// TypeRange returns the full representable range of an integer type,
// used both for constant materialization (execAddr) and for external
// models that store an unknown-but-typed value (extapi's scanf family).
func TypeRange(t *ir.Type) lattice.Interval {
	bits := t.BitWidth()
	if bits <= 0 || bits >= 64 {
		if t.IsSignedInt() {
			return lattice.Top()
		}
		return lattice.Range(0, lattice.PosInf)
	}
	if t.IsSignedInt() {
		lo := -(int64(1) << uint(bits-1))
		hi := (int64(1) << uint(bits-1)) - 1
		return lattice.Range(lo, hi)
	}
	return lattice.Range(0, (int64(1)<<uint(bits))-1)
}

// execCopy applies the pure transfer selected by a Copy statement's kind.
// Float values are not modeled as a separate domain, so the
// float-involving casts degrade to identity/⊤ rather than a precise
// float-to-int conversion.
func execCopy(s *state.State, st ir.CopyStmt) {
	if st.CopyKind == ir.CopyIntToPtr {
		return // conservative: no update
	}
	rhs := s.Get(st.Rhs)
	switch st.CopyKind {
	case ir.CopyVal, ir.CopySExt, ir.CopyFPTrunc, ir.CopyBitCast:
		s.Set(st.Lhs, rhs)
	case ir.CopyFPToSI, ir.CopyFPToUI, ir.CopySIToFP, ir.CopyUIToFP:
		if rhs.IsInterval() {
			s.Set(st.Lhs, rhs)
		} else {
			s.Set(st.Lhs, lattice.TopVal())
		}
	case ir.CopyZExt:
		s.Set(st.Lhs, castInterval(rhs, st.DstType, false))
	case ir.CopyTrunc:
		signed := st.DstType != nil && st.DstType.IsSignedInt()
		s.Set(st.Lhs, castInterval(rhs, st.DstType, signed))
	case ir.CopyPtrToInt:
		s.Set(st.Lhs, lattice.TopVal())
	default:
		s.Set(st.Lhs, lattice.TopVal())
	}
}

func castInterval(v lattice.AbsVal, dst *ir.Type, signed bool) lattice.AbsVal {
	if !v.IsInterval() {
		return lattice.TopVal()
	}
	bits := 64
	if dst != nil {
		bits = dst.BitWidth()
	}
	if signed {
		return lattice.IntervalVal(v.Interval().CastSigned(bits))
	}
	return lattice.IntervalVal(v.Interval().CastUnsigned(bits))
}

func execGep(s *state.State, cfg config.Config, st ir.GepStmt) {
	idx := GetElementIndex(s, cfg, st)
	s.Set(st.Lhs, lattice.AddrsVal(s.GepObjAddrs(st.Rhs, idx)))
}

func execLoad(s *state.State, st ir.LoadStmt) { s.Set(st.Lhs, s.LoadValue(st.Rhs)) }

func execStore(s *state.State, st ir.StoreStmt) { s.StoreValue(st.Lhs, s.Get(st.Rhs)) }

func execCmp(s *state.State, st ir.CmpStmt) {
	s.Set(st.Res, lattice.IntervalVal(evalCmp(s.Get(st.Op0), s.Get(st.Op1), st.Pred)))
}

func execBinary(s *state.State, st ir.BinaryOpStmt) {
	a, b := s.Get(st.Op0), s.Get(st.Op1)
	if !a.IsInterval() || !b.IsInterval() {
		s.Set(st.Res, lattice.TopVal())
		return
	}
	ai, bi := a.Interval(), b.Interval()
	var out lattice.Interval
	switch st.Opcode {
	case ir.BinAdd:
		out = ai.Add(bi)
	case ir.BinSub:
		out = ai.Sub(bi)
	case ir.BinMul:
		out = ai.Mul(bi)
	case ir.BinSDiv, ir.BinUDiv:
		out = ai.Div(bi)
	case ir.BinSRem, ir.BinURem:
		out = ai.Rem(bi)
	case ir.BinAnd:
		out = ai.And(bi)
	case ir.BinOr:
		out = ai.Or(bi)
	case ir.BinXor:
		out = ai.Xor(bi)
	case ir.BinShl:
		out = ai.Shl(bi)
	case ir.BinLShr:
		out = ai.LShr(bi)
	case ir.BinAShr:
		out = ai.AShr(bi)
	default:
		out = lattice.Top()
	}
	s.Set(st.Res, lattice.IntervalVal(out))
}

func execUnary(s *state.State, st ir.UnaryOpStmt) {
	a := s.Get(st.Op)
	if !a.IsInterval() {
		s.Set(st.Res, lattice.TopVal())
		return
	}
	switch st.Opcode {
	case ir.UnNeg:
		s.Set(st.Res, lattice.IntervalVal(a.Interval().Neg()))
	case ir.UnNot:
		s.Set(st.Res, lattice.IntervalVal(a.Interval().Xor(lattice.Num(-1))))
	default:
		s.Set(st.Res, lattice.TopVal())
	}
}

func execPhi(s *state.State, st ir.PhiStmt) {
	result := lattice.BottomVal()
	for _, op := range st.OpVars {
		result = result.Join(s.Get(op))
	}
	s.Set(st.Res, result)
}

func execSelect(s *state.State, st ir.SelectStmt) {
	cond := s.Get(st.Cond)
	if cond.IsInterval() {
		if n, ok := cond.Interval().Numeral(); ok {
			if n != 0 {
				s.Set(st.Res, s.Get(st.T))
			} else {
				s.Set(st.Res, s.Get(st.F))
			}
			return
		}
	}
	s.Set(st.Res, s.Get(st.T).Join(s.Get(st.F)))
}
