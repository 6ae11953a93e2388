// Package allocsize traces a pointer backward to the allocation it was
// derived from and returns the number of bytes remaining from the current
// offset to the end of that allocation, for the buffer-overflow detector.
// It reuses the GEP byte-offset arithmetic in pkg/interp rather than
// re-deriving it.
package allocsize

import (
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/interp"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// DefIndex maps every PAG variable to the statement that defines it,
// built once per analysis run.
type DefIndex struct {
	def map[ir.NodeID]ir.Statement
}

// BuildDefIndex scans every ICFG node's statements and indexes them by
// result variable.
func BuildDefIndex(icfg ir.ICFG, pag ir.PAG) *DefIndex {
	d := &DefIndex{def: make(map[ir.NodeID]ir.Statement)}
	for _, n := range icfg.Nodes() {
		for _, st := range pag.StatementsOf(n) {
			if res, ok := resultOf(st); ok {
				d.def[res] = st
			}
		}
	}
	return d
}

func resultOf(st ir.Statement) (ir.NodeID, bool) {
	switch s := st.(type) {
	case ir.AddrStmt:
		return s.Lhs, true
	case ir.CopyStmt:
		return s.Lhs, true
	case ir.GepStmt:
		return s.Lhs, true
	case ir.LoadStmt:
		return s.Lhs, true
	case ir.PhiStmt:
		return s.Res, true
	case ir.SelectStmt:
		return s.Res, true
	case ir.CmpStmt:
		return s.Res, true
	case ir.BinaryOpStmt:
		return s.Res, true
	case ir.UnaryOpStmt:
		return s.Res, true
	case ir.CallPEStmt:
		return s.Lhs, true
	case ir.RetPEStmt:
		return s.Lhs, true
	}
	return 0, false
}

// AllocSize returns the interval of bytes remaining between ptr's current
// value and the end of the allocation it traces back to. Returns Top
// when the trace cannot establish a bound (conservative: "always safe").
func (d *DefIndex) AllocSize(pag ir.PAG, cfg config.Config, s *state.State, ptr ir.NodeID) lattice.Interval {
	return d.trace(pag, cfg, s, ptr, lattice.Num(0), make(map[ir.NodeID]bool))
}

func (d *DefIndex) trace(pag ir.PAG, cfg config.Config, s *state.State, v ir.NodeID, accum lattice.Interval, visited map[ir.NodeID]bool) lattice.Interval {
	if visited[v] {
		return lattice.Top()
	}
	visited[v] = true

	vr := pag.Node(v)
	if vr.HasBaseObj {
		obj := pag.BaseObject(vr.BaseObjectID)
		var total lattice.Interval
		if obj.IsConstantByteSize {
			total = lattice.Num(int64(obj.ByteSize))
		} else {
			total = lattice.Range(0, int64(cfg.MaxFieldLimit))
		}
		return total.Sub(accum)
	}
	if vr.IsGlobal {
		return lattice.Range(0, int64(cfg.MaxFieldLimit)).Sub(accum)
	}

	st, ok := d.def[v]
	if !ok {
		return lattice.Top()
	}
	switch stmt := st.(type) {
	case ir.AddrStmt:
		return d.trace(pag, cfg, s, stmt.Rhs, accum, visited)
	case ir.CopyStmt:
		return d.trace(pag, cfg, s, stmt.Rhs, accum, visited)
	case ir.LoadStmt:
		// Approximation: trace through the loaded pointer itself rather
		// than recovering the store history that produced the cell's
		// value (the original engine's points-to-based "last store"
		// reconstruction is not modeled here).
		return d.trace(pag, cfg, s, stmt.Rhs, accum, visited)
	case ir.GepStmt:
		off := interp.GetByteOffset(s, cfg, stmt)
		return d.trace(pag, cfg, s, stmt.Rhs, accum.Add(off), visited)
	case ir.CallPEStmt:
		return d.trace(pag, cfg, s, stmt.Rhs, accum, visited)
	case ir.RetPEStmt:
		return d.trace(pag, cfg, s, stmt.Rhs, accum, visited)
	default:
		return lattice.Top()
	}
}
