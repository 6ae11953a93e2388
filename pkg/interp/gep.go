// Package interp implements the statement interpreter: one transfer
// function per PAG statement kind, dispatched from a single Step entry
// point in a flat giant-switch style.
package interp

import (
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

type gepForm uint8

const (
	elementIndexForm gepForm = iota
	byteOffsetForm
)

// GetElementIndex computes the flattened element-index interval of a Gep
// statement, for in-memory materialization.
func GetElementIndex(s *state.State, cfg config.Config, g ir.GepStmt) lattice.Interval {
	return gepOffset(s, cfg, g, elementIndexForm)
}

// GetByteOffset computes the byte-offset interval of a Gep statement, for
// the overflow detector's access-range check.
func GetByteOffset(s *state.State, cfg config.Config, g ir.GepStmt) lattice.Interval {
	return gepOffset(s, cfg, g, byteOffsetForm)
}

func gepOffset(s *state.State, cfg config.Config, g ir.GepStmt, form gepForm) lattice.Interval {
	if g.ConstantOffset != nil {
		return clampOffset(lattice.Num(*g.ConstantOffset), cfg)
	}
	limit := int64(cfg.MaxFieldLimit)
	acc := lattice.Num(0)
	for i := len(g.Pairs) - 1; i >= 0; i-- {
		acc = acc.Add(pairContribution(s, cfg, g.Pairs[i], form, limit))
	}
	return clampOffset(acc, cfg)
}

func pairContribution(s *state.State, cfg config.Config, p ir.GepPair, form gepForm, limit int64) lattice.Interval {
	if p.Kind == ir.GepStruct {
		// idx_var must be constant for structs; the offset is an
		// additive lookup through the external type oracle.
		if form == elementIndexForm && !cfg.ModelArrays {
			return lattice.Num(0)
		}
		return lattice.Num(int64(p.Type.StructFieldOffset(int(p.Const))))
	}

	idx := idxIntervalOf(s, p)
	if form == byteOffsetForm {
		return saturateMul(idx, int64(elemByteSizeOf(p.Type)), limit)
	}
	if p.Type.Kind == ir.TypePtr {
		return saturateMul(idx, int64(elemCountOf(p.Type)), limit)
	}
	if !cfg.ModelArrays {
		return lattice.Num(0)
	}
	return flattenIndex(p.Type, idx, limit)
}

func idxIntervalOf(s *state.State, p ir.GepPair) lattice.Interval {
	if p.IsIdxConst {
		return lattice.Num(p.Const)
	}
	v := s.Get(p.IdxVar).Interval()
	if v.IsBottom() {
		return lattice.Num(0)
	}
	return v
}

func elemByteSizeOf(t *ir.Type) int {
	if t.Elem != nil {
		if sz := t.Elem.ByteSize(); sz > 0 {
			return sz
		}
	}
	return 1
}

func elemCountOf(t *ir.Type) int {
	if t.Elem != nil && t.ElemCount > 0 {
		return t.ElemCount
	}
	return 1
}

func flattenIndex(t *ir.Type, idx lattice.Interval, limit int64) lattice.Interval {
	if idx.IsBottom() {
		return lattice.Num(0)
	}
	lo, hi := idx.Lo, idx.Hi
	if lo < 0 || hi < 0 {
		return lattice.Num(0)
	}
	if lo > limit {
		lo = limit
	}
	if hi > limit {
		hi = limit
	}
	return lattice.Range(int64(t.FlatElemIdx(int(lo))), int64(t.FlatElemIdx(int(hi))))
}

// saturateMul returns [idx.Lo*scale, idx.Hi*scale] clamped at limit, per
// pair. Negative indices clamp to 0 (no well-formed gep indexes
// backward past its base).
func saturateMul(idx lattice.Interval, scale, limit int64) lattice.Interval {
	if idx.IsBottom() {
		return lattice.Num(0)
	}
	return lattice.Range(saturateOne(idx.Lo, scale, limit), saturateOne(idx.Hi, scale, limit))
}

func saturateOne(v, scale, limit int64) int64 {
	if v < 0 {
		return 0
	}
	if scale <= 0 {
		return 0
	}
	if v > limit/scale {
		return limit
	}
	return v * scale
}

// clampOffset clamps to [0, MaxFieldLimit]; an empty result promotes to
// [0,0]
func clampOffset(i lattice.Interval, cfg config.Config) lattice.Interval {
	bounded := i.Meet(lattice.Range(0, int64(cfg.MaxFieldLimit)))
	if bounded.IsBottom() {
		return lattice.Num(0)
	}
	return bounded
}
