package interp

import (
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
)

// evalCmp computes the three-valued result of a Cmp statement.
func evalCmp(a, b lattice.AbsVal, pred ir.Predicate) lattice.Interval {
	switch pred {
	case ir.CmpFalse:
		return lattice.CmpFalseVal
	case ir.CmpTrue:
		return lattice.CmpTrueVal
	}
	switch {
	case a.IsInterval() && b.IsInterval():
		return intervalCmp(a.Interval(), b.Interval(), pred)
	case a.IsAddrs() && b.IsAddrs():
		return addrCmp(a.Addrs(), b.Addrs(), pred)
	default:
		return lattice.CmpUnknownVal
	}
}

func intervalCmp(a, b lattice.Interval, pred ir.Predicate) lattice.Interval {
	switch pred {
	case ir.CmpEq:
		return a.Eq(b)
	case ir.CmpNe:
		return a.Ne(b)
	case ir.CmpLt:
		return a.Lt(b)
	case ir.CmpLe:
		return a.Le(b)
	case ir.CmpGt:
		return a.Gt(b)
	case ir.CmpGe:
		return a.Ge(b)
	default:
		return lattice.CmpUnknownVal
	}
}

// addrCmp compares two address sets by set relation, not by picking a
// representative element: equality is certain only when the sets
// are disjoint (certainly unequal) or both empty (vacuously equal);
// ordering only reduces to a numeral when both sides are singletons.
func addrCmp(a, b lattice.AddrSet, pred ir.Predicate) lattice.Interval {
	switch pred {
	case ir.CmpEq:
		return addrEq(a, b)
	case ir.CmpNe:
		return invertTriState(addrEq(a, b))
	default:
		return addrOrder(a, b, pred)
	}
}

func addrEq(a, b lattice.AddrSet) lattice.Interval {
	switch {
	case a.IsEmpty() && b.IsEmpty():
		return lattice.CmpTrueVal
	case !a.HasIntersect(b):
		return lattice.CmpFalseVal
	default:
		return lattice.CmpUnknownVal
	}
}

func addrOrder(a, b lattice.AddrSet, pred ir.Predicate) lattice.Interval {
	if a.Len() != 1 || b.Len() != 1 {
		return lattice.CmpUnknownVal
	}
	var aw, bw uint32
	a.Each(func(x uint32) { aw = x })
	b.Each(func(x uint32) { bw = x })
	return intervalCmp(lattice.Num(int64(aw)), lattice.Num(int64(bw)), pred)
}

func invertTriState(v lattice.Interval) lattice.Interval {
	switch {
	case v.Equal(lattice.CmpTrueVal):
		return lattice.CmpFalseVal
	case v.Equal(lattice.CmpFalseVal):
		return lattice.CmpTrueVal
	default:
		return lattice.CmpUnknownVal
	}
}
