package lattice

// Tag discriminates an AbsVal's variant.
type Tag uint8

const (
	TagBottom Tag = iota
	TagInterval
	TagAddrs
)

// AbsVal is the reduced-union abstract value: Interval(I) | Addrs(A) | ⊥.
// Operations dispatch on tag; a mixed-tag operation picks the operand
// that is not ⊥, else ⊥. A variable is stored in at most one of the two
// projections after every transfer, so "mixed" only arises when
// joining/meeting two different program points.
type AbsVal struct {
	tag Tag
	i Interval
	a AddrSet
}

// BottomVal returns ⊥.
func BottomVal() AbsVal { return AbsVal{tag: TagBottom} }

// IntervalVal wraps an Interval. A ⊥ interval collapses to BottomVal.
func IntervalVal(i Interval) AbsVal {
	if i.IsBottom() {
		return BottomVal()
	}
	return AbsVal{tag: TagInterval, i: i}
}

// AddrsVal wraps an AddrSet. An empty set collapses to BottomVal.
func AddrsVal(a AddrSet) AbsVal {
	if a.IsEmpty() {
		return BottomVal()
	}
	return AbsVal{tag: TagAddrs, a: a}
}

// TopVal returns the interval ⊤ = [-∞, +∞].
func TopVal() AbsVal { return IntervalVal(Top()) }

func (v AbsVal) IsBottom() bool { return v.tag == TagBottom }
func (v AbsVal) IsInterval() bool { return v.tag == TagInterval }
func (v AbsVal) IsAddrs() bool { return v.tag == TagAddrs }
func (v AbsVal) Tag() Tag { return v.tag }

// Interval returns the wrapped interval, or ⊥ if v is not an interval.
func (v AbsVal) Interval() Interval {
	if v.tag != TagInterval {
		return Bottom()
	}
	return v.i
}

// Addrs returns the wrapped address set, or the empty set if v is not
// an address set.
func (v AbsVal) Addrs() AddrSet {
	if v.tag != TagAddrs {
		return EmptyAddrs()
	}
	return v.a
}

// Join returns v ⊔ o.
func (v AbsVal) Join(o AbsVal) AbsVal {
	switch {
	case v.IsBottom():
		return o
	case o.IsBottom():
		return v
	case v.tag == TagInterval && o.tag == TagInterval:
		return IntervalVal(v.i.Join(o.i))
	case v.tag == TagAddrs && o.tag == TagAddrs:
		return AddrsVal(v.a.Union(o.a))
	default:
		// Mixed interval/addrs: neither is ⊥, so the sound join is ⊤.
		return TopVal()
	}
}

// Meet returns v ⊓ o.
func (v AbsVal) Meet(o AbsVal) AbsVal {
	switch {
	case v.IsBottom() || o.IsBottom():
		return BottomVal()
	case v.tag == TagInterval && o.tag == TagInterval:
		return IntervalVal(v.i.Meet(o.i))
	case v.tag == TagAddrs && o.tag == TagAddrs:
		return AddrsVal(v.a.Intersect(o.a))
	default:
		return BottomVal()
	}
}

// WidenWith applies widening for the interval case and plain union for
// the address-set case. The gep-index expansion specified for
// address-set widening needs the PAG's gep_obj_var and the engine
// config's MaxFieldLimit, which this package does not depend on; callers
// that own those (state.State.Widening) perform the expansion themselves
// instead of going through this method for the Addrs case.
func (v AbsVal) WidenWith(o AbsVal) AbsVal {
	switch {
	case v.IsBottom():
		return o
	case o.IsBottom():
		return v
	case v.tag == TagInterval && o.tag == TagInterval:
		return IntervalVal(v.i.WidenWith(o.i))
	case v.tag == TagAddrs && o.tag == TagAddrs:
		return AddrsVal(v.a.Union(o.a))
	default:
		return TopVal()
	}
}

// NarrowWith applies narrowing for the interval case and intersection
// for the address-set case (the dual of union-as-widen).
func (v AbsVal) NarrowWith(o AbsVal) AbsVal {
	switch {
	case v.IsBottom() || o.IsBottom():
		return BottomVal()
	case v.tag == TagInterval && o.tag == TagInterval:
		return IntervalVal(v.i.NarrowWith(o.i))
	case v.tag == TagAddrs && o.tag == TagAddrs:
		return AddrsVal(v.a.Intersect(o.a))
	default:
		return v
	}
}

// LessEq is the lattice order v ⊑ o.
func (v AbsVal) LessEq(o AbsVal) bool {
	switch {
	case v.IsBottom():
		return true
	case o.IsBottom():
		return false
	case v.tag == TagInterval && o.tag == TagInterval:
		return v.i.LessEq(o.i)
	case v.tag == TagAddrs && o.tag == TagAddrs:
		return v.a.SubsetOf(o.a)
	default:
		return false
	}
}

// Equal reports semantic equality.
func (v AbsVal) Equal(o AbsVal) bool {
	switch {
	case v.tag != o.tag:
		return false
	case v.tag == TagBottom:
		return true
	case v.tag == TagInterval:
		return v.i.Equal(o.i)
	default:
		return v.a.Equal(o.a)
	}
}

// String renders the value for debugging/dumps.
func (v AbsVal) String() string {
	switch v.tag {
	case TagBottom:
		return "⊥"
	case TagInterval:
		return v.i.String()
	default:
		addrs := v.a.Addrs()
		s := "{"
		for i, a := range addrs {
			if i > 0 {
				s += ", "
			}
			s += hex32(a)
		}
		return s + "}"
	}
}

func hex32(w uint32) string {
	const digits = "0123456789abcdef"
	buf := [10]byte{'0', 'x', 0, 0, 0, 0, 0, 0, 0, 0}
	for i := 0; i < 8; i++ {
		buf[9-i] = digits[(w>>(4*uint(i)))&0xF]
	}
	return string(buf[:])
}
