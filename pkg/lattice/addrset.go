package lattice

// AddrSet is a finite set of tagged virtual addresses. Union
// is join, intersection is meet; the empty set is ⊥.
type AddrSet struct {
	m map[uint32]struct{}
}

// EmptyAddrs returns ⊥ (the empty address set).
func EmptyAddrs() AddrSet { return AddrSet{} }

// SingleAddr returns the singleton set {a}.
func SingleAddr(a uint32) AddrSet {
	return AddrSet{m: map[uint32]struct{}{a: {}}}
}

// NewAddrSet builds a set from the given addresses.
func NewAddrSet(addrs...uint32) AddrSet {
	if len(addrs) == 0 {
		return EmptyAddrs()
	}
	m := make(map[uint32]struct{}, len(addrs))
	for _, a := range addrs {
		m[a] = struct{}{}
	}
	return AddrSet{m: m}
}

// IsEmpty reports whether the set has no addresses.
func (a AddrSet) IsEmpty() bool { return len(a.m) == 0 }

// Contains reports whether addr is a member.
func (a AddrSet) Contains(addr uint32) bool {
	if a.m == nil {
		return false
	}
	_, ok := a.m[addr]
	return ok
}

// Len returns the number of addresses.
func (a AddrSet) Len() int { return len(a.m) }

// Each calls fn for every address, in no particular order.
func (a AddrSet) Each(fn func(uint32)) {
	for addr := range a.m {
		fn(addr)
	}
}

// Addrs returns the set's members as a slice (for deterministic output,
// callers sort it).
func (a AddrSet) Addrs() []uint32 {
	out := make([]uint32, 0, len(a.m))
	for addr := range a.m {
		out = append(out, addr)
	}
	return out
}

// Union returns a ∪ b.
func (a AddrSet) Union(b AddrSet) AddrSet {
	if a.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return a
	}
	m := make(map[uint32]struct{}, len(a.m)+len(b.m))
	for k := range a.m {
		m[k] = struct{}{}
	}
	for k := range b.m {
		m[k] = struct{}{}
	}
	return AddrSet{m: m}
}

// Intersect returns a ∩ b.
func (a AddrSet) Intersect(b AddrSet) AddrSet {
	small, big := a, b
	if len(big.m) < len(small.m) {
		small, big = big, small
	}
	var m map[uint32]struct{}
	for k := range small.m {
		if _, ok := big.m[k]; ok {
			if m == nil {
				m = map[uint32]struct{}{}
			}
			m[k] = struct{}{}
		}
	}
	return AddrSet{m: m}
}

// HasIntersect reports whether a and b share any address.
func (a AddrSet) HasIntersect(b AddrSet) bool {
	small, big := a, b
	if len(big.m) < len(small.m) {
		small, big = big, small
	}
	for k := range small.m {
		if _, ok := big.m[k]; ok {
			return true
		}
	}
	return false
}

// Insert returns a copy of a with addr added.
func (a AddrSet) Insert(addr uint32) AddrSet {
	m := make(map[uint32]struct{}, len(a.m)+1)
	for k := range a.m {
		m[k] = struct{}{}
	}
	m[addr] = struct{}{}
	return AddrSet{m: m}
}

// Equal reports whether a and b have identical membership.
func (a AddrSet) Equal(b AddrSet) bool {
	if len(a.m) != len(b.m) {
		return false
	}
	for k := range a.m {
		if _, ok := b.m[k]; !ok {
			return false
		}
	}
	return true
}

// SubsetOf reports a ⊑ b, i.e. every address of a is in b.
func (a AddrSet) SubsetOf(b AddrSet) bool {
	for k := range a.m {
		if _, ok := b.m[k]; !ok {
			return false
		}
	}
	return true
}
