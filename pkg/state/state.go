// Package state implements the abstract state S: the
// variable map, the memory map, and the freed-object set the statement
// interpreter and fixpoint driver read and write.
package state

import (
	"github.com/willf/bitset"

	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
)

// orderedMap is an insertion-ordered NodeID->AbsVal map; JSON/gob dumps
// iterate `order`, not Go's randomized map order.
type orderedMap struct {
	vals map[ir.NodeID]lattice.AbsVal
	order []ir.NodeID
}

func newOrderedMap() *orderedMap {
	return &orderedMap{vals: map[ir.NodeID]lattice.AbsVal{}}
}

func (m *orderedMap) get(k ir.NodeID) (lattice.AbsVal, bool) {
	v, ok := m.vals[k]
	return v, ok
}

func (m *orderedMap) set(k ir.NodeID, v lattice.AbsVal) {
	if _, ok := m.vals[k]; !ok {
		m.order = append(m.order, k)
	}
	m.vals[k] = v
}

func (m *orderedMap) clone() *orderedMap {
	cp := &orderedMap{
		vals: make(map[ir.NodeID]lattice.AbsVal, len(m.vals)),
		order: append([]ir.NodeID(nil), m.order...),
	}
	for k, v := range m.vals {
		cp.vals[k] = v
	}
	return cp
}

// merge computes out[k] = op(a-side value, b-side value) over the union
// of a's and b's keys, substituting def for a side missing a key.
func merge(a, b *orderedMap, def lattice.AbsVal, op func(x, y lattice.AbsVal) lattice.AbsVal) *orderedMap {
	out := newOrderedMap()
	seen := make(map[ir.NodeID]bool, len(a.order)+len(b.order))
	for _, k := range a.order {
		if seen[k] {
			continue
		}
		seen[k] = true
		av, _ := a.get(k)
		bv, ok := b.get(k)
		if !ok {
			bv = def
		}
		out.set(k, op(av, bv))
	}
	for _, k := range b.order {
		if seen[k] {
			continue
		}
		seen[k] = true
		bv, _ := b.get(k)
		av, ok := a.get(k)
		if !ok {
			av = def
		}
		out.set(k, op(av, bv))
	}
	return out
}

func equalMaps(a, b *orderedMap, def lattice.AbsVal) bool {
	seen := make(map[ir.NodeID]bool, len(a.order)+len(b.order))
	for _, k := range a.order {
		seen[k] = true
		av, _ := a.get(k)
		bv, ok := b.get(k)
		if !ok {
			bv = def
		}
		if !av.Equal(bv) {
			return false
		}
	}
	for _, k := range b.order {
		if seen[k] {
			continue
		}
		bv, _ := b.get(k)
		if !def.Equal(bv) {
			return false
		}
	}
	return true
}

func lessEqMaps(a, b *orderedMap, def lattice.AbsVal) bool {
	seen := make(map[ir.NodeID]bool, len(a.order)+len(b.order))
	for _, k := range a.order {
		seen[k] = true
		av, _ := a.get(k)
		bv, ok := b.get(k)
		if !ok {
			bv = def
		}
		if !av.LessEq(bv) {
			return false
		}
	}
	for _, k := range b.order {
		if seen[k] {
			continue
		}
		bv, _ := b.get(k)
		if !def.LessEq(bv) {
			return false
		}
	}
	return true
}

// FreedSet tracks base objects known freed on the current path; it only
// ever grows along a single trace, never shrinks. Backed by a bitset over
// NodeID, a dense small-integer domain, the same shape as
// reaching-definitions GEN/KILL sets.
type FreedSet struct {
	bits *bitset.BitSet
}

func newFreedSet() *FreedSet { return &FreedSet{bits: bitset.New(0)} }

func (f *FreedSet) Contains(id ir.NodeID) bool { return f.bits.Test(uint(id)) }

func (f *FreedSet) Add(id ir.NodeID) { f.bits.Set(uint(id)) }

func (f *FreedSet) Clone() *FreedSet { return &FreedSet{bits: f.bits.Clone()} }

func (f *FreedSet) Union(o *FreedSet) *FreedSet { return &FreedSet{bits: f.bits.Union(o.bits)} }

func (f *FreedSet) Intersect(o *FreedSet) *FreedSet {
	return &FreedSet{bits: f.bits.Intersection(o.bits)}
}

func (f *FreedSet) Equal(o *FreedSet) bool { return f.bits.Equal(o.bits) }

func (f *FreedSet) SubsetOf(o *FreedSet) bool { return o.bits.IsSuperSet(f.bits) }

// Each calls fn for every freed NodeID, in ascending id order.
func (f *FreedSet) Each(fn func(ir.NodeID)) {
	for i, ok := f.bits.NextSet(0); ok; i, ok = f.bits.NextSet(i + 1) {
		fn(ir.NodeID(i))
	}
}

// State is the abstract state S.
//
// Missing keys default differently per map and per operation: a variable
// never assigned along this path reads as ⊥ and contributes ⊥ to every
// merge, since no path has made any claim about its value yet; a memory
// cell never named reads as ⊤ through Load, since an unnamed address is
// treated as possibly holding anything rather than nothing. When two
// states are merged, a side missing a memory cell contributes ⊥ (Join's
// identity) in JoinWith, Widening, Narrowing, Equal and LessEq, and ⊤
// (Meet's identity) only in MeetWith.
type State struct {
	pag ir.PAG
	cfg config.Config

	varToVal *orderedMap
	addrToVal *orderedMap
	// freed is the may-freed set: an object freed along any path merged
	// into this state. mustFreed is its dual, the must-freed set: an
	// object freed along every path merged into this state. The two
	// together let a double-free report distinguish "freed on some
	// incoming path" (Partial) from "freed on every incoming path"
	// (Full) instead of conflating them the moment two paths merge.
	freed *FreedSet
	mustFreed *FreedSet
}

// New creates an empty state (the global ICFG entry's initial state).
func New(pag ir.PAG, cfg config.Config) *State {
	return &State{
		pag: pag,
		cfg: cfg,
		varToVal: newOrderedMap(),
		addrToVal: newOrderedMap(),
		freed: newFreedSet(),
		mustFreed: newFreedSet(),
	}
}

// Clone returns an independent copy; states are cloned on join and moved
// (shared) otherwise.
func (s *State) Clone() *State {
	return &State{
		pag: s.pag,
		cfg: s.cfg,
		varToVal: s.varToVal.clone(),
		addrToVal: s.addrToVal.clone(),
		freed: s.freed.Clone(),
		mustFreed: s.mustFreed.Clone(),
	}
}

// Get returns the current value of a PAG variable, ⊥ if never assigned.
func (s *State) Get(v ir.NodeID) lattice.AbsVal {
	if val, ok := s.varToVal.get(v); ok {
		return val
	}
	return lattice.BottomVal()
}

// Set assigns v's current value.
func (s *State) Set(v ir.NodeID, val lattice.AbsVal) { s.varToVal.set(v, val) }

// Load reads the memory cell named by a virtual address, ⊤ if never
// named. The black-hole address always reads ⊤: it stands for every
// object an unresolved indirect call or unmodeled external could have
// touched, so no write through it is ever informative.
func (s *State) Load(addr uint32) lattice.AbsVal {
	if ir.FromAddr(addr) == ir.BlackHole {
		return lattice.TopVal()
	}
	if val, ok := s.addrToVal.get(ir.FromAddr(addr)); ok {
		return val
	}
	return lattice.TopVal()
}

// Store writes val into the memory cell named by addr. A write through
// the reserved null address is silently dropped; callers writing through
// a pointer's whole address set still write every other member. A write
// through the black hole is also dropped rather than recorded, so Load
// keeps returning ⊤ for it regardless of what gets written there.
func (s *State) Store(addr uint32, val lattice.AbsVal) {
	if addr == ir.ToAddr(ir.NullPtr) || ir.FromAddr(addr) == ir.BlackHole {
		return
	}
	s.addrToVal.set(ir.FromAddr(addr), val)
}

// LoadValue joins Load over every address in v's address set.
func (s *State) LoadValue(v ir.NodeID) lattice.AbsVal {
	result := lattice.BottomVal()
	s.Get(v).Addrs().Each(func(a uint32) {
		result = result.Join(s.Load(a))
	})
	return result
}

// StoreValue writes val to every address in v's address set.
func (s *State) StoreValue(v ir.NodeID, val lattice.AbsVal) {
	s.Get(v).Addrs().Each(func(a uint32) {
		s.Store(a, val)
	})
}

// InitObj materializes a fresh non-constant object: var_to_val[obj] gets
// the singleton address set {to_addr(obj)}, the default value an AddrStmt
// produces for an object with no constant initializer.
func (s *State) InitObj(obj ir.NodeID) {
	s.varToVal.set(obj, lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(obj))))
}

// IsFreed reports whether the base object named by addr was freed along
// any path merged into this state (may-freed).
func (s *State) IsFreed(addr uint32) bool { return s.freed.Contains(ir.FromAddr(addr)) }

// IsMustFreed reports whether the base object named by addr was freed
// along every path merged into this state (must-freed).
func (s *State) IsMustFreed(addr uint32) bool { return s.mustFreed.Contains(ir.FromAddr(addr)) }

// AddFreed marks the base object named by addr as freed on the current,
// single straight-line path: a fresh free is both may- and must-freed
// until some other path that skipped it joins back in.
func (s *State) AddFreed(addr uint32) {
	id := ir.FromAddr(addr)
	s.freed.Add(id)
	s.mustFreed.Add(id)
}

// Freed exposes the may-freed set for detectors/dumps.
func (s *State) Freed() *FreedSet { return s.freed }

func baseObjectOf(pag ir.PAG, addr uint32) ir.NodeID {
	id := ir.FromAddr(addr)
	v := pag.Node(id)
	if v.HasBaseObj {
		return v.BaseObjectID
	}
	return id
}

// GepObjAddrs materializes the gep-object addresses reachable from ptr
// across the index range offset ∩ [0, MaxFieldLimit]. Each
// materialized gep id is bound in var_to_val to its own singleton address
// set and folded into the returned set.
func (s *State) GepObjAddrs(ptr ir.NodeID, offset lattice.Interval) lattice.AddrSet {
	bounded := offset.Meet(lattice.Range(0, int64(s.cfg.MaxFieldLimit)))
	if bounded.IsBottom() {
		return lattice.EmptyAddrs()
	}
	lb, ub := bounded.Lo, bounded.Hi
	result := lattice.EmptyAddrs()
	s.Get(ptr).Addrs().Each(func(a uint32) {
		base := baseObjectOf(s.pag, a)
		for i := lb; i <= ub; i++ {
			gepID := s.pag.GepObjVar(base, int(i))
			addr := ir.ToAddr(gepID)
			s.varToVal.set(gepID, lattice.AddrsVal(lattice.SingleAddr(addr)))
			result = result.Insert(addr)
		}
	})
	return result
}

// widenAddrs expands lhs with every gep-field (up to MaxFieldLimit) of
// each address rhs has that lhs lacks, before taking the union — an
// "expand along the gep-index axis" widening rule, which needs the PAG
// and MaxFieldLimit this package already carries (see DESIGN.md's
// pkg/lattice entry for why the plain lattice package can't do this
// itself).
func (s *State) widenAddrs(lhs, rhs lattice.AddrSet) lattice.AddrSet {
	enriched := lhs
	rhs.Each(func(addr uint32) {
		if lhs.Contains(addr) {
			return
		}
		base := baseObjectOf(s.pag, addr)
		for i := 0; i <= int(s.cfg.MaxFieldLimit); i++ {
			enriched = enriched.Insert(ir.ToAddr(s.pag.GepObjVar(base, i)))
		}
	})
	return enriched.Union(rhs)
}

func (s *State) widenVal(lhs, rhs lattice.AbsVal) lattice.AbsVal {
	if lhs.IsAddrs() && rhs.IsAddrs() {
		return lattice.AddrsVal(s.widenAddrs(lhs.Addrs(), rhs.Addrs()))
	}
	return lhs.WidenWith(rhs)
}

// JoinWith returns s ⊔ o. freed (may) grows by union, since either
// incoming path having freed an object is enough to flag a later
// use/free of it; mustFreed shrinks to the intersection, since an object
// is only definitely-freed after the join if both sides agree it was.
// JoinWith's addrToVal merge defaults a side missing a cell to ⊥, not ⊤:
// a predecessor that never wrote this cell contributes no information
// (⊥ is join's identity), so a cell written on every OTHER incoming path
// still joins to that path's value rather than collapsing to ⊤. Load's
// own "absent key" fallback stays ⊤, so a cell absent on every merged
// path still reads as unconstrained.
func (s *State) JoinWith(o *State) *State {
	return &State{
		pag: s.pag, cfg: s.cfg,
		varToVal: merge(s.varToVal, o.varToVal, lattice.BottomVal(), lattice.AbsVal.Join),
		addrToVal: merge(s.addrToVal, o.addrToVal, lattice.BottomVal(), lattice.AbsVal.Join),
		freed: s.freed.Union(o.freed),
		mustFreed: s.mustFreed.Intersect(o.mustFreed),
	}
}

// MeetWith returns s ⊓ o, the dual of JoinWith: freed shrinks to the
// intersection and mustFreed grows to the union.
func (s *State) MeetWith(o *State) *State {
	return &State{
		pag: s.pag, cfg: s.cfg,
		varToVal: merge(s.varToVal, o.varToVal, lattice.BottomVal(), lattice.AbsVal.Meet),
		addrToVal: merge(s.addrToVal, o.addrToVal, lattice.TopVal(), lattice.AbsVal.Meet),
		freed: s.freed.Intersect(o.freed),
		mustFreed: s.mustFreed.Union(o.mustFreed),
	}
}

// Widening returns s ∇ o, the increasing-phase widen applied after enough
// rounds of a component's fixpoint loop to force convergence. freed/
// mustFreed widen the same way they join, since both sets are finite and
// already converge in bounded steps.
func (s *State) Widening(o *State) *State {
	return &State{
		pag: s.pag, cfg: s.cfg,
		varToVal: merge(s.varToVal, o.varToVal, lattice.BottomVal(), s.widenVal),
		addrToVal: merge(s.addrToVal, o.addrToVal, lattice.BottomVal(), s.widenVal),
		freed: s.freed.Union(o.freed),
		mustFreed: s.mustFreed.Intersect(o.mustFreed),
	}
}

// Narrowing returns s △ o, the decreasing-phase narrow run after widening
// to recover precision lost by jumping straight to ⊤/infinite bounds.
func (s *State) Narrowing(o *State) *State {
	return &State{
		pag: s.pag, cfg: s.cfg,
		varToVal: merge(s.varToVal, o.varToVal, lattice.BottomVal(), lattice.AbsVal.NarrowWith),
		addrToVal: merge(s.addrToVal, o.addrToVal, lattice.BottomVal(), lattice.AbsVal.NarrowWith),
		freed: s.freed.Intersect(o.freed),
		mustFreed: s.mustFreed.Union(o.mustFreed),
	}
}

// Equal reports pointwise equality.
func (s *State) Equal(o *State) bool {
	return equalMaps(s.varToVal, o.varToVal, lattice.BottomVal()) &&
		equalMaps(s.addrToVal, o.addrToVal, lattice.BottomVal()) &&
		s.freed.Equal(o.freed) &&
		s.mustFreed.Equal(o.mustFreed)
}

// LessEq is the pointwise lattice order s ⊑ o.
func (s *State) LessEq(o *State) bool {
	return lessEqMaps(s.varToVal, o.varToVal, lattice.BottomVal()) &&
		lessEqMaps(s.addrToVal, o.addrToVal, lattice.BottomVal()) &&
		s.freed.SubsetOf(o.freed) &&
		o.mustFreed.SubsetOf(s.mustFreed)
}

// EachVar calls fn for every bound variable, in insertion order.
func (s *State) EachVar(fn func(ir.NodeID, lattice.AbsVal)) {
	for _, k := range s.varToVal.order {
		v, _ := s.varToVal.get(k)
		fn(k, v)
	}
}

// EachAddr calls fn for every named memory cell, in insertion order.
func (s *State) EachAddr(fn func(ir.NodeID, lattice.AbsVal)) {
	for _, k := range s.addrToVal.order {
		v, _ := s.addrToVal.get(k)
		fn(k, v)
	}
}
