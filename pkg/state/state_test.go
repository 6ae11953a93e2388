package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
)

func newTestState() (*ir.Program, *State) {
	prog := ir.NewProgram()
	cfg := config.Default()
	return prog, New(prog, cfg)
}

func TestStateGetDefaultsToBottom(t *testing.T) {
	_, s := newTestState()
	assert.True(t, s.Get(ir.NodeID(42)).IsBottom())
}

func TestStateSetThenGet(t *testing.T) {
	_, s := newTestState()
	v := ir.NodeID(10)
	s.Set(v, lattice.IntervalVal(lattice.Num(7)))
	assert.True(t, s.Get(v).Interval().Equal(lattice.Num(7)))
}

func TestStateLoadOfUnnamedCellIsTop(t *testing.T) {
	prog, s := newTestState()
	obj := prog.NewBaseObject(ir.BaseObject{ByteSize: 8})
	assert.True(t, s.Load(ir.ToAddr(obj)).Interval().IsTop())
}

func TestStateStoreThenLoad(t *testing.T) {
	prog, s := newTestState()
	obj := prog.NewBaseObject(ir.BaseObject{ByteSize: 8})
	s.Store(ir.ToAddr(obj), lattice.IntervalVal(lattice.Num(99)))
	assert.True(t, s.Load(ir.ToAddr(obj)).Interval().Equal(lattice.Num(99)))
}

func TestStateStoreThroughNullAddrIsNoOp(t *testing.T) {
	_, s := newTestState()
	nullAddr := ir.ToAddr(ir.NullPtr)
	s.Store(nullAddr, lattice.IntervalVal(lattice.Num(5)))
	// Still reads as Top: the write never landed.
	assert.True(t, s.Load(nullAddr).Interval().IsTop())
}

func TestStateBlackHoleAlwaysReadsAsTop(t *testing.T) {
	_, s := newTestState()
	blackHole := ir.ToAddr(ir.BlackHole)
	assert.True(t, s.Load(blackHole).Interval().IsTop())
	s.Store(blackHole, lattice.IntervalVal(lattice.Num(5)))
	// A write through the black hole never lands either.
	assert.True(t, s.Load(blackHole).Interval().IsTop())
}

func TestStateLoadValueJoinsOverAddrSet(t *testing.T) {
	prog, s := newTestState()
	a := prog.NewBaseObject(ir.BaseObject{ByteSize: 4})
	b := prog.NewBaseObject(ir.BaseObject{ByteSize: 4})
	ptr := ir.NodeID(100)
	s.Set(ptr, lattice.AddrsVal(lattice.NewAddrSet(ir.ToAddr(a), ir.ToAddr(b))))
	s.Store(ir.ToAddr(a), lattice.IntervalVal(lattice.Num(1)))
	s.Store(ir.ToAddr(b), lattice.IntervalVal(lattice.Num(2)))

	got := s.LoadValue(ptr)
	assert.True(t, got.Interval().Equal(lattice.Range(1, 2)))
}

func TestStateFreedSetIsMonotone(t *testing.T) {
	prog, s := newTestState()
	obj := prog.NewBaseObject(ir.BaseObject{ByteSize: 4})
	addr := ir.ToAddr(obj)
	assert.False(t, s.IsFreed(addr))
	s.AddFreed(addr)
	assert.True(t, s.IsFreed(addr))
	assert.True(t, s.IsMustFreed(addr))
}

func TestStateJoinOfOneFreedBranchIsMayNotMustFreed(t *testing.T) {
	prog, s1 := newTestState()
	_, s2 := newTestState()
	obj := prog.NewBaseObject(ir.BaseObject{ByteSize: 4})
	addr := ir.ToAddr(obj)
	s1.AddFreed(addr) // only the "if (c)" branch frees it
	joined := s1.JoinWith(s2)
	assert.True(t, joined.IsFreed(addr), "freed on at least one incoming path")
	assert.False(t, joined.IsMustFreed(addr), "not freed on the other incoming path")
}

func TestStateJoinOfBothBranchesFreedIsMustFreed(t *testing.T) {
	prog, s1 := newTestState()
	_, s2 := newTestState()
	obj := prog.NewBaseObject(ir.BaseObject{ByteSize: 4})
	addr := ir.ToAddr(obj)
	s1.AddFreed(addr)
	s2.AddFreed(addr)
	joined := s1.JoinWith(s2)
	assert.True(t, joined.IsFreed(addr))
	assert.True(t, joined.IsMustFreed(addr))
}

func TestStateJoinMissingVarDefaultsToBottom(t *testing.T) {
	_, s1 := newTestState()
	_, s2 := newTestState()
	v := ir.NodeID(5)
	s1.Set(v, lattice.IntervalVal(lattice.Num(3)))
	// s2 never touches v.
	joined := s1.JoinWith(s2)
	assert.True(t, joined.Get(v).Interval().Equal(lattice.Num(3)))
}

func TestStateJoinMissingAddrAdoptsTheOtherSidesValue(t *testing.T) {
	prog, s1 := newTestState()
	_, s2 := newTestState()
	obj := prog.NewBaseObject(ir.BaseObject{ByteSize: 4})
	addr := ir.ToAddr(obj)
	s1.Store(addr, lattice.IntervalVal(lattice.Num(3)))
	// s2 never names this cell: it contributes no fact (⊥, join's
	// identity), not a claim that the cell is unconstrained, so the
	// merge keeps s1's value instead of collapsing to ⊤ — otherwise a
	// loop-entry edge that never touches a cell would permanently erase
	// whatever the loop body's back edge established for it.
	joined := s1.JoinWith(s2)
	assert.True(t, joined.Load(addr).Interval().Equal(lattice.Num(3)))
}

func TestStateJoinCellAbsentOnBothSidesStillReadsAsTop(t *testing.T) {
	prog, s1 := newTestState()
	_, s2 := newTestState()
	obj := prog.NewBaseObject(ir.BaseObject{ByteSize: 4})
	addr := ir.ToAddr(obj)
	// Neither side ever names this cell: Load's own fallback, not the
	// merge default, is what must supply ⊤ here.
	joined := s1.JoinWith(s2)
	assert.True(t, joined.Load(addr).Interval().IsTop())
}

func TestStateGepObjAddrsMaterializesRange(t *testing.T) {
	prog, s := newTestState()
	base := prog.NewBaseObject(ir.BaseObject{ByteSize: 16, IsHeap: true})
	ptr := ir.NodeID(200)
	s.Set(ptr, lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(base))))

	addrs := s.GepObjAddrs(ptr, lattice.Range(0, 2))
	assert.Equal(t, 3, addrs.Len())

	gep1 := prog.GepObjVar(base, 1)
	assert.True(t, s.Get(gep1).Equal(lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(gep1)))))
}

func TestStateGepObjAddrsEmptyWhenRangeCrossed(t *testing.T) {
	prog, s := newTestState()
	base := prog.NewBaseObject(ir.BaseObject{ByteSize: 16})
	ptr := ir.NodeID(201)
	s.Set(ptr, lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(base))))

	addrs := s.GepObjAddrs(ptr, lattice.Bottom())
	assert.True(t, addrs.IsEmpty())
}

func TestStateWideningExpandsAddrSetAlongGepAxis(t *testing.T) {
	prog, s1 := newTestState()
	_, s2 := newTestState()
	base := prog.NewBaseObject(ir.BaseObject{ByteSize: 16})
	cell := ir.NodeID(300)

	// s1's cell names only gep-field 0; s2's names gep-field 1, which
	// s1 has never seen.
	f0 := prog.GepObjVar(base, 0)
	f1 := prog.GepObjVar(base, 1)
	s1.addrToVal.set(cell, lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(f0))))
	s2.addrToVal.set(cell, lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(f1))))

	widened := s1.Widening(s2)
	result := widened.Load(ir.ToAddr(cell))
	assert.True(t, result.Addrs().Contains(ir.ToAddr(f0)))
	assert.True(t, result.Addrs().Contains(ir.ToAddr(f1)), "widening must enrich with the new gep-field rather than drop it")
}

func TestStateLessEqReflexive(t *testing.T) {
	_, s := newTestState()
	s.Set(ir.NodeID(1), lattice.IntervalVal(lattice.Num(1)))
	assert.True(t, s.LessEq(s))
	assert.True(t, s.Equal(s))
}
