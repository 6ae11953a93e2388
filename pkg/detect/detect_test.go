package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oisee/absint/pkg/allocsize"
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

func newCtx(prog *ir.Program) *Context {
	return &Context{PAG: prog, Cfg: config.Default(), AllocIndex: allocsize.BuildDefIndex(prog, prog)}
}

func TestBufferOverflowFullWhenAccessExceedsAllAllocSizes(t *testing.T) {
	prog := ir.NewProgram()
	s := state.New(prog, config.Default())
	obj := prog.NewBaseObject(ir.BaseObject{IsConstantByteSize: true, ByteSize: 4})
	lhs := prog.NewVar(ir.Var{IsPointer: true})
	ten := int64(10)
	n := prog.NewNode(0, ir.KindIntra)
	prog.SetStatements(n, ir.GepStmt{Lhs: lhs, Rhs: obj, ConstantOffset: &ten})

	d := NewBufferOverflowDetector(nil)
	d.OnNode(newCtx(prog), s, n)
	bugs := d.Finish()
	if assert.Len(t, bugs, 1) {
		assert.Equal(t, Full, bugs[0].Severity)
	}
}

func TestBufferOverflowNoneWhenWithinBounds(t *testing.T) {
	prog := ir.NewProgram()
	s := state.New(prog, config.Default())
	obj := prog.NewBaseObject(ir.BaseObject{IsConstantByteSize: true, ByteSize: 64})
	lhs := prog.NewVar(ir.Var{IsPointer: true})
	one := int64(1)
	n := prog.NewNode(0, ir.KindIntra)
	prog.SetStatements(n, ir.GepStmt{Lhs: lhs, Rhs: obj, ConstantOffset: &one})

	d := NewBufferOverflowDetector(nil)
	d.OnNode(newCtx(prog), s, n)
	assert.Empty(t, d.Finish())
}

func TestNullPtrDerefFullOnDefiniteNull(t *testing.T) {
	prog := ir.NewProgram()
	s := state.New(prog, config.Default())
	ptr := prog.NewVar(ir.Var{IsPointer: true})
	s.Set(ptr, lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(ir.NullPtr))))
	n := prog.NewNode(0, ir.KindIntra)
	prog.SetStatements(n, ir.LoadStmt{Lhs: prog.NewVar(ir.Var{}), Rhs: ptr})

	d := NewNullPtrDerefDetector()
	d.OnNode(newCtx(prog), s, n)
	bugs := d.Finish()
	if assert.Len(t, bugs, 1) {
		assert.Equal(t, Full, bugs[0].Severity)
	}
}

func TestNullPtrDerefPartialWhenJoinedWithValidAddr(t *testing.T) {
	prog := ir.NewProgram()
	s := state.New(prog, config.Default())
	obj := prog.NewBaseObject(ir.BaseObject{IsHeap: true})
	ptr := prog.NewVar(ir.Var{IsPointer: true})
	addrs := lattice.SingleAddr(ir.ToAddr(ir.NullPtr)).Union(lattice.SingleAddr(ir.ToAddr(obj)))
	s.Set(ptr, lattice.AddrsVal(addrs))
	n := prog.NewNode(0, ir.KindIntra)
	prog.SetStatements(n, ir.LoadStmt{Lhs: prog.NewVar(ir.Var{}), Rhs: ptr})

	d := NewNullPtrDerefDetector()
	d.OnNode(newCtx(prog), s, n)
	bugs := d.Finish()
	if assert.Len(t, bugs, 1) {
		assert.Equal(t, Partial, bugs[0].Severity)
	}
}

func TestDoubleFreeFullWhenAlreadyFreed(t *testing.T) {
	prog := ir.NewProgram()
	s := state.New(prog, config.Default())
	obj := prog.NewBaseObject(ir.BaseObject{IsHeap: true})
	ptr := prog.NewVar(ir.Var{IsPointer: true})
	s.Set(ptr, lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(obj))))
	s.AddFreed(ir.ToAddr(obj))

	call, _ := prog.NewCall(ir.NodeID(500))
	prog.SetArguments(call, []ir.NodeID{ptr})

	d := NewDoubleFreeDetector()
	d.OnExternal(newCtx(prog), s, call, "free")
	bugs := d.Finish()
	if assert.Len(t, bugs, 1) {
		assert.Equal(t, Full, bugs[0].Severity)
	}
}

func TestDoubleFreeNoneOnFirstFree(t *testing.T) {
	prog := ir.NewProgram()
	s := state.New(prog, config.Default())
	obj := prog.NewBaseObject(ir.BaseObject{IsHeap: true})
	ptr := prog.NewVar(ir.Var{IsPointer: true})
	s.Set(ptr, lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(obj))))

	call, _ := prog.NewCall(ir.NodeID(500))
	prog.SetArguments(call, []ir.NodeID{ptr})

	d := NewDoubleFreeDetector()
	d.OnExternal(newCtx(prog), s, call, "free")
	assert.Empty(t, d.Finish())
}

func TestUseAfterFreeFullWhenAllAddrsFreed(t *testing.T) {
	prog := ir.NewProgram()
	s := state.New(prog, config.Default())
	obj := prog.NewBaseObject(ir.BaseObject{IsHeap: true})
	ptr := prog.NewVar(ir.Var{IsPointer: true})
	s.Set(ptr, lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(obj))))
	s.AddFreed(ir.ToAddr(obj))

	n := prog.NewNode(0, ir.KindIntra)
	prog.SetStatements(n, ir.LoadStmt{Lhs: prog.NewVar(ir.Var{}), Rhs: ptr})

	d := NewUseAfterFreeDetector()
	d.OnNode(newCtx(prog), s, n)
	bugs := d.Finish()
	if assert.Len(t, bugs, 1) {
		assert.Equal(t, Full, bugs[0].Severity)
	}
}

func TestUseAfterFreeDedupesRepeatedNode(t *testing.T) {
	prog := ir.NewProgram()
	s := state.New(prog, config.Default())
	obj := prog.NewBaseObject(ir.BaseObject{IsHeap: true})
	ptr := prog.NewVar(ir.Var{IsPointer: true})
	s.Set(ptr, lattice.AddrsVal(lattice.SingleAddr(ir.ToAddr(obj))))
	s.AddFreed(ir.ToAddr(obj))

	n := prog.NewNode(0, ir.KindIntra)
	prog.SetStatements(n, ir.LoadStmt{Lhs: prog.NewVar(ir.Var{}), Rhs: ptr})

	d := NewUseAfterFreeDetector()
	ctx := newCtx(prog)
	d.OnNode(ctx, s, n)
	d.OnNode(ctx, s, n)
	assert.Len(t, d.Finish(), 1)
}
