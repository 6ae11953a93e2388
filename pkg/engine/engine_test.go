package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/detect"
	"github.com/oisee/absint/pkg/ir"
)

// buildProgram wires a global scope (fn ir.NullPtr, per pkg/ir/builder.go's
// own convention) with entry/exit already allocated and registered as
// the program's global entry, ready for the caller to append nodes to.
func buildProgram() (prog *ir.Program, entry, exit ir.NodeID) {
	prog = ir.NewProgram()
	entry, exit = prog.NewFunction(ir.NullPtr)
	prog.SetGlobalEntry(entry)
	return
}

// TestRunDetectsMallocFreeUseAfterFree models scenario 1: a
// heap object is materialized (AddrStmt), freed through the free-family
// external model, then loaded through the same pointer.
func TestRunDetectsMallocFreeUseAfterFree(t *testing.T) {
	prog, entry, exit := buildProgram()

	obj := prog.NewBaseObject(ir.BaseObject{IsHeap: true, IsConstantByteSize: true, ByteSize: 8})
	p := prog.NewVar(ir.Var{IsPointer: true})

	allocNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(allocNode, ir.AddrStmt{Lhs: p, Rhs: obj})

	freeFn := prog.NewVar(ir.Var{})
	prog.SetFunctionName(freeFn, "free")
	callNode, retNode := prog.NewCall(ir.NullPtr)
	prog.SetDirectCallee(callNode, freeFn)
	prog.SetArguments(callNode, []ir.NodeID{p})

	loadRes := prog.NewVar(ir.Var{})
	useNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(useNode, ir.LoadStmt{Lhs: loadRes, Rhs: p})

	prog.AddEdge(entry, allocNode)
	prog.AddEdge(allocNode, callNode)
	prog.AddEdge(callNode, retNode)
	prog.AddEdge(retNode, useNode)
	prog.AddEdge(useNode, exit)

	detectors := DefaultDetectors(nil)
	res, err := Run(prog, prog, nil, nil, config.Default(), nil, detectors)
	if !assert.NoError(t, err) {
		return
	}
	assert.Nil(t, res.Aborted)
	assert.Empty(t, res.ContractViolations)

	var found bool
	for _, b := range res.Bugs {
		if b.Kind == detect.KindUseAfterFree {
			found = true
			assert.Equal(t, detect.Full, b.Severity)
		}
	}
	assert.True(t, found, "expected a use-after-free bug, got %+v", res.Bugs)
}

// TestRunDetectsNullPtrDeref models null-dereference
// scenario: a pointer never bound to any object is loaded through
// directly, hitting the detector's "⊥ dereference" path.
func TestRunDetectsNullPtrDeref(t *testing.T) {
	prog, entry, exit := buildProgram()

	p := prog.NewVar(ir.Var{IsPointer: true})
	loadRes := prog.NewVar(ir.Var{})
	useNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(useNode, ir.LoadStmt{Lhs: loadRes, Rhs: p})

	prog.AddEdge(entry, useNode)
	prog.AddEdge(useNode, exit)

	res, err := Run(prog, prog, nil, nil, config.Default(), nil, DefaultDetectors(nil))
	if !assert.NoError(t, err) {
		return
	}

	var found bool
	for _, b := range res.Bugs {
		if b.Kind == detect.KindNullPtrDeref {
			found = true
		}
	}
	assert.True(t, found, "expected a null-pointer-dereference bug, got %+v", res.Bugs)
}

// TestRunRejectsInvalidConfig checks Run surfaces config.Validate's
// error instead of running the fixpoint on an unusable configuration.
func TestRunRejectsInvalidConfig(t *testing.T) {
	prog, _, _ := buildProgram()
	_, err := Run(prog, prog, nil, nil, config.Config{}, nil, nil)
	assert.Error(t, err)
}

// constVar mints a Var that self-materializes to the numeral n the first
// time it appears as the Rhs of an AddrStmt{Lhs: v, Rhs: v}.
func constVar(prog *ir.Program, n int64) ir.NodeID {
	return prog.NewVar(ir.Var{ConstKind: ir.ConstInt, ConstInt: n, HasValue: true})
}

func selfBind(v ir.NodeID) ir.AddrStmt { return ir.AddrStmt{Lhs: v, Rhs: v} }

// TestRunReassignedPointerIsNotADoubleFree models scenario 2: p is freed,
// reassigned to a fresh allocation, then freed again. The second free
// must not alias the first's address, so no double-free fires; the
// trailing use of the reassigned, now-freed p is a (full) use-after-free.
func TestRunReassignedPointerIsNotADoubleFree(t *testing.T) {
	prog, entry, exit := buildProgram()

	objA := prog.NewBaseObject(ir.BaseObject{IsHeap: true, IsConstantByteSize: true, ByteSize: 4})
	objB := prog.NewBaseObject(ir.BaseObject{IsHeap: true, IsConstantByteSize: true, ByteSize: 4})
	p := prog.NewVar(ir.Var{IsPointer: true})

	allocA := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(allocA, ir.AddrStmt{Lhs: p, Rhs: objA})

	freeFn := prog.NewVar(ir.Var{})
	prog.SetFunctionName(freeFn, "free")
	freeCall1, freeRet1 := prog.NewCall(ir.NullPtr)
	prog.SetDirectCallee(freeCall1, freeFn)
	prog.SetArguments(freeCall1, []ir.NodeID{p})

	allocB := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(allocB, ir.AddrStmt{Lhs: p, Rhs: objB})

	freeCall2, freeRet2 := prog.NewCall(ir.NullPtr)
	prog.SetDirectCallee(freeCall2, freeFn)
	prog.SetArguments(freeCall2, []ir.NodeID{p})

	loadRes := prog.NewVar(ir.Var{})
	useNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(useNode, ir.LoadStmt{Lhs: loadRes, Rhs: p})

	prog.AddEdge(entry, allocA)
	prog.AddEdge(allocA, freeCall1)
	prog.AddEdge(freeCall1, freeRet1)
	prog.AddEdge(freeRet1, allocB)
	prog.AddEdge(allocB, freeCall2)
	prog.AddEdge(freeCall2, freeRet2)
	prog.AddEdge(freeRet2, useNode)
	prog.AddEdge(useNode, exit)

	res, err := Run(prog, prog, nil, nil, config.Default(), nil, DefaultDetectors(nil))
	if !assert.NoError(t, err) {
		return
	}
	assert.Nil(t, res.Aborted)

	var uaf, doubleFree bool
	for _, b := range res.Bugs {
		switch b.Kind {
		case detect.KindDoubleFree:
			doubleFree = true
		case detect.KindUseAfterFree:
			uaf = true
			assert.Equal(t, detect.Full, b.Severity)
		}
	}
	assert.False(t, doubleFree, "p was reassigned before the second free, not re-aliased to the first allocation")
	assert.True(t, uaf, "expected a use-after-free on the reassigned, now-freed p, got %+v", res.Bugs)
}

// TestRunConditionalFreeIsPartialUseAfterFree models scenario 3: p starts
// aliased to an object that is never freed; on one branch of an
// unconstrained condition it is reassigned to a freshly freed
// allocation. The branch merge aliases p with both objects, so the
// trailing use is a partial (not full) use-after-free.
func TestRunConditionalFreeIsPartialUseAfterFree(t *testing.T) {
	prog, entry, exit := buildProgram()

	objUnfreed := prog.NewBaseObject(ir.BaseObject{IsHeap: true, IsConstantByteSize: true, ByteSize: 4})
	objFreed := prog.NewBaseObject(ir.BaseObject{IsHeap: true, IsConstantByteSize: true, ByteSize: 4})
	p := prog.NewVar(ir.Var{IsPointer: true})
	cond := prog.NewVar(ir.Var{}) // never bound: both branches are feasible

	initNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(initNode, ir.AddrStmt{Lhs: p, Rhs: objUnfreed})

	ifNode := prog.NewNode(ir.NullPtr, ir.KindIntra)

	allocNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(allocNode, ir.AddrStmt{Lhs: p, Rhs: objFreed})

	freeFn := prog.NewVar(ir.Var{})
	prog.SetFunctionName(freeFn, "free")
	freeCall, freeRet := prog.NewCall(ir.NullPtr)
	prog.SetDirectCallee(freeCall, freeFn)
	prog.SetArguments(freeCall, []ir.NodeID{p})

	mergeNode := prog.NewNode(ir.NullPtr, ir.KindIntra)

	loadRes := prog.NewVar(ir.Var{})
	useNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(useNode, ir.LoadStmt{Lhs: loadRes, Rhs: p})

	prog.AddEdge(entry, initNode)
	prog.AddEdge(initNode, ifNode)
	prog.AddCondEdge(ifNode, allocNode, cond, 1)
	prog.AddCondEdge(ifNode, mergeNode, cond, 0)
	prog.AddEdge(allocNode, freeCall)
	prog.AddEdge(freeCall, freeRet)
	prog.AddEdge(freeRet, mergeNode)
	prog.AddEdge(mergeNode, useNode)
	prog.AddEdge(useNode, exit)

	res, err := Run(prog, prog, nil, nil, config.Default(), nil, DefaultDetectors(nil))
	if !assert.NoError(t, err) {
		return
	}
	assert.Nil(t, res.Aborted)

	var found bool
	for _, b := range res.Bugs {
		if b.Kind == detect.KindUseAfterFree {
			found = true
			assert.Equal(t, detect.Partial, b.Severity, "only the branch that reassigned p froze it; the other incoming path never did")
		}
	}
	assert.True(t, found, "expected a use-after-free bug, got %+v", res.Bugs)
}

// arrayType returns a fixed-size int array type whose element is a
// 32-bit signed int, for the gep-based array scenarios.
func arrayType(elemCount int) *ir.Type {
	elem := &ir.Type{Kind: ir.TypeInt, Size: 4, Signed: true, Bits: 32}
	return &ir.Type{Kind: ir.TypeArray, Size: 4 * elemCount, Elem: elem, ElemCount: elemCount}
}

// TestRunDetectsArrayIndexBufferOverflow models scenario 4: a[10] indexed
// by i, whose range was just pinned to [0,20] by the set_value test
// hook — the store's byte-offset range [0,80] only partially exceeds
// the 40-byte allocation.
func TestRunDetectsArrayIndexBufferOverflow(t *testing.T) {
	prog, entry, exit := buildProgram()
	arrType := arrayType(10)

	arr := prog.NewBaseObject(ir.BaseObject{IsStack: true, IsConstantByteSize: true, ByteSize: 40})
	arrPtr := prog.NewVar(ir.Var{IsPointer: true})
	i := prog.NewVar(ir.Var{Type: &ir.Type{Kind: ir.TypeInt, Size: 4, Signed: true, Bits: 32}})
	lo := constVar(prog, 0)
	hi := constVar(prog, 20)
	storeVal := constVar(prog, 0)

	initNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(initNode, ir.AddrStmt{Lhs: arrPtr, Rhs: arr}, selfBind(lo), selfBind(hi), selfBind(storeVal))

	setValueFn := prog.NewVar(ir.Var{})
	prog.SetFunctionName(setValueFn, "set_value")
	callNode, retNode := prog.NewCall(ir.NullPtr)
	prog.SetDirectCallee(callNode, setValueFn)
	prog.SetArguments(callNode, []ir.NodeID{i, lo, hi})

	elemPtr := prog.NewVar(ir.Var{IsPointer: true})
	storeNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(storeNode,
		ir.GepStmt{Lhs: elemPtr, Rhs: arrPtr, Pairs: []ir.GepPair{{Kind: ir.GepArray, IdxVar: i, Type: arrType}}},
		ir.StoreStmt{Lhs: elemPtr, Rhs: storeVal},
	)

	prog.AddEdge(entry, initNode)
	prog.AddEdge(initNode, callNode)
	prog.AddEdge(callNode, retNode)
	prog.AddEdge(retNode, storeNode)
	prog.AddEdge(storeNode, exit)

	res, err := Run(prog, prog, nil, nil, config.Default(), nil, DefaultDetectors(nil))
	if !assert.NoError(t, err) {
		return
	}
	assert.Nil(t, res.Aborted)

	var found bool
	for _, b := range res.Bugs {
		if b.Kind == detect.KindBufferOverflow {
			found = true
			assert.Equal(t, detect.Partial, b.Severity, "[0,80] only partially exceeds the 40-byte allocation")
		}
	}
	assert.True(t, found, "expected a buffer-overflow bug, got %+v", res.Bugs)
}

// TestRunLoopPreservesZeroedArrayCell models scenario 6: a[10] is zeroed
// by a counted loop, then svf_assert(a[0]==0) must observe exactly
// [1,1] — the one scenario that actually drives the widen/narrow
// fixpoint over a back edge rather than straight-line code.
func TestRunLoopPreservesZeroedArrayCell(t *testing.T) {
	prog, entry, exit := buildProgram()
	arrType := arrayType(10)
	intType := &ir.Type{Kind: ir.TypeInt, Size: 4, Signed: true, Bits: 32}

	arr := prog.NewBaseObject(ir.BaseObject{IsStack: true, IsConstantByteSize: true, ByteSize: 40})
	arrPtr := prog.NewVar(ir.Var{IsPointer: true})
	i := prog.NewVar(ir.Var{Type: intType})
	zero := constVar(prog, 0)
	ten := constVar(prog, 10)
	one := constVar(prog, 1)

	initNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(initNode,
		ir.AddrStmt{Lhs: arrPtr, Rhs: arr},
		ir.AddrStmt{Lhs: i, Rhs: zero},
		selfBind(ten),
		selfBind(one),
	)

	cmpLt := prog.NewVar(ir.Var{})
	loopHead := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(loopHead, ir.CmpStmt{Res: cmpLt, Op0: i, Op1: ten, Pred: ir.CmpLt})

	elemPtr := prog.NewVar(ir.Var{IsPointer: true})
	bodyNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(bodyNode,
		ir.GepStmt{Lhs: elemPtr, Rhs: arrPtr, Pairs: []ir.GepPair{{Kind: ir.GepArray, IdxVar: i, Type: arrType}}},
		ir.StoreStmt{Lhs: elemPtr, Rhs: zero},
	)

	incNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(incNode, ir.BinaryOpStmt{Res: i, Op0: i, Op1: one, Opcode: ir.BinAdd})

	elemPtr0 := prog.NewVar(ir.Var{IsPointer: true})
	loadRes := prog.NewVar(ir.Var{})
	cmpEq := prog.NewVar(ir.Var{})
	afterLoop := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(afterLoop,
		ir.GepStmt{Lhs: elemPtr0, Rhs: arrPtr, Pairs: []ir.GepPair{{Kind: ir.GepArray, IsIdxConst: true, Const: 0, Type: arrType}}},
		ir.LoadStmt{Lhs: loadRes, Rhs: elemPtr0},
		ir.CmpStmt{Res: cmpEq, Op0: loadRes, Op1: zero, Pred: ir.CmpEq},
	)

	assertFn := prog.NewVar(ir.Var{})
	prog.SetFunctionName(assertFn, "svf_assert")
	assertCall, assertRet := prog.NewCall(ir.NullPtr)
	prog.SetDirectCallee(assertCall, assertFn)
	prog.SetArguments(assertCall, []ir.NodeID{cmpEq})

	prog.AddEdge(entry, initNode)
	prog.AddEdge(initNode, loopHead)
	prog.AddCondEdge(loopHead, bodyNode, cmpLt, 1)
	prog.AddCondEdge(loopHead, afterLoop, cmpLt, 0)
	prog.AddEdge(bodyNode, incNode)
	prog.AddEdge(incNode, loopHead)
	prog.AddEdge(afterLoop, assertCall)
	prog.AddEdge(assertCall, assertRet)
	prog.AddEdge(assertRet, exit)

	res, err := Run(prog, prog, nil, nil, config.Default(), nil, DefaultDetectors(nil))
	if !assert.NoError(t, err) {
		return
	}
	assert.Empty(t, res.ContractViolations)
	assert.Nil(t, res.Aborted, "svf_assert(a[0]==0) must hold once the loop's fixpoint narrows back to the precise per-cell value")
}

// TestRunIfThenFreeThenFreeIsPartialDoubleFree models scenario 7: p is
// freed on only one branch of an unconstrained condition, then freed
// unconditionally after the branches merge. Only the branch that
// already freed it double-frees; the !c path's free is safe, so the
// bug is partial.
func TestRunIfThenFreeThenFreeIsPartialDoubleFree(t *testing.T) {
	prog, entry, exit := buildProgram()

	obj := prog.NewBaseObject(ir.BaseObject{IsHeap: true, IsConstantByteSize: true, ByteSize: 4})
	p := prog.NewVar(ir.Var{IsPointer: true})
	cond := prog.NewVar(ir.Var{}) // never bound: both branches are feasible

	allocNode := prog.NewNode(ir.NullPtr, ir.KindIntra)
	prog.SetStatements(allocNode, ir.AddrStmt{Lhs: p, Rhs: obj})

	ifNode := prog.NewNode(ir.NullPtr, ir.KindIntra)

	freeFn := prog.NewVar(ir.Var{})
	prog.SetFunctionName(freeFn, "free")
	freeCall1, freeRet1 := prog.NewCall(ir.NullPtr)
	prog.SetDirectCallee(freeCall1, freeFn)
	prog.SetArguments(freeCall1, []ir.NodeID{p})

	mergeNode := prog.NewNode(ir.NullPtr, ir.KindIntra)

	freeCall2, freeRet2 := prog.NewCall(ir.NullPtr)
	prog.SetDirectCallee(freeCall2, freeFn)
	prog.SetArguments(freeCall2, []ir.NodeID{p})

	prog.AddEdge(entry, allocNode)
	prog.AddEdge(allocNode, ifNode)
	prog.AddCondEdge(ifNode, freeCall1, cond, 1)
	prog.AddCondEdge(ifNode, mergeNode, cond, 0)
	prog.AddEdge(freeCall1, freeRet1)
	prog.AddEdge(freeRet1, mergeNode)
	prog.AddEdge(mergeNode, freeCall2)
	prog.AddEdge(freeCall2, freeRet2)
	prog.AddEdge(freeRet2, exit)

	res, err := Run(prog, prog, nil, nil, config.Default(), nil, DefaultDetectors(nil))
	if !assert.NoError(t, err) {
		return
	}
	assert.Nil(t, res.Aborted)

	var found bool
	for _, b := range res.Bugs {
		if b.Kind == detect.KindDoubleFree {
			found = true
			assert.Equal(t, detect.Partial, b.Severity, "the !c path's free on an object never freed there is safe")
		}
	}
	assert.True(t, found, "expected a double-free bug, got %+v", res.Bugs)
}
