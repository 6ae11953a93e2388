package ir

// StmtKind discriminates PAG statement kinds.
type StmtKind uint8

const (
	StmtAddr StmtKind = iota
	StmtCopy
	StmtGep
	StmtLoad
	StmtStore
	StmtPhi
	StmtSelect
	StmtCmp
	StmtBinaryOp
	StmtUnaryOp
	StmtBranch
	StmtCallPE
	StmtRetPE
)

// Statement is the common contract every PAG statement kind satisfies.
// Concrete kinds are flat structs distinguished by Kind(), matching the
// "tagged variant instead of a class hierarchy" design note.
type Statement interface {
	Kind() StmtKind
}

// AddrStmt materializes rhs as an object and binds lhs to it.
type AddrStmt struct {
	Lhs, Rhs NodeID
	ArraySize *int64 // array_sizes, nil if not an array allocation
}

func (AddrStmt) Kind() StmtKind { return StmtAddr }

// CopyKind selects the pure transfer a Copy statement applies.
type CopyKind uint8

const (
	CopyVal CopyKind = iota
	CopyZExt
	CopySExt
	CopyFPToSI
	CopyFPToUI
	CopySIToFP
	CopyUIToFP
	CopyTrunc
	CopyFPTrunc
	CopyBitCast
	CopyIntToPtr
	CopyPtrToInt
)

// CopyStmt copies rhs into lhs, optionally applying a cast.
type CopyStmt struct {
	Lhs, Rhs NodeID
	CopyKind CopyKind
	DstType *Type // target type for ZExt/SExt/Trunc
}

func (CopyStmt) Kind() StmtKind { return StmtCopy }

// GepKind discriminates whether a GEP index pair walks an array/pointer
// dimension (multiplicative) or a struct field (additive).
type GepKind uint8

const (
	GepArray GepKind = iota
	GepStruct
)

// GepPair is one (index variable, gep type) pair of a Gep statement.
type GepPair struct {
	Kind GepKind
	IdxVar NodeID // variable holding the index; for GepStruct must be a constant
	Const int64 // constant index: always used for GepStruct, and for any pair with IsIdxConst set
	IsIdxConst bool
	Type *Type // element/struct type this pair indexes into
}

// GepStmt computes lhs as an offset pointer derived from rhs.
type GepStmt struct {
	Lhs, Rhs NodeID
	Pairs []GepPair
	ConstantOffset *int64
}

func (GepStmt) Kind() StmtKind { return StmtGep }

// LoadStmt reads the memory cell(s) addressed by rhs into lhs.
type LoadStmt struct{ Lhs, Rhs NodeID }

func (LoadStmt) Kind() StmtKind { return StmtLoad }

// StoreStmt writes rhs into the memory cell(s) addressed by lhs.
type StoreStmt struct{ Lhs, Rhs NodeID }

func (StoreStmt) Kind() StmtKind { return StmtStore }

// PhiStmt joins the incoming operand values into res.
type PhiStmt struct {
	Res NodeID
	OpVars []NodeID
}

func (PhiStmt) Kind() StmtKind { return StmtPhi }

// SelectStmt picks t or f based on cond, or joins both if cond is not
// a definite numeral.
type SelectStmt struct {
	Res, Cond, T, F NodeID
}

func (SelectStmt) Kind() StmtKind { return StmtSelect }

// Predicate enumerates Cmp predicates, including the always-false/true
// floating-point sentinels used by the branch-feasibility table.
type Predicate uint8

const (
	CmpEq Predicate = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
	CmpFalse
	CmpTrue
)

// Invert returns the logical negation of a comparison predicate.
func (p Predicate) Invert() Predicate {
	switch p {
	case CmpEq:
		return CmpNe
	case CmpNe:
		return CmpEq
	case CmpLt:
		return CmpGe
	case CmpLe:
		return CmpGt
	case CmpGt:
		return CmpLe
	case CmpGe:
		return CmpLt
	case CmpFalse:
		return CmpTrue
	case CmpTrue:
		return CmpFalse
	}
	return p
}

// Swap returns the predicate with its operands exchanged (a P b == b P' a).
func (p Predicate) Swap() Predicate {
	switch p {
	case CmpLt:
		return CmpGt
	case CmpLe:
		return CmpGe
	case CmpGt:
		return CmpLt
	case CmpGe:
		return CmpLe
	}
	return p
}

// CmpStmt computes a three-valued comparison result.
type CmpStmt struct {
	Res, Op0, Op1 NodeID
	Pred Predicate
}

func (CmpStmt) Kind() StmtKind { return StmtCmp }

// BinOpcode enumerates binary arithmetic/bitwise opcodes.
type BinOpcode uint8

const (
	BinAdd BinOpcode = iota
	BinSub
	BinMul
	BinSDiv
	BinUDiv
	BinSRem
	BinURem
	BinAnd
	BinOr
	BinXor
	BinShl
	BinLShr
	BinAShr
)

// BinaryOpStmt applies an interval-arithmetic opcode to two operands.
type BinaryOpStmt struct {
	Res, Op0, Op1 NodeID
	Opcode BinOpcode
}

func (BinaryOpStmt) Kind() StmtKind { return StmtBinaryOp }

// UnOpcode enumerates unary opcodes.
type UnOpcode uint8

const (
	UnNeg UnOpcode = iota
	UnNot
)

// UnaryOpStmt applies a unary opcode to one operand.
type UnaryOpStmt struct {
	Res, Op NodeID
	Opcode UnOpcode
}

func (UnaryOpStmt) Kind() StmtKind { return StmtUnaryOp }

// BranchStmt records a conditional branch's outgoing edges; it performs
// no state update on its own (consumed by the branch-feasibility oracle).
type BranchStmt struct {
	Cond NodeID
	Successors []NodeID
	CondValues []int64
}

func (BranchStmt) Kind() StmtKind { return StmtBranch }

// CallPEStmt binds a formal parameter to an actual argument across a
// call edge.
type CallPEStmt struct{ Lhs, Rhs NodeID }

func (CallPEStmt) Kind() StmtKind { return StmtCallPE }

// RetPEStmt binds an actual-return variable to the callee's formal
// return value across a return edge.
type RetPEStmt struct{ Lhs, Rhs NodeID }

func (RetPEStmt) Kind() StmtKind { return StmtRetPE }
