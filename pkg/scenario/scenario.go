// Package scenario loads JSON scenario files into ir.Program graphs,
// standing in for the real IR front end: no parser for any source
// language, just a declarative description of the variables, heap
// objects and functions a whole-program analysis run should see. A
// scenario names its variables, heap objects and functions once, then
// describes each function as a set of named nodes (optionally a call
// site) wired together with edges.
package scenario

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/oisee/absint/pkg/ir"
)

// Spec is the top-level shape of a scenario file.
type Spec struct {
	Vars map[string]VarSpec `json:"vars,omitempty"`
	Objects map[string]ObjectSpec `json:"objects,omitempty"`
	Functions map[string]FuncSpec `json:"functions"`
	// Root names the function run as the program's global scope (built
	// under ir.NullPtr per the ICFG builder's own convention). Its body
	// is what the engine actually interprets; every other function is
	// reachable only through a call from it.
	Root string `json:"root"`
}

// VarSpec declares one PAG variable.
type VarSpec struct {
	Pointer bool `json:"pointer,omitempty"`
	Global bool `json:"global,omitempty"`
	ConstInt *int64 `json:"const_int,omitempty"`
	ConstFloat *float64 `json:"const_float,omitempty"`
}

// ObjectSpec declares one base object, addressable under the same name
// both as "the object" (AddrStmt's Rhs) and as a plain pointer variable
// to its own address (ir.Program.NewBaseObject registers both).
type ObjectSpec struct {
	Heap bool `json:"heap,omitempty"`
	Stack bool `json:"stack,omitempty"`
	Global bool `json:"global,omitempty"`
	ByteSize int `json:"byte_size,omitempty"`
	VariableSize bool `json:"variable_size,omitempty"`
}

// FuncSpec declares one function. External functions carry no body and
// are resolved through pkg/extapi by name at call time; every other
// function gets entry/exit nodes a direct or indirect call can target.
type FuncSpec struct {
	External bool `json:"external,omitempty"`
	Nodes []NodeSpec `json:"nodes,omitempty"`
	Edges []EdgeSpec `json:"edges,omitempty"`
}

// NodeSpec is one ICFG node. A Call node carries no Stmts of its own;
// edges may additionally reference "<id>.ret", the node the dispatcher's
// result flows into once the call returns.
type NodeSpec struct {
	ID string `json:"id"`
	Stmts []StmtSpec `json:"stmts,omitempty"`
	Call *CallSpec `json:"call,omitempty"`
}

// CallSpec configures a call node: exactly one of Callee or Indirect
// should be set.
type CallSpec struct {
	Callee string `json:"callee,omitempty"`
	Indirect []string `json:"indirect_targets,omitempty"`
	Args []string `json:"args,omitempty"`
	Result string `json:"result,omitempty"`
}

// EdgeSpec is one control-flow edge. An edge with Cond set is
// conditional, taken only when Cond's comparison result meets CondValue
// (ir.Program.AddCondEdge).
type EdgeSpec struct {
	From string `json:"from"`
	To string `json:"to"`
	Cond string `json:"cond,omitempty"`
	CondValue int64 `json:"cond_value,omitempty"`
}

// TypeSpec is the JSON encoding of ir.Type.
type TypeSpec struct {
	Kind string `json:"kind,omitempty"` // int, float, ptr, array, struct
	Bits int `json:"bits,omitempty"`
	Signed bool `json:"signed,omitempty"`
	ByteSize int `json:"byte_size,omitempty"`
	ElemCount int `json:"elem_count,omitempty"`
	Elem *TypeSpec `json:"elem,omitempty"`
	Fields []*TypeSpec `json:"fields,omitempty"`
	FieldByteOffsets []int `json:"field_byte_offsets,omitempty"`
}

// GepPairSpec is one (index, type) pair of a Gep statement.
type GepPairSpec struct {
	Kind string `json:"kind"` // array, struct
	IdxVar string `json:"idx_var,omitempty"`
	Const int64 `json:"const,omitempty"`
	IsIdxConst bool `json:"is_idx_const,omitempty"`
	Type *TypeSpec `json:"type,omitempty"`
}

// StmtSpec is the JSON encoding of one PAG statement. Op selects which
// fields apply; unused fields are left zero. Var-valued fields name
// entries of Spec.Vars/Spec.Objects, resolved at Build time.
type StmtSpec struct {
	Op string `json:"op"`

	Lhs string `json:"lhs,omitempty"`
	Rhs string `json:"rhs,omitempty"`
	ArraySize *int64 `json:"array_size,omitempty"` // addr

	CopyKind string `json:"copy_kind,omitempty"` // copy
	DstType *TypeSpec `json:"dst_type,omitempty"` // copy

	Pairs []GepPairSpec `json:"pairs,omitempty"` // gep
	ConstantOffset *int64 `json:"constant_offset,omitempty"` // gep

	Res string `json:"res,omitempty"` // phi, select, cmp, binary, unary
	OpVars []string `json:"op_vars,omitempty"` // phi

	Cond string `json:"cond,omitempty"` // select
	T string `json:"t,omitempty"` // select
	F string `json:"f,omitempty"` // select

	Op0 string `json:"op0,omitempty"` // cmp, binary, unary (sole operand)
	Op1 string `json:"op1,omitempty"` // cmp, binary
	Pred string `json:"pred,omitempty"`
	Opcode string `json:"opcode,omitempty"` // binary, unary

	Successors []string `json:"successors,omitempty"` // branch: node ids
	CondValues []int64 `json:"cond_values,omitempty"`
}

// Load decodes a scenario file from r.
func Load(r io.Reader) (*Spec, error) {
	var s Spec
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("scenario: decode: %w", err)
	}
	return &s, nil
}

var copyKindByName = map[string]ir.CopyKind{
	"val": ir.CopyVal, "zext": ir.CopyZExt, "sext": ir.CopySExt,
	"fptosi": ir.CopyFPToSI, "fptoui": ir.CopyFPToUI,
	"sitofp": ir.CopySIToFP, "uitofp": ir.CopyUIToFP,
	"trunc": ir.CopyTrunc, "fptrunc": ir.CopyFPTrunc,
	"bitcast": ir.CopyBitCast, "inttoptr": ir.CopyIntToPtr, "ptrtoint": ir.CopyPtrToInt,
}

var predByName = map[string]ir.Predicate{
	"eq": ir.CmpEq, "ne": ir.CmpNe, "lt": ir.CmpLt, "le": ir.CmpLe,
	"gt": ir.CmpGt, "ge": ir.CmpGe, "false": ir.CmpFalse, "true": ir.CmpTrue,
}

var binOpByName = map[string]ir.BinOpcode{
	"add": ir.BinAdd, "sub": ir.BinSub, "mul": ir.BinMul,
	"sdiv": ir.BinSDiv, "udiv": ir.BinUDiv, "srem": ir.BinSRem, "urem": ir.BinURem,
	"and": ir.BinAnd, "or": ir.BinOr, "xor": ir.BinXor,
	"shl": ir.BinShl, "lshr": ir.BinLShr, "ashr": ir.BinAShr,
}

var unOpByName = map[string]ir.UnOpcode{"neg": ir.UnNeg, "not": ir.UnNot}

var gepKindByName = map[string]ir.GepKind{"array": ir.GepArray, "struct": ir.GepStruct}

var typeKindByName = map[string]ir.TypeKind{
	"int": ir.TypeInt, "float": ir.TypeFloat, "ptr": ir.TypePtr,
	"array": ir.TypeArray, "struct": ir.TypeStruct,
}

// funcInfo is a declared function's identity: fnID is the NodeID passed
// as the "owning function" argument to NewNode/NewCall, entry/exit are
// its FunEntry/FunExit nodes (zero for external functions, which never
// call NewFunction — exactly the condition pkg/dispatch checks to route
// a call through pkg/extapi instead of recursing).
type funcInfo struct {
	fnID ir.NodeID
	entry, exit ir.NodeID
	external bool
}

type builder struct {
	spec *Spec
	prog *ir.Program
	names map[string]ir.NodeID // vars + objects, merged
	funcs map[string]*funcInfo
}

// Build constructs an ir.Program from spec, ready to hand to
// engine.Run. The returned Program also implements ir.PAG/ir.ICFG/ir.Env
// (pkg/ir.Program satisfies every contract the engine needs).
func Build(spec *Spec) (*ir.Program, error) {
	b := &builder{
		spec: spec,
		prog: ir.NewProgram(),
		names: map[string]ir.NodeID{},
		funcs: map[string]*funcInfo{},
	}
	if err := b.declareVars(); err != nil {
		return nil, err
	}
	if err := b.declareObjects(); err != nil {
		return nil, err
	}
	if err := b.declareFunctions(); err != nil {
		return nil, err
	}
	if err := b.buildFunctions(); err != nil {
		return nil, err
	}
	return b.prog, nil
}

func (b *builder) declareVars() error {
	for name, vs := range b.spec.Vars {
		if _, dup := b.names[name]; dup {
			return fmt.Errorf("scenario: %q declared twice", name)
		}
		v := ir.Var{IsPointer: vs.Pointer, IsGlobal: vs.Global}
		switch {
		case vs.ConstInt != nil:
			v.ConstKind, v.ConstInt, v.HasValue = ir.ConstInt, *vs.ConstInt, true
		case vs.ConstFloat != nil:
			v.ConstKind, v.ConstFloat, v.HasValue = ir.ConstFloat, *vs.ConstFloat, true
		}
		b.names[name] = b.prog.NewVar(v)
	}
	return nil
}

func (b *builder) declareObjects() error {
	for name, os := range b.spec.Objects {
		if _, dup := b.names[name]; dup {
			return fmt.Errorf("scenario: %q declared twice", name)
		}
		b.names[name] = b.prog.NewBaseObject(ir.BaseObject{
			IsHeap: os.Heap, IsStack: os.Stack, IsGlobal: os.Global,
			ByteSize: os.ByteSize, IsConstantByteSize: !os.VariableSize,
		})
	}
	return nil
}

func (b *builder) declareFunctions() error {
	for name, fs := range b.spec.Functions {
		if name == b.spec.Root {
			continue
		}
		fnVar := b.prog.NewVar(ir.Var{})
		b.prog.SetFunctionName(fnVar, name)
		info := &funcInfo{fnID: fnVar, external: fs.External}
		if !fs.External {
			info.entry, info.exit = b.prog.NewFunction(fnVar)
		}
		b.funcs[name] = info
	}
	if b.spec.Root == "" {
		return nil
	}
	if _, ok := b.spec.Functions[b.spec.Root]; !ok {
		return fmt.Errorf("scenario: root function %q not declared", b.spec.Root)
	}
	entry, exit := b.prog.NewFunction(ir.NullPtr)
	b.prog.SetGlobalEntry(entry)
	b.funcs[b.spec.Root] = &funcInfo{fnID: ir.NullPtr, entry: entry, exit: exit}
	return nil
}

func (b *builder) buildFunctions() error {
	for name, fs := range b.spec.Functions {
		if fs.External {
			continue
		}
		if err := b.buildFunction(name, fs); err != nil {
			return fmt.Errorf("scenario: function %q: %w", name, err)
		}
	}
	return nil
}

func (b *builder) buildFunction(name string, fs FuncSpec) error {
	info := b.funcs[name]
	nodeNames := map[string]ir.NodeID{"entry": info.entry, "exit": info.exit}

	for _, ns := range fs.Nodes {
		if _, dup := nodeNames[ns.ID]; dup {
			return fmt.Errorf("node %q declared twice", ns.ID)
		}
		if ns.Call != nil {
			call, ret := b.prog.NewCall(info.fnID)
			nodeNames[ns.ID] = call
			nodeNames[ns.ID+".ret"] = ret
			// The WTO schedules Call and Ret as independent singletons;
			// nothing but an explicit edge carries the dispatcher's
			// result from one to the other (pkg/fixpoint.execNode
			// stores Dispatch's output at the Call node itself).
			b.prog.AddEdge(call, ret)
			if err := b.wireCall(call, ns.Call); err != nil {
				return fmt.Errorf("node %q: %w", ns.ID, err)
			}
			continue
		}
		nodeNames[ns.ID] = b.prog.NewNode(info.fnID, ir.KindIntra)
	}

	for _, ns := range fs.Nodes {
		if ns.Call != nil {
			continue
		}
		stmts, err := b.buildStmts(ns.Stmts, nodeNames)
		if err != nil {
			return fmt.Errorf("node %q: %w", ns.ID, err)
		}
		b.prog.SetStatements(nodeNames[ns.ID], stmts...)
	}

	for _, es := range fs.Edges {
		from, ok := nodeNames[es.From]
		if !ok {
			return fmt.Errorf("edge references unknown node %q", es.From)
		}
		to, ok := nodeNames[es.To]
		if !ok {
			return fmt.Errorf("edge references unknown node %q", es.To)
		}
		if es.Cond == "" {
			b.prog.AddEdge(from, to)
			continue
		}
		cond, err := b.lookup(es.Cond)
		if err != nil {
			return err
		}
		b.prog.AddCondEdge(from, to, cond, es.CondValue)
	}
	return nil
}

func (b *builder) wireCall(call ir.NodeID, cs *CallSpec) error {
	args := make([]ir.NodeID, len(cs.Args))
	for i, a := range cs.Args {
		v, err := b.lookup(a)
		if err != nil {
			return err
		}
		args[i] = v
	}
	b.prog.SetArguments(call, args)

	if cs.Result != "" {
		rv, err := b.lookup(cs.Result)
		if err != nil {
			return err
		}
		b.prog.SetResultVar(call, rv)
	}

	if len(cs.Indirect) > 0 {
		targets := make([]ir.NodeID, len(cs.Indirect))
		for i, t := range cs.Indirect {
			fi, ok := b.funcs[t]
			if !ok {
				return fmt.Errorf("indirect target %q not declared", t)
			}
			targets[i] = fi.fnID
		}
		b.prog.SetIndirectCallTargets(call, targets)
		return nil
	}
	if cs.Callee == "" {
		return fmt.Errorf("call needs a callee or indirect_targets")
	}
	fi, ok := b.funcs[cs.Callee]
	if !ok {
		return fmt.Errorf("callee %q not declared", cs.Callee)
	}
	b.prog.SetDirectCallee(call, fi.fnID)
	return nil
}

func (b *builder) lookup(name string) (ir.NodeID, error) {
	id, ok := b.names[name]
	if !ok {
		return 0, fmt.Errorf("undeclared variable or object %q", name)
	}
	return id, nil
}

func (b *builder) buildStmts(specs []StmtSpec, nodeNames map[string]ir.NodeID) ([]ir.Statement, error) {
	out := make([]ir.Statement, 0, len(specs))
	for _, s := range specs {
		stmt, err := b.buildStmt(s, nodeNames)
		if err != nil {
			return nil, fmt.Errorf("stmt %q: %w", s.Op, err)
		}
		out = append(out, stmt)
	}
	return out, nil
}

func (b *builder) buildStmt(s StmtSpec, nodeNames map[string]ir.NodeID) (ir.Statement, error) {
	switch s.Op {
	case "addr":
		lhs, rhs, err := b.lookup2(s.Lhs, s.Rhs)
		if err != nil {
			return nil, err
		}
		return ir.AddrStmt{Lhs: lhs, Rhs: rhs, ArraySize: s.ArraySize}, nil

	case "copy":
		lhs, rhs, err := b.lookup2(s.Lhs, s.Rhs)
		if err != nil {
			return nil, err
		}
		kind, ok := copyKindByName[s.CopyKind]
		if s.CopyKind != "" && !ok {
			return nil, fmt.Errorf("unknown copy_kind %q", s.CopyKind)
		}
		return ir.CopyStmt{Lhs: lhs, Rhs: rhs, CopyKind: kind, DstType: toType(s.DstType)}, nil

	case "gep":
		lhs, rhs, err := b.lookup2(s.Lhs, s.Rhs)
		if err != nil {
			return nil, err
		}
		pairs := make([]ir.GepPair, len(s.Pairs))
		for i, ps := range s.Pairs {
			kind, ok := gepKindByName[ps.Kind]
			if !ok {
				return nil, fmt.Errorf("unknown gep pair kind %q", ps.Kind)
			}
			pair := ir.GepPair{Kind: kind, Const: ps.Const, IsIdxConst: ps.IsIdxConst, Type: toType(ps.Type)}
			if ps.IdxVar != "" {
				idx, err := b.lookup(ps.IdxVar)
				if err != nil {
					return nil, err
				}
				pair.IdxVar = idx
			}
			pairs[i] = pair
		}
		return ir.GepStmt{Lhs: lhs, Rhs: rhs, Pairs: pairs, ConstantOffset: s.ConstantOffset}, nil

	case "load":
		lhs, rhs, err := b.lookup2(s.Lhs, s.Rhs)
		if err != nil {
			return nil, err
		}
		return ir.LoadStmt{Lhs: lhs, Rhs: rhs}, nil

	case "store":
		lhs, rhs, err := b.lookup2(s.Lhs, s.Rhs)
		if err != nil {
			return nil, err
		}
		return ir.StoreStmt{Lhs: lhs, Rhs: rhs}, nil

	case "phi":
		res, err := b.lookup(s.Res)
		if err != nil {
			return nil, err
		}
		opVars := make([]ir.NodeID, len(s.OpVars))
		for i, name := range s.OpVars {
			v, err := b.lookup(name)
			if err != nil {
				return nil, err
			}
			opVars[i] = v
		}
		return ir.PhiStmt{Res: res, OpVars: opVars}, nil

	case "select":
		res, cond, err := b.lookup2(s.Res, s.Cond)
		if err != nil {
			return nil, err
		}
		t, f, err := b.lookup2(s.T, s.F)
		if err != nil {
			return nil, err
		}
		return ir.SelectStmt{Res: res, Cond: cond, T: t, F: f}, nil

	case "cmp":
		res, op0, err := b.lookup2(s.Res, s.Op0)
		if err != nil {
			return nil, err
		}
		op1, err := b.lookup(s.Op1)
		if err != nil {
			return nil, err
		}
		pred, ok := predByName[s.Pred]
		if !ok {
			return nil, fmt.Errorf("unknown pred %q", s.Pred)
		}
		return ir.CmpStmt{Res: res, Op0: op0, Op1: op1, Pred: pred}, nil

	case "binary":
		res, op0, err := b.lookup2(s.Res, s.Op0)
		if err != nil {
			return nil, err
		}
		op1, err := b.lookup(s.Op1)
		if err != nil {
			return nil, err
		}
		opcode, ok := binOpByName[s.Opcode]
		if !ok {
			return nil, fmt.Errorf("unknown opcode %q", s.Opcode)
		}
		return ir.BinaryOpStmt{Res: res, Op0: op0, Op1: op1, Opcode: opcode}, nil

	case "unary":
		res, op, err := b.lookup2(s.Res, s.Op0)
		if err != nil {
			return nil, err
		}
		opcode, ok := unOpByName[s.Opcode]
		if !ok {
			return nil, fmt.Errorf("unknown opcode %q", s.Opcode)
		}
		return ir.UnaryOpStmt{Res: res, Op: op, Opcode: opcode}, nil

	case "branch":
		cond, err := b.lookup(s.Cond)
		if err != nil {
			return nil, err
		}
		succs := make([]ir.NodeID, len(s.Successors))
		for i, id := range s.Successors {
			n, ok := nodeNames[id]
			if !ok {
				return nil, fmt.Errorf("branch successor references unknown node %q", id)
			}
			succs[i] = n
		}
		return ir.BranchStmt{Cond: cond, Successors: succs, CondValues: s.CondValues}, nil

	case "call_pe":
		lhs, rhs, err := b.lookup2(s.Lhs, s.Rhs)
		if err != nil {
			return nil, err
		}
		return ir.CallPEStmt{Lhs: lhs, Rhs: rhs}, nil

	case "ret_pe":
		lhs, rhs, err := b.lookup2(s.Lhs, s.Rhs)
		if err != nil {
			return nil, err
		}
		return ir.RetPEStmt{Lhs: lhs, Rhs: rhs}, nil

	default:
		return nil, fmt.Errorf("unknown op %q", s.Op)
	}
}

func (b *builder) lookup2(a, c string) (ir.NodeID, ir.NodeID, error) {
	av, err := b.lookup(a)
	if err != nil {
		return 0, 0, err
	}
	cv, err := b.lookup(c)
	if err != nil {
		return 0, 0, err
	}
	return av, cv, nil
}

func toType(ts *TypeSpec) *ir.Type {
	if ts == nil {
		return nil
	}
	t := &ir.Type{
		Kind: typeKindByName[ts.Kind], Size: ts.ByteSize, ElemCount: ts.ElemCount,
		Signed: ts.Signed, Bits: ts.Bits, FieldByteOffsets: ts.FieldByteOffsets,
		Elem: toType(ts.Elem),
	}
	if len(ts.Fields) > 0 {
		t.Fields = make([]*ir.Type, len(ts.Fields))
		for i, f := range ts.Fields {
			t.Fields[i] = toType(f)
		}
	}
	return t
}
