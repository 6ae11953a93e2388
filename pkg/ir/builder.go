package ir

import "fmt"

// Program is a small in-memory ICFG+PAG, standing in for the real IR
// front end and pointer-analysis pre-pass feeding a whole-program
// analysis. It is used by the scenario loader and by the test suite to
// build the neutral C-like example programs the engine runs over.
type Program struct {
	nextID NodeID

	nodes map[NodeID]*nodeInfo
	order []NodeID

	vars map[NodeID]Var
	baseObjects map[NodeID]BaseObject
	gepObjs map[gepKey]NodeID

	globalEntry NodeID
	funEntry map[NodeID]NodeID // function id -> entry node
	funExit map[NodeID]NodeID
	funOf map[NodeID]NodeID // node -> owning function id
	retOfCall map[NodeID]NodeID // call node -> ret node

	callTarget map[NodeID]NodeID // call node -> direct callee function id
	indirect map[NodeID]bool // call node -> is indirect
	indirectTgts map[NodeID][]NodeID // call node -> resolved callees
	callArgs map[NodeID][]NodeID
	callResult map[NodeID]NodeID // call node -> result variable, when the call is used as a value

	funcNames map[NodeID]string
}

type nodeInfo struct {
	kind NodeKind
	stmts []Statement
	in []Edge
	out []Edge
}

type gepKey struct {
	base NodeID
	field int
}

// NewProgram creates an empty program with the reserved ids consumed.
func NewProgram() *Program {
	p := &Program{
		nextID: NodeID(2), // 0=NullPtr, 1=BlackHole
		nodes: map[NodeID]*nodeInfo{},
		vars: map[NodeID]Var{},
		baseObjects: map[NodeID]BaseObject{},
		gepObjs: map[gepKey]NodeID{},
		funEntry: map[NodeID]NodeID{},
		funExit: map[NodeID]NodeID{},
		funOf: map[NodeID]NodeID{},
		retOfCall: map[NodeID]NodeID{},
		callTarget: map[NodeID]NodeID{},
		indirect: map[NodeID]bool{},
		indirectTgts: map[NodeID][]NodeID{},
		callArgs: map[NodeID][]NodeID{},
		callResult: map[NodeID]NodeID{},
		funcNames: map[NodeID]string{},
	}
	p.vars[NullPtr] = Var{ID: NullPtr, ConstKind: ConstNull, HasValue: true}
	p.vars[BlackHole] = Var{ID: BlackHole, IsPointer: true}
	return p
}

func (p *Program) alloc() NodeID {
	id := p.nextID
	p.nextID++
	return id
}

// NewNode allocates a fresh ICFG node of the given kind, owned by fn
// (use 0/NullPtr as the function id for the global-entry node).
func (p *Program) NewNode(fn NodeID, kind NodeKind) NodeID {
	id := p.alloc()
	p.nodes[id] = &nodeInfo{kind: kind}
	p.order = append(p.order, id)
	p.funOf[id] = fn
	return id
}

// SetGlobalEntry marks n as the program's global ICFG entry.
func (p *Program) SetGlobalEntry(n NodeID) { p.globalEntry = n }

// NewFunction allocates entry/exit nodes for a function identified by fn
// (fn is itself a NodeID minted by the caller, typically via NewVar).
func (p *Program) NewFunction(fn NodeID) (entry, exit NodeID) {
	entry = p.NewNode(fn, KindFunEntry)
	exit = p.NewNode(fn, KindFunExit)
	p.funEntry[fn] = entry
	p.funExit[fn] = exit
	return
}

// SetFunctionName records fn's external-API lookup name.
func (p *Program) SetFunctionName(fn NodeID, name string) {
	p.funcNames[fn] = name
}

// FunctionName returns fn's external-API lookup name, if one was set.
func (p *Program) FunctionName(fn NodeID) (string, bool) {
	name, ok := p.funcNames[fn]
	return name, ok
}

// NewCall allocates a paired Call/Ret node owned by fn.
func (p *Program) NewCall(fn NodeID) (call, ret NodeID) {
	call = p.NewNode(fn, KindCall)
	ret = p.NewNode(fn, KindRet)
	p.retOfCall[call] = ret
	return
}

// SetDirectCallee records the statically-resolved callee of a call node.
func (p *Program) SetDirectCallee(call, callee NodeID) {
	p.callTarget[call] = callee
}

// SetIndirectCallTargets marks a call node as indirect with the given
// points-to-resolved candidate callees.
func (p *Program) SetIndirectCallTargets(call NodeID, targets []NodeID) {
	p.indirect[call] = true
	p.indirectTgts[call] = targets
}

// SetArguments records the actual argument variables of a call node.
func (p *Program) SetArguments(call NodeID, args []NodeID) {
	p.callArgs[call] = args
}

// SetResultVar records the variable a call's return value binds to, when
// the call is used as a value.
func (p *Program) SetResultVar(call, result NodeID) {
	p.callResult[call] = result
}

// AddEdge adds an unconditional control-flow edge.
func (p *Program) AddEdge(from, to NodeID) {
	e := Edge{From: from, To: to}
	p.nodes[from].out = append(p.nodes[from].out, e)
	p.nodes[to].in = append(p.nodes[to].in, e)
}

// AddCondEdge adds a conditional control-flow edge, taken when cond
// evaluates to succVal.
func (p *Program) AddCondEdge(from, to, cond NodeID, succVal int64) {
	e := Edge{From: from, To: to, Conditional: true, Condition: cond, SuccCondValue: succVal}
	p.nodes[from].out = append(p.nodes[from].out, e)
	p.nodes[to].in = append(p.nodes[to].in, e)
}

// SetStatements replaces the PAG statements attached to an ICFG node.
func (p *Program) SetStatements(n NodeID, stmts...Statement) {
	p.nodes[n].stmts = stmts
}

// NewVar mints a fresh Var descriptor.
func (p *Program) NewVar(v Var) NodeID {
	id := p.alloc()
	v.ID = id
	p.vars[id] = v
	return id
}

// NewBaseObject mints a fresh BaseObject descriptor.
func (p *Program) NewBaseObject(o BaseObject) NodeID {
	id := p.alloc()
	o.ID = id
	p.baseObjects[id] = o
	// A base object is also addressable as a Var (its own address).
	p.vars[id] = Var{ID: id, IsPointer: true, HasBaseObj: true, BaseObjectID: id, IsGlobal: o.IsGlobal}
	return id
}

// --- PAG ---

func (p *Program) Node(id NodeID) Var { return p.vars[id] }

func (p *Program) GepObjVar(baseObjID NodeID, fieldIdx int) NodeID {
	k := gepKey{baseObjID, fieldIdx}
	if id, ok := p.gepObjs[k]; ok {
		return id
	}
	id := p.alloc()
	base := p.vars[baseObjID]
	p.vars[id] = Var{ID: id, IsPointer: true, HasBaseObj: true, BaseObjectID: baseObjID, IsGlobal: base.IsGlobal}
	p.gepObjs[k] = id
	return id
}

func (p *Program) IndirectCallTargets(callID NodeID) []NodeID { return p.indirectTgts[callID] }

func (p *Program) StatementsOf(n NodeID) []Statement {
	if ni, ok := p.nodes[n]; ok {
		return ni.stmts
	}
	return nil
}

func (p *Program) BaseObject(id NodeID) BaseObject { return p.baseObjects[id] }

// --- ICFG ---

func (p *Program) Nodes() []NodeID { return p.order }

func (p *Program) Kind(n NodeID) NodeKind { return p.nodes[n].kind }

func (p *Program) GlobalEntry() NodeID { return p.globalEntry }

func (p *Program) FunEntry(fn NodeID) NodeID { return p.funEntry[fn] }

func (p *Program) FunExit(fn NodeID) NodeID { return p.funExit[fn] }

func (p *Program) RetNodeOf(callNode NodeID) NodeID { return p.retOfCall[callNode] }

func (p *Program) InEdges(n NodeID) []Edge { return p.nodes[n].in }

func (p *Program) OutEdges(n NodeID) []Edge { return p.nodes[n].out }

func (p *Program) FunctionOf(n NodeID) NodeID { return p.funOf[n] }

func (p *Program) Argument(callNode NodeID, i int) NodeID {
	args := p.callArgs[callNode]
	if i < 0 || i >= len(args) {
		return NullPtr
	}
	return args[i]
}

func (p *Program) NumArguments(callNode NodeID) int { return len(p.callArgs[callNode]) }

func (p *Program) CalledFunction(callNode NodeID) NodeID { return p.callTarget[callNode] }

func (p *Program) IsIndirectCall(callNode NodeID) bool { return p.indirect[callNode] }

func (p *Program) ResultVar(callNode NodeID) (NodeID, bool) {
	v, ok := p.callResult[callNode]
	return v, ok
}

// String renders the program as a debug listing.
func (p *Program) String() string {
	s := ""
	for _, n := range p.order {
		s += fmt.Sprintf("n%d [%d]: %d stmts, %d out-edges\n", n, p.nodes[n].kind, len(p.nodes[n].stmts), len(p.nodes[n].out))
	}
	return s
}
