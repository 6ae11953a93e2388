// Package dispatch implements the call-site dispatcher:
// external/recursive/direct/indirect call handling, orchestrating the
// call stack discipline requires but leaving argument/return
// binding to the CallPE/RetPE statements already attached to entry/exit
// nodes.
package dispatch

import (
	"github.com/oisee/absint/pkg/allocsize"
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/detect"
	"github.com/oisee/absint/pkg/extapi"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// RunFunc runs a function's fixpoint from a fresh entry pre-state and
// returns its exit post-state. Supplied by pkg/fixpoint, which otherwise
// would import this package (call nodes need dispatch, recursion needs
// the fixpoint driver) — the callback breaks the cycle.
type RunFunc func(fn ir.NodeID, entryState *state.State) *state.State

// Dispatcher orchestrates one Call node's handling.
type Dispatcher struct {
	ICFG ir.ICFG
	PAG ir.Env
	CallGraph ir.CallGraph
	Cfg config.Config
	Registry *extapi.Registry
	Detectors []detect.Detector
	AllocIndex *allocsize.DefIndex

	// RunFull runs a callee's complete widen-then-narrow fixpoint
	// (direct/indirect calls, and recursive calls under WidenNarrow).
	RunFull RunFunc
	// RunWidenOnly runs a callee's increasing phase without narrowing
	// (recursive calls under config.WidenOnly).
	RunWidenOnly RunFunc

	callStack []ir.NodeID
}

// New returns a Dispatcher. RunFull/RunWidenOnly may be nil, in which
// case every call degrades to the external/havoc path (used by tests
// that don't need real interprocedural recursion).
func New(icfg ir.ICFG, pag ir.Env, cg ir.CallGraph, cfg config.Config, registry *extapi.Registry, detectors []detect.Detector, allocIndex *allocsize.DefIndex, runFull, runWidenOnly RunFunc) *Dispatcher {
	return &Dispatcher{
		ICFG: icfg, PAG: pag, CallGraph: cg, Cfg: cfg,
		Registry: registry, Detectors: detectors, AllocIndex: allocIndex,
		RunFull: runFull, RunWidenOnly: runWidenOnly,
	}
}

// CallStack exposes the current call-stack snapshot for detectors'
// event-stack field.
func (d *Dispatcher) CallStack() []ir.NodeID { return append([]ir.NodeID(nil), d.callStack...) }

func (d *Dispatcher) detectContext() *detect.Context {
	return &detect.Context{PAG: d.PAG, Cfg: d.Cfg, AllocIndex: d.AllocIndex, CallStack: d.CallStack()}
}

func (d *Dispatcher) onActive(fn ir.NodeID) bool {
	for _, f := range d.callStack {
		if f == fn {
			return true
		}
	}
	return false
}

// Dispatch processes call under s, returning the state to use as the
// Ret node's pre-state.
func (d *Dispatcher) Dispatch(s *state.State, call ir.NodeID) (*state.State, error) {
	if d.ICFG.IsIndirectCall(call) {
		return d.dispatchIndirect(s, call)
	}

	calleeFn := d.ICFG.CalledFunction(call)
	if d.ICFG.FunEntry(calleeFn) == 0 {
		return s, d.dispatchExternal(s, call, calleeFn)
	}

	callerFn := d.ICFG.FunctionOf(call)
	if d.CallGraph != nil && d.CallGraph.SCCOf(calleeFn) == d.CallGraph.SCCOf(callerFn) {
		return d.dispatchRecursive(s, call, calleeFn), nil
	}

	return d.dispatchDirect(s, call, calleeFn), nil
}

func (d *Dispatcher) dispatchExternal(s *state.State, call, calleeFn ir.NodeID) error {
	name, _ := d.PAG.FunctionName(calleeFn)
	ctx := d.detectContext()
	for _, det := range d.Detectors {
		det.OnExternal(ctx, s, call, name)
	}
	return d.Registry.Call(s, d.PAG, d.Cfg, call, name)
}

// dispatchRecursive havocs the call's result and every currently-named
// memory cell to ⊤ (an over-approximation of "every memory cell
// reachable from a stored pointer in the callee's body" — this model
// has no stored-pointer reachability summary finer than "everything
// currently named", so it havocs the whole named heap rather than a
// precise subset). Under WidenOnly/WidenNarrow the first reentry into a
// not-yet-active callee instead runs its fixpoint for real (increasing
// phase only, or the full widen+narrow fixpoint respectively); any
// deeper reentry into an already-active callee still degrades to havoc
// so the host Go call stack can never actually recurse unboundedly.
func (d *Dispatcher) dispatchRecursive(s *state.State, call, calleeFn ir.NodeID) *state.State {
	if !d.onActive(calleeFn) {
		switch d.Cfg.HandleRecur {
		case config.WidenOnly:
			if d.RunWidenOnly != nil {
				return d.runCallee(s, call, calleeFn, d.RunWidenOnly)
			}
		case config.WidenNarrow:
			if d.RunFull != nil {
				return d.runCallee(s, call, calleeFn, d.RunFull)
			}
		}
	}
	return d.havoc(s, call)
}

func (d *Dispatcher) havoc(s *state.State, call ir.NodeID) *state.State {
	out := s.Clone()
	if rv, ok := d.ICFG.ResultVar(call); ok {
		out.Set(rv, out.Get(rv).WidenWith(lattice.TopVal()))
	}
	var addrs []ir.NodeID
	out.EachAddr(func(k ir.NodeID, _ lattice.AbsVal) { addrs = append(addrs, k) })
	for _, k := range addrs {
		out.Store(ir.ToAddr(k), lattice.TopVal())
	}
	return out
}

func (d *Dispatcher) dispatchDirect(s *state.State, call, calleeFn ir.NodeID) *state.State {
	if d.RunFull == nil || d.onActive(calleeFn) {
		return d.havoc(s, call)
	}
	return d.runCallee(s, call, calleeFn, d.RunFull)
}

func (d *Dispatcher) dispatchIndirect(s *state.State, call ir.NodeID) (*state.State, error) {
	targets := d.PAG.IndirectCallTargets(call)
	if len(targets) == 0 {
		return s, d.dispatchExternal(s, call, 0)
	}
	result := lattice.BottomVal()
	var out *state.State
	for _, fn := range targets {
		var exit *state.State
		if d.ICFG.FunEntry(fn) == 0 {
			exit = s.Clone()
			if err := d.dispatchExternal(exit, call, fn); err != nil {
				return s, err
			}
		} else if d.onActive(fn) || (d.CallGraph != nil && d.onActiveOrSameSCC(call, fn)) {
			exit = d.havoc(s, call)
		} else if d.RunFull != nil {
			exit = d.runCallee(s, call, fn, d.RunFull)
		} else {
			exit = d.havoc(s, call)
		}
		if out == nil {
			out = exit
		} else {
			out = out.JoinWith(exit)
		}
		if rv, ok := d.ICFG.ResultVar(call); ok {
			result = result.Join(exit.Get(rv))
		}
	}
	if rv, ok := d.ICFG.ResultVar(call); ok {
		out.Set(rv, result)
	}
	return out, nil
}

func (d *Dispatcher) onActiveOrSameSCC(call, fn ir.NodeID) bool {
	callerFn := d.ICFG.FunctionOf(call)
	return d.onActive(fn) || d.CallGraph.SCCOf(fn) == d.CallGraph.SCCOf(callerFn)
}

func (d *Dispatcher) runCallee(s *state.State, call, calleeFn ir.NodeID, run RunFunc) *state.State {
	d.callStack = append(d.callStack, calleeFn)
	defer func() { d.callStack = d.callStack[:len(d.callStack)-1] }()
	return run(calleeFn, s.Clone())
}
