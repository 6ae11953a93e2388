// Package fixpoint implements the weak-topological-order chaotic-iteration
// driver of : singleton nodes merge predecessor states through
// the branch-feasibility oracle and apply one round of transfer functions;
// cycles run an increasing (widening) phase followed by a decreasing
// (narrowing) phase over their body, per Bourdoncle's algorithm.
package fixpoint

import (
	"errors"
	"fmt"

	"github.com/oisee/absint/pkg/allocsize"
	"github.com/oisee/absint/pkg/branch"
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/detect"
	"github.com/oisee/absint/pkg/dispatch"
	"github.com/oisee/absint/pkg/extapi"
	"github.com/oisee/absint/pkg/interp"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/state"
)

// maxNarrowIters bounds the decreasing phase.
const maxNarrowIters = 8

// ContractError reports a broken IR/lattice invariant: the analysis of the enclosing function is
// abandoned, but the engine continues with other functions.
type ContractError struct {
	Node ir.NodeID
	Msg string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("fixpoint: contract violation at node %d: %s", e.Node, e.Msg)
}

// Driver runs the WTO-scheduled fixpoint for one program. A single Driver
// is shared across every function: StateAt persists post-states by node,
// so a function reached through several call sites accumulates the join
// of its call-site pre-states the way expects, and RunFunction
// plugs directly into dispatch.RunFunc to close the cycle between call-site
// dispatch and interprocedural recursion.
type Driver struct {
	ICFG ir.ICFG
	PAG ir.Env
	WTO ir.WTO
	Cfg config.Config

	Dispatcher *dispatch.Dispatcher
	Detectors []detect.Detector
	AllocIndex *allocsize.DefIndex

	// StateAt is the persisted per-node post-state map, readable by callers after Run returns.
	StateAt map[ir.NodeID]*state.State

	// Aborted is set the first time a test-hook assertion fails
	// anywhere in the program; once
	// set, every further processComponent call is a no-op so the whole
	// run unwinds without doing additional work.
	Aborted error

	// ContractViolations accumulates every ContractError raised while
	// abandoning a function's analysis, for the engine to report.
	ContractViolations []*ContractError

	narrowPhase bool
}

// NewDriver builds a Driver and wires its Dispatcher's RunFull/RunWidenOnly
// callbacks to the Driver's own function runner, closing the
// dispatch<->fixpoint dependency cycle dispatch.RunFunc exists to break.
func NewDriver(icfg ir.ICFG, pag ir.Env, cg ir.CallGraph, wtoProvider ir.WTO, cfg config.Config, registry *extapi.Registry, detectors []detect.Detector, allocIndex *allocsize.DefIndex) *Driver {
	d := &Driver{
		ICFG: icfg, PAG: pag, WTO: wtoProvider, Cfg: cfg,
		Detectors: detectors, AllocIndex: allocIndex,
		StateAt: make(map[ir.NodeID]*state.State),
	}
	d.Dispatcher = dispatch.New(icfg, pag, cg, cfg, registry, detectors, allocIndex, d.RunFunction, d.RunFunctionWidenOnly)
	return d
}

// RunFunction runs fn's complete widen-then-narrow fixpoint from
// entryState and returns its exit post-state. It satisfies
// dispatch.RunFunc and is also the entry point for the program's root
// function (conventionally ir.NullPtr, whose FunEntry is
// icfg.GlobalEntry(), per the ICFG builder's "global scope is function
// 0" convention).
func (d *Driver) RunFunction(fn ir.NodeID, entryState *state.State) *state.State {
	return d.run(fn, entryState, true)
}

// RunFunctionWidenOnly runs fn's increasing phase only, skipping
// narrowing (config.WidenOnly's cheaper recursive re-entry).
func (d *Driver) RunFunctionWidenOnly(fn ir.NodeID, entryState *state.State) *state.State {
	return d.run(fn, entryState, false)
}

func (d *Driver) run(fn ir.NodeID, entryState *state.State, narrow bool) *state.State {
	saved := d.narrowPhase
	d.narrowPhase = narrow
	defer func() { d.narrowPhase = saved }()

	entry := d.ICFG.FunEntry(fn)
	d.StateAt[entry] = entryState

	for _, c := range d.WTO.ForFunction(fn) {
		if err := d.processComponent(c); err != nil {
			break
		}
	}

	exit := d.ICFG.FunExit(fn)
	if s, ok := d.StateAt[exit]; ok {
		return s
	}
	// exit never became reachable on this pass (every path diverges,
	// traps, or was pruned infeasible) — degrade to the entry state so
	// callers still get a well-formed (if conservative) result.
	return entryState.Clone()
}

func (d *Driver) processComponent(c ir.Component) error {
	if d.Aborted != nil {
		return d.Aborted
	}
	switch v := c.(type) {
	case ir.Singleton:
		return d.processSingleton(v.Node)
	case ir.Cycle:
		return d.processCycle(v)
	default:
		return nil
	}
}

// mergeIn joins every feasible predecessor's post-state for n, gated by
// the branch-feasibility oracle on conditional edges. ok
// is false when no predecessor has a post-state yet or none is feasible,
// meaning n is unreachable on this pass.
func (d *Driver) mergeIn(n ir.NodeID) (*state.State, bool) {
	var merged *state.State
	for _, e := range d.ICFG.InEdges(n) {
		predPost, ok := d.StateAt[e.From]
		if !ok {
			continue
		}
		refined, feasible := branch.Feasible(predPost, e, d.PAG.StatementsOf(e.From))
		if !feasible {
			continue
		}
		if merged == nil {
			merged = refined.Clone()
		} else {
			merged = merged.JoinWith(refined)
		}
	}
	return merged, merged != nil
}

func (d *Driver) processSingleton(n ir.NodeID) error {
	pre, ok := d.mergeIn(n)
	if !ok {
		existing, has := d.StateAt[n]
		if !has {
			return nil // unreachable this pass; pre-state undefined until next round
		}
		pre = existing.Clone()
	}
	out, err := d.execNode(n, pre)
	if err != nil {
		var ce *ContractError
		if errors.As(err, &ce) {
			d.ContractViolations = append(d.ContractViolations, ce)
		} else {
			d.Aborted = err
		}
		return err
	}
	d.StateAt[n] = out
	ctx := d.detectContext()
	for _, det := range d.Detectors {
		det.OnNode(ctx, out, n)
	}
	return nil
}

// execNode applies n's intra-node statements in source order (including
// any CallPE/RetPE bindings attached to entry/exit nodes, which Step
// handles like any other statement), or — for a Call node — invokes the
// call-site dispatcher after any intra-node statements.
func (d *Driver) execNode(n ir.NodeID, pre *state.State) (*state.State, error) {
	out := pre.Clone()
	for _, stmt := range d.PAG.StatementsOf(n) {
		interp.Step(out, d.PAG, d.Cfg, stmt)
	}
	if d.ICFG.Kind(n) == ir.KindCall {
		return d.Dispatcher.Dispatch(out, n)
	}
	return out, nil
}

func (d *Driver) detectContext() *detect.Context {
	return &detect.Context{PAG: d.PAG, Cfg: d.Cfg, AllocIndex: d.AllocIndex, CallStack: d.Dispatcher.CallStack()}
}

// runCycleBody runs every component of c.Body in order (head first, per
// Bourdoncle's construction), recursing into processComponent so nested
// cycles fully stabilize before the outer cycle's next round.
func (d *Driver) runCycleBody(c ir.Cycle) error {
	for _, sub := range c.Body {
		if err := d.processComponent(sub); err != nil {
			return err
		}
	}
	return nil
}

// runCycleBodyAfterHead runs every component of c.Body except the head
// singleton (always c.Body[0], per Bourdoncle's construction), leaving
// whatever the caller already stored at head untouched. Used right after
// widening forces head's post-state: re-merging head through the ordinary
// mergeIn path there would immediately throw the widened value away in
// favor of the back edge's pre-widen value, so the rest of the body is
// propagated directly from the forced state instead.
func (d *Driver) runCycleBodyAfterHead(c ir.Cycle) error {
	for _, sub := range c.Body[1:] {
		if err := d.processComponent(sub); err != nil {
			return err
		}
	}
	return nil
}

// processCycle runs the increasing phase (widening once the iteration
// count reaches Cfg.WidenDelay) followed by the decreasing phase
// (narrowing), The decreasing phase is skipped
// entirely under RunFunctionWidenOnly.
func (d *Driver) processCycle(c ir.Cycle) error {
	head := c.Head
	var prev *state.State
	for i := uint32(0); ; i++ {
		if err := d.runCycleBody(c); err != nil {
			return err
		}
		cur, ok := d.StateAt[head]
		if !ok {
			return nil // head never became reachable on this pass
		}
		if prev == nil {
			prev = cur
			continue
		}
		if i > 0 && i < d.Cfg.WidenDelay && cur.LessEq(prev) {
			break // the fresh result added nothing new: fixpoint reached before widening ever engaged
		}
		if i >= d.Cfg.WidenDelay {
			widened := prev.Widening(cur)
			if !cur.LessEq(widened) {
				// Widening must cover both operands; a violation here is a bug in
				// the lattice implementation, not a transient
				// non-convergence, so it is reported rather than
				// looped on.
				return &ContractError{Node: head, Msg: "widening operator failed its covering law"}
			}
			d.StateAt[head] = widened
			// propagate the widened head value through the rest of
			// the body once more before deciding on narrowing, so
			// every body node's post-state is consistent with the
			// widened head rather than the pre-widen value.
			if err := d.runCycleBodyAfterHead(c); err != nil {
				return err
			}
			break
		}
		prev = cur
	}
	if !d.narrowPhase {
		return nil
	}
	return d.runNarrow(c)
}

// runNarrow implements decreasing phase: each round
// narrows the accumulator P against the fresh natural result P', stopping
// once P' already subsumes P (no further narrowing possible) or after
// maxNarrowIters rounds.
func (d *Driver) runNarrow(c ir.Cycle) error {
	head := c.Head
	prev, ok := d.StateAt[head]
	if !ok {
		return nil
	}
	for i := 0; i < maxNarrowIters; i++ {
		if err := d.runCycleBody(c); err != nil {
			return err
		}
		cur, ok := d.StateAt[head]
		if !ok {
			return nil
		}
		if prev.LessEq(cur) {
			break // P' >= P: fixpoint, narrowing would not help
		}
		narrowed := prev.Narrowing(cur)
		d.StateAt[head] = narrowed
		prev = narrowed
	}
	return nil
}
