// Package engine wires together the ICFG/PAG/CallGraph/WTO contracts,
// the external-API registry, the bug detectors, and the fixpoint driver
// into the single entry point exposes:
// AbstractInterpretation::run(icfg, pag, call_graph, wto_provider,
// detectors) -> {state_at, bugs}.
package engine

import (
	"github.com/oisee/absint/pkg/allocsize"
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/detect"
	"github.com/oisee/absint/pkg/extapi"
	"github.com/oisee/absint/pkg/fixpoint"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/state"
	"github.com/oisee/absint/pkg/wto"
)

// Result is the engine's output: the persisted per-node abstract-state
// dump and the deduplicated bug list.
// ContractViolations and Aborted surface the two hard-failure entries of
// error taxonomy that Bugs does not cover.
type Result struct {
	StateAt map[ir.NodeID]*state.State
	Bugs []detect.Bug
	ContractViolations []*fixpoint.ContractError
	Aborted error
}

// DefaultDetectors returns one instance of every built-in detector, with
// bufRules installed on the buffer-overflow detector's BUF_CHECK table
// (nil for none).
func DefaultDetectors(bufRules map[string]detect.BufOverflowCheck) []detect.Detector {
	return []detect.Detector{
		detect.NewBufferOverflowDetector(bufRules),
		detect.NewNullPtrDerefDetector(),
		detect.NewDoubleFreeDetector(),
		detect.NewUseAfterFreeDetector(),
	}
}

// Run analyzes the whole program reachable from icfg's global entry,
// returning the converged per-node state map and every bug the supplied
// detectors reported. registry defaults to extapi.NewRegistry() when
// nil; cg and wtoProvider may be nil. With a nil cg no call is
// classified as recursive by SCC: a call into a function already on the
// dispatcher's call stack takes the conservative havoc path
// (pkg/dispatch), and every other call runs the callee's fixpoint. A nil
// wtoProvider is computed fresh via pkg/wto.
func Run(icfg ir.ICFG, pag ir.Env, cg ir.CallGraph, wtoProvider ir.WTO, cfg config.Config, registry *extapi.Registry, detectors []detect.Detector) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = extapi.NewRegistry()
	}
	if wtoProvider == nil {
		wtoProvider = wto.New(icfg)
	}

	allocIndex := allocsize.BuildDefIndex(icfg, pag)
	driver := fixpoint.NewDriver(icfg, pag, cg, wtoProvider, cfg, registry, detectors, allocIndex)

	// The global scope is function ir.NullPtr by the ICFG builder's own
	// convention (pkg/ir/builder.go's NewNode doc comment): its FunEntry
	// is icfg.GlobalEntry(), and 0 is safe to reuse as a function key
	// because funEntry/funExit index a disjoint map domain from the
	// null-pointer object's Var id.
	entryState := state.New(pag, cfg)
	driver.RunFunction(ir.NullPtr, entryState)

	var bugs []detect.Bug
	for _, det := range detectors {
		bugs = append(bugs, det.Finish()...)
	}

	return &Result{
		StateAt: driver.StateAt,
		Bugs: bugs,
		ContractViolations: driver.ContractViolations,
		Aborted: driver.Aborted,
	}, nil
}
