// Package extapi implements the external-API registry: a
// function-name keyed table of transfer functions standing in for libc
// and test-hook semantics the interpreter cannot see the body of.
package extapi

import (
	"fmt"

	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// AssertionError is returned when a test-hook (svf_assert, svf_assert_eq)
// fails; this is a test-hook failure and must abort the
// whole run, unlike a Contract violation which only abandons the
// enclosing function.
type AssertionError struct {
	Call ir.NodeID
	Msg string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed at call node %d: %s", e.Call, e.Msg)
}

// Handler is one external-API transfer function: fn(S, call_node).
type Handler func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error

// Registry maps an external function's linkage name to its Handler.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a Registry preloaded with every built-in model
// names.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	registerCharClass(r)
	registerMath(r)
	registerMemory(r)
	registerIO(r)
	registerFree(r)
	registerTestHooks(r)
	return r
}

// Register installs or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) { r.handlers[name] = h }

// Lookup returns the handler registered for name, if any.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Call dispatches to name's handler, or applies the "unmodeled externals
// initialize the return slot to ⊤" default when name is unknown
// or carries no model.
func (r *Registry) Call(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID, name string) error {
	if h, ok := r.handlers[name]; ok {
		return h(s, pag, cfg, call)
	}
	bindResult(pag, s, call, lattice.TopVal())
	return nil
}

func bindResult(pag ir.Env, s *state.State, call ir.NodeID, val lattice.AbsVal) {
	if rv, ok := pag.ResultVar(call); ok {
		s.Set(rv, val)
	}
}

func arg(pag ir.Env, call ir.NodeID, i int) ir.NodeID { return pag.Argument(call, i) }

func numeralArg(s *state.State, pag ir.Env, call ir.NodeID, i int) (int64, bool) {
	v := s.Get(arg(pag, call, i))
	if !v.IsInterval() {
		return 0, false
	}
	return v.Interval().Numeral()
}
