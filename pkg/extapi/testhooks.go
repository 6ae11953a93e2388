package extapi

import (
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// registerTestHooks wires the svf_assert/svf_assert_eq/svf_print/
// set_value family the scenario suite uses to pin down expected
// abstract values.
func registerTestHooks(r *Registry) {
	r.Register("svf_assert", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		x := arg(pag, call, 0)
		v := s.Get(x)
		if v.IsInterval() && v.Interval().Equal(lattice.Num(1)) {
			return nil
		}
		return &AssertionError{Call: call, Msg: "svf_assert: expected [1,1], got " + v.String()}
	})

	r.Register("svf_assert_eq", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		a, b := arg(pag, call, 0), arg(pag, call, 1)
		av, bv := s.Get(a), s.Get(b)
		if av.Equal(bv) {
			return nil
		}
		return &AssertionError{Call: call, Msg: "svf_assert_eq: " + av.String() + " != " + bv.String()}
	})

	r.Register("svf_print", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		return nil
	})

	r.Register("set_value", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		v := arg(pag, call, 0)
		lo, loOk := numeralArg(s, pag, call, 1)
		hi, hiOk := numeralArg(s, pag, call, 2)
		if !loOk || !hiOk {
			return nil
		}
		s.Set(v, lattice.IntervalVal(lattice.Range(lo, hi)))
		return nil
	})
}
