package extapi

import (
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/interp"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// scanLike stores the pointee type's representable range into every
// output argument from index onward.
func scanLike(from int) Handler {
	return func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		for i := from; i < pag.NumArguments(call); i++ {
			ptr := arg(pag, call, i)
			v := pag.Node(ptr)
			rng := lattice.Top()
			if v.Type != nil && v.Type.Elem != nil {
				rng = interp.TypeRange(v.Type.Elem)
			}
			s.GepObjAddrs(ptr, lattice.Num(0)).Each(func(a uint32) {
				s.Store(a, lattice.IntervalVal(rng))
			})
		}
		return nil
	}
}

func registerIO(r *Registry) {
	r.Register("scanf", scanLike(1))
	r.Register("sscanf", scanLike(2))
	r.Register("fscanf", scanLike(2))

	r.Register("recv", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		buf := arg(pag, call, 1)
		lenVal := s.Get(arg(pag, call, 2))
		if lenVal.IsInterval() {
			memsetCore(s, cfg, buf, lattice.TopVal(), lenVal.Interval())
		}
		bindResult(pag, s, call, lattice.TopVal())
		return nil
	})

	r.Register("fread", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		ptr := arg(pag, call, 0)
		size, sizeOk := numeralArg(s, pag, call, 1)
		nmemb, nmembOk := numeralArg(s, pag, call, 2)
		var length lattice.Interval
		if sizeOk && nmembOk {
			length = lattice.Num(size * nmemb)
		} else {
			length = lattice.Range(0, int64(cfg.MaxFieldLimit))
		}
		memsetCore(s, cfg, ptr, lattice.TopVal(), length)
		bindResult(pag, s, call, lattice.TopVal())
		return nil
	})
}
