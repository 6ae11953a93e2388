package extapi

import (
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// freeNames are the deallocation functions free-family
// model covers; each marks every address of its pointer argument as
// freed. Whether that address was already freed (double free) is
// observed by the DoubleFreeDetector's on_external hook, which runs
// before this handler mutates S.freed (pkg/dispatch orders detectors
// ahead of the registry call for exactly this reason).
var freeNames = []string{"free", "kfree", "g_free", "delete"}

func registerFree(r *Registry) {
	for _, name := range freeNames {
		r.Register(name, func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
			ptr := arg(pag, call, 0)
			s.Get(ptr).Addrs().Each(func(a uint32) {
				s.AddFreed(a)
			})
			bindResult(pag, s, call, lattice.TopVal())
			return nil
		})
	}
}
