package extapi

import (
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// mathNames are the libm functions names. The float domain
// is not modeled (see pkg/interp's execCopy float-cast simplification),
// so every one of these always returns ⊤ rather than a computed tight
// range — there is no sound way to narrow a float result into the
// integer interval domain this engine tracks.
var mathNames = []string{
	"sin", "cos", "tan", "asin", "acos", "atan", "atan2",
	"sqrt", "pow", "exp", "log", "log2", "log10",
	"floor", "ceil", "round", "trunc", "fabs", "fmod",
}

func registerMath(r *Registry) {
	for _, name := range mathNames {
		r.Register(name, func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
			bindResult(pag, s, call, lattice.TopVal())
			return nil
		})
	}
}
