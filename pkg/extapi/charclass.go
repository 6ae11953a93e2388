package extapi

import (
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// ctype classifiers match C's <ctype.h> semantics over the ASCII range,
// which is all the abstract domain can observe a numeral as.
var ctypeClassifiers = map[string]func(int64) bool{
	"isalpha":  func(c int64) bool { return isUpper(c) || isLower(c) },
	"isdigit":  func(c int64) bool { return c >= '0' && c <= '9' },
	"isalnum":  func(c int64) bool { return isUpper(c) || isLower(c) || (c >= '0' && c <= '9') },
	"isspace":  func(c int64) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\v' || c == '\f' || c == '\r' },
	"isupper":  isUpper,
	"islower":  isLower,
	"ispunct":  func(c int64) bool { return c >= '!' && c <= '~' && !isUpper(c) && !isLower(c) && !(c >= '0' && c <= '9') },
	"isxdigit": func(c int64) bool { return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') },
	"iscntrl":  func(c int64) bool { return c < ' ' || c == 0x7f },
	"isgraph":  func(c int64) bool { return c > ' ' && c < 0x7f },
	"isprint":  func(c int64) bool { return c >= ' ' && c < 0x7f },
}

func isUpper(c int64) bool { return c >= 'A' && c <= 'Z' }
func isLower(c int64) bool { return c >= 'a' && c <= 'z' }

func registerCharClass(r *Registry) {
	for name, classify := range ctypeClassifiers {
		classify := classify
		r.Register(name, func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
			if n, ok := numeralArg(s, pag, call, 0); ok {
				if classify(n) {
					bindResult(pag, s, call, lattice.IntervalVal(lattice.Num(1)))
				} else {
					bindResult(pag, s, call, lattice.IntervalVal(lattice.Num(0)))
				}
				return nil
			}
			bindResult(pag, s, call, lattice.IntervalVal(lattice.Range(0, 1)))
			return nil
		})
	}
}
