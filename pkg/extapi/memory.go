package extapi

import (
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

func loadJoin(s *state.State, addrs lattice.AddrSet) lattice.AbsVal {
	result := lattice.BottomVal()
	addrs.Each(func(a uint32) { result = result.Join(s.Load(a)) })
	return result
}

// storeAtIndex writes val into dst's cell at index i. definite copies
// are known to execute on every path (overwrite); possible copies only
// execute on some paths (join, so a value that survives when the call
// copies fewer bytes than the upper bound is not lost).
func storeAtIndex(s *state.State, dst ir.NodeID, i int64, val lattice.AbsVal, definite bool) {
	addrs := s.GepObjAddrs(dst, lattice.Num(i))
	addrs.Each(func(a uint32) {
		if definite {
			s.Store(a, val)
		} else {
			s.Store(a, val.Join(s.Load(a)))
		}
	})
}

// memcpyCore implements the memcpy/memset family model of :
// iterate i over [0, min(len, MaxFieldLimit)), copying src's cell at i
// into dst's cell at i+start. start is itself an interval (strcat
// appends at an uncertain offset); every destination index start can
// produce is written.
func memcpyCore(s *state.State, cfg config.Config, dst, src ir.NodeID, length, start lattice.Interval) {
	bounded := length.Meet(lattice.Range(0, int64(cfg.MaxFieldLimit)))
	if bounded.IsBottom() {
		return
	}
	lo, hi := bounded.Lo, bounded.Hi
	if lo < 0 {
		lo = 0
	}
	if hi < 0 {
		return
	}
	startLo, startHi := start.Lo, start.Hi
	if startLo < 0 {
		startLo = 0
	}
	for i := int64(0); i < hi; i++ {
		val := loadJoin(s, s.GepObjAddrs(src, lattice.Num(i)))
		definite := i < lo
		for d := i + startLo; d <= i+startHi; d++ {
			storeAtIndex(s, dst, d, val, definite)
		}
	}
}

// memsetCore writes a single scalar value into dst's cells over
// [0, min(len, MaxFieldLimit)): cells below len's lower bound are
// overwritten, the remaining cells are joined with their current value.
func memsetCore(s *state.State, cfg config.Config, dst ir.NodeID, val lattice.AbsVal, length lattice.Interval) {
	bounded := length.Meet(lattice.Range(0, int64(cfg.MaxFieldLimit)))
	if bounded.IsBottom() {
		return
	}
	lo, hi := bounded.Lo, bounded.Hi
	if lo < 0 {
		lo = 0
	}
	if hi < 0 {
		return
	}
	for i := int64(0); i < hi; i++ {
		storeAtIndex(s, dst, i, val, i < lo)
	}
}

// strlenOf scans dst's cells from index 0 looking for a numeral-zero
// terminator, bounded by MaxFieldLimit. Returns an exact length when a
// terminator is found with certainty, else a bounded range.
func strlenOf(s *state.State, cfg config.Config, ptr ir.NodeID) lattice.Interval {
	limit := int64(cfg.MaxFieldLimit)
	for i := int64(0); i <= limit; i++ {
		addrs := s.GepObjAddrs(ptr, lattice.Num(i))
		if addrs.IsEmpty() {
			break
		}
		val := loadJoin(s, addrs)
		if val.IsInterval() {
			if n, ok := val.Interval().Numeral(); ok && n == 0 {
				return lattice.Num(i)
			}
		}
	}
	return lattice.Range(0, limit)
}

func registerMemory(r *Registry) {
	r.Register("memcpy", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		dst, src := arg(pag, call, 0), arg(pag, call, 1)
		lenVal := s.Get(arg(pag, call, 2))
		if lenVal.IsInterval() {
			memcpyCore(s, cfg, dst, src, lenVal.Interval(), lattice.Num(0))
		}
		bindResult(pag, s, call, lattice.AddrsVal(s.Get(dst).Addrs()))
		return nil
	})
	r.Register("memmove", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		dst, src := arg(pag, call, 0), arg(pag, call, 1)
		lenVal := s.Get(arg(pag, call, 2))
		if lenVal.IsInterval() {
			memcpyCore(s, cfg, dst, src, lenVal.Interval(), lattice.Num(0))
		}
		bindResult(pag, s, call, lattice.AddrsVal(s.Get(dst).Addrs()))
		return nil
	})
	r.Register("memset", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		dst := arg(pag, call, 0)
		val := s.Get(arg(pag, call, 1))
		lenVal := s.Get(arg(pag, call, 2))
		if lenVal.IsInterval() {
			memsetCore(s, cfg, dst, val, lenVal.Interval())
		}
		bindResult(pag, s, call, lattice.AddrsVal(s.Get(dst).Addrs()))
		return nil
	})
	r.Register("strcpy", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		dst, src := arg(pag, call, 0), arg(pag, call, 1)
		length := strlenOf(s, cfg, src).Add(lattice.Num(1))
		memcpyCore(s, cfg, dst, src, length, lattice.Num(0))
		bindResult(pag, s, call, lattice.AddrsVal(s.Get(dst).Addrs()))
		return nil
	})
	r.Register("strcat", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		dst, src := arg(pag, call, 0), arg(pag, call, 1)
		start := strlenOf(s, cfg, dst)
		length := strlenOf(s, cfg, src).Add(lattice.Num(1))
		memcpyCore(s, cfg, dst, src, length, start)
		bindResult(pag, s, call, lattice.AddrsVal(s.Get(dst).Addrs()))
		return nil
	})
	r.Register("strncat", func(s *state.State, pag ir.Env, cfg config.Config, call ir.NodeID) error {
		dst, src := arg(pag, call, 0), arg(pag, call, 1)
		start := strlenOf(s, cfg, dst)
		length := strlenOf(s, cfg, src)
		if n, ok := numeralArg(s, pag, call, 2); ok {
			length = length.Meet(lattice.Range(0, n))
		} else if nv := s.Get(arg(pag, call, 2)); nv.IsInterval() {
			length = length.Meet(nv.Interval())
		}
		memcpyCore(s, cfg, dst, src, length.Add(lattice.Num(1)), start)
		bindResult(pag, s, call, lattice.AddrsVal(s.Get(dst).Addrs()))
		return nil
	})
}
