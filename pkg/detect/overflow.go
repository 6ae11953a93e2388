package detect

import (
	"github.com/oisee/absint/pkg/interp"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// BufOverflowCheck declares which argument of an external call is the
// access-length and which is the destination buffer, e.g. "BUF_CHECK:
// Arg0,Arg2".
type BufOverflowCheck struct {
	BufArg, LenArg int
}

// BufferOverflowDetector reports a Gep whose computed byte offset can
// reach or exceed the allocation it indexes into, and validates
// BUF_CHECK-annotated external calls the same way.
type BufferOverflowDetector struct {
	sink bugSink
	rules map[string]BufOverflowCheck
}

// NewBufferOverflowDetector returns a detector with the BUF_CHECK rule
// table installed for fn-name-keyed external checks.
func NewBufferOverflowDetector(rules map[string]BufOverflowCheck) *BufferOverflowDetector {
	return &BufferOverflowDetector{rules: rules}
}

func (d *BufferOverflowDetector) OnNode(ctx *Context, s *state.State, n ir.NodeID) {
	for _, stmt := range ctx.PAG.StatementsOf(n) {
		gep, ok := stmt.(ir.GepStmt)
		if !ok {
			continue
		}
		access := interp.GetByteOffset(s, ctx.Cfg, gep)
		alloc := ctx.AllocIndex.AllocSize(ctx.PAG, ctx.Cfg, s, gep.Rhs)
		if sev, overflow := classify(access, alloc); overflow {
			d.sink.report(Bug{
				Kind: KindBufferOverflow, Severity: sev, Node: n, Pointer: gep.Rhs,
				Message: "gep access may exceed allocation bounds",
				Stack: ctx.stack(),
			})
		}
	}
}

func (d *BufferOverflowDetector) OnExternal(ctx *Context, s *state.State, call ir.NodeID, name string) {
	rule, ok := d.rules[name]
	if !ok {
		return
	}
	lenVal := s.Get(ctx.PAG.Argument(call, rule.LenArg))
	if !lenVal.IsInterval() {
		return
	}
	buf := ctx.PAG.Argument(call, rule.BufArg)
	alloc := ctx.AllocIndex.AllocSize(ctx.PAG, ctx.Cfg, s, buf)
	if sev, overflow := classify(lenVal.Interval(), alloc); overflow {
		d.sink.report(Bug{
			Kind: KindBufferOverflow, Severity: sev, Node: call, Pointer: buf,
			Message: name + ": argument length may exceed buffer allocation",
			Stack: ctx.stack(),
		})
	}
}

// classify decides full/partial/no-bug from the access-offset interval
// and the remaining-allocation interval: an access guaranteed to exceed
// the allocation on every combination of bounds is a full overflow; one
// that can exceed it for some combination but not every one is partial.
func classify(access, alloc lattice.Interval) (Severity, bool) {
	if access.IsBottom() || alloc.IsBottom() {
		return Full, false
	}
	if alloc.IsTop() {
		// The trace couldn't bound the allocation; per the "unresolved ⇒
		// ⊤ ⇒ always safe" rule, an unknown size is not itself a bug.
		return Full, false
	}
	if access.Lo >= alloc.Hi {
		return Full, true
	}
	if access.Hi >= alloc.Lo {
		return Partial, true
	}
	return Full, false
}

func (d *BufferOverflowDetector) Finish() []Bug { return d.sink.finish() }
