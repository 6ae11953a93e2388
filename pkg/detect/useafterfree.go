package detect

import (
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/state"
)

// UseAfterFreeDetector reports a Load/Store through a pointer whose
// address set intersects S.freed.
type UseAfterFreeDetector struct{ sink bugSink }

func NewUseAfterFreeDetector() *UseAfterFreeDetector { return &UseAfterFreeDetector{} }

func (d *UseAfterFreeDetector) OnNode(ctx *Context, s *state.State, n ir.NodeID) {
	for _, stmt := range ctx.PAG.StatementsOf(n) {
		switch st := stmt.(type) {
		case ir.LoadStmt:
			d.check(ctx, s, n, st.Rhs)
		case ir.StoreStmt:
			d.check(ctx, s, n, st.Lhs)
		}
	}
}

func (d *UseAfterFreeDetector) check(ctx *Context, s *state.State, n, ptr ir.NodeID) {
	addrs := s.Get(ptr).Addrs()
	if addrs.IsEmpty() {
		return
	}
	total, freed := 0, 0
	addrs.Each(func(a uint32) {
		total++
		if s.IsFreed(a) {
			freed++
		}
	})
	if freed == 0 {
		return
	}
	sev := Partial
	if freed == total {
		sev = Full
	}
	d.sink.report(Bug{
		Kind: KindUseAfterFree, Severity: sev, Node: n, Pointer: ptr,
		Message: "use of a possibly-freed pointer", Stack: ctx.stack(),
	})
}

func (d *UseAfterFreeDetector) OnExternal(ctx *Context, s *state.State, call ir.NodeID, name string) {
}

func (d *UseAfterFreeDetector) Finish() []Bug { return d.sink.finish() }
