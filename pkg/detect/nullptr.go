package detect

import (
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/state"
)

// NullPtrDerefDetector reports a Load or Store whose pointer's address
// set contains the null-pointer object, and any dereference of an
// uninitialized (⊥) value.
type NullPtrDerefDetector struct{ sink bugSink }

func NewNullPtrDerefDetector() *NullPtrDerefDetector { return &NullPtrDerefDetector{} }

func (d *NullPtrDerefDetector) OnNode(ctx *Context, s *state.State, n ir.NodeID) {
	for _, stmt := range ctx.PAG.StatementsOf(n) {
		switch st := stmt.(type) {
		case ir.LoadStmt:
			d.check(ctx, s, n, st.Rhs)
		case ir.StoreStmt:
			d.check(ctx, s, n, st.Lhs)
		}
	}
}

func (d *NullPtrDerefDetector) check(ctx *Context, s *state.State, n, ptr ir.NodeID) {
	v := s.Get(ptr)
	if v.IsBottom() {
		d.sink.report(Bug{
			Kind: KindNullPtrDeref, Severity: Full, Node: n, Pointer: ptr,
			Message: "dereference of an uninitialized value", Stack: ctx.stack(),
		})
		return
	}
	if !v.IsAddrs() {
		return
	}
	addrs := v.Addrs()
	nullAddr := ir.ToAddr(ir.NullPtr)
	if !addrs.Contains(nullAddr) {
		return
	}
	sev := Full
	if addrs.Len() > 1 {
		sev = Partial
	}
	d.sink.report(Bug{
		Kind: KindNullPtrDeref, Severity: sev, Node: n, Pointer: ptr,
		Message: "dereference through a possibly-null pointer", Stack: ctx.stack(),
	})
}

func (d *NullPtrDerefDetector) OnExternal(ctx *Context, s *state.State, call ir.NodeID, name string) {
}

func (d *NullPtrDerefDetector) Finish() []Bug { return d.sink.finish() }
