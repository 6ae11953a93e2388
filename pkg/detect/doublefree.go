package detect

import (
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/state"
)

// freeNames mirrors pkg/extapi's free-family table; duplicated rather
// than imported to keep pkg/detect's dependency surface to ir/state
// only (the registry and the detector are independent collaborators
// both driven by pkg/dispatch).
var freeNames = map[string]bool{"free": true, "kfree": true, "g_free": true, "delete": true}

// DoubleFreeDetector reports a free() of a pointer already in S.freed.
// It must observe the pre-call state, so pkg/dispatch invokes
// OnExternal before the extapi free handler mutates S.freed.
type DoubleFreeDetector struct{ sink bugSink }

func NewDoubleFreeDetector() *DoubleFreeDetector { return &DoubleFreeDetector{} }

func (d *DoubleFreeDetector) OnNode(ctx *Context, s *state.State, n ir.NodeID) {}

func (d *DoubleFreeDetector) OnExternal(ctx *Context, s *state.State, call ir.NodeID, name string) {
	if !freeNames[name] {
		return
	}
	ptr := ctx.PAG.Argument(call, 0)
	addrs := s.Get(ptr).Addrs()
	if addrs.IsEmpty() {
		return
	}
	total, maybeFreed, alwaysFreed := 0, 0, 0
	addrs.Each(func(a uint32) {
		total++
		if s.IsFreed(a) {
			maybeFreed++
		}
		if s.IsMustFreed(a) {
			alwaysFreed++
		}
	})
	if maybeFreed == 0 {
		return
	}
	// Full only when every aliased object was freed on every merged
	// incoming path; an object freed on just one branch of an
	// if/else (or aliased with one not-yet-freed object) is Partial.
	sev := Partial
	if alwaysFreed == total {
		sev = Full
	}
	d.sink.report(Bug{
		Kind: KindDoubleFree, Severity: sev, Node: call, Pointer: ptr,
		Message: name + ": pointer already freed", Stack: ctx.stack(),
	})
}

func (d *DoubleFreeDetector) Finish() []Bug { return d.sink.finish() }
