// Package detect implements the pluggable bug detectors: BufferOverflowDetector,
// NullPtrDerefDetector, DoubleFreeDetector, UseAfterFreeDetector. Each
// detector observes the abstract state at a
// node (or at an external call) and accumulates Bugs, deduplicated by
// source node, retrievable once the fixpoint has converged.
package detect

import (
	"github.com/oisee/absint/pkg/allocsize"
	"github.com/oisee/absint/pkg/config"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/state"
)

// Kind discriminates a Bug's defect category.
type Kind uint8

const (
	KindBufferOverflow Kind = iota
	KindNullPtrDeref
	KindDoubleFree
	KindUseAfterFree
)

func (k Kind) String() string {
	switch k {
	case KindBufferOverflow:
		return "buffer-overflow"
	case KindNullPtrDeref:
		return "null-pointer-dereference"
	case KindDoubleFree:
		return "double-free"
	case KindUseAfterFree:
		return "use-after-free"
	default:
		return "unknown"
	}
}

// Severity discriminates whether a defect is certain on every path
// reaching the node (Full) or only on some (Partial).
type Severity uint8

const (
	Full Severity = iota
	Partial
)

func (sv Severity) String() string {
	if sv == Full {
		return "full"
	}
	return "partial"
}

// Bug is one reported defect, keyed for dedup by (Kind, Node, Pointer).
type Bug struct {
	Kind Kind
	Severity Severity
	Node ir.NodeID
	Pointer ir.NodeID
	Message string
	Stack []ir.NodeID // call-stack snapshot at the time of detection
}

func dedupKey(b Bug) [3]ir.NodeID { return [3]ir.NodeID{ir.NodeID(b.Kind), b.Node, b.Pointer} }

// Context bundles the read-only collaborators every detector needs: the
// program view for statement/argument lookups, the config for
// MaxFieldLimit, an allocation-size index for the overflow detector, and
// the current call stack for the bug's event-stack field.
type Context struct {
	PAG ir.Env
	Cfg config.Config
	AllocIndex *allocsize.DefIndex
	CallStack []ir.NodeID
}

func (c *Context) stack() []ir.NodeID {
	return append([]ir.NodeID(nil), c.CallStack...)
}

// Detector is the pluggable bug-detector trait.
type Detector interface {
	OnNode(ctx *Context, s *state.State, n ir.NodeID)
	OnExternal(ctx *Context, s *state.State, call ir.NodeID, name string)
	Finish() []Bug
}

// bugSink accumulates Bugs with dedup-by-key, shared by every detector.
type bugSink struct {
	seen map[[3]ir.NodeID]bool
	bugs []Bug
}

func (sink *bugSink) report(b Bug) {
	if sink.seen == nil {
		sink.seen = make(map[[3]ir.NodeID]bool)
	}
	key := dedupKey(b)
	if sink.seen[key] {
		return
	}
	sink.seen[key] = true
	sink.bugs = append(sink.bugs, b)
}

func (sink *bugSink) finish() []Bug { return sink.bugs }
