// Package report implements the engine's output surfaces: a concurrency-safe Bug table, JSON import/export
// for tool interchange, and a gob-encoded per-node abstract-state dump
// for offline debugging.
package report

import (
	"encoding/gob"
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/oisee/absint/pkg/detect"
	"github.com/oisee/absint/pkg/ir"
	"github.com/oisee/absint/pkg/lattice"
	"github.com/oisee/absint/pkg/state"
)

// Table accumulates Bugs from one or more analysis runs.
type Table struct {
	mu sync.Mutex
	bugs []detect.Bug
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Add inserts a bug into the table.
func (t *Table) Add(b detect.Bug) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bugs = append(t.bugs, b)
}

// AddAll inserts every bug in bs.
func (t *Table) AddAll(bs []detect.Bug) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bugs = append(t.bugs, bs...)
}

// Bugs returns a copy of every accumulated bug, sorted by kind then by
// node id so a report's ordering is stable across runs.
func (t *Table) Bugs() []detect.Bug {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]detect.Bug, len(t.bugs))
	copy(out, t.bugs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Node < out[j].Node
	})
	return out
}

// Len returns the number of accumulated bugs.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bugs)
}

// jsonBug is the wire shape for a Bug: ir.NodeID/Kind/Severity encode as
// plain numbers in detect.Bug, but a JSON consumer wants their names.
type jsonBug struct {
	Kind string `json:"kind"`
	Severity string `json:"severity"`
	Node ir.NodeID `json:"node"`
	Pointer ir.NodeID `json:"pointer"`
	Message string `json:"message"`
	Stack []ir.NodeID `json:"stack,omitempty"`
}

func toJSONBug(b detect.Bug) jsonBug {
	return jsonBug{
		Kind: b.Kind.String(), Severity: b.Severity.String(),
		Node: b.Node, Pointer: b.Pointer, Message: b.Message, Stack: b.Stack,
	}
}

var kindByName = map[string]detect.Kind{
	"buffer-overflow": detect.KindBufferOverflow,
	"null-pointer-dereference": detect.KindNullPtrDeref,
	"double-free": detect.KindDoubleFree,
	"use-after-free": detect.KindUseAfterFree,
}

var severityByName = map[string]detect.Severity{
	"full": detect.Full,
	"partial": detect.Partial,
}

func (jb jsonBug) toBug() detect.Bug {
	return detect.Bug{
		Kind: kindByName[jb.Kind], Severity: severityByName[jb.Severity],
		Node: jb.Node, Pointer: jb.Pointer, Message: jb.Message, Stack: jb.Stack,
	}
}

// WriteJSON writes bugs to w as a JSON array, one object per bug with
// named (not numeric) kind/severity fields.
func WriteJSON(w io.Writer, bugs []detect.Bug) error {
	out := make([]jsonBug, len(bugs))
	for i, b := range bugs {
		out[i] = toJSONBug(b)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	return enc.Encode(out)
}

// ReadJSON reads a bug list previously written by WriteJSON.
func ReadJSON(r io.Reader) ([]detect.Bug, error) {
	var in []jsonBug
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, err
	}
	out := make([]detect.Bug, len(in))
	for i, jb := range in {
		out[i] = jb.toBug()
	}
	return out, nil
}

// ValueFrame is a gob-friendly projection of one lattice.AbsVal: State's
// var/memory maps carry unexported-field value types, so a debug dump
// walks them through State's public Each*/Get accessors instead of
// gob-encoding the state package's internals directly.
type ValueFrame struct {
	Bottom bool
	Addrs []uint32 // non-nil only when the value is an address set
	Lo, Hi int64 // meaningful only when Addrs is nil and !Bottom
}

func frameOf(v lattice.AbsVal) ValueFrame {
	switch {
	case v.IsBottom():
		return ValueFrame{Bottom: true}
	case v.IsAddrs():
		var addrs []uint32
		v.Addrs().Each(func(a uint32) { addrs = append(addrs, a) })
		return ValueFrame{Addrs: addrs}
	default:
		i := v.Interval()
		return ValueFrame{Lo: i.Lo, Hi: i.Hi}
	}
}

// NodeFrame is one ICFG node's post-state: its named variables, the
// memory cells it has written, and the set of base objects known freed
// on at least one path reaching it.
type NodeFrame struct {
	Vars map[ir.NodeID]ValueFrame
	Mem map[ir.NodeID]ValueFrame
	Freed []ir.NodeID
}

func frameOfState(s *state.State) NodeFrame {
	nf := NodeFrame{Vars: map[ir.NodeID]ValueFrame{}, Mem: map[ir.NodeID]ValueFrame{}}
	s.EachVar(func(id ir.NodeID, v lattice.AbsVal) { nf.Vars[id] = frameOf(v) })
	s.EachAddr(func(id ir.NodeID, v lattice.AbsVal) { nf.Mem[id] = frameOf(v) })
	s.Freed().Each(func(id ir.NodeID) { nf.Freed = append(nf.Freed, id) })
	return nf
}

// Dump is the debug snapshot of one analysis run: every node's converged
// post-state plus the bug list that run produced.
type Dump struct {
	Bugs []detect.Bug
	StateAt map[ir.NodeID]NodeFrame
}

// NewDump projects an engine Result's raw StateAt into a gob-encodable Dump.
func NewDump(bugs []detect.Bug, stateAt map[ir.NodeID]*state.State) *Dump {
	d := &Dump{Bugs: bugs, StateAt: make(map[ir.NodeID]NodeFrame, len(stateAt))}
	for n, s := range stateAt {
		d.StateAt[n] = frameOfState(s)
	}
	return d
}

func init() {
	gob.Register(detect.Bug{})
}

// WriteDump gob-encodes d to w.
func WriteDump(w io.Writer, d *Dump) error {
	return gob.NewEncoder(w).Encode(d)
}

// ReadDump decodes a Dump previously written by WriteDump.
func ReadDump(r io.Reader) (*Dump, error) {
	var d Dump
	if err := gob.NewDecoder(r).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}
