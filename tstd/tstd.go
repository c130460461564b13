/*
NAME
  tstd.go

DESCRIPTION
  tstd.go implements the BDAV T-STD buffering model: an arena of void/
  buffer/filter nodes, leaking and removal-timestamp output disciplines,
  and Check/Update (spec §3.3, §4.6, §5, §8 property 8, scenarios 5-6).
  It has no BDAV fixed-constant construction helpers.

AUTHOR
  Saxon Nelson-Milton <saxon@ausocean.org>, The Australian Ocean Laboratory (AusOcean)

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package tstd simulates the BDAV Transport-Stream System Target Decoder
// buffering model, to validate that a proposed mux would not underflow or
// overflow real decoder buffers (spec §3.3, §4.6). Node ownership is
// expressed as an arena of stable indices rather than a pointer graph (spec
// §9: "replace pointer-graph of nodes with an arena + stable indices"),
// grounded on container/mts/psi/std.go's placement (the file literally
// named after this model in the teacher) and container/mts.go's 27 MHz PCR
// clock handling for the tick-domain conversions of spec §5.
package tstd

import (
	"errors"
	"fmt"

	"github.com/ausocean/utils/logging"
)

// TicksPerSecond is the 27 MHz system clock spec §5 ties every buffer
// timestamp to.
const TicksPerSecond = 27_000_000

// NinetyKHzToTicks converts a 90 kHz bitstream timestamp to 27 MHz ticks
// (spec §5: "90 kHz values from the bitstream are converted by x300").
func NinetyKHzToTicks(v uint64) uint64 { return v * 300 }

// BufferKind selects a buffer's output discipline (spec §3.3).
type BufferKind int

// Buffer kinds.
const (
	KindLeaking BufferKind = iota
	KindRemovalTimestamp
)

// NodeKind tags what a Node holds (spec §3.3: "tagged {void | buffer |
// filter}").
type NodeKind int

// Node kinds.
const (
	NodeVoid NodeKind = iota
	NodeBuffer
	NodeFilter
)

// nodeRef is a stable arena index into Tree.nodes. The zero value refers to
// the void node every Tree is seeded with.
type nodeRef int

const voidRef nodeRef = 0

// Node is one arena entry: a void sink, a buffer, or a filter (spec §3.3).
type Node struct {
	kind   NodeKind
	linked bool // true once some parent has claimed this node as its output.

	buf    *Buffer
	filter *Filter
}

// Frame is one stored unit awaiting removal from a buffer (spec §3.3).
type Frame struct {
	HeaderBits    uint64
	DataBits      uint64
	RemovalTime   uint64 // 27 MHz ticks; meaningful only for KindRemovalTimestamp.
	OutputOverride *uint64
	DoNotRemove   bool
}

// Buffer is a leaking or removal-timestamp T-STD buffer (spec §3.3).
type Buffer struct {
	Kind     BufferKind
	Name     string
	Capacity uint64 // Bits.

	InstantFilling    bool
	DontOverflowOutput bool

	RLeakBitsPerTick float64 // Used only for KindLeaking.

	pendingInput uint64
	level        uint64
	lastUpdate   uint64
	frames       []Frame

	output nodeRef
}

// FilterDecision maps a PID (or other label) to a child index, or -1 for the
// default/void branch (spec §4.6: "PID-match, with a reserved void entry -1
// as default").
type FilterDecision func(pid uint16) int

// Filter routes input to one of its children by label (spec §3.3, §4.6).
type Filter struct {
	LabelType string // e.g. "pid".
	Children  []nodeRef
	Labels    []uint16
	Decide    FilterDecision
}

// Tree owns the node arena for one branch of the T-STD model (spec §3.3
// "Buffers list": a flat registry of every buffer for by-name lookup).
type Tree struct {
	nodes   []Node
	byName  map[string]nodeRef

	abortOnUnderflow bool
	log              logging.Logger
}

// NewTree constructs an empty Tree seeded with the void node at index 0.
func NewTree(abortOnUnderflow bool, log logging.Logger) *Tree {
	return &Tree{
		nodes:            []Node{{kind: NodeVoid, linked: true}},
		byName:           make(map[string]nodeRef),
		abortOnUnderflow: abortOnUnderflow,
		log:              log,
	}
}

// ErrAlreadyLinked is returned when a node is claimed as an output a second
// time (spec §3.3: "once linked, attempts to re-link fail").
var ErrAlreadyLinked = errors.New("tstd: node already linked as an output")

// ErrDuplicateLabel is returned when a filter's labels are not unique (spec
// §3.3).
var ErrDuplicateLabel = errors.New("tstd: duplicate filter label")

// ErrOverflow is returned by Update when level would exceed capacity (spec
// §3.3, §7: fatal).
var ErrOverflow = errors.New("tstd: buffer overflow")

// ErrUnderflow is returned by Update, under abort_on_underflow, when more
// bits were requested for output than the buffer held (spec §5, §7).
var ErrUnderflow = errors.New("tstd: buffer underflow")

// AddVoid allocates a new void sink node.
func (t *Tree) AddVoid() nodeRef {
	t.nodes = append(t.nodes, Node{kind: NodeVoid})
	return nodeRef(len(t.nodes) - 1)
}

// AddBuffer allocates a new buffer node, registering it in the by-name
// lookup table.
func (t *Tree) AddBuffer(b *Buffer) nodeRef {
	t.nodes = append(t.nodes, Node{kind: NodeBuffer, buf: b})
	ref := nodeRef(len(t.nodes) - 1)
	t.byName[b.Name] = ref
	return ref
}

// AddFilter allocates a new filter node.
func (t *Tree) AddFilter(f *Filter) (nodeRef, error) {
	seen := make(map[uint16]bool, len(f.Labels))
	for _, l := range f.Labels {
		if seen[l] {
			return 0, ErrDuplicateLabel
		}
		seen[l] = true
	}
	t.nodes = append(t.nodes, Node{kind: NodeFilter, filter: f})
	return nodeRef(len(t.nodes) - 1), nil
}

// Link makes child the output of parent, which must be a buffer node,
// failing if child is already linked (spec §3.3 invariant).
func (t *Tree) Link(child, parent nodeRef) error {
	n := &t.nodes[child]
	if n.linked {
		return ErrAlreadyLinked
	}
	n.linked = true
	switch t.nodes[parent].kind {
	case NodeBuffer:
		t.nodes[parent].buf.output = child
	default:
		return fmt.Errorf("tstd: parent node kind %d cannot own an output edge", t.nodes[parent].kind)
	}
	return nil
}

// BufferByName looks up a registered buffer by name (spec §3.3 "Buffers
// list").
func (t *Tree) BufferByName(name string) (*Buffer, bool) {
	ref, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return t.nodes[ref].buf, true
}

// Update advances node to time t with n input bits arriving at rate rIn
// (bits per 27 MHz tick), per the six-step algorithm of spec §4.6.
func (t *Tree) Update(ref nodeRef, time uint64, n uint64, rIn float64) error {
	node := &t.nodes[ref]
	switch node.kind {
	case NodeVoid:
		return nil
	case NodeBuffer:
		return t.updateBuffer(node.buf, time, n, rIn)
	case NodeFilter:
		return t.updateFilter(node.filter, time, n, rIn)
	default:
		return fmt.Errorf("tstd: unknown node kind %d", node.kind)
	}
}

func (t *Tree) updateFilter(f *Filter, time uint64, n uint64, rIn float64) error {
	// Filter decision is driven by the caller via Route; a bare Update on a
	// filter with no context applies zero input to every child only if
	// configured to (spec §4.6 "UPDATE_FILTER_DEFAULT_NODES"). This package
	// exposes that as Route for the common case and Update for the zero-input
	// sweep.
	for _, c := range f.Children {
		if err := t.Update(c, time, 0, 0); err != nil {
			return err
		}
	}
	return nil
}

// Route applies n input bits at rate rIn to the child selected by
// decision_fn(pid) (spec §4.6), or to the void default if no child matches.
func (t *Tree) Route(ref nodeRef, pid uint16, time uint64, n uint64, rIn float64) error {
	node := &t.nodes[ref]
	if node.kind != NodeFilter {
		return fmt.Errorf("tstd: Route called on non-filter node")
	}
	idx := node.filter.Decide(pid)
	if idx < 0 || idx >= len(node.filter.Children) {
		return t.Update(voidRef, time, n, rIn)
	}
	return t.Update(node.filter.Children[idx], time, n, rIn)
}

// updateBuffer runs the six-step data-input/output/overflow/underflow
// algorithm of spec §4.6 for one leaking or removal-timestamp buffer.
func (t *Tree) updateBuffer(b *Buffer, time uint64, n uint64, rIn float64) error {
	elapsed := float64(0)
	if time > b.lastUpdate {
		elapsed = float64(time - b.lastUpdate)
	}

	// Step 1: data input.
	var inputBits uint64
	if b.InstantFilling {
		inputBits = n
	} else {
		avail := uint64(elapsed * rIn)
		total := b.pendingInput + n
		if total <= avail {
			inputBits = total
			b.pendingInput = 0
		} else {
			inputBits = avail
			b.pendingInput = total - avail
		}
	}

	// Step 2: data output.
	var out uint64
	switch b.Kind {
	case KindLeaking:
		leaked := uint64(elapsed * b.RLeakBitsPerTick)
		if leaked > ceilBits(b.level) {
			out = b.level
		} else {
			out = leaked
		}
	case KindRemovalTimestamp:
		for _, f := range b.frames {
			if f.RemovalTime > time {
				break
			}
			out += f.HeaderBits + f.DataBits
		}
	}

	// Step 3: clip by downstream free capacity.
	if b.DontOverflowOutput && t.nodes[b.output].kind == NodeBuffer {
		down := t.nodes[b.output].buf
		if err := t.updateBuffer(down, time, 0, 0); err != nil {
			return err
		}
		free := down.Capacity - down.level
		if out > free {
			out = free
		}
	}

	if out > b.level {
		if t.abortOnUnderflow {
			return fmt.Errorf("%w: buffer %q requested %d bits, held %d", ErrUnderflow, b.Name, out, b.level)
		}
		if t.log != nil {
			t.log.Warning("tstd: buffer underflow", "buffer", b.Name, "requested", out, "held", b.level)
		}
		out = b.level
	}

	// Step 4: remove bits from the queue, propagating data (not header) bits
	// downstream.
	transferred, err := t.drainFrames(b, out)
	if err != nil {
		return err
	}

	// Step 5: update level and check overflow.
	b.level = b.level - out + inputBits
	if b.level > b.Capacity {
		return fmt.Errorf("%w: buffer %q level %d exceeds capacity %d", ErrOverflow, b.Name, b.level, b.Capacity)
	}
	b.lastUpdate = time

	// Step 6: propagate transferred bits downstream.
	if transferred > 0 {
		return t.Update(b.output, time, transferred, rIn)
	}
	return nil
}

// drainFrames pops fully-drained frames off the head of the queue,
// returning the total data_bits (not header_bits) transferred downstream
// for the removal-timestamp discipline (spec §4.6 step 4). Leaking buffers
// carry no frame queue and transfer out bits unchanged.
func (t *Tree) drainFrames(b *Buffer, out uint64) (uint64, error) {
	if b.Kind != KindRemovalTimestamp {
		return out, nil
	}
	var transferred uint64
	remaining := out
	for remaining > 0 && len(b.frames) > 0 {
		f := &b.frames[0]
		unit := f.HeaderBits + f.DataBits
		if unit > remaining {
			break
		}
		dataOut := f.DataBits
		if f.OutputOverride != nil {
			dataOut = *f.OutputOverride
		}
		transferred += dataOut
		remaining -= unit
		b.frames = b.frames[1:]
	}
	return transferred, nil
}

func ceilBits(v uint64) uint64 { return v }

// CheckResult is the outcome of a non-consuming Check (spec §4.6).
type CheckResult struct {
	Fits  bool
	Delay uint64 // Ticks until the buffer could accept the input, if !Fits.
}

// Check reports, without mutating state, whether n bits arriving at rIn
// would fit into buf without overflow, and if not, a hypothetical delay
// until it would (spec §4.6 "non-consuming check variant").
func Check(buf *Buffer, time uint64, n uint64, rIn float64) CheckResult {
	elapsed := float64(0)
	if time > buf.lastUpdate {
		elapsed = float64(time - buf.lastUpdate)
	}
	var out uint64
	switch buf.Kind {
	case KindLeaking:
		out = uint64(elapsed * buf.RLeakBitsPerTick)
		if out > buf.level {
			out = buf.level
		}
	case KindRemovalTimestamp:
		for _, f := range buf.frames {
			if f.RemovalTime > time {
				break
			}
			out += f.HeaderBits + f.DataBits
		}
		if out > buf.level {
			out = buf.level
		}
	}
	projected := buf.level - out + n
	if projected <= buf.Capacity {
		return CheckResult{Fits: true}
	}
	excess := projected - buf.Capacity
	var delay uint64
	switch buf.Kind {
	case KindLeaking:
		if buf.RLeakBitsPerTick > 0 {
			delay = uint64(float64(excess) / buf.RLeakBitsPerTick)
		}
	case KindRemovalTimestamp:
		if len(buf.frames) > 0 {
			delay = buf.frames[0].RemovalTime - time
		}
	}
	return CheckResult{Fits: false, Delay: delay}
}
