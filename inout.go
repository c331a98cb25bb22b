package filtergraph

import (
	"errors"
	"fmt"
	"math"
)

// InOut is a linked list of open filter pads (AVFilterInOut), used to tell
// Graph.Parse how a description connects to filters created by hand, and
// returned by it to report pads that are still unresolved.
//
// An InOut owns its whole chain until it is freed or consumed. Consuming
// calls (Graph.Parse on success, Append for its argument) leave the value
// empty; Free on an empty InOut does nothing, so a deferred Free is always
// safe. Every InOut is bound to the graph of the filter it refers to and is
// freed by Graph.Close if still owned then.
type InOut struct {
	graph *Graph
	ptr   uintptr
}

// PadRef describes one entry of an InOut chain.
type PadRef struct {
	Name    string
	Context *FilterContext
	Pad     int
}

// NewInOut allocates a single-entry list naming the first pad of ctx. The name
// is copied into engine memory.
func NewInOut(name string, ctx *FilterContext) (*InOut, error) {
	if ctx == nil {
		return nil, errors.New("filtergraph: nil filter context")
	}

	g := ctx.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.usableLocked(); err != nil {
		return nil, err
	}

	var namePtr uintptr
	if name != "" {
		namePtr = g.api.strdup(cString(name))
		if namePtr == 0 {
			panic("filtergraph: av_strdup returned NULL")
		}
	}

	ptr := g.api.inoutAlloc()
	if ptr == 0 {
		if namePtr != 0 {
			g.api.free(namePtr)
		}
		panic("filtergraph: avfilter_inout_alloc returned NULL")
	}
	g.api.writeInOut(ptr, inoutFields{
		name:      namePtr,
		filterCtx: ctx.ptr,
	})

	return g.adoptLocked(ptr), nil
}

// Free releases the list and every entry chained after it. It does nothing
// if the list has been consumed or already freed.
func (io *InOut) Free() {
	if io == nil {
		return
	}
	g := io.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	g.freeInOutLocked(io)
}

// Owned reports whether io still owns engine memory.
func (io *InOut) Owned() bool {
	if io == nil {
		return false
	}
	io.graph.mu.Lock()
	defer io.graph.mu.Unlock()
	return io.ptr != 0
}

// Append links next after the last entry of io. next is consumed: its
// entries are now freed together with io.
func (io *InOut) Append(next *InOut) error {
	if next == nil {
		return nil
	}
	if io == next {
		return errors.New("filtergraph: cannot append a pad list to itself")
	}
	if next.graph != io.graph {
		return ErrForeignInOut
	}

	g := io.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if io.ptr == 0 || next.ptr == 0 {
		return ErrInOutConsumed
	}

	tail := io.ptr
	for {
		f := g.api.readInOut(tail)
		if f.next == 0 {
			f.next = g.disarmLocked(next)
			g.api.writeInOut(tail, f)
			return nil
		}
		tail = f.next
	}
}

// Name returns the label of the first entry.
func (io *InOut) Name() string {
	g := io.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if io.ptr == 0 {
		return ""
	}
	return g.api.goString(g.api.readInOut(io.ptr).name)
}

// PadIndex returns the pad index of the first entry.
func (io *InOut) PadIndex() int {
	g := io.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if io.ptr == 0 {
		return 0
	}
	return int(g.api.readInOut(io.ptr).padIdx)
}

// SetPadIndex selects which pad of the first entry's filter the list refers
// to.
func (io *InOut) SetPadIndex(idx int) error {
	if idx < 0 || idx > math.MaxInt32 {
		return fmt.Errorf("filtergraph: pad index %d out of range", idx)
	}

	g := io.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if io.ptr == 0 {
		return ErrInOutConsumed
	}
	f := g.api.readInOut(io.ptr)
	f.padIdx = int32(idx)
	g.api.writeInOut(io.ptr, f)
	return nil
}

// Entries returns every entry of the chain in order.
func (io *InOut) Entries() ([]PadRef, error) {
	g := io.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ptr == 0 {
		return nil, ErrGraphClosed
	}
	if io.ptr == 0 {
		return nil, ErrInOutConsumed
	}

	var refs []PadRef
	for p := io.ptr; p != 0; {
		f := g.api.readInOut(p)
		refs = append(refs, PadRef{
			Name:    g.api.goString(f.name),
			Context: g.contextLocked(f.filterCtx),
			Pad:     int(f.padIdx),
		})
		p = f.next
	}
	return refs, nil
}

// Len returns the number of entries in the chain.
func (io *InOut) Len() int {
	g := io.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for p := io.ptr; p != 0; p = g.api.readInOut(p).next {
		n++
	}
	return n
}
