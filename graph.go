package filtergraph

import (
	"fmt"
	"sync"

	"github.com/pion/logging"
)

// GraphOption configures a Graph.
type GraphOption func(*graphOptions)

type graphOptions struct {
	loggerFactory logging.LoggerFactory
}

// WithLoggerFactory sets the factory used for the graph's logger. The default
// is logging.NewDefaultLoggerFactory().
func WithLoggerFactory(factory logging.LoggerFactory) GraphOption {
	return func(o *graphOptions) {
		o.loggerFactory = factory
	}
}

// Graph owns an AVFilterGraph and everything in it. Closing the graph frees
// every filter, link and pad list that belongs to it; FilterContext and InOut
// values obtained from the graph report ErrGraphClosed afterwards.
//
// Filters can be added while other FilterContext values are held. The graph
// never moves a filter and removes filters only when Parse fails, so every
// FilterContext stays valid until Close otherwise.
//
// A Graph is not meant for concurrent use; calls are serialized internally
// only so that Close cannot race an in-flight call.
type Graph struct {
	api *ffi
	log logging.LeveledLogger

	mu         sync.Mutex
	ptr        uintptr
	filters    []*FilterContext
	byPtr      map[uintptr]*FilterContext
	inouts     map[*InOut]struct{}
	configured bool
}

// NewGraph allocates an empty filter graph. It fails only when the native
// libraries cannot be loaded; running out of memory here panics.
func NewGraph(opts ...GraphOption) (*Graph, error) {
	api, err := loadFFI()
	if err != nil {
		return nil, err
	}

	o := graphOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loggerFactory == nil {
		o.loggerFactory = logging.NewDefaultLoggerFactory()
	}

	ptr := api.graphAlloc()
	if ptr == 0 {
		panic("filtergraph: avfilter_graph_alloc returned NULL")
	}

	g := &Graph{
		api:    api,
		log:    o.loggerFactory.NewLogger("filtergraph"),
		ptr:    ptr,
		byPtr:  make(map[uintptr]*FilterContext),
		inouts: make(map[*InOut]struct{}),
	}
	g.log.Debug("graph allocated")
	return g, nil
}

// CreateFilter instantiates filter inside the graph under the given instance
// name, initialized from args (the filter's option string, "" for none).
// A rejected creation leaves the graph unchanged and usable.
func (g *Graph) CreateFilter(filter *Filter, name, args string) (*FilterContext, error) {
	if filter == nil {
		return nil, fmt.Errorf("%w: nil filter", ErrFilterCreation)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ptr == 0 {
		return nil, ErrGraphClosed
	}

	var ctx uintptr
	ret := g.api.graphCreateFilter(&ctx, filter.ptr, cString(name), cString(args), 0, g.ptr)
	if ret < 0 {
		g.log.Debugf("create %s %q args %q failed: %d", filter.name, name, args, ret)
		return nil, g.api.avError("avfilter_graph_create_filter", ret, ErrFilterCreation)
	}
	if ctx == 0 {
		return nil, fmt.Errorf("%w: %s returned no context", ErrFilterCreation, filter.name)
	}

	fc := g.trackLocked(ctx, filter, name)
	g.log.Debugf("created %s %q", filter.name, name)
	return fc, nil
}

// Parse adds the filters described by spec to the graph. inputs lists the
// open input pads the description's unlabelled or labelled outputs connect
// to, outputs the open output pads feeding its inputs; either may be nil.
//
// On success both inputs and outputs are consumed by the engine whether or
// not they were linked: they become empty and their Free is a no-op. The
// returned lists hold the pads still unresolved after parsing and are owned
// by the caller; either may be nil.
//
// On failure inputs and outputs are still owned by the caller. The engine
// releases every filter in the graph when parsing fails; contexts created
// before the call then report ErrFilterReleased, and lists still naming them
// are refused by later calls with the same error. The engine may also drop
// entries it had already matched, so either list can shrink or end up empty.
func (g *Graph) Parse(spec string, inputs, outputs *InOut) (*InOut, *InOut, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ptr == 0 {
		return nil, nil, ErrGraphClosed
	}
	if spec == "" {
		return nil, nil, fmt.Errorf("%w: empty description", ErrGraphParse)
	}
	if inputs != nil && inputs == outputs {
		return nil, nil, fmt.Errorf("%w: inputs and outputs are the same list", ErrGraphParse)
	}
	for _, io := range []*InOut{inputs, outputs} {
		if io == nil {
			continue
		}
		if io.graph != g {
			return nil, nil, ErrForeignInOut
		}
		if io.ptr == 0 {
			return nil, nil, ErrInOutConsumed
		}
		if err := g.checkEntriesLocked(io); err != nil {
			return nil, nil, err
		}
	}

	var inPtr, outPtr uintptr
	if inputs != nil {
		inPtr = inputs.ptr
	}
	if outputs != nil {
		outPtr = outputs.ptr
	}

	ret := g.api.graphParsePtr(g.ptr, cString(spec), &inPtr, &outPtr, 0)
	if ret < 0 {
		g.log.Debugf("parse %q failed: %d", spec, ret)
		// The engine writes the list heads back even on failure.
		g.rebindLocked(inputs, inPtr)
		g.rebindLocked(outputs, outPtr)
		if g.api.graphNbFilters(g.ptr) == 0 {
			g.releaseFiltersLocked()
		}
		return nil, nil, g.api.avError("avfilter_graph_parse_ptr", ret, ErrGraphParse)
	}

	// The engine owns the argument lists now; inPtr and outPtr hold what it
	// handed back.
	g.disarmLocked(inputs)
	g.disarmLocked(outputs)

	openIn := g.adoptLocked(inPtr)
	openOut := g.adoptLocked(outPtr)
	g.log.Debugf("parsed %q (open inputs: %t, open outputs: %t)", spec, openIn != nil, openOut != nil)
	return openIn, openOut, nil
}

// Configure checks the links and negotiates formats for the whole graph.
// It must be called once, after assembly and before streaming.
func (g *Graph) Configure() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ptr == 0 {
		return ErrGraphClosed
	}
	if g.configured {
		return ErrAlreadyConfigured
	}

	ret := g.api.graphConfig(g.ptr, 0)
	if ret < 0 {
		g.log.Debugf("configure failed: %d", ret)
		return g.api.avError("avfilter_graph_config", ret, ErrGraphConfig)
	}

	g.configured = true
	g.log.Debugf("configured with %d filters", len(g.filters))
	return nil
}

// Configured reports whether Configure has succeeded.
func (g *Graph) Configured() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.configured
}

// Filters returns the filters known to the wrapper, in creation order.
// Filters created by Parse appear once a pad list or lookup has referenced
// them.
func (g *Graph) Filters() []*FilterContext {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*FilterContext, len(g.filters))
	copy(out, g.filters)
	return out
}

// Dump renders the graph as text.
func (g *Graph) Dump() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ptr == 0 {
		return "", ErrGraphClosed
	}

	p := g.api.graphDump(g.ptr, nil)
	if p == 0 {
		return "", nil
	}
	defer g.api.free(p)
	return g.api.goString(p), nil
}

// SendCommand sends cmd with argument arg to the filter instance named target
// ("all" addresses every filter). It returns the filter's response text.
func (g *Graph) SendCommand(target, cmd, arg string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ptr == 0 {
		return "", ErrGraphClosed
	}

	res := make([]byte, 256)
	ret := g.api.graphSendCommand(g.ptr, cString(target), cString(cmd), cString(arg), &res[0], int32(len(res)), 0)
	if ret < 0 {
		return "", g.api.avError("avfilter_graph_send_command", ret, ErrCommandFailed)
	}
	for i, b := range res {
		if b == 0 {
			return string(res[:i]), nil
		}
	}
	return string(res), nil
}

// Close frees the graph, its filters and every pad list still owned through
// it. It is safe to call more than once.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ptr == 0 {
		return nil
	}

	for io := range g.inouts {
		g.log.Warnf("freeing pad list %q still open at close", g.api.goString(g.api.readInOut(io.ptr).name))
		g.freeInOutLocked(io)
	}

	ptr := g.ptr
	g.api.graphFree(&ptr)
	g.ptr = 0
	for _, fc := range g.filters {
		fc.ptr = 0
	}
	g.log.Debug("graph freed")
	return nil
}

// trackLocked returns the wrapper for a native filter context, creating it on
// first sight. The same native context always maps to the same wrapper.
func (g *Graph) trackLocked(ctx uintptr, filter *Filter, name string) *FilterContext {
	if fc, ok := g.byPtr[ctx]; ok {
		return fc
	}
	fc := &FilterContext{
		graph:  g,
		ptr:    ctx,
		filter: filter,
		name:   name,
	}
	g.filters = append(g.filters, fc)
	g.byPtr[ctx] = fc
	return fc
}

// contextLocked wraps a filter context the engine created on its own, for
// example while parsing a description.
func (g *Graph) contextLocked(ctx uintptr) *FilterContext {
	if ctx == 0 {
		return nil
	}
	if fc, ok := g.byPtr[ctx]; ok {
		return fc
	}
	filterPtr, name := g.api.readContext(ctx)
	return g.trackLocked(ctx, newFilter(g.api, filterPtr, ""), name)
}

// adoptLocked takes ownership of a pad list returned by the engine.
func (g *Graph) adoptLocked(ptr uintptr) *InOut {
	if ptr == 0 {
		return nil
	}
	io := &InOut{graph: g, ptr: ptr}
	g.inouts[io] = struct{}{}
	return io
}

// disarmLocked gives up ownership of io without freeing it and returns the
// raw list, which now belongs to whoever the caller handed it to.
func (g *Graph) disarmLocked(io *InOut) uintptr {
	if io == nil {
		return 0
	}
	ptr := io.ptr
	io.ptr = 0
	delete(g.inouts, io)
	return ptr
}

// rebindLocked points io at whatever the engine left in its slot.
func (g *Graph) rebindLocked(io *InOut, ptr uintptr) {
	if io == nil || io.ptr == ptr {
		return
	}
	if ptr == 0 {
		g.disarmLocked(io)
		return
	}
	io.ptr = ptr
}

// checkEntriesLocked rejects a list naming a filter freed by a failed parse.
func (g *Graph) checkEntriesLocked(io *InOut) error {
	for p := io.ptr; p != 0; {
		f := g.api.readInOut(p)
		if f.filterCtx == 0 {
			return fmt.Errorf("%w: pad list %q", ErrFilterReleased, g.api.goString(f.name))
		}
		p = f.next
	}
	return nil
}

// releaseFiltersLocked forgets every filter context after the engine freed
// them all. Entries of the pad lists still owned here are cleared so they
// can never hand a freed context back to the engine; the engine may reuse
// the addresses for filters created later.
func (g *Graph) releaseFiltersLocked() {
	if len(g.filters) > 0 {
		g.log.Warnf("engine released %d filters after a failed parse", len(g.filters))
	}
	for io := range g.inouts {
		for p := io.ptr; p != 0; {
			f := g.api.readInOut(p)
			if f.filterCtx != 0 {
				f.filterCtx = 0
				g.api.writeInOut(p, f)
			}
			p = f.next
		}
	}
	for _, fc := range g.filters {
		fc.ptr = 0
	}
	g.filters = nil
	g.byPtr = make(map[uintptr]*FilterContext)
	g.configured = false
}

func (g *Graph) freeInOutLocked(io *InOut) {
	if io.ptr == 0 {
		return
	}
	ptr := g.disarmLocked(io)
	g.api.inoutFree(&ptr)
}
