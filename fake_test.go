package filtergraph

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// fakeEngine is an in-memory stand-in for libavfilter and libavutil. It keeps
// every native object in maps keyed by fake addresses, so the package's
// ownership rules can be checked without the real libraries: a second free of
// the same address is recorded instead of corrupting memory.
//
// Graph behavior is deliberately small. Descriptions are linear chains of
// known filter kinds, scale resizes, everything else passes frames through.
type fakeEngine struct {
	mu   sync.Mutex
	next uintptr

	// Freed filter context addresses, handed out again most recent first
	// the way malloc recycles same-sized blocks.
	recycled []uintptr

	kinds    map[string]uintptr
	kindName map[uintptr]string
	graphs   map[uintptr]*fakeGraph
	contexts map[uintptr]*fakeContext
	inouts   map[uintptr]*inoutFields
	strs     map[uintptr]string
	frames   map[uintptr]*fakeFrame

	doubleFrees []string
	parseCalls  int
	configCalls int
	pullCalls   int
}

type fakeGraph struct {
	contexts []*fakeContext
	parsed   int
}

type fakeContext struct {
	addr  uintptr
	graph uintptr
	kind  string
	name  string
	args  string
	opts  map[string]string

	in, out  *fakeContext // linked neighbours
	width    int32        // scale target, 0 to keep
	height   int32
	fifo     []*fakeFrame
	eof      bool
	rejected bool  // every push fails
	pullErr  int32 // returned by every pull when set
}

type fakeFrame struct {
	fields frameFields
	planes [8][]byte
}

func (f *fakeFrame) clone() *fakeFrame {
	c := &fakeFrame{fields: f.fields}
	for i, p := range f.planes {
		if p != nil {
			c.planes[i] = append([]byte(nil), p...)
		}
	}
	return c
}

var fakeKinds = []string{"buffer", "buffersink", "abuffer", "abuffersink", "scale", "null", "hflip", "vflip", "format", "split"}

const fakeOptionNotFound = -int32(0xF8 | 'O'<<8 | 'P'<<16 | 'T'<<24)

func newFakeEngine() *fakeEngine {
	e := &fakeEngine{
		next:     0x1000,
		kinds:    make(map[string]uintptr),
		kindName: make(map[uintptr]string),
		graphs:   make(map[uintptr]*fakeGraph),
		contexts: make(map[uintptr]*fakeContext),
		inouts:   make(map[uintptr]*inoutFields),
		strs:     make(map[uintptr]string),
		frames:   make(map[uintptr]*fakeFrame),
	}
	for _, k := range fakeKinds {
		addr := e.alloc()
		e.kinds[k] = addr
		e.kindName[addr] = k
	}
	return e
}

// useFakeEngine installs a fresh fake engine for the duration of the test.
func useFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	e := newFakeEngine()
	ffiOverride = e.api()
	t.Cleanup(func() { ffiOverride = nil })
	return e
}

func (e *fakeEngine) alloc() uintptr {
	e.next += 0x40
	return e.next
}

func (e *fakeEngine) allocContextLocked() uintptr {
	if n := len(e.recycled); n > 0 {
		addr := e.recycled[n-1]
		e.recycled = e.recycled[:n-1]
		return addr
	}
	return e.alloc()
}

func (e *fakeEngine) freeContextsLocked(g *fakeGraph) {
	for _, c := range g.contexts {
		delete(e.contexts, c.addr)
		e.recycled = append(e.recycled, c.addr)
	}
	g.contexts = nil
}

func (e *fakeEngine) api() *ffi {
	return &ffi{
		getByName:         e.getByName,
		graphAlloc:        e.graphAlloc,
		graphFree:         e.graphFree,
		graphConfig:       e.graphConfig,
		graphParsePtr:     e.graphParsePtr,
		graphCreateFilter: e.graphCreateFilter,
		graphDump:         e.graphDump,
		graphSendCommand:  e.graphSendCommand,
		link:              e.link,
		inoutAlloc:        e.inoutAlloc,
		inoutFree:         e.inoutFree,
		buffersrcAddFrame: e.buffersrcAddFrame,
		buffersinkGet:     e.buffersinkGet,

		strdup:         e.strdup,
		free:           e.free,
		strerror:       e.strerror,
		optSet:         e.optSet,
		optSetInt:      e.optSetInt,
		optSetBin:      e.optSetBin,
		frameAlloc:     e.frameAlloc,
		frameFree:      e.frameFree,
		frameGetBuffer: e.frameGetBuffer,

		filterName:     e.filterName,
		graphNbFilters: e.graphNbFilters,
		readContext:    e.readContext,
		goString:       e.goString,
		readInOut:      e.readInOut,
		writeInOut:     e.writeInOut,
		readFrame:      e.readFrame,
		writeFrame:     e.writeFrame,
		framePlane:     e.framePlane,
	}
}

// fakeCString reads a NUL-terminated Go byte string produced by cString.
func fakeCString(p *byte) string {
	if p == nil {
		return ""
	}
	var b []byte
	for q := unsafe.Pointer(p); *(*byte)(q) != 0; q = unsafe.Add(q, 1) {
		b = append(b, *(*byte)(q))
	}
	return string(b)
}

func (e *fakeEngine) getByName(name *byte) uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kinds[fakeCString(name)]
}

func (e *fakeEngine) graphAlloc() uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	addr := e.alloc()
	e.graphs[addr] = &fakeGraph{}
	return addr
}

func (e *fakeEngine) graphFree(p *uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.graphs[*p]
	if !ok {
		if *p != 0 {
			e.doubleFrees = append(e.doubleFrees, fmt.Sprintf("graph %#x", *p))
		}
		return
	}
	e.freeContextsLocked(g)
	delete(e.graphs, *p)
	*p = 0
}

func (e *fakeEngine) newContextLocked(graph uintptr, kind, name, args string) (*fakeContext, int32) {
	if strings.Contains(args, "-") {
		return nil, averrorEINVAL
	}
	var w, h int32
	if kind == "scale" && args != "" {
		var ok bool
		if w, h, ok = parseScaleArgs(args); !ok {
			return nil, averrorEINVAL
		}
	}
	c := &fakeContext{
		addr:   e.allocContextLocked(),
		graph:  graph,
		kind:   kind,
		name:   name,
		args:   args,
		opts:   make(map[string]string),
		width:  w,
		height: h,
	}
	g := e.graphs[graph]
	g.contexts = append(g.contexts, c)
	e.contexts[c.addr] = c
	return c, 0
}

func parseScaleArgs(args string) (int32, int32, bool) {
	parts := strings.Split(args, ":")
	if len(parts) < 2 {
		return 0, 0, false
	}
	var dims [2]int32
	for i := 0; i < 2; i++ {
		_, v, found := strings.Cut(parts[i], "=")
		if !found {
			v = parts[i]
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		dims[i] = int32(n)
	}
	return dims[0], dims[1], true
}

func (e *fakeEngine) graphCreateFilter(ctx *uintptr, filter uintptr, name, args *byte, _ uintptr, graph uintptr) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	kind, ok := e.kindName[filter]
	if _, gok := e.graphs[graph]; !ok || !gok {
		return averrorEINVAL
	}
	c, ret := e.newContextLocked(graph, kind, fakeCString(name), fakeCString(args))
	if ret < 0 {
		return ret
	}
	*ctx = c.addr
	return 0
}

func isFakeSource(kind string) bool { return kind == "buffer" || kind == "abuffer" }
func isFakeSink(kind string) bool   { return kind == "buffersink" || kind == "abuffersink" }

// graphParsePtr builds a linear chain. The first entry of *outputs feeds the
// chain's first filter and its last filter feeds the first entry of *inputs.
// Pads left unconnected are returned as new lists.
func (e *fakeEngine) graphParsePtr(graph uintptr, filters *byte, inputs, outputs *uintptr, _ uintptr) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parseCalls++

	g, ok := e.graphs[graph]
	if !ok {
		return averrorEINVAL
	}
	spec := fakeCString(filters)
	if strings.Contains(spec, "invalid") {
		return e.failParseLocked(g, spec, outputs)
	}

	type entry struct{ kind, args string }
	var chain []entry
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		kind, args, _ := strings.Cut(item, "=")
		if _, ok := e.kinds[kind]; !ok {
			return e.failParseLocked(g, spec, outputs)
		}
		chain = append(chain, entry{kind, args})
	}

	var created []*fakeContext
	for _, en := range chain {
		name := fmt.Sprintf("Parsed_%s_%d", en.kind, g.parsed)
		g.parsed++
		c, ret := e.newContextLocked(graph, en.kind, name, en.args)
		if ret < 0 {
			return e.failParseLocked(g, spec, outputs)
		}
		created = append(created, c)
	}
	for i := 1; i < len(created); i++ {
		created[i-1].out, created[i].in = created[i], created[i-1]
	}
	first, last := created[0], created[len(created)-1]

	var openIn, openOut uintptr
	if src := e.inoutHead(*outputs); src != nil && src.out == nil {
		src.out, first.in = first, src
	} else {
		openIn = e.newInOutLocked("in", first.addr)
	}
	if dst := e.inoutHead(*inputs); dst != nil && dst.in == nil {
		last.out, dst.in = dst, last
	} else {
		openOut = e.newInOutLocked("out", last.addr)
	}

	e.freeInOutLocked(inputs)
	e.freeInOutLocked(outputs)
	*inputs, *outputs = openIn, openOut
	return 0
}

// failParseLocked frees every filter in the graph, as libavfilter does when
// parsing fails. A description starting with a [label] has already had the
// matching entry moved out of *outputs, and that entry is freed too.
func (e *fakeEngine) failParseLocked(g *fakeGraph, spec string, outputs *uintptr) int32 {
	if rest, ok := strings.CutPrefix(spec, "["); ok {
		if label, _, ok := strings.Cut(rest, "]"); ok {
			e.takeLabelLocked(outputs, label)
		}
	}
	e.freeContextsLocked(g)
	return averrorEINVAL
}

func (e *fakeEngine) takeLabelLocked(list *uintptr, label string) {
	var prev uintptr
	for addr := *list; addr != 0; {
		f, ok := e.inouts[addr]
		if !ok {
			return
		}
		if e.strs[f.name] == label {
			if prev == 0 {
				*list = f.next
			} else {
				e.inouts[prev].next = f.next
			}
			delete(e.strs, f.name)
			delete(e.inouts, addr)
			return
		}
		prev, addr = addr, f.next
	}
}

func (e *fakeEngine) inoutHead(addr uintptr) *fakeContext {
	if addr == 0 {
		return nil
	}
	f, ok := e.inouts[addr]
	if !ok {
		return nil
	}
	return e.contexts[f.filterCtx]
}

func (e *fakeEngine) newInOutLocked(name string, ctx uintptr) uintptr {
	addr := e.alloc()
	nameAddr := e.alloc()
	e.strs[nameAddr] = name
	e.inouts[addr] = &inoutFields{name: nameAddr, filterCtx: ctx}
	return addr
}

func (e *fakeEngine) graphConfig(graph, _ uintptr) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configCalls++

	g, ok := e.graphs[graph]
	if !ok {
		return averrorEINVAL
	}
	for _, c := range g.contexts {
		if !isFakeSource(c.kind) && c.in == nil {
			return averrorEINVAL
		}
		if !isFakeSink(c.kind) && c.out == nil {
			return averrorEINVAL
		}
	}
	return 0
}

func (e *fakeEngine) graphDump(graph uintptr, _ *byte) uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.graphs[graph]
	if !ok {
		return 0
	}
	var b strings.Builder
	for _, c := range g.contexts {
		fmt.Fprintf(&b, "%s (%s)\n", c.name, c.kind)
	}
	addr := e.alloc()
	e.strs[addr] = b.String()
	return addr
}

func (e *fakeEngine) graphSendCommand(graph uintptr, target, cmd, arg *byte, res *byte, resLen int32, _ int32) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.graphs[graph]
	if !ok {
		return averrorEINVAL
	}
	t := fakeCString(target)
	for _, c := range g.contexts {
		if c.name != t && t != "all" {
			continue
		}
		if fakeCString(cmd) != "ping" {
			return -38 // ENOSYS
		}
		reply := append([]byte("pong "+fakeCString(arg)), 0)
		copy(unsafe.Slice(res, resLen), reply)
		return 0
	}
	return -38
}

func (e *fakeEngine) link(src uintptr, srcPad uint32, dst uintptr, dstPad uint32) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok1 := e.contexts[src]
	d, ok2 := e.contexts[dst]
	switch {
	case !ok1 || !ok2 || s.graph != d.graph:
		return averrorEINVAL
	case srcPad != 0 || dstPad != 0:
		return averrorEINVAL
	case isFakeSink(s.kind) || isFakeSource(d.kind):
		return averrorEINVAL
	case s.out != nil || d.in != nil:
		return averrorEINVAL
	}
	s.out, d.in = d, s
	return 0
}

func (e *fakeEngine) inoutAlloc() uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	addr := e.alloc()
	e.inouts[addr] = &inoutFields{}
	return addr
}

func (e *fakeEngine) inoutFree(p *uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.freeInOutLocked(p)
}

func (e *fakeEngine) freeInOutLocked(p *uintptr) {
	for addr := *p; addr != 0; {
		f, ok := e.inouts[addr]
		if !ok {
			e.doubleFrees = append(e.doubleFrees, fmt.Sprintf("inout %#x", addr))
			break
		}
		if f.name != 0 {
			delete(e.strs, f.name)
		}
		delete(e.inouts, addr)
		addr = f.next
	}
	*p = 0
}

func (e *fakeEngine) buffersrcAddFrame(ctx, frame uintptr, _ int32) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.contexts[ctx]
	if !ok || !isFakeSource(c.kind) {
		return averrorEINVAL
	}
	if c.eof {
		return averrorEOF
	}
	if c.rejected {
		return averrorEINVAL
	}
	if frame == 0 {
		c.eof = true
		for n := c.out; n != nil; n = n.out {
			n.eof = true
		}
		return 0
	}
	f, ok := e.frames[frame]
	if !ok {
		return averrorEINVAL
	}
	out := f.clone()
	for n := c.out; n != nil; n = n.out {
		if n.kind == "scale" && n.width > 0 {
			out = scaleFakeFrame(out, n.width, n.height)
		}
		if isFakeSink(n.kind) {
			n.fifo = append(n.fifo, out)
			break
		}
	}
	return 0
}

func scaleFakeFrame(f *fakeFrame, w, h int32) *fakeFrame {
	out := &fakeFrame{fields: f.fields}
	out.fields.width, out.fields.height = w, h
	allocFakePlanes(out)
	return out
}

func allocFakePlanes(f *fakeFrame) bool {
	format := PixelFormatFromAV(f.fields.format)
	if format == PixelFormatUnknown {
		return false
	}
	for i := 0; i < format.PlaneCount(); i++ {
		rowBytes, rows := format.planeGeometry(int(f.fields.width), int(f.fields.height), i)
		stride := (rowBytes + 31) &^ 31
		f.planes[i] = make([]byte, stride*rows)
		f.fields.linesize[i] = int32(stride)
		f.fields.data[i] = uintptr(0xd000 + i)
	}
	return true
}

func (e *fakeEngine) buffersinkGet(ctx, frame uintptr) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pullCalls++
	c, ok := e.contexts[ctx]
	if !ok || !isFakeSink(c.kind) {
		return averrorEINVAL
	}
	if _, ok := e.frames[frame]; !ok {
		return averrorEINVAL
	}
	if c.pullErr != 0 {
		return c.pullErr
	}
	if len(c.fifo) > 0 {
		e.frames[frame] = c.fifo[0]
		c.fifo = c.fifo[1:]
		return 0
	}
	if c.eof {
		return averrorEOF
	}
	return averrorEAGAIN
}

func (e *fakeEngine) strdup(s *byte) uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	addr := e.alloc()
	e.strs[addr] = fakeCString(s)
	return addr
}

func (e *fakeEngine) free(ptr uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.strs[ptr]; !ok {
		e.doubleFrees = append(e.doubleFrees, fmt.Sprintf("string %#x", ptr))
		return
	}
	delete(e.strs, ptr)
}

func (e *fakeEngine) strerror(code int32, buf *byte, size uintptr) int32 {
	msg := append([]byte(fmt.Sprintf("fake error %d", code)), 0)
	copy(unsafe.Slice(buf, size), msg)
	return 0
}

func (e *fakeEngine) setOptLocked(obj uintptr, name, val string) int32 {
	c, ok := e.contexts[obj]
	if !ok {
		return averrorEINVAL
	}
	switch {
	case isFakeSink(c.kind) && name == "pix_fmts":
	case c.kind == "scale" && (name == "w" || name == "h" || name == "flags"):
	case name == "threads":
	default:
		return fakeOptionNotFound
	}
	c.opts[name] = val
	return 0
}

func (e *fakeEngine) optSet(obj uintptr, name, val *byte, _ int32) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setOptLocked(obj, fakeCString(name), fakeCString(val))
}

func (e *fakeEngine) optSetInt(obj uintptr, name *byte, val int64, _ int32) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setOptLocked(obj, fakeCString(name), strconv.FormatInt(val, 10))
}

func (e *fakeEngine) optSetBin(obj uintptr, name *byte, val *byte, size int32, _ int32) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var data []byte
	if val != nil && size > 0 {
		data = append(data, unsafe.Slice(val, size)...)
	}
	return e.setOptLocked(obj, fakeCString(name), string(data))
}

func (e *fakeEngine) frameAlloc() uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	addr := e.alloc()
	e.frames[addr] = &fakeFrame{fields: frameFields{format: -1, pts: avNoPTS}}
	return addr
}

func (e *fakeEngine) frameFree(p *uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.frames[*p]; !ok {
		if *p != 0 {
			e.doubleFrees = append(e.doubleFrees, fmt.Sprintf("frame %#x", *p))
		}
		return
	}
	delete(e.frames, *p)
	*p = 0
}

func (e *fakeEngine) frameGetBuffer(frame uintptr, _ int32) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.frames[frame]
	if !ok || f.fields.width <= 0 || f.fields.height <= 0 {
		return averrorEINVAL
	}
	if !allocFakePlanes(f) {
		return averrorEINVAL
	}
	return 0
}

func (e *fakeEngine) filterName(filter uintptr) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kindName[filter]
}

func (e *fakeEngine) graphNbFilters(graph uintptr) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.graphs[graph]; ok {
		return uint32(len(g.contexts))
	}
	return 0
}

func (e *fakeEngine) readContext(ctx uintptr) (uintptr, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.contexts[ctx]
	if !ok {
		return 0, ""
	}
	return e.kinds[c.kind], c.name
}

func (e *fakeEngine) goString(ptr uintptr) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strs[ptr]
}

func (e *fakeEngine) readInOut(addr uintptr) inoutFields {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.inouts[addr]; ok {
		return *f
	}
	return inoutFields{}
}

func (e *fakeEngine) writeInOut(addr uintptr, v inoutFields) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.inouts[addr]; ok {
		*f = v
	}
}

func (e *fakeEngine) readFrame(addr uintptr) frameFields {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.frames[addr]; ok {
		return f.fields
	}
	return frameFields{}
}

func (e *fakeEngine) writeFrame(addr uintptr, width, height, format int32, pts int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.frames[addr]; ok {
		f.fields.width, f.fields.height, f.fields.format, f.fields.pts = width, height, format, pts
	}
}

func (e *fakeEngine) framePlane(addr uintptr, plane, size int) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.frames[addr]
	if !ok || plane < 0 || plane >= len(f.planes) || len(f.planes[plane]) < size {
		return nil
	}
	return f.planes[plane][:size]
}

// context returns the fake state behind a FilterContext.
func (e *fakeEngine) context(fc *FilterContext) *fakeContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.contexts[fc.ptr]
}

// requireClean fails the test if any native object leaked or was freed twice.
func (e *fakeEngine) requireClean(t *testing.T) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.Empty(t, e.doubleFrees, "double frees")
	require.Empty(t, e.graphs, "leaked graphs")
	require.Empty(t, e.inouts, "leaked pad lists")
	require.Empty(t, e.strs, "leaked strings")
	require.Empty(t, e.frames, "leaked frames")
}

func (e *fakeEngine) liveInOuts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inouts)
}
