package filtergraph

import (
	"sync"
	"syscall"
)

// Error codes the core distinguishes at the sink boundary.
var (
	averrorEAGAIN = -int32(syscall.EAGAIN)
	averrorEINVAL = -int32(syscall.EINVAL)
	averrorENOMEM = -int32(syscall.ENOMEM)
)

// AVERROR_EOF is FFERRTAG('E','O','F',' ').
const averrorEOF = -int32('E' | 'O'<<8 | 'F'<<16 | ' '<<24)

const avOptSearchChildren = 1

// inoutFields mirrors the public part of AVFilterInOut.
type inoutFields struct {
	name      uintptr
	filterCtx uintptr
	padIdx    int32
	next      uintptr
}

// frameFields is the subset of AVFrame the package reads.
type frameFields struct {
	data     [8]uintptr
	linesize [8]int32
	width    int32
	height   int32
	format   int32
	pts      int64
}

// ffi is the table of native entry points. Every foreign call made by the
// package goes through one of these fields; nothing else touches engine memory.
type ffi struct {
	// libavfilter
	getByName         func(name *byte) uintptr
	graphAlloc        func() uintptr
	graphFree         func(graph *uintptr)
	graphConfig       func(graph, logCtx uintptr) int32
	graphParsePtr     func(graph uintptr, filters *byte, inputs, outputs *uintptr, logCtx uintptr) int32
	graphCreateFilter func(ctx *uintptr, filter uintptr, name, args *byte, opaque, graph uintptr) int32
	graphDump         func(graph uintptr, options *byte) uintptr
	graphSendCommand  func(graph uintptr, target, cmd, arg *byte, res *byte, resLen int32, flags int32) int32
	link              func(src uintptr, srcPad uint32, dst uintptr, dstPad uint32) int32
	inoutAlloc        func() uintptr
	inoutFree         func(inout *uintptr)
	buffersrcAddFrame func(ctx, frame uintptr, flags int32) int32
	buffersinkGet     func(ctx, frame uintptr) int32

	// libavutil
	strdup         func(s *byte) uintptr
	free           func(ptr uintptr)
	strerror       func(errnum int32, buf *byte, size uintptr) int32
	optSet         func(obj uintptr, name, val *byte, flags int32) int32
	optSetInt      func(obj uintptr, name *byte, val int64, flags int32) int32
	optSetBin      func(obj uintptr, name *byte, val *byte, size int32, flags int32) int32
	frameAlloc     func() uintptr
	frameFree      func(frame *uintptr)
	frameGetBuffer func(frame uintptr, align int32) int32

	// Struct access. These read and write engine-owned memory.
	filterName     func(filter uintptr) string
	graphNbFilters func(graph uintptr) uint32
	readContext    func(ctx uintptr) (filter uintptr, name string)
	goString       func(ptr uintptr) string
	readInOut      func(inout uintptr) inoutFields
	writeInOut     func(inout uintptr, v inoutFields)
	readFrame      func(frame uintptr) frameFields
	writeFrame     func(frame uintptr, width, height, format int32, pts int64)
	framePlane     func(frame uintptr, plane int, size int) []byte
}

var (
	ffiOnce    sync.Once
	ffiDefault *ffi
	ffiErr     error

	// ffiOverride replaces the native table; set only by tests.
	ffiOverride *ffi
)

// loadFFI returns the process-wide native table, loading the libraries on
// first use.
func loadFFI() (*ffi, error) {
	if ffiOverride != nil {
		return ffiOverride, nil
	}
	ffiOnce.Do(func() {
		ffiDefault, ffiErr = loadNative()
	})
	return ffiDefault, ffiErr
}

// Available reports whether libavfilter and libavutil could be loaded.
func Available() bool {
	_, err := loadFFI()
	return err == nil
}

// cString converts s to a NUL-terminated byte string. An empty string maps to
// NULL, which libavfilter treats as "not provided".
func cString(s string) *byte {
	if s == "" {
		return nil
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0]
}

// errorString renders an AVERROR code with av_strerror.
func (api *ffi) errorString(code int32) string {
	if api == nil || api.strerror == nil {
		return ""
	}
	buf := new([256]byte)
	if api.strerror(code, &buf[0], uintptr(len(buf))) < 0 {
		return ""
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf[:])
}
