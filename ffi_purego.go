//go:build darwin || linux

// Native bindings for libavfilter and libavutil loaded with purego.

package filtergraph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Sonames tried in order, newest first.
var (
	avfilterVersions = []int{10, 9, 8, 7}
	avutilVersions   = []int{59, 58, 57, 56}
)

// avFilterInOut is the C layout of AVFilterInOut.
type avFilterInOut struct {
	name      uintptr
	filterCtx uintptr
	padIdx    int32
	_         int32
	next      uintptr
}

// avFrame is the leading part of the C layout of AVFrame. The fields up to
// pts have not moved since FFmpeg 4.
type avFrame struct {
	data              [8]uintptr
	linesize          [8]int32
	extendedData      uintptr
	width             int32
	height            int32
	nbSamples         int32
	format            int32
	keyFrame          int32
	pictType          int32
	sampleAspectRatio [2]int32
	pts               int64
}

func loadNative() (*ffi, error) {
	avutil, err := dlopenFirst(libPaths("avutil", avutilVersions))
	if err != nil {
		return nil, fmt.Errorf("%w: libavutil: %w", ErrLibraryUnavailable, err)
	}
	avfilter, err := dlopenFirst(libPaths("avfilter", avfilterVersions))
	if err != nil {
		return nil, fmt.Errorf("%w: libavfilter: %w", ErrLibraryUnavailable, err)
	}

	api := &ffi{
		filterName:     nativeFilterName,
		graphNbFilters: nativeGraphNbFilters,
		readContext:    nativeReadContext,
		goString:       goStringFromPtr,
		readInOut:      nativeReadInOut,
		writeInOut:     nativeWriteInOut,
		readFrame:      nativeReadFrame,
		writeFrame:     nativeWriteFrame,
		framePlane:     nativeFramePlane,
	}

	syms := []struct {
		lib  uintptr
		fptr any
		name string
	}{
		{avfilter, &api.getByName, "avfilter_get_by_name"},
		{avfilter, &api.graphAlloc, "avfilter_graph_alloc"},
		{avfilter, &api.graphFree, "avfilter_graph_free"},
		{avfilter, &api.graphConfig, "avfilter_graph_config"},
		{avfilter, &api.graphParsePtr, "avfilter_graph_parse_ptr"},
		{avfilter, &api.graphCreateFilter, "avfilter_graph_create_filter"},
		{avfilter, &api.graphDump, "avfilter_graph_dump"},
		{avfilter, &api.graphSendCommand, "avfilter_graph_send_command"},
		{avfilter, &api.link, "avfilter_link"},
		{avfilter, &api.inoutAlloc, "avfilter_inout_alloc"},
		{avfilter, &api.inoutFree, "avfilter_inout_free"},
		{avfilter, &api.buffersrcAddFrame, "av_buffersrc_add_frame_flags"},
		{avfilter, &api.buffersinkGet, "av_buffersink_get_frame"},

		{avutil, &api.strdup, "av_strdup"},
		{avutil, &api.free, "av_free"},
		{avutil, &api.strerror, "av_strerror"},
		{avutil, &api.optSet, "av_opt_set"},
		{avutil, &api.optSetInt, "av_opt_set_int"},
		{avutil, &api.optSetBin, "av_opt_set_bin"},
		{avutil, &api.frameAlloc, "av_frame_alloc"},
		{avutil, &api.frameFree, "av_frame_free"},
		{avutil, &api.frameGetBuffer, "av_frame_get_buffer"},
	}
	for _, s := range syms {
		sym, err := purego.Dlsym(s.lib, s.name)
		if err != nil {
			return nil, fmt.Errorf("%w: missing symbol %s: %w", ErrLibraryUnavailable, s.name, err)
		}
		purego.RegisterFunc(s.fptr, sym)
	}

	return api, nil
}

func dlopenFirst(paths []string) (uintptr, error) {
	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return 0, lastErr
	}
	return 0, errors.New("not found in any standard location")
}

// libPaths lists candidate locations for lib<name>, highest priority first.
func libPaths(name string, versions []int) []string {
	var files []string
	for _, v := range versions {
		if runtime.GOOS == "darwin" {
			files = append(files, fmt.Sprintf("lib%s.%d.dylib", name, v))
		} else {
			files = append(files, fmt.Sprintf("lib%s.so.%d", name, v))
		}
	}
	if runtime.GOOS == "darwin" {
		files = append(files, "lib"+name+".dylib")
	} else {
		files = append(files, "lib"+name+".so")
	}

	var dirs []string

	// Environment variable overrides (highest priority)
	if dir := os.Getenv("FILTERGRAPH_LIB_PATH"); dir != "" {
		dirs = append(dirs, dir)
	}
	if dir := os.Getenv("FFMPEG_LIB_PATH"); dir != "" {
		dirs = append(dirs, dir)
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		dirs = append(dirs, exeDir, filepath.Join(exeDir, "..", "lib"))
	}

	// Search relative to module root (find go.mod from cwd)
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		dirs = append(dirs, filepath.Join(moduleRoot, "build"))
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		dirs = append(dirs, "/opt/homebrew/lib", "/usr/local/lib")
	case "linux":
		dirs = append(dirs,
			"/usr/local/lib",
			"/usr/lib/x86_64-linux-gnu",
			"/usr/lib/aarch64-linux-gnu",
			"/usr/lib64",
			"/usr/lib",
		)
	}

	var paths []string
	for _, dir := range dirs {
		for _, f := range files {
			paths = append(paths, filepath.Join(dir, f))
		}
	}
	// Bare names last so the dynamic loader's own search path applies.
	return append(paths, files...)
}

// findModuleRoot walks up from the working directory to the directory
// containing go.mod.
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// goStringFromPtr copies a NUL-terminated C string into Go memory.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for *(*byte)(unsafe.Add(p, length)) != 0 {
		length++
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

func nativeFilterName(filter uintptr) string {
	if filter == 0 {
		return ""
	}
	// AVFilter.name is the first member.
	return goStringFromPtr(*(*uintptr)(unsafe.Pointer(filter)))
}

// avFilterGraph is the leading part of the C layout of AVFilterGraph.
type avFilterGraph struct {
	avClass   uintptr
	filters   uintptr
	nbFilters uint32
}

func nativeGraphNbFilters(graph uintptr) uint32 {
	return (*avFilterGraph)(unsafe.Pointer(graph)).nbFilters
}

// avFilterContext is the leading part of the C layout of AVFilterContext.
type avFilterContext struct {
	avClass uintptr
	filter  uintptr
	name    uintptr
}

func nativeReadContext(ctx uintptr) (uintptr, string) {
	p := (*avFilterContext)(unsafe.Pointer(ctx))
	return p.filter, goStringFromPtr(p.name)
}

func nativeReadInOut(inout uintptr) inoutFields {
	p := (*avFilterInOut)(unsafe.Pointer(inout))
	return inoutFields{
		name:      p.name,
		filterCtx: p.filterCtx,
		padIdx:    p.padIdx,
		next:      p.next,
	}
}

func nativeWriteInOut(inout uintptr, v inoutFields) {
	p := (*avFilterInOut)(unsafe.Pointer(inout))
	p.name = v.name
	p.filterCtx = v.filterCtx
	p.padIdx = v.padIdx
	p.next = v.next
}

func nativeReadFrame(frame uintptr) frameFields {
	p := (*avFrame)(unsafe.Pointer(frame))
	return frameFields{
		data:     p.data,
		linesize: p.linesize,
		width:    p.width,
		height:   p.height,
		format:   p.format,
		pts:      p.pts,
	}
}

func nativeWriteFrame(frame uintptr, width, height, format int32, pts int64) {
	p := (*avFrame)(unsafe.Pointer(frame))
	p.width = width
	p.height = height
	p.format = format
	p.pts = pts
}

func nativeFramePlane(frame uintptr, plane int, size int) []byte {
	p := (*avFrame)(unsafe.Pointer(frame))
	if plane < 0 || plane >= len(p.data) || p.data[plane] == 0 || size <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p.data[plane])), size)
}
