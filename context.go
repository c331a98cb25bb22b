package filtergraph

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// BufferSrcFlags modify PushFrame.
type BufferSrcFlags int32

const (
	// BufferSrcFlagNoCheckFormat skips the check for format changes.
	BufferSrcFlagNoCheckFormat BufferSrcFlags = 1
	// BufferSrcFlagPush pushes the frame through the graph immediately.
	BufferSrcFlagPush BufferSrcFlags = 4
	// BufferSrcFlagKeepRef keeps the caller's frame intact; without it the
	// frame's buffers are moved into the graph and the frame is left blank.
	BufferSrcFlagKeepRef BufferSrcFlags = 8
)

// FilterContext is a filter instance inside a Graph. It is owned by the
// graph: there is no way to free one, and every method returns
// ErrGraphClosed after the graph has been closed (or ErrFilterReleased after
// a failed Graph.Parse).
type FilterContext struct {
	graph  *Graph
	ptr    uintptr // zeroed once the engine frees the context
	filter *Filter
	name   string

	exhausted bool
}

// Name returns the instance name.
func (c *FilterContext) Name() string {
	return c.name
}

// Filter returns the filter kind this is an instance of.
func (c *FilterContext) Filter() *Filter {
	return c.filter
}

// Graph returns the graph that owns c.
func (c *FilterContext) Graph() *Graph {
	return c.graph
}

func (c *FilterContext) String() string {
	return fmt.Sprintf("%s(%s)", c.name, c.filter.Name())
}

// lock takes the graph lock and reports whether c is still usable.
func (c *FilterContext) lock() error {
	c.graph.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.graph.mu.Unlock()
		return err
	}
	return nil
}

func (c *FilterContext) usableLocked() error {
	switch {
	case c.graph.ptr == 0:
		return ErrGraphClosed
	case c.ptr == 0:
		return fmt.Errorf("%w: %s", ErrFilterReleased, c.name)
	}
	return nil
}

func (c *FilterContext) unlock() {
	c.graph.mu.Unlock()
}

// SetOption sets an option from its string form, searching the filter's
// child option scopes.
func (c *FilterContext) SetOption(key, value string) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.unlock()

	api := c.graph.api
	ret := api.optSet(c.ptr, cString(key), cString(value), avOptSearchChildren)
	if ret < 0 {
		return api.avError("av_opt_set "+key, ret, ErrPropertyRejected)
	}
	return nil
}

// SetOptionInt sets an integer option.
func (c *FilterContext) SetOptionInt(key string, value int64) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.unlock()

	api := c.graph.api
	ret := api.optSetInt(c.ptr, cString(key), value, avOptSearchChildren)
	if ret < 0 {
		return api.avError("av_opt_set_int "+key, ret, ErrPropertyRejected)
	}
	return nil
}

// SetOptionBin writes data verbatim into a binary option.
func (c *FilterContext) SetOptionBin(key string, data []byte) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.unlock()

	var p *byte
	if len(data) > 0 {
		p = &data[0]
	}
	api := c.graph.api
	ret := api.optSetBin(c.ptr, cString(key), p, int32(len(data)), avOptSearchChildren)
	if ret < 0 {
		return api.avError("av_opt_set_bin "+key, ret, ErrPropertyRejected)
	}
	return nil
}

// SetOptionInts writes a list of int32 values into a binary option, the way
// av_opt_set_int_list does (for example "pix_fmts" on buffersink).
func (c *FilterContext) SetOptionInts(key string, values []int32) error {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.NativeEndian.PutUint32(data[4*i:], uint32(v))
	}
	return c.SetOptionBin(key, data)
}

// SetProperty writes the in-memory representation of value into a binary
// option. T must be a plain value type without pointers.
func SetProperty[T any](c *FilterContext, key string, value T) error {
	size := int(unsafe.Sizeof(value))
	data := make([]byte, size)
	if size > 0 {
		copy(data, unsafe.Slice((*byte)(unsafe.Pointer(&value)), size))
	}
	return c.SetOptionBin(key, data)
}

// PushFrame feeds frame into a buffer source. A nil frame marks the end of
// the stream on this input. The caller keeps ownership of frame and must
// still free it.
func (c *FilterContext) PushFrame(frame *Frame, flags BufferSrcFlags) error {
	if !c.filter.IsSource() {
		return fmt.Errorf("%w: %s", ErrNotSource, c)
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.unlock()

	var fp uintptr
	if frame != nil {
		if frame.ptr == 0 {
			return ErrFrameFreed
		}
		fp = frame.ptr
	}

	api := c.graph.api
	ret := api.buffersrcAddFrame(c.ptr, fp, int32(flags))
	if ret < 0 {
		c.graph.log.Tracef("%s: push rejected: %d", c.name, ret)
		return api.avError("av_buffersrc_add_frame_flags", ret, ErrSourceRejectedFrame)
	}
	if frame == nil {
		c.graph.log.Tracef("%s: end of stream", c.name)
	}
	return nil
}

// PullFrame takes the next filtered frame from a buffer sink.
//
// ErrSinkNotReady means more input must be pushed before output is
// available; ErrSinkExhausted means the sink has finished for good and every
// later call returns it again. Other failures wrap ErrSinkFailed. The
// returned frame belongs to the caller.
func (c *FilterContext) PullFrame() (*Frame, error) {
	if !c.filter.IsSink() {
		return nil, fmt.Errorf("%w: %s", ErrNotSink, c)
	}
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.unlock()

	if c.exhausted {
		return nil, ErrSinkExhausted
	}

	api := c.graph.api
	frame := newFrame(api)
	ret := api.buffersinkGet(c.ptr, frame.ptr)
	switch {
	case ret >= 0:
		return frame, nil
	case ret == averrorEAGAIN:
		frame.Free()
		return nil, api.avError("av_buffersink_get_frame", ret, ErrSinkNotReady)
	case ret == averrorEOF:
		frame.Free()
		c.exhausted = true
		c.graph.log.Tracef("%s: end of stream", c.name)
		return nil, api.avError("av_buffersink_get_frame", ret, ErrSinkExhausted)
	default:
		frame.Free()
		return nil, api.avError("av_buffersink_get_frame", ret, ErrSinkFailed)
	}
}

// Link connects output pad srcPad of c to input pad dstPad of dst.
func (c *FilterContext) Link(srcPad int, dst *FilterContext, dstPad int) error {
	if dst == nil {
		return fmt.Errorf("%w: nil destination", ErrLinkFailed)
	}
	if dst.graph != c.graph {
		return fmt.Errorf("%w: %s and %s are in different graphs", ErrLinkFailed, c, dst)
	}
	if srcPad < 0 || dstPad < 0 {
		return fmt.Errorf("%w: negative pad index", ErrLinkFailed)
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.unlock()
	if err := dst.usableLocked(); err != nil {
		return err
	}

	api := c.graph.api
	ret := api.link(c.ptr, uint32(srcPad), dst.ptr, uint32(dstPad))
	if ret < 0 {
		return api.avError("avfilter_link", ret, ErrLinkFailed)
	}
	c.graph.log.Debugf("linked %s:%d -> %s:%d", c.name, srcPad, dst.name, dstPad)
	return nil
}
