// Frame types exchanged with buffer sources and sinks.

package filtergraph

import (
	"fmt"
	"image"
	"strings"
)

// PixelFormat represents the video pixel formats the package can convert.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatI420                // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGB24               // Packed RGB, 3 bytes per pixel
	PixelFormatRGBA32              // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA32              // Packed BGRA, 4 bytes per pixel
	PixelFormatGray8               // Single 8-bit luma plane
)

// AVPixelFormat values from libavutil/pixfmt.h.
var avPixFmts = map[PixelFormat]int32{
	PixelFormatI420:   0,
	PixelFormatRGB24:  2,
	PixelFormatGray8:  8,
	PixelFormatNV12:   23,
	PixelFormatRGBA32: 26,
	PixelFormatBGRA32: 28,
}

// FFmpeg names, as used in filter arguments ("pix_fmt=yuv420p").
var ffmpegNames = map[PixelFormat]string{
	PixelFormatI420:   "yuv420p",
	PixelFormatNV12:   "nv12",
	PixelFormatRGB24:  "rgb24",
	PixelFormatRGBA32: "rgba",
	PixelFormatBGRA32: "bgra",
	PixelFormatGray8:  "gray",
}

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGB24:
		return "RGB24"
	case PixelFormatRGBA32:
		return "RGBA32"
	case PixelFormatBGRA32:
		return "BGRA32"
	case PixelFormatGray8:
		return "Gray8"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	case PixelFormatRGB24, PixelFormatRGBA32, PixelFormatBGRA32, PixelFormatGray8:
		return 1
	default:
		return 0
	}
}

// FFmpegName returns the libavutil name of the format, or "" if unknown.
func (p PixelFormat) FFmpegName() string {
	return ffmpegNames[p]
}

// AVPixelFormat returns the libavutil enum value, or -1 (AV_PIX_FMT_NONE).
func (p PixelFormat) AVPixelFormat() int32 {
	if v, ok := avPixFmts[p]; ok {
		return v
	}
	return -1
}

// PixelFormatFromAV maps a libavutil enum value back to a PixelFormat.
func PixelFormatFromAV(v int32) PixelFormat {
	for p, av := range avPixFmts {
		if av == v {
			return p
		}
	}
	return PixelFormatUnknown
}

// ParsePixelFormat accepts either the FFmpeg name ("yuv420p") or the
// String form ("I420"), case-insensitively.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for p, name := range ffmpegNames {
		if strings.EqualFold(s, name) || strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return PixelFormatUnknown, fmt.Errorf("unknown pixel format %q", s)
}

// MarshalText encodes the FFmpeg name.
func (p PixelFormat) MarshalText() ([]byte, error) {
	name := p.FFmpegName()
	if name == "" {
		return nil, fmt.Errorf("unknown pixel format %d", int(p))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so formats can be named in
// configuration files.
func (p *PixelFormat) UnmarshalText(text []byte) error {
	v, err := ParsePixelFormat(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// planeGeometry returns the bytes per row and the row count of a plane.
func (p PixelFormat) planeGeometry(width, height, plane int) (rowBytes, rows int) {
	cw, ch := (width+1)/2, (height+1)/2
	switch p {
	case PixelFormatI420:
		switch plane {
		case 0:
			return width, height
		case 1, 2:
			return cw, ch
		}
	case PixelFormatNV12:
		switch plane {
		case 0:
			return width, height
		case 1:
			return 2 * cw, ch
		}
	case PixelFormatRGB24:
		if plane == 0 {
			return 3 * width, height
		}
	case PixelFormatRGBA32, PixelFormatBGRA32:
		if plane == 0 {
			return 4 * width, height
		}
	case PixelFormatGray8:
		if plane == 0 {
			return width, height
		}
	}
	return 0, 0
}

// VideoFrame is a raw video frame held in Go memory. Each plane is Stride[i]
// bytes per row.
type VideoFrame struct {
	Data   [][]byte    // Plane data (1-3 planes depending on format)
	Stride []int       // Stride for each plane in bytes
	Width  int         // Frame width in pixels
	Height int         // Frame height in pixels
	Format PixelFormat // Pixel format
	PTS    int64       // Presentation timestamp in the stream time base
}

// NewVideoFrameBuffer allocates a tightly packed frame.
func NewVideoFrameBuffer(width, height int, format PixelFormat) *VideoFrame {
	n := format.PlaneCount()
	f := &VideoFrame{
		Data:   make([][]byte, n),
		Stride: make([]int, n),
		Width:  width,
		Height: height,
		Format: format,
	}
	for i := 0; i < n; i++ {
		rowBytes, rows := format.planeGeometry(width, height, i)
		f.Data[i] = make([]byte, rowBytes*rows)
		f.Stride[i] = rowBytes
	}
	return f
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:   make([][]byte, len(f.Data)),
		Stride: make([]int, len(f.Stride)),
		Width:  f.Width,
		Height: f.Height,
		Format: f.Format,
		PTS:    f.PTS,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// Image converts the frame to an image.Image for encoding. YUV formats become
// *image.YCbCr (BT.601), Gray8 becomes *image.Gray and packed RGB formats
// become *image.RGBA.
func (f *VideoFrame) Image() (image.Image, error) {
	if len(f.Data) < f.Format.PlaneCount() || len(f.Stride) < len(f.Data) {
		return nil, fmt.Errorf("frame has %d planes, %s needs %d", len(f.Data), f.Format, f.Format.PlaneCount())
	}
	rect := image.Rect(0, 0, f.Width, f.Height)

	switch f.Format {
	case PixelFormatI420:
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
		copyPlane(img.Y, img.YStride, f.Data[0], f.Stride[0], f.Width, f.Height)
		cw, ch := (f.Width+1)/2, (f.Height+1)/2
		copyPlane(img.Cb, img.CStride, f.Data[1], f.Stride[1], cw, ch)
		copyPlane(img.Cr, img.CStride, f.Data[2], f.Stride[2], cw, ch)
		return img, nil

	case PixelFormatNV12:
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
		copyPlane(img.Y, img.YStride, f.Data[0], f.Stride[0], f.Width, f.Height)
		cw, ch := (f.Width+1)/2, (f.Height+1)/2
		for y := 0; y < ch; y++ {
			row := f.Data[1][y*f.Stride[1]:]
			for x := 0; x < cw; x++ {
				img.Cb[y*img.CStride+x] = row[2*x]
				img.Cr[y*img.CStride+x] = row[2*x+1]
			}
		}
		return img, nil

	case PixelFormatGray8:
		img := image.NewGray(rect)
		copyPlane(img.Pix, img.Stride, f.Data[0], f.Stride[0], f.Width, f.Height)
		return img, nil

	case PixelFormatRGBA32:
		img := image.NewRGBA(rect)
		copyPlane(img.Pix, img.Stride, f.Data[0], f.Stride[0], 4*f.Width, f.Height)
		return img, nil

	case PixelFormatRGB24, PixelFormatBGRA32:
		img := image.NewRGBA(rect)
		bpp, swap := 3, false
		if f.Format == PixelFormatBGRA32 {
			bpp, swap = 4, true
		}
		for y := 0; y < f.Height; y++ {
			src := f.Data[0][y*f.Stride[0]:]
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < f.Width; x++ {
				r, g, b := src[bpp*x], src[bpp*x+1], src[bpp*x+2]
				a := uint8(0xff)
				if swap {
					r, b = b, r
					a = src[bpp*x+3]
				}
				dst[4*x], dst[4*x+1], dst[4*x+2], dst[4*x+3] = r, g, b, a
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("cannot convert %s to an image", f.Format)
}

func copyPlane(dst []byte, dstStride int, src []byte, srcStride, rowBytes, rows int) {
	for y := 0; y < rows; y++ {
		copy(dst[y*dstStride:y*dstStride+rowBytes], src[y*srcStride:y*srcStride+rowBytes])
	}
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := ((width + 1) / 2) * ((height + 1) / 2)
	return ySize + uvSize*2
}

// Frame is an AVFrame in engine memory. Frames are passed to PushFrame and
// returned by PullFrame; the holder must call Free exactly once (further calls
// do nothing).
type Frame struct {
	api *ffi
	ptr uintptr
}

// NewFrame allocates an empty frame with no buffers, for example as a
// destination for engine output.
func NewFrame() (*Frame, error) {
	api, err := loadFFI()
	if err != nil {
		return nil, err
	}
	return newFrame(api), nil
}

func newFrame(api *ffi) *Frame {
	ptr := api.frameAlloc()
	if ptr == 0 {
		panic("filtergraph: av_frame_alloc returned NULL")
	}
	return &Frame{api: api, ptr: ptr}
}

// NewVideoFrame allocates a frame with buffers for a width x height picture.
func NewVideoFrame(width, height int, format PixelFormat) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrFrameBuffer, width, height)
	}
	av := format.AVPixelFormat()
	if av < 0 {
		return nil, fmt.Errorf("%w: unsupported format %s", ErrFrameBuffer, format)
	}

	f, err := NewFrame()
	if err != nil {
		return nil, err
	}
	f.api.writeFrame(f.ptr, int32(width), int32(height), av, avNoPTS)
	if ret := f.api.frameGetBuffer(f.ptr, 0); ret < 0 {
		f.Free()
		return nil, f.api.avError("av_frame_get_buffer", ret, ErrFrameBuffer)
	}
	return f, nil
}

// AV_NOPTS_VALUE
const avNoPTS = -1 << 63

func (f *Frame) fields() frameFields {
	if f == nil || f.ptr == 0 {
		return frameFields{}
	}
	return f.api.readFrame(f.ptr)
}

// Width returns the picture width in pixels.
func (f *Frame) Width() int { return int(f.fields().width) }

// Height returns the picture height in pixels.
func (f *Frame) Height() int { return int(f.fields().height) }

// Format returns the pixel format, or PixelFormatUnknown for formats the
// package does not convert.
func (f *Frame) Format() PixelFormat { return PixelFormatFromAV(f.fields().format) }

// PTS returns the presentation timestamp in the time base of the link the
// frame came from. Frames without one report math.MinInt64.
func (f *Frame) PTS() int64 { return f.fields().pts }

// SetPTS sets the presentation timestamp.
func (f *Frame) SetPTS(pts int64) {
	if f == nil || f.ptr == 0 {
		return
	}
	v := f.api.readFrame(f.ptr)
	f.api.writeFrame(f.ptr, v.width, v.height, v.format, pts)
}

// Linesize returns the stride of plane i in bytes.
func (f *Frame) Linesize(i int) int {
	if i < 0 || i >= 8 {
		return 0
	}
	return int(f.fields().linesize[i])
}

// Plane returns plane i as a slice aliasing engine memory. It is valid until
// the frame is freed and is nil for an unknown format or missing plane.
func (f *Frame) Plane(i int) []byte {
	if f == nil || f.ptr == 0 {
		return nil
	}
	v := f.api.readFrame(f.ptr)
	format := PixelFormatFromAV(v.format)
	if i < 0 || i >= format.PlaneCount() {
		return nil
	}
	rowBytes, rows := format.planeGeometry(int(v.width), int(v.height), i)
	stride := int(v.linesize[i])
	if stride < rowBytes || rows == 0 {
		return nil
	}
	return f.api.framePlane(f.ptr, i, stride*(rows-1)+rowBytes)
}

// Free releases the frame and its buffers.
func (f *Frame) Free() {
	if f == nil || f.ptr == 0 {
		return
	}
	ptr := f.ptr
	f.ptr = 0
	f.api.frameFree(&ptr)
}

// FrameFromVideo copies a Go frame into a newly allocated engine frame.
func FrameFromVideo(v *VideoFrame) (*Frame, error) {
	if len(v.Data) < v.Format.PlaneCount() || len(v.Stride) < v.Format.PlaneCount() {
		return nil, fmt.Errorf("%w: frame has %d planes, %s needs %d", ErrFrameBuffer, len(v.Data), v.Format, v.Format.PlaneCount())
	}
	f, err := NewVideoFrame(v.Width, v.Height, v.Format)
	if err != nil {
		return nil, err
	}
	for i := 0; i < v.Format.PlaneCount(); i++ {
		rowBytes, rows := v.Format.planeGeometry(v.Width, v.Height, i)
		if len(v.Data[i]) < v.Stride[i]*(rows-1)+rowBytes {
			f.Free()
			return nil, fmt.Errorf("%w: plane %d too short", ErrFrameBuffer, i)
		}
		copyPlane(f.Plane(i), f.Linesize(i), v.Data[i], v.Stride[i], rowBytes, rows)
	}
	f.SetPTS(v.PTS)
	return f, nil
}

// ToVideo copies the frame into Go memory with tightly packed planes.
func (f *Frame) ToVideo() (*VideoFrame, error) {
	if f == nil || f.ptr == 0 {
		return nil, ErrFrameFreed
	}
	format := f.Format()
	if format == PixelFormatUnknown {
		return nil, fmt.Errorf("unsupported pixel format %d", f.fields().format)
	}
	v := NewVideoFrameBuffer(f.Width(), f.Height(), format)
	for i := range v.Data {
		rowBytes, rows := format.planeGeometry(v.Width, v.Height, i)
		src := f.Plane(i)
		if src == nil {
			return nil, fmt.Errorf("frame plane %d missing", i)
		}
		copyPlane(v.Data[i], v.Stride[i], src, f.Linesize(i), rowBytes, rows)
	}
	v.PTS = f.PTS()
	return v, nil
}
