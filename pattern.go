package filtergraph

// PatternType defines the type of test pattern to generate.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE color bars
	PatternGradient                        // Horizontal gradient
	PatternCheckerboard                    // Checkerboard pattern
	PatternSolidColor                      // Solid color
	PatternMovingBox                       // Box sliding across the frame
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternGradient:
		return "Gradient"
	case PatternCheckerboard:
		return "Checkerboard"
	case PatternSolidColor:
		return "SolidColor"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// TestPatternConfig configures a TestPattern.
type TestPatternConfig struct {
	Width   int         // Frame width (default: 320)
	Height  int         // Frame height (default: 240)
	Pattern PatternType // Pattern type (default: ColorBars)

	// For SolidColor pattern
	SolidR, SolidG, SolidB uint8

	// For Checkerboard pattern
	CheckerSize int // Size of each checker square (default: 16)
}

// DefaultTestPatternConfig returns a default test pattern configuration.
func DefaultTestPatternConfig() TestPatternConfig {
	return TestPatternConfig{
		Width:       320,
		Height:      240,
		Pattern:     PatternColorBars,
		CheckerSize: 16,
	}
}

// TestPattern generates synthetic I420 frames for feeding a buffer source.
// Frame n carries PTS n, matching a time base of one tick per frame.
type TestPattern struct {
	config TestPatternConfig
	next   int64
}

// NewTestPattern creates a generator, applying defaults for unset fields.
func NewTestPattern(config TestPatternConfig) *TestPattern {
	def := DefaultTestPatternConfig()
	if config.Width <= 0 {
		config.Width = def.Width
	}
	if config.Height <= 0 {
		config.Height = def.Height
	}
	if config.CheckerSize <= 0 {
		config.CheckerSize = def.CheckerSize
	}
	return &TestPattern{config: config}
}

// Config returns the generator configuration after defaults.
func (s *TestPattern) Config() TestPatternConfig {
	return s.config
}

// Next returns the next frame in Go memory.
func (s *TestPattern) Next() *VideoFrame {
	f := NewVideoFrameBuffer(s.config.Width, s.config.Height, PixelFormatI420)
	f.PTS = s.next
	s.draw(f, s.next)
	s.next++
	return f
}

// NextFrame returns the next frame copied into engine memory.
func (s *TestPattern) NextFrame() (*Frame, error) {
	return FrameFromVideo(s.Next())
}

func (s *TestPattern) draw(f *VideoFrame, frameNum int64) {
	switch s.config.Pattern {
	case PatternGradient:
		s.drawGradient(f)
	case PatternCheckerboard:
		s.drawCheckerboard(f)
	case PatternSolidColor:
		fill(f, s.config.SolidR, s.config.SolidG, s.config.SolidB)
	case PatternMovingBox:
		s.drawMovingBox(f, frameNum)
	default:
		s.drawColorBars(f)
	}
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

func (s *TestPattern) drawColorBars(f *VideoFrame) {
	barWidth := max(f.Width/8, 1)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			rgb := colorBarsRGB[min(x/barWidth, 7)]
			setPixel(f, x, y, rgbToYUV(rgb[0], rgb[1], rgb[2]))
		}
	}
}

func (s *TestPattern) drawGradient(f *VideoFrame) {
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			setPixel(f, x, y, yuv{uint8((x * 255) / f.Width), 128, 128})
		}
	}
}

func (s *TestPattern) drawCheckerboard(f *VideoFrame) {
	size := s.config.CheckerSize
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			luma := uint8(16)
			if ((x/size)+(y/size))%2 == 0 {
				luma = 235
			}
			setPixel(f, x, y, yuv{luma, 128, 128})
		}
	}
}

func (s *TestPattern) drawMovingBox(f *VideoFrame, frameNum int64) {
	fill(f, 16, 16, 16)
	box := max(min(f.Width, f.Height)/4, 1)
	span := max(f.Width-box, 1)
	x0 := int(frameNum*4) % span
	y0 := (f.Height - box) / 2
	for y := y0; y < y0+box; y++ {
		for x := x0; x < x0+box; x++ {
			setPixel(f, x, y, yuv{235, 128, 128})
		}
	}
}

type yuv struct{ y, u, v uint8 }

func fill(f *VideoFrame, r, g, b uint8) {
	c := rgbToYUV(r, g, b)
	for i := range f.Data[0] {
		f.Data[0][i] = c.y
	}
	for i := range f.Data[1] {
		f.Data[1][i] = c.u
		f.Data[2][i] = c.v
	}
}

// setPixel writes luma at (x, y); chroma is taken from the top-left pixel of
// each 2x2 block.
func setPixel(f *VideoFrame, x, y int, c yuv) {
	f.Data[0][y*f.Stride[0]+x] = c.y
	if x%2 == 0 && y%2 == 0 {
		f.Data[1][(y/2)*f.Stride[1]+x/2] = c.u
		f.Data[2][(y/2)*f.Stride[2]+x/2] = c.v
	}
}

// rgbToYUV converts RGB to YUV (BT.601)
func rgbToYUV(r, g, b uint8) yuv {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	return yuv{
		y: uint8(clamp(yf, 16, 235)),
		u: uint8(clamp(uf, 16, 240)),
		v: uint8(clamp(vf, 16, 240)),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
