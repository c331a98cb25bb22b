package filtergraph

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Rational is a fraction such as a time base ("1/30") or a pixel aspect
// ratio ("1/1").
type Rational struct {
	Num, Den int
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// MarshalText implements encoding.TextMarshaler.
func (r Rational) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses "num/den" or a bare integer.
func (r *Rational) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	num, den, found := strings.Cut(s, "/")
	if !found {
		den = "1"
	}
	n, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return fmt.Errorf("invalid rational %q: %w", s, err)
	}
	d, err := strconv.Atoi(strings.TrimSpace(den))
	if err != nil {
		return fmt.Errorf("invalid rational %q: %w", s, err)
	}
	if d == 0 {
		return fmt.Errorf("invalid rational %q: zero denominator", s)
	}
	r.Num, r.Den = n, d
	return nil
}

// SourceConfig describes the frames fed into a pipeline's buffer source.
type SourceConfig struct {
	Width        int         `toml:"width"`
	Height       int         `toml:"height"`
	PixelFormat  PixelFormat `toml:"pix_fmt"`
	TimeBase     Rational    `toml:"time_base"`
	SampleAspect Rational    `toml:"sample_aspect"`
}

// Args renders the buffer filter's argument string.
func (c SourceConfig) Args() string {
	return fmt.Sprintf("video_size=%dx%d:pix_fmt=%s:time_base=%s:pixel_aspect=%s",
		c.Width, c.Height, c.PixelFormat.FFmpegName(), c.TimeBase, c.SampleAspect)
}

// SinkConfig constrains the buffer sink.
type SinkConfig struct {
	// PixelFormats restricts what the sink accepts; empty accepts anything
	// the filters produce.
	PixelFormats []PixelFormat `toml:"pix_fmts"`
}

// PipelineConfig describes a single-input, single-output video filter chain:
// a buffer source, a filter description and a buffer sink.
type PipelineConfig struct {
	Source  SourceConfig `toml:"source"`
	Filters string       `toml:"filters"`
	Sink    SinkConfig   `toml:"sink"`
}

// DefaultPipelineConfig returns a 320x240 I420 pass-through pipeline at
// 30 frames per second.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Source: SourceConfig{
			Width:        320,
			Height:       240,
			PixelFormat:  PixelFormatI420,
			TimeBase:     Rational{1, 30},
			SampleAspect: Rational{1, 1},
		},
		Filters: "null",
	}
}

// LoadPipelineConfig decodes TOML from r on top of DefaultPipelineConfig and
// validates the result. Unknown keys are an error.
func LoadPipelineConfig(r io.Reader) (PipelineConfig, error) {
	cfg := DefaultPipelineConfig()
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("decode pipeline config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return PipelineConfig{}, fmt.Errorf("unknown pipeline config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}

// LoadPipelineConfigFile reads a TOML pipeline description from path.
func LoadPipelineConfigFile(path string) (PipelineConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return PipelineConfig{}, err
	}
	defer f.Close()
	return LoadPipelineConfig(f)
}

// Validate checks the configuration without touching the engine.
func (c PipelineConfig) Validate() error {
	var errs []error
	if c.Source.Width <= 0 || c.Source.Height <= 0 {
		errs = append(errs, fmt.Errorf("source size %dx%d must be positive", c.Source.Width, c.Source.Height))
	}
	if c.Source.PixelFormat.FFmpegName() == "" {
		errs = append(errs, errors.New("source pix_fmt is required"))
	}
	if c.Source.TimeBase.Num <= 0 || c.Source.TimeBase.Den <= 0 {
		errs = append(errs, fmt.Errorf("source time_base %s must be positive", c.Source.TimeBase))
	}
	if c.Source.SampleAspect.Num <= 0 || c.Source.SampleAspect.Den <= 0 {
		errs = append(errs, fmt.Errorf("source sample_aspect %s must be positive", c.Source.SampleAspect))
	}
	if strings.TrimSpace(c.Filters) == "" {
		errs = append(errs, errors.New("filters is required"))
	}
	for _, p := range c.Sink.PixelFormats {
		if p.FFmpegName() == "" {
			errs = append(errs, fmt.Errorf("sink pix_fmts: unknown format %d", int(p)))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid pipeline config: %w", errors.Join(errs...))
	}
	return nil
}
