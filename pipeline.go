package filtergraph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
)

// PipelineState represents the state of a filter pipeline.
type PipelineState int

const (
	PipelineStateIdle    PipelineState = iota // Configured, no frames yet
	PipelineStateRunning                      // Processing frames
	PipelineStateStopped                      // Flushed, sink exhausted
	PipelineStateClosed                       // Graph freed
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateRunning:
		return "running"
	case PipelineStateStopped:
		return "stopped"
	case PipelineStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PipelineStats provides pipeline statistics.
type PipelineStats struct {
	FramesIn  uint64
	FramesOut uint64
	Errors    uint64
}

// Pipeline is a configured buffer -> filters -> buffersink graph with one
// input and one output. It is driven synchronously: every call pushes and
// then drains whatever the sink has ready.
type Pipeline struct {
	config PipelineConfig
	graph  *Graph
	source *FilterContext
	sink   *FilterContext
	log    logging.LeveledLogger

	mu    sync.Mutex
	state PipelineState
	stats PipelineStats
}

// NewPipeline assembles and configures the graph described by config.
func NewPipeline(config PipelineConfig, opts ...GraphOption) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := graphOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loggerFactory == nil {
		o.loggerFactory = logging.NewDefaultLoggerFactory()
	}

	graph, err := NewGraph(WithLoggerFactory(o.loggerFactory))
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		config: config,
		graph:  graph,
		log:    o.loggerFactory.NewLogger("pipeline"),
	}
	if err := p.build(); err != nil {
		graph.Close()
		return nil, err
	}
	p.log.Infof("pipeline ready: %s -> %q", config.Source.Args(), config.Filters)
	return p, nil
}

func (p *Pipeline) build() error {
	buffer, err := FindFilter("buffer")
	if err != nil {
		return err
	}
	buffersink, err := FindFilter("buffersink")
	if err != nil {
		return err
	}

	p.source, err = p.graph.CreateFilter(buffer, "in", p.config.Source.Args())
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	p.sink, err = p.graph.CreateFilter(buffersink, "out", "")
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	if formats := p.config.Sink.PixelFormats; len(formats) > 0 {
		list := make([]int32, len(formats))
		for i, f := range formats {
			list[i] = f.AVPixelFormat()
		}
		if err := p.sink.SetOptionInts("pix_fmts", list); err != nil {
			return fmt.Errorf("failed to restrict sink formats: %w", err)
		}
	}

	// The description's unlabelled input reads from "in"; its unlabelled
	// output feeds "out".
	outputs, err := NewInOut("in", p.source)
	if err != nil {
		return err
	}
	defer outputs.Free()
	inputs, err := NewInOut("out", p.sink)
	if err != nil {
		return err
	}
	defer inputs.Free()

	openIn, openOut, err := p.graph.Parse(p.config.Filters, inputs, outputs)
	if err != nil {
		return err
	}
	// Leftover pads surface as a configure error below.
	openIn.Free()
	openOut.Free()

	return p.graph.Configure()
}

// Graph returns the underlying graph, for Dump or SendCommand.
func (p *Pipeline) Graph() *Graph {
	return p.graph
}

// Process pushes frame and returns every frame the sink has ready. The caller
// keeps ownership of frame and owns the returned frames.
func (p *Pipeline) Process(frame *Frame) ([]*Frame, error) {
	if frame == nil {
		return nil, errors.New("nil frame, use Flush to end the stream")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case PipelineStateStopped:
		return nil, fmt.Errorf("pipeline already flushed")
	case PipelineStateClosed:
		return nil, ErrGraphClosed
	}
	if err := p.source.PushFrame(frame, BufferSrcFlagKeepRef); err != nil {
		p.stats.Errors++
		return nil, err
	}
	p.state = PipelineStateRunning
	p.stats.FramesIn++
	return p.drainLocked(false)
}

// Flush signals end of stream and returns the remaining frames. Once it
// succeeds the pipeline accepts no more input.
func (p *Pipeline) Flush() ([]*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case PipelineStateStopped:
		return nil, nil
	case PipelineStateClosed:
		return nil, ErrGraphClosed
	}

	if err := p.source.PushFrame(nil, 0); err != nil {
		p.stats.Errors++
		return nil, err
	}
	out, err := p.drainLocked(true)
	if err != nil {
		return out, err
	}
	p.state = PipelineStateStopped
	p.log.Debugf("flushed: %d frames in, %d out", p.stats.FramesIn, p.stats.FramesOut)
	return out, nil
}

// drainLocked pulls until the sink needs more input, or until it is
// exhausted when untilEOF is set.
func (p *Pipeline) drainLocked(untilEOF bool) ([]*Frame, error) {
	var out []*Frame
	for {
		frame, err := p.sink.PullFrame()
		switch {
		case err == nil:
			p.stats.FramesOut++
			out = append(out, frame)
		case errors.Is(err, ErrSinkNotReady) && !untilEOF:
			return out, nil
		case errors.Is(err, ErrSinkExhausted):
			// Reached from Process too when a filter ends the stream on
			// its own, for example trim.
			return out, nil
		default:
			p.stats.Errors++
			for _, f := range out {
				f.Free()
			}
			return nil, err
		}
	}
}

// State returns the current pipeline state.
func (p *Pipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close frees the graph. It is safe to call more than once.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == PipelineStateClosed {
		return nil
	}
	p.state = PipelineStateClosed
	return p.graph.Close()
}
