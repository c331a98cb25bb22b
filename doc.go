// Package filtergraph is a memory-safe wrapper over FFmpeg's libavfilter
// filter graph, loaded at runtime without cgo.
//
// Key pieces include:
//   - Filter: a registered filter kind, looked up by name
//   - Graph: a filter graph that owns every filter instance created in it
//   - FilterContext: a filter instance, used to set options, push frames into
//     buffer sources and pull frames from buffer sinks
//   - InOut: lists of open pads passed to and returned from Graph.Parse
//   - Frame: an AVFrame, with conversion to and from Go-memory VideoFrame
//   - Pipeline: a single-input, single-output chain built from a TOML
//     PipelineConfig
//
// # Ownership
//
// A Graph is the only owner of its filters and links; Graph.Close frees them
// and every FilterContext reports ErrGraphClosed afterwards. InOut and Frame
// values are freed by their holder. Calls that hand memory to the engine
// (Graph.Parse on success, InOut.Append) leave the argument empty, so a
// deferred Free is always safe and never frees twice.
//
// # Typical use
//
//	graph, _ := filtergraph.NewGraph()
//	defer graph.Close()
//	src, _ := graph.CreateFilter(buffer, "in", "video_size=320x240:pix_fmt=yuv420p:time_base=1/30")
//	sink, _ := graph.CreateFilter(buffersink, "out", "")
//	outputs, _ := filtergraph.NewInOut("in", src)
//	defer outputs.Free()
//	inputs, _ := filtergraph.NewInOut("out", sink)
//	defer inputs.Free()
//	graph.Parse("scale=160:120", inputs, outputs)
//	graph.Configure()
//
// # Native Libraries
//
// libavfilter and libavutil are loaded with purego on first use. Set
// FILTERGRAPH_LIB_PATH (or FFMPEG_LIB_PATH) to the directory containing them;
// otherwise the executable's directory, the module's build/ directory and the
// system library paths are searched. Available reports whether loading
// succeeded.
package filtergraph
