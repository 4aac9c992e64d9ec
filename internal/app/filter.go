package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/audiostream/internal/audio"
)

type FilterParams struct {
	Frequency   float64
	Gain        float64
	ShelfGainDB float64
}

func DefaultFilterParams() FilterParams {
	return FilterParams{Frequency: 200, Gain: 0.75}
}

// filterChain is source → lowshelf → gain → destination. The graph and its
// effect nodes are built once; afterwards only edges change.
type filterChain struct {
	params FilterParams

	graph    *audio.Graph
	lowshelf *audio.BiquadFilterNode
	gain     *audio.GainNode
	source   *audio.SourceNode
	enabled  bool
}

// build lazily creates the graph and attaches its output to sink.
func (f *filterChain) build(sink *audio.Sink) {
	if f.graph != nil {
		return
	}
	f.graph = audio.NewGraph()
	f.lowshelf = f.graph.CreateLowshelfFilter(f.params.Frequency, f.params.ShelfGainDB)
	f.gain = f.graph.CreateGain(f.params.Gain)
	sink.Attach(f.graph.Destination().Stream())
	log.Info().
		Str("module", "app.filter").
		Float64("frequency", f.params.Frequency).
		Float64("gain", f.params.Gain).
		Msg("filter chain built")
}

// connect wires s through the chain, replacing a source bound to another
// stream.
func (f *filterChain) connect(s *audio.Stream) error {
	if f.source != nil && f.source.Stream() != s {
		f.source.Stop()
		f.source = nil
	}
	if f.source == nil {
		src, err := f.graph.CreateMediaStreamSource(s)
		if err != nil {
			return err
		}
		f.source = src
	}
	f.graph.Connect(f.source, f.lowshelf)
	f.graph.Connect(f.lowshelf, f.gain)
	f.graph.Connect(f.gain, f.graph.Destination())
	f.enabled = true
	return nil
}

func (f *filterChain) disconnect() {
	if f.graph == nil {
		return
	}
	f.graph.Disconnect(f.gain)
	f.graph.Disconnect(f.lowshelf)
	if f.source != nil {
		f.graph.Disconnect(f.source)
	}
	f.enabled = false
}

// connected reports whether audio reaches the destination through the chain.
func (f *filterChain) connected() bool {
	return f.graph != nil && f.source != nil &&
		f.graph.Connected(f.source, f.lowshelf) &&
		f.graph.Connected(f.lowshelf, f.gain) &&
		f.graph.Connected(f.gain, f.graph.Destination())
}

func (f *filterChain) close() {
	if f.graph != nil {
		f.graph.Close()
	}
	f.source = nil
	f.enabled = false
}
