package audio

import (
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrGraphClosed = errors.New("audio graph closed")

// Node is a processing step in a Graph.
type Node interface {
	// process transforms one frame. A nil result stops propagation.
	process(in Frame) Frame
	graph() *Graph
}

// Graph is an audio processing context: nodes joined by directed edges that
// carry frames from sources to the destination. Edges form a set, so
// connecting the same pair twice has no effect.
type Graph struct {
	// procMu serializes frame propagation; filter state is not reentrant.
	procMu sync.Mutex

	mu      sync.RWMutex
	edges   map[Node][]Node
	sources []*SourceNode
	dest    *DestinationNode
	closed  bool
	wg      sync.WaitGroup
}

// NewGraph creates a context with a destination writing to a fresh stream.
func NewGraph() *Graph {
	g := &Graph{edges: make(map[Node][]Node)}
	g.dest = &DestinationNode{g: g, out: NewStream("graph-destination")}
	return g
}

// Destination is the terminal node of the graph.
func (g *Graph) Destination() *DestinationNode { return g.dest }

// Connect adds the edge from → to. It reports whether the edge was new.
func (g *Graph) Connect(from, to Node) bool {
	if from.graph() != g || to.graph() != g {
		panic("audio: connecting nodes from different graphs")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || slices.Contains(g.edges[from], to) {
		return false
	}
	g.edges[from] = append(g.edges[from], to)
	return true
}

// Disconnect removes every outgoing edge of n.
func (g *Graph) Disconnect(n Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, n)
}

// Connected reports whether the edge from → to exists.
func (g *Graph) Connected(from, to Node) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Contains(g.edges[from], to)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var n int
	for _, outs := range g.edges {
		n += len(outs)
	}
	return n
}

func (g *Graph) outputs(n Node) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.edges[n])
}

// render pushes f from n through every reachable node.
func (g *Graph) render(n Node, f Frame) {
	for _, to := range g.outputs(n) {
		if out := to.process(f); out != nil {
			g.render(to, out)
		}
	}
}

// CreateGain returns a node scaling samples by gain.
func (g *Graph) CreateGain(gain float64) *GainNode {
	return &GainNode{g: g, gain: gain}
}

// CreateLowshelfFilter returns a filter boosting or cutting everything below
// freq by gainDB.
func (g *Graph) CreateLowshelfFilter(freq, gainDB float64) *BiquadFilterNode {
	n := &BiquadFilterNode{g: g, typ: Lowshelf, freq: freq, gainDB: gainDB}
	n.bq.setLowshelf(freq, gainDB)
	return n
}

// CreateMediaStreamSource returns a node emitting the frames of s. The node
// reads s until it is stopped, the stream closes or the graph closes.
func (g *Graph) CreateMediaStreamSource(s *Stream) (*SourceNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrGraphClosed
	}
	src := &SourceNode{g: g, stream: s, tap: s.Subscribe("graph-source", 0)}
	g.sources = append(g.sources, src)
	g.wg.Add(1)
	go src.run()
	return src, nil
}

// Close stops all sources and the destination stream.
func (g *Graph) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	sources := g.sources
	g.sources = nil
	clear(g.edges)
	g.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
	g.wg.Wait()
	g.dest.out.Close()
	log.Debug().Str("module", "audio.graph").Msg("graph closed")
}

// SourceNode feeds a stream into the graph.
type SourceNode struct {
	g      *Graph
	stream *Stream
	tap    *Tap
}

func (n *SourceNode) graph() *Graph         { return n.g }
func (n *SourceNode) process(f Frame) Frame { return f }

// Stream returns the stream feeding this node.
func (n *SourceNode) Stream() *Stream { return n.stream }

// Stop detaches the node from its stream and removes its edges.
func (n *SourceNode) Stop() {
	n.stream.Unsubscribe(n.tap)
	n.g.Disconnect(n)
}

func (n *SourceNode) run() {
	defer n.g.wg.Done()
	for f := range n.tap.C() {
		n.g.procMu.Lock()
		n.g.render(n, f)
		n.g.procMu.Unlock()
	}
}

// GainNode multiplies every sample by a constant.
type GainNode struct {
	g    *Graph
	gain float64
}

func (n *GainNode) graph() *Graph { return n.g }

func (n *GainNode) Gain() float64 { return n.gain }

func (n *GainNode) process(in Frame) Frame {
	out := make(Frame, len(in))
	for i, s := range in {
		out[i] = clampRound16(float64(s) * n.gain)
	}
	return out
}

// BiquadFilterNode applies a second order filter.
type BiquadFilterNode struct {
	g      *Graph
	typ    FilterType
	freq   float64
	gainDB float64
	bq     biquad
}

func (n *BiquadFilterNode) graph() *Graph { return n.g }

func (n *BiquadFilterNode) Type() FilterType { return n.typ }

func (n *BiquadFilterNode) Frequency() float64 { return n.freq }

func (n *BiquadFilterNode) GainDB() float64 { return n.gainDB }

func (n *BiquadFilterNode) process(in Frame) Frame {
	out := make(Frame, len(in))
	n.bq.process(in, out)
	return out
}

// DestinationNode is the graph output.
type DestinationNode struct {
	g   *Graph
	out *Stream
}

func (n *DestinationNode) graph() *Graph { return n.g }

// Stream carries everything that reaches the destination.
func (n *DestinationNode) Stream() *Stream { return n.out }

func (n *DestinationNode) process(f Frame) Frame {
	n.out.Write(f)
	return nil
}
