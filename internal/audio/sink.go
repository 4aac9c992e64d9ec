package audio

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/audiostream/internal/domain"
)

// sinkInput is one stream feeding the sink.
type sinkInput struct {
	stream  *Stream
	tap     *Tap
	pending Frame
}

// fill adds up to len(acc) buffered samples into acc without blocking.
func (in *sinkInput) fill(acc []int32) {
	var n int
	for n < len(acc) {
		if len(in.pending) == 0 {
			select {
			case f, ok := <-in.tap.C():
				if !ok {
					return
				}
				in.pending = f
			default:
				return
			}
		}
		c := min(len(acc)-n, len(in.pending))
		for i := 0; i < c; i++ {
			acc[n+i] += int32(in.pending[i])
		}
		in.pending = in.pending[c:]
		n += c
	}
}

// Sink is the playback element: a single bound stream (the monitored or
// remote audio) mixed with any number of auxiliary outputs such as a graph
// destination.
type Sink struct {
	mu    sync.Mutex
	bound *sinkInput
	aux   []*sinkInput
	acc   []int32

	dev Handle
}

func NewSink() *Sink {
	return &Sink{}
}

// Bind replaces the bound stream. A nil stream unbinds.
func (s *Sink) Bind(st *Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != nil {
		s.bound.stream.Unsubscribe(s.bound.tap)
		s.bound = nil
	}
	if st == nil {
		return
	}
	s.bound = &sinkInput{stream: st, tap: st.Subscribe("sink", 0)}
	log.Debug().Str("module", "audio.sink").Str("stream", st.ID()).Msg("bound stream")
}

// Bound returns the currently bound stream or nil.
func (s *Sink) Bound() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound == nil {
		return nil
	}
	return s.bound.stream
}

// Attach adds st as an auxiliary output mixed on top of the bound stream.
func (s *Sink) Attach(st *Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aux = append(s.aux, &sinkInput{stream: st, tap: st.Subscribe("sink-aux", 0)})
}

// Mix fills out with the sum of all inputs. Missing samples are silence.
func (s *Sink) Mix(out []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cap(s.acc) < len(out) {
		s.acc = make([]int32, len(out))
	}
	acc := s.acc[:len(out)]
	clear(acc)

	if s.bound != nil {
		s.bound.fill(acc)
	}
	for _, in := range s.aux {
		in.fill(acc)
	}
	for i, v := range acc {
		out[i] = clamp16(v)
	}
}

// Start opens the playback device and begins pulling from Mix.
func (s *Sink) Start(b Backend, id domain.DeviceID) error {
	var samples []int16
	var raw []byte
	onSendFrames := func(out, _ []byte, framecount uint32) {
		n := int(framecount) * Channels
		if cap(samples) < n {
			samples = make([]int16, n)
		}
		samples = samples[:n]
		s.Mix(samples)
		raw = leS16SliceToBytes(samples, raw[:0])
		copy(out, raw)
	}

	dev, err := b.InitPlayback(id, onSendFrames)
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("start playback device: %w", err)
	}

	s.mu.Lock()
	s.dev = dev
	s.mu.Unlock()
	log.Info().Str("module", "audio.sink").Str("backend", b.Name()).Msg("playback started")
	return nil
}

// Close stops playback and detaches all inputs.
func (s *Sink) Close() {
	s.mu.Lock()
	dev := s.dev
	s.dev = nil
	if s.bound != nil {
		s.bound.stream.Unsubscribe(s.bound.tap)
		s.bound = nil
	}
	for _, in := range s.aux {
		in.stream.Unsubscribe(in.tap)
	}
	s.aux = nil
	s.mu.Unlock()

	if dev != nil {
		if err := dev.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "audio.sink").Msg("stop playback device")
		}
		dev.Uninit()
	}
}
