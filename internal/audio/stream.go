package audio

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type TapState int32

const (
	TapStateOk TapState = iota
	TapStateDelete
)

// defaultTapDepth is how many frames a tap buffers before dropping.
const defaultTapDepth = 16

// Tap is a single subscriber of a Stream.
type Tap struct {
	name  string
	c     chan Frame
	state atomic.Int32 // Zero by default (TapStateOk)
}

// C delivers frames written to the stream. It is closed when the tap is
// removed or the stream is closed.
func (t *Tap) C() <-chan Frame { return t.c }

func (t *Tap) Name() string { return t.name }

func (t *Tap) GetState() TapState { return TapState(t.state.Load()) }

// MarkDelete detaches the tap. The channel is closed on the next write or
// when the stream closes.
func (t *Tap) MarkDelete() { t.state.Store(int32(TapStateDelete)) }

// Stream fans frames out from a single producer to any number of taps.
// Writers never block: a tap whose buffer is full misses the frame.
type Stream struct {
	id string

	mu     sync.RWMutex
	taps   map[*Tap]struct{}
	closed bool

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewStream creates a stream. An empty id is replaced with a random one.
func NewStream(id string) *Stream {
	if id == "" {
		id = uuid.NewString()
	}
	return &Stream{
		id:   id,
		taps: make(map[*Tap]struct{}),
	}
}

func (s *Stream) ID() string { return s.id }

// Subscribe adds a tap buffering up to depth frames. Subscribing to a closed
// stream returns an already closed tap.
func (s *Stream) Subscribe(name string, depth int) *Tap {
	if depth <= 0 {
		depth = defaultTapDepth
	}
	t := &Tap{name: name, c: make(chan Frame, depth)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		t.MarkDelete()
		close(t.c)
		return t
	}
	s.taps[t] = struct{}{}
	return t
}

// Unsubscribe removes t and closes its channel.
func (s *Stream) Unsubscribe(t *Tap) {
	if t == nil {
		return
	}
	t.MarkDelete()
	s.cleanupDeleted([]*Tap{t})
}

// Write delivers f to every live tap and reports how many received it.
func (s *Stream) Write(f Frame) int {
	s.written.Add(1)

	var sent int
	var dirty []*Tap
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0
	}
	for t := range s.taps {
		if t.GetState() == TapStateDelete {
			dirty = append(dirty, t)
			continue
		}
		select {
		case t.c <- f:
			sent++
		default:
			s.dropped.Add(1)
		}
	}
	s.mu.RUnlock()

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		s.cleanupDeleted(dirty)
	}
	return sent
}

func (s *Stream) cleanupDeleted(dirty []*Tap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range dirty {
		if _, ok := s.taps[t]; !ok {
			continue
		}
		delete(s.taps, t)
		close(t.c)
	}
}

// TapCount returns the number of live taps.
func (s *Stream) TapCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for t := range s.taps {
		if t.GetState() == TapStateOk {
			n++
		}
	}
	return n
}

// Stats returns the number of frames written and the number of per-tap
// deliveries dropped because of backpressure.
func (s *Stream) Stats() (written, dropped uint64) {
	return s.written.Load(), s.dropped.Load()
}

// Close closes every tap. Further writes are discarded.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for t := range s.taps {
		t.MarkDelete()
		close(t.c)
	}
	clear(s.taps)
}

func (s *Stream) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
