package app

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dkeye/audiostream/internal/audio"
	"github.com/dkeye/audiostream/internal/core"
	"github.com/dkeye/audiostream/internal/domain"
)

// fakePeer is a PeerSession driven by the test.
type fakePeer struct {
	id     string
	role   domain.Role
	events chan core.PeerEvent

	mu      sync.Mutex
	local   *audio.Stream
	signals []core.SignalPayload
	closed  bool
}

func (p *fakePeer) ID() string                    { return p.id }
func (p *fakePeer) Role() domain.Role             { return p.role }
func (p *fakePeer) Events() <-chan core.PeerEvent { return p.events }

func (p *fakePeer) Signal(_ context.Context, sp core.SignalPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrPeerClosed
	}
	p.signals = append(p.signals, sp)
	return nil
}

func (p *fakePeer) Signals() []core.SignalPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.SignalPayload(nil), p.signals...)
}

func (p *fakePeer) SetLocal(s *audio.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = s
}

func (p *fakePeer) Local() *audio.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.events)
}

func (p *fakePeer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// emit pushes an event as the peer library would.
func (p *fakePeer) emit(ev core.PeerEvent) { p.events <- ev }

type fakePeerFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error
}

func (f *fakePeerFactory) New(_ context.Context, opts core.PeerOptions) (core.PeerSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{
		id:     uuid.NewString(),
		role:   opts.Role,
		local:  opts.Local,
		events: make(chan core.PeerEvent, 8),
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakePeerFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func (f *fakePeerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}
