package core

import (
	"context"

	"github.com/dkeye/audiostream/internal/audio"
	"github.com/dkeye/audiostream/internal/domain"
)

type PeerEventKind int

const (
	// EventSignal carries a serialized local signaling payload ready to be
	// handed to the remote side.
	EventSignal PeerEventKind = iota
	// EventRemoteStream carries the decoded audio of the remote peer.
	EventRemoteStream
	// EventState reports a connection state change.
	EventState
	// EventError reports a runtime failure. The session stays usable.
	EventError
)

func (k PeerEventKind) String() string {
	switch k {
	case EventSignal:
		return "signal"
	case EventRemoteStream:
		return "remote_stream"
	case EventState:
		return "state"
	case EventError:
		return "error"
	}
	return "unknown"
}

// PeerEvent is a typed notification from a PeerSession.
type PeerEvent struct {
	Kind   PeerEventKind
	Signal string
	Stream *audio.Stream
	State  string
	Err    error
}

type PeerSession interface {
	ID() string
	Role() domain.Role
	// Events delivers notifications to a single consumer. It is closed once
	// the session is closed.
	Events() <-chan PeerEvent
	// Signal feeds a payload produced by the remote side into negotiation.
	Signal(ctx context.Context, p SignalPayload) error
	// SetLocal replaces the audio sent to the remote side. nil sends silence.
	SetLocal(s *audio.Stream)
	// Close releases the underlying connection.
	Close()
	IsClosed() bool
}

// PeerOptions configure a new PeerSession.
type PeerOptions struct {
	Role  domain.Role
	Local *audio.Stream
}

// PeerFactory creates peer sessions.
type PeerFactory func(ctx context.Context, opts PeerOptions) (PeerSession, error)
