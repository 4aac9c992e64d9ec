package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/audiostream/internal/audio"
	"github.com/dkeye/audiostream/internal/audio/audiotest"
	"github.com/dkeye/audiostream/internal/core"
	"github.com/dkeye/audiostream/internal/domain"
)

const negotiateTimeout = 20 * time.Second

func testConfig() Config {
	return Config{
		IncludeLoopback: true,
		DisableMDNS:     true,
		GatherTimeout:   negotiateTimeout,
		Codecs:          audiotest.NewBackend(),
	}
}

// nextEvent waits for the next event of the given kind, skipping others.
func nextEvent(t *testing.T, p *Peer, kind core.PeerEventKind) core.PeerEvent {
	t.Helper()
	timeout := time.After(negotiateTimeout)
	for {
		select {
		case ev, ok := <-p.Events():
			require.True(t, ok, "events closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func TestInitiatorEmitsOffer(t *testing.T) {
	p, err := NewPeer(context.Background(), testConfig(), core.PeerOptions{Role: domain.Initiator})
	require.NoError(t, err)
	defer p.Close()

	ev := nextEvent(t, p, core.EventSignal)
	require.NotEmpty(t, ev.Signal)

	payload, err := core.ParseSignal(ev.Signal)
	require.NoError(t, err)
	assert.Equal(t, core.SignalOffer, payload.Type)
	assert.Contains(t, payload.SDP, "opus")
	assert.Equal(t, domain.Initiator, p.Role())
}

func TestResponderStaysQuiet(t *testing.T) {
	p, err := NewPeer(context.Background(), testConfig(), core.PeerOptions{Role: domain.Responder})
	require.NoError(t, err)
	defer p.Close()

	select {
	case ev := <-p.Events():
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPeerCloseClosesEvents(t *testing.T) {
	p, err := NewPeer(context.Background(), testConfig(), core.PeerOptions{Role: domain.Responder})
	require.NoError(t, err)

	p.Close()
	p.Close()
	assert.True(t, p.IsClosed())

	for range p.Events() {
	}
	err = p.Signal(context.Background(), core.SignalPayload{Type: core.SignalAnswer, SDP: "v=0"})
	assert.ErrorIs(t, err, domain.ErrPeerClosed)
}

func TestSignalRejectsGarbageSDP(t *testing.T) {
	p, err := NewPeer(context.Background(), testConfig(), core.PeerOptions{Role: domain.Responder})
	require.NoError(t, err)
	defer p.Close()

	err = p.Signal(context.Background(), core.SignalPayload{Type: core.SignalOffer, SDP: "not sdp"})
	assert.Error(t, err)
}

func TestOfferAnswerCarriesAudio(t *testing.T) {
	local := audio.NewStream("local")
	initiator, err := NewPeer(context.Background(), testConfig(), core.PeerOptions{Role: domain.Initiator, Local: local})
	require.NoError(t, err)
	defer initiator.Close()

	responder, err := NewPeer(context.Background(), testConfig(), core.PeerOptions{Role: domain.Responder})
	require.NoError(t, err)
	defer responder.Close()

	offer, err := core.ParseSignal(nextEvent(t, initiator, core.EventSignal).Signal)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), negotiateTimeout)
	defer cancel()
	require.NoError(t, responder.Signal(ctx, offer))

	answer, err := core.ParseSignal(nextEvent(t, responder, core.EventSignal).Signal)
	require.NoError(t, err)
	assert.Equal(t, core.SignalAnswer, answer.Type)
	require.NoError(t, initiator.Signal(ctx, answer))

	// Small frames keep the fake codec's packets under the receive MTU.
	frame := make(audio.Frame, 160)
	for i := range frame {
		frame[i] = 1234
	}

	// Keep feeding audio until the remote side reports a stream.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(audio.PeriodMS * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				local.Write(frame)
			}
		}
	}()

	ev := nextEvent(t, responder, core.EventRemoteStream)
	require.NotNil(t, ev.Stream)
	tap := ev.Stream.Subscribe("test", 8)
	select {
	case f := <-tap.C():
		require.NotEmpty(t, f)
		assert.Equal(t, int16(1234), f[0])
	case <-time.After(negotiateTimeout):
		t.Fatal("no remote audio")
	}
}
