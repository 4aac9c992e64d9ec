package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/audiostream/internal/audio"
	"github.com/dkeye/audiostream/internal/audio/audiotest"
	"github.com/dkeye/audiostream/internal/core"
	"github.com/dkeye/audiostream/internal/domain"
)

const offerText = `{"type":"offer","sdp":"v=0\r\n"}`

func newTestController(t *testing.T, inputs ...domain.DeviceID) (*Controller, *audiotest.Backend, *fakePeerFactory) {
	t.Helper()
	b := audiotest.NewBackend(inputs...)
	f := &fakePeerFactory{}
	c := NewController(Options{
		Backend: b,
		NewPeer: f.New,
		Filter:  DefaultFilterParams(),
	})
	c.Start(context.Background())
	t.Cleanup(c.Close)
	return c, b, f
}

func waitNotification(t *testing.T, ch <-chan core.Notification, typ string) core.Notification {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			require.True(t, ok, "subscription closed")
			if n.Type == typ {
				return n
			}
		case <-timeout:
			t.Fatalf("no %s notification", typ)
		}
	}
}

func TestStartEnumeratesInputsOnly(t *testing.T) {
	b := audiotest.NewBackend("mic1", "mic2")
	b.Inputs = append(b.Inputs, domain.Device{ID: "spk", Kind: domain.KindAudioOutput})
	c := NewController(Options{Backend: b, NewPeer: (&fakePeerFactory{}).New})
	defer c.Close()

	c.Start(context.Background())
	devs := c.Devices()
	require.Len(t, devs, 2)
	assert.Equal(t, domain.DeviceID("mic1"), devs[0].ID)
	assert.Equal(t, domain.DeviceID("mic2"), devs[1].ID)
	assert.Equal(t, "Microphone mic1", devs[0].DisplayName())
	assert.True(t, b.Playback().Started())
}

func TestStartSurvivesEnumerationFailure(t *testing.T) {
	b := audiotest.NewBackend()
	b.DevicesErr = errors.New("boom")
	c := NewController(Options{Backend: b, NewPeer: (&fakePeerFactory{}).New})
	defer c.Close()

	c.Start(context.Background())
	assert.Empty(t, c.Devices())
	require.NoError(t, c.CaptureAudio(context.Background(), ""))
}

func TestCaptureDefaultMonitorsStream(t *testing.T) {
	c, b, _ := newTestController(t)

	require.NoError(t, c.CaptureAudio(context.Background(), ""))
	assert.True(t, c.State().Capturing)
	assert.Same(t, c.capture.Stream(), c.sink.Bound())

	b.LastCapture().Feed(audiotest.Constant(42))
	out := b.Playback().Pull(4)
	assert.Equal(t, []int16{42, 42, 42, 42}, out)
}

func TestCaptureUnknownDeviceKeepsPrevious(t *testing.T) {
	c, b, _ := newTestController(t, "mic1")

	require.NoError(t, c.CaptureAudio(context.Background(), "mic1"))
	prev := c.capture

	err := c.CaptureAudio(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownDevice)
	assert.Same(t, prev, c.capture)
	assert.Same(t, prev.Stream(), c.sink.Bound())
	assert.Equal(t, domain.DeviceID("mic1"), c.State().CaptureDevice)
	assert.Equal(t, 1, b.Captures())
	assert.False(t, b.LastCapture().Stopped())
}

func TestCaptureReplacesPrevious(t *testing.T) {
	c, b, f := newTestController(t, "mic1", "mic2")

	require.NoError(t, c.CaptureAudio(context.Background(), "mic1"))
	first := b.LastCapture()
	require.NoError(t, c.InitializePeer(domain.Initiator))

	require.NoError(t, c.CaptureAudio(context.Background(), "mic2"))
	assert.True(t, first.Stopped())
	assert.Equal(t, domain.DeviceID("mic2"), c.State().CaptureDevice)
	assert.Same(t, c.capture.Stream(), f.last().Local())
}

func TestConnectBeforeInitialize(t *testing.T) {
	c, _, _ := newTestController(t)

	assert.NotPanics(t, func() {
		err := c.ConnectPeers(context.Background(), offerText)
		assert.ErrorIs(t, err, domain.ErrPeerNotInitialized)
	})
}

func TestConnectMalformedLeavesPeerUntouched(t *testing.T) {
	c, _, f := newTestController(t)
	require.NoError(t, c.InitializePeer(domain.Responder))
	before := c.State()

	for _, text := range []string{"", "{", "not json", `{"type":"offer"}`} {
		err := c.ConnectPeers(context.Background(), text)
		assert.ErrorIs(t, err, domain.ErrBadSignal, text)
	}
	assert.Empty(t, f.last().Signals())
	assert.Equal(t, before, c.State())
}

func TestConnectForwardsPayload(t *testing.T) {
	c, _, f := newTestController(t)
	require.NoError(t, c.InitializePeer(domain.Responder))

	require.NoError(t, c.ConnectPeers(context.Background(), offerText))
	signals := f.last().Signals()
	require.Len(t, signals, 1)
	assert.Equal(t, core.SignalOffer, signals[0].Type)
}

func TestInitializeBindsCurrentCapture(t *testing.T) {
	c, _, f := newTestController(t)
	require.NoError(t, c.CaptureAudio(context.Background(), ""))
	require.NoError(t, c.InitializePeer(domain.Initiator))

	p := f.last()
	assert.Equal(t, domain.Initiator, p.Role())
	assert.Same(t, c.capture.Stream(), p.Local())
	assert.Equal(t, "initiator", c.State().Peer.Role)
}

func TestInitializeTwiceIsRejected(t *testing.T) {
	c, _, f := newTestController(t)
	require.NoError(t, c.InitializePeer(domain.Initiator))

	assert.ErrorIs(t, c.InitializePeer(domain.Responder), domain.ErrPeerActive)
	assert.Equal(t, 1, f.count())

	require.NoError(t, c.ClosePeer())
	require.NoError(t, c.InitializePeer(domain.Responder))
	assert.Equal(t, 2, f.count())
	assert.True(t, f.peers[0].IsClosed())
}

func TestClosePeerWithoutPeer(t *testing.T) {
	c, _, _ := newTestController(t)
	assert.ErrorIs(t, c.ClosePeer(), domain.ErrPeerNotInitialized)
}

func TestInitializeFactoryError(t *testing.T) {
	c, _, f := newTestController(t)
	f.err = errors.New("no api")

	assert.Error(t, c.InitializePeer(domain.Initiator))
	assert.Nil(t, c.State().Peer)
}

func TestSignalEventIsPublished(t *testing.T) {
	c, _, f := newTestController(t)
	ch, unsubscribe := c.Subscribe("test")
	defer unsubscribe()

	require.NoError(t, c.InitializePeer(domain.Initiator))
	f.last().emit(core.PeerEvent{Kind: core.EventSignal, Signal: offerText})

	n := waitNotification(t, ch, "signal")
	assert.Equal(t, offerText, n.Data)
	assert.Equal(t, offerText, c.State().LastSignal)
}

func TestRemoteStreamReplacesMonitor(t *testing.T) {
	c, _, f := newTestController(t)
	ch, unsubscribe := c.Subscribe("test")
	defer unsubscribe()

	require.NoError(t, c.CaptureAudio(context.Background(), ""))
	require.NoError(t, c.InitializePeer(domain.Responder))

	remote := audio.NewStream("remote")
	f.last().emit(core.PeerEvent{Kind: core.EventRemoteStream, Stream: remote})
	waitNotification(t, ch, "remote_stream")
	assert.Same(t, remote, c.sink.Bound())
}

func TestPeerErrorIsPublished(t *testing.T) {
	c, _, f := newTestController(t)
	ch, unsubscribe := c.Subscribe("test")
	defer unsubscribe()

	require.NoError(t, c.InitializePeer(domain.Responder))
	f.last().emit(core.PeerEvent{Kind: core.EventError, Err: errors.New("ice failed")})
	n := waitNotification(t, ch, "error")
	assert.Equal(t, "ice failed", n.Error)
	assert.NotNil(t, c.State().Peer)
}

func TestToggleFilterParity(t *testing.T) {
	c, _, _ := newTestController(t)
	require.NoError(t, c.CaptureAudio(context.Background(), ""))

	var graph *audio.Graph
	var lowshelf *audio.BiquadFilterNode
	var gain *audio.GainNode
	for i := 1; i <= 6; i++ {
		enabled, err := c.ToggleFilter()
		require.NoError(t, err)
		if i == 1 {
			graph, lowshelf, gain = c.filter.graph, c.filter.lowshelf, c.filter.gain
		}
		assert.Same(t, graph, c.filter.graph, "toggle %d", i)
		assert.Same(t, lowshelf, c.filter.lowshelf, "toggle %d", i)
		assert.Same(t, gain, c.filter.gain, "toggle %d", i)
		odd := i%2 == 1
		assert.Equal(t, odd, enabled, "toggle %d", i)
		assert.Equal(t, odd, c.filter.connected(), "toggle %d", i)
		assert.Equal(t, odd, c.State().FilterEnabled, "toggle %d", i)
	}
	assert.Equal(t, 0, c.filter.graph.EdgeCount())
}

func TestEnableFilterTwiceDoesNotDoubleConnect(t *testing.T) {
	c, _, _ := newTestController(t)
	require.NoError(t, c.CaptureAudio(context.Background(), ""))

	require.NoError(t, c.EnableFilter())
	require.NoError(t, c.EnableFilter())
	assert.Equal(t, 3, c.filter.graph.EdgeCount())
	assert.Equal(t, 1, c.capture.Stream().TapCount()-1, "one graph source besides the monitor")

	c.DisableFilter()
	c.DisableFilter()
	assert.False(t, c.filter.connected())
}

func TestToggleFilterWithoutCapture(t *testing.T) {
	c, _, _ := newTestController(t)

	enabled, err := c.ToggleFilter()
	assert.ErrorIs(t, err, domain.ErrNoCapture)
	assert.False(t, enabled)
	assert.Nil(t, c.filter.graph)
}

func TestFilterAppliesGain(t *testing.T) {
	c, b, _ := newTestController(t)
	require.NoError(t, c.CaptureAudio(context.Background(), ""))
	require.NoError(t, c.EnableFilter())

	out := c.filter.graph.Destination().Stream().Subscribe("test", 4)
	b.LastCapture().Feed(audiotest.Constant(1000))

	select {
	case f := <-out.C():
		assert.InDelta(t, 750, f[len(f)-1], 2)
	case <-time.After(2 * time.Second):
		t.Fatal("filtered audio did not reach the destination")
	}
}

func TestFilterFollowsNewCapture(t *testing.T) {
	c, _, _ := newTestController(t, "mic1", "mic2")
	require.NoError(t, c.CaptureAudio(context.Background(), "mic1"))
	require.NoError(t, c.EnableFilter())
	lowshelf := c.filter.lowshelf

	require.NoError(t, c.CaptureAudio(context.Background(), "mic2"))
	assert.Same(t, c.capture.Stream(), c.filter.source.Stream())
	assert.True(t, c.filter.connected())
	assert.Same(t, lowshelf, c.filter.lowshelf)
}

func TestCloseReleasesEverything(t *testing.T) {
	b := audiotest.NewBackend()
	f := &fakePeerFactory{}
	c := NewController(Options{Backend: b, NewPeer: f.New, Filter: DefaultFilterParams()})
	c.Start(context.Background())
	ch, _ := c.Subscribe("test")

	require.NoError(t, c.CaptureAudio(context.Background(), ""))
	require.NoError(t, c.InitializePeer(domain.Initiator))
	require.NoError(t, c.EnableFilter())

	c.Close()
	c.Close()

	assert.True(t, f.last().IsClosed())
	assert.True(t, b.LastCapture().Stopped())
	assert.True(t, b.Playback().Stopped())
	assert.True(t, c.filter.graph.Destination().Stream().IsClosed())
	for range ch {
	}

	assert.ErrorIs(t, c.CaptureAudio(context.Background(), ""), domain.ErrClosed)
	assert.ErrorIs(t, c.InitializePeer(domain.Initiator), domain.ErrClosed)
	assert.ErrorIs(t, c.ConnectPeers(context.Background(), offerText), domain.ErrClosed)
	_, err := c.ToggleFilter()
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestClosePeerRestoresMonitor(t *testing.T) {
	c, _, f := newTestController(t)
	ch, unsubscribe := c.Subscribe("test")
	defer unsubscribe()

	require.NoError(t, c.CaptureAudio(context.Background(), ""))
	require.NoError(t, c.InitializePeer(domain.Responder))
	f.last().emit(core.PeerEvent{Kind: core.EventRemoteStream, Stream: audio.NewStream("remote")})
	waitNotification(t, ch, "remote_stream")

	require.NoError(t, c.ClosePeer())
	assert.Same(t, c.capture.Stream(), c.sink.Bound())
	assert.Nil(t, c.State().Peer)
}

func TestCaptureBackendFailureKeepsPrevious(t *testing.T) {
	c, b, _ := newTestController(t, "mic1", "mic2")
	require.NoError(t, c.CaptureAudio(context.Background(), "mic1"))
	prev, prevDev := c.capture, b.LastCapture()

	b.CaptureErr = errors.New("device busy")
	err := c.CaptureAudio(context.Background(), "mic2")
	assert.ErrorContains(t, err, "device busy")
	assert.Same(t, prev, c.capture)
	assert.Same(t, prev.Stream(), c.sink.Bound())
	assert.Equal(t, domain.DeviceID("mic1"), c.State().CaptureDevice)
	assert.False(t, prevDev.Stopped())
	assert.Equal(t, 1, b.Captures())
}

func newInputController(t *testing.T, input domain.DeviceID) (*Controller, *audiotest.Backend) {
	t.Helper()
	b := audiotest.NewBackend("mic1", "mic2")
	c := NewController(Options{
		Backend:     b,
		NewPeer:     (&fakePeerFactory{}).New,
		Filter:      DefaultFilterParams(),
		InputDevice: input,
	})
	c.Start(context.Background())
	t.Cleanup(c.Close)
	return c, b
}

func TestCaptureDefaultUsesConfiguredInput(t *testing.T) {
	c, b := newInputController(t, "mic2")

	require.NoError(t, c.CaptureAudio(context.Background(), ""))
	assert.Equal(t, domain.DeviceID("mic2"), b.LastCapture().ID)
	assert.Equal(t, domain.DeviceID("mic2"), c.State().CaptureDevice)

	// An explicit id still wins.
	require.NoError(t, c.CaptureAudio(context.Background(), "mic1"))
	assert.Equal(t, domain.DeviceID("mic1"), b.LastCapture().ID)
}

func TestCaptureConfiguredInputMissingFallsBack(t *testing.T) {
	c, b := newInputController(t, "unplugged")

	require.NoError(t, c.CaptureAudio(context.Background(), ""))
	assert.Equal(t, domain.DeviceID(""), b.LastCapture().ID)
	assert.True(t, c.State().Capturing)
}
