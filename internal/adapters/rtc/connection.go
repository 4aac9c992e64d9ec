package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/audiostream/internal/audio"
	"github.com/dkeye/audiostream/internal/core"
	"github.com/dkeye/audiostream/internal/domain"
)

// maxPacketSize bounds a single encoded frame.
const maxPacketSize = 4000

// eventBuffer is the depth of the notification channel.
const eventBuffer = 16

// Config holds what every peer of a process shares.
type Config struct {
	ICEServers      []string
	IncludeLoopback bool
	DisableMDNS     bool
	// GatherTimeout bounds ICE gathering before a payload is emitted. Zero
	// waits until gathering completes or the peer is closed.
	GatherTimeout time.Duration
	Bitrate       int
	Codecs        audio.CodecFactory
}

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: iceServers,
			},
		},
	}
}

// Factory returns a core.PeerFactory creating pion backed peers.
func Factory(cfg Config) core.PeerFactory {
	return func(ctx context.Context, opts core.PeerOptions) (core.PeerSession, error) {
		return NewPeer(ctx, cfg, opts)
	}
}

func newAPI(cfg Config) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: opusCapability,
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio)
	if err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: loggerFactory{}}
	if cfg.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	if cfg.DisableMDNS {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)), nil
}

var opusCapability = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   audio.SampleRate,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

// Peer is one side of a negotiated audio call. Negotiation is non-trickle:
// a payload is only emitted once ICE gathering completed, so a single
// copy/paste per direction is enough.
type Peer struct {
	id     string
	role   domain.Role
	cfg    Config
	pc     *webrtc.PeerConnection
	track  *webrtc.TrackLocalStaticSample
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	encMu sync.Mutex
	enc   audio.Encoder

	mu          sync.Mutex
	closed      bool
	localStream *audio.Stream
	localTap    *audio.Tap

	emitMu       sync.RWMutex
	eventsClosed bool
	events       chan core.PeerEvent
}

var _ core.PeerSession = (*Peer)(nil)

// NewPeer creates the connection and, for an initiator, starts producing the
// offer in the background. The offer arrives as an EventSignal.
func NewPeer(ctx context.Context, cfg Config, opts core.PeerOptions) (*Peer, error) {
	if cfg.Codecs == nil {
		return nil, errors.New("rtc: no codec factory")
	}
	enc, err := cfg.Codecs.NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("new encoder: %w", err)
	}
	if cfg.Bitrate > 0 {
		enc.SetBitrate(cfg.Bitrate)
	}

	api, err := newAPI(cfg)
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(DefaultWebRTCConfig(cfg.ICEServers))
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(opusCapability, "audio", "audiostream-"+id)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	peerCtx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		id:     id,
		role:   opts.Role,
		cfg:    cfg,
		pc:     pc,
		track:  track,
		enc:    enc,
		ctx:    peerCtx,
		cancel: cancel,
		events: make(chan core.PeerEvent, eventBuffer),
	}
	p.logger = log.With().
		Str("module", "webrtc").
		Str("peer", id).
		Str("role", opts.Role.String()).
		Logger()

	// Drain RTCP so interceptors keep working.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	p.start()
	p.SetLocal(opts.Local)

	if opts.Role.IsInitiator() {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.offer(ctx); err != nil {
				p.logger.Error().Err(err).Msg("create offer")
				p.emit(core.PeerEvent{Kind: core.EventError, Err: err})
			}
		}()
	}

	p.logger.Info().Msg("peer initialized")
	return p, nil
}

func (p *Peer) start() {
	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		p.emit(core.PeerEvent{Kind: core.EventState, State: s.String()})
		if s == webrtc.PeerConnectionStateFailed {
			p.emit(core.PeerEvent{Kind: core.EventError, Err: errors.New("peer connection failed")})
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		p.onRemoteTrack(track)
	})
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) Role() domain.Role { return p.role }

func (p *Peer) Events() <-chan core.PeerEvent { return p.events }

func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) emit(ev core.PeerEvent) {
	p.emitMu.RLock()
	defer p.emitMu.RUnlock()
	if p.eventsClosed {
		return
	}
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}

// gatherCtx bounds ICE gathering by the caller, the peer lifetime and the
// configured timeout.
func (p *Peer) gatherCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	if p.cfg.GatherTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, p.cfg.GatherTimeout)
		return ctx, func() { cancelTimeout(); stop(); cancel() }
	}
	return ctx, func() { stop(); cancel() }
}

// setLocalAndGather applies desc and waits for the complete local description.
func (p *Peer) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	ctx, cancel := p.gatherCtx(ctx)
	defer cancel()

	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return "", err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", fmt.Errorf("ice gathering: %w", ctx.Err())
	}

	local := p.pc.LocalDescription()
	return core.SignalPayload{Type: local.Type.String(), SDP: local.SDP}.Encode()
}

func (p *Peer) offer(ctx context.Context) error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	text, err := p.setLocalAndGather(ctx, offer)
	if err != nil {
		return err
	}
	p.emit(core.PeerEvent{Kind: core.EventSignal, Signal: text})
	return nil
}

// Signal applies a remote payload. Offers are answered; the answer arrives
// as an EventSignal.
func (p *Peer) Signal(ctx context.Context, sp core.SignalPayload) error {
	if p.IsClosed() {
		return domain.ErrPeerClosed
	}
	switch sp.Type {
	case core.SignalOffer:
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sp.SDP}); err != nil {
			return fmt.Errorf("apply offer: %w", err)
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		text, err := p.setLocalAndGather(ctx, answer)
		if err != nil {
			return err
		}
		p.emit(core.PeerEvent{Kind: core.EventSignal, Signal: text})
	case core.SignalAnswer:
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sp.SDP}); err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}
	case core.SignalCandidate:
		ci := webrtc.ICECandidateInit{
			Candidate:     sp.Candidate.Candidate,
			SDPMid:        sp.Candidate.SDPMid,
			SDPMLineIndex: sp.Candidate.SDPMLineIndex,
		}
		if err := p.pc.AddICECandidate(ci); err != nil {
			return fmt.Errorf("add ice candidate: %w", err)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", domain.ErrBadSignal, sp.Type)
	}
	p.logger.Info().Str("type", sp.Type).Msg("applied remote signal")
	return nil
}

// SetLocal replaces the audio sent to the remote side.
func (p *Peer) SetLocal(s *audio.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.localTap != nil {
		p.localStream.Unsubscribe(p.localTap)
	}
	p.localStream, p.localTap = s, nil
	if s == nil {
		return
	}
	tap := s.Subscribe("peer-"+p.id, 0)
	p.localTap = tap
	p.wg.Add(1)
	go p.sendLoop(tap)
	p.logger.Info().Str("stream", s.ID()).Msg("local stream attached")
}

func (p *Peer) sendLoop(tap *audio.Tap) {
	defer p.wg.Done()
	out := make([]byte, maxPacketSize)
	for f := range tap.C() {
		p.encMu.Lock()
		pkt, err := p.enc.Encode(f, len(f), out)
		var data []byte
		if err == nil {
			data = append([]byte(nil), pkt...)
		}
		p.encMu.Unlock()
		if err != nil {
			p.logger.Warn().Err(err).Msg("encode frame")
			continue
		}

		sample := media.Sample{
			Data:     data,
			Duration: time.Duration(len(f)/audio.Channels) * time.Second / audio.SampleRate,
		}
		if err := p.track.WriteSample(sample); err != nil {
			p.logger.Debug().Err(err).Msg("write sample")
		}
	}
}

// Close tears the connection down and closes Events once every background
// goroutine has stopped.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	tap, stream := p.localTap, p.localStream
	p.localTap, p.localStream = nil, nil
	p.mu.Unlock()

	p.cancel()
	if tap != nil {
		stream.Unsubscribe(tap)
	}
	if err := p.pc.Close(); err != nil {
		p.logger.Error().Err(err).Msg("close error")
	} else {
		p.logger.Info().Msg("closed")
	}
	p.wg.Wait()

	p.emitMu.Lock()
	p.eventsClosed = true
	close(p.events)
	p.emitMu.Unlock()
}
