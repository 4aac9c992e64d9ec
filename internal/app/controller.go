package app

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/audiostream/internal/audio"
	"github.com/dkeye/audiostream/internal/core"
	"github.com/dkeye/audiostream/internal/domain"
)

type Options struct {
	Backend      audio.Backend
	NewPeer      core.PeerFactory
	Filter       FilterParams
	InputDevice  domain.DeviceID
	OutputDevice domain.DeviceID
	Policy       Policy
}

// Controller owns the whole session: the capture, the peer and the filter
// chain. Every state change goes through one of its methods.
type Controller struct {
	backend audio.Backend
	newPeer core.PeerFactory
	input   domain.DeviceID
	output  domain.DeviceID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	hub    *Hub
	sink   *audio.Sink

	mu         sync.Mutex
	closed     bool
	devices    []domain.Device
	capture    *audio.Capture
	peer       core.PeerSession
	lastSignal string
	filter     filterChain
}

func NewController(opts Options) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend: opts.Backend,
		newPeer: opts.NewPeer,
		input:   opts.InputDevice,
		output:  opts.OutputDevice,
		ctx:     ctx,
		cancel:  cancel,
		hub:     NewHub(opts.Policy),
		sink:    audio.NewSink(),
		filter:  filterChain{params: opts.Filter},
	}
}

// Start opens the playback device and enumerates input devices once.
// Neither failure is fatal: they are logged and the session stays usable.
func (c *Controller) Start(ctx context.Context) {
	if err := c.sink.Start(c.backend, c.output); err != nil {
		log.Error().Err(err).Str("module", "app.controller").Msg("playback unavailable")
	}
	if _, err := c.EnumerateDevices(ctx); err != nil {
		log.Error().Err(err).Str("module", "app.controller").Msg("device enumeration failed")
	}
}

// EnumerateDevices queries the platform for audio inputs and caches them.
func (c *Controller) EnumerateDevices(ctx context.Context) ([]domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devs, err := c.backend.Devices(domain.KindAudioInput)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	devs = domain.FilterKind(devs, domain.KindAudioInput)

	c.mu.Lock()
	c.devices = devs
	c.mu.Unlock()
	log.Info().Str("module", "app.controller").Int("count", len(devs)).Msg("audio inputs enumerated")
	return slices.Clone(devs), nil
}

// Devices returns the inputs found by the last enumeration.
func (c *Controller) Devices() []domain.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.devices)
}

func (c *Controller) knownDevice(id domain.DeviceID) bool {
	return slices.ContainsFunc(c.devices, func(d domain.Device) bool { return d.ID == id })
}

// CaptureAudio starts capturing from id and monitors it on the playback sink.
// An empty id selects the configured input, or the platform default when none
// is configured or it is not present. On failure the previous capture stays
// in place.
func (c *Controller) CaptureAudio(ctx context.Context, id domain.DeviceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrClosed
	}

	if id == "" && c.input != "" {
		if c.knownDevice(c.input) {
			id = c.input
		} else {
			log.Warn().Str("module", "app.controller").Str("device", string(c.input)).Msg("configured input not found, using default")
		}
	}
	if id != "" && !c.knownDevice(id) {
		err := fmt.Errorf("%w: %s", domain.ErrUnknownDevice, id)
		log.Error().Err(err).Str("module", "app.controller").Msg("error accessing audio stream")
		return err
	}

	capture, err := audio.StartCapture(ctx, c.backend, id)
	if err != nil {
		log.Error().Err(err).Str("module", "app.controller").Str("device", string(id)).Msg("error accessing audio stream")
		return err
	}

	old := c.capture
	c.capture = capture
	stream := capture.Stream()
	c.sink.Bind(stream)
	if c.peer != nil {
		c.peer.SetLocal(stream)
	}
	if c.filter.enabled {
		if err := c.filter.connect(stream); err != nil {
			log.Error().Err(err).Str("module", "app.controller").Msg("re-point filter")
		}
	}
	if old != nil {
		old.Close()
	}
	log.Info().Str("module", "app.controller").Str("device", string(id)).Str("stream", stream.ID()).Msg("audio captured")
	return nil
}

// InitializePeer creates the peer session in the given role. Initializing
// while a session is active is rejected; ClosePeer first.
func (c *Controller) InitializePeer(role domain.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrClosed
	}
	log.Info().Str("module", "app.controller").Bool("initiator", role.IsInitiator()).Msg("initializing peer")

	if c.peer != nil && !c.peer.IsClosed() {
		log.Warn().Str("module", "app.controller").Str("peer", c.peer.ID()).Msg("peer already active")
		return domain.ErrPeerActive
	}

	var local *audio.Stream
	if c.capture != nil {
		local = c.capture.Stream()
	}
	p, err := c.newPeer(c.ctx, core.PeerOptions{Role: role, Local: local})
	if err != nil {
		log.Error().Err(err).Str("module", "app.controller").Msg("create peer")
		return err
	}
	c.peer = p
	c.lastSignal = ""

	c.wg.Add(1)
	go c.consume(p)
	return nil
}

// consume is the single reader of a peer's notifications.
func (c *Controller) consume(p core.PeerSession) {
	defer c.wg.Done()
	logger := log.With().Str("module", "app.controller").Str("peer", p.ID()).Logger()

	for ev := range p.Events() {
		switch ev.Kind {
		case core.EventSignal:
			logger.Info().Str("signal", ev.Signal).Msg("SIGNAL")
			c.mu.Lock()
			if c.peer == p {
				c.lastSignal = ev.Signal
			}
			c.mu.Unlock()
		case core.EventRemoteStream:
			logger.Info().Msg("Received remote stream")
			c.mu.Lock()
			if c.peer == p && ev.Stream != nil {
				c.sink.Bind(ev.Stream)
			}
			c.mu.Unlock()
		case core.EventState:
			logger.Info().Str("state", ev.State).Msg("peer state changed")
		case core.EventError:
			logger.Error().Err(ev.Err).Msg("Peer error")
		}
		c.hub.Publish(core.NotificationFor(ev))
	}
	logger.Debug().Msg("peer events drained")
}

// ConnectPeers feeds pasted signaling text into the active peer.
func (c *Controller) ConnectPeers(ctx context.Context, text string) error {
	payload, err := core.ParseSignal(text)
	if err != nil {
		log.Error().Err(err).Str("module", "app.controller").Msg("Failed to parse signal data")
		return err
	}

	c.mu.Lock()
	p, closed := c.peer, c.closed
	c.mu.Unlock()
	if closed {
		return domain.ErrClosed
	}
	if p == nil || p.IsClosed() {
		log.Error().Str("module", "app.controller").Msg(domain.ErrPeerNotInitialized.Error())
		return domain.ErrPeerNotInitialized
	}

	log.Info().Str("module", "app.controller").Str("type", payload.Type).Msg("Connecting peers...")
	if err := p.Signal(ctx, payload); err != nil {
		log.Error().Err(err).Str("module", "app.controller").Msg("Peer error")
		return err
	}
	return nil
}

// ClosePeer releases the active peer session.
func (c *Controller) ClosePeer() error {
	c.mu.Lock()
	p := c.peer
	c.peer = nil
	c.lastSignal = ""
	var monitor *audio.Stream
	if c.capture != nil {
		monitor = c.capture.Stream()
	}
	c.mu.Unlock()
	if p == nil {
		return domain.ErrPeerNotInitialized
	}
	p.Close()
	// Remote audio is gone with the peer; go back to monitoring the capture.
	c.sink.Bind(monitor)
	log.Info().Str("module", "app.controller").Str("peer", p.ID()).Msg("peer closed")
	return nil
}

// ToggleFilter flips the filter and returns the new state.
func (c *Controller) ToggleFilter() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, domain.ErrClosed
	}
	if c.filter.enabled {
		c.disableFilterLocked()
		return false, nil
	}
	if err := c.enableFilterLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// EnableFilter routes the capture through the filter chain. It is a no-op
// when the filter is already enabled.
func (c *Controller) EnableFilter() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrClosed
	}
	return c.enableFilterLocked()
}

// DisableFilter detaches the filter chain. It is a no-op when disabled.
func (c *Controller) DisableFilter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disableFilterLocked()
}

func (c *Controller) enableFilterLocked() error {
	if c.capture == nil {
		log.Error().Str("module", "app.controller").Msg("cannot enable filter without audio")
		return domain.ErrNoCapture
	}
	c.filter.build(c.sink)
	if err := c.filter.connect(c.capture.Stream()); err != nil {
		return err
	}
	log.Info().Str("module", "app.controller").Msg("filter enabled")
	return nil
}

func (c *Controller) disableFilterLocked() {
	if !c.filter.enabled {
		return
	}
	c.filter.disconnect()
	log.Info().Str("module", "app.controller").Msg("filter disabled")
}

// Subscribe registers a user-facing observer of session notifications.
func (c *Controller) Subscribe(id string) (<-chan core.Notification, func()) {
	return c.hub.Subscribe(id)
}

type PeerState struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type State struct {
	Devices       []domain.Device `json:"devices"`
	Capturing     bool            `json:"capturing"`
	CaptureDevice domain.DeviceID `json:"capture_device,omitempty"`
	Peer          *PeerState      `json:"peer,omitempty"`
	LastSignal    string          `json:"last_signal,omitempty"`
	FilterEnabled bool            `json:"filter_enabled"`
}

// State returns a snapshot of the session.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		Devices:       slices.Clone(c.devices),
		LastSignal:    c.lastSignal,
		FilterEnabled: c.filter.enabled,
	}
	if c.capture != nil {
		st.Capturing = true
		st.CaptureDevice = c.capture.DeviceID()
	}
	if c.peer != nil && !c.peer.IsClosed() {
		st.Peer = &PeerState{ID: c.peer.ID(), Role: c.peer.Role().String()}
	}
	return st
}

// Close releases every resource the session acquired.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	p, capture := c.peer, c.capture
	c.peer, c.capture = nil, nil
	c.mu.Unlock()

	c.cancel()
	if p != nil {
		p.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.filter.close()
	c.mu.Unlock()
	if capture != nil {
		capture.Close()
	}
	c.sink.Close()
	c.hub.Close()
	log.Info().Str("module", "app.controller").Msg("session closed")
}
