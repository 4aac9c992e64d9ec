// Package audiotest provides an in-memory audio backend for tests.
package audiotest

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/audiostream/internal/audio"
	"github.com/dkeye/audiostream/internal/domain"
)

var ErrNoSuchDevice = errors.New("audiotest: no such device")

// Device is a fake capture or playback device driven by the test.
type Device struct {
	ID domain.DeviceID

	cb       audio.DataProc
	started  atomic.Bool
	stopped  atomic.Bool
	uninited atomic.Bool
}

func (d *Device) Start() error { d.started.Store(true); return nil }
func (d *Device) Stop() error  { d.stopped.Store(true); return nil }
func (d *Device) Uninit()      { d.uninited.Store(true) }

func (d *Device) Started() bool  { return d.started.Load() }
func (d *Device) Stopped() bool  { return d.stopped.Load() }
func (d *Device) Uninited() bool { return d.uninited.Load() }

// Feed simulates the device delivering captured samples.
func (d *Device) Feed(samples []int16) {
	d.cb(nil, EncodePCM(samples), uint32(len(samples)))
}

// Pull simulates the device requesting n samples for playback.
func (d *Device) Pull(n int) []int16 {
	out := make([]byte, n*2)
	d.cb(out, nil, uint32(n))
	return DecodePCM(out)
}

// Backend is an audio.Backend whose devices are controlled by the test.
type Backend struct {
	Inputs     []domain.Device
	Outputs    []domain.Device
	DevicesErr error
	// CaptureErr makes InitCapture fail even for listed devices.
	CaptureErr error

	mu        sync.Mutex
	captures  []*Device
	playbacks []*Device
	freed     bool
}

var _ audio.Backend = (*Backend)(nil)

// NewBackend returns a backend exposing the given input device ids.
func NewBackend(inputs ...domain.DeviceID) *Backend {
	b := &Backend{}
	for _, id := range inputs {
		b.Inputs = append(b.Inputs, domain.Device{ID: id, Kind: domain.KindAudioInput})
	}
	return b
}

func (b *Backend) Name() string { return "testaudio" }

func (b *Backend) Devices(kind domain.DeviceKind) ([]domain.Device, error) {
	if b.DevicesErr != nil {
		return nil, b.DevicesErr
	}
	if kind == domain.KindAudioOutput {
		return b.Outputs, nil
	}
	return b.Inputs, nil
}

func (b *Backend) known(id domain.DeviceID) bool {
	if id == "" {
		return true
	}
	for _, d := range b.Inputs {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (b *Backend) InitCapture(id domain.DeviceID, cb audio.DataProc) (audio.Handle, error) {
	if b.CaptureErr != nil {
		return nil, b.CaptureErr
	}
	if !b.known(id) {
		return nil, ErrNoSuchDevice
	}
	d := &Device{ID: id, cb: cb}
	b.mu.Lock()
	b.captures = append(b.captures, d)
	b.mu.Unlock()
	return d, nil
}

func (b *Backend) InitPlayback(id domain.DeviceID, cb audio.DataProc) (audio.Handle, error) {
	d := &Device{ID: id, cb: cb}
	b.mu.Lock()
	b.playbacks = append(b.playbacks, d)
	b.mu.Unlock()
	return d, nil
}

// LastCapture returns the most recently opened capture device.
func (b *Backend) LastCapture() *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.captures) == 0 {
		return nil
	}
	return b.captures[len(b.captures)-1]
}

// Captures returns the number of capture devices opened so far.
func (b *Backend) Captures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.captures)
}

// Playback returns the most recently opened playback device.
func (b *Backend) Playback() *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.playbacks) == 0 {
		return nil
	}
	return b.playbacks[len(b.playbacks)-1]
}

func (b *Backend) Free() error {
	b.mu.Lock()
	b.freed = true
	b.mu.Unlock()
	return nil
}

func (b *Backend) NewEncoder() (audio.Encoder, error) { return PCMCodec{}, nil }
func (b *Backend) NewDecoder() (audio.Decoder, error) { return PCMCodec{}, nil }

// PCMCodec "encodes" by serializing samples as little endian bytes.
type PCMCodec struct{}

func (PCMCodec) Encode(pcm []int16, frameSize int, out []byte) ([]byte, error) {
	out = out[:0]
	for _, s := range pcm {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out, nil
}

func (PCMCodec) SetBitrate(int) {}

func (PCMCodec) Decode(data []byte, frameSize int, fec bool, out []int16) ([]int16, error) {
	out = out[:0]
	for i := 0; i+1 < len(data); i += 2 {
		out = append(out, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	return out, nil
}

// EncodePCM serializes samples as s16le.
func EncodePCM(samples []int16) []byte {
	b, _ := PCMCodec{}.Encode(samples, len(samples), make([]byte, 0, len(samples)*2))
	return b
}

// DecodePCM parses s16le bytes.
func DecodePCM(b []byte) []int16 {
	s, _ := PCMCodec{}.Decode(b, len(b)/2, false, make([]int16, 0, len(b)/2))
	return s
}

// Constant returns a full frame where every sample is v.
func Constant(v int16) []int16 {
	f := make([]int16, audio.FrameSamples)
	for i := range f {
		f[i] = v
	}
	return f
}
