//go:build !cgo || noaudio

// This backend is only used in cgo-less and noaudio builds.

package audio

import (
	"errors"

	"github.com/dkeye/audiostream/internal/domain"
)

func init() {
	newBackend = newNullBackend
}

var errAudioDisabledCompilation = errors.New("audio was disabled during compilation")

type nullBackend struct{}

func newNullBackend() (Backend, error) {
	return nullBackend{}, nil
}

func (nullBackend) Name() string { return "nullaudio" }

func (nullBackend) Free() error { return nil }

func (nullBackend) Devices(domain.DeviceKind) ([]domain.Device, error) {
	return nil, errAudioDisabledCompilation
}

type nullDevice struct{}

func (nullDevice) Start() error { return nil }
func (nullDevice) Stop() error  { return nil }
func (nullDevice) Uninit()      {}

func (nullBackend) InitCapture(domain.DeviceID, DataProc) (Handle, error) {
	return nullDevice{}, nil
}

func (nullBackend) InitPlayback(domain.DeviceID, DataProc) (Handle, error) {
	return nullDevice{}, nil
}

type nullEncDec struct{}

func (nullEncDec) Encode(pcm []int16, frameSize int, out []byte) ([]byte, error) {
	return out[:0], nil
}

func (nullEncDec) SetBitrate(int) {}

func (nullEncDec) Decode(data []byte, frameSize int, fec bool, out []int16) ([]int16, error) {
	return out[:0], nil
}

func (nullBackend) NewEncoder() (Encoder, error) { return nullEncDec{}, nil }

func (nullBackend) NewDecoder() (Decoder, error) { return nullEncDec{}, nil }
