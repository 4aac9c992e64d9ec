package audio

import "github.com/dkeye/audiostream/internal/domain"

// DataProc is called from the device thread with the raw output buffer to
// fill (playback) or the raw input samples (capture).
type DataProc func(out, in []byte, framecount uint32)

// Handle is an initialized capture or playback device.
type Handle interface {
	Start() error
	Stop() error
	Uninit()
}

// Encoder compresses PCM frames.
type Encoder interface {
	Encode(pcm []int16, frameSize int, out []byte) ([]byte, error)
	SetBitrate(rate int)
}

// Decoder expands compressed packets into PCM.
type Decoder interface {
	Decode(data []byte, frameSize int, fec bool, out []int16) ([]int16, error)
}

// CodecFactory builds codec instances for a single stream.
type CodecFactory interface {
	NewEncoder() (Encoder, error)
	NewDecoder() (Decoder, error)
}

// Backend is the platform media layer: device discovery, capture, playback
// and codecs.
type Backend interface {
	CodecFactory

	Name() string
	Devices(kind domain.DeviceKind) ([]domain.Device, error)
	InitCapture(id domain.DeviceID, cb DataProc) (Handle, error)
	InitPlayback(id domain.DeviceID, cb DataProc) (Handle, error)
	Free() error
}

// newBackend is set by the build-specific backend implementation.
var newBackend func() (Backend, error)

// NewBackend returns the backend compiled into this binary.
func NewBackend() (Backend, error) {
	return newBackend()
}
