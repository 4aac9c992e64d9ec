package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/audiostream/internal/domain"
)

// Capture is a live input device writing full frames into a Stream.
type Capture struct {
	deviceID domain.DeviceID
	dev      Handle
	stream   *Stream
	logger   zerolog.Logger

	// pending accumulates samples until a full frame is available. Only the
	// device thread touches it.
	pending []int16

	closeOnce sync.Once
}

// StartCapture opens and starts the given input device. An empty id selects
// the platform default input.
func StartCapture(ctx context.Context, b Backend, id domain.DeviceID) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &Capture{
		deviceID: id,
		stream:   NewStream(""),
		pending:  make([]int16, 0, FrameSamples*2),
	}
	c.logger = log.With().
		Str("module", "audio.capture").
		Str("device", string(id)).
		Str("stream", c.stream.ID()).
		Logger()

	dev, err := b.InitCapture(id, c.onRecvFrames)
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	c.dev = dev
	c.logger.Info().Str("backend", b.Name()).Msg("capture started")
	return c, nil
}

func (c *Capture) onRecvFrames(_, in []byte, _ uint32) {
	c.pending = bytesToLES16Slice(in, c.pending)
	for len(c.pending) >= FrameSamples {
		f := make(Frame, FrameSamples)
		copy(f, c.pending[:FrameSamples])
		c.stream.Write(f)
		n := copy(c.pending, c.pending[FrameSamples:])
		c.pending = c.pending[:n]
	}
}

func (c *Capture) DeviceID() domain.DeviceID { return c.deviceID }

// Stream is the captured audio.
func (c *Capture) Stream() *Stream { return c.stream }

// Close stops the device and closes the stream.
func (c *Capture) Close() {
	c.closeOnce.Do(func() {
		if err := c.dev.Stop(); err != nil {
			c.logger.Warn().Err(err).Msg("stop capture device")
		}
		c.dev.Uninit()
		c.stream.Close()
		c.logger.Info().Msg("capture closed")
	})
}
