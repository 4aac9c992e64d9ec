package rtc

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/audiostream/internal/audio"
	"github.com/dkeye/audiostream/internal/core"
)

// maxFrameSamples is the longest Opus frame (120ms at 48kHz).
const maxFrameSamples = audio.SampleRate / 1000 * 120

// remoteReader turns RTP packets of a remote track into PCM frames.
type remoteReader struct {
	dec    audio.Decoder
	stream *audio.Stream
	buf    []int16
}

func newRemoteReader(dec audio.Decoder, stream *audio.Stream) *remoteReader {
	return &remoteReader{
		dec:    dec,
		stream: stream,
		buf:    make([]int16, maxFrameSamples*audio.Channels),
	}
}

// handle decodes pkt and writes the result into the stream.
func (r *remoteReader) handle(pkt *rtp.Packet) error {
	if len(pkt.Payload) == 0 {
		return nil
	}
	pcm, err := r.dec.Decode(pkt.Payload, maxFrameSamples, false, r.buf)
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return nil
	}
	f := make(audio.Frame, len(pcm))
	copy(f, pcm)
	r.stream.Write(f)
	return nil
}

func (p *Peer) onRemoteTrack(track *webrtc.TrackRemote) {
	dec, err := p.cfg.Codecs.NewDecoder()
	if err != nil {
		p.logger.Error().Err(err).Msg("new decoder")
		p.emit(core.PeerEvent{Kind: core.EventError, Err: err})
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	stream := audio.NewStream("remote-" + track.StreamID() + "-" + track.ID())
	r := newRemoteReader(dec, stream)
	p.emit(core.PeerEvent{Kind: core.EventRemoteStream, Stream: stream})

	go func() {
		defer p.wg.Done()
		defer stream.Close()
		logger := p.logger.With().Str("track_id", track.ID()).Logger()
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				logger.Info().Err(err).Msg("remote track ended")
				return
			}
			if err := r.handle(pkt); err != nil {
				logger.Warn().Err(err).Msg("decode remote packet")
			}
		}
	}()
}
