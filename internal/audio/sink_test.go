package audio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/audiostream/internal/audio"
	"github.com/dkeye/audiostream/internal/audio/audiotest"
)

func TestSinkMixesBoundAndAux(t *testing.T) {
	sink := audio.NewSink()
	local := audio.NewStream("local")
	aux := audio.NewStream("aux")
	sink.Bind(local)
	sink.Attach(aux)

	local.Write(audio.Frame{100, 200, 30000})
	aux.Write(audio.Frame{1, 2, 30000})

	out := make([]int16, 3)
	sink.Mix(out)
	assert.Equal(t, []int16{101, 202, 32767}, out)

	// Nothing buffered: silence.
	sink.Mix(out)
	assert.Equal(t, []int16{0, 0, 0}, out)
}

func TestSinkMixSpansFrames(t *testing.T) {
	sink := audio.NewSink()
	s := audio.NewStream("")
	sink.Bind(s)
	s.Write(audio.Frame{1, 2})
	s.Write(audio.Frame{3, 4})

	out := make([]int16, 3)
	sink.Mix(out)
	assert.Equal(t, []int16{1, 2, 3}, out)
	sink.Mix(out)
	assert.Equal(t, []int16{4, 0, 0}, out)
}

func TestSinkBindReplaces(t *testing.T) {
	sink := audio.NewSink()
	first := audio.NewStream("first")
	second := audio.NewStream("second")

	sink.Bind(first)
	sink.Bind(second)
	assert.Same(t, second, sink.Bound())
	assert.Equal(t, 0, first.TapCount())
	assert.Equal(t, 1, second.TapCount())

	sink.Bind(nil)
	assert.Nil(t, sink.Bound())
}

func TestSinkPlaybackDevice(t *testing.T) {
	b := audiotest.NewBackend()
	sink := audio.NewSink()
	require.NoError(t, sink.Start(b, ""))

	s := audio.NewStream("")
	sink.Bind(s)
	s.Write(audio.Frame{5, -5})

	dev := b.Playback()
	require.True(t, dev.Started())
	assert.Equal(t, []int16{5, -5, 0}, dev.Pull(3))

	sink.Close()
	assert.True(t, dev.Stopped())
	assert.True(t, dev.Uninited())
	assert.Equal(t, 0, s.TapCount())
}
