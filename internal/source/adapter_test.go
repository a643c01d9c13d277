package source

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mattfogel/munin-recorder/internal/audio"
)

type fakeSink struct {
	samples     []float32
	hostTick    int64
	hasHostTick bool
	calls       int
}

func (f *fakeSink) Append(samples []float32, hostTick int64, hasHostTick bool) {
	f.samples = samples
	f.hostTick = hostTick
	f.hasHostTick = hasHostTick
	f.calls++
}

func TestPassThroughWhenAlreadyNative(t *testing.T) {
	sink := &fakeSink{}
	a := New(audio.SourceMic, 1.0, sink)

	in := []float64{0.1, -0.2, 0.3}
	err := a.OnFrame(in, 48000, 1, audio.FormatF32, 42, true)
	require.NoError(t, err)
	require.Equal(t, 1, sink.calls)
	require.Len(t, sink.samples, 3)
	require.InDelta(t, 0.1, sink.samples[0], 1e-6)
	require.EqualValues(t, 42, sink.hostTick)
	require.True(t, sink.hasHostTick)
}

func TestGainAppliedOnPassThrough(t *testing.T) {
	sink := &fakeSink{}
	a := New(audio.SourceMic, 2.0, sink)
	err := a.OnFrame([]float64{0.1}, 48000, 1, audio.FormatF32, 0, false)
	require.NoError(t, err)
	require.InDelta(t, 0.2, sink.samples[0], 1e-6)
}

func TestEmptyFrameDroppedSilently(t *testing.T) {
	sink := &fakeSink{}
	a := New(audio.SourceMic, 1.0, sink)
	err := a.OnFrame(nil, 48000, 1, audio.FormatF32, 0, false)
	require.NoError(t, err)
	require.Zero(t, sink.calls)
	require.EqualValues(t, 1, a.Stats())
}

func TestZeroChannelsDroppedSilently(t *testing.T) {
	sink := &fakeSink{}
	a := New(audio.SourceMic, 1.0, sink)
	err := a.OnFrame([]float64{0.1, 0.2}, 48000, 0, audio.FormatF32, 0, false)
	require.NoError(t, err)
	require.Zero(t, sink.calls)
	require.EqualValues(t, 1, a.Stats())
}

func TestMixdownAveragesChannels(t *testing.T) {
	// Interleaved stereo: L=1.0, R=0.0 for one frame -> mono 0.5
	got := mixdown([]float64{1.0, 0.0}, 2)
	require.Len(t, got, 1)
	require.InDelta(t, 0.5, got[0], 1e-9)
}
