package align

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mattfogel/munin-recorder/internal/audio"
)

func samplesOf(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestAppendBackToBackNoTick(t *testing.T) {
	b := New(audio.SourceMic, 128, 1_000_000_000)
	b.Append(samplesOf(100, 1), 0, false)
	b.Append(samplesOf(50, 1), 0, false)
	require.Equal(t, 150, b.Len())
	require.EqualValues(t, 150, b.ExpectedSampleIndex())
}

func TestJitterWithinToleranceInsertsNoSilence(t *testing.T) {
	b := New(audio.SourceMic, 128, 1_000_000_000)
	b.SetBaseHostTick(0)
	// Nominal: 1024 samples every 1024/48000 sec, with a tiny +50us slip.
	frameLen := 1024
	nominalNs := int64(frameLen) * 1_000_000_000 / TargetSampleRate
	tick := int64(0)
	for i := 0; i < 10; i++ {
		b.Append(samplesOf(frameLen, 1), tick, true)
		tick += nominalNs + 50_000 // +50us
	}
	require.Equal(t, frameLen*10, b.Len())
	require.Zero(t, b.Stats().GapFillSamples)
	require.Zero(t, b.Stats().DroppedSamples)
}

func TestGapFillOnLateArrival(t *testing.T) {
	b := New(audio.SourceMic, 128, 1_000_000_000)
	b.SetBaseHostTick(0)
	b.Append(samplesOf(1000, 1), 0, true)
	// Second frame claims to start 500 samples later than expected.
	lateTick := int64(1000+500) * 1_000_000_000 / TargetSampleRate
	b.Append(samplesOf(200, 1), lateTick, true)

	require.Equal(t, 1000+500+200, b.Len())
	require.EqualValues(t, 1000+500+200, b.ExpectedSampleIndex())
	require.EqualValues(t, 500, b.Stats().GapFillSamples)
}

func TestOverlapTrimsLeadingSamples(t *testing.T) {
	b := New(audio.SourceMic, 128, 1_000_000_000)
	b.SetBaseHostTick(0)
	b.Append(samplesOf(1000, 1), 0, true)
	// Frame arrives claiming to start 500 samples before expected (well
	// beyond jitter tolerance of 128).
	overlapTick := int64(1000-500) * 1_000_000_000 / TargetSampleRate
	b.Append(samplesOf(700, 2), overlapTick, true)

	require.Equal(t, 1000+200, b.Len())
	require.EqualValues(t, 500, b.Stats().DroppedSamples)
}

func TestOverlapDropsEntireShortFrame(t *testing.T) {
	b := New(audio.SourceMic, 128, 1_000_000_000)
	b.SetBaseHostTick(0)
	b.Append(samplesOf(1000, 1), 0, true)
	overlapTick := int64(1000-500) * 1_000_000_000 / TargetSampleRate
	b.Append(samplesOf(300, 2), overlapTick, true) // shorter than the 500 overlap

	require.Equal(t, 1000, b.Len())
	require.EqualValues(t, 300, b.Stats().DroppedSamples)
}

func TestPopDrainsFront(t *testing.T) {
	b := New(audio.SourceMic, 128, 1_000_000_000)
	b.Append([]float32{1, 2, 3, 4}, 0, false)
	got := b.Pop(2)
	require.Equal(t, []float32{1, 2}, got)
	require.Equal(t, 2, b.Len())
}
