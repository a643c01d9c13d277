package encoder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkIntoOpusFramesExactMultiple(t *testing.T) {
	frameLen := frameSamples * channels
	samples := make([]float32, frameLen*3)
	rem, frames := chunkIntoOpusFrames(samples)
	require.Len(t, frames, 3)
	require.Empty(t, rem)
}

func TestChunkIntoOpusFramesCarriesRemainder(t *testing.T) {
	frameLen := frameSamples * channels
	samples := make([]float32, frameLen+500)
	rem, frames := chunkIntoOpusFrames(samples)
	require.Len(t, frames, 1)
	require.Len(t, rem, 500)
}

func TestChunkIntoOpusFramesAccumulatesAcrossCalls(t *testing.T) {
	frameLen := frameSamples * channels
	first := make([]float32, frameLen-10)
	rem, frames := chunkIntoOpusFrames(first)
	require.Empty(t, frames)
	require.Len(t, rem, frameLen-10)

	second := make([]float32, 20)
	rem2, frames2 := chunkIntoOpusFrames(append(rem, second...))
	require.Len(t, frames2, 1)
	require.Len(t, rem2, 10)
}
