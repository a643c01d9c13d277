package limiter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBelowThresholdUnityGain(t *testing.T) {
	l := New(DefaultParams())
	for i := 0; i < 100; i++ {
		out := l.Process(0.1)
		require.InDelta(t, 0.1, out, 1e-6)
	}
}

func TestBoundedOutput(t *testing.T) {
	l := New(DefaultParams())
	var maxAbs float64
	for i := 0; i < 5000; i++ {
		x := float32(math.Sin(float64(i) * 0.3))
		out := l.Process(x * 1.5) // deliberately hot signal
		if a := math.Abs(float64(out)); a > maxAbs {
			maxAbs = a
		}
	}
	require.LessOrEqual(t, maxAbs, 1.0+1e-6)
}

func TestResetZeroesEnvelope(t *testing.T) {
	l := New(DefaultParams())
	for i := 0; i < 1000; i++ {
		l.Process(0.9)
	}
	l.Reset()
	// Immediately after reset, a quiet sample should pass near-unattenuated
	// since the envelope has no memory of the prior loud signal.
	out := l.Process(0.01)
	require.InDelta(t, 0.01, out, 1e-6)
}

func TestProcessBlockAppliesInPlace(t *testing.T) {
	l := New(DefaultParams())
	block := []float32{0.1, 0.1, 0.1}
	out := l.ProcessBlock(block)
	require.Equal(t, len(block), len(out))
	for _, v := range out {
		require.InDelta(t, 0.1, v, 1e-6)
	}
}
