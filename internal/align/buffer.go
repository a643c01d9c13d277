// Package align absorbs inter-arrival jitter between a source's wall-clock
// arrival and its expected position on the 48 kHz sample timeline.
package align

import (
	"github.com/mattfogel/munin-recorder/internal/audio"
	"github.com/mattfogel/munin-recorder/internal/logging"
)

const (
	// TargetSampleRate is the internal working rate for every channel.
	TargetSampleRate = 48000
)

// Buffer is a single channel's append-only sample accumulator. It is owned
// exclusively by the Mixer thread; callers must not share one Buffer across
// goroutines.
type Buffer struct {
	source Source

	jitterTolerance int
	hostClockHz     int64

	baseHostTick   int64
	haveBaseTick   bool
	expectedSample uint64

	samples []float32

	// droppedSamples counts samples discarded for overlapping the existing
	// timeline (section 7, recoverable degradation counter).
	droppedSamples uint64
	// gapFillSamples counts silence samples inserted to cover an arrival gap.
	gapFillSamples uint64
}

// Source is a re-export to avoid importing audio in every call site's
// argument list; it is exactly audio.Source.
type Source = audio.Source

// New creates a channel alignment buffer. jitterTolerance is in samples at
// 48 kHz (default 128, spec section 4.2); hostClockHz converts host ticks to
// seconds.
func New(source Source, jitterTolerance int, hostClockHz int64) *Buffer {
	if jitterTolerance < 0 {
		jitterTolerance = 0
	}
	if hostClockHz <= 0 {
		hostClockHz = 1_000_000_000 // nanoseconds, the common monotonic unit
	}
	return &Buffer{
		source:          source,
		jitterTolerance: jitterTolerance,
		hostClockHz:     hostClockHz,
	}
}

// SetBaseHostTick pins the session's host-clock reference point. Called once
// by the Session Coordinator at start(); a zero-value tick before this call
// means the buffer will self-anchor on its first ticked frame instead.
func (b *Buffer) SetBaseHostTick(tick int64) {
	b.baseHostTick = tick
	b.haveBaseTick = true
}

// Append runs the alignment algorithm from spec section 4.2 on an incoming
// block, appending zero or more silence samples followed by the (possibly
// trimmed) block to the internal buffer.
func (b *Buffer) Append(samples []float32, hostTick int64, hasHostTick bool) {
	startIdx := b.startIndex(hostTick, hasHostTick)
	delta := startIdx - int64(b.expectedSample)

	switch {
	case delta >= -int64(b.jitterTolerance) && delta <= int64(b.jitterTolerance):
		// Acceptable jitter, early or late: treat as if it arrived exactly
		// on time.
		b.appendExact(samples)
	case delta > 0:
		b.appendWithGap(samples, delta)
	default: // delta < -jitterTolerance
		b.appendOverlap(samples, -delta)
	}
}

func (b *Buffer) startIndex(hostTick int64, hasHostTick bool) int64 {
	if !hasHostTick {
		return int64(b.expectedSample)
	}
	if !b.haveBaseTick {
		b.baseHostTick = hostTick
		b.haveBaseTick = true
		return 0
	}
	elapsedTicks := hostTick - b.baseHostTick
	// Round to the nearest sample, so a tick that lands a fraction of a
	// sample short of a position still maps to that position.
	num := elapsedTicks * TargetSampleRate
	half := b.hostClockHz / 2
	if num >= 0 {
		return (num + half) / b.hostClockHz
	}
	return -((-num + half) / b.hostClockHz)
}

func (b *Buffer) appendExact(samples []float32) {
	b.samples = append(b.samples, samples...)
	b.expectedSample += uint64(len(samples))
}

func (b *Buffer) appendWithGap(samples []float32, gap int64) {
	b.samples = append(b.samples, make([]float32, gap)...)
	b.samples = append(b.samples, samples...)
	b.gapFillSamples += uint64(gap)
	b.expectedSample += uint64(gap) + uint64(len(samples))
	logging.Debug(logging.CategoryAlign, "gap-filled source=%s samples=%d", b.source, gap)
}

func (b *Buffer) appendOverlap(samples []float32, overlap int64) {
	if overlap >= int64(len(samples)) {
		b.droppedSamples += uint64(len(samples))
		logging.Debug(logging.CategoryAlign, "dropped entire overlapping block source=%s samples=%d", b.source, len(samples))
		return
	}
	trimmed := samples[overlap:]
	b.samples = append(b.samples, trimmed...)
	b.droppedSamples += uint64(overlap)
	b.expectedSample += uint64(len(trimmed))
	logging.Debug(logging.CategoryAlign, "trimmed overlapping block source=%s dropped=%d kept=%d", b.source, overlap, len(trimmed))
}

// Len returns the number of samples currently buffered (not yet popped).
func (b *Buffer) Len() int {
	return len(b.samples)
}

// ExpectedSampleIndex returns the running per-source sample count, including
// silence gap-fills (spec invariant I2).
func (b *Buffer) ExpectedSampleIndex() uint64 {
	return b.expectedSample
}

// Pop removes and returns exactly n samples from the front of the buffer.
// The caller must ensure Len() >= n.
func (b *Buffer) Pop(n int) []float32 {
	out := make([]float32, n)
	copy(out, b.samples[:n])
	b.samples = b.samples[n:]
	return out
}

// Stats reports the degradation counters for observability (spec section 7).
type Stats struct {
	DroppedSamples uint64
	GapFillSamples uint64
}

// Stats returns a snapshot of this buffer's degradation counters.
func (b *Buffer) Stats() Stats {
	return Stats{DroppedSamples: b.droppedSamples, GapFillSamples: b.gapFillSamples}
}
