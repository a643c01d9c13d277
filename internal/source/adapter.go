// Package source implements the Sample Source Adapter (spec section 4.1):
// normalizing opaque, arbitrary-rate/channel/format capture frames into
// 48 kHz mono float32, with cached high-quality resampling and per-source
// linear gain.
package source

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	soxr "github.com/zaf/resample"

	"github.com/mattfogel/munin-recorder/internal/audio"
	"github.com/mattfogel/munin-recorder/internal/logging"
)

const targetSampleRate = 48000

// ErrAudioFormatUnsupported is the fatal error surfaced when a resampling
// converter cannot be constructed for a source's format (spec section 7).
var ErrAudioFormatUnsupported = errors.New("source: audio format unsupported")

// signature identifies a source format for resampler cache invalidation.
type signature struct {
	rate     int
	channels int
	format   audio.SampleFormat
}

// Sink receives normalized 48 kHz mono frames. The Mixer's per-channel
// alignment buffer satisfies this in the assembled session.
type Sink interface {
	Append(samples []float32, hostTick int64, hasHostTick bool)
}

// Adapter normalizes one source's raw capture frames. One Adapter exists per
// channel (mic, system); it is safe to call OnFrame from any thread, as the
// spec's Design Notes require — the heavy lifting (resample construction)
// only happens on a format change, and the cached path is allocation-light.
type Adapter struct {
	source audio.Source
	gain   float64
	sink   Sink

	mu        sync.Mutex
	sig       signature
	haveSig   bool
	resampler *resampleConverter

	droppedFrames atomic.Uint64
}

// New creates an adapter for one channel, forwarding normalized frames to
// sink. gain is the per-source linear gain (spec default 1.0).
func New(src audio.Source, gain float64, sink Sink) *Adapter {
	return &Adapter{source: src, gain: gain, sink: sink}
}

// OnFrame normalizes one raw capture frame and forwards it to the sink.
// samples are assumed interleaved-by-channel float64, already decoded from
// whatever wire format the external capture source used — decoding opaque
// platform buffers into this shape is the job of the out-of-scope OS capture
// collaborator (spec section 1).
func (a *Adapter) OnFrame(samples []float64, srcRate, srcChannels int, srcFormat audio.SampleFormat, hostTick int64, hasHostTick bool) error {
	if len(samples) == 0 || srcChannels <= 0 {
		a.droppedFrames.Add(1)
		return nil // dropped silently, spec section 4.1 failure mode
	}

	mono := mixdown(samples, srcChannels)

	if srcRate == targetSampleRate && srcChannels == 1 && srcFormat == audio.FormatF32 {
		out := make([]float32, len(mono))
		for i, v := range mono {
			out[i] = float32(v * a.gain)
		}
		a.sink.Append(out, hostTick, hasHostTick)
		return nil
	}

	conv, err := a.converterFor(signature{rate: srcRate, channels: srcChannels, format: srcFormat})
	if err != nil {
		a.droppedFrames.Add(1)
		logging.Catastrophe(logging.CategorySource, "resampler construction failed source=%s: %v", a.source, err)
		return fmt.Errorf("%w: %v", ErrAudioFormatUnsupported, err)
	}

	resampled, err := conv.convert(mono)
	if err != nil {
		a.droppedFrames.Add(1)
		logging.Warning(logging.CategorySource, "resample failed source=%s: %v", a.source, err)
		return nil
	}
	if len(resampled) == 0 {
		return nil // resampler buffering internally, nothing to emit yet
	}

	out := make([]float32, len(resampled))
	for i, v := range resampled {
		out[i] = float32(float64(v) / 32768.0 * a.gain)
	}
	a.sink.Append(out, hostTick, hasHostTick)
	return nil
}

// mixdown averages interleaved multichannel samples down to mono.
func mixdown(samples []float64, channels int) []float64 {
	if channels == 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}

func (a *Adapter) converterFor(sig signature) (*resampleConverter, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.haveSig && a.sig == sig && a.resampler != nil {
		return a.resampler, nil
	}

	if a.resampler != nil {
		a.resampler.close()
	}

	conv, err := newResampleConverter(float64(sig.rate), float64(targetSampleRate))
	if err != nil {
		a.haveSig = false
		a.resampler = nil
		return nil, err
	}

	a.sig = sig
	a.haveSig = true
	a.resampler = conv
	return conv, nil
}

// Stats reports the dropped-frame counter for observability (spec
// section 7: degradations are logged and counted, never propagated).
func (a *Adapter) Stats() uint64 {
	return a.droppedFrames.Load()
}

// resampleConverter wraps a soxr.Resampler the same way internal/transcribe's
// formatConverter and the former bridge ingress/egress paths did: a byte buffer the resampler
// writes into, reused every call to avoid per-call allocation.
type resampleConverter struct {
	mu  sync.Mutex
	buf *bytes.Buffer
	r   *soxr.Resampler

	inBytes  []byte
	outAccum []float64
}

func newResampleConverter(inRate, outRate float64) (*resampleConverter, error) {
	buf := &bytes.Buffer{}
	r, err := soxr.New(buf, inRate, outRate, 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, err
	}
	return &resampleConverter{buf: buf, r: r}, nil
}

// convert resamples mono float64 samples in [-1, 1] by round-tripping
// through 16-bit PCM, matching the precision the rest of the module already
// accepts for cross-rate conversion.
func (c *resampleConverter) convert(mono []float64) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	need := len(mono) * 2
	if cap(c.inBytes) < need {
		c.inBytes = make([]byte, need)
	}
	in := c.inBytes[:need]
	for i, v := range mono {
		s := clampToI16(v)
		binary.LittleEndian.PutUint16(in[i*2:], uint16(s))
	}

	c.buf.Reset()
	if _, err := c.r.Write(in); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	out := c.buf.Bytes()
	if len(out) == 0 {
		return nil, nil
	}
	n := len(out) / 2
	result := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(out[i*2:]))
		result[i] = float32(s)
	}
	return result, nil
}

func clampToI16(v float64) int16 {
	s := v * 32767.0
	if s > 32767 {
		s = 32767
	}
	if s < -32768 {
		s = -32768
	}
	return int16(s)
}

func (c *resampleConverter) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r != nil {
		c.r.Close()
	}
}
