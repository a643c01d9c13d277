package transcribe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	soxr "github.com/zaf/resample"

	"github.com/mattfogel/munin-recorder/internal/audio"
)

// formatConverter resamples 48 kHz mono float32 to a recognizer's preferred
// rate and packs it into that engine's native byte format. One instance is
// cached per Transcriber for the lifetime of a session, mirroring the
// resampler-caching idiom used throughout this module (spec section 4.1).
type formatConverter struct {
	mu       sync.Mutex
	target   Format
	buf      *bytes.Buffer
	resample *soxr.Resampler
	inBytes  []byte
}

func newFormatConverter(target Format) (*formatConverter, error) {
	if target.SampleRate == 48000 {
		return &formatConverter{target: target}, nil
	}

	buf := &bytes.Buffer{}
	r, err := soxr.New(buf, 48000.0, float64(target.SampleRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("build converter to %+v: %w", target, err)
	}
	return &formatConverter{target: target, buf: buf, resample: r}, nil
}

// convert turns 48 kHz mono float32 samples into the engine's native byte
// encoding, resampling first if the engine's rate differs from 48 kHz.
func (c *formatConverter) convert(samples []float32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resample == nil {
		return encodeSamples(samples, c.target.Format), nil
	}

	need := len(samples) * 2
	if cap(c.inBytes) < need {
		c.inBytes = make([]byte, need)
	}
	in := c.inBytes[:need]
	for i, v := range samples {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(clampI16(float64(v))))
	}

	c.buf.Reset()
	if _, err := c.resample.Write(in); err != nil {
		return nil, fmt.Errorf("resample write: %w", err)
	}

	out := c.buf.Bytes()
	if len(out) == 0 {
		return nil, nil
	}

	n := len(out) / 2
	resampled := make([]float32, n)
	for i := 0; i < n; i++ {
		resampled[i] = float32(int16(binary.LittleEndian.Uint16(out[i*2:])))
	}
	// resampled holds raw int16 magnitudes in float32 form; normalize before
	// the final format encode so FormatF32 targets stay in [-1, 1].
	for i := range resampled {
		resampled[i] /= 32768.0
	}
	return encodeSamples(resampled, c.target.Format), nil
}

func (c *formatConverter) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resample != nil {
		c.resample.Close()
	}
}

func encodeSamples(samples []float32, format audio.SampleFormat) []byte {
	switch format {
	case audio.FormatI16:
		out := make([]byte, len(samples)*2)
		for i, v := range samples {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(clampI16(float64(v))))
		}
		return out
	default: // FormatF32
		out := make([]byte, len(samples)*4)
		for i, v := range samples {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out
	}
}

func clampI16(v float64) int16 {
	s := v * 32767.0
	if s > 32767 {
		s = 32767
	}
	if s < -32768 {
		s = -32768
	}
	return int16(s)
}
