// Package encoder implements the Stereo Encoder Sink (spec section 4.5): a
// serialized executor that owns the compressed stereo container and writes
// interleaved float32 blocks to it with sample-accurate timestamps, never
// blocking the Mixer thread.
//
// The container format is Opus-in-Ogg (one of the three choices spec
// section 6 leaves to the implementer). RTP packets are used purely as the
// Ogg writer's framing vehicle: they are never sent over a network, only
// constructed locally to drive github.com/pion/webrtc's oggwriter, which
// derives granule positions from the RTP timestamp field.
package encoder

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/mattfogel/munin-recorder/internal/audio"
	"github.com/mattfogel/munin-recorder/internal/logging"
)

// ErrEncoderInit is the fatal error surfaced when the container or codec
// cannot be constructed (spec section 7).
var ErrEncoderInit = errors.New("encoder: initialization failed")

const (
	sampleRate      = 48000
	channels        = 2
	opusPayloadType = 111
	// frameSamples is 20ms at 48kHz, a valid Opus frame size.
	frameSamples = 960
)

// Sink is the Stereo Encoder Sink. It satisfies mixer.OutputSink.
type Sink struct {
	enc *opus.Encoder
	ogg *oggwriter.OggWriter

	queue chan audio.StereoBlock
	done  chan struct{}

	mu      sync.Mutex
	pending []float32 // interleaved, carried across Write calls

	seq       uint16
	tsSamples uint32
	ssrc      uint32

	encodeBuf []byte

	droppedBlocks atomic.Uint64
	closeOnce     sync.Once
}

// New creates a Stereo Encoder Sink writing to path. It starts the encoder
// goroutine immediately; callers must call Finish to flush and close.
func New(path string, queueCapacity int) (*Sink, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("%w: opus encoder: %v", ErrEncoderInit, err)
	}

	ogg, err := oggwriter.New(path, sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("%w: ogg writer: %v", ErrEncoderInit, err)
	}

	if queueCapacity < 1 {
		queueCapacity = 1
	}

	s := &Sink{
		enc:       enc,
		ogg:       ogg,
		queue:     make(chan audio.StereoBlock, queueCapacity),
		done:      make(chan struct{}),
		ssrc:      1,
		encodeBuf: make([]byte, 4000),
	}
	go s.run()
	return s, nil
}

// Write enqueues a block for encoding. Non-blocking: if the handoff queue is
// full, the block is logged and dropped rather than stalling the Mixer
// thread (spec section 4.5, "must not block the mixer thread").
func (s *Sink) Write(block audio.StereoBlock) {
	select {
	case s.queue <- block:
	default:
		s.droppedBlocks.Add(1)
		logging.Warning(logging.CategoryEncoder, "encoder queue full, dropped block outputSampleIndex=%d", block.OutputSampleIndex)
	}
}

// Finish flushes any remaining audio (padding only the final Opus frame,
// never the Mixer's output) and closes the container.
func (s *Sink) Finish() error {
	close(s.queue)
	<-s.done

	s.mu.Lock()
	remainder := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(remainder) > 0 {
		padded := make([]float32, frameSamples*channels)
		copy(padded, remainder)
		s.encodeFrame(padded)
	}

	var closeErr error
	s.closeOnce.Do(func() {
		closeErr = s.ogg.Close()
	})
	return closeErr
}

func (s *Sink) run() {
	for block := range s.queue {
		s.ingest(block)
	}
	close(s.done)
}

func (s *Sink) ingest(block audio.StereoBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, frames := chunkIntoOpusFrames(append(s.pending, block.Interleaved...))
	s.pending = pending
	for _, frame := range frames {
		s.encodeFrame(frame)
	}
}

// chunkIntoOpusFrames splits interleaved stereo samples into fixed-size
// Opus frames (20ms @ 48kHz, frameSamples*channels wide each), returning the
// emitted frames and the left-over remainder to carry into the next call.
func chunkIntoOpusFrames(samples []float32) (remainder []float32, frames [][]float32) {
	frameLen := frameSamples * channels
	var out [][]float32
	i := 0
	for ; i+frameLen <= len(samples); i += frameLen {
		frame := make([]float32, frameLen)
		copy(frame, samples[i:i+frameLen])
		out = append(out, frame)
	}
	rem := append([]float32(nil), samples[i:]...)
	return rem, out
}

func (s *Sink) encodeFrame(frame []float32) {
	n, err := s.enc.EncodeFloat32(frame, s.encodeBuf)
	if err != nil {
		logging.Warning(logging.CategoryEncoder, "opus encode failed: %v", err)
		return
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.tsSamples,
			SSRC:           s.ssrc,
		},
		Payload: append([]byte(nil), s.encodeBuf[:n]...),
	}
	s.seq++
	s.tsSamples += uint32(frameSamples)

	if err := s.ogg.WriteRTP(packet); err != nil {
		logging.Warning(logging.CategoryEncoder, "ogg write failed: %v", err)
	}
}

// Stats reports the dropped-block counter for observability.
func (s *Sink) Stats() uint64 {
	return s.droppedBlocks.Load()
}
