// Package transcribe implements the Streaming Transcriber (spec section
// 4.6): one per channel, converting 48 kHz mono float32 frames to a
// recognizer engine's native format, forwarding to the engine, and turning
// its volatile/final result stream into timestamped transcript segments.
//
// The recognizer engine itself is an external collaborator (spec section 1);
// this package only defines the abstract shape it must present.
package transcribe

import (
	"context"
	"errors"
	"time"

	"github.com/mattfogel/munin-recorder/internal/audio"
)

// ErrModelUnavailable is surfaced when the engine reports its model is not
// installed (spec section 4.6, Failure modes).
var ErrModelUnavailable = errors.New("transcribe: recognizer model unavailable")

// ErrLocaleUnsupported is surfaced when the requested locale is not in the
// engine's supported set.
var ErrLocaleUnsupported = errors.New("transcribe: locale unsupported")

// Run is one timed text fragment within a Result.
type Run struct {
	StartMs    int64
	DurationMs int64
	Text       string
}

// Result is one volatile-or-final emission from the recognizer.
type Result struct {
	Text    string
	Runs    []Run
	IsFinal bool
}

// InputStream accepts audio frames in the engine's requested format.
type InputStream interface {
	Push(frame []byte) error
	Close() error
}

// ResultStream is a lazy, finite sequence of recognizer results. Next
// returns io.EOF (or any error) when the stream ends; per spec section 9,
// engine-stream termination is normal control flow, not an exception.
type ResultStream interface {
	Next() (Result, error)
}

// Format describes the audio shape a recognizer wants pushed into its
// InputStream.
type Format struct {
	SampleRate int
	Channels   int
	Format     audio.SampleFormat
}

// Recognizer is the abstract shape of the streaming speech-recognition
// engine (spec section 4.6). Implementations are supplied by the caller;
// this module ships none.
type Recognizer interface {
	// PreferredFormat reports the audio shape Start's InputStream expects.
	PreferredFormat() Format
	// Start begins a recognition session for locale, returning a push
	// sink and a lazy result sequence.
	Start(ctx context.Context, locale string) (InputStream, ResultStream, error)
	// Finalize asks the engine to emit remaining finals and close,
	// waiting up to timeout.
	Finalize(ctx context.Context, timeout time.Duration) error
}

// segmentFromResult extracts timestamps and builds a TranscriptSegment per
// spec section 4.6's "Result handling": start_ms = min(run.start_ms),
// end_ms = max(run.start_ms + run.duration_ms); 0,0 if no runs carry timing.
func segmentFromResult(r Result, speaker string, text string) audio.TranscriptSegment {
	var startMs, endMs int64
	for i, run := range r.Runs {
		end := run.StartMs + run.DurationMs
		if i == 0 || run.StartMs < startMs {
			startMs = run.StartMs
		}
		if i == 0 || end > endMs {
			endMs = end
		}
	}
	return audio.TranscriptSegment{
		StartMs: startMs,
		EndMs:   endMs,
		Speaker: speaker,
		Text:    text,
		IsFinal: r.IsFinal,
	}
}
