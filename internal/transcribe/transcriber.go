package transcribe

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattfogel/munin-recorder/internal/audio"
	"github.com/mattfogel/munin-recorder/internal/logging"
)

const (
	defaultQueueCapacity  = 256
	defaultFlushInterval  = 10 * time.Second
	defaultFinalizeWindow = 30 * time.Second
)

// Config controls a Transcriber's queueing and flush behavior (spec section
// 4.6 and the config table in section 6).
type Config struct {
	QueueCapacity  int
	FlushInterval  time.Duration
	FinalizeWindow time.Duration
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:  defaultQueueCapacity,
		FlushInterval:  defaultFlushInterval,
		FinalizeWindow: defaultFinalizeWindow,
	}
}

// Transcriber drives one Recognizer for one channel (spec section 4.6): it
// converts fed 48 kHz mono float32 frames into the engine's native format,
// pushes them into the engine's InputStream, and turns the engine's
// ResultStream into timestamped TranscriptSegments.
type Transcriber struct {
	cfg     Config
	channel audio.Source
	speaker string
	rec     Recognizer
	onSeg   func(audio.TranscriptSegment)

	conv *formatConverter

	frames  chan []float32
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
	started bool

	mu             sync.Mutex
	finalSegments  []audio.TranscriptSegment
	latestVolatile audio.TranscriptSegment
	haveVolatile   bool
	cancelled      bool
	engineCrashed  bool

	transcriptPath string
	lastFlush      time.Time
}

// New builds a Transcriber for channel, bound to rec. onSegment, if non-nil,
// is invoked synchronously for every final segment as it is recorded.
func New(channel audio.Source, rec Recognizer, cfg Config, onSegment func(audio.TranscriptSegment)) *Transcriber {
	return &Transcriber{
		cfg:     cfg,
		channel: channel,
		speaker: channel.Speaker(),
		rec:     rec,
		onSeg:   onSegment,
		frames:  make(chan []float32, cfg.QueueCapacity),
	}
}

// Start begins a recognition session and, if outputTranscriptPathOpt is
// non-empty, enables periodic fragment flushing to that path (spec section
// 4.6 "Periodic flush").
func (t *Transcriber) Start(ctx context.Context, locale, outputTranscriptPathOpt string) error {
	conv, err := newFormatConverter(t.rec.PreferredFormat())
	if err != nil {
		return err
	}
	t.conv = conv

	runCtx, cancel := context.WithCancel(ctx)
	input, results, err := t.rec.Start(runCtx, locale)
	if err != nil {
		cancel()
		if errors.Is(err, ErrLocaleUnsupported) {
			return ErrLocaleUnsupported
		}
		if errors.Is(err, ErrModelUnavailable) {
			return ErrModelUnavailable
		}
		return err
	}

	t.ctx = runCtx
	t.cancel = cancel
	t.transcriptPath = outputTranscriptPathOpt
	t.lastFlush = time.Time{}
	t.started = true

	t.wg.Add(2)
	go t.pumpFrames(input)
	go t.pumpResults(results)

	logging.Info(logging.CategoryTranscribe, "started channel=%s locale=%s", t.channel.String(), locale)
	return nil
}

// FeedSamples enqueues 48 kHz mono float32 samples for recognition,
// dropping them silently if the queue is full or the Transcriber has been
// cancelled or never started (spec section 4.6, non-blocking feed).
func (t *Transcriber) FeedSamples(samples []float32) {
	if !t.started {
		return
	}
	t.mu.Lock()
	cancelled := t.cancelled
	t.mu.Unlock()
	if cancelled {
		return
	}

	cp := make([]float32, len(samples))
	copy(cp, samples)
	select {
	case t.frames <- cp:
	default:
		logging.Debug(logging.CategoryTranscribe, "dropped frame, queue full channel=%s", t.channel.String())
	}
}

func (t *Transcriber) pumpFrames(input InputStream) {
	defer t.wg.Done()
	defer input.Close()

	for {
		select {
		case <-t.ctx.Done():
			return
		case samples, ok := <-t.frames:
			if !ok {
				return
			}
			bytesOut, err := t.conv.convert(samples)
			if err != nil {
				logging.Warning(logging.CategoryTranscribe, "convert failed channel=%s: %v", t.channel.String(), err)
				continue
			}
			if len(bytesOut) == 0 {
				continue
			}
			if err := input.Push(bytesOut); err != nil {
				logging.Warning(logging.CategoryTranscribe, "push failed channel=%s: %v", t.channel.String(), err)
			}
		}
	}
}

func (t *Transcriber) pumpResults(results ResultStream) {
	defer t.wg.Done()

	for {
		res, err := results.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Warning(logging.CategoryTranscribe, "result stream ended with error channel=%s: %v", t.channel.String(), err)
				t.mu.Lock()
				t.engineCrashed = true
				t.mu.Unlock()
			}
			return
		}
		t.handleResult(res)

		select {
		case <-t.ctx.Done():
			return
		default:
		}
	}
}

func (t *Transcriber) handleResult(res Result) {
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}
	seg := segmentFromResult(res, t.speaker, text)

	t.mu.Lock()
	if res.IsFinal {
		t.finalSegments = append(t.finalSegments, seg)
		t.haveVolatile = false
	} else {
		t.latestVolatile = seg
		t.haveVolatile = true
	}
	t.mu.Unlock()

	if res.IsFinal && t.onSeg != nil {
		t.onSeg(seg)
	}

	t.maybeFlush()
}

// maybeFlush implements the periodic fragment flush: if
// flush_interval_s have elapsed since the last flush, render the final
// segments collected so far and write them to a sibling fragment file via
// write-temp-then-rename, falling back to a direct write if the rename
// fails.
func (t *Transcriber) maybeFlush() {
	if t.transcriptPath == "" {
		return
	}

	t.mu.Lock()
	due := time.Since(t.lastFlush) >= t.cfg.FlushInterval
	var segs []audio.TranscriptSegment
	if due {
		segs = make([]audio.TranscriptSegment, len(t.finalSegments))
		copy(segs, t.finalSegments)
		t.lastFlush = time.Now()
	}
	t.mu.Unlock()

	if !due {
		return
	}
	t.writeFragment(segs)
}

func (t *Transcriber) writeFragment(segs []audio.TranscriptSegment) {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString("[")
		b.WriteString(audio.FormatTimestamp(s.StartMs))
		b.WriteString("] ")
		b.WriteString(s.Text)
		b.WriteString("\n")
	}

	dir := filepath.Dir(t.transcriptPath)
	tmp := filepath.Join(dir, "."+filepath.Base(t.transcriptPath)+".tmp")

	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		logging.Warning(logging.CategoryTranscribe, "fragment temp write failed channel=%s: %v", t.channel.String(), err)
		return
	}
	if err := os.Rename(tmp, t.transcriptPath); err != nil {
		logging.Warning(logging.CategoryTranscribe, "fragment rename failed, writing direct channel=%s: %v", t.channel.String(), err)
		if werr := os.WriteFile(t.transcriptPath, []byte(b.String()), 0o644); werr != nil {
			logging.Error(logging.CategoryTranscribe, "fragment direct write failed channel=%s: %v", t.channel.String(), werr)
		}
	}
}

// Finalize asks the engine to flush remaining finals and stop, waiting up
// to timeout (default 30s), then returns a copy of all recorded final
// segments.
func (t *Transcriber) Finalize(timeout time.Duration) ([]audio.TranscriptSegment, error) {
	if !t.started {
		return nil, nil
	}
	if timeout <= 0 {
		timeout = t.cfg.FinalizeWindow
	}

	finCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := t.rec.Finalize(finCtx, timeout)

	close(t.frames)
	t.cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logging.Warning(logging.CategoryTranscribe, "finalize wait timed out channel=%s", t.channel.String())
	}

	if t.conv != nil {
		t.conv.close()
	}

	t.mu.Lock()
	out := make([]audio.TranscriptSegment, len(t.finalSegments))
	copy(out, t.finalSegments)
	t.mu.Unlock()

	return out, err
}

// Cancel stops recognition immediately without waiting for finals. Any
// segments already recorded remain available via Finalize's return value,
// but subsequent FeedSamples calls become no-ops.
func (t *Transcriber) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

// LatestVolatile returns the most recent non-final result, if any.
func (t *Transcriber) LatestVolatile() (audio.TranscriptSegment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latestVolatile, t.haveVolatile
}

// Stats reports whether the recognizer's result stream ended abnormally
// mid-session (spec section 7: "recognizer mid-stream crash -> channel
// produces no further segments").
func (t *Transcriber) Stats() (engineCrashed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.engineCrashed
}
