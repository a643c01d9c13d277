// Package session implements the Session Coordinator (spec section 4.8):
// the only component that knows about external I/O paths, owning every
// other component's lifecycle from start through stop.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mattfogel/munin-recorder/internal/audio"
	"github.com/mattfogel/munin-recorder/internal/config"
	"github.com/mattfogel/munin-recorder/internal/encoder"
	"github.com/mattfogel/munin-recorder/internal/logging"
	"github.com/mattfogel/munin-recorder/internal/merge"
	"github.com/mattfogel/munin-recorder/internal/mixer"
	"github.com/mattfogel/munin-recorder/internal/source"
	"github.com/mattfogel/munin-recorder/internal/transcribe"
)

// FrameCallback is the shape a CaptureSource invokes per captured buffer.
// A non-nil error means the buffer's format could not be converted.
type FrameCallback func(samples []float64, srcRate, srcChannels int, srcFormat audio.SampleFormat, hostTick int64, hasHostTick bool) error

// CaptureSource is the external platform audio provider (spec section 1,
// "Platform-specific OS audio source acquisition"). This module supplies
// none; callers inject a concrete implementation per channel.
type CaptureSource interface {
	Start(cb FrameCallback) error
	Stop() error
}

const (
	queueCapacitySeconds = 4
	encoderQueueSeconds  = 2
)

// Coordinator owns one recording session end to end.
type Coordinator struct {
	cfg config.Config

	micCapture CaptureSource
	sysCapture CaptureSource
	micRec     transcribe.Recognizer
	sysRec     transcribe.Recognizer

	micAdapter *source.Adapter
	sysAdapter *source.Adapter
	mx         *mixer.Mixer
	enc        *encoder.Sink
	micTr      *transcribe.Transcriber
	sysTr      *transcribe.Transcriber

	mixerWg sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New constructs a Coordinator wired to the given capture sources and
// recognizer engines. Neither capture source nor recognizer is started
// until Start is called.
func New(cfg config.Config, micCapture, sysCapture CaptureSource, micRec, sysRec transcribe.Recognizer) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		micCapture: micCapture,
		sysCapture: sysCapture,
		micRec:     micRec,
		sysRec:     sysRec,
	}
}

// Start implements spec section 4.8's six-step start sequence.
func (c *Coordinator) Start(ctx context.Context, outputAudioPath, outputTranscriptPathOpt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	// 1. Stereo Encoder Sink. Queue capacity is in blocks; size for ~2
	// seconds of audio per spec section 5.
	encQueueCap := (encoderQueueSeconds * audio.SampleRateHz) / c.blockSizeOrDefault()
	enc, err := encoder.New(outputAudioPath, maxInt(encQueueCap, 4))
	if err != nil {
		return newError(KindEncoderInit, err)
	}
	c.enc = enc

	// 2. Two Streaming Transcribers. Queue capacity is in mixer taps
	// (one per output block, ~170ms at the default block size), sized for
	// ~2 seconds of buffering per spec section 5.
	trQueueCap := (encoderQueueSeconds * audio.SampleRateHz) / c.blockSizeOrDefault()
	trCfg := transcribe.Config{
		QueueCapacity:  maxInt(trQueueCap, 8),
		FlushInterval:  c.cfg.FlushInterval(),
		FinalizeWindow: c.cfg.FinalizeTimeout(),
	}
	c.micTr = transcribe.New(audio.SourceMic, c.micRec, trCfg, nil)
	c.sysTr = transcribe.New(audio.SourceSystem, c.sysRec, trCfg, nil)

	micFragment, sysFragment := fragmentPaths(outputTranscriptPathOpt)
	if err := c.micTr.Start(ctx, c.cfg.MicLocale, micFragment); err != nil {
		c.enc.Finish()
		return translateTranscriberError(err)
	}
	if err := c.sysTr.Start(ctx, c.cfg.SystemLocale, sysFragment); err != nil {
		c.micTr.Cancel()
		c.micTr.Finalize(0)
		c.enc.Finish()
		return translateTranscriberError(err)
	}

	// 3. Mixer Core, with output/level/tap registration baked into New.
	mxCfg := mixer.Config{
		BlockSize:        c.cfg.BlockSize,
		StartupThreshold: c.cfg.StartupThreshold,
		CrossfadeLen:     c.cfg.CrossfadeLen,
		LevelPeriodMs:    c.cfg.LevelPeriodMs,
		JitterTolerance:  c.cfg.JitterTolerance,
		HostClockHz:      1_000_000_000,
		LimiterThreshold: c.cfg.LimiterThreshold,
		LimiterRatio:     c.cfg.LimiterRatio,
	}
	tap := transcribe.PairTap{Mic: c.micTr, System: c.sysTr}
	// Mixer input queue capacity is in append-call items, not samples; size
	// generously (~4 seconds at a typical 10ms capture callback) per spec
	// section 5.
	mixerQueueCap := queueCapacitySeconds * 100
	c.mx = mixer.New(mxCfg, mixerQueueCap, c.enc, tap)

	// 4. Two Sample Source Adapters, wired to the Mixer's per-channel append.
	c.micAdapter = source.New(audio.SourceMic, c.cfg.MicGain, c.mx.MicSink())
	c.sysAdapter = source.New(audio.SourceSystem, c.cfg.SystemGain, c.mx.SystemSink())

	// 5. Pin the alignment reference point to session start.
	c.mx.SetBaseHostTick(time.Now().UnixNano())

	c.mixerWg.Add(1)
	go func() {
		defer c.mixerWg.Done()
		c.mx.Run()
	}()

	// 6. Start the external capture sources.
	if err := c.micCapture.Start(c.micAdapter.OnFrame); err != nil {
		c.teardownAfterFailedStart(ctx)
		return newError(KindAudioFormatUnsupported, err)
	}
	if err := c.sysCapture.Start(c.sysAdapter.OnFrame); err != nil {
		c.micCapture.Stop()
		c.teardownAfterFailedStart(ctx)
		return newError(KindAudioFormatUnsupported, err)
	}

	c.started = true
	logging.Info(logging.CategorySession, "session started audio=%s transcript=%s", outputAudioPath, outputTranscriptPathOpt)
	return nil
}

func (c *Coordinator) teardownAfterFailedStart(ctx context.Context) {
	c.mx.Stop()
	c.micTr.Cancel()
	c.sysTr.Cancel()
	c.micTr.Finalize(0)
	c.sysTr.Finalize(0)
	c.enc.Finish()
}

// Stop implements spec section 4.8's six-step stop sequence, returning the
// merged markdown transcript. Idempotent per spec section 5's cancellation
// rules.
func (c *Coordinator) Stop(participants []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return "", nil
	}
	c.started = false

	// 1. Stop the external capture sources.
	if err := c.micCapture.Stop(); err != nil {
		logging.Warning(logging.CategorySession, "mic capture stop error: %v", err)
	}
	if err := c.sysCapture.Stop(); err != nil {
		logging.Warning(logging.CategorySession, "system capture stop error: %v", err)
	}

	// 2. Flush the Mixer's tail.
	c.mx.Flush()
	c.mx.Stop()
	c.mixerWg.Wait()

	// 3. Finish the Stereo Encoder Sink.
	if err := c.enc.Finish(); err != nil {
		logging.Error(logging.CategoryEncoder, "encoder finish failed: %v", err)
	}

	// 4. Finalize both Transcribers in parallel.
	var micSegs, sysSegs []audio.TranscriptSegment
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		micSegs, _ = c.micTr.Finalize(c.cfg.FinalizeTimeout())
	}()
	go func() {
		defer wg.Done()
		sysSegs, _ = c.sysTr.Finalize(c.cfg.FinalizeTimeout())
	}()
	wg.Wait()

	// 5. Merge final segments.
	opts := merge.Options{SpeakerGapMs: int64(c.cfg.SpeakerGapMs), Participants: participants, NoSpeechMarker: true}
	transcript := merge.Merge(micSegs, sysSegs, opts)

	// 6. Drop all components.
	c.micAdapter = nil
	c.sysAdapter = nil
	c.mx = nil
	c.enc = nil
	c.micTr = nil
	c.sysTr = nil

	logging.Info(logging.CategorySession, "session stopped")
	return transcript, nil
}

func (c *Coordinator) blockSizeOrDefault() int {
	if c.cfg.BlockSize <= 0 {
		return 8192
	}
	return c.cfg.BlockSize
}

func fragmentPaths(transcriptPathOpt string) (mic, sys string) {
	if transcriptPathOpt == "" {
		return "", ""
	}
	return transcriptPathOpt + ".mic.fragment", transcriptPathOpt + ".system.fragment"
}

func translateTranscriberError(err error) error {
	switch {
	case err == transcribe.ErrLocaleUnsupported:
		return newError(KindLocaleUnsupported, err)
	case err == transcribe.ErrModelUnavailable:
		return newError(KindModelUnavailable, err)
	default:
		return fmt.Errorf("transcriber start failed: %w", err)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
