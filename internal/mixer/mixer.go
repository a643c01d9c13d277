// Package mixer implements the Mixer Core (spec section 4.3): the single
// dedicated-thread component that pops aligned per-channel samples, taps a
// raw mono pair for transcription, measures levels, soft-limits, interleaves
// to stereo with crossfade continuity, and hands blocks to the encoder sink.
package mixer

import (
	"context"
	"math"
	"runtime"
	"sync"

	"github.com/mattfogel/munin-recorder/internal/align"
	"github.com/mattfogel/munin-recorder/internal/audio"
	"github.com/mattfogel/munin-recorder/internal/limiter"
	"github.com/mattfogel/munin-recorder/internal/logging"
)

// OutputSink receives soft-limited, interleaved stereo blocks.
type OutputSink interface {
	Write(block audio.StereoBlock)
}

// TapSink receives the pre-interleave raw mono pair for transcription. The
// Mixer calls OnTap synchronously on its own thread and holds the TapSink by
// direct reference for its whole lifetime; nothing detaches the tap before
// the Mixer itself is dropped.
type TapSink interface {
	OnTap(mic, system []float32)
}

// Config holds the tunables from spec section 6's configuration table that
// govern this component.
type Config struct {
	BlockSize        int
	StartupThreshold int
	CrossfadeLen     int
	LevelPeriodMs    int
	JitterTolerance  int
	HostClockHz      int64
	LimiterThreshold float64
	LimiterRatio     float64
}

// DefaultConfig returns spec section 6's defaults.
func DefaultConfig() Config {
	return Config{
		BlockSize:        8192,
		StartupThreshold: 9600,
		CrossfadeLen:     64,
		LevelPeriodMs:    67,
		JitterTolerance:  128,
		HostClockHz:      1_000_000_000,
		LimiterThreshold: 0.5,
		LimiterRatio:     8,
	}
}

// Mixer is the single serialized executor described in spec section 4.3.
// All of its exported inputs funnel into one goroutine via bounded queues;
// nothing here is safe to call concurrently with Run except the
// MicSink/SystemSink Append calls and Flush/Stop, which are explicitly
// designed for that.
type Mixer struct {
	cfg Config

	micBuf *align.Buffer
	sysBuf *align.Buffer

	micQueue *boundedQueue
	sysQueue *boundedQueue

	micLimiter *limiter.Limiter
	sysLimiter *limiter.Limiter

	tap    TapSink
	out    OutputSink
	levels chan audio.LevelEvent

	outputSampleIndex uint64
	previousTail      []float32 // interleaved, len == crossfadeLen*2

	started bool

	flushReq chan chan flushResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	samplesSinceLvl  int64
	levelPeriodSmpls int64
}

type flushResult struct {
	block audio.StereoBlock
	wrote bool
}

// New constructs a Mixer. queueCapacity sizes each channel's bounded input
// queue (spec section 5: roughly 4 seconds of audio).
func New(cfg Config, queueCapacity int, out OutputSink, tap TapSink) *Mixer {
	lp := limiter.DefaultParams()
	lp.Threshold = cfg.LimiterThreshold
	lp.Ratio = cfg.LimiterRatio

	ctx, cancel := context.WithCancel(context.Background())
	m := &Mixer{
		cfg:        cfg,
		micBuf:     align.New(audio.SourceMic, cfg.JitterTolerance, cfg.HostClockHz),
		sysBuf:     align.New(audio.SourceSystem, cfg.JitterTolerance, cfg.HostClockHz),
		micQueue:   newBoundedQueue(queueCapacity),
		sysQueue:   newBoundedQueue(queueCapacity),
		micLimiter: limiter.New(lp),
		sysLimiter: limiter.New(lp),
		tap:        tap,
		out:        out,
		levels:     make(chan audio.LevelEvent, 1),
		flushReq:   make(chan chan flushResult),
		ctx:        ctx,
		cancel:     cancel,
	}
	m.levelPeriodSmpls = int64(cfg.LevelPeriodMs) * align.TargetSampleRate / 1000
	return m
}

// Levels exposes the throttled level-event stream (single-producer,
// single-consumer, lossy per spec section 5).
func (m *Mixer) Levels() <-chan audio.LevelEvent {
	return m.levels
}

// SetBaseHostTick pins both channels' alignment reference point to the
// session's start time (spec section 4.8, step 5).
func (m *Mixer) SetBaseHostTick(tick int64) {
	m.micBuf.SetBaseHostTick(tick)
	m.sysBuf.SetBaseHostTick(tick)
}

// MicSink returns the append target for the mic Sample Source Adapter.
func (m *Mixer) MicSink() ChannelSink { return ChannelSink{q: m.micQueue} }

// SystemSink returns the append target for the system Sample Source Adapter.
func (m *Mixer) SystemSink() ChannelSink { return ChannelSink{q: m.sysQueue} }

// ChannelSink adapts a bounded queue to the source.Sink interface shape
// without this package importing source; it satisfies that interface by
// method shape alone.
type ChannelSink struct{ q *boundedQueue }

// Append enqueues a normalized frame for the Mixer thread to fold into its
// alignment buffer. Safe to call from any goroutine.
func (c ChannelSink) Append(samples []float32, hostTick int64, hasHostTick bool) {
	c.q.push(channelInput{samples: samples, hostTick: hostTick, hasHostTick: hasHostTick})
}

// Run executes the Mixer thread until Stop is called. It must run in its
// own goroutine; the Mixer never awaits external I/O per spec section 5.
func (m *Mixer) Run() {
	m.wg.Add(1)
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case item := <-m.micQueue.ch:
			m.micBuf.Append(item.samples, item.hostTick, item.hasHostTick)
			m.drain()
		case item := <-m.sysQueue.ch:
			m.sysBuf.Append(item.samples, item.hostTick, item.hasHostTick)
			m.drain()
		case respCh := <-m.flushReq:
			respCh <- m.doFlush()
		}
	}
}

// Stop signals the Mixer thread to exit. It does not flush; callers must
// call Flush first if they want the tail emitted.
func (m *Mixer) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Flush implements spec section 4.3's "Flush on session stop": emits
// min(len(mic), len(sys)) samples once, with no silence padding past the
// shorter stream's end (invariant I3).
func (m *Mixer) Flush() (audio.StereoBlock, bool) {
	respCh := make(chan flushResult, 1)
	select {
	case m.flushReq <- respCh:
	case <-m.ctx.Done():
		return audio.StereoBlock{}, false
	}
	res := <-respCh
	return res.block, res.wrote
}

func (m *Mixer) doFlush() flushResult {
	// Drain whatever is already sitting in either channel's input queue
	// before computing the flush length. Without this, an Append that beat
	// the flush request into the queue but lost the select's pseudo-random
	// case pick would never reach micBuf/sysBuf before Stop cancels the
	// context, truncating the tail with no dropped-counter trace.
	m.drainQueues()

	n := minInt(m.micBuf.Len(), m.sysBuf.Len())
	if n == 0 {
		return flushResult{}
	}
	block := m.emitBlock(n)
	return flushResult{block: block, wrote: true}
}

// drainQueues folds every item currently buffered in either channel's input
// queue into its alignment buffer. Only called from within Run's goroutine,
// so this is the same serialized access the main select already relies on.
func (m *Mixer) drainQueues() {
	for {
		select {
		case item := <-m.micQueue.ch:
			m.micBuf.Append(item.samples, item.hostTick, item.hasHostTick)
			continue
		default:
		}
		break
	}
	for {
		select {
		case item := <-m.sysQueue.ch:
			m.sysBuf.Append(item.samples, item.hostTick, item.hasHostTick)
			continue
		default:
		}
		break
	}
}

// drain is the "Main loop" of spec section 4.3: gated by the startup
// threshold, then draining as many full blocks as both buffers permit.
func (m *Mixer) drain() {
	if !m.started {
		if m.micBuf.Len() < m.cfg.StartupThreshold || m.sysBuf.Len() < m.cfg.StartupThreshold {
			return
		}
		m.started = true
		logging.Info(logging.CategoryMixer, "startup gate satisfied, mixer now emitting")
	}

	for m.micBuf.Len() >= m.cfg.BlockSize && m.sysBuf.Len() >= m.cfg.BlockSize {
		m.emitBlock(m.cfg.BlockSize)
		// Cooperative yield so level-event delivery isn't starved by a run
		// of back-to-back blocks (spec section 5, Fairness).
		runtime.Gosched()
	}
}

// emitBlock performs spec section 4.3 steps 1-9 for exactly n frames per
// channel.
func (m *Mixer) emitBlock(n int) audio.StereoBlock {
	micBlock := m.micBuf.Pop(n)
	sysBlock := m.sysBuf.Pop(n)

	if m.tap != nil {
		// Copy before limiting: the tap sees raw mono audio (spec section
		// 2's dataflow diagram takes the tap before the limiter).
		micCopy := append([]float32(nil), micBlock...)
		sysCopy := append([]float32(nil), sysBlock...)
		m.tap.OnTap(micCopy, sysCopy)
	}

	m.maybeEmitLevel(micBlock, sysBlock, n)

	m.micLimiter.ProcessBlock(micBlock)
	m.sysLimiter.ProcessBlock(sysBlock)

	interleaved := make([]float32, n*2)
	for i := 0; i < n; i++ {
		interleaved[2*i] = micBlock[i]
		interleaved[2*i+1] = sysBlock[i]
	}

	m.applyCrossfade(interleaved)
	m.saveTail(interleaved)

	block := audio.StereoBlock{
		Interleaved:       interleaved,
		FrameCount:        n,
		OutputSampleIndex: m.outputSampleIndex,
		PresentationSec:   float64(m.outputSampleIndex) / align.TargetSampleRate,
	}
	m.outputSampleIndex += uint64(n)

	if m.out != nil {
		m.out.Write(block)
	}
	return block
}

func (m *Mixer) applyCrossfade(interleaved []float32) {
	if len(m.previousTail) == 0 {
		return
	}
	fadeFrames := m.cfg.CrossfadeLen
	if fadeFrames*2 > len(interleaved) {
		fadeFrames = len(interleaved) / 2
	}
	if fadeFrames*2 > len(m.previousTail) {
		fadeFrames = len(m.previousTail) / 2
	}
	for k := 0; k < fadeFrames; k++ {
		t := float32(k) / float32(m.cfg.CrossfadeLen)
		for ch := 0; ch < 2; ch++ {
			idx := 2*k + ch
			interleaved[idx] = m.previousTail[idx]*(1-t) + interleaved[idx]*t
		}
	}
}

func (m *Mixer) saveTail(interleaved []float32) {
	tailLen := m.cfg.CrossfadeLen * 2
	if tailLen > len(interleaved) {
		tailLen = len(interleaved)
	}
	start := len(interleaved) - tailLen
	m.previousTail = append(m.previousTail[:0], interleaved[start:]...)
}

// maybeEmitLevel computes RMS for the raw (pre-limiter) block and emits a
// level event at most once every level_period_ms, per spec section 4.3.
func (m *Mixer) maybeEmitLevel(mic, sys []float32, n int) {
	m.samplesSinceLvl += int64(n)
	if m.samplesSinceLvl < m.levelPeriodSmpls {
		return
	}
	m.samplesSinceLvl = 0

	ev := audio.LevelEvent{
		MicRMSUnit:    rmsToUnit(rms(mic)),
		SystemRMSUnit: rmsToUnit(rms(sys)),
	}
	select {
	case m.levels <- ev:
	default:
		// Lossy by design: drop if the consumer hasn't kept up.
	}
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

func rmsToUnit(rms float64) float64 {
	db := 20 * math.Log10(math.Max(rms, 1e-10))
	unit := (db + 60) / 60
	if unit < 0 {
		return 0
	}
	if unit > 1 {
		return 1
	}
	return unit
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Stats reports per-channel degradation counters for observability.
type Stats struct {
	Mic                align.Stats
	System             align.Stats
	MicQueueDropped    uint64
	SystemQueueDropped uint64
}

// Stats returns a snapshot of the Mixer's and its alignment buffers'
// degradation counters (spec section 7: "exposed for observability").
func (m *Mixer) Stats() Stats {
	return Stats{
		Mic:                m.micBuf.Stats(),
		System:             m.sysBuf.Stats(),
		MicQueueDropped:    m.micQueue.Dropped(),
		SystemQueueDropped: m.sysQueue.Dropped(),
	}
}
