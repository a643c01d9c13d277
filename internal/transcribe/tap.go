package transcribe

// FrameSink receives normalized 48 kHz mono float32 frames. A Transcriber
// satisfies this so the Mixer's pre-interleave tap can feed it directly:
// FeedSamples only enqueues onto the Transcriber's bounded frame channel,
// which its worker reads. The tap holds each FrameSink by direct reference,
// so the Mixer keeps the Transcribers reachable for as long as the Mixer
// itself is; nothing closes the tap when a Transcriber is dropped.
type FrameSink interface {
	FeedSamples(samples []float32)
}

// PairTap adapts the Mixer's single OnTap(mic, system) callback into two
// independent FrameSinks, one per channel, matching spec section 4.8 step 3
// ("pre-interleave tap -> {mic, system} -> corresponding Transcriber's
// feed_samples").
type PairTap struct {
	Mic    FrameSink
	System FrameSink
}

// OnTap implements mixer.TapSink.
func (p PairTap) OnTap(mic, system []float32) {
	if p.Mic != nil {
		p.Mic.FeedSamples(mic)
	}
	if p.System != nil {
		p.System.FeedSamples(system)
	}
}
