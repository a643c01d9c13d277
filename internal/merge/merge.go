// Package merge implements the Transcript Merger (spec section 4.7):
// combining both channels' final segments into one diarized, timestamped
// markdown transcript.
package merge

import (
	"sort"
	"strings"

	"github.com/mattfogel/munin-recorder/internal/audio"
)

const defaultSpeakerGapMs = 1500

// Options controls merge behavior.
type Options struct {
	// SpeakerGapMs is the intra-speaker silence that forces a new speaker
	// header even without a speaker change. Defaults to 1500 if zero.
	SpeakerGapMs int64
	// Participants, if non-empty, is rendered as a "**Participants:**" line
	// right after the header.
	Participants []string
	// NoSpeechMarker, if true, emits "*No speech detected*" when both
	// input arrays are empty.
	NoSpeechMarker bool
}

// DefaultOptions returns the spec's stated defaults, with the
// "*No speech detected*" marker enabled.
func DefaultOptions() Options {
	return Options{SpeakerGapMs: defaultSpeakerGapMs, NoSpeechMarker: true}
}

// Merge concatenates mic and system final segments, stable-sorts them by
// start time, and renders the result as markdown per the stable transcript
// grammar (spec section 6).
func Merge(mic, system []audio.TranscriptSegment, opts Options) string {
	gapMs := opts.SpeakerGapMs
	if gapMs == 0 {
		gapMs = defaultSpeakerGapMs
	}

	all := make([]audio.TranscriptSegment, 0, len(mic)+len(system))
	all = append(all, mic...)
	all = append(all, system...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].StartMs < all[j].StartMs
	})

	var b strings.Builder
	b.WriteString("# Transcript\n\n")

	if len(opts.Participants) > 0 {
		b.WriteString("**Participants:** ")
		b.WriteString(strings.Join(opts.Participants, ", "))
		b.WriteString("\n\n")
	}

	if len(all) == 0 {
		if opts.NoSpeechMarker {
			b.WriteString("*No speech detected*\n")
		}
		return b.String()
	}

	currentSpeaker := ""
	var previousEndMs int64
	havePreviousEnd := false
	firstLine := true

	for _, seg := range all {
		var gapMsActual int64
		if havePreviousEnd {
			gapMsActual = seg.StartMs - previousEndMs
			if gapMsActual < 0 {
				gapMsActual = 0
			}
		}

		if seg.Speaker != currentSpeaker || gapMsActual >= gapMs {
			if !firstLine {
				b.WriteString("\n")
			}
			b.WriteString("**")
			b.WriteString(seg.Speaker)
			b.WriteString(":**\n")
			currentSpeaker = seg.Speaker
		}

		b.WriteString("[")
		b.WriteString(audio.FormatTimestamp(seg.StartMs))
		b.WriteString("] ")
		b.WriteString(seg.Text)
		b.WriteString("\n")

		previousEndMs = seg.EndMs
		havePreviousEnd = true
		firstLine = false
	}

	return b.String()
}
