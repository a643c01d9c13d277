package merge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mattfogel/munin-recorder/internal/audio"
)

func seg(speaker string, startMs, endMs int64, text string) audio.TranscriptSegment {
	return audio.TranscriptSegment{Speaker: speaker, StartMs: startMs, EndMs: endMs, Text: text, IsFinal: true}
}

func TestMergeEmptyEmitsHeaderWithMarker(t *testing.T) {
	out := Merge(nil, nil, DefaultOptions())
	require.Equal(t, "# Transcript\n\n*No speech detected*\n", out)
}

func TestMergeEmptyWithoutMarker(t *testing.T) {
	out := Merge(nil, nil, Options{SpeakerGapMs: 1500, NoSpeechMarker: false})
	require.Equal(t, "# Transcript\n\n", out)
}

func TestMergeInterleavesByStartTime(t *testing.T) {
	mic := []audio.TranscriptSegment{seg("Me", 0, 1000, "hello")}
	system := []audio.TranscriptSegment{seg("Them", 500, 1500, "hi there")}

	out := Merge(mic, system, DefaultOptions())

	idxMe := strings.Index(out, "hello")
	idxThem := strings.Index(out, "hi there")
	require.Less(t, idxMe, idxThem)
}

func TestMergeSpeakerChangeEmitsNewHeader(t *testing.T) {
	mic := []audio.TranscriptSegment{seg("Me", 0, 500, "one")}
	system := []audio.TranscriptSegment{seg("Them", 600, 1000, "two")}

	out := Merge(mic, system, DefaultOptions())

	require.Equal(t, 1, strings.Count(out, "**Me:**"))
	require.Equal(t, 1, strings.Count(out, "**Them:**"))
}

func TestMergeGapWithinSameSpeakerDoesNotRepeatHeader(t *testing.T) {
	mic := []audio.TranscriptSegment{
		seg("Me", 0, 500, "one"),
		seg("Me", 700, 1200, "two"),
	}

	out := Merge(mic, nil, DefaultOptions())

	require.Equal(t, 1, strings.Count(out, "**Me:**"))
}

func TestMergeLargeGapSameSpeakerRepeatsHeader(t *testing.T) {
	mic := []audio.TranscriptSegment{
		seg("Me", 0, 500, "one"),
		seg("Me", 3000, 3500, "two"),
	}

	out := Merge(mic, nil, Options{SpeakerGapMs: 1500})

	require.Equal(t, 2, strings.Count(out, "**Me:**"))
}

func TestMergeParticipantsLineRendered(t *testing.T) {
	out := Merge(nil, nil, Options{SpeakerGapMs: 1500, Participants: []string{"Alice", "Bob"}})
	require.Contains(t, out, "**Participants:** Alice, Bob\n\n")
}

func TestMergeTimestampFormat(t *testing.T) {
	mic := []audio.TranscriptSegment{seg("Me", 3661234, 3662000, "late segment")}
	out := Merge(mic, nil, DefaultOptions())
	require.Contains(t, out, "[01:01:01.234] late segment")
}

func TestMergeStableSortPreservesOrderOnTies(t *testing.T) {
	mic := []audio.TranscriptSegment{seg("Me", 1000, 1500, "mic-first")}
	system := []audio.TranscriptSegment{seg("Them", 1000, 1500, "system-first")}

	out := Merge(mic, system, DefaultOptions())

	require.Less(t, strings.Index(out, "mic-first"), strings.Index(out, "system-first"))
}
