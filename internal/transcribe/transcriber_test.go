package transcribe

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattfogel/munin-recorder/internal/audio"
)

type fakeInputStream struct {
	mu     sync.Mutex
	pushed [][]byte
	closed bool
}

func (f *fakeInputStream) Push(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, frame)
	return nil
}

func (f *fakeInputStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeResultStream struct {
	mu      sync.Mutex
	results []Result
	idx     int
	errAt   int
	err     error
}

func (f *fakeResultStream) Next() (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil && f.idx >= f.errAt {
		return Result{}, f.err
	}
	if f.idx >= len(f.results) {
		return Result{}, io.EOF
	}
	r := f.results[f.idx]
	f.idx++
	return r, nil
}

// failAfter arranges for Next to return err once idx >= n results have been
// consumed, instead of the usual io.EOF.
func (f *fakeResultStream) failAfter(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errAt = n
	f.err = err
}

func (f *fakeResultStream) push(r Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
}

type fakeRecognizer struct {
	format  Format
	input   *fakeInputStream
	results *fakeResultStream
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{
		format:  Format{SampleRate: 48000, Channels: 1, Format: audio.FormatF32},
		input:   &fakeInputStream{},
		results: &fakeResultStream{},
	}
}

func (f *fakeRecognizer) PreferredFormat() Format { return f.format }

func (f *fakeRecognizer) Start(ctx context.Context, locale string) (InputStream, ResultStream, error) {
	return f.input, f.results, nil
}

func (f *fakeRecognizer) Finalize(ctx context.Context, timeout time.Duration) error {
	return nil
}

func waitForFinals(t *testing.T, tr *Transcriber, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tr.mu.Lock()
		got := len(tr.finalSegments)
		tr.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d final segments", n)
}

func TestTranscriberRecordsFinalSegments(t *testing.T) {
	rec := newFakeRecognizer()
	tr := New(audio.SourceMic, rec, DefaultConfig(), nil)

	require.NoError(t, tr.Start(context.Background(), "en-US", ""))

	rec.results.push(Result{
		Text:    "hello there",
		IsFinal: true,
		Runs:    []Run{{StartMs: 1000, DurationMs: 500, Text: "hello there"}},
	})

	waitForFinals(t, tr, 1)

	segs, err := tr.Finalize(time.Second)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, "hello there", segs[0].Text)
	require.Equal(t, "Me", segs[0].Speaker)
	require.Equal(t, int64(1000), segs[0].StartMs)
	require.Equal(t, int64(1500), segs[0].EndMs)
}

func TestTranscriberDropsEmptyText(t *testing.T) {
	rec := newFakeRecognizer()
	tr := New(audio.SourceSystem, rec, DefaultConfig(), nil)
	require.NoError(t, tr.Start(context.Background(), "en-US", ""))

	rec.results.push(Result{Text: "   ", IsFinal: true})
	rec.results.push(Result{Text: "real text", IsFinal: true})

	waitForFinals(t, tr, 1)

	segs, err := tr.Finalize(time.Second)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, "real text", segs[0].Text)
}

func TestTranscriberCancelThenFinalizeReturnsRecordedOnly(t *testing.T) {
	rec := newFakeRecognizer()
	tr := New(audio.SourceMic, rec, DefaultConfig(), nil)
	require.NoError(t, tr.Start(context.Background(), "en-US", ""))

	tr.Cancel()
	tr.FeedSamples(make([]float32, 480))

	segs, _ := tr.Finalize(time.Second)
	require.Empty(t, segs)
}

func TestTranscriberOnSegmentObserverInvoked(t *testing.T) {
	rec := newFakeRecognizer()
	var observed []audio.TranscriptSegment
	var mu sync.Mutex
	tr := New(audio.SourceMic, rec, DefaultConfig(), func(s audio.TranscriptSegment) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, s)
	})
	require.NoError(t, tr.Start(context.Background(), "en-US", ""))

	rec.results.push(Result{Text: "segment one", IsFinal: true})
	waitForFinals(t, tr, 1)
	tr.Finalize(time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, observed, 1)
	require.Equal(t, "segment one", observed[0].Text)
}

func TestTranscriberFeedSamplesNoopBeforeStart(t *testing.T) {
	rec := newFakeRecognizer()
	tr := New(audio.SourceMic, rec, DefaultConfig(), nil)
	tr.FeedSamples(make([]float32, 480))
	// No panic, no Start call: nothing to assert beyond survival.
}

func TestTranscriberEngineCrashSetsStatsFlag(t *testing.T) {
	rec := newFakeRecognizer()
	rec.results.push(Result{Text: "last words", IsFinal: true})
	rec.results.failAfter(1, errors.New("engine connection reset"))

	tr := New(audio.SourceMic, rec, DefaultConfig(), nil)
	require.NoError(t, tr.Start(context.Background(), "en-US", ""))

	waitForFinals(t, tr, 1)

	require.Eventually(t, func() bool {
		return tr.Stats()
	}, time.Second, time.Millisecond)

	segs, _ := tr.Finalize(time.Second)
	require.Len(t, segs, 1)
	require.True(t, tr.Stats())
}
