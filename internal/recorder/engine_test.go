package recorder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"qarecorder/internal/event"
)

type fakeSink struct {
	mu     sync.Mutex
	ready  bool
	events []event.CapturedEvent
}

func (s *fakeSink) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	return nil
}

func (s *fakeSink) Event(ev event.CapturedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) Status(level, message string) error { return nil }

func (s *fakeSink) snapshot() []event.CapturedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.CapturedEvent, len(s.events))
	copy(out, s.events)
	return out
}

type fakeBridge struct {
	mu      sync.Mutex
	batches [][]event.RawEvent
}

func (b *fakeBridge) Install(ctx context.Context) error { return nil }

func (b *fakeBridge) Discard(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = nil
	return nil
}

func (b *fakeBridge) Drain(ctx context.Context) ([]event.RawEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.batches) == 0 {
		return nil, nil
	}
	batch := b.batches[0]
	b.batches = b.batches[1:]
	return batch, nil
}

type fakeShooter struct {
	dataURL string
}

func (s *fakeShooter) Capture(ctx context.Context) (string, error) {
	return s.dataURL, nil
}

func testOptions() Options {
	return Options{
		PollInterval:  5 * time.Millisecond,
		InputDebounce: 20 * time.Millisecond,
		BurstDebounce: 20 * time.Millisecond,
		Origin:        "user",
	}
}

func newTestEngine(sink Sink) *Engine {
	return New(&fakeBridge{}, sink, &Gate{}, testOptions(), zerolog.Nop())
}

func clickOn(id string) event.RawEvent {
	return event.RawEvent{
		Type:   "click",
		URL:    "https://example.com",
		Ts:     time.Now().UnixMilli(),
		Target: &event.ElementRef{Tag: "button", Attrs: map[string]string{"id": id}},
	}
}

func inputOn(id, value string) event.RawEvent {
	return event.RawEvent{
		Type:   "input",
		URL:    "https://example.com",
		Ts:     time.Now().UnixMilli(),
		Target: &event.ElementRef{Tag: "input", Attrs: map[string]string{"id": id}, Value: value},
	}
}

func TestIngestEmitsClickImmediately(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(sink)

	e.ingest(clickOn("save"))

	events := sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "click", events[0].EventType)
	assert.Equal(t, "#save", events[0].Selector)
	assert.NotEmpty(t, events[0].EventID)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, "user", events[0].Origin)
}

func TestInputDebounceKeepsLastValue(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(sink)

	e.ingest(inputOn("email", "a"))
	e.ingest(inputOn("email", "ab"))
	e.ingest(inputOn("email", "abc"))

	assert.Empty(t, sink.snapshot())
	time.Sleep(100 * time.Millisecond)

	events := sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "input", events[0].EventType)
	assert.Equal(t, "abc", events[0].Value)
}

func TestInputDebouncePerTarget(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(sink)

	e.ingest(inputOn("email", "a@b.c"))
	e.ingest(inputOn("nickname", "ab"))
	time.Sleep(100 * time.Millisecond)

	events := sink.snapshot()
	require.Len(t, events, 2)
	selectors := []string{events[0].Selector, events[1].Selector}
	assert.ElementsMatch(t, []string{"#email", "#nickname"}, selectors)
}

func TestScrollDebounceLastWins(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(sink)

	e.ingest(event.RawEvent{Type: "scroll", ScrollY: 100})
	e.ingest(event.RawEvent{Type: "scroll", ScrollY: 250})
	e.ingest(event.RawEvent{Type: "scroll", ScrollY: 410})
	time.Sleep(100 * time.Millisecond)

	events := sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, float64(410), gjson.Get(events[0].MetaJSON, "scrollY").Float())
}

func TestGateSuppressesCapture(t *testing.T) {
	sink := &fakeSink{}
	gate := &Gate{}
	e := New(&fakeBridge{}, sink, gate, testOptions(), zerolog.Nop())

	gate.Enter()
	e.ingest(clickOn("save"))
	assert.Empty(t, sink.snapshot())

	gate.Exit()
	e.ingest(clickOn("save"))
	assert.Len(t, sink.snapshot(), 1)
}

func TestPointerPositionFallsBackIntoInputMeta(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(sink)

	e.ingest(event.RawEvent{Type: "pointerdown", X: 640, Y: 480})
	e.ingest(inputOn("q", "hello"))
	time.Sleep(100 * time.Millisecond)

	events := sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, float64(640), gjson.Get(events[0].MetaJSON, "x").Float())
	assert.Equal(t, float64(480), gjson.Get(events[0].MetaJSON, "y").Float())
}

func TestLastFocusedTracksFocusEvents(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(sink)
	assert.Empty(t, e.LastFocused())

	e.ingest(event.RawEvent{
		Type:   "focusin",
		Target: &event.ElementRef{Tag: "input", Attrs: map[string]string{"id": "email"}},
	})
	assert.Equal(t, "#email", e.LastFocused())

	// Blur does not clear the remembered selector.
	e.ingest(event.RawEvent{
		Type:   "focusout",
		Target: &event.ElementRef{Tag: "input", Attrs: map[string]string{"id": "email"}},
	})
	assert.Equal(t, "#email", e.LastFocused())
}

func TestScreenshotAttachedToClicks(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(sink)
	e.SetShooter(&fakeShooter{dataURL: "data:image/png;base64,AAAA"})

	e.ingest(clickOn("save"))
	e.ingest(event.RawEvent{Type: "focusin", Target: &event.ElementRef{Tag: "input", Attrs: map[string]string{"id": "x"}}})

	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "data:image/png;base64,AAAA", events[0].ScreenshotDataURL)
	assert.Empty(t, events[1].ScreenshotDataURL)
}

func TestSeqMonotonic(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(sink)

	e.ingest(clickOn("a"))
	e.ingest(clickOn("b"))
	e.ingest(clickOn("c"))

	events := sink.snapshot()
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestRunDrainsAndAnnounces(t *testing.T) {
	sink := &fakeSink{}
	bridge := &fakeBridge{batches: [][]event.RawEvent{{clickOn("go")}}}
	e := New(bridge, sink, &Gate{}, testOptions(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.ready)
	assert.Equal(t, "#go", sink.events[0].Selector)
}
