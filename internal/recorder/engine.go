// Package recorder runs the capture pipeline: it injects the bridge, drains
// raw records on a fixed cadence, debounces bursty event classes, and emits
// normalized events to the controller.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"qarecorder/internal/event"
	"qarecorder/internal/selector"
)

// Sink receives everything the pipeline emits.
type Sink interface {
	Ready() error
	Event(ev event.CapturedEvent) error
	Status(level, message string) error
}

// Shooter captures a page snapshot; optional, used for screenshot-on-event.
type Shooter interface {
	Capture(ctx context.Context) (string, error)
}

// Options holds the pipeline timings. Zero values fall back to the reference
// engine's windows.
type Options struct {
	PollInterval    time.Duration // bridge drain cadence
	InputDebounce   time.Duration // per-target input coalescing
	BurstDebounce   time.Duration // shared scroll/resize coalescing
	ScreenshotDelay time.Duration // wait before screenshot-on-event; shooter must be set
	Origin          string        // origin tag stamped on emitted events
}

func DefaultOptions() Options {
	return Options{
		PollInterval:  250 * time.Millisecond,
		InputDebounce: 350 * time.Millisecond,
		BurstDebounce: 500 * time.Millisecond,
		Origin:        "user",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.InputDebounce <= 0 {
		o.InputDebounce = d.InputDebounce
	}
	if o.BurstDebounce <= 0 {
		o.BurstDebounce = d.BurstDebounce
	}
	if o.Origin == "" {
		o.Origin = d.Origin
	}
	return o
}

// Engine is the capture pipeline. One instance exists per page context; all
// the state that was ambient in the reference (pointer position, timer maps,
// last focused element) lives here.
type Engine struct {
	bridge  Bridge
	sink    Sink
	gate    *Gate
	shooter Shooter
	norm    *event.Normalizer
	opts    Options
	log     zerolog.Logger
	seq     atomic.Int64

	runCtx context.Context

	mu            sync.Mutex
	pointer       event.PointerPosition
	lastFocused   string
	inputTimers   map[string]*time.Timer
	pendingInput  map[string]event.RawEvent
	scrollTimer   *time.Timer
	pendingScroll event.RawEvent
	resizeTimer   *time.Timer
	pendingResize event.RawEvent
}

func New(bridge Bridge, sink Sink, gate *Gate, opts Options, log zerolog.Logger) *Engine {
	return &Engine{
		bridge:       bridge,
		sink:         sink,
		gate:         gate,
		norm:         event.NewNormalizer(),
		opts:         opts.withDefaults(),
		log:          log,
		inputTimers:  make(map[string]*time.Timer),
		pendingInput: make(map[string]event.RawEvent),
	}
}

// SetShooter enables screenshot-on-event for click and submit.
func (e *Engine) SetShooter(s Shooter) {
	e.shooter = s
}

// LastFocused returns the selector of the most recently focused element, or
// "" when nothing has been focused yet.
func (e *Engine) LastFocused() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFocused
}

// Run installs the bridge, announces readiness, and polls until the context
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	if err := e.bridge.Install(ctx); err != nil {
		return fmt.Errorf("install capture bridge: %w", err)
	}
	if err := e.sink.Ready(); err != nil {
		return fmt.Errorf("announce ready: %w", err)
	}
	e.log.Info().Msg("capture bridge installed")

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.stopTimers()
			return nil
		case <-ticker.C:
			records, err := e.bridge.Drain(ctx)
			if err != nil {
				e.log.Debug().Err(err).Msg("bridge drain failed")
				continue
			}
			for _, raw := range records {
				e.ingest(raw)
			}
		}
	}
}

// ingest routes one raw record: pointer tracking, debounce, or direct emit.
func (e *Engine) ingest(raw event.RawEvent) {
	switch raw.Type {
	case "pointerdown":
		e.mu.Lock()
		e.pointer = event.PointerPosition{X: raw.X, Y: raw.Y}
		e.mu.Unlock()
	case "input":
		e.debounceInput(raw)
	case "scroll":
		e.mu.Lock()
		e.pendingScroll = raw
		if e.scrollTimer != nil {
			e.scrollTimer.Stop()
		}
		e.scrollTimer = time.AfterFunc(e.opts.BurstDebounce, func() {
			e.mu.Lock()
			pending := e.pendingScroll
			e.mu.Unlock()
			e.emit(pending)
		})
		e.mu.Unlock()
	case "resize":
		e.mu.Lock()
		e.pendingResize = raw
		if e.resizeTimer != nil {
			e.resizeTimer.Stop()
		}
		e.resizeTimer = time.AfterFunc(e.opts.BurstDebounce, func() {
			e.mu.Lock()
			pending := e.pendingResize
			e.mu.Unlock()
			e.emit(pending)
		})
		e.mu.Unlock()
	default:
		e.emit(raw)
	}
}

// debounceInput restarts the per-target timer; only the last record in a
// window survives. Distinct targets debounce independently.
func (e *Engine) debounceInput(raw event.RawEvent) {
	key := targetKey(raw)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingInput[key] = raw
	if t, ok := e.inputTimers[key]; ok {
		t.Stop()
	}
	e.inputTimers[key] = time.AfterFunc(e.opts.InputDebounce, func() {
		e.mu.Lock()
		pending, ok := e.pendingInput[key]
		delete(e.pendingInput, key)
		delete(e.inputTimers, key)
		e.mu.Unlock()
		if ok {
			e.emit(pending)
		}
	})
}

// emit normalizes and forwards one record. The gate check makes replayed
// interactions invisible: records seen while a replay holds the gate are
// dropped outright, not queued.
func (e *Engine) emit(raw event.RawEvent) {
	if e.gate.Active() {
		return
	}

	var sel string
	if raw.Target != nil {
		sel, _ = selector.Build(*raw.Target)
	}
	e.mu.Lock()
	ptr := e.pointer
	e.mu.Unlock()

	ev, ok := e.norm.Normalize(raw, sel, ptr)
	if !ok {
		return
	}

	if ev.EventType == "focus" && ev.Selector != "" {
		e.mu.Lock()
		e.lastFocused = ev.Selector
		e.mu.Unlock()
	}

	ev.EventID = uuid.NewString()
	ev.Seq = e.seq.Add(1)
	ev.Origin = e.opts.Origin

	if e.shooter != nil && (ev.EventType == "click" || ev.EventType == "submit") {
		if e.opts.ScreenshotDelay > 0 {
			time.Sleep(e.opts.ScreenshotDelay)
		}
		ctx := e.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		if dataURL, err := e.shooter.Capture(ctx); err == nil {
			ev.ScreenshotDataURL = dataURL
		} else {
			e.log.Warn().Err(err).Msg("event screenshot failed")
		}
	}

	if err := e.sink.Event(ev); err != nil {
		e.log.Error().Err(err).Str("eventType", ev.EventType).Msg("emit failed")
	}
}

func (e *Engine) stopTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.inputTimers {
		t.Stop()
	}
	e.inputTimers = make(map[string]*time.Timer)
	e.pendingInput = make(map[string]event.RawEvent)
	if e.scrollTimer != nil {
		e.scrollTimer.Stop()
	}
	if e.resizeTimer != nil {
		e.resizeTimer.Stop()
	}
}

// targetKey identifies a debounce bucket. The resolved selector doubles as
// the identity; elements with no selector fall back to their structural path.
func targetKey(raw event.RawEvent) string {
	if raw.Target == nil {
		return raw.Type
	}
	if sel, ok := selector.Build(*raw.Target); ok {
		return sel
	}
	return fmt.Sprintf("%s%v", raw.Target.Tag, raw.Target.Path)
}
