// Package replay synthesizes previously captured events back into the page.
package replay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"qarecorder/internal/event"
	"qarecorder/internal/recorder"
)

// PageDriver is the slice of the browser the replay engine needs.
type PageDriver interface {
	Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error)
	Navigate(ctx context.Context, url string) error
	NavigateBack(ctx context.Context) error
}

// Reporter receives exactly one result per replayed event.
type Reporter interface {
	ReplaySucceeded(eventID, eventType string) error
	ReplayFailed(eventID, eventType, reason string) error
}

// Purger drops whatever the capture bridge buffered. The engine calls it
// before releasing the gate so interactions observed during a replay window
// are discarded instead of queued.
type Purger interface {
	Discard(ctx context.Context) error
}

// Engine drives event synthesis. Every Execute holds the gate for its whole
// duration so the capture pipeline never re-records a synthesized interaction.
type Engine struct {
	driver PageDriver
	gate   *recorder.Gate
	sink   Reporter
	purger Purger
	log    zerolog.Logger
}

func New(driver PageDriver, gate *recorder.Gate, sink Reporter, log zerolog.Logger) *Engine {
	return &Engine{driver: driver, gate: gate, sink: sink, log: log}
}

// SetPurger wires the capture bridge so replay windows end with an empty
// page buffer.
func (e *Engine) SetPurger(p Purger) {
	e.purger = p
}

// purge empties the page buffer while the gate is still held.
func (e *Engine) purge(ctx context.Context) {
	if e.purger == nil {
		return
	}
	if err := e.purger.Discard(ctx); err != nil {
		e.log.Warn().Err(err).Msg("replay buffer purge failed")
	}
}

// jsResult is the uniform shape every synthesis script resolves to. Scripts
// never reject; failures come back as {ok:false, error} so the reason reaches
// the controller verbatim.
type jsResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Every synthesis script raises the in-page replay flag for its whole
// duration so the capture bridge ignores the interactions it dispatches. The
// flag is cleared in finally, mirroring how the Go gate is released in defer.

// clickJS focuses the element without scrolling and dispatches the full
// pointer sequence a real click produces, ending with the captured terminal
// event for dblclick and contextmenu.
const clickJS = `(sel, type) => {
	let el;
	try { el = document.querySelector(sel); }
	catch (_) { return { ok: false, error: 'invalid selector: ' + sel }; }
	if (!el) return { ok: false, error: 'element not found: ' + sel };
	window.__QA_RECORDER_REPLAYING__ = true;
	try {
		if (el.focus) el.focus({ preventScroll: true });
		for (const t of ['pointerdown', 'mousedown', 'mouseup', 'click']) {
			const Ctor = t.startsWith('pointer') ? PointerEvent : MouseEvent;
			el.dispatchEvent(new Ctor(t, { bubbles: true, cancelable: true, view: window }));
		}
		if (type === 'dblclick' || type === 'contextmenu') {
			el.dispatchEvent(new MouseEvent(type, { bubbles: true, cancelable: true, view: window }));
		}
		return { ok: true };
	} catch (err) {
		return { ok: false, error: String(err) };
	} finally {
		window.__QA_RECORDER_REPLAYING__ = false;
	}
}`

// inputJS writes the value and fires input and change so framework bindings
// observe the edit. Handles form controls and contenteditable hosts.
const inputJS = `(sel, value) => {
	let el;
	try { el = document.querySelector(sel); }
	catch (_) { return { ok: false, error: 'invalid selector: ' + sel }; }
	if (!el) return { ok: false, error: 'element not found: ' + sel };
	window.__QA_RECORDER_REPLAYING__ = true;
	try {
		if (el.focus) el.focus({ preventScroll: true });
		const tag = el.tagName ? el.tagName.toLowerCase() : '';
		if (tag === 'input' || tag === 'textarea' || tag === 'select') {
			el.value = value;
		} else if (el.isContentEditable) {
			el.innerText = value;
		} else {
			return { ok: false, error: 'element is not editable: ' + sel };
		}
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return { ok: true };
	} catch (err) {
		return { ok: false, error: String(err) };
	} finally {
		window.__QA_RECORDER_REPLAYING__ = false;
	}
}`

// submitJS dispatches a cancelable submit and only falls back to the native
// submit() when no handler prevented it, matching real form behavior.
const submitJS = `(sel) => {
	let el;
	try { el = document.querySelector(sel); }
	catch (_) { return { ok: false, error: 'invalid selector: ' + sel }; }
	if (!el) return { ok: false, error: 'element not found: ' + sel };
	const form = el.tagName && el.tagName.toLowerCase() === 'form' ? el : (el.closest ? el.closest('form') : null);
	if (!form) return { ok: false, error: 'no form for selector: ' + sel };
	window.__QA_RECORDER_REPLAYING__ = true;
	try {
		const accepted = form.dispatchEvent(new Event('submit', { bubbles: true, cancelable: true }));
		if (accepted && form.submit) form.submit();
		return { ok: true };
	} catch (err) {
		return { ok: false, error: String(err) };
	} finally {
		window.__QA_RECORDER_REPLAYING__ = false;
	}
}`

const focusJS = `(sel) => {
	let el;
	try { el = document.querySelector(sel); }
	catch (_) { return { ok: false, error: 'invalid selector: ' + sel }; }
	if (!el) return { ok: false, error: 'element not found: ' + sel };
	window.__QA_RECORDER_REPLAYING__ = true;
	try {
		if (el.focus) el.focus({ preventScroll: true });
		return { ok: true };
	} catch (err) {
		return { ok: false, error: String(err) };
	} finally {
		window.__QA_RECORDER_REPLAYING__ = false;
	}
}`

const blurJS = `(sel) => {
	let el;
	try { el = document.querySelector(sel); }
	catch (_) { return { ok: false, error: 'invalid selector: ' + sel }; }
	if (!el) return { ok: false, error: 'element not found: ' + sel };
	window.__QA_RECORDER_REPLAYING__ = true;
	try {
		if (el.blur) el.blur();
		return { ok: true };
	} catch (err) {
		return { ok: false, error: String(err) };
	} finally {
		window.__QA_RECORDER_REPLAYING__ = false;
	}
}`

const keyJS = `(sel, key, alt, ctrl, shift, meta) => {
	let el;
	try { el = sel ? document.querySelector(sel) : document.activeElement; }
	catch (_) { return { ok: false, error: 'invalid selector: ' + sel }; }
	if (!el) return { ok: false, error: 'element not found: ' + sel };
	window.__QA_RECORDER_REPLAYING__ = true;
	try {
		const init = { key, bubbles: true, cancelable: true, altKey: alt, ctrlKey: ctrl, shiftKey: shift, metaKey: meta };
		el.dispatchEvent(new KeyboardEvent('keydown', init));
		el.dispatchEvent(new KeyboardEvent('keyup', init));
		return { ok: true };
	} catch (err) {
		return { ok: false, error: String(err) };
	} finally {
		window.__QA_RECORDER_REPLAYING__ = false;
	}
}`

const scrollJS = `(x, y) => {
	window.__QA_RECORDER_REPLAYING__ = true;
	try {
		window.scrollTo(x, y);
		return { ok: true };
	} catch (err) {
		return { ok: false, error: String(err) };
	} finally {
		window.__QA_RECORDER_REPLAYING__ = false;
	}
}`

// Execute synthesizes one captured event and reports exactly one result.
func (e *Engine) Execute(ctx context.Context, ev event.CapturedEvent) {
	e.gate.Enter()
	defer e.gate.Exit()
	defer e.purge(ctx)

	err := e.synthesize(ctx, ev)
	if err != nil {
		e.log.Warn().Err(err).Str("eventType", ev.EventType).Str("selector", ev.Selector).Msg("replay failed")
		if rerr := e.sink.ReplayFailed(ev.EventID, ev.EventType, err.Error()); rerr != nil {
			e.log.Error().Err(rerr).Msg("replay result send failed")
		}
		return
	}
	if rerr := e.sink.ReplaySucceeded(ev.EventID, ev.EventType); rerr != nil {
		e.log.Error().Err(rerr).Msg("replay result send failed")
	}
}

func (e *Engine) synthesize(ctx context.Context, ev event.CapturedEvent) error {
	switch ev.EventType {
	case "click", "dblclick", "contextmenu":
		if ev.Selector == "" {
			return fmt.Errorf("event has no selector")
		}
		return e.run(ctx, clickJS, ev.Selector, ev.EventType)
	case "input", "change":
		if ev.Selector == "" {
			return fmt.Errorf("event has no selector")
		}
		return e.run(ctx, inputJS, ev.Selector, ev.Value)
	case "submit":
		if ev.Selector == "" {
			return fmt.Errorf("event has no selector")
		}
		return e.run(ctx, submitJS, ev.Selector)
	case "focus":
		if ev.Selector == "" {
			return fmt.Errorf("event has no selector")
		}
		return e.run(ctx, focusJS, ev.Selector)
	case "blur":
		if ev.Selector == "" {
			return fmt.Errorf("event has no selector")
		}
		return e.run(ctx, blurJS, ev.Selector)
	case "keydown", "keyup":
		// Key events may target the active element when no selector survived.
		alt := gjson.Get(ev.MetaJSON, "alt").Bool()
		ctrl := gjson.Get(ev.MetaJSON, "ctrl").Bool()
		shift := gjson.Get(ev.MetaJSON, "shift").Bool()
		meta := gjson.Get(ev.MetaJSON, "meta").Bool()
		return e.run(ctx, keyJS, ev.Selector, ev.Value, alt, ctrl, shift, meta)
	case "scroll":
		x := gjson.Get(ev.MetaJSON, "scrollX").Float()
		y := gjson.Get(ev.MetaJSON, "scrollY").Float()
		return e.run(ctx, scrollJS, x, y)
	case "navigation":
		if ev.URL == "" {
			return fmt.Errorf("navigation event has no url")
		}
		if err := e.driver.Navigate(ctx, ev.URL); err != nil {
			return fmt.Errorf("navigate to %s: %w", ev.URL, err)
		}
		return nil
	default:
		return fmt.Errorf("replay not supported for event type %q", ev.EventType)
	}
}

// run evaluates one synthesis script and turns its {ok,error} result into a
// Go error.
func (e *Engine) run(ctx context.Context, js string, args ...any) error {
	raw, err := e.driver.Eval(ctx, js, args...)
	if err != nil {
		return fmt.Errorf("evaluate synthesis script: %w", err)
	}
	var res jsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode synthesis result: %w", err)
	}
	if !res.OK {
		if res.Error == "" {
			res.Error = "synthesis failed"
		}
		return fmt.Errorf("%s", res.Error)
	}
	return nil
}

// Back navigates one step back in history, behind the gate so the resulting
// page activity is not captured as user interaction.
func (e *Engine) Back(ctx context.Context) error {
	e.gate.Enter()
	defer e.gate.Exit()
	defer e.purge(ctx)
	if err := e.driver.NavigateBack(ctx); err != nil {
		return fmt.Errorf("navigate back: %w", err)
	}
	return nil
}

// Refocus restores focus to the given selector, typically the last focused
// element reported by the capture engine.
func (e *Engine) Refocus(ctx context.Context, sel string) error {
	if sel == "" {
		return fmt.Errorf("nothing to refocus")
	}
	e.gate.Enter()
	defer e.gate.Exit()
	defer e.purge(ctx)
	return e.run(ctx, focusJS, sel)
}
