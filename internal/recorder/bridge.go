package recorder

import (
	"context"
	"encoding/json"

	"qarecorder/internal/browser"
	"qarecorder/internal/event"
)

// bridgeJS is the capture bridge evaluated inside the page. It attaches one
// set of capturing-phase listeners and appends raw records to a window
// buffer the engine drains. The marker keeps a second injection from
// attaching duplicate listeners. Synthesized interactions never reach the
// buffer: listeners skip untrusted events and anything observed while the
// replay flag is up, so suppression happens at dispatch time rather than at
// the next drain.
const bridgeJS = `() => {
	const w = window;
	if (w.__QA_RECORDER_INJECTED__) return;
	w.__QA_RECORDER_INJECTED__ = true;
	w.__QA_RECORDER_BUFFER__ = [];

	const ATTRS = ['data-testid', 'data-purpose', 'id', 'name', 'aria-label', 'role', 'placeholder'];

	function listen(target, type, handler) {
		target.addEventListener(type, (ev) => {
			if (w.__QA_RECORDER_REPLAYING__ === true) return;
			if (ev && ev.isTrusted === false) return;
			handler(ev);
		}, true);
	}

	function describe(el) {
		if (!el || !el.tagName) return null;
		const tag = el.tagName.toLowerCase();
		const attrs = {};
		for (const a of ATTRS) {
			const v = el.getAttribute && el.getAttribute(a);
			if (v) attrs[a] = v;
		}
		const path = [];
		let cur = el;
		for (let depth = 0; cur && cur.tagName && cur !== document.body && depth < 4; depth++) {
			let idx = 1;
			let sib = cur.previousElementSibling;
			while (sib) {
				if (sib.tagName === cur.tagName) idx++;
				sib = sib.previousElementSibling;
			}
			path.push({ tag: cur.tagName.toLowerCase(), index: idx });
			cur = cur.parentElement;
		}
		const d = { tag, attrs, path };
		if (tag === 'input' || tag === 'textarea') {
			d.inputType = el.type || '';
			d.value = el.value || '';
		} else if (tag === 'select') {
			d.value = el.value || '';
			const opt = el.selectedOptions && el.selectedOptions[0];
			if (opt) d.optionText = (opt.textContent || '').trim().slice(0, 200);
		} else if (el.isContentEditable) {
			d.value = (el.innerText || '').slice(0, 400);
		}
		d.editable = tag === 'input' || tag === 'textarea' || tag === 'select' || !!el.isContentEditable;
		d.innerText = (el.innerText || '').trim().slice(0, 400);
		d.textContent = (el.textContent || '').trim().slice(0, 400);
		return d;
	}

	function base(type, target) {
		return { type, url: location.href, ts: Date.now(), target: describe(target) };
	}

	function push(rec) {
		w.__QA_RECORDER_BUFFER__.push(rec);
		if (w.__QA_RECORDER_BUFFER__.length > 500) w.__QA_RECORDER_BUFFER__.shift();
	}

	for (const t of ['click', 'dblclick', 'contextmenu']) {
		listen(document, t, (ev) => {
			const r = base(t, ev.target);
			r.x = ev.clientX;
			r.y = ev.clientY;
			push(r);
		});
	}

	listen(document, 'pointerdown', (ev) => {
		push({ type: 'pointerdown', url: location.href, ts: Date.now(), x: ev.clientX, y: ev.clientY });
	});

	listen(document, 'input', (ev) => {
		const r = base('input', ev.target);
		r.inputType = ev.inputType || '';
		push(r);
	});

	listen(document, 'change', (ev) => push(base('change', ev.target)));

	listen(document, 'submit', (ev) => {
		const form = (ev.target && ev.target.closest) ? (ev.target.closest('form') || ev.target) : ev.target;
		const r = base('submit', form);
		if (form && form.getAttribute) {
			r.formAction = form.getAttribute('action') || '';
			r.formMethod = form.getAttribute('method') || '';
		}
		push(r);
	});

	for (const t of ['keydown', 'keyup']) {
		listen(document, t, (ev) => {
			const r = base(t, ev.target);
			r.key = ev.key;
			r.altKey = ev.altKey;
			r.ctrlKey = ev.ctrlKey;
			r.shiftKey = ev.shiftKey;
			r.metaKey = ev.metaKey;
			push(r);
		});
	}

	for (const t of ['focusin', 'focusout']) {
		listen(document, t, (ev) => push(base(t, ev.target)));
	}

	listen(window, 'scroll', () => {
		push({ type: 'scroll', url: location.href, ts: Date.now(), scrollX: window.scrollX, scrollY: window.scrollY });
	});

	listen(window, 'resize', () => {
		push({
			type: 'resize', url: location.href, ts: Date.now(),
			innerWidth: window.innerWidth, innerHeight: window.innerHeight,
			outerWidth: window.outerWidth, outerHeight: window.outerHeight,
		});
	});
}`

const drainJS = `() => {
	const w = window;
	const buf = Array.isArray(w.__QA_RECORDER_BUFFER__) ? w.__QA_RECORDER_BUFFER__ : [];
	w.__QA_RECORDER_BUFFER__ = [];
	return buf;
}`

// Bridge is the engine's view of the in-page capture script.
type Bridge interface {
	Install(ctx context.Context) error
	Drain(ctx context.Context) ([]event.RawEvent, error)
	Discard(ctx context.Context) error
}

// rodBridge injects and drains the bridge through a live page.
type rodBridge struct {
	b *browser.Browser
}

// NewBridge returns a Bridge bound to the recorded page.
func NewBridge(b *browser.Browser) Bridge {
	return &rodBridge{b: b}
}

// Install registers the bridge for every new document and evaluates it in the
// current one, so capture starts without waiting for a navigation.
func (r *rodBridge) Install(ctx context.Context) error {
	if err := r.b.AddInitScript("(" + bridgeJS + ")();"); err != nil {
		return err
	}
	_, err := r.b.Eval(ctx, bridgeJS)
	return err
}

// Discard empties the page buffer and drops the records. The replay engine
// calls it while the gate is still held, so anything buffered during a replay
// window never surfaces as a captured event.
func (r *rodBridge) Discard(ctx context.Context) error {
	_, err := r.b.Eval(ctx, drainJS)
	return err
}

// Drain empties the page buffer and decodes the raw records.
func (r *rodBridge) Drain(ctx context.Context) ([]event.RawEvent, error) {
	raw, err := r.b.Eval(ctx, drainJS)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var records []event.RawEvent
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}
