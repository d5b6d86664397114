// Package pagemap reads the structure of the current page: interactive
// elements with stable selectors plus the primary navigation. The explore
// runner feeds the result to the action planner.
package pagemap

import (
	"context"
	"encoding/json"
	"fmt"
)

// PageMap is the analyzed structure of one page state.
type PageMap struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Elements   []Element `json:"elements"`
	Navigation []NavItem `json:"navigation"`
	IsSPA      bool      `json:"isSPA"`
}

// Element is one interactive element.
type Element struct {
	Selector    string `json:"selector"`
	Type        string `json:"type"` // button, link, select, checkbox, radio, or the input type
	Text        string `json:"text,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
}

// NavItem is a navigation link.
type NavItem struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Href     string `json:"href"`
}

// Evaluator runs JS in the observed page.
type Evaluator interface {
	Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error)
}

// extractJS walks the live DOM once and returns the whole map. Selector
// preference mirrors the recorder's: stable attributes first, structural
// nth-child path as the fallback.
const extractJS = `() => {
	const PREFERRED = ['data-testid', 'data-purpose', 'id', 'name', 'aria-label', 'role'];

	function cssEscape(v) {
		return v.replace(/\\/g, '\\\\').replace(/"/g, '\\"');
	}

	function getSelector(el) {
		for (const attr of PREFERRED) {
			const v = el.getAttribute && el.getAttribute(attr);
			if (!v) continue;
			const sel = attr === 'id'
				? '#' + (window.CSS && CSS.escape ? CSS.escape(v) : v)
				: el.tagName.toLowerCase() + '[' + attr + '="' + cssEscape(v) + '"]';
			try {
				if (document.querySelectorAll(sel).length === 1) return sel;
			} catch (_) {}
		}
		const parent = el.parentElement;
		if (parent && parent !== document.body) {
			const index = Array.from(parent.children).indexOf(el) + 1;
			const parentSel = getSelector(parent);
			if (parentSel) return parentSel + ' > ' + el.tagName.toLowerCase() + ':nth-child(' + index + ')';
		}
		return el.tagName.toLowerCase();
	}

	const elements = [];
	const seen = new Set();
	function add(el, type, extra) {
		if (!el.offsetParent) return;
		const selector = getSelector(el);
		if (seen.has(selector)) return;
		seen.add(selector);
		elements.push(Object.assign({
			selector,
			type,
			id: el.id || undefined,
			name: el.name || undefined,
		}, extra));
	}

	document.querySelectorAll('button, [role="button"], input[type="submit"], input[type="button"]').forEach((el) => {
		add(el, 'button', { text: (el.textContent || el.value || '').trim().slice(0, 50) });
	});
	document.querySelectorAll('input:not([type="hidden"]):not([type="submit"]):not([type="button"]):not([type="checkbox"]):not([type="radio"]), textarea').forEach((el) => {
		add(el, el.type || 'text', { placeholder: el.placeholder || undefined });
	});
	document.querySelectorAll('a[href]').forEach((el) => {
		const href = el.getAttribute('href');
		if (!href || href.startsWith('#') || href.startsWith('javascript:')) return;
		add(el, 'link', { text: (el.textContent || '').trim().slice(0, 50) });
	});
	document.querySelectorAll('select').forEach((el) => add(el, 'select', {}));
	document.querySelectorAll('input[type="checkbox"], input[type="radio"]').forEach((el) => add(el, el.type, {}));

	const navigation = [];
	const seenHref = new Set();
	document.querySelectorAll('nav a, header a, [role="navigation"] a').forEach((el) => {
		if (!el.offsetParent) return;
		const href = el.getAttribute('href');
		if (!href || href === '#' || href.startsWith('javascript:')) return;
		if (seenHref.has(href)) return;
		seenHref.add(href);
		navigation.push({
			selector: el.id ? '#' + el.id : 'a[href="' + cssEscape(href) + '"]',
			text: (el.textContent || '').trim().slice(0, 30),
			href,
		});
	});

	const isSPA = !!(window.__REACT_DEVTOOLS_GLOBAL_HOOK__ ||
		document.querySelector('[data-reactroot], #__next, [ng-version], app-root, [class*="svelte-"]') ||
		window.__VUE__);

	return {
		url: location.href,
		title: document.title,
		elements,
		navigation,
		isSPA,
	};
}`

// Extract reads the current page structure.
func Extract(ctx context.Context, eval Evaluator) (*PageMap, error) {
	raw, err := eval.Eval(ctx, extractJS)
	if err != nil {
		return nil, fmt.Errorf("extract page map: %w", err)
	}
	var pm PageMap
	if err := json.Unmarshal(raw, &pm); err != nil {
		return nil, fmt.Errorf("decode page map: %w", err)
	}
	return &pm, nil
}
