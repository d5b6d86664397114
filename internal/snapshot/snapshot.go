// Package snapshot captures a visual preview of the current page as a PNG
// data URL. Rendering happens inside the page; cross-origin content taints
// the canvas, so capture degrades through a fixed chain of strategies rather
// than failing outright.
package snapshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"strings"

	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
)

// Evaluator runs JS in the captured page.
type Evaluator interface {
	Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error)
}

// transparentPixelPNG is the absolute floor: a 1x1 transparent PNG returned
// when even the placeholder canvas cannot be produced. The controller always
// gets a renderable image.
const transparentPixelPNG = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

const pngDataPrefix = "data:image/png;base64,"

// Capturer runs the tiered capture. PreviewWidth, when set, caps the width of
// the returned image; larger captures are downscaled before leaving the
// process.
type Capturer struct {
	eval         Evaluator
	log          zerolog.Logger
	PreviewWidth int
}

func New(eval Evaluator, log zerolog.Logger) *Capturer {
	return &Capturer{eval: eval, log: log}
}

// tierResult is what every capture script resolves to. Scripts catch their
// own exceptions; a rejection would lose the error text inside the driver.
type tierResult struct {
	OK      bool   `json:"ok"`
	DataURL string `json:"dataUrl"`
	Error   string `json:"error"`
}

// directRenderJS serializes the live document into an SVG foreignObject and
// rasterizes it through an Image onto a canvas. Same-origin pages survive
// this intact; cross-origin subresources taint the canvas and surface as a
// security error.
const directRenderJS = `() => new Promise((resolve) => {
	let blobUrl = null;
	const fail = (err) => {
		if (blobUrl) URL.revokeObjectURL(blobUrl);
		resolve({ ok: false, error: String(err) });
	};
	try {
		const width = Math.max(1, document.documentElement.clientWidth || window.innerWidth);
		const height = Math.max(1, document.documentElement.clientHeight || window.innerHeight);
		const serialized = new XMLSerializer().serializeToString(document.documentElement);
		const svg = '<svg xmlns="http://www.w3.org/2000/svg" width="' + width + '" height="' + height + '">' +
			'<foreignObject width="100%" height="100%">' + serialized + '</foreignObject></svg>';
		blobUrl = URL.createObjectURL(new Blob([svg], { type: 'image/svg+xml;charset=utf-8' }));
		const img = new Image();
		img.onload = () => {
			try {
				const canvas = document.createElement('canvas');
				canvas.width = width;
				canvas.height = height;
				const cx = canvas.getContext('2d');
				cx.fillStyle = '#ffffff';
				cx.fillRect(0, 0, width, height);
				cx.drawImage(img, 0, 0);
				const dataUrl = canvas.toDataURL('image/png');
				URL.revokeObjectURL(blobUrl);
				resolve({ ok: true, dataUrl });
			} catch (err) {
				fail(err);
			}
		};
		img.onerror = () => fail('snapshot image failed to load');
		img.src = blobUrl;
	} catch (err) {
		fail(err);
	}
})`

// sanitizedRenderJS renders a cloned document with the usual taint sources
// removed: scripts, media, and anything referencing another origin. Layout
// fidelity drops but the capture stays same-origin clean.
const sanitizedRenderJS = `() => new Promise((resolve) => {
	let blobUrl = null;
	const fail = (err) => {
		if (blobUrl) URL.revokeObjectURL(blobUrl);
		resolve({ ok: false, error: String(err) });
	};
	try {
		const width = Math.max(1, document.documentElement.clientWidth || window.innerWidth);
		const height = Math.max(1, document.documentElement.clientHeight || window.innerHeight);
		const clone = document.documentElement.cloneNode(true);
		for (const el of clone.querySelectorAll('script, iframe, video, audio, embed, object, canvas, picture, source, svg')) {
			el.remove();
		}
		const sameOrigin = (u) => {
			try { return new URL(u, location.href).origin === location.origin; }
			catch (_) { return false; }
		};
		for (const img of clone.querySelectorAll('img')) {
			const src = img.getAttribute('src');
			img.removeAttribute('srcset');
			if (src && !sameOrigin(src)) img.remove();
		}
		for (const link of clone.querySelectorAll('link[rel="stylesheet"], link[rel="icon"], link[rel="preload"]')) {
			const href = link.getAttribute('href');
			if (href && !sameOrigin(href)) link.remove();
		}
		const stripRefs = (css) => css
			.replace(/url\([^)]*\)/g, 'none')
			.replace(/@import[^;]*;/g, '')
			.replace(/@font-face\s*{[^}]*}/g, '');
		for (const style of clone.querySelectorAll('style')) {
			style.textContent = stripRefs(style.textContent || '');
		}
		for (const el of clone.querySelectorAll('[style]')) {
			const style = el.getAttribute('style') || '';
			if (style.includes('url(')) el.setAttribute('style', stripRefs(style));
		}
		for (const el of clone.querySelectorAll('[background]')) {
			el.removeAttribute('background');
		}
		const serialized = new XMLSerializer().serializeToString(clone);
		const svg = '<svg xmlns="http://www.w3.org/2000/svg" width="' + width + '" height="' + height + '">' +
			'<foreignObject width="100%" height="100%">' + serialized + '</foreignObject></svg>';
		blobUrl = URL.createObjectURL(new Blob([svg], { type: 'image/svg+xml;charset=utf-8' }));
		const img = new Image();
		img.onload = () => {
			try {
				const canvas = document.createElement('canvas');
				canvas.width = width;
				canvas.height = height;
				const cx = canvas.getContext('2d');
				cx.fillStyle = '#ffffff';
				cx.fillRect(0, 0, width, height);
				cx.drawImage(img, 0, 0);
				const dataUrl = canvas.toDataURL('image/png');
				URL.revokeObjectURL(blobUrl);
				resolve({ ok: true, dataUrl });
			} catch (err) {
				fail(err);
			}
		};
		img.onerror = () => fail('sanitized snapshot image failed to load');
		img.src = blobUrl;
	} catch (err) {
		fail(err);
	}
})`

// placeholderJS paints a synthetic frame when the page cannot be rendered at
// all. No DOM content is read, so nothing here can taint.
const placeholderJS = `() => {
	try {
		const width = Math.max(1, document.documentElement.clientWidth || window.innerWidth || 800);
		const height = Math.max(1, document.documentElement.clientHeight || window.innerHeight || 600);
		const canvas = document.createElement('canvas');
		canvas.width = width;
		canvas.height = height;
		const cx = canvas.getContext('2d');
		cx.fillStyle = '#f3f4f6';
		cx.fillRect(0, 0, width, height);
		cx.strokeStyle = '#d1d5db';
		cx.lineWidth = 2;
		for (let x = -height; x < width; x += 24) {
			cx.beginPath();
			cx.moveTo(x, 0);
			cx.lineTo(x + height, height);
			cx.stroke();
		}
		cx.fillStyle = '#6b7280';
		cx.font = '16px sans-serif';
		cx.textAlign = 'center';
		cx.fillText('Preview capture unavailable', width / 2, height / 2 - 12);
		cx.fillText('Cross-origin content blocked', width / 2, height / 2 + 12);
		return { ok: true, dataUrl: canvas.toDataURL('image/png') };
	} catch (err) {
		return { ok: false, error: String(err) };
	}
}`

// securityError reports whether a tier failed because of canvas tainting
// rather than some other fault. Only these failures justify the sanitized
// retry; anything else goes straight to the placeholder.
func securityError(msg string) bool {
	for _, marker := range []string{"Tainted canvases", "SecurityError", "insecure"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Capture runs the strategy chain and always returns a usable data URL: when
// every tier fails it falls through to the 1x1 floor with a nil error, so a
// capture request still produces a result. Only a dead context yields an
// error, since no tier could even be attempted.
func (c *Capturer) Capture(ctx context.Context) (string, error) {
	dataURL, err := c.tier(ctx, directRenderJS)
	if err == nil {
		return c.shrink(dataURL), nil
	}
	c.log.Debug().Err(err).Msg("direct snapshot failed")

	if securityError(err.Error()) {
		dataURL, serr := c.tier(ctx, sanitizedRenderJS)
		if serr == nil {
			return c.shrink(dataURL), nil
		}
		c.log.Debug().Err(serr).Msg("sanitized snapshot failed")
	}

	dataURL, perr := c.tier(ctx, placeholderJS)
	if perr == nil {
		return c.shrink(dataURL), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	c.log.Warn().Err(perr).Msg("placeholder snapshot failed, returning floor image")
	return transparentPixelPNG, nil
}

func (c *Capturer) tier(ctx context.Context, js string) (string, error) {
	raw, err := c.eval.Eval(ctx, js)
	if err != nil {
		return "", fmt.Errorf("evaluate snapshot script: %w", err)
	}
	var res tierResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode snapshot result: %w", err)
	}
	if !res.OK || res.DataURL == "" {
		if res.Error == "" {
			res.Error = "empty snapshot"
		}
		return "", fmt.Errorf("%s", res.Error)
	}
	return res.DataURL, nil
}

// shrink downscales a PNG data URL to PreviewWidth. Non-PNG payloads and
// decode failures pass through untouched; a preview is better oversized than
// missing.
func (c *Capturer) shrink(dataURL string) string {
	if c.PreviewWidth <= 0 || !strings.HasPrefix(dataURL, pngDataPrefix) {
		return dataURL
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, pngDataPrefix))
	if err != nil {
		return dataURL
	}
	img, err := png.Decode(bytes.NewReader(decoded))
	if err != nil {
		return dataURL
	}
	if img.Bounds().Dx() <= c.PreviewWidth {
		return dataURL
	}
	small := resize.Resize(uint(c.PreviewWidth), 0, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return dataURL
	}
	return pngDataPrefix + base64.StdEncoding.EncodeToString(buf.Bytes())
}
