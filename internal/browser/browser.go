// Package browser owns the DevTools connection and the single recorded page.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Options configures how the page context is opened.
type Options struct {
	Width       int
	Height      int
	Headless    bool
	ProfileDir  string // Chrome/Chromium profile directory for authenticated sessions
	DevtoolsURL string // attach to an already-running browser instead of launching
	NavTimeout  time.Duration
}

func (o Options) navTimeout() time.Duration {
	if o.NavTimeout == 0 {
		return 30 * time.Second
	}
	return o.NavTimeout
}

// Browser wraps the Rod browser and the one page the engine observes.
type Browser struct {
	browser *rod.Browser
	page    *rod.Page
}

// Open launches (or attaches to) a browser and navigates the page to url.
func Open(url string, opts Options) (*Browser, error) {
	controlURL := opts.DevtoolsURL
	if controlURL == "" {
		path, _ := launcher.LookPath()
		l := launcher.New().Bin(path).Headless(opts.Headless)
		if opts.ProfileDir != "" {
			l = l.UserDataDir(opts.ProfileDir)
		}
		launched, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = launched
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	if opts.Width > 0 && opts.Height > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Width,
			Height:            opts.Height,
			DeviceScaleFactor: 1.0,
			Mobile:            false,
		}).Call(page); err != nil {
			_ = browser.Close()
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}

	if err := page.Timeout(opts.navTimeout()).WaitLoad(); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("wait for load: %w", err)
	}

	return &Browser{browser: browser, page: page}, nil
}

// Page returns the underlying Rod page.
func (b *Browser) Page() *rod.Page {
	return b.page
}

// Close releases the page and the browser connection.
func (b *Browser) Close() {
	if b.page != nil {
		_ = b.page.Close()
	}
	if b.browser != nil {
		_ = b.browser.Close()
	}
}

// Eval runs a JS function in the page and returns its result as raw JSON.
// Arguments are passed by value, promises are awaited.
func (b *Browser) Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	res, err := b.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
		UserGesture:  true,
	})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Value.Nil() {
		return nil, nil
	}
	return res.Value.MarshalJSON()
}

// AddInitScript registers a script evaluated in every new document, so the
// capture bridge survives navigations.
func (b *Browser) AddInitScript(src string) error {
	_, err := proto.PageAddScriptToEvaluateOnNewDocument{Source: src}.Call(b.page)
	return err
}

// Navigate loads url in the recorded page and waits for it to settle.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	page := b.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.Timeout(30 * time.Second).WaitLoad()
}

// NavigateBack goes one step back in the page history.
func (b *Browser) NavigateBack(ctx context.Context) error {
	return b.page.Context(ctx).NavigateBack()
}

// Settle waits for pending loads and network activity to quiet down. Used
// before re-reading page structure; persistent connections are tolerated via
// the timeout.
func (b *Browser) Settle(ctx context.Context) {
	page := b.page.Context(ctx)
	_ = page.Timeout(10 * time.Second).WaitLoad()
	page.Timeout(5 * time.Second).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
}
