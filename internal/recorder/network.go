package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"qarecorder/internal/event"
)

// NetworkSink receives completed request summaries.
type NetworkSink interface {
	Network(req event.NetworkRequest) error
}

// watchedTypes limits network reporting to navigations and API traffic.
// Images, stylesheets and the rest of the asset noise never leave the process.
var watchedTypes = map[proto.NetworkResourceType]bool{
	proto.NetworkResourceTypeDocument: true,
	proto.NetworkResourceTypeXHR:      true,
	proto.NetworkResourceTypeFetch:    true,
}

type pendingRequest struct {
	method   string
	url      string
	resource proto.NetworkResourceType
	started  time.Time
}

// NetworkTracker correlates request and response notifications by request id
// and produces one summary per completed request.
type NetworkTracker struct {
	mu      sync.Mutex
	pending map[string]pendingRequest
}

func NewNetworkTracker() *NetworkTracker {
	return &NetworkTracker{pending: make(map[string]pendingRequest)}
}

// Request records an outgoing request. Unwatched resource types are ignored.
func (t *NetworkTracker) Request(id, method, url string, resource proto.NetworkResourceType, at time.Time) {
	if !watchedTypes[resource] {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[id] = pendingRequest{method: method, url: url, resource: resource, started: at}
}

// Response completes a tracked request. The bool is false when the response
// belongs to a request that was never tracked.
func (t *NetworkTracker) Response(id string, status int, at time.Time) (event.NetworkRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return event.NetworkRequest{}, false
	}
	delete(t.pending, id)
	return event.NetworkRequest{
		Method:   p.method,
		URL:      p.url,
		Status:   status,
		TimingMs: at.Sub(p.started).Milliseconds(),
		Resource: string(p.resource),
		Ts:       p.started.UnixMilli(),
	}, true
}

// NetworkWatcher subscribes to the page's DevTools network notifications and
// forwards completed request summaries to the sink.
type NetworkWatcher struct {
	page    *rod.Page
	sink    NetworkSink
	tracker *NetworkTracker
	log     zerolog.Logger
}

func NewNetworkWatcher(page *rod.Page, sink NetworkSink, log zerolog.Logger) *NetworkWatcher {
	return &NetworkWatcher{page: page, sink: sink, tracker: NewNetworkTracker(), log: log}
}

// Run blocks until ctx is cancelled, streaming request summaries as responses
// arrive.
func (w *NetworkWatcher) Run(ctx context.Context) {
	w.page.Context(ctx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			w.tracker.Request(string(e.RequestID), e.Request.Method, e.Request.URL, e.Type, time.Now())
		},
		func(e *proto.NetworkResponseReceived) {
			req, ok := w.tracker.Response(string(e.RequestID), e.Response.Status, time.Now())
			if !ok {
				return
			}
			if err := w.sink.Network(req); err != nil {
				w.log.Warn().Err(err).Str("url", req.URL).Msg("network message send failed")
			}
		},
	)()
}
