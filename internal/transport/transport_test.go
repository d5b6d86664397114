package transport

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"qarecorder/internal/event"
)

func TestSenderFramesOneLinePerMessage(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender(&buf)

	require.NoError(t, s.Ready())
	require.NoError(t, s.Event(event.CapturedEvent{
		EventID:   "ev-1",
		EventType: "click",
		Selector:  "#save",
		URL:       "https://example.com",
		Ts:        1700000000000,
		Seq:       1,
	}))
	require.NoError(t, s.Status("info", "listening"))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	assert.Equal(t, MsgReady, gjson.Get(lines[0], "type").String())
	assert.Equal(t, MsgEvent, gjson.Get(lines[1], "type").String())
	assert.Equal(t, "ev-1", gjson.Get(lines[1], "payload.eventId").String())
	assert.Equal(t, "#save", gjson.Get(lines[1], "payload.selector").String())
	assert.Equal(t, MsgStatus, gjson.Get(lines[2], "type").String())
	assert.Equal(t, "listening", gjson.Get(lines[2], "message").String())
}

func TestSenderOmitsEmptyOptionalFields(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender(&buf)
	require.NoError(t, s.Event(event.CapturedEvent{EventID: "ev-2", EventType: "scroll", URL: "u"}))

	line := buf.String()
	assert.False(t, gjson.Get(line, "payload.selector").Exists())
	assert.False(t, gjson.Get(line, "payload.value").Exists())
	assert.False(t, gjson.Get(line, "payload.metaJson").Exists())
}

func TestSenderReplayResults(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender(&buf)
	require.NoError(t, s.ReplaySucceeded("ev-1", "click"))
	require.NoError(t, s.ReplayFailed("ev-2", "input", "element not found"))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, MsgReplay, gjson.Get(lines[0], "type").String())
	assert.False(t, gjson.Get(lines[0], "error").Exists())
	assert.Equal(t, MsgReplayError, gjson.Get(lines[1], "type").String())
	assert.Equal(t, "element not found", gjson.Get(lines[1], "error").String())
}

func TestSenderCaptureResults(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender(&buf)
	require.NoError(t, s.CaptureResult("req-1", "data:image/png;base64,AAAA"))
	require.NoError(t, s.CaptureFailure("req-2", "render failed"))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, MsgCapture, gjson.Get(lines[0], "type").String())
	assert.Equal(t, "req-1", gjson.Get(lines[0], "requestId").String())
	assert.Equal(t, MsgCaptureError, gjson.Get(lines[1], "type").String())
	assert.Equal(t, "render failed", gjson.Get(lines[1], "error").String())
}

func TestSenderNetwork(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender(&buf)
	require.NoError(t, s.Network(event.NetworkRequest{
		Method:   "POST",
		URL:      "https://api.example.com/login",
		Status:   200,
		TimingMs: 42,
		Resource: "XHR",
		Ts:       1700000000000,
	}))

	line := buf.String()
	assert.Equal(t, MsgNetwork, gjson.Get(line, "type").String())
	assert.Equal(t, "POST", gjson.Get(line, "payload.method").String())
	assert.Equal(t, "https://api.example.com/login", gjson.Get(line, "payload.url").String())
	assert.Equal(t, int64(200), gjson.Get(line, "payload.status").Int())
	assert.Equal(t, int64(42), gjson.Get(line, "payload.timingMs").Int())
	assert.Equal(t, "XHR", gjson.Get(line, "payload.resourceType").String())
}

func TestReaderAcceptsOnlyCommands(t *testing.T) {
	input := strings.Join([]string{
		`not json at all`,
		`{"type":"something-else","action":"back"}`,
		`{"type":"qa-recorder-command"}`,
		`{"type":"qa-recorder-command","action":"back"}`,
		`{"type":"qa-recorder-command","action":"replay-event","payload":{"eventId":"ev-9","eventType":"click","selector":"#go","url":"u"}}`,
		``,
	}, "\n")

	r := NewReader(strings.NewReader(input))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go r.Run(ctx)

	var got []Command
	for cmd := range r.Commands() {
		got = append(got, cmd)
	}

	require.Len(t, got, 2)
	assert.Equal(t, ActionBack, got[0].Action)
	assert.Equal(t, ActionReplayEvent, got[1].Action)
	require.NotNil(t, got[1].Payload)
	assert.Equal(t, "ev-9", got[1].Payload.EventID)
	assert.Equal(t, "#go", got[1].Payload.Selector)
}

func TestReaderClosesChannelOnEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go r.Run(ctx)

	select {
	case _, ok := <-r.Commands():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("commands channel never closed")
	}
}
