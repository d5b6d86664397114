// Package transport frames the stdio protocol between the recorder and its
// controller: JSON lines, one tagged envelope per line. Stdout carries events
// and results outward; stdin carries commands in. Anything on stdin that is
// not a well-formed command is dropped without comment — stdin is the only
// trusted source, and noise on it is not an error condition.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/tidwall/gjson"

	"qarecorder/internal/event"
)

// Outbound message discriminants.
const (
	MsgReady        = "qa-recorder-ready"
	MsgEvent        = "qa-recorder-event"
	MsgStatus       = "qa-recorder-status"
	MsgCapture      = "qa-recorder-capture"
	MsgCaptureError = "qa-recorder-capture-error"
	MsgReplay       = "qa-recorder-replay"
	MsgReplayError  = "qa-recorder-replay-error"
	MsgNetwork      = "qa-recorder-network"
)

// MsgCommand is the single inbound discriminant.
const MsgCommand = "qa-recorder-command"

// Command actions.
const (
	ActionBack        = "back"
	ActionRefocus     = "refocus"
	ActionCapture     = "capture"
	ActionReplayEvent = "replay-event"
)

// Command is an inbound instruction from the controller.
type Command struct {
	Type      string               `json:"type"`
	Action    string               `json:"action"`
	RequestID string               `json:"requestId,omitempty"`
	Payload   *event.CapturedEvent `json:"payload,omitempty"`
}

type readyMsg struct {
	Type string `json:"type"`
}

type eventMsg struct {
	Type    string              `json:"type"`
	Payload event.CapturedEvent `json:"payload"`
}

type statusMsg struct {
	Type    string `json:"type"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type captureMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	DataURL   string `json:"dataUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

type networkMsg struct {
	Type    string               `json:"type"`
	Payload event.NetworkRequest `json:"payload"`
}

type replayMsg struct {
	Type      string `json:"type"`
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Error     string `json:"error,omitempty"`
}

// Sender serializes outbound envelopes onto a single writer. The mutex keeps
// lines whole when timers and the command loop emit concurrently.
type Sender struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSender(w io.Writer) *Sender {
	return &Sender{w: w}
}

func (s *Sender) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	_, err = s.w.Write([]byte("\n"))
	return err
}

// Ready announces that listeners are attached. Sent once per page.
func (s *Sender) Ready() error {
	return s.send(readyMsg{Type: MsgReady})
}

// Event forwards one captured interaction.
func (s *Sender) Event(ev event.CapturedEvent) error {
	return s.send(eventMsg{Type: MsgEvent, Payload: ev})
}

// Status forwards a log-style message to the controller.
func (s *Sender) Status(level, message string) error {
	return s.send(statusMsg{Type: MsgStatus, Level: level, Message: message})
}

// CaptureResult reports a successful snapshot, correlated by request id.
func (s *Sender) CaptureResult(requestID, dataURL string) error {
	return s.send(captureMsg{Type: MsgCapture, RequestID: requestID, DataURL: dataURL})
}

// CaptureFailure reports a failed snapshot, correlated by request id.
func (s *Sender) CaptureFailure(requestID, reason string) error {
	return s.send(captureMsg{Type: MsgCaptureError, RequestID: requestID, Error: reason})
}

// Network forwards one completed page request.
func (s *Sender) Network(req event.NetworkRequest) error {
	return s.send(networkMsg{Type: MsgNetwork, Payload: req})
}

// ReplaySucceeded reports a completed replay, correlated by event id.
func (s *Sender) ReplaySucceeded(eventID, eventType string) error {
	return s.send(replayMsg{Type: MsgReplay, EventID: eventID, EventType: eventType})
}

// ReplayFailed reports a failed replay, correlated by event id.
func (s *Sender) ReplayFailed(eventID, eventType, reason string) error {
	return s.send(replayMsg{Type: MsgReplayError, EventID: eventID, EventType: eventType, Error: reason})
}

// maxLine bounds a single inbound frame; replayed payloads can carry
// screenshot data URLs.
const maxLine = 16 << 20

// Reader consumes command lines from the controller.
type Reader struct {
	r    io.Reader
	cmds chan Command
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, cmds: make(chan Command, 16)}
}

// Commands returns the channel of accepted commands. It is closed when the
// input stream ends.
func (r *Reader) Commands() <-chan Command {
	return r.cmds
}

// Run reads until EOF or context cancellation. Lines that fail the
// discriminant check or do not decode are skipped silently.
func (r *Reader) Run(ctx context.Context) {
	defer close(r.cmds)
	sc := bufio.NewScanner(r.r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if gjson.GetBytes(line, "type").String() != MsgCommand {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			continue
		}
		if cmd.Action == "" {
			continue
		}
		select {
		case r.cmds <- cmd:
		case <-ctx.Done():
			return
		}
	}
}
