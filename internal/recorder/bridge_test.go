package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qarecorder/internal/event"
)

func TestBridgeListenersFilterSynthesizedEvents(t *testing.T) {
	// Suppression happens at dispatch time inside the page: listeners bail on
	// untrusted events and on anything observed while the replay flag is up.
	assert.Contains(t, bridgeJS, "ev.isTrusted === false")
	assert.Contains(t, bridgeJS, "__QA_RECORDER_REPLAYING__")
	assert.Contains(t, bridgeJS, "function listen(")
	assert.NotContains(t, bridgeJS, "document.addEventListener")
	assert.NotContains(t, bridgeJS, "window.addEventListener")
}

func TestBufferDiscardedDuringReplayWindowNeverEmits(t *testing.T) {
	// Models a replay window end to end: records land in the page buffer while
	// the gate is held, the replay engine discards the buffer before releasing
	// the gate, and the next drain after release finds nothing to emit.
	sink := &fakeSink{}
	gate := &Gate{}
	bridge := &fakeBridge{}
	e := New(bridge, sink, gate, testOptions(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	gate.Enter()
	bridge.mu.Lock()
	bridge.batches = append(bridge.batches, []event.RawEvent{clickOn("synthesized")})
	bridge.mu.Unlock()
	require.NoError(t, bridge.Discard(context.Background()))
	gate.Exit()

	bridge.mu.Lock()
	bridge.batches = append(bridge.batches, []event.RawEvent{clickOn("real")})
	bridge.mu.Unlock()

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	events := sink.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "#real", events[0].Selector)
}
