// Package explore drives an AI-planned walk through a page. Planned actions
// run through the replay engine, so they go behind the gate like any other
// synthesized interaction, and each one is also emitted as a captured event
// tagged origin "ai" for the controller to record.
package explore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"

	"qarecorder/internal/ai"
	"qarecorder/internal/event"
	"qarecorder/internal/pagemap"
	"qarecorder/internal/recorder"
)

// maxIterations bounds the checkpoint loop so a confused plan cannot spin
// forever.
const maxIterations = 20

// Driver is the page access explore needs beyond what replay provides.
type Driver interface {
	Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error)
	Settle(ctx context.Context)
}

// Replayer synthesizes one event into the page.
type Replayer interface {
	Execute(ctx context.Context, ev event.CapturedEvent)
}

// Runner executes one exploration goal.
type Runner struct {
	driver   Driver
	provider ai.Provider
	replayer Replayer
	sink     recorder.Sink
	log      zerolog.Logger
	seq      atomic.Int64
}

func NewRunner(driver Driver, provider ai.Provider, replayer Replayer, sink recorder.Sink, log zerolog.Logger) *Runner {
	return &Runner{
		driver:   driver,
		provider: provider,
		replayer: replayer,
		sink:     sink,
		log:      log,
	}
}

// Run plans and executes actions until the goal is met, an iteration budget
// runs out, or planning fails. Checkpoint actions trigger a re-read of the
// page and a continuation request with the log of what already ran.
func (r *Runner) Run(ctx context.Context, prompt string) error {
	r.driver.Settle(ctx)
	pm, err := pagemap.Extract(ctx, r.driver)
	if err != nil {
		return fmt.Errorf("read initial page: %w", err)
	}

	actions, err := r.provider.GenerateActions(ctx, pm, prompt)
	if err != nil {
		return fmt.Errorf("plan actions: %w", err)
	}

	var completed []string
	for iteration := 0; iteration < maxIterations; iteration++ {
		if len(actions) == 0 {
			r.log.Info().Int("iterations", iteration).Msg("exploration complete")
			return nil
		}

		checkpointHit := false
		for _, action := range actions {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.log.Info().Str("action", action.Type).Str("selector", action.Selector).Msg("executing planned action")
			r.perform(ctx, action)
			completed = append(completed, describeAction(action))
			if action.Wait > 0 {
				time.Sleep(time.Duration(action.Wait) * time.Millisecond)
			}
			if action.Checkpoint {
				checkpointHit = true
				break
			}
		}

		if !checkpointHit {
			r.log.Info().Int("iterations", iteration+1).Msg("exploration complete")
			return nil
		}

		r.driver.Settle(ctx)
		pm, err = pagemap.Extract(ctx, r.driver)
		if err != nil {
			return fmt.Errorf("re-read page after checkpoint: %w", err)
		}
		actions, err = r.provider.ContinueActions(ctx, pm, prompt, strings.Join(completed, "\n"))
		if err != nil {
			return fmt.Errorf("plan continuation: %w", err)
		}
	}

	return fmt.Errorf("exploration did not converge within %d iterations", maxIterations)
}

// perform turns one planned action into a captured event and replays it.
// Wait actions only pause; they produce no event.
func (r *Runner) perform(ctx context.Context, action ai.Action) {
	ev, ok := r.toEvent(action)
	if !ok {
		return
	}
	if err := r.sink.Event(ev); err != nil {
		r.log.Error().Err(err).Str("eventType", ev.EventType).Msg("emit planned event failed")
	}
	r.replayer.Execute(ctx, ev)
}

func (r *Runner) toEvent(action ai.Action) (event.CapturedEvent, bool) {
	ev := event.CapturedEvent{
		EventID: uuid.NewString(),
		Origin:  "ai",
		Ts:      time.Now().UnixMilli(),
		Seq:     r.seq.Add(1),
	}
	switch action.Type {
	case "click":
		ev.EventType = "click"
		ev.Selector = action.Selector
	case "type":
		ev.EventType = "input"
		ev.Selector = action.Selector
		ev.Value = action.Text
	case "navigate":
		ev.EventType = "navigation"
		ev.URL = action.URL
	case "scroll":
		meta, _ := sjson.Set("{}", "scrollX", action.X)
		meta, _ = sjson.Set(meta, "scrollY", action.Y)
		ev.EventType = "scroll"
		ev.MetaJSON = meta
	default:
		return event.CapturedEvent{}, false
	}
	return ev, true
}

func describeAction(action ai.Action) string {
	switch action.Type {
	case "type":
		return fmt.Sprintf("type %q into %s", action.Text, action.Selector)
	case "navigate":
		return "navigate to " + action.URL
	case "scroll":
		return fmt.Sprintf("scroll to %.0f,%.0f", action.X, action.Y)
	case "wait":
		return fmt.Sprintf("wait %dms", action.Wait)
	default:
		return action.Type + " " + action.Selector
	}
}
