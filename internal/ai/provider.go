// Package ai plans browser actions from a page map and a natural language
// goal. Providers wrap the hosted model APIs behind one interface so explore
// mode does not care which vendor generated the plan.
package ai

import (
	"context"
	"fmt"

	"qarecorder/internal/pagemap"
)

// Action is one planned browser step.
type Action struct {
	Type       string  `json:"action"` // click, type, scroll, wait, navigate
	Selector   string  `json:"selector,omitempty"`
	Text       string  `json:"text,omitempty"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	URL        string  `json:"url,omitempty"`
	Wait       int     `json:"wait,omitempty"`       // ms to pause after the action
	Checkpoint bool    `json:"checkpoint,omitempty"` // page changes enough to warrant re-analysis
}

// Provider generates action plans. ContinueActions is called after a
// checkpoint with a fresh page map and a log of what already ran.
type Provider interface {
	GenerateActions(ctx context.Context, pm *pagemap.PageMap, prompt string) ([]Action, error)
	ContinueActions(ctx context.Context, pm *pagemap.PageMap, originalPrompt, completedActions string) ([]Action, error)
}

// NewProvider creates a provider by name.
func NewProvider(name, model string) (Provider, error) {
	switch name {
	case "claude", "anthropic":
		return NewClaudeProvider(model)
	case "openai", "gpt":
		return NewOpenAIProvider(model)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", name)
	}
}
