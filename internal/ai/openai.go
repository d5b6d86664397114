package ai

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"qarecorder/internal/pagemap"
)

// OpenAIProvider implements the Provider interface using OpenAI
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(model string) (*OpenAIProvider, error) {
	apiKey := os.Getenv("QARECORDER_OPENAI_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("QARECORDER_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}

	client := openai.NewClient(apiKey)

	if model == "" {
		model = "gpt-4o"
	}

	return &OpenAIProvider{
		client: client,
		model:  model,
	}, nil
}

// GenerateActions generates browser actions from the page map and user prompt
func (p *OpenAIProvider) GenerateActions(ctx context.Context, pm *pagemap.PageMap, prompt string) ([]Action, error) {
	userPrompt, err := buildUserPrompt(pm, prompt)
	if err != nil {
		return nil, err
	}
	return p.request(ctx, userPrompt)
}

// ContinueActions generates the next batch of actions after a checkpoint
func (p *OpenAIProvider) ContinueActions(ctx context.Context, pm *pagemap.PageMap, originalPrompt, completedActions string) ([]Action, error) {
	userPrompt, err := buildContinuePrompt(pm, originalPrompt, completedActions)
	if err != nil {
		return nil, err
	}
	return p.request(ctx, userPrompt)
}

func (p *OpenAIProvider) request(ctx context.Context, userPrompt string) ([]Action, error) {
	resp, err := p.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: p.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: userPrompt,
				},
			},
			MaxTokens: 1024,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	responseText := resp.Choices[0].Message.Content

	actions, err := parseActionsJSON(responseText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OpenAI response as JSON: %w\nResponse: %s", err, responseText)
	}

	return actions, nil
}
