package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qarecorder/internal/pagemap"
)

func TestParseActionsJSONDirect(t *testing.T) {
	actions, err := parseActionsJSON(`[{"action":"click","selector":"#go","wait":500,"checkpoint":true}]`)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "click", actions[0].Type)
	assert.Equal(t, "#go", actions[0].Selector)
	assert.Equal(t, 500, actions[0].Wait)
	assert.True(t, actions[0].Checkpoint)
}

func TestParseActionsJSONExtractsFromProse(t *testing.T) {
	response := "Here is the plan:\n```json\n" +
		`[{"action":"type","selector":"#search","text":"hello"},{"action":"click","selector":"#btn"}]` +
		"\n```\nLet me know if you need changes."
	actions, err := parseActionsJSON(response)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "hello", actions[0].Text)
	assert.Equal(t, "#btn", actions[1].Selector)
}

func TestParseActionsJSONEmptyArray(t *testing.T) {
	actions, err := parseActionsJSON("[]")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestParseActionsJSONNoArray(t *testing.T) {
	_, err := parseActionsJSON("I cannot help with that.")
	assert.Error(t, err)
}

func TestParseActionsJSONUnbalanced(t *testing.T) {
	_, err := parseActionsJSON(`[{"action":"click"`)
	assert.Error(t, err)
}

func TestBuildUserPromptIncludesMapAndGoal(t *testing.T) {
	pm := &pagemap.PageMap{
		URL:   "https://example.com",
		Title: "Example",
		Elements: []pagemap.Element{
			{Selector: "#login", Type: "button", Text: "Log in"},
		},
	}
	got, err := buildUserPrompt(pm, "log in with a test account")
	require.NoError(t, err)
	assert.Contains(t, got, "#login")
	assert.Contains(t, got, "log in with a test account")
}

func TestBuildContinuePromptIncludesHistory(t *testing.T) {
	pm := &pagemap.PageMap{URL: "https://example.com"}
	got, err := buildContinuePrompt(pm, "check out the cart", "1. Clicked #cart")
	require.NoError(t, err)
	assert.Contains(t, got, "1. Clicked #cart")
	assert.Contains(t, got, "check out the cart")
	assert.True(t, strings.Contains(got, "Page map:"))
}

func TestNewProviderUnknownName(t *testing.T) {
	_, err := NewProvider("bard", "")
	assert.Error(t, err)
}
