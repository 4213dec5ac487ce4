package toolreg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler() HandlerFunc {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "ok", nil
	}
}

func TestRegisterFailsOnDuplicateName(t *testing.T) {
	r := New(nil, nil)
	assert.True(t, r.Register("tool_a", echoHandler(), ToolSpec{}, Metadata{}))
	assert.False(t, r.Register("tool_a", echoHandler(), ToolSpec{}, Metadata{}))
}

func TestExecuteUnknownToolReturnsError(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Execute(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestExecuteInactiveToolFailsWithoutError(t *testing.T) {
	r := New(nil, nil)
	r.Register("tool_a", echoHandler(), ToolSpec{}, Metadata{})
	r.SetStatus("tool_a", StatusInactive)

	result, err := r.Execute(context.Background(), "tool_a", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExecuteRecordsStats(t *testing.T) {
	r := New(nil, nil)
	r.Register("tool_a", echoHandler(), ToolSpec{}, Metadata{})

	_, err := r.Execute(context.Background(), "tool_a", nil)
	require.NoError(t, err)

	stats := r.Stats()["tool_a"]
	assert.Equal(t, int64(1), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.Successful)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestExecuteRateLimitsAfterBudgetExhausted(t *testing.T) {
	r := New(nil, nil)
	r.Register("tool_a", echoHandler(), ToolSpec{}, Metadata{RateLimitPerMinute: 1})

	first, err := r.Execute(context.Background(), "tool_a", nil)
	require.NoError(t, err)
	assert.False(t, first.IsError)

	second, err := r.Execute(context.Background(), "tool_a", nil)
	require.NoError(t, err)
	assert.True(t, second.IsError)
	assert.Contains(t, second.Content[0].Text, "rate limit")
}

type validatingHandler struct{}

func (validatingHandler) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return "ok", nil
}

func (validatingHandler) ValidateArguments(args map[string]interface{}) bool {
	_, ok := args["required_field"]
	return ok
}

func TestExecuteRejectsInvalidArguments(t *testing.T) {
	r := New(nil, nil)
	r.Register("tool_a", validatingHandler{}, ToolSpec{}, Metadata{})

	result, err := r.Execute(context.Background(), "tool_a", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "invalid")
}

func TestExecuteTimesOutSlowHandler(t *testing.T) {
	r := New(nil, nil)
	slow := HandlerFunc(func(ctx context.Context, args map[string]interface{}) (string, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return "too slow", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	r.Register("slow_tool", slow, ToolSpec{}, Metadata{Timeout: 5 * time.Millisecond})

	result, err := r.Execute(context.Background(), "slow_tool", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "timeout")
}

func TestListFiltersByCategoryAndStatus(t *testing.T) {
	r := New(nil, nil)
	r.Register("a", echoHandler(), ToolSpec{Category: "search"}, Metadata{})
	r.Register("b", echoHandler(), ToolSpec{Category: "ingestion"}, Metadata{})
	r.SetStatus("b", StatusDisabled)

	search := r.List("search", "")
	require.Len(t, search, 1)
	assert.Equal(t, "a", search[0].Spec.Name)

	disabled := r.List("", StatusDisabled)
	require.Len(t, disabled, 1)
	assert.Equal(t, "b", disabled[0].Spec.Name)
}

func TestInfoReturnsFalseForUnknownTool(t *testing.T) {
	r := New(nil, nil)
	_, ok := r.Info("nope")
	assert.False(t, ok)
}

func TestSaveAndLoadConfigurationRoundTrips(t *testing.T) {
	r := New(nil, nil)
	r.Register("tool_a", echoHandler(), ToolSpec{}, Metadata{RateLimitPerMinute: 5})
	r.SetStatus("tool_a", StatusDisabled)

	path := filepath.Join(t.TempDir(), "toolreg.json")
	require.NoError(t, r.SaveConfiguration(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tool_a")

	r2 := New(nil, nil)
	r2.Register("tool_a", echoHandler(), ToolSpec{}, Metadata{})
	require.NoError(t, r2.LoadConfiguration(path))

	info, ok := r2.Info("tool_a")
	require.True(t, ok)
	assert.Equal(t, StatusDisabled, info.Status)
	assert.Equal(t, 5, info.Metadata.RateLimitPerMinute)
}

func TestListToolsAndCallToolSurface(t *testing.T) {
	r := New(nil, nil)
	r.Register("tool_a", echoHandler(), ToolSpec{Description: "does a thing"}, Metadata{})

	tools := r.ListTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "tool_a", tools[0].Name)

	result, err := r.CallTool(context.Background(), "tool_a", nil)
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestResourcesAndPromptsRoundTrip(t *testing.T) {
	r := New(nil, nil)
	r.RegisterResource(Resource{
		URI:  "ptolemies://stats",
		Name: "stats",
		Read: func(ctx context.Context) (string, error) { return "snapshot", nil },
	})
	r.RegisterPrompt(Prompt{
		Name:   "summarize",
		Render: func(ctx context.Context, args map[string]interface{}) (string, error) { return "summarize please", nil },
	})

	require.Len(t, r.ListResources(), 1)
	content, err := r.ReadResource(context.Background(), "ptolemies://stats")
	require.NoError(t, err)
	assert.Equal(t, "snapshot", content)

	require.Len(t, r.ListPrompts(), 1)
	rendered, err := r.GetPrompt(context.Background(), "summarize", nil)
	require.NoError(t, err)
	assert.Equal(t, "summarize please", rendered)

	_, err = r.ReadResource(context.Background(), "missing")
	assert.Error(t, err)
}
