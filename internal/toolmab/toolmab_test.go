package toolmab

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metacortex/internal/llm"
	"metacortex/internal/search"
	"metacortex/internal/tools"
	"metacortex/internal/types"
)

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(r, &search.MockClient{Results: []search.Result{{Title: "t", URL: "u", Snippet: "widget durability tips"}}}))
	return r
}

func TestSelect_NoToolWhenRegistryEmpty(t *testing.T) {
	m := New(nil, tools.NewRegistry())
	decision, err := m.Select(context.Background(), State{Query: "search for widget reliability data"})
	require.NoError(t, err)
	assert.Equal(t, NoTool, decision.ToolName)
	assert.Equal(t, ModeNoTool, decision.Mode)
}

func TestSelect_ColdArmWithoutInvokerUsesExperienceMode(t *testing.T) {
	m := New(nil, newRegistry(t))
	m.rng = rand.New(rand.NewSource(1))

	decision, err := m.Select(context.Background(), State{Query: "search for widget reliability data", TaskType: "research"})
	require.NoError(t, err)
	if decision.ToolName != NoTool {
		assert.Equal(t, ModeExperience, decision.Mode)
		assert.True(t, decision.Cold)
	}
}

func TestSelect_ColdArmWithInvokerEntersExplorationMode(t *testing.T) {
	registry := newRegistry(t)
	mock := llm.NewMockInvoker()
	mock.OnContains("search for widget reliability", "**TOOL_CALL**: web_search | widget reliability")

	m := New(mock, registry)
	m.rng = rand.New(rand.NewSource(1))
	// Force the bandit's own suggestion to be cold by never training any arm.

	decision, err := m.Select(context.Background(), State{Query: "search for widget reliability data", TaskType: "research"})
	require.NoError(t, err)
	if decision.ToolName != NoTool {
		assert.Contains(t, registry.List(), decision.ToolName)

		decisions := m.Decisions()
		require.NotEmpty(t, decisions)
		last := decisions[len(decisions)-1]
		assert.Equal(t, ModeExploration, last.Mode, "cold arm with an invoker must switch to exploration mode")
		assert.NotEmpty(t, last.BanditSuggestion, "the bandit's own suggestion is kept for diagnostics")
	}
}

func TestSelect_RecordsEveryDecision(t *testing.T) {
	m := New(nil, newRegistry(t))
	for i := 0; i < 4; i++ {
		_, err := m.Select(context.Background(), State{Query: "tell me a story", TaskType: "general"})
		require.NoError(t, err)
	}
	assert.Len(t, m.Decisions(), 4)
}

func TestRunDirective_ExecutesAndTrainsNamedTool(t *testing.T) {
	m := New(nil, newRegistry(t))

	resolved, out, err := m.RunDirective(context.Background(), "calculator", "what is 2+2", types.Metadata{"expression": "2+2"})
	require.NoError(t, err)
	assert.Equal(t, "calculator", resolved)
	assert.InDelta(t, 4.0, out["result"], 1e-9)

	arm, ok := m.Arm("calculator")
	require.True(t, ok)
	assert.Equal(t, 1, arm.ActivationCount)

	decisions := m.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, ModeExploration, decisions[0].Mode)
	assert.NotEmpty(t, decisions[0].BanditSuggestion)
}

func TestRunDirective_FuzzyMatchesUnknownName(t *testing.T) {
	m := New(nil, newRegistry(t))

	resolved, _, err := m.RunDirective(context.Background(), "web_searching", "find widget reliability data", types.Metadata{"query": "widget reliability"})
	require.NoError(t, err)
	assert.Equal(t, "web_search", resolved)
}

func TestSelect_WarmArmSkipsExploration(t *testing.T) {
	registry := newRegistry(t)
	mock := llm.NewMockInvoker()
	// If exploration mode were entered, this would be the only configured
	// response; warm arms must never reach it.
	mock.Responses = []string{"**TOOL_CALL**: fetch_url | http://example.com"}

	m := New(mock, registry)
	m.rng = rand.New(rand.NewSource(7))

	for i := 0; i < 10; i++ {
		m.Update("calculator", Outcome{Success: true, Reward: 0.9})
	}

	decision, err := m.Select(context.Background(), State{Query: "calculate 2+2", TaskType: "computation", ToolsUsedThisSession: 0})
	require.NoError(t, err)
	if decision.ToolName == "calculator" {
		assert.Equal(t, ModeExperience, decision.Mode)
		assert.False(t, decision.Cold)
	}
}

func TestExploreWithLLM_FuzzyMatchesInvalidToolName(t *testing.T) {
	registry := newRegistry(t)
	mock := llm.NewMockInvoker()
	mock.OnContains("reliability", "**TOOL_CALL**: web_searching | widget reliability")

	m := New(mock, registry)
	chosen, err := m.exploreWithLLM(context.Background(), State{Query: "reliability search"}, "calculator")
	require.NoError(t, err)
	assert.Equal(t, "web_search", chosen)
}

func TestExploreWithLLM_FallsBackToBanditSuggestionOnNoMatch(t *testing.T) {
	registry := newRegistry(t)
	mock := llm.NewMockInvoker()
	mock.OnContains("xyz", "no tool call here")

	m := New(mock, registry)
	chosen, err := m.exploreWithLLM(context.Background(), State{Query: "xyz query"}, "calculator")
	require.NoError(t, err)
	assert.Equal(t, "calculator", chosen)
}

func TestRun_NoToolIsNeutralNoop(t *testing.T) {
	m := New(nil, newRegistry(t))
	out, err := m.Run(context.Background(), Decision{ToolName: NoTool, Mode: ModeNoTool}, "query", nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	arm, ok := m.Arm(NoTool)
	require.True(t, ok)
	assert.Equal(t, 1, arm.ActivationCount)
}

func TestRun_ExecutionErrorGetsFixedNegativeReward(t *testing.T) {
	registry := newRegistry(t)
	m := New(nil, registry)

	_, err := m.Run(context.Background(), Decision{ToolName: "calculator"}, "2+2", types.Metadata{"expression": "1/0"})
	assert.Error(t, err)

	arm, ok := m.Arm("calculator")
	require.True(t, ok)
	assert.Equal(t, -0.6, arm.TotalReward)
}

func TestRun_LLMJudgeRewardIsUsedWhenAvailable(t *testing.T) {
	registry := newRegistry(t)
	mock := llm.NewMockInvoker()
	mock.OnContains("Tool output:", "0.75")

	m := New(mock, registry)
	_, err := m.Run(context.Background(), Decision{ToolName: "calculator"}, "2+2", types.Metadata{"expression": "2+2"})
	require.NoError(t, err)

	arm, ok := m.Arm("calculator")
	require.True(t, ok)
	assert.InDelta(t, 0.75, arm.TotalReward, 1e-9)
}

func TestPNoTool_IncreasesWithGeneralTaskAndNoMarkers(t *testing.T) {
	low := pNoTool(State{Query: "search for the latest widget specs", TaskType: "research", ToolsUsedThisSession: 0})
	high := pNoTool(State{Query: "tell me a story", TaskType: "general", ToolsUsedThisSession: 3})
	assert.Less(t, low, high)
}
