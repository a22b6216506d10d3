package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metacortex/internal/llm"
	"metacortex/internal/search"
	"metacortex/internal/toolmab"
	"metacortex/internal/tools"
)

func TestVerify_ExtractsFeasibilityScore(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.OnContains("reasoning path", "This looks solid.\nfeasibility_score: 0.82")

	v := New(mock, nil, nil, nil)
	result := v.Verify(context.Background(), "reasoning path under test", StageReasoningPath)

	assert.InDelta(t, 0.82, result.FeasibilityScore, 1e-9)
	assert.InDelta(t, 0.32, result.Reward, 1e-9)
	assert.False(t, result.FallbackUsed)
}

func TestVerify_DefaultsToHalfWhenNoScoreFound(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.Responses = []string{"No numeric assessment here."}

	v := New(mock, nil, nil, nil)
	result := v.Verify(context.Background(), "text", StageThinkingSeed)

	assert.Equal(t, 0.5, result.FeasibilityScore)
}

func TestVerify_FallsBackOnLLMError(t *testing.T) {
	v := New(nil, nil, nil, nil)
	result := v.Verify(context.Background(), "text", StageThinkingSeed)

	assert.Equal(t, 0.0, result.FeasibilityScore)
	assert.Equal(t, -0.5, result.Reward)
	assert.True(t, result.FallbackUsed)
}

func TestVerify_ToolCallBonusIsUnconditional(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.OnContains("plan under test", "**TOOL_CALL**: web_search | widget reliability")
	mock.OnContains("Tool \"web_search\" failed", "Based on the search, feasibility_score: 0.6")

	registry := tools.NewRegistry()
	searchClient := &search.MockClient{Err: assertError{}}
	_ = tools.RegisterBuiltins(registry, searchClient)

	v := New(mock, registry, []string{"web_search"}, nil)
	result := v.Verify(context.Background(), "plan under test", StageReasoningPath)

	assert.InDelta(t, 0.6, result.FeasibilityScore, 1e-9)
	assert.InDelta(t, 0.15, result.Reward, 1e-9, "tool bonus applies even when the tool call itself errored")
}

func TestVerify_ToolCallsTrainTheBandit(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.OnContains("plan needing research", "**TOOL_CALL**: web_search | widget reliability")
	mock.OnContains("Tool \"web_search\" result", "Grounded by the search.\nfeasibility_score: 0.7")

	registry := tools.NewRegistry()
	searchClient := &search.MockClient{Results: []search.Result{{Title: "t", URL: "u", Snippet: "widget reliability data"}}}
	require.NoError(t, tools.RegisterBuiltins(registry, searchClient))

	bandit := toolmab.New(nil, registry)
	v := New(mock, registry, registry.NamesByCategory(tools.CategorySearch), bandit)
	result := v.Verify(context.Background(), "plan needing research", StageReasoningPath)

	assert.Equal(t, []string{"web_search"}, result.ToolCallsMade)
	assert.InDelta(t, 0.7, result.FeasibilityScore, 1e-9)

	arm, ok := bandit.Arm("web_search")
	require.True(t, ok, "the verification tool call must land in the bandit's arm map")
	assert.Equal(t, 1, arm.ActivationCount)

	decisions := bandit.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, toolmab.ModeExploration, decisions[0].Mode)
	assert.NotEmpty(t, decisions[0].BanditSuggestion)
}

func TestVerify_ScoringIsIdempotent(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.OnContains("candidate approach", "Workable with caveats.\nfeasibility_score: 0.67")

	v := New(mock, nil, nil, nil)
	first := v.Verify(context.Background(), "candidate approach", StageReasoningPath)
	second := v.Verify(context.Background(), "candidate approach", StageReasoningPath)

	assert.Equal(t, first.FeasibilityScore, second.FeasibilityScore)
	assert.Equal(t, first.Reward, second.Reward)
}

func TestExtractFeasibilityScore_CascadePriority(t *testing.T) {
	// The labelled form wins over a bare "score:" lower down.
	score := extractFeasibilityScore("score: 0.2\nfeasibility_score: 0.9")
	assert.Equal(t, 0.9, score)

	// Bare "score:" is the second tier.
	assert.Equal(t, 0.4, extractFeasibilityScore("overall score: 0.4"))

	// Out-of-range values are clamped.
	assert.Equal(t, 1.0, extractFeasibilityScore("feasibility_score: 1.7"))
}

type assertError struct{}

func (assertError) Error() string { return "search backend unavailable" }
