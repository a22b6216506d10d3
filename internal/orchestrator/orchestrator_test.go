package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metacortex/internal/config"
	"metacortex/internal/engineerr"
	"metacortex/internal/llm"
	"metacortex/internal/mab"
	"metacortex/internal/pathgen"
	"metacortex/internal/seed"
	"metacortex/internal/templates"
	"metacortex/internal/types"
	"metacortex/internal/verify"
)

func newTestOrchestrator(t *testing.T, invoker llm.Invoker) *Orchestrator {
	t.Helper()
	lib := templates.New()
	cfg := config.Default()

	seedGen := seed.New(invoker, nil, cfg.RAG, nil)
	verifier := verify.New(invoker, nil, nil, nil)
	pathGen := pathgen.New(lib, invoker, nil)
	converger, err := mab.NewConverger(cfg.MAB, nil)
	require.NoError(t, err)

	return New(seedGen, verifier, pathGen, converger, lib, invoker, cfg, nil)
}

func TestDecide_HappyPathChoosesAFeasiblePath(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.OnContains("feasibility_score", "Looks workable.\nfeasibility_score: 0.75")
	mock.Responses = []string{"A reasonable seed for the task."}

	o := newTestOrchestrator(t, mock)
	result, err := o.Decide(context.Background(), "plan a product launch", 0.5, "")

	require.NoError(t, err)
	assert.NotEmpty(t, result.ChosenPath.StrategyID)
	assert.False(t, result.DetourTriggered)
	assert.False(t, result.EmergencyFallback)
	assert.NotEmpty(t, result.VerifiedPaths)
}

func TestDecide_AllPathsInfeasibleTriggersDetour(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.Responses = []string{"This seems entirely infeasible.\nfeasibility_score: 0.05"}

	o := newTestOrchestrator(t, mock)
	result, err := o.Decide(context.Background(), "do the impossible", 0.5, "")

	require.NoError(t, err)
	assert.True(t, result.DetourTriggered)
	assert.NotEmpty(t, result.ChosenPath.StrategyID)
}

func TestDecide_DetourFallsBackToConservativeWhenInnovativePathsAlsoFail(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.Responses = []string{"No good approach here.\nfeasibility_score: 0.01"}

	o := newTestOrchestrator(t, mock)
	result, err := o.Decide(context.Background(), "do the impossible", 0.5, "")

	require.NoError(t, err)
	assert.True(t, result.DetourTriggered)
	assert.True(t, result.EmergencyFallback)
	assert.Equal(t, templates.ConservativeFallback, result.ChosenPath.StrategyID)
}

func TestDecide_NilInvokerStillProducesADecision(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	result, err := o.Decide(context.Background(), "a task with no LLM available", 0.5, "")

	require.NoError(t, err)
	assert.NotEmpty(t, result.ChosenPath.StrategyID)
}

func TestPathVerifyCount_AdaptiveMappingRespectsConfidenceAndComplexity(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	o.cfg.Performance.EnableAdaptivePathCount = true

	assert.Equal(t, 2, o.pathVerifyCount(6, 0.95, 0.5))  // confidence >= 0.9 -> 2
	assert.Equal(t, 3, o.pathVerifyCount(6, 0.95, 0.7))  // +1 for high complexity
	assert.Equal(t, 6, o.pathVerifyCount(6, 0.0, 0.5))   // confidence 0.0 -> 6, clamped to total
	assert.Equal(t, 1, o.pathVerifyCount(1, 0.0, 0.1))   // clamped to total when total is smaller
}

func TestPathVerifyCount_DisabledReturnsTotal(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	assert.Equal(t, 6, o.pathVerifyCount(6, 0.9, 0.9))
}

func TestUpdateOutcome_TracksConsecutiveFailures(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	result, err := o.Decide(context.Background(), "a task", 0.5, "")
	require.NoError(t, err)

	require.NoError(t, o.UpdateOutcome(result, false, 1.0, 0.2, -0.5))
	require.NoError(t, o.UpdateOutcome(result, false, 1.0, 0.2, -0.5))
	assert.Equal(t, 2, o.consecutiveFailures)

	require.NoError(t, o.UpdateOutcome(result, true, 1.0, 0.8, 0.5))
	assert.Equal(t, 0, o.consecutiveFailures)
}

func TestDetourStatistics_ResolvedByUpdateOutcome(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.Responses = []string{"No good approach here.\nfeasibility_score: 0.01"}

	o := newTestOrchestrator(t, mock)
	result, err := o.Decide(context.Background(), "do the impossible", 0.5, "")
	require.NoError(t, err)
	require.True(t, result.DetourTriggered)

	require.NoError(t, o.UpdateOutcome(result, false, 1.0, 0.1, -0.5))

	stats := o.DetourStatistics()
	assert.Equal(t, 1, stats.TotalDetours)
	assert.Equal(t, 0.0, stats.SuccessRate)
}

func TestDecide_RecordsAllFiveStageTimings(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	result, err := o.Decide(context.Background(), "a task", 0.5, "")
	require.NoError(t, err)

	stages := make([]string, len(result.StageTimings))
	for i, st := range result.StageTimings {
		stages[i] = st.Stage
	}
	assert.Equal(t, []string{
		"seed_generation", "seed_verification", "path_generation",
		"path_verification", "final_selection",
	}, stages)
}

func TestDecide_StageFourUpdatesEveryVerifiedArm(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.Responses = []string{"Looks fine.\nfeasibility_score: 0.75"}

	o := newTestOrchestrator(t, mock)
	o.cfg.Features.AhaMomentSystem = false

	result, err := o.Decide(context.Background(), "a task", 0.5, "")
	require.NoError(t, err)
	require.False(t, result.DetourTriggered)

	for _, vp := range result.VerifiedPaths {
		arm, ok := o.converger.Arm(vp.Path.StrategyID)
		require.True(t, ok, "every verified path must have produced an instant-learning update")
		assert.GreaterOrEqual(t, arm.SuccessCount+arm.FailureCount, 1)
	}
}

func TestDecide_EarlyTerminationStopsAfterConsistentResults(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.Responses = []string{"Looks fine.\nfeasibility_score: 0.75"}

	o := newTestOrchestrator(t, mock)
	o.cfg.Features.AhaMomentSystem = false
	o.cfg.Performance.EnableEarlyTermination = true

	result, err := o.Decide(context.Background(), "a task", 0.5, "")
	require.NoError(t, err)
	assert.Len(t, result.VerifiedPaths, 3, "three consistent results should stop further verification")
	assert.Greater(t, len(result.AvailablePaths), 3, "generation itself is not truncated")
}

func TestDecide_AhaMomentRegeneratesCreativePaths(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.Responses = []string{"Looks fine.\nfeasibility_score: 0.75"}

	o := newTestOrchestrator(t, mock)
	o.mu.Lock()
	o.consecutiveFailures = ahaConsecutiveFailureTrigger
	o.mu.Unlock()

	result, err := o.Decide(context.Background(), "a task", 0.5, "")
	require.NoError(t, err)
	require.False(t, result.DetourTriggered)

	assert.True(t, strings.HasPrefix(result.Reason, "aha_moment:"), "reason was %q", result.Reason)
	assert.Greater(t, len(result.VerifiedPaths), len(result.AvailablePaths),
		"extra creative-bypass paths are verified on top of the originals")
	assert.Equal(t, 1, o.Stats().TotalAhaMoments)
}

func TestUpdateOutcome_ConservativeFallbackNeverTrainsTheBandit(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	result := types.DecisionResult{
		ChosenPath: conservativeFallbackPath(),
	}

	require.NoError(t, o.UpdateOutcome(result, false, 1.0, 0.0, -1.0))
	_, ok := o.converger.Arm(templates.ConservativeFallback)
	assert.False(t, ok, "the emergency fallback stays outside the arm map")
}

func TestDecide_CancelledContextAbortsBetweenStages(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Decide(ctx, "a task", 0.5, "")
	assert.ErrorIs(t, err, engineerr.ErrCancelled)
}

func TestDecide_TruncatesOverlongSeeds(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.Responses = []string{strings.Repeat("long seed text ", 200)}

	o := newTestOrchestrator(t, mock)
	o.cfg.SystemLimits.MaxThinkingSeedLength = 100

	result, err := o.Decide(context.Background(), "a task", 0.5, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.ThinkingSeed.Text), 100)
}

func TestHistory_IsBoundedByConfiguredLimit(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	o.cfg.SystemLimits.MaxDecisionHistory = 3

	for i := 0; i < 5; i++ {
		_, err := o.Decide(context.Background(), "a task", 0.5, "")
		require.NoError(t, err)
	}

	history := o.History()
	require.Len(t, history, 3)
	assert.Equal(t, 5, history[2].Round, "the most recent decisions survive")
}

func TestValidatePaths_RejectsDuplicateInstanceIDs(t *testing.T) {
	err := validatePaths([]types.ReasoningPath{
		{StrategyID: "a", InstanceID: "dup"},
		{StrategyID: "b", InstanceID: "dup"},
	})
	assert.Error(t, err)
}
