package mab

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metacortex/internal/config"
	"metacortex/internal/types"
)

func testConfig() config.MABConfig {
	cfg := config.Default().MAB
	cfg.MinSamples = 4
	cfg.GoldenMinSamples = 6
	cfg.GoldenSuccessRateThreshold = 0.8
	return cfg
}

func paths(ids ...string) []types.ReasoningPath {
	out := make([]types.ReasoningPath, len(ids))
	for i, id := range ids {
		out[i] = types.ReasoningPath{
			StrategyID:  id,
			InstanceID:  id + "_0",
			PathType:    id,
			Description: "test path " + id,
		}
	}
	return out
}

func TestSelectBest_UntriedArmsExploreFirst(t *testing.T) {
	c, err := NewConverger(testConfig(), nil)
	require.NoError(t, err)

	candidates := paths("a", "b", "c")
	seen := map[string]bool{}
	for i := 0; i < 40; i++ {
		chosen, decision, err := c.SelectBest(candidates, "auto")
		require.NoError(t, err)
		if len(seen) < 3 {
			assert.Equal(t, "thompson_sampling", decision.SelectionAlgorithm,
				"any untried candidate must force Thompson exploration")
		}
		seen[chosen.StrategyID] = true
	}
	assert.Len(t, seen, 3, "all untried arms should get sampled")
}

func TestUpdate_LazyArmCreation(t *testing.T) {
	c, err := NewConverger(testConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, c.Update("fresh", true, 0.7))

	arm, ok := c.Arm("fresh")
	require.True(t, ok, "updating a never-selected strategy must create its arm")
	assert.Equal(t, 1, arm.SuccessCount)
	assert.Equal(t, 0, arm.FailureCount)
	assert.Equal(t, 0.7, arm.TotalReward)
	assert.Equal(t, []float64{0.7}, arm.RecentRewards)
}

func TestUpdate_TracksSuccessRate(t *testing.T) {
	c, err := NewConverger(testConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, c.Update("a", true, 0.9))
	require.NoError(t, c.Update("a", true, 0.8))
	require.NoError(t, c.Update("a", false, -0.2))

	arm, ok := c.Arm("a")
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, arm.SuccessRate(), 1e-9)
}

func TestUpdate_ClampsOutOfRangeRewards(t *testing.T) {
	c, err := NewConverger(testConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, c.Update("x", true, 3.5))
	require.NoError(t, c.Update("x", false, -2.0))

	arm, ok := c.Arm("x")
	require.True(t, ok)
	assert.Equal(t, []float64{1.0, -1.0}, arm.RecentRewards)
	assert.Equal(t, 0.0, arm.TotalReward)

	history := c.FeedbackHistory()
	require.Len(t, history, 2)
	assert.True(t, history[0].Clamped)
	assert.True(t, history[1].Clamped)

	require.NoError(t, c.Update("x", true, 0.5))
	history = c.FeedbackHistory()
	assert.False(t, history[2].Clamped, "in-range rewards must not be flagged")
}

func TestGoldenTemplatePromotion(t *testing.T) {
	cfg := testConfig()
	c, err := NewConverger(cfg, nil)
	require.NoError(t, err)

	// Prime strategy metadata so promotion captures path_type/description.
	_, _, err = c.SelectBest(paths("star"), "thompson_sampling")
	require.NoError(t, err)

	for i := 0; i < cfg.GoldenMinSamples; i++ {
		require.NoError(t, c.Update("star", true, 1.0))
	}

	templates := c.GoldenTemplates()
	require.Len(t, templates, 1)
	assert.Equal(t, "star", templates[0].StrategyID)
	assert.GreaterOrEqual(t, templates[0].SuccessRate, cfg.GoldenSuccessRateThreshold)
}

func TestGoldenTemplatePromotion_ExactSampleBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.GoldenMinSamples = 20
	cfg.GoldenSuccessRateThreshold = 0.90
	c, err := NewConverger(cfg, nil)
	require.NoError(t, err)

	_, _, err = c.SelectBest(paths("edge"), "thompson_sampling")
	require.NoError(t, err)

	for i := 0; i < 19; i++ {
		require.NoError(t, c.Update("edge", true, 0.9))
	}
	assert.Empty(t, c.GoldenTemplates(), "19 samples must not promote")

	require.NoError(t, c.Update("edge", true, 0.9))
	assert.Len(t, c.GoldenTemplates(), 1, "the 20th sample crosses the promotion gate")
}

func TestGoldenTemplatePromotion_UnstableArmIsNotPromoted(t *testing.T) {
	cfg := testConfig()
	cfg.GoldenMinSamples = 20
	cfg.GoldenSuccessRateThreshold = 0.5
	c, err := NewConverger(cfg, nil)
	require.NoError(t, err)

	_, _, err = c.SelectBest(paths("wobble"), "thompson_sampling")
	require.NoError(t, err)

	// Long alternating runs of success and failure: the overall rate clears
	// the (lowered) threshold but the sliding-window variance does not.
	for i := 0; i < 30; i++ {
		success := (i/10)%2 == 0
		reward := 0.8
		if !success {
			reward = -0.5
		}
		require.NoError(t, c.Update("wobble", success, reward))
	}
	assert.Empty(t, c.GoldenTemplates())
}

func TestSelectBest_GoldenShortcutBypassesBandit(t *testing.T) {
	cfg := testConfig()
	c, err := NewConverger(cfg, nil)
	require.NoError(t, err)

	_, _, err = c.SelectBest(paths("star"), "thompson_sampling")
	require.NoError(t, err)
	for i := 0; i < cfg.GoldenMinSamples; i++ {
		require.NoError(t, c.Update("star", true, 1.0))
	}

	chosen, decision, err := c.SelectBest(paths("star", "other"), "auto")
	require.NoError(t, err)
	assert.Equal(t, "star", chosen.StrategyID)
	assert.Equal(t, "golden_template_match", decision.SelectionAlgorithm)

	templates := c.GoldenTemplates()
	require.Len(t, templates, 1)
	assert.Equal(t, 1, templates[0].UsageCountAsTemplate, "a golden match must bump the template's usage count")
}

func TestGoldenCache_EvictsWorstAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGoldenTemplates = 2
	c, err := NewConverger(cfg, nil)
	require.NoError(t, err)

	promote := func(id string) {
		_, _, err := c.SelectBest(paths(id), "thompson_sampling")
		require.NoError(t, err)
		for i := 0; i < cfg.GoldenMinSamples; i++ {
			require.NoError(t, c.Update(id, true, 1.0))
		}
	}

	promote("one")
	promote("two")
	require.Len(t, c.GoldenTemplates(), 2)

	promote("three")
	templates := c.GoldenTemplates()
	assert.Len(t, templates, 2, "cache must stay at capacity")
	ids := make([]string, len(templates))
	for i, g := range templates {
		ids[i] = g.StrategyID
	}
	assert.Contains(t, ids, "three", "the newly promoted template must displace an older one")
}

func TestDisableGoldenTemplates_SkipsPromotionAndShortcut(t *testing.T) {
	cfg := testConfig()
	c, err := NewConverger(cfg, nil)
	require.NoError(t, err)
	c.DisableGoldenTemplates()

	_, _, err = c.SelectBest(paths("star"), "thompson_sampling")
	require.NoError(t, err)
	for i := 0; i < cfg.GoldenMinSamples; i++ {
		require.NoError(t, c.Update("star", true, 1.0))
	}
	assert.Empty(t, c.GoldenTemplates())

	_, decision, err := c.SelectBest(paths("star", "other"), "auto")
	require.NoError(t, err)
	assert.NotEqual(t, "golden_template_match", decision.SelectionAlgorithm)
}

func TestBanditMonotonicity_ConvergesOnRewardingArm(t *testing.T) {
	for _, algorithm := range []string{"thompson_sampling", "ucb1", "epsilon_greedy"} {
		t.Run(algorithm, func(t *testing.T) {
			cfg := testConfig()
			cfg.GoldenMinSamples = 10000 // keep the golden shortcut out of the way
			c, err := NewConverger(cfg, nil)
			require.NoError(t, err)

			for i := 0; i < 50; i++ {
				require.NoError(t, c.Update("good", true, 0.9))
				require.NoError(t, c.Update("bad", false, -0.5))
			}

			candidates := paths("good", "bad")
			// Warmup lets UCB1's untried/confidence-bound phase settle before
			// the measured window.
			for i := 0; i < 50; i++ {
				_, _, err := c.SelectBest(candidates, algorithm)
				require.NoError(t, err)
			}

			goodCount := 0
			for i := 0; i < 100; i++ {
				chosen, _, err := c.SelectBest(candidates, algorithm)
				require.NoError(t, err)
				if chosen.StrategyID == "good" {
					goodCount++
				}
			}
			assert.Greater(t, goodCount, 70,
				fmt.Sprintf("%s should pick the rewarding arm more than 70%% of the time", algorithm))
		})
	}
}

func TestSelectBest_NoCandidatesErrors(t *testing.T) {
	c, err := NewConverger(testConfig(), nil)
	require.NoError(t, err)

	_, _, err = c.SelectBest(nil, "auto")
	assert.ErrorIs(t, err, errNoCandidates)
}

func TestRunMaintenance_CullsPersistentlyPoorArms(t *testing.T) {
	cfg := testConfig()
	c, err := NewConverger(cfg, nil)
	require.NoError(t, err)

	for i := 0; i < cfg.MinSamples*3; i++ {
		require.NoError(t, c.Update("dud", false, -1.0))
	}
	_, _, err = c.SelectBest(paths("dud"), "thompson_sampling")
	require.NoError(t, err)

	c.RunMaintenance()
	_, ok := c.Arm("dud")
	assert.False(t, ok, "a consistently failing, well-sampled arm should be culled")
}

func TestConfidence_GrowsWithEvidence(t *testing.T) {
	c, err := NewConverger(testConfig(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, c.Confidence("unknown"))

	require.NoError(t, c.Update("a", true, 0.8))
	low := c.Confidence("a")

	for i := 0; i < 25; i++ {
		require.NoError(t, c.Update("a", true, 0.8))
	}
	high := c.Confidence("a")
	assert.Greater(t, high, low)
	assert.LessOrEqual(t, high, 1.0)
}

func TestAllLowConfidence(t *testing.T) {
	c, err := NewConverger(testConfig(), nil)
	require.NoError(t, err)

	assert.True(t, c.AllLowConfidence(0.3), "no arms at all counts as low confidence")

	for i := 0; i < 25; i++ {
		require.NoError(t, c.Update("a", true, 0.8))
	}
	assert.False(t, c.AllLowConfidence(0.3))
}

func TestStabilityScore(t *testing.T) {
	stable := []bool{true, true, true, true, true, true, true, true, true, true}
	assert.Equal(t, 1.0, stabilityScore(stable))

	volatile := []bool{true, true, true, false, false, false, true, true, true, false}
	assert.Less(t, stabilityScore(volatile), 1.0)

	assert.Equal(t, 0.0, stabilityScore([]bool{true, true}))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("same words here", "same words here"))
	assert.Equal(t, 0.0, Jaccard("alpha beta", "gamma delta"))
	assert.InDelta(t, 0.5, Jaccard("alpha beta", "alpha gamma"), 1e-9)
}
