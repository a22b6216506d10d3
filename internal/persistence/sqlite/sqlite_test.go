package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metacortex/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath, 5000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndLoadArms_RoundTrips(t *testing.T) {
	store := newTestStore(t)

	arm := &types.DecisionArm{
		StrategyID:        "systematic_analytical",
		SuccessCount:      7,
		FailureCount:      2,
		TotalReward:       3.5,
		RecentRewards:     []float64{0.1, 0.2, 0.3},
		RecentResults:     []bool{true, true, false},
		RewardHistory:     []float64{0.1, 0.2, 0.3},
		ActivationCount:   9,
		LastUsedTimestamp: time.Now().Truncate(time.Second),
		LastAlgorithm:     "thompson_sampling",
	}
	require.NoError(t, store.SaveArm(arm))

	loaded, err := store.LoadArms()
	require.NoError(t, err)
	require.Contains(t, loaded, "systematic_analytical")

	got := loaded["systematic_analytical"]
	assert.Equal(t, arm.SuccessCount, got.SuccessCount)
	assert.Equal(t, arm.FailureCount, got.FailureCount)
	assert.Equal(t, arm.RecentRewards, got.RecentRewards)
	assert.Equal(t, arm.RecentResults, got.RecentResults)
	assert.Equal(t, arm.LastAlgorithm, got.LastAlgorithm)
	assert.WithinDuration(t, arm.LastUsedTimestamp, got.LastUsedTimestamp, time.Second)
}

func TestSaveArm_UpsertsOnConflict(t *testing.T) {
	store := newTestStore(t)

	arm := &types.DecisionArm{StrategyID: "practical_pragmatic", SuccessCount: 1}
	require.NoError(t, store.SaveArm(arm))

	arm.SuccessCount = 5
	require.NoError(t, store.SaveArm(arm))

	loaded, err := store.LoadArms()
	require.NoError(t, err)
	assert.Equal(t, 5, loaded["practical_pragmatic"].SuccessCount)
	assert.Len(t, loaded, 1)
}

func TestGoldenTemplates_SaveLoadAndDelete(t *testing.T) {
	store := newTestStore(t)

	tpl := &types.GoldenTemplate{
		StrategyID:     "creative_innovative",
		PathType:       "Creative Innovative",
		Description:    "a promoted template",
		SuccessRate:    0.92,
		StabilityScore: 0.8,
		CreatedAt:      time.Now().Truncate(time.Second),
		LastUpdated:    time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.SaveGoldenTemplate(tpl))

	loaded, err := store.LoadGoldenTemplates()
	require.NoError(t, err)
	require.Contains(t, loaded, "creative_innovative")
	assert.InDelta(t, 0.92, loaded["creative_innovative"].SuccessRate, 1e-9)

	require.NoError(t, store.DeleteGoldenTemplate("creative_innovative"))
	loaded, err = store.LoadGoldenTemplates()
	require.NoError(t, err)
	assert.NotContains(t, loaded, "creative_innovative")
}
