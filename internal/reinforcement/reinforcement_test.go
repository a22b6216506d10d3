package reinforcement

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleBeta_StaysInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		v := SampleBeta(2.0, 5.0, rng)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestSampleBeta_MeanApproximatesTheory(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alpha, beta := 8.0, 2.0

	var sum float64
	const n = 20000
	for i := 0; i < n; i++ {
		sum += SampleBeta(alpha, beta, rng)
	}
	assert.InDelta(t, BetaMean(alpha, beta), sum/n, 0.01)
}

func TestSampleBeta_InvalidParamsFallBackToUniform(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	v := SampleBeta(0, -1, rng)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 1.0)
}

func TestSampleGamma_PositiveForSubUnityAlpha(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		assert.Greater(t, SampleGamma(0.5, 1.0, rng), 0.0)
	}
}

func TestUCB1Score_UntriedArmIsInfinite(t *testing.T) {
	assert.True(t, math.IsInf(UCB1Score(0.5, 0.5, 10, 0, 1.2), 1))
}

func TestUCB1Score_ExplorationShrinksWithActivations(t *testing.T) {
	few := UCB1Score(0.5, 0.5, 100, 2, 1.2)
	many := UCB1Score(0.5, 0.5, 100, 50, 1.2)
	assert.Greater(t, few, many)
}

func TestEpsilonForTotal(t *testing.T) {
	assert.InDelta(t, 0.4, EpsilonForTotal(0), 1e-9)
	assert.Less(t, EpsilonForTotal(100), EpsilonForTotal(10))
	assert.Equal(t, 0.1, EpsilonForTotal(100000), "epsilon never decays below the exploration floor")
}

func TestVariance(t *testing.T) {
	assert.Equal(t, 0.0, Variance(nil))
	assert.Equal(t, 0.0, Variance([]float64{1.0}))
	assert.Equal(t, 0.0, Variance([]float64{0.5, 0.5, 0.5}))
	assert.InDelta(t, 0.25, Variance([]float64{0, 1}), 1e-9)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))
	assert.Equal(t, 0.0, Clamp(-3, 0, 1))
	assert.Equal(t, 1.0, Clamp(7, 0, 1))
}
