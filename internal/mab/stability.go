package mab

import "metacortex/internal/reinforcement"

const (
	stabilityWindow    = 5
	stabilityMaxRecent = 20
)

// stabilityScore slides a width-5 window over the arm's last 20
// recent_results, takes the success rate of each window, and reports
// stability = max(0, 1 - 4*variance(window rates)). An arm whose
// success rate barely moves window to window scores near 1; one that
// swings between runs of failure and runs of success scores near 0.
//
// Fewer than stabilityWindow samples means there isn't a single full window
// yet, so stability is undefined and reported as 0 (never golden-eligible).
func stabilityScore(recentResults []bool) float64 {
	if len(recentResults) > stabilityMaxRecent {
		recentResults = recentResults[len(recentResults)-stabilityMaxRecent:]
	}
	if len(recentResults) < stabilityWindow {
		return 0
	}

	var rates []float64
	for start := 0; start+stabilityWindow <= len(recentResults); start++ {
		window := recentResults[start : start+stabilityWindow]
		successes := 0
		for _, ok := range window {
			if ok {
				successes++
			}
		}
		rates = append(rates, float64(successes)/float64(stabilityWindow))
	}

	v := reinforcement.Variance(rates)
	return reinforcement.Clamp(1-4*v, 0, 1)
}

// recentWindowSuccessRate is the success rate of the most recent width-5
// window, used by the golden-promotion gate's recent-window criterion.
func recentWindowSuccessRate(recentResults []bool) float64 {
	if len(recentResults) == 0 {
		return 0
	}
	n := stabilityWindow
	if n > len(recentResults) {
		n = len(recentResults)
	}
	window := recentResults[len(recentResults)-n:]
	successes := 0
	for _, ok := range window {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(window))
}
