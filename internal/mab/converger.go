// Package mab implements the reasoning-strategy multi-armed bandit:
// Thompson Sampling / UCB1 / epsilon-greedy arm selection, the
// golden-template shortcut that reuses strategies with a sustained track
// record, and trial-ground culling of persistently poor arms.
package mab

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"metacortex/internal/config"
	"metacortex/internal/reinforcement"
	"metacortex/internal/types"
)

const (
	// goldenMatchThreshold is the minimum golden-template match score that
	// short-circuits bandit selection entirely.
	goldenMatchThreshold = 0.85
	// goldenStabilityThreshold gates promotion: the stability score must
	// clear this before an arm is considered settled.
	goldenStabilityThreshold = 0.5
	// recentWindowFactor requires the most recent window's success rate to
	// stay within this factor of the overall rate for promotion.
	recentWindowFactor = 0.95
	// autoTotalSelectionsFloor keeps "auto" on Thompson Sampling until the
	// candidates have this many combined selections (distinct from
	// cfg.MinSamples, which gates per-arm sample sufficiency).
	autoTotalSelectionsFloor = 15
	// selectionHistoryCap bounds the selection-record log.
	selectionHistoryCap = 200
	// trialGroundCullFloor is the minimum sample count before an arm can be
	// culled for a persistently poor success rate.
	trialGroundCullFloor = 10
)

type templateMeta struct {
	PathType    string
	Description string
}

// Converger owns every bandit arm and the golden-template cache. A single
// Converger instance spans a process; callers do not shard it per session.
type Converger struct {
	mu sync.RWMutex

	cfg            config.MABConfig
	store          ArmStore
	rng            *rand.Rand
	goldenDisabled bool

	arms   map[string]*types.DecisionArm
	meta   map[string]templateMeta
	golden map[string]*types.GoldenTemplate

	totalSelections  int
	selectionHistory []SelectionRecord
	feedbackHistory  []FeedbackRecord
}

// SelectionRecord is one entry in the bounded selection log.
type SelectionRecord struct {
	StrategyID string
	PathType   string
	Algorithm  string
	Round      int
	Timestamp  time.Time
}

// FeedbackRecord is one entry in the bounded feedback log. Clamped is set
// when the caller handed Update a reward outside [-1,+1] and it had to be
// clamped before use.
type FeedbackRecord struct {
	StrategyID string
	Success    bool
	Reward     float64
	Clamped    bool
	Timestamp  time.Time
}

// NewConverger builds a Converger, loading prior state from store when one
// is provided.
func NewConverger(cfg config.MABConfig, store ArmStore) (*Converger, error) {
	c := &Converger{
		cfg:    cfg,
		store:  store,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		arms:   make(map[string]*types.DecisionArm),
		meta:   make(map[string]templateMeta),
		golden: make(map[string]*types.GoldenTemplate),
	}
	if store != nil {
		arms, err := store.LoadArms()
		if err != nil {
			return nil, err
		}
		for id, a := range arms {
			c.arms[id] = a
			c.totalSelections += a.ActivationCount
		}
		golden, err := store.LoadGoldenTemplates()
		if err != nil {
			return nil, err
		}
		for id, g := range golden {
			c.golden[id] = g
		}
	}
	return c, nil
}

// DisableGoldenTemplates switches the golden-template subsystem off
// (feature_flags.golden_template_system): no promotion, no selection
// shortcut. Existing templates are retained but ignored.
func (c *Converger) DisableGoldenTemplates() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.goldenDisabled = true
}

// Arm returns a copy of the arm state for strategyID, or false if it has
// never been selected or updated.
func (c *Converger) Arm(strategyID string) (types.DecisionArm, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.arms[strategyID]
	if !ok {
		return types.DecisionArm{}, false
	}
	return *a, true
}

// GoldenTemplates returns a snapshot of the current golden-template cache.
func (c *Converger) GoldenTemplates() []types.GoldenTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.GoldenTemplate, 0, len(c.golden))
	for _, g := range c.golden {
		out = append(out, *g)
	}
	return out
}

func (c *Converger) ensureArm(strategyID string) *types.DecisionArm {
	if a, ok := c.arms[strategyID]; ok {
		return a
	}
	a := &types.DecisionArm{StrategyID: strategyID}
	c.arms[strategyID] = a
	return a
}

// SelectBest picks one of candidates. algorithm is "auto", "thompson_sampling",
// "ucb1", or "epsilon_greedy"; "auto" inspects convergence and delegates.
func (c *Converger) SelectBest(candidates []types.ReasoningPath, algorithm string) (types.ReasoningPath, types.MABDecision, error) {
	if len(candidates) == 0 {
		return types.ReasoningPath{}, types.MABDecision{}, errNoCandidates
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range candidates {
		c.meta[p.StrategyID] = templateMeta{PathType: p.PathType, Description: p.Description}
	}

	if path, score, ok := c.matchGolden(candidates); ok {
		c.recordSelection(path.StrategyID, "golden_template_match")
		c.golden[path.StrategyID].UsageCountAsTemplate++
		return path, types.MABDecision{
			StrategyID:         path.StrategyID,
			SelectionAlgorithm: "golden_template_match",
			Confidence:         score,
		}, nil
	}

	chosenAlgorithm := algorithm
	if chosenAlgorithm == "" || chosenAlgorithm == "auto" {
		chosenAlgorithm = c.chooseAlgorithm(candidates)
	}

	var chosen types.ReasoningPath
	switch chosenAlgorithm {
	case "ucb1":
		chosen = c.selectUCB1(candidates)
	case "epsilon_greedy":
		chosen = c.selectEpsilonGreedy(candidates)
	default:
		chosenAlgorithm = "thompson_sampling"
		chosen = c.selectThompson(candidates)
	}

	c.recordSelection(chosen.StrategyID, chosenAlgorithm)
	return chosen, types.MABDecision{
		StrategyID:         chosen.StrategyID,
		SelectionAlgorithm: chosenAlgorithm,
		Confidence:         c.confidenceLocked(chosen.StrategyID),
	}, nil
}

func (c *Converger) recordSelection(strategyID, algorithm string) {
	a := c.ensureArm(strategyID)
	a.ActivationCount++
	a.LastUsedTimestamp = time.Now()
	a.LastAlgorithm = algorithm
	c.totalSelections++

	c.selectionHistory = append(c.selectionHistory, SelectionRecord{
		StrategyID: strategyID,
		PathType:   c.meta[strategyID].PathType,
		Algorithm:  algorithm,
		Round:      c.totalSelections,
		Timestamp:  a.LastUsedTimestamp,
	})
	if len(c.selectionHistory) > selectionHistoryCap {
		c.selectionHistory = c.selectionHistory[len(c.selectionHistory)-selectionHistoryCap:]
	}
}

// SelectionHistory returns a snapshot of the bounded selection log.
func (c *Converger) SelectionHistory() []SelectionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SelectionRecord, len(c.selectionHistory))
	copy(out, c.selectionHistory)
	return out
}

// chooseAlgorithm implements the "auto" rule: untried candidates and a
// low-sample regime favor Thompson Sampling's exploration; once every
// candidate has enough samples, the variance of their success rates decides
// between continued Thompson exploration, UCB1's confidence-bound
// exploitation, or epsilon-greedy's near-pure exploitation.
func (c *Converger) chooseAlgorithm(candidates []types.ReasoningPath) string {
	rates := make([]float64, 0, len(candidates))
	total := 0
	for _, p := range candidates {
		a, ok := c.arms[p.StrategyID]
		if !ok || a.ActivationCount == 0 || observations(a) < c.cfg.MinSamples {
			return "thompson_sampling"
		}
		rates = append(rates, a.SuccessRate())
		total += a.ActivationCount
	}
	if total < autoTotalSelectionsFloor {
		return "thompson_sampling"
	}

	v := reinforcement.Variance(rates)
	switch {
	case v > c.cfg.ConvergenceThreshold:
		return "thompson_sampling"
	case v > c.cfg.ConvergenceThreshold/2:
		return "ucb1"
	default:
		return "epsilon_greedy"
	}
}

func (c *Converger) selectThompson(candidates []types.ReasoningPath) types.ReasoningPath {
	best := candidates[0]
	bestScore := -1.0
	for _, p := range candidates {
		a := c.ensureArm(p.StrategyID)
		sample := reinforcement.SampleBeta(float64(a.SuccessCount+1), float64(a.FailureCount+1), c.rng)
		score := 0.8*sample + 0.2*normalizedReward(a.MeanReward()) - usageSharePenalty(a, c.totalSelections)
		if score > bestScore {
			bestScore = score
			best = p
		}
	}
	return best
}

func (c *Converger) selectUCB1(candidates []types.ReasoningPath) types.ReasoningPath {
	total := c.totalSelections
	if total < 1 {
		total = 1
	}
	best := candidates[0]
	bestScore := -1.0
	for _, p := range candidates {
		a := c.ensureArm(p.StrategyID)
		score := reinforcement.UCB1Score(a.SuccessRate(), normalizedReward(a.MeanReward()), total, a.ActivationCount, 1.2)
		if score > bestScore {
			bestScore = score
			best = p
		}
	}
	return best
}

func (c *Converger) selectEpsilonGreedy(candidates []types.ReasoningPath) types.ReasoningPath {
	epsilon := reinforcement.EpsilonForTotal(c.totalSelections)
	if c.cfg.ExplorationEpsilonMin > epsilon {
		epsilon = c.cfg.ExplorationEpsilonMin
	}
	if c.rng.Float64() < epsilon {
		return candidates[c.rng.Intn(len(candidates))]
	}

	best := candidates[0]
	bestScore := -1.0
	for _, p := range candidates {
		a := c.ensureArm(p.StrategyID)
		score := 0.7*a.SuccessRate() + 0.3*normalizedReward(a.MeanReward())
		if c.totalSelections > 0 && float64(a.ActivationCount)/float64(c.totalSelections) > 0.5 {
			score -= 0.05
		}
		if score > bestScore {
			bestScore = score
			best = p
		}
	}
	return best
}

func normalizedReward(meanReward float64) float64 {
	return reinforcement.Clamp((meanReward+1)/2, 0, 1)
}

func usageSharePenalty(a *types.DecisionArm, totalSelections int) float64 {
	if totalSelections <= 0 {
		return 0
	}
	share := float64(a.ActivationCount) / float64(totalSelections)
	return 0.1 * share
}

// Confidence is how much the bandit trusts strategyID's current estimate:
// a sample-count-tiered base blended with success rate, stability, and the
// success rate over the arm's recent-results history.
func (c *Converger) Confidence(strategyID string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.confidenceLocked(strategyID)
}

func (c *Converger) confidenceLocked(strategyID string) float64 {
	a, ok := c.arms[strategyID]
	if !ok {
		return 0
	}
	var base float64
	switch n := observations(a); {
	case n < 5:
		base = 0.2
	case n < 10:
		base = 0.4
	case n < 20:
		base = 0.6
	default:
		base = 0.8
	}
	stability := stabilityScore(a.RecentResults)
	return 0.3*base + 0.4*a.SuccessRate() + 0.2*stability + 0.1*a.RecentSuccessRate()
}

// AllLowConfidence reports whether every known arm is below threshold, or
// whether there are no arms at all (one of the aha-moment triggers).
func (c *Converger) AllLowConfidence(threshold float64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.arms) == 0 {
		return true
	}
	for id := range c.arms {
		if c.confidenceLocked(id) >= threshold {
			return false
		}
	}
	return true
}

// Update records an outcome for strategyID, persists it if a store is
// configured, and checks golden-template promotion. Rewards outside [-1,+1]
// are clamped, with the clamp noted in the feedback log.
func (c *Converger) Update(strategyID string, success bool, reward float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clamped := reward < -1 || reward > 1
	reward = reinforcement.Clamp(reward, -1, 1)

	a := c.ensureArm(strategyID)
	if success {
		a.SuccessCount++
	} else {
		a.FailureCount++
	}
	a.TotalReward += reward
	a.PushReward(reward, success)

	c.feedbackHistory = append(c.feedbackHistory, FeedbackRecord{
		StrategyID: strategyID,
		Success:    success,
		Reward:     reward,
		Clamped:    clamped,
		Timestamp:  time.Now(),
	})
	if len(c.feedbackHistory) > selectionHistoryCap {
		c.feedbackHistory = c.feedbackHistory[len(c.feedbackHistory)-selectionHistoryCap:]
	}

	if c.store != nil {
		if err := c.store.SaveArm(a); err != nil {
			return err
		}
	}

	c.checkPromotion(strategyID)
	return nil
}

// FeedbackHistory returns a snapshot of the bounded feedback log.
func (c *Converger) FeedbackHistory() []FeedbackRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]FeedbackRecord, len(c.feedbackHistory))
	copy(out, c.feedbackHistory)
	return out
}

func (c *Converger) checkPromotion(strategyID string) {
	if c.goldenDisabled {
		return
	}
	a := c.arms[strategyID]
	if observations(a) < c.cfg.GoldenMinSamples {
		return
	}
	sr := a.SuccessRate()
	if sr < c.cfg.GoldenSuccessRateThreshold {
		return
	}
	stability := stabilityScore(a.RecentResults)
	if stability < goldenStabilityThreshold {
		return
	}
	if recentWindowSuccessRate(a.RecentResults) < recentWindowFactor*sr {
		return
	}

	meta := c.meta[strategyID]
	now := time.Now()
	existing, already := c.golden[strategyID]
	if already {
		existing.SuccessRate = sr
		existing.StabilityScore = stability
		existing.LastUpdated = now
		return
	}

	if len(c.golden) >= c.cfg.MaxGoldenTemplates {
		c.evictWorstGolden()
	}

	tpl := &types.GoldenTemplate{
		StrategyID:     strategyID,
		PathType:       meta.PathType,
		Description:    meta.Description,
		SuccessRate:    sr,
		StabilityScore: stability,
		CreatedAt:      now,
		LastUpdated:    now,
	}
	c.golden[strategyID] = tpl
	if c.store != nil {
		_ = c.store.SaveGoldenTemplate(tpl)
	}
}

// evictWorstGolden removes the lowest-quality golden template, making room
// for a newly-promoted one. Quality is
// 0.4*success_rate + 0.3*min(1, usage_count_as_template/10) + 0.2*stability_score + 0.1*recency,
// where recency decays linearly from 1.0 at 24h-old to 0.0 at 7-days-old.
func (c *Converger) evictWorstGolden() {
	var worstID string
	worstScore := 2.0
	now := time.Now()
	for id, g := range c.golden {
		usageFactor := maxF(0, reinforcement.Clamp(float64(g.UsageCountAsTemplate)/10, 0, 1))
		score := 0.4*g.SuccessRate + 0.3*usageFactor + 0.2*g.StabilityScore + 0.1*templateRecency(g.CreatedAt, now)
		if score < worstScore {
			worstScore = score
			worstID = id
		}
	}
	if worstID == "" {
		return
	}
	delete(c.golden, worstID)
	if c.store != nil {
		_ = c.store.DeleteGoldenTemplate(worstID)
	}
}

// templateRecency is 1.0 for a template less than 24h old, decaying linearly
// to 0.0 at 7 days old, and 0.0 beyond that.
func templateRecency(createdAt, now time.Time) float64 {
	const (
		graceWindow = 24 * time.Hour
		maxAge      = 7 * 24 * time.Hour
	)
	age := now.Sub(createdAt)
	if age <= graceWindow {
		return 1.0
	}
	if age >= maxAge {
		return 0.0
	}
	return 1.0 - float64(age-graceWindow)/float64(maxAge-graceWindow)
}

// matchGolden finds the best-matching golden template among candidates,
// scoring each (candidate, template) pair: 0.6 for a direct
// strategy_id match or 0.4 for a path_type-only match, plus
// 0.2*Jaccard(description words) and a bonus of max(0, success_rate-0.8).
func (c *Converger) matchGolden(candidates []types.ReasoningPath) (types.ReasoningPath, float64, bool) {
	if c.goldenDisabled || len(c.golden) == 0 {
		return types.ReasoningPath{}, 0, false
	}

	var best types.ReasoningPath
	bestScore := 0.0
	found := false

	for _, p := range candidates {
		for _, g := range c.golden {
			var base float64
			switch {
			case g.StrategyID == p.StrategyID:
				base = 0.6
			case g.PathType == p.PathType:
				base = 0.4
			default:
				continue
			}
			score := base + 0.2*Jaccard(g.Description, p.Description) + maxF(0, g.SuccessRate-0.8)
			if score > bestScore {
				bestScore = score
				best = p
				found = true
			}
		}
	}

	if !found || bestScore < goldenMatchThreshold {
		return types.ReasoningPath{}, 0, false
	}
	return best, bestScore, true
}

// RunMaintenance culls trial-ground arms: low-activation arms that have
// settled into a clearly poor success rate are reset, freeing the selection
// algorithms from repeatedly re-exploring known-bad strategies. Golden
// templates are re-validated and dropped if they regressed below threshold.
// Callers run this periodically (e.g. once per N decisions); it never runs
// on its own goroutine.
func (c *Converger) RunMaintenance() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, a := range c.arms {
		if observations(a) < trialGroundCullFloor {
			continue
		}
		if a.SuccessRate() < 0.15 && a.RecentSuccessRate() < 0.15 {
			delete(c.arms, id)
			delete(c.meta, id)
		}
	}

	for id, g := range c.golden {
		a, ok := c.arms[id]
		if !ok {
			continue
		}
		if a.SuccessRate() < c.cfg.GoldenSuccessRateThreshold {
			delete(c.golden, id)
			if c.store != nil {
				_ = c.store.DeleteGoldenTemplate(id)
			}
			continue
		}
		g.SuccessRate = a.SuccessRate()
		g.StabilityScore = stabilityScore(a.RecentResults)
	}
}

// RankedArms returns a snapshot of arms sorted by descending success rate,
// used for introspection/diagnostics.
func (c *Converger) RankedArms() []types.DecisionArm {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.DecisionArm, 0, len(c.arms))
	for _, a := range c.arms {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuccessRate() > out[j].SuccessRate() })
	return out
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// observations is the arm's sample count: how many outcomes it has been
// updated with. Promotion, culling, and confidence tiers key off this
// rather than ActivationCount, because Stage 4's instant learning updates
// every verified path while only one per round is ever selected — gating
// sample sufficiency on selections would starve arms that learn plenty
// without winning selection.
func observations(a *types.DecisionArm) int {
	return a.SuccessCount + a.FailureCount
}
