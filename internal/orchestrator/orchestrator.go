// Package orchestrator runs the five-stage decision pipeline (seed ->
// seed-verify -> path-generate -> path-verify-with-instant-learning ->
// final-select), the aha-moment escalation that regenerates creative paths
// when confidence collapses, and the intelligent detour taken when every
// candidate path fails verification.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

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

const (
	// ahaConfidenceThreshold fires the aha escalation when the chosen
	// arm's confidence (or every arm's) sits below it.
	ahaConfidenceThreshold = 0.3
	// ahaConsecutiveFailureTrigger fires the aha escalation after this
	// many consecutive reported failures.
	ahaConsecutiveFailureTrigger = 3
	// ahaRecentFailureTrigger fires after this many failures inside
	// ahaRecentFailureWindow.
	ahaRecentFailureTrigger = 3
	ahaRecentFailureWindow  = 5 * time.Minute

	// pathFeasibilityThreshold is the success gate Stage 4 applies for
	// instant-learning bandit updates.
	pathFeasibilityThreshold = 0.3
	// detourFeasibilityThreshold is the stricter success gate the detour
	// uses for its own instant-learning updates.
	detourFeasibilityThreshold = 0.4
	// detourMinFeasibility is the bar an innovative path must clear to be
	// returned instead of the conservative fallback.
	detourMinFeasibility = 0.2

	ahaExtraPaths    = 3
	detourMaxPaths   = 3
	ahaLogCap        = 100
	detourLogCap     = 100
	recentFailureCap = 200
)

// detourReframings is the fixed set of heuristic reframings used when the
// detour's reframe-seed LLM call is unavailable or fails.
var detourReframings = []string{
	"Redefine the problem",
	"Reverse engineering",
	"Cross-domain borrow",
	"Minimal version",
	"Staged approach",
}

// AhaRecord is one entry in the bounded aha-moment log.
type AhaRecord struct {
	Timestamp  time.Time
	Reason     string
	StrategyID string
}

// DetourRecord is one entry in the bounded detour log. Outcome is filled in
// by a later UpdateOutcome call for the same decision, nil until then.
type DetourRecord struct {
	Timestamp       time.Time
	BestFeasibility float64
	FailureReasons  map[string]int
	Outcome         *bool
}

// Orchestrator runs the five-stage pipeline over its collaborators.
type Orchestrator struct {
	seedGen   *seed.Generator
	verifier  *verify.Verifier
	pathGen   *pathgen.Generator
	converger *mab.Converger
	lib       *templates.Library
	invoker   llm.Invoker // optional: used only for the detour's reframe-seed prompt
	cfg       *config.Config
	logger    *log.Logger
	pool      *BoundedPool

	mu                  sync.Mutex
	round               int
	consecutiveFailures int
	recentFailures      []time.Time
	ahaLog              []AhaRecord
	detourLog           []DetourRecord
	decisionLog         []types.DecisionResult
}

// New builds an Orchestrator. invoker may be nil (the detour falls back to
// heuristic reframings).
func New(seedGen *seed.Generator, verifier *verify.Verifier, pathGen *pathgen.Generator, converger *mab.Converger, lib *templates.Library, invoker llm.Invoker, cfg *config.Config, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Orchestrator{
		seedGen:   seedGen,
		verifier:  verifier,
		pathGen:   pathGen,
		converger: converger,
		lib:       lib,
		invoker:   invoker,
		cfg:       cfg,
		logger:    logger,
		pool:      NewBoundedPool(cfg.Performance.MaxConcurrentVerifications),
	}
}

// Decide runs the five-stage pipeline for task and returns the assembled
// decision record. It never returns an error under normal operation:
// every stage has a fallback that lets the decision complete, so the bandit
// can learn from the resulting negative rewards. The exceptions are an
// invariant violation (engineerr.ErrInvariantViolation) and cancellation
// between stages (engineerr.ErrCancelled).
func (o *Orchestrator) Decide(ctx context.Context, task string, priorConfidence float64, execContext string) (types.DecisionResult, error) {
	o.mu.Lock()
	o.round++
	round := o.round
	o.mu.Unlock()

	result := types.DecisionResult{
		Timestamp: time.Now(),
		Round:     round,
		UserQuery: task,
	}

	// Stage 1: seed.
	stageStart := time.Now()
	thinkingSeed := o.seedGen.Generate(ctx, task, execContext)
	result.ThinkingSeed = thinkingSeed
	result.StageTimings = append(result.StageTimings, types.StageTiming{Stage: "seed_generation", Duration: time.Since(stageStart)})

	if maxLen := o.cfg.SystemLimits.MaxThinkingSeedLength; maxLen > 0 && len(thinkingSeed.Text) > maxLen {
		thinkingSeed.Text = thinkingSeed.Text[:maxLen]
		result.ThinkingSeed = thinkingSeed
	}
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("orchestrator: round %d: %w", round, engineerr.ErrCancelled)
	}

	// Stage 2: seed verification.
	stageStart = time.Now()
	seedVerification := types.VerificationResult{FeasibilityScore: 0.5, AnalysisSummary: "verification disabled"}
	if o.cfg.Features.RealtimeVerification {
		seedVerification = o.verifier.Verify(ctx, thinkingSeed.Text, verify.StageThinkingSeed)
	}
	result.SeedVerification = seedVerification
	result.StageTimings = append(result.StageTimings, types.StageTiming{Stage: "seed_verification", Duration: time.Since(stageStart)})
	if seedVerification.FeasibilityScore < 0.3 {
		o.logger.Printf("orchestrator: round %d seed feasibility low (%.2f), proceeding anyway", round, seedVerification.FeasibilityScore)
	}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("orchestrator: round %d: %w", round, engineerr.ErrCancelled)
	}

	// Stage 3: path generation.
	stageStart = time.Now()
	maxPaths := o.cfg.SystemLimits.MaxReasoningPaths
	if maxPaths <= 0 {
		maxPaths = 6
	}
	paths := o.pathGen.Generate(ctx, thinkingSeed, task, maxPaths, pathgen.Normal)
	if err := validatePaths(paths); err != nil {
		return result, fmt.Errorf("orchestrator: round %d: %w: %v", round, engineerr.ErrInvariantViolation, err)
	}
	result.AvailablePaths = paths
	result.StageTimings = append(result.StageTimings, types.StageTiming{Stage: "path_generation", Duration: time.Since(stageStart)})

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("orchestrator: round %d: %w", round, engineerr.ErrCancelled)
	}

	// Stage 4: path verification with instant learning.
	stageStart = time.Now()
	verifiedPaths, anyFeasible := o.verifyPathsWithInstantLearning(ctx, paths, priorConfidence, thinkingSeed.ComplexityScore)
	result.VerifiedPaths = verifiedPaths
	result.StageTimings = append(result.StageTimings, types.StageTiming{Stage: "path_verification", Duration: time.Since(stageStart)})

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("orchestrator: round %d: %w", round, engineerr.ErrCancelled)
	}

	// Stage 5: final selection.
	stageStart = time.Now()
	if anyFeasible {
		o.selectFinal(ctx, &result, task, thinkingSeed, paths)
	} else {
		o.runDetour(ctx, &result, task, thinkingSeed, verifiedPaths)
	}
	result.StageTimings = append(result.StageTimings, types.StageTiming{Stage: "final_selection", Duration: time.Since(stageStart)})

	o.recordDecision(result)
	return result, nil
}

// recordDecision appends to the bounded decision log
// (system_limits.max_decision_history).
func (o *Orchestrator) recordDecision(result types.DecisionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	limit := o.cfg.SystemLimits.MaxDecisionHistory
	if limit <= 0 {
		limit = 50
	}
	o.decisionLog = append(o.decisionLog, result)
	if len(o.decisionLog) > limit {
		o.decisionLog = o.decisionLog[len(o.decisionLog)-limit:]
	}
}

// History returns a snapshot of the bounded decision log, most recent last.
func (o *Orchestrator) History() []types.DecisionResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.DecisionResult, len(o.decisionLog))
	copy(out, o.decisionLog)
	return out
}

// validatePaths enforces the path-generation invariant: every path's
// strategy_id must come from a template match and instance IDs must be
// distinct.
func validatePaths(paths []types.ReasoningPath) error {
	seenInstance := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p.StrategyID == "" {
			return fmt.Errorf("path %q has empty strategy_id", p.InstanceID)
		}
		if seenInstance[p.InstanceID] {
			return fmt.Errorf("duplicate instance_id %q", p.InstanceID)
		}
		seenInstance[p.InstanceID] = true
	}
	return nil
}

// pathVerifyCount decides how many of the generated paths to verify:
// adaptive mode consults the confidence->count mapping and nudges +-1 by
// complexity; otherwise every path is verified.
func (o *Orchestrator) pathVerifyCount(total int, priorConfidence, complexity float64) int {
	if !o.cfg.Performance.EnableAdaptivePathCount {
		return total
	}

	count := countForConfidence(o.cfg.Performance.ConfidencePathMapping, priorConfidence, total)
	switch {
	case complexity > 0.6:
		count++
	case complexity < 0.2:
		count--
	}
	if count < 1 {
		count = 1
	}
	if count > total {
		count = total
	}
	return count
}

// countForConfidence walks the confidence->count mapping from highest
// threshold to lowest, returning the count for the first threshold the
// confidence clears. Falls back to total if the mapping is empty.
func countForConfidence(mapping map[string]int, confidence float64, total int) int {
	if len(mapping) == 0 {
		return total
	}
	type thresholdCount struct {
		threshold float64
		count     int
	}
	entries := make([]thresholdCount, 0, len(mapping))
	for k, v := range mapping {
		f, err := strconv.ParseFloat(k, 64)
		if err != nil {
			continue
		}
		entries = append(entries, thresholdCount{threshold: f, count: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].threshold > entries[j].threshold })
	for _, e := range entries {
		if confidence >= e.threshold {
			return e.count
		}
	}
	return total
}

// verifyPathsWithInstantLearning runs Stage 4: verify each candidate path,
// immediately update the bandit with the outcome, and stop early once the
// consistency criterion is met.
func (o *Orchestrator) verifyPathsWithInstantLearning(ctx context.Context, paths []types.ReasoningPath, priorConfidence, complexity float64) ([]types.VerifiedPath, bool) {
	verifyCount := o.pathVerifyCount(len(paths), priorConfidence, complexity)
	toVerify := paths[:verifyCount]

	batchSize := 1
	if o.cfg.Performance.EnableParallelPathVerification {
		batchSize = o.cfg.Performance.MaxConcurrentVerifications
		if batchSize <= 0 {
			batchSize = 3
		}
	}

	var (
		verified    []types.VerifiedPath
		anyFeasible bool
	)

	for start := 0; start < len(toVerify); start += batchSize {
		end := start + batchSize
		if end > len(toVerify) {
			end = len(toVerify)
		}
		batch := toVerify[start:end]
		batchResults := o.verifyBatch(ctx, batch)

		for i, vr := range batchResults {
			p := batch[i]
			success := vr.FeasibilityScore > pathFeasibilityThreshold
			if success {
				anyFeasible = true
			}
			if err := o.converger.Update(p.StrategyID, success, vr.Reward); err != nil {
				o.logger.Printf("orchestrator: bandit update failed for %s: %v", p.StrategyID, err)
			}
			verified = append(verified, types.VerifiedPath{Path: p, Verification: vr})
		}

		if o.cfg.Performance.EnableEarlyTermination && len(verified) >= 3 && consistentTail(verified, o.cfg.Performance.PathConsistencyThreshold) {
			break
		}
	}

	return verified, anyFeasible
}

// verifyBatch runs one batch of verifications, in parallel through the
// bounded pool when configured, serially otherwise.
func (o *Orchestrator) verifyBatch(ctx context.Context, batch []types.ReasoningPath) []types.VerificationResult {
	results := make([]types.VerificationResult, len(batch))
	if !o.cfg.Performance.EnableParallelPathVerification || len(batch) == 1 {
		for i, p := range batch {
			results[i] = o.verifier.Verify(ctx, p.Description, verify.StageReasoningPath)
		}
		return results
	}

	fns := make([]func(context.Context) error, len(batch))
	for i, p := range batch {
		i, p := i, p
		fns[i] = func(ctx context.Context) error {
			results[i] = o.verifier.Verify(ctx, p.Description, verify.StageReasoningPath)
			return nil
		}
	}
	_ = o.pool.Run(ctx, fns)
	return results
}

// consistentTail reports whether the last 3 verified results all agree
// (all feasible at threshold, or all infeasible).
func consistentTail(verified []types.VerifiedPath, threshold float64) bool {
	if threshold <= 0 {
		threshold = pathFeasibilityThreshold
	}
	n := len(verified)
	last3 := verified[n-3:]
	allFeasible := true
	allInfeasible := true
	for _, vp := range last3 {
		if vp.Verification.FeasibilityScore > threshold {
			allInfeasible = false
		} else {
			allFeasible = false
		}
	}
	return allFeasible || allInfeasible
}

// selectFinal implements Stage 5's feasible-path branch: select among all
// candidates, then check whether an aha-moment escalation fires.
func (o *Orchestrator) selectFinal(ctx context.Context, result *types.DecisionResult, task string, thinkingSeed types.ThinkingSeed, paths []types.ReasoningPath) {
	chosen, decision, err := o.converger.SelectBest(paths, "auto")
	if err != nil {
		o.logger.Printf("orchestrator: select_best failed, using conservative fallback: %v", err)
		result.ChosenPath = conservativeFallbackPath()
		result.EmergencyFallback = true
		result.Reason = "select_best failed: " + err.Error()
		return
	}
	decision.Round = result.Round
	result.ChosenPath = chosen
	result.MABDecision = decision

	if !o.cfg.Features.AhaMomentSystem {
		return
	}

	reason, fires := o.ahaTrigger(chosen.StrategyID)
	if !fires {
		return
	}

	extra := o.pathGen.Generate(ctx, thinkingSeed, task, ahaExtraPaths, pathgen.CreativeBypass)
	for _, p := range extra {
		vr := o.verifier.Verify(ctx, p.Description, verify.StageReasoningPath)
		success := vr.FeasibilityScore > pathFeasibilityThreshold
		if err := o.converger.Update(p.StrategyID, success, vr.Reward); err != nil {
			o.logger.Printf("orchestrator: bandit update failed for %s: %v", p.StrategyID, err)
		}
		result.VerifiedPaths = append(result.VerifiedPaths, types.VerifiedPath{Path: p, Verification: vr})
	}

	merged := append(append([]types.ReasoningPath{}, paths...), extra...)
	reChosen, reDecision, err := o.converger.SelectBest(merged, "auto")
	if err != nil {
		o.logger.Printf("orchestrator: aha re-selection failed, keeping original choice: %v", err)
		return
	}
	reDecision.Round = result.Round
	result.ChosenPath = reChosen
	result.MABDecision = reDecision
	result.Reason = "aha_moment: " + reason

	o.recordAha(reason, reChosen.StrategyID)
}

// ahaTrigger evaluates the four OR'd escalation conditions: chosen-arm
// confidence, all-arms confidence, consecutive failures, recent failures.
func (o *Orchestrator) ahaTrigger(chosenStrategyID string) (string, bool) {
	if o.converger.Confidence(chosenStrategyID) < ahaConfidenceThreshold {
		return "chosen strategy confidence below threshold", true
	}
	if o.converger.AllLowConfidence(ahaConfidenceThreshold) {
		return "all arms low confidence", true
	}

	o.mu.Lock()
	consecutive := o.consecutiveFailures
	recent := o.countRecentFailuresLocked()
	o.mu.Unlock()

	if consecutive >= ahaConsecutiveFailureTrigger {
		return "consecutive prior failures", true
	}
	if recent >= ahaRecentFailureTrigger {
		return "failures within the last 5 minutes", true
	}
	return "", false
}

func (o *Orchestrator) countRecentFailuresLocked() int {
	cutoff := time.Now().Add(-ahaRecentFailureWindow)
	count := 0
	for _, t := range o.recentFailures {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

func (o *Orchestrator) recordAha(reason, strategyID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ahaLog = append(o.ahaLog, AhaRecord{Timestamp: time.Now(), Reason: reason, StrategyID: strategyID})
	if len(o.ahaLog) > ahaLogCap {
		o.ahaLog = o.ahaLog[len(o.ahaLog)-ahaLogCap:]
	}
}

// runDetour handles unanimous verification failure: analyse the failure
// pattern, reframe the seed, generate and verify up to three innovative
// paths, and return the best one if it clears the bar, falling back to a
// fixed conservative path otherwise.
func (o *Orchestrator) runDetour(ctx context.Context, result *types.DecisionResult, task string, originalSeed types.ThinkingSeed, failed []types.VerifiedPath) {
	result.DetourTriggered = true

	analysis := analyzeFailures(failed)
	newSeedText := o.reframeSeed(ctx, task, analysis)
	newSeed := originalSeed
	newSeed.Text = newSeedText

	innovative := o.pathGen.Generate(ctx, newSeed, task, detourMaxPaths, pathgen.CreativeBypass)

	best := types.ReasoningPath{}
	bestFeasibility := -1.0
	for _, p := range innovative {
		vr := o.verifier.Verify(ctx, p.Description, verify.StageInnovativeDetour)
		success := vr.FeasibilityScore > detourFeasibilityThreshold
		if err := o.converger.Update(p.StrategyID, success, vr.Reward); err != nil {
			o.logger.Printf("orchestrator: bandit update failed for %s: %v", p.StrategyID, err)
		}
		result.VerifiedPaths = append(result.VerifiedPaths, types.VerifiedPath{Path: p, Verification: vr})
		if vr.FeasibilityScore > bestFeasibility {
			bestFeasibility = vr.FeasibilityScore
			best = p
		}
	}

	if bestFeasibility >= detourMinFeasibility {
		result.ChosenPath = best
		result.Reason = "detour: innovative path cleared feasibility bar"
	} else {
		result.ChosenPath = conservativeFallbackPath()
		result.EmergencyFallback = true
		result.Reason = "detour: no innovative path cleared feasibility bar"
	}

	o.recordDetour(bestFeasibility, analysis.reasonCounts)
}

type failureAnalysis struct {
	lowFeasibilityCount int
	averageFeasibility  float64
	reasonCounts        map[string]int
	failedStrategyIDs   []string
}

// analyzeFailures tallies the unanimous-failure pattern: how many paths
// were low-feasibility, their average feasibility, and a rough tally of
// risk language the verifier's analysis mentioned.
func analyzeFailures(failed []types.VerifiedPath) failureAnalysis {
	a := failureAnalysis{reasonCounts: make(map[string]int)}
	riskWords := []string{"risk", "unclear", "infeasible", "insufficient", "blocked", "missing"}

	var total float64
	for _, vp := range failed {
		total += vp.Verification.FeasibilityScore
		if vp.Verification.FeasibilityScore < pathFeasibilityThreshold {
			a.lowFeasibilityCount++
		}
		a.failedStrategyIDs = append(a.failedStrategyIDs, vp.Path.StrategyID)
		lower := strings.ToLower(vp.Verification.AnalysisSummary)
		for _, w := range riskWords {
			if strings.Contains(lower, w) {
				a.reasonCounts[w]++
			}
		}
	}
	if len(failed) > 0 {
		a.averageFeasibility = total / float64(len(failed))
	}
	return a
}

// reframeSeed asks the LLM for a new seed that explicitly avoids the
// observed failure patterns, falling back to a fixed heuristic reframing
// (ordered by archetype graph distance from the failed strategies) when no
// invoker is configured or the call fails.
func (o *Orchestrator) reframeSeed(ctx context.Context, task string, analysis failureAnalysis) string {
	if o.invoker != nil {
		reply, err := o.invoker.Complete(ctx, []llm.Message{
			llm.System("The previous reasoning paths for this task all failed feasibility verification. Propose a new thinking seed that explicitly avoids the failure patterns described, in one to three sentences."),
			llm.User(fmt.Sprintf("Task: %s\n\nObserved failure patterns: %d/%d paths were low-feasibility (average feasibility %.2f). Reported concerns: %v",
				task, analysis.lowFeasibilityCount, len(analysis.failedStrategyIDs), analysis.averageFeasibility, analysis.reasonCounts)),
		}, llm.CompletionOptions{Temperature: 0.6, MaxTokens: 256})
		if err == nil && strings.TrimSpace(reply) != "" {
			return reply
		}
		o.logger.Printf("orchestrator: detour reframe LLM call failed, using heuristic reframing: %v", err)
	}

	ordered := o.lib.ReframingOrder(analysis.failedStrategyIDs, detourReframings)
	reframing := detourReframings[0]
	if len(ordered) > 0 {
		reframing = ordered[0]
	}
	return fmt.Sprintf("Reframe via %s: approach '%s' without repeating the prior unsuccessful strategies.", strings.ToLower(reframing), task)
}

func (o *Orchestrator) recordDetour(bestFeasibility float64, reasonCounts map[string]int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detourLog = append(o.detourLog, DetourRecord{
		Timestamp:       time.Now(),
		BestFeasibility: bestFeasibility,
		FailureReasons:  reasonCounts,
	})
	if len(o.detourLog) > detourLogCap {
		o.detourLog = o.detourLog[len(o.detourLog)-detourLogCap:]
	}
}

// conservativeFallbackPath is the fixed, non-catalogue strategy returned
// when even the detour fails to clear the feasibility bar. It never enters
// the golden-template / culling lifecycle.
func conservativeFallbackPath() types.ReasoningPath {
	return types.ReasoningPath{
		StrategyID:     templates.ConservativeFallback,
		InstanceID:     templates.ConservativeFallback + "_emergency",
		PathType:       "Conservative Fallback",
		Description:    "Take the most cautious, minimal-risk action available and explicitly flag the uncertainty to the caller.",
		PromptTemplate: "Given the uncertainty around this task, propose the most cautious next step and flag what remains unresolved.",
	}
}

// UpdateOutcome is the post-hoc feedback hook: after the caller executes
// the chosen path, it reports the outcome back so the bandit (and the
// orchestrator's own failure-streak bookkeeping) can learn from it.
func (o *Orchestrator) UpdateOutcome(result types.DecisionResult, success bool, executionTime, userSatisfaction, rlReward float64) error {
	reward := clampReward(rlReward)
	// The conservative fallback is not a catalogue strategy; it never
	// participates in golden promotion or trial-ground culling, so it gets
	// no arm.
	if result.ChosenPath.StrategyID != templates.ConservativeFallback {
		if err := o.converger.Update(result.ChosenPath.StrategyID, success, reward); err != nil {
			return fmt.Errorf("orchestrator: failed to record outcome: %w", err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if success {
		o.consecutiveFailures = 0
	} else {
		o.consecutiveFailures++
		o.recentFailures = append(o.recentFailures, time.Now())
		if len(o.recentFailures) > recentFailureCap {
			o.recentFailures = o.recentFailures[len(o.recentFailures)-recentFailureCap:]
		}
	}

	if result.DetourTriggered {
		for i := len(o.detourLog) - 1; i >= 0; i-- {
			if o.detourLog[i].Outcome == nil {
				outcome := success
				o.detourLog[i].Outcome = &outcome
				break
			}
		}
	}

	_ = executionTime
	_ = userSatisfaction
	return nil
}

func clampReward(r float64) float64 {
	if r < -1 {
		return -1
	}
	if r > 1 {
		return 1
	}
	return r
}

// AhaStats summarizes the bounded aha-moment log for observability.
type AhaStats struct {
	TotalAhaMoments int
	TriggerReasons  map[string]int
}

// Stats summarizes the aha-moment log: total escalations and a per-trigger
// tally. Success rate lives on DetourStats, since only the detour path
// records a per-entry outcome today.
func (o *Orchestrator) Stats() AhaStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	reasons := make(map[string]int)
	for _, r := range o.ahaLog {
		reasons[r.Reason]++
	}
	return AhaStats{TotalAhaMoments: len(o.ahaLog), TriggerReasons: reasons}
}

// DetourStats summarizes the bounded detour log.
type DetourStats struct {
	TotalDetours int
	SuccessRate  float64 // over detours whose outcome has been reported
}

// DetourStatistics returns the detour log's aggregate statistics.
func (o *Orchestrator) DetourStatistics() DetourStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := DetourStats{TotalDetours: len(o.detourLog)}
	var resolved, succeeded int
	for _, d := range o.detourLog {
		if d.Outcome != nil {
			resolved++
			if *d.Outcome {
				succeeded++
			}
		}
	}
	if resolved > 0 {
		stats.SuccessRate = float64(succeeded) / float64(resolved)
	}
	return stats
}
