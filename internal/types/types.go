// Package types defines the core data structures shared across the decision
// engine: reasoning paths, bandit arms, golden templates, thinking seeds,
// verification results, and the assembled decision record.
package types

import "time"

// Metadata is a free-form bag for the handful of fields that are genuinely
// open-ended (tool call arguments/results, LLM plan output). Everything
// with a known shape is a concrete struct field instead.
type Metadata map[string]any

// ReasoningPath is a candidate strategy instance produced by the path
// generator and scored by the verifier.
type ReasoningPath struct {
	StrategyID     string   `json:"strategy_id"`
	InstanceID     string   `json:"instance_id"`
	PathType       string   `json:"path_type"`
	Description    string   `json:"description"`
	PromptTemplate string   `json:"prompt_template"`
}

// DecisionArm is one multi-armed-bandit arm, keyed by strategy_id (or tool
// name in the tool-selection bandit).
type DecisionArm struct {
	StrategyID string `json:"strategy_id"`

	SuccessCount int     `json:"success_count"`
	FailureCount int     `json:"failure_count"`
	TotalReward  float64 `json:"total_reward"`

	RecentRewards []float64 `json:"recent_rewards"` // bounded 20
	RecentResults []bool    `json:"recent_results"` // bounded 50
	RewardHistory []float64 `json:"reward_history"` // bounded 50

	ActivationCount   int       `json:"activation_count"`
	LastUsedTimestamp time.Time `json:"last_used_timestamp"`

	// LastAlgorithm records which selection algorithm most recently chose
	// this arm, so an outcome update can attribute success/failure to it.
	LastAlgorithm string `json:"last_algorithm,omitempty"`
}

const (
	maxRecentRewards = 20
	maxBoundedHist   = 50
)

// SuccessRate is success_count / max(1, success_count+failure_count).
func (a *DecisionArm) SuccessRate() float64 {
	total := a.SuccessCount + a.FailureCount
	if total == 0 {
		return 0
	}
	return float64(a.SuccessCount) / float64(total)
}

// MeanReward averages RecentRewards (0 if empty).
func (a *DecisionArm) MeanReward() float64 {
	if len(a.RecentRewards) == 0 {
		return 0
	}
	var sum float64
	for _, r := range a.RecentRewards {
		sum += r
	}
	return sum / float64(len(a.RecentRewards))
}

// RecentSuccessRate is the success rate over RecentResults (0 if empty).
func (a *DecisionArm) RecentSuccessRate() float64 {
	if len(a.RecentResults) == 0 {
		return 0
	}
	successes := 0
	for _, ok := range a.RecentResults {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(a.RecentResults))
}

// PushReward appends a reward/result to the bounded histories, discarding
// the oldest entry on overflow.
func (a *DecisionArm) PushReward(reward float64, success bool) {
	a.RecentRewards = append(a.RecentRewards, reward)
	if len(a.RecentRewards) > maxRecentRewards {
		a.RecentRewards = a.RecentRewards[len(a.RecentRewards)-maxRecentRewards:]
	}

	a.RewardHistory = append(a.RewardHistory, reward)
	if len(a.RewardHistory) > maxBoundedHist {
		a.RewardHistory = a.RewardHistory[len(a.RewardHistory)-maxBoundedHist:]
	}

	a.RecentResults = append(a.RecentResults, success)
	if len(a.RecentResults) > maxBoundedHist {
		a.RecentResults = a.RecentResults[len(a.RecentResults)-maxBoundedHist:]
	}
}

// GoldenTemplate is a promoted snapshot of a high-performing arm, used to
// short-circuit bandit selection.
type GoldenTemplate struct {
	StrategyID         string    `json:"strategy_id"`
	PathType           string    `json:"path_type"`
	Description        string    `json:"description"`
	SuccessRate        float64   `json:"success_rate"`
	StabilityScore     float64   `json:"stability_score"`
	CreatedAt          time.Time `json:"created_at"`
	LastUpdated        time.Time `json:"last_updated"`
	UsageCountAsTemplate int     `json:"usage_count_as_template"`
}

// ThinkingSeed is a grounded summary of a task plus the structured analysis
// used to condition path generation.
type ThinkingSeed struct {
	Text string `json:"text"`

	RelevancePerPathType map[string]float64 `json:"relevance_per_path_type"`
	Urgency              string             `json:"urgency"` // low, medium, high
	NeedsCollaboration   bool               `json:"needs_collaboration"`
	NeedsInnovation      bool               `json:"needs_innovation"`
	NeedsCritique        bool               `json:"needs_critique"`
	ComplexityScore      float64            `json:"complexity_score"`
	DomainHints          []string           `json:"domain_hints,omitempty"`

	// Populated only when produced via RAG synthesis (SeedGenerator §4.2).
	KeyInsights        []string `json:"key_insights,omitempty"`
	KnowledgeGaps      []string `json:"knowledge_gaps,omitempty"`
	ConfidenceScore    float64  `json:"confidence_score,omitempty"`
	VerificationStatus string   `json:"verification_status,omitempty"`
}

// VerificationResult is the outcome of scoring a seed or path for
// feasibility.
type VerificationResult struct {
	FeasibilityScore float64  `json:"feasibility_score"`
	Reward           float64  `json:"reward"`
	AnalysisSummary  string   `json:"analysis_summary"`
	ToolCallsMade    []string `json:"tool_calls_made,omitempty"`
	FallbackUsed     bool     `json:"fallback_used"`
}

// StageTiming records how long one pipeline stage took.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// MABDecision summarizes the bandit's choice for a decision record.
type MABDecision struct {
	StrategyID         string  `json:"strategy_id"`
	SelectionAlgorithm string  `json:"selection_algorithm"`
	Confidence         float64 `json:"confidence"`
	Round              int     `json:"round"`
}

// DecisionResult is the assembled output of one call to decide().
type DecisionResult struct {
	Timestamp  time.Time `json:"timestamp"`
	Round      int       `json:"round"`
	UserQuery  string    `json:"user_query"`

	ThinkingSeed     ThinkingSeed          `json:"thinking_seed"`
	SeedVerification VerificationResult    `json:"seed_verification"`
	AvailablePaths   []ReasoningPath       `json:"available_paths"`
	VerifiedPaths    []VerifiedPath        `json:"verified_paths"`
	ChosenPath       ReasoningPath         `json:"chosen_path"`
	MABDecision      MABDecision           `json:"mab_decision"`

	StageTimings    []StageTiming `json:"stage_timings"`
	DetourTriggered bool          `json:"detour_triggered"`
	EmergencyFallback bool        `json:"emergency_fallback"`
	Reason          string        `json:"reason,omitempty"`
}

// VerifiedPath pairs a candidate path with its verification result.
type VerifiedPath struct {
	Path       ReasoningPath       `json:"path"`
	Verification VerificationResult `json:"verification"`
}
