// Package toolmab implements the tool-selection bandit: a second
// multi-armed-bandit instance over tool names (plus a synthetic "no_tool"
// arm), wrapped in a hybrid cold/warm decision layer that falls back to an
// LLM-driven exploration mode when the bandit has too little experience
// with a candidate tool.
package toolmab

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"metacortex/internal/llm"
	"metacortex/internal/mab"
	"metacortex/internal/reinforcement"
	"metacortex/internal/tools"
	"metacortex/internal/types"
)

// NoTool is the synthetic arm representing "don't call a tool this turn".
const NoTool = "no_tool"

const (
	coldActivationFloor = 5
	coldConfidenceFloor = 0.5
	decisionLogCap      = 200
)

// State is the bandit's view of the current turn, used to compute
// p_no_tool and to build the exploration-mode prompt.
type State struct {
	Query                 string
	TaskType              string // e.g. "general", "research", "computation"
	ToolsUsedThisSession  int
}

// Mode records which branch of the hybrid decision layer produced a
// ToolDecision, for diagnostics.
type Mode string

const (
	ModeNoTool     Mode = "no_tool"
	ModeExperience Mode = "experience"
	ModeExploration Mode = "exploration"
)

// Decision is the outcome of Select: which tool (if any) to invoke, and how
// the bandit got there.
type Decision struct {
	ToolName         string
	Mode             Mode
	BanditSuggestion string // the bandit's original pick, recorded even when exploration mode overrides it
	Cold             bool
}

// Outcome is fed back into Update after a tool executes (or is skipped).
type Outcome struct {
	Success bool
	Reward  float64
}

// MAB is the tool-selection bandit.
type MAB struct {
	mu        sync.Mutex
	arms      map[string]*types.DecisionArm
	rng       *rand.Rand
	decisions []Decision

	invoker  llm.Invoker
	registry *tools.Registry
}

// New builds a MAB over registry's tool names plus the synthetic no_tool
// arm. invoker may be nil, in which case cold tools always fall back to
// the bandit's own (untrained) suggestion rather than entering exploration
// mode.
func New(invoker llm.Invoker, registry *tools.Registry) *MAB {
	return &MAB{
		arms:     make(map[string]*types.DecisionArm),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		invoker:  invoker,
		registry: registry,
	}
}

func (m *MAB) ensureArm(name string) *types.DecisionArm {
	if a, ok := m.arms[name]; ok {
		return a
	}
	a := &types.DecisionArm{StrategyID: name}
	m.arms[name] = a
	return a
}

// Arm returns a copy of the named arm's state, or false if the arm has not
// been created yet (arms are created lazily when considered as a candidate
// or updated).
func (m *MAB) Arm(name string) (types.DecisionArm, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.arms[name]
	if !ok {
		return types.DecisionArm{}, false
	}
	return *a, true
}

// Select runs the full hybrid decision layer: the no-tool gate, the bandit
// suggestion, the cold/warm classification, and the exploration-mode LLM
// override for cold tools. Every decision lands in the bounded diagnostics
// log with the bandit's original suggestion, so mode switches are
// observable after the fact.
func (m *MAB) Select(ctx context.Context, state State) (Decision, error) {
	if m.registry == nil || len(m.registry.List()) == 0 {
		return m.finish(Decision{ToolName: NoTool, Mode: ModeNoTool, BanditSuggestion: NoTool}), nil
	}

	if m.rng.Float64() < pNoTool(state) {
		m.mu.Lock()
		m.ensureArm(NoTool)
		m.mu.Unlock()
		return m.finish(Decision{ToolName: NoTool, Mode: ModeNoTool, BanditSuggestion: NoTool}), nil
	}

	m.mu.Lock()
	suggestion := m.selectThompsonLocked(m.registry.List())
	cold := m.isColdLocked(suggestion)
	m.mu.Unlock()

	if !cold || m.invoker == nil {
		return m.finish(Decision{ToolName: suggestion, Mode: ModeExperience, BanditSuggestion: suggestion, Cold: cold}), nil
	}

	chosen, err := m.exploreWithLLM(ctx, state, suggestion)
	if err != nil {
		return m.finish(Decision{ToolName: suggestion, Mode: ModeExperience, BanditSuggestion: suggestion, Cold: true}), nil
	}
	return m.finish(Decision{ToolName: chosen, Mode: ModeExploration, BanditSuggestion: suggestion, Cold: true}), nil
}

// finish appends a decision to the bounded diagnostics log and returns it.
func (m *MAB) finish(d Decision) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	if len(m.decisions) > decisionLogCap {
		m.decisions = m.decisions[len(m.decisions)-decisionLogCap:]
	}
	return d
}

// Decisions returns a snapshot of the bounded diagnostics log.
func (m *MAB) Decisions() []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Decision, len(m.decisions))
	copy(out, m.decisions)
	return out
}

// RunDirective executes a tool an LLM has already named in a **TOOL_CALL**
// directive — the exploration branch of the hybrid layer with the LLM's
// pick supplied up front, which is how the verifier's tool calls are
// mediated. The name is validated against the registry (fuzzy-matched on
// mismatch, falling back to the bandit's own suggestion), the decision is
// logged with that suggestion for diagnostics, and the execution reward is
// fed back into the bandit. Returns the resolved tool name alongside the
// tool output.
func (m *MAB) RunDirective(ctx context.Context, name, query string, args types.Metadata) (string, types.Metadata, error) {
	if m.registry == nil || len(m.registry.List()) == 0 {
		return "", nil, fmt.Errorf("toolmab: no tools registered")
	}

	m.mu.Lock()
	suggestion := m.selectThompsonLocked(m.registry.List())
	cold := m.isColdLocked(suggestion)
	m.mu.Unlock()

	resolved := name
	if _, ok := m.registry.Get(resolved); !ok {
		if matched, ok := fuzzyMatchTool(resolved, m.registry.Descriptions()); ok {
			resolved = matched
		} else {
			resolved = suggestion
		}
	}

	decision := m.finish(Decision{ToolName: resolved, Mode: ModeExploration, BanditSuggestion: suggestion, Cold: cold})
	output, err := m.Run(ctx, decision, query, args)
	return resolved, output, err
}

// pNoTool grows with each reason to skip tooling this turn — a general
// task type, several tools already run this session, a query with no
// search or analysis markers — capped below 1 so a tool is never
// categorically excluded.
func pNoTool(state State) float64 {
	p := 0.1
	if strings.EqualFold(state.TaskType, "general") || state.TaskType == "" {
		p += 0.2
	}
	if state.ToolsUsedThisSession >= 2 {
		p += 0.2
	}
	if !hasSearchOrAnalysisMarkers(state.Query) {
		p += 0.2
	}
	return reinforcement.Clamp(p, 0, 0.9)
}

func hasSearchOrAnalysisMarkers(query string) bool {
	lower := strings.ToLower(query)
	markers := []string{"search", "find", "look up", "research", "calculate", "compute", "fetch", "analy", "compare", "latest", "current"}
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// selectThompsonLocked picks the highest-sampling-score tool name among
// candidates, lazily creating untried arms (which always win via an
// infinite-in-spirit untried bonus, mirroring C5's explore-first bias).
func (m *MAB) selectThompsonLocked(candidates []string) string {
	best := candidates[0]
	bestScore := -1.0
	for _, name := range candidates {
		a := m.ensureArm(name)
		if a.ActivationCount == 0 {
			return name
		}
		sample := reinforcement.SampleBeta(float64(a.SuccessCount+1), float64(a.FailureCount+1), m.rng)
		score := 0.8*sample + 0.2*reinforcement.Clamp((a.MeanReward()+1)/2, 0, 1)
		if score > bestScore {
			bestScore = score
			best = name
		}
	}
	return best
}

func (m *MAB) isColdLocked(name string) bool {
	a, ok := m.arms[name]
	if !ok {
		return true
	}
	return a.ActivationCount < coldActivationFloor || m.confidenceLocked(name) < coldConfidenceFloor
}

func (m *MAB) confidenceLocked(name string) float64 {
	a, ok := m.arms[name]
	if !ok {
		return 0
	}
	volume := reinforcement.Clamp(float64(a.ActivationCount)/float64(coldActivationFloor*2), 0, 1)
	return volume * (0.5 + 0.5*a.RecentSuccessRate())
}

// exploreWithLLM builds a tool-description prompt, asks the LLM to pick a
// tool via the **TOOL_CALL** directive, and validates the choice against
// the registry, fuzzy-matching on mismatch before falling back to the
// bandit's own suggestion.
func (m *MAB) exploreWithLLM(ctx context.Context, state State, banditSuggestion string) (string, error) {
	descriptions := m.registry.Descriptions()
	var sb strings.Builder
	sb.WriteString("Pick the single best tool for this query. Respond with exactly one line: \"**TOOL_CALL**: <name> | <args>\". Available tools:")
	for name, desc := range descriptions {
		fmt.Fprintf(&sb, "\n- %s: %s", name, desc)
	}

	reply, err := m.invoker.Complete(ctx, []llm.Message{
		llm.System(sb.String()),
		llm.User(state.Query),
	}, llm.CompletionOptions{Temperature: 0.1, MaxTokens: 150})
	if err != nil {
		return "", fmt.Errorf("toolmab: exploration call failed: %w", err)
	}

	name, _, ok := tools.ParseToolCallDirective(reply)
	if !ok {
		return banditSuggestion, nil
	}
	if _, exists := m.registry.Get(name); exists {
		return name, nil
	}

	if matched, ok := fuzzyMatchTool(name, descriptions); ok {
		return matched, nil
	}
	return banditSuggestion, nil
}

// fuzzyMatchTool finds the best match between the LLM's (invalid) tool
// name and the registry's names/descriptions: substring containment first,
// then Jaccard keyword overlap.
func fuzzyMatchTool(name string, descriptions map[string]string) (string, bool) {
	best := ""
	bestScore := 0.0
	for candidate, desc := range descriptions {
		if strings.Contains(candidate, name) || strings.Contains(name, candidate) {
			return candidate, true
		}
		score := mab.Jaccard(name, candidate+" "+desc)
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	if bestScore >= 0.2 {
		return best, true
	}
	return "", false
}

// Run executes decision.ToolName (a no-op producing a fixed neutral
// outcome for NoTool) and feeds the resulting reward back into the bandit.
// The reward comes from an LLM judge when an invoker is configured,
// falling back to a legacy length/keyword heuristic on judge failure.
func (m *MAB) Run(ctx context.Context, decision Decision, query string, args types.Metadata) (types.Metadata, error) {
	if decision.ToolName == NoTool {
		m.Update(NoTool, Outcome{Success: true, Reward: 0})
		return nil, nil
	}

	output, execErr := m.registry.Execute(ctx, decision.ToolName, args)
	reward := m.rewardFor(ctx, query, output, execErr)
	m.Update(decision.ToolName, Outcome{Success: execErr == nil, Reward: reward})
	return output, execErr
}

func (m *MAB) rewardFor(ctx context.Context, query string, output types.Metadata, execErr error) float64 {
	if execErr != nil {
		return -0.6
	}
	if m.invoker != nil {
		if reward, ok := m.judgeReward(ctx, query, output); ok {
			return reward
		}
	}
	return heuristicReward(query, output)
}

// judgeReward asks the LLM to rate how helpful the tool's output was for
// the original query, on [-1, 1].
func (m *MAB) judgeReward(ctx context.Context, query string, output types.Metadata) (float64, bool) {
	prompt := fmt.Sprintf(
		"Query: %s\nTool output: %v\nRate how helpful this tool output is for answering the query, on a scale from -1.0 (useless or misleading) to 1.0 (directly answers it). Respond with just the number.",
		query, output)

	reply, err := m.invoker.Complete(ctx, []llm.Message{llm.User(prompt)}, llm.CompletionOptions{Temperature: 0, MaxTokens: 20})
	if err != nil {
		return 0, false
	}

	var score float64
	if _, err := fmt.Sscanf(strings.TrimSpace(reply), "%f", &score); err != nil {
		return 0, false
	}
	return reinforcement.Clamp(score, -1, 1), true
}

// heuristicReward is the legacy fallback when no judge is available:
// longer, keyword-overlapping, non-error output scores higher.
func heuristicReward(query string, output types.Metadata) float64 {
	if len(output) == 0 {
		return -0.3
	}

	var text strings.Builder
	for _, v := range output {
		fmt.Fprintf(&text, "%v ", v)
	}
	content := text.String()
	lower := strings.ToLower(content)

	score := 0.0
	switch {
	case len(content) > 200:
		score += 0.3
	case len(content) > 50:
		score += 0.15
	}
	score += 0.5 * mab.Jaccard(query, content)
	if strings.Contains(lower, "error") || strings.Contains(lower, "fail") || strings.Contains(lower, "not found") {
		score -= 0.4
	}
	return reinforcement.Clamp(score, -1, 1)
}

// Update feeds an outcome back into the chosen arm.
func (m *MAB) Update(name string, outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.ensureArm(name)
	if outcome.Success {
		a.SuccessCount++
	} else {
		a.FailureCount++
	}
	a.ActivationCount++
	a.LastUsedTimestamp = time.Now()
	a.TotalReward += outcome.Reward
	a.PushReward(outcome.Reward, outcome.Success)
}
