// Package state implements the session-scoped state manager: an
// append-only ledger of goals, turns, tool calls, bandit decisions, and
// intermediate results, plus a read-only snapshot and a normalized feature
// vector over it. The tool-selection bandit reads neither: its exploration
// prompt is built from the query and the tool descriptions only.
package state

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"metacortex/internal/types"
)

// SessionStore is the optional durable-history collaborator; the engine
// runs fully in-memory without one. internal/persistence/neo4j implements
// this against a Neo4j graph.
type SessionStore interface {
	PersistTurn(ctx context.Context, sessionID string, turn types.Turn) error
	PersistGoal(ctx context.Context, sessionID string, goal types.Goal) error
	LoadSession(ctx context.Context, sessionID string) ([]types.Turn, []types.Goal, error)
}

// Embedder is the narrow interface Manager needs for semantic ranking of
// intermediate results; internal/persistence lets a chromem-go-backed
// implementation satisfy it. A nil Embedder makes RelevantResults fall back
// to sorting by the caller-supplied relevance float.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Manager is a single session's append-only ledger.
type Manager struct {
	mu sync.Mutex

	sessionID string
	store     SessionStore
	embedder  Embedder
	logger    *log.Logger

	goals   []*types.Goal
	turns   []*types.Turn
	results []types.IntermediateResult

	toolUsage map[string]int
}

// New builds a Manager for sessionID. store and embedder may be nil; both
// are optional collaborators.
func New(sessionID string, store SessionStore, embedder Embedder, logger *log.Logger) *Manager {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		sessionID: sessionID,
		store:     store,
		embedder:  embedder,
		logger:    logger,
		toolUsage: make(map[string]int),
	}
}

// SessionID returns the ledger's session identifier.
func (m *Manager) SessionID() string { return m.sessionID }

// StartTurn begins a new turn and returns its ID.
func (m *Manager) StartTurn(userInput string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.turns = append(m.turns, &types.Turn{
		ID:        id,
		UserInput: userInput,
		StartedAt: time.Now(),
	})
	return id
}

func (m *Manager) findTurnLocked(turnID string) *types.Turn {
	for _, t := range m.turns {
		if t.ID == turnID {
			return t
		}
	}
	return nil
}

// CompleteTurn marks turnID finished with its response/success/error.
func (m *Manager) CompleteTurn(turnID, response string, success bool, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.findTurnLocked(turnID)
	if t == nil {
		return fmt.Errorf("state: unknown turn %q", turnID)
	}
	t.Response = response
	t.Success = success
	if err != nil {
		t.Error = err.Error()
	}
	t.CompletedAt = time.Now()
	t.Completed = true

	if m.store != nil {
		if perr := m.store.PersistTurn(context.Background(), m.sessionID, *t); perr != nil {
			m.logger.Printf("state: failed to persist turn %s: %v", turnID, perr)
		}
	}
	return nil
}

// AddToolCall appends a tool-call record to turnID. The single mutex
// around every mutating method guarantees records land in the exact order
// the calls were made.
func (m *Manager) AddToolCall(turnID string, call types.ToolCallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.findTurnLocked(turnID)
	if t == nil {
		return fmt.Errorf("state: unknown turn %q", turnID)
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = time.Now()
	}
	t.ToolCalls = append(t.ToolCalls, call)
	m.toolUsage[call.ToolName]++
	return nil
}

// AddMABDecision appends a MAB decision record to turnID.
func (m *Manager) AddMABDecision(turnID string, decision types.MABDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.findTurnLocked(turnID)
	if t == nil {
		return fmt.Errorf("state: unknown turn %q", turnID)
	}
	t.MABDecisions = append(t.MABDecisions, decision)
	return nil
}

// AddGoal registers a new session goal and returns its ID.
func (m *Manager) AddGoal(query, goalType string, priority float64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	now := time.Now()
	g := &types.Goal{
		ID:        id,
		Query:     query,
		Type:      goalType,
		Priority:  priority,
		Status:    types.GoalPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.goals = append(m.goals, g)

	if m.store != nil {
		if err := m.store.PersistGoal(context.Background(), m.sessionID, *g); err != nil {
			m.logger.Printf("state: failed to persist goal %s: %v", id, err)
		}
	}
	return id
}

// UpdateGoalProgress updates goalID's progress (clamped to [0,1]) and,
// optionally, its status.
func (m *Manager) UpdateGoalProgress(goalID string, progress float64, status *types.GoalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range m.goals {
		if g.ID != goalID {
			continue
		}
		g.Progress = clamp(progress, 0, 1)
		if status != nil {
			g.Status = *status
		}
		g.UpdatedAt = time.Now()

		if m.store != nil {
			if err := m.store.PersistGoal(context.Background(), m.sessionID, *g); err != nil {
				m.logger.Printf("state: failed to persist goal %s: %v", goalID, err)
			}
		}
		return nil
	}
	return fmt.Errorf("state: unknown goal %q", goalID)
}

// AddIntermediateResult records a partial result produced mid-session.
func (m *Manager) AddIntermediateResult(source, content string, relevance, quality float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.results = append(m.results, types.IntermediateResult{
		Source:    source,
		Content:   content,
		Relevance: clamp(relevance, 0, 1),
		Quality:   clamp(quality, 0, 1),
		Timestamp: time.Now(),
	})
}

// MarkResultUsed flags the most recent intermediate result matching content
// as having fed into the final answer. Matching by content rather than an
// opaque handle mirrors the caller-facing simplicity of the Python source's
// state_manager, which has no separate result ID either.
func (m *Manager) MarkResultUsed(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.results) - 1; i >= 0; i-- {
		if m.results[i].Content == content {
			m.results[i].UsedInFinal = true
			return
		}
	}
}

// Snapshot returns a read-only view of session state for callers that
// build prompts or diagnostics.
func (m *Manager) Snapshot() types.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	goals := make([]types.Goal, len(m.goals))
	for i, g := range m.goals {
		goals[i] = *g
	}

	recentTurns := m.turns
	if len(recentTurns) > 5 {
		recentTurns = recentTurns[len(recentTurns)-5:]
	}
	turns := make([]types.Turn, len(recentTurns))
	for i, t := range recentTurns {
		turns[i] = *t
	}

	toolsUsed := make([]string, 0, len(m.toolUsage))
	for name := range m.toolUsage {
		toolsUsed = append(toolsUsed, name)
	}

	results := make([]types.IntermediateResult, len(m.results))
	copy(results, m.results)

	return types.SessionSnapshot{
		SessionID:   m.sessionID,
		Goals:       goals,
		TurnCount:   len(m.turns),
		RecentTurns: turns,
		ToolsUsed:   toolsUsed,
		Results:     results,
	}
}

// FeaturesForRL returns the normalized [0,1] feature vector: goal
// progress, tool-usage rate, execution success rate, result quality, mean
// relevance, tool diversity, decision consistency.
func (m *Manager) FeaturesForRL() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]float64{
		"goal_progress":           m.meanGoalProgressLocked(),
		"tool_usage_rate":         m.toolUsageRateLocked(),
		"execution_success_rate":  m.executionSuccessRateLocked(),
		"result_quality":          m.meanResultFieldLocked(func(r types.IntermediateResult) float64 { return r.Quality }),
		"mean_relevance":          m.meanResultFieldLocked(func(r types.IntermediateResult) float64 { return r.Relevance }),
		"tool_diversity":          m.toolDiversityLocked(),
		"decision_consistency":    m.decisionConsistencyLocked(),
	}
}

func (m *Manager) meanGoalProgressLocked() float64 {
	if len(m.goals) == 0 {
		return 0
	}
	var sum float64
	for _, g := range m.goals {
		sum += clamp(g.Progress, 0, 1)
	}
	return sum / float64(len(m.goals))
}

func (m *Manager) toolUsageRateLocked() float64 {
	if len(m.turns) == 0 {
		return 0
	}
	var totalCalls int
	for _, t := range m.turns {
		totalCalls += len(t.ToolCalls)
	}
	return clamp(float64(totalCalls)/float64(len(m.turns)), 0, 1)
}

func (m *Manager) executionSuccessRateLocked() float64 {
	completed := 0
	succeeded := 0
	for _, t := range m.turns {
		if !t.Completed {
			continue
		}
		completed++
		if t.Success {
			succeeded++
		}
	}
	if completed == 0 {
		return 0
	}
	return float64(succeeded) / float64(completed)
}

func (m *Manager) meanResultFieldLocked(field func(types.IntermediateResult) float64) float64 {
	if len(m.results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range m.results {
		sum += clamp(field(r), 0, 1)
	}
	return sum / float64(len(m.results))
}

func (m *Manager) toolDiversityLocked() float64 {
	var totalCalls int
	for _, t := range m.turns {
		totalCalls += len(t.ToolCalls)
	}
	if totalCalls == 0 {
		return 0
	}
	return clamp(float64(len(m.toolUsage))/float64(totalCalls), 0, 1)
}

// decisionConsistencyLocked measures how often the same strategy keeps
// getting picked across recorded MAB decisions: the share of decisions
// that agree with the single most frequently chosen strategy. 0 when there
// are no decisions yet.
func (m *Manager) decisionConsistencyLocked() float64 {
	counts := make(map[string]int)
	total := 0
	for _, t := range m.turns {
		for _, d := range t.MABDecisions {
			counts[d.StrategyID]++
			total++
		}
	}
	if total == 0 {
		return 0
	}
	best := 0
	for _, c := range counts {
		if c > best {
			best = c
		}
	}
	return float64(best) / float64(total)
}

// RelevantResults ranks intermediate results by similarity to goalQuery
// using the configured embedder, falling back to sorting by the stored
// relevance float when no embedder is wired.
func (m *Manager) RelevantResults(ctx context.Context, goalQuery string, k int) []types.IntermediateResult {
	m.mu.Lock()
	all := make([]types.IntermediateResult, len(m.results))
	copy(all, m.results)
	m.mu.Unlock()

	if k <= 0 || k > len(all) {
		k = len(all)
	}

	if m.embedder == nil {
		sortByRelevanceDesc(all)
		return all[:k]
	}

	goalEmbed, err := m.embedder.Embed(ctx, goalQuery)
	if err != nil {
		m.logger.Printf("state: embedding goal query failed, falling back to relevance sort: %v", err)
		sortByRelevanceDesc(all)
		return all[:k]
	}

	type scored struct {
		result types.IntermediateResult
		score  float64
	}
	scoredResults := make([]scored, 0, len(all))
	for _, r := range all {
		emb, err := m.embedder.Embed(ctx, r.Content)
		if err != nil {
			scoredResults = append(scoredResults, scored{result: r, score: r.Relevance})
			continue
		}
		scoredResults = append(scoredResults, scored{result: r, score: cosineSimilarity(goalEmbed, emb)})
	}
	for i := 1; i < len(scoredResults); i++ {
		for j := i; j > 0 && scoredResults[j].score > scoredResults[j-1].score; j-- {
			scoredResults[j], scoredResults[j-1] = scoredResults[j-1], scoredResults[j]
		}
	}
	out := make([]types.IntermediateResult, 0, k)
	for i := 0; i < k && i < len(scoredResults); i++ {
		out = append(out, scoredResults[i].result)
	}
	return out
}

func sortByRelevanceDesc(results []types.IntermediateResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Relevance > results[j-1].Relevance; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
