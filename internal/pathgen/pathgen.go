// Package pathgen implements the path generator: it analyses a thinking
// seed, scores and selects archetype templates, and instantiates concrete
// ReasoningPaths.
package pathgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"time"

	"metacortex/internal/llm"
	"metacortex/internal/templates"
	"metacortex/internal/types"
)

// Mode selects between the normal scored-selection path and the
// creative-bypass sampling path.
type Mode int

const (
	Normal Mode = iota
	CreativeBypass
)

// analysis is the path generator's own relevance/flag assessment of a
// seed, independent of whatever flags the seed generator may already carry.
type analysis struct {
	RelevancePerPathType map[string]float64 `json:"relevance_per_path_type"`
	NeedsCollaboration   bool               `json:"needs_collaboration"`
	NeedsInnovation      bool               `json:"needs_innovation"`
	NeedsCritique        bool               `json:"needs_critique"`
	NeedsPracticality    bool               `json:"needs_practicality"`
	NeedsComprehensive   bool               `json:"needs_comprehensive"`
	NeedsResearch        bool               `json:"needs_research"`
	NeedsAdaptive        bool               `json:"needs_adaptive"`
	ComplexityIndicators []string           `json:"complexity_indicators"`
	Urgency              string             `json:"urgency"`
}

// Generator produces reasoning paths from a thinking seed.
type Generator struct {
	lib     *templates.Library
	invoker llm.Invoker
	rng     *rand.Rand
	logger  *log.Logger
}

// New builds a Generator against lib. invoker may be nil, in which case
// analysis always uses the uniform-relevance fallback.
func New(lib *templates.Library, invoker llm.Invoker, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{
		lib:     lib,
		invoker: invoker,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  logger,
	}
}

// Generate returns up to maxPaths ReasoningPaths for task/seed under mode.
// It never returns an error: analysis degrades to a uniform-relevance
// fallback on any LLM failure.
func (g *Generator) Generate(ctx context.Context, seed types.ThinkingSeed, task string, maxPaths int, mode Mode) []types.ReasoningPath {
	if maxPaths <= 0 {
		maxPaths = 1
	}

	a := g.analyze(ctx, seed, task)

	var chosen []string
	switch mode {
	case CreativeBypass:
		chosen = g.selectCreativeBypass(maxPaths)
	default:
		chosen = g.selectNormal(a, maxPaths)
	}

	return g.instantiate(chosen, task, seed.Text)
}

// analyze asks the LLM for relevance_per_path_type and characteristic
// flags, falling back to uniform relevance (0.4 per archetype) plus
// conservative defaults carried over from the seed's own heuristic flags.
func (g *Generator) analyze(ctx context.Context, seed types.ThinkingSeed, task string) analysis {
	if g.invoker == nil {
		return g.fallbackAnalysis(seed)
	}

	reply, err := g.invoker.Complete(ctx, []llm.Message{
		llm.System(`Assess which reasoning archetypes best fit this task. Respond ONLY with a JSON object:
{"relevance_per_path_type": {"systematic_analytical": 0.0-1.0, "creative_innovative": 0.0-1.0, "critical_questioning": 0.0-1.0, "practical_pragmatic": 0.0-1.0, "holistic_comprehensive": 0.0-1.0, "exploratory_investigative": 0.0-1.0, "collaborative_consultative": 0.0-1.0, "adaptive_flexible": 0.0-1.0},
"needs_collaboration": bool, "needs_innovation": bool, "needs_critique": bool, "needs_practicality": bool, "needs_comprehensive": bool, "needs_research": bool, "needs_adaptive": bool,
"complexity_indicators": ["..."], "urgency": "low|medium|high"}`),
		llm.User(fmt.Sprintf("Task: %s\n\nThinking seed: %s", task, seed.Text)),
	}, llm.CompletionOptions{Temperature: 0.2, MaxTokens: 500})
	if err != nil {
		g.logger.Printf("pathgen: analysis failed, using uniform relevance: %v", err)
		return g.fallbackAnalysis(seed)
	}

	var a analysis
	if err := json.Unmarshal([]byte(extractJSON(reply)), &a); err != nil {
		g.logger.Printf("pathgen: analysis JSON parse failed, using uniform relevance: %v", err)
		return g.fallbackAnalysis(seed)
	}
	return a
}

func (g *Generator) fallbackAnalysis(seed types.ThinkingSeed) analysis {
	relevance := make(map[string]float64, len(g.lib.Templates()))
	for _, t := range g.lib.Templates() {
		relevance[t.StrategyID] = 0.4
	}
	return analysis{
		RelevancePerPathType: relevance,
		NeedsCollaboration:   seed.NeedsCollaboration,
		NeedsInnovation:      seed.NeedsInnovation,
		NeedsCritique:        seed.NeedsCritique,
		Urgency:              seed.Urgency,
	}
}

type scoredTemplate struct {
	strategyID string
	score      float64
}

// selectNormal is the scored selection: base score from
// relevance, +2 per matching characteristic flag, +0.5 per complexity
// indicator for systematic_analytical, +1 urgency adjustments; top scored
// templates with strictly positive score, backfilled to at least two
// entries and guaranteeing critical_questioning a slot if room remains.
func (g *Generator) selectNormal(a analysis, maxPaths int) []string {
	scores := make(map[string]float64, len(g.lib.Templates()))
	for _, t := range g.lib.Templates() {
		scores[t.StrategyID] = a.RelevancePerPathType[t.StrategyID] * 10
	}

	addFlag := func(want bool, strategyID string) {
		if want {
			scores[strategyID] += 2
		}
	}
	addFlag(a.NeedsCollaboration, templates.CollaborativeConsultative)
	addFlag(a.NeedsInnovation, templates.CreativeInnovative)
	addFlag(a.NeedsCritique, templates.CriticalQuestioning)
	addFlag(a.NeedsPracticality, templates.PracticalPragmatic)
	addFlag(a.NeedsComprehensive, templates.HolisticComprehensive)
	addFlag(a.NeedsResearch, templates.ExploratoryInvestigative)
	addFlag(a.NeedsAdaptive, templates.AdaptiveFlexible)
	scores[templates.SystematicAnalytical] += 0.5 * float64(len(a.ComplexityIndicators))

	switch strings.ToLower(a.Urgency) {
	case "high":
		scores[templates.PracticalPragmatic] += 1
	case "low":
		scores[templates.ExploratoryInvestigative] += 1
		scores[templates.HolisticComprehensive] += 1
	}

	ranked := make([]scoredTemplate, 0, len(scores))
	for id, s := range scores {
		if s > 0 {
			ranked = append(ranked, scoredTemplate{strategyID: id, score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	chosen := make([]string, 0, maxPaths)
	for _, r := range ranked {
		if len(chosen) >= maxPaths {
			break
		}
		chosen = append(chosen, r.strategyID)
	}

	if len(chosen) < 2 {
		chosen = appendIfMissing(chosen, maxPaths, templates.SystematicAnalytical)
		chosen = appendIfMissing(chosen, maxPaths, templates.PracticalPragmatic)
	}
	chosen = appendIfMissing(chosen, maxPaths, templates.CriticalQuestioning)
	return chosen
}

// appendIfMissing appends id to chosen if it isn't already present and a
// slot remains under maxPaths.
func appendIfMissing(chosen []string, maxPaths int, id string) []string {
	if contains(chosen, id) || len(chosen) >= maxPaths {
		return chosen
	}
	return append(chosen, id)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// selectCreativeBypass fills at least half its slots from the
// high-creativity preset, the remainder from the balanced preset (every
// other archetype), then from any remaining archetype preferring
// non-adjacency to the last chosen template, falling back to random choice
// once the graph is exhausted. Sampling order is randomized per invocation.
func (g *Generator) selectCreativeBypass(maxPaths int) []string {
	all := g.lib.Templates()
	highSet := g.lib.HighCreativitySet()
	highPool := g.shuffleCopy(highSet)

	balanced := make([]string, 0, len(all))
	highLookup := map[string]bool{}
	for _, id := range highSet {
		highLookup[id] = true
	}
	for _, t := range all {
		if !highLookup[t.StrategyID] {
			balanced = append(balanced, t.StrategyID)
		}
	}
	balancedPool := g.shuffleCopy(balanced)

	chosen := make([]string, 0, maxPaths)
	halfSlots := (maxPaths + 1) / 2
	for _, id := range highPool {
		if len(chosen) >= halfSlots || len(chosen) >= maxPaths {
			break
		}
		chosen = append(chosen, id)
	}
	for _, id := range balancedPool {
		if len(chosen) >= maxPaths {
			break
		}
		if !contains(chosen, id) {
			chosen = append(chosen, id)
		}
	}

	for len(chosen) < maxPaths {
		remaining := make([]string, 0, len(all))
		for _, t := range all {
			if !contains(chosen, t.StrategyID) {
				remaining = append(remaining, t.StrategyID)
			}
		}
		if len(remaining) == 0 {
			break
		}

		var last string
		if len(chosen) > 0 {
			last = chosen[len(chosen)-1]
		}
		pick := g.pickNonAdjacent(remaining, last)
		chosen = append(chosen, pick)
	}

	return chosen
}

func (g *Generator) pickNonAdjacent(candidates []string, last string) string {
	if last != "" {
		for _, id := range g.shuffleCopy(candidates) {
			if !g.lib.IsAdjacent(last, id) {
				return id
			}
		}
	}
	return candidates[g.rng.Intn(len(candidates))]
}

func (g *Generator) shuffleCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	g.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// instantiate materializes each chosen strategy ID into a ReasoningPath.
// Strategy IDs without a template match are skipped: no path may be
// emitted without one.
func (g *Generator) instantiate(strategyIDs []string, task, seedText string) []types.ReasoningPath {
	out := make([]types.ReasoningPath, 0, len(strategyIDs))
	for _, id := range strategyIDs {
		t, ok := g.lib.Get(id)
		if !ok {
			continue
		}
		out = append(out, types.ReasoningPath{
			StrategyID:     t.StrategyID,
			InstanceID:     g.instanceID(t.StrategyID),
			PathType:       t.PathType,
			Description:    t.Description,
			PromptTemplate: templates.RenderPrompt(t.PromptTemplate, task, seedText),
		})
	}
	return out
}

func (g *Generator) instanceID(strategyID string) string {
	return fmt.Sprintf("%s_%d_%04d", strategyID, time.Now().UnixMilli(), g.rng.Intn(10000))
}

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if start := strings.IndexAny(s, "{["); start > 0 {
		s = s[start:]
	}
	return s
}
