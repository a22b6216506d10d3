// Package templates provides the static catalogue of reasoning-path
// archetypes: their stable strategy identifiers, prompt templates, and the
// adjacency graph used to diversify creative-bypass sampling and to order
// detour reframings.
package templates

import (
	"strings"

	"github.com/dominikbraun/graph"
)

// Template is one reasoning-path archetype. StrategyID is the single source
// of truth for bandit arm keys (types.ReasoningPath.StrategyID must equal
// the StrategyID of the template that produced it).
type Template struct {
	StrategyID     string
	PathType       string
	Description    string
	PromptTemplate string
	// HighCreativity marks templates eligible for the creative-bypass
	// high-creativity preset.
	HighCreativity bool
}

// The eight archetypes. Order is stable and used wherever a deterministic
// iteration order matters (tests, creative-bypass fallback fill).
const (
	SystematicAnalytical    = "systematic_analytical"
	CreativeInnovative      = "creative_innovative"
	CriticalQuestioning     = "critical_questioning"
	PracticalPragmatic      = "practical_pragmatic"
	HolisticComprehensive   = "holistic_comprehensive"
	ExploratoryInvestigative = "exploratory_investigative"
	CollaborativeConsultative = "collaborative_consultative"
	AdaptiveFlexible        = "adaptive_flexible"

	// ConservativeFallback is the emergency, non-catalogue strategy the
	// orchestrator returns when even the detour fails. It never appears in
	// Templates() and is excluded from the golden-template / culling
	// lifecycle.
	ConservativeFallback = "conservative_fallback"
)

// Library is the in-memory catalogue plus the archetype adjacency graph.
type Library struct {
	templates []Template
	byID      map[string]Template
	adjacency graph.Graph[string, string]
}

// New builds the fixed eight-archetype catalogue.
func New() *Library {
	entries := []Template{
		{
			StrategyID:  SystematicAnalytical,
			PathType:    "Systematic Analytical",
			Description: "Methodically decompose the task into ordered steps, verifying each before proceeding.",
			PromptTemplate: "Analyze the following task step by step, listing assumptions and checking each conclusion before moving to the next:\n\nTask: {{.Task}}\nSeed: {{.Seed}}",
		},
		{
			StrategyID:     CreativeInnovative,
			PathType:       "Creative Innovative",
			Description:    "Generate unconventional approaches by challenging the task's implicit assumptions.",
			PromptTemplate: "Propose an unconventional, innovative approach to the task, actively challenging assumed constraints:\n\nTask: {{.Task}}\nSeed: {{.Seed}}",
			HighCreativity: true,
		},
		{
			StrategyID:     CriticalQuestioning,
			PathType:       "Critical Questioning",
			Description:    "Interrogate the task's premises, evidence, and potential failure modes before answering.",
			PromptTemplate: "Critically question the premises of the task and identify the weakest assumption before proposing an approach:\n\nTask: {{.Task}}\nSeed: {{.Seed}}",
			HighCreativity: true,
		},
		{
			StrategyID:  PracticalPragmatic,
			PathType:    "Practical Pragmatic",
			Description: "Favor the simplest approach that satisfies the task's constraints with minimal overhead.",
			PromptTemplate: "Propose the most practical, lowest-overhead approach that satisfies the task's constraints:\n\nTask: {{.Task}}\nSeed: {{.Seed}}",
		},
		{
			StrategyID:  HolisticComprehensive,
			PathType:    "Holistic Comprehensive",
			Description: "Consider the task's full context, stakeholders, and second-order effects before narrowing down.",
			PromptTemplate: "Consider the task holistically, accounting for context, stakeholders, and second-order effects:\n\nTask: {{.Task}}\nSeed: {{.Seed}}",
		},
		{
			StrategyID:  ExploratoryInvestigative,
			PathType:    "Exploratory Investigative",
			Description: "Research the unknowns first, then converge on an approach informed by what was found.",
			PromptTemplate: "Investigate the unknowns in this task first, then propose an approach informed by what you find:\n\nTask: {{.Task}}\nSeed: {{.Seed}}",
		},
		{
			StrategyID:     CollaborativeConsultative,
			PathType:       "Collaborative Consultative",
			Description:    "Frame the approach as a dialogue, surfacing points that need stakeholder input.",
			PromptTemplate: "Frame an approach to the task as a consultative dialogue, flagging points that need stakeholder input:\n\nTask: {{.Task}}\nSeed: {{.Seed}}",
			HighCreativity: true,
		},
		{
			StrategyID:  AdaptiveFlexible,
			PathType:    "Adaptive Flexible",
			Description: "Propose an approach that adapts its own plan as new information arrives.",
			PromptTemplate: "Propose an adaptive approach to the task that revises its plan as new information arrives:\n\nTask: {{.Task}}\nSeed: {{.Seed}}",
		},
	}

	l := &Library{
		templates: entries,
		byID:      make(map[string]Template, len(entries)),
	}
	for _, t := range entries {
		l.byID[t.StrategyID] = t
	}
	l.adjacency = buildAdjacency(entries)
	return l
}

// Templates returns the flat catalogue, stable order.
func (l *Library) Templates() []Template {
	out := make([]Template, len(l.templates))
	copy(out, l.templates)
	return out
}

// Get looks up a template by strategy_id.
func (l *Library) Get(strategyID string) (Template, bool) {
	t, ok := l.byID[strategyID]
	return t, ok
}

// HighCreativitySet returns the strategy IDs eligible for the creative-bypass
// high-creativity preset.
func (l *Library) HighCreativitySet() []string {
	var ids []string
	for _, t := range l.templates {
		if t.HighCreativity {
			ids = append(ids, t.StrategyID)
		}
	}
	return ids
}

// buildAdjacency encodes "if this archetype fails, which archetype is the
// most natural next attempt" as a small directed graph. The edges are a
// fixed, hand-authored adjacency (not learned) — they only ever influence
// diversity sampling, never correctness.
func buildAdjacency(entries []Template) graph.Graph[string, string] {
	g := graph.New(func(id string) string { return id }, graph.Directed())
	for _, t := range entries {
		_ = g.AddVertex(t.StrategyID)
	}

	edges := [][2]string{
		{SystematicAnalytical, PracticalPragmatic},
		{PracticalPragmatic, SystematicAnalytical},
		{CreativeInnovative, CriticalQuestioning},
		{CriticalQuestioning, CreativeInnovative},
		{CriticalQuestioning, CollaborativeConsultative},
		{CollaborativeConsultative, CriticalQuestioning},
		{HolisticComprehensive, ExploratoryInvestigative},
		{ExploratoryInvestigative, HolisticComprehensive},
		{AdaptiveFlexible, ExploratoryInvestigative},
		{AdaptiveFlexible, CreativeInnovative},
		{SystematicAnalytical, CriticalQuestioning},
		{ExploratoryInvestigative, CreativeInnovative},
	}
	for _, e := range edges {
		_ = g.AddEdge(e[0], e[1])
	}
	return g
}

// IsAdjacent reports whether b is a direct successor of a in the archetype
// adjacency graph (used to avoid picking two too-similar archetypes back to
// back during creative-bypass sampling).
func (l *Library) IsAdjacent(a, b string) bool {
	if l.adjacency == nil {
		return false
	}
	_, err := l.adjacency.Edge(a, b)
	return err == nil
}

// ReframingOrder orders the fixed heuristic detour reframings (§4.7.1 step
// 2) by graph distance from the archetypes that just failed: reframings
// whose associated seed archetype is farther from every failed strategy are
// tried first, on the theory that a structurally distant reframe is most
// likely to escape whatever made the failed paths fail.
func (l *Library) ReframingOrder(failedStrategyIDs []string, reframings []string) []string {
	if l.adjacency == nil || len(failedStrategyIDs) == 0 {
		return reframings
	}

	distance := func(from string) int {
		best := -1
		// Breadth-first search bounded to a handful of hops; the graph is
		// tiny (8 vertices) so this is cheap and exact enough for ordering.
		visited := map[string]int{from: 0}
		queue := []string{from}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			adj, err := l.adjacency.AdjacencyMap()
			if err != nil {
				return best
			}
			for next := range adj[cur] {
				if _, seen := visited[next]; !seen {
					visited[next] = visited[cur] + 1
					queue = append(queue, next)
				}
			}
		}
		for _, failed := range failedStrategyIDs {
			if d, ok := visited[failed]; ok {
				if best == -1 || d < best {
					best = d
				}
			}
		}
		if best == -1 {
			return len(visited) // unreachable: treat as maximally distant
		}
		return best
	}

	// Pair each reframing with a synthetic "seed strategy" derived from its
	// name (reframings aren't archetypes themselves, but most share a name
	// fragment with one, e.g. "cross-domain borrow" ~ creative_innovative).
	type scored struct {
		name string
		dist int
	}
	seedFor := func(name string) string {
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "reverse"):
			return CriticalQuestioning
		case strings.Contains(lower, "cross-domain"), strings.Contains(lower, "cross domain"):
			return CreativeInnovative
		case strings.Contains(lower, "minimal"):
			return PracticalPragmatic
		case strings.Contains(lower, "staged"):
			return AdaptiveFlexible
		default:
			return HolisticComprehensive
		}
	}

	out := make([]scored, 0, len(reframings))
	for _, r := range reframings {
		out = append(out, scored{name: r, dist: -distance(seedFor(r))})
	}
	// Stable sort by descending distance (farthest first), ties keep input order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].dist < out[j-1].dist; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	result := make([]string, len(out))
	for i, s := range out {
		result[i] = s.name
	}
	return result
}

// RenderPrompt substitutes the {{.Task}} / {{.Seed}} placeholders.
func RenderPrompt(promptTemplate, task, seed string) string {
	out := strings.ReplaceAll(promptTemplate, "{{.Task}}", task)
	out = strings.ReplaceAll(out, "{{.Seed}}", seed)
	return out
}
