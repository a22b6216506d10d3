// Package seed implements the thinking-seed generator: a direct
// LLM-produced seed, or, when retrieval-augmented generation is enabled, a
// three-phase plan/search/synthesize recipe over a web-search collaborator.
package seed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"metacortex/internal/cache"
	"metacortex/internal/config"
	"metacortex/internal/llm"
	"metacortex/internal/search"
	"metacortex/internal/types"
)

const cacheCapacity = 100

// plan is the LLM's (or heuristic fallback's) search plan, phase 1 of RAG
// seed synthesis.
type plan struct {
	SearchIntent      string   `json:"search_intent"`
	PrimaryKeywords   []string `json:"primary_keywords"`
	SecondaryKeywords []string `json:"secondary_keywords"`
	DomainFocus       string   `json:"domain_focus"`
	InformationTypes  []string `json:"information_types"`
	SearchDepth       string   `json:"search_depth"`
}

// synthesis is the LLM's phase-3 output: the seed text plus the RAG-only
// ThinkingSeed fields.
type synthesis struct {
	Text               string   `json:"text"`
	KeyInsights        []string `json:"key_insights"`
	KnowledgeGaps      []string `json:"knowledge_gaps"`
	ConfidenceScore    float64  `json:"confidence_score"`
	VerificationStatus string   `json:"verification_status"`
}

// Generator produces thinking seeds, either directly from the LLM or via
// the RAG plan/search/synthesize recipe.
type Generator struct {
	invoker      llm.Invoker
	searchClient search.Client
	cfg          config.RAGConfig
	limiter      *rate.Limiter
	logger       *log.Logger

	planCache      *cache.LRU[string, plan]
	searchCache    *cache.LRU[string, []search.Result]
	synthesisCache *cache.LRU[string, synthesis]
}

// New builds a Generator. searchClient may be nil, in which case Generate
// always produces a direct seed and the RAG recipe is not run.
func New(invoker llm.Invoker, searchClient search.Client, cfg config.RAGConfig, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.Default()
	}
	intervalSeconds := cfg.SearchRateLimitInterval
	if intervalSeconds <= 0 {
		intervalSeconds = 1.0
	}
	return &Generator{
		invoker:        invoker,
		searchClient:   searchClient,
		cfg:            cfg,
		limiter:        rate.NewLimiter(rate.Limit(1.0/intervalSeconds), 1),
		logger:         logger,
		planCache:      cache.New[string, plan](cacheCapacity),
		searchCache:    cache.New[string, []search.Result](cacheCapacity),
		synthesisCache: cache.New[string, synthesis](cacheCapacity),
	}
}

// Generate returns a ThinkingSeed for task, optionally conditioned by
// context. It never returns an error: every phase degrades to a fallback
// rather than aborting.
func (g *Generator) Generate(ctx context.Context, task, taskContext string) types.ThinkingSeed {
	if !g.cfg.EnableRealWebSearch || g.searchClient == nil || g.invoker == nil {
		return g.directSeed(ctx, task, taskContext)
	}
	return g.ragSeed(ctx, task, taskContext)
}

func (g *Generator) directSeed(ctx context.Context, task, taskContext string) types.ThinkingSeed {
	if g.invoker == nil {
		return fallbackSeed(task)
	}
	text, err := g.invoker.Complete(ctx, []llm.Message{
		llm.System("Summarize the task into a short grounded thinking seed, one to three sentences."),
		llm.User(composeTaskPrompt(task, taskContext)),
	}, llm.CompletionOptions{Temperature: 0.3, MaxTokens: 256})
	if err != nil {
		g.logger.Printf("seed: direct generation failed, using fallback: %v", err)
		return fallbackSeed(task)
	}
	s := analyzeHeuristically(task, text)
	s.Text = text
	return s
}

func (g *Generator) ragSeed(ctx context.Context, task, taskContext string) types.ThinkingSeed {
	key := cacheKey(task, taskContext)

	p := g.planPhase(ctx, key, task, taskContext)
	results := g.searchPhase(ctx, key, p)
	syn := g.synthesizePhase(ctx, key, task, p, results)

	s := analyzeHeuristically(task, syn.Text)
	s.Text = syn.Text
	s.KeyInsights = syn.KeyInsights
	s.KnowledgeGaps = syn.KnowledgeGaps
	s.ConfidenceScore = syn.ConfidenceScore
	s.VerificationStatus = syn.VerificationStatus
	return s
}

// planPhase asks the LLM for a search plan, falling back to a keyword
// heuristic extracted straight from the task text on LLM failure.
func (g *Generator) planPhase(ctx context.Context, key, task, taskContext string) plan {
	if cached, ok := g.planCache.Get(key); ok {
		return cached
	}

	p, err := g.requestPlan(ctx, task, taskContext)
	if err != nil {
		g.logger.Printf("seed: plan phase failed, using heuristic plan: %v", err)
		p = heuristicPlan(task)
	}
	g.planCache.Set(key, p)
	return p
}

func (g *Generator) requestPlan(ctx context.Context, task, taskContext string) (plan, error) {
	if g.invoker == nil {
		return plan{}, fmt.Errorf("seed: no LLM invoker configured")
	}
	reply, err := g.invoker.Complete(ctx, []llm.Message{
		llm.System(`Produce a JSON search plan for researching the given task. Respond ONLY with a JSON object of the form:
{"search_intent": "...", "primary_keywords": ["..."], "secondary_keywords": ["..."], "domain_focus": "...", "information_types": ["..."], "search_depth": "shallow|normal|deep"}`),
		llm.User(composeTaskPrompt(task, taskContext)),
	}, llm.CompletionOptions{Temperature: 0.2, MaxTokens: 400})
	if err != nil {
		return plan{}, err
	}
	var p plan
	if err := json.Unmarshal([]byte(extractJSON(reply)), &p); err != nil {
		return plan{}, fmt.Errorf("seed: parse plan JSON: %w", err)
	}
	return p, nil
}

func heuristicPlan(task string) plan {
	words := strings.Fields(strings.ToLower(task))
	primary := make([]string, 0, 3)
	seen := map[string]bool{}
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:")
		if len(w) < 4 || seen[w] {
			continue
		}
		seen[w] = true
		primary = append(primary, w)
		if len(primary) == 3 {
			break
		}
	}
	return plan{
		SearchIntent:     task,
		PrimaryKeywords:  primary,
		InformationTypes: []string{"overview"},
		SearchDepth:      "normal",
	}
}

// searchPhase issues up to five queries combining primary and
// primary-x-secondary keyword pairs, bounded-parallel when enabled,
// deduplicated by URL and ranked by keyword-match count.
func (g *Generator) searchPhase(ctx context.Context, key string, p plan) []search.Result {
	if cached, ok := g.searchCache.Get(key); ok {
		return cached
	}
	if g.searchClient == nil {
		return nil
	}

	queries := buildQueries(p)
	maxResults := g.cfg.MaxSearchResults
	if maxResults <= 0 {
		maxResults = 8
	}

	var (
		mu  sync.Mutex
		all []search.Result
	)
	runOne := func(ctx context.Context, q string) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil //nolint:nilerr // rate-limiter cancellation is not a search failure
		}
		results, err := g.searchClient.Search(ctx, q, maxResults)
		if err != nil {
			g.logger.Printf("seed: search query %q failed: %v", q, err)
			return nil
		}
		mu.Lock()
		all = append(all, results...)
		mu.Unlock()
		return nil
	}

	if g.cfg.EnableParallelSearch {
		workers := g.cfg.MaxSearchWorkers
		if workers <= 0 {
			workers = 3
		}
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(workers)
		for _, q := range queries {
			q := q
			eg.Go(func() error { return runOne(egCtx, q) })
		}
		_ = eg.Wait()
	} else {
		for _, q := range queries {
			_ = runOne(ctx, q)
		}
	}

	ranked := dedupeAndRank(all, p)
	if len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}
	g.searchCache.Set(key, ranked)
	return ranked
}

// buildQueries combines primary keywords and primary-x-secondary pairs,
// capped at five queries.
func buildQueries(p plan) []string {
	const maxQueries = 5
	var queries []string
	if p.SearchIntent != "" {
		queries = append(queries, p.SearchIntent)
	}
	for _, kw := range p.PrimaryKeywords {
		if len(queries) >= maxQueries {
			return queries
		}
		queries = append(queries, kw)
	}
	for _, primary := range p.PrimaryKeywords {
		for _, secondary := range p.SecondaryKeywords {
			if len(queries) >= maxQueries {
				return queries
			}
			queries = append(queries, primary+" "+secondary)
		}
	}
	return queries
}

func dedupeAndRank(results []search.Result, p plan) []search.Result {
	keywords := append(append([]string{}, p.PrimaryKeywords...), p.SecondaryKeywords...)

	seen := map[string]bool{}
	unique := make([]search.Result, 0, len(results))
	for _, r := range results {
		if r.URL != "" && seen[r.URL] {
			continue
		}
		if r.URL != "" {
			seen[r.URL] = true
		}
		unique = append(unique, r)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return keywordMatchCount(unique[i], keywords) > keywordMatchCount(unique[j], keywords)
	})
	return unique
}

func keywordMatchCount(r search.Result, keywords []string) int {
	text := strings.ToLower(r.Title + " " + r.Snippet)
	count := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			count++
		}
	}
	return count
}

// synthesizePhase asks the LLM to produce the seed plus its RAG metadata
// from the gathered search results, falling back to a templated
// concatenation of the top three snippets on LLM failure.
func (g *Generator) synthesizePhase(ctx context.Context, key, task string, p plan, results []search.Result) synthesis {
	if cached, ok := g.synthesisCache.Get(key); ok {
		return cached
	}

	syn, err := g.requestSynthesis(ctx, task, p, results)
	if err != nil {
		g.logger.Printf("seed: synthesis phase failed, using templated fallback: %v", err)
		syn = templatedSynthesis(task, results)
	}
	g.synthesisCache.Set(key, syn)
	return syn
}

func (g *Generator) requestSynthesis(ctx context.Context, task string, p plan, results []search.Result) (synthesis, error) {
	if g.invoker == nil {
		return synthesis{}, fmt.Errorf("seed: no LLM invoker configured")
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s — %s\n", i+1, r.Title, r.Snippet)
	}
	reply, err := g.invoker.Complete(ctx, []llm.Message{
		llm.System(`Synthesize a grounded thinking seed from the task and search results. Respond ONLY with a JSON object:
{"text": "...", "key_insights": ["..."], "knowledge_gaps": ["..."], "confidence_score": 0.0-1.0, "verification_status": "..."}`),
		llm.User(fmt.Sprintf("Task: %s\nSearch intent: %s\n\nResults:\n%s", task, p.SearchIntent, sb.String())),
	}, llm.CompletionOptions{Temperature: 0.3, MaxTokens: 600})
	if err != nil {
		return synthesis{}, err
	}
	var syn synthesis
	if err := json.Unmarshal([]byte(extractJSON(reply)), &syn); err != nil {
		return synthesis{}, fmt.Errorf("seed: parse synthesis JSON: %w", err)
	}
	return syn, nil
}

func templatedSynthesis(task string, results []search.Result) synthesis {
	top := results
	if len(top) > 3 {
		top = top[:3]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Based on '%s', the available information suggests: ", task)
	for i, r := range top {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(strings.TrimSpace(r.Snippet))
	}
	if len(top) == 0 {
		sb.WriteString("no external sources were found; proceeding from the task description alone.")
	}
	return synthesis{
		Text:               sb.String(),
		VerificationStatus: "unverified",
		ConfidenceScore:    0.3,
	}
}

// fallbackSeed is the ultimate, never-fails fallback.
func fallbackSeed(task string) types.ThinkingSeed {
	s := analyzeHeuristically(task, "")
	s.Text = fmt.Sprintf("Based on '%s'...", task)
	return s
}

// analyzeHeuristically fills in the structured-analysis portion of a seed
// when no LLM relevance analysis is available (used for the seed's own
// flags; the path generator performs its own, richer analysis over the
// seed text).
func analyzeHeuristically(task, text string) types.ThinkingSeed {
	lower := strings.ToLower(task + " " + text)
	return types.ThinkingSeed{
		Urgency:            urgencyFromText(lower),
		NeedsCollaboration: strings.Contains(lower, "team") || strings.Contains(lower, "stakeholder"),
		NeedsInnovation:    strings.Contains(lower, "innovat") || strings.Contains(lower, "creative"),
		NeedsCritique:      strings.Contains(lower, "risk") || strings.Contains(lower, "critique") || strings.Contains(lower, "flaw"),
		ComplexityScore:    complexityFromText(lower),
	}
}

func urgencyFromText(lower string) string {
	switch {
	case strings.Contains(lower, "urgent") || strings.Contains(lower, "asap") || strings.Contains(lower, "immediately"):
		return "high"
	case strings.Contains(lower, "eventually") || strings.Contains(lower, "no rush") || strings.Contains(lower, "whenever"):
		return "low"
	default:
		return "medium"
	}
}

func complexityFromText(lower string) float64 {
	indicators := []string{"multiple", "complex", "interdependent", "various", "several", "integrate", "across"}
	count := 0
	for _, ind := range indicators {
		if strings.Contains(lower, ind) {
			count++
		}
	}
	return float64(count) / float64(len(indicators))
}

func composeTaskPrompt(task, taskContext string) string {
	if taskContext == "" {
		return task
	}
	return task + "\n\nContext:\n" + taskContext
}

// cacheKey hashes (task, context) into a stable cache key.
func cacheKey(task, taskContext string) string {
	h := sha256.Sum256([]byte(task + "\x00" + taskContext))
	return hex.EncodeToString(h[:])
}

// extractJSON trims a surrounding code fence or stray prose the LLM may add
// around the JSON object it was asked for.
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
