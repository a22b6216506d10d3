package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metacortex/internal/config"
	"metacortex/internal/llm"
	"metacortex/internal/search"
)

func TestGenerate_DirectSeedWithoutRAG(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.OnContains("widget", "A concise seed about building a better widget.")

	cfg := config.Default().RAG
	cfg.EnableRealWebSearch = false
	g := New(mock, nil, cfg, nil)

	s := g.Generate(context.Background(), "design a better widget", "")
	assert.Contains(t, s.Text, "widget")
}

func TestGenerate_RAGSynthesizesFromSearchResults(t *testing.T) {
	mock := llm.NewMockInvoker()
	mock.OnContains("Search intent:", `{"text":"Widgets last longer with reinforced casings.","key_insights":["reinforced casings help"],"knowledge_gaps":["cost impact unknown"],"confidence_score":0.7,"verification_status":"partially_verified"}`)
	mock.OnContains("improve widget durability", `{"search_intent":"widget durability","primary_keywords":["widget","durability"],"secondary_keywords":["material"],"domain_focus":"engineering","information_types":["overview"],"search_depth":"normal"}`)

	searchClient := &search.MockClient{Results: []search.Result{
		{Title: "Widget durability study", URL: "http://example.com/a", Snippet: "reinforced casings extend widget lifespan"},
	}}

	cfg := config.Default().RAG
	cfg.EnableRealWebSearch = true
	cfg.EnableParallelSearch = false
	cfg.SearchRateLimitInterval = 0.001
	g := New(mock, searchClient, cfg, nil)

	s := g.Generate(context.Background(), "improve widget durability", "")
	assert.Equal(t, "Widgets last longer with reinforced casings.", s.Text)
	assert.Equal(t, 0.7, s.ConfidenceScore)
	require.NotEmpty(t, searchClient.Queries)
}

func TestGenerate_FallsBackWhenLLMUnavailable(t *testing.T) {
	cfg := config.Default().RAG
	cfg.EnableRealWebSearch = false
	g := New(nil, nil, cfg, nil)

	s := g.Generate(context.Background(), "plan a launch", "")
	assert.Contains(t, s.Text, "plan a launch")
}

func TestSearchPhase_DeduplicatesByURL(t *testing.T) {
	results := []search.Result{
		{Title: "a", URL: "http://x", Snippet: "widget launch plan"},
		{Title: "a dup", URL: "http://x", Snippet: "widget launch plan"},
		{Title: "b", URL: "http://y", Snippet: "unrelated"},
	}
	ranked := dedupeAndRank(results, plan{PrimaryKeywords: []string{"widget", "launch"}})
	assert.Len(t, ranked, 2)
	assert.Equal(t, "http://x", ranked[0].URL, "higher keyword-match result should rank first")
}

func TestBuildQueries_CapsAtFive(t *testing.T) {
	p := plan{
		SearchIntent:      "intent",
		PrimaryKeywords:   []string{"a", "b", "c"},
		SecondaryKeywords: []string{"x", "y", "z"},
	}
	assert.LessOrEqual(t, len(buildQueries(p)), 5)
}
