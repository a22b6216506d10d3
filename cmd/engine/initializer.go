// Package main wires the engine's components together. Components are
// constructed in InitializeEngine rather than inline in main so the wiring
// itself stays testable.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"metacortex/internal/config"
	"metacortex/internal/llm"
	"metacortex/internal/mab"
	"metacortex/internal/orchestrator"
	"metacortex/internal/pathgen"
	"metacortex/internal/persistence/chromem"
	neo4jstore "metacortex/internal/persistence/neo4j"
	sqlitestore "metacortex/internal/persistence/sqlite"
	"metacortex/internal/search"
	"metacortex/internal/seed"
	"metacortex/internal/state"
	"metacortex/internal/templates"
	"metacortex/internal/toolmab"
	"metacortex/internal/tools"
	"metacortex/internal/verify"
)

// EngineComponents holds every initialized collaborator. Exported fields
// let main() and tests reach in without re-deriving construction order.
type EngineComponents struct {
	Config      *config.Config
	Invoker     llm.Invoker
	Library     *templates.Library
	Registry    *tools.Registry
	ToolBandit  *toolmab.MAB
	SeedGen     *seed.Generator
	Verifier    *verify.Verifier
	PathGen     *pathgen.Generator
	Converger   *mab.Converger
	Orchestrator *orchestrator.Orchestrator
	Session     *state.Manager

	armStore     *sqlitestore.Store
	sessionStore *neo4jstore.Store
}

// InitializeEngine constructs every component from the process environment.
// Extracted from main() so it can be exercised without running the CLI.
func InitializeEngine() (*EngineComponents, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c := &EngineComponents{Config: cfg}

	c.Invoker = buildInvoker()
	c.Library = templates.New()
	log.Println("Initialized template library")

	c.Registry = tools.NewRegistry()
	searchClient := buildSearchClient(cfg)
	if err := tools.RegisterBuiltins(c.Registry, searchClient); err != nil {
		log.Printf("Warning: failed to register builtin tools: %v", err)
	} else {
		log.Println("Registered builtin tools: web_search, calculator, fetch_url")
	}

	ragCfg := cfg.RAG
	if !cfg.Features.RAGSeedGeneration {
		ragCfg.EnableRealWebSearch = false
		log.Println("RAG seed generation disabled by feature flag, seeds come straight from the LLM")
	}
	if !cfg.Features.PerformanceOptimization {
		cfg.Performance.EnableParallelPathVerification = false
		cfg.Performance.EnableAdaptivePathCount = false
		cfg.Performance.EnableEarlyTermination = false
	}

	c.ToolBandit = toolmab.New(c.Invoker, c.Registry)
	log.Println("Initialized tool-selection bandit")

	c.SeedGen = seed.New(c.Invoker, searchClient, ragCfg, nil)
	c.Verifier = verify.New(c.Invoker, c.Registry, c.Registry.NamesByCategory(tools.CategorySearch), c.ToolBandit)
	c.PathGen = pathgen.New(c.Library, c.Invoker, nil)
	log.Println("Initialized seed generator, verifier, and path generator")

	var armStore mab.ArmStore
	if dbPath := os.Getenv("MC_SQLITE_PATH"); dbPath != "" {
		store, err := sqlitestore.Open(dbPath, 5000)
		if err != nil {
			log.Printf("Warning: failed to open sqlite arm store at %s: %v", dbPath, err)
		} else {
			armStore = store
			c.armStore = store
			log.Printf("Bandit arms persisted to sqlite at %s", dbPath)
		}
	} else {
		log.Println("MC_SQLITE_PATH not set, bandit arms are in-memory only")
	}

	converger, err := mab.NewConverger(cfg.MAB, armStore)
	if err != nil {
		return nil, fmt.Errorf("initialize bandit converger: %w", err)
	}
	c.Converger = converger
	if !cfg.Features.GoldenTemplateSystem {
		converger.DisableGoldenTemplates()
		log.Println("Golden-template system disabled by feature flag")
	}
	log.Println("Initialized MAB converger")

	c.Orchestrator = orchestrator.New(c.SeedGen, c.Verifier, c.PathGen, c.Converger, c.Library, c.Invoker, cfg, nil)
	log.Println("Initialized orchestrator")

	c.Session = c.buildSession(cfg)

	return c, nil
}

// Cleanup releases every resource InitializeEngine opened.
func (c *EngineComponents) Cleanup() {
	if c.armStore != nil {
		if err := c.armStore.Close(); err != nil {
			log.Printf("Warning: failed to close sqlite arm store: %v", err)
		}
	}
	if c.sessionStore != nil {
		if err := c.sessionStore.Close(context.Background()); err != nil {
			log.Printf("Warning: failed to close neo4j session store: %v", err)
		}
	}
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("MC_CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// buildInvoker builds an OpenAI-compatible invoker if MC_LLM_API_KEY is set,
// otherwise leaves every LLM-backed component to degrade to its documented
// fallback path (seed.Generator.fallbackSeed, pathgen's uniform-relevance
// fallback, verify.Verifier's heuristic scoring).
func buildInvoker() llm.Invoker {
	apiKey := os.Getenv("MC_LLM_API_KEY")
	if apiKey == "" {
		log.Println("MC_LLM_API_KEY not set, running with heuristic fallbacks only")
		return nil
	}
	model := os.Getenv("MC_LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	invoker, err := llm.NewOpenAICompatInvoker(llm.OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: os.Getenv("MC_LLM_BASE_URL"),
		Model:   model,
	})
	if err != nil {
		log.Printf("Warning: failed to build LLM invoker: %v", err)
		return nil
	}
	log.Printf("Initialized LLM invoker (model: %s)", model)
	return invoker
}

func buildSearchClient(cfg *config.Config) search.Client {
	if !cfg.RAG.EnableRealWebSearch {
		return nil
	}
	baseURL := os.Getenv("MC_SEARXNG_URL")
	if baseURL == "" {
		log.Println("RAG web search enabled but MC_SEARXNG_URL not set, disabling search")
		return nil
	}
	interval := time.Duration(cfg.RAG.SearchRateLimitInterval * float64(time.Second))
	client := search.NewSearXNGClient(baseURL, interval)
	log.Printf("Initialized SearXNG search client at %s", baseURL)
	return client
}

func (c *EngineComponents) buildSession(cfg *config.Config) *state.Manager {
	var sessionStore state.SessionStore
	if os.Getenv("MC_NEO4J_ENABLED") == "true" {
		store, err := neo4jstore.Open(neo4jstore.DefaultConfig())
		if err != nil {
			log.Printf("Warning: failed to connect to neo4j, session history is in-memory only: %v", err)
		} else {
			sessionStore = store
			c.sessionStore = store
		}
	}

	var embedder state.Embedder
	if apiKey := os.Getenv("MC_EMBEDDINGS_API_KEY"); apiKey != "" {
		embedder = chromem.NewOpenAIEmbedder(apiKey, os.Getenv("MC_EMBEDDINGS_MODEL"))
		log.Println("Initialized embedder for relevant-result ranking")
	}

	sessionID := os.Getenv("MC_SESSION_ID")
	if sessionID == "" {
		sessionID = "session-" + fmt.Sprint(os.Getpid())
	}
	return state.New(sessionID, sessionStore, embedder, nil)
}

