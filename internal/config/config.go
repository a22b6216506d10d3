// Package config provides the engine's configuration surface.
//
// Configuration can be loaded from multiple sources (in order of
// precedence): environment variables (highest), a YAML file, then defaults
// (lowest).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete, recognized configuration surface. The engine
// never reads undeclared keys.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	MAB         MABConfig         `yaml:"mab" json:"mab"`
	RAG         RAGConfig         `yaml:"rag" json:"rag"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	SystemLimits SystemLimits     `yaml:"system_limits" json:"system_limits"`
	Features    FeatureFlags      `yaml:"feature_flags" json:"feature_flags"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// ServerConfig identifies the running instance in logs and diagnostics.
type ServerConfig struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Environment string `yaml:"environment" json:"environment"`
}

// MABConfig configures the bandit substrate.
type MABConfig struct {
	ConvergenceThreshold     float64 `yaml:"convergence_threshold" json:"convergence_threshold"`
	MinSamples               int     `yaml:"min_samples" json:"min_samples"`
	GoldenSuccessRateThreshold float64 `yaml:"golden_success_rate_threshold" json:"golden_success_rate_threshold"`
	GoldenMinSamples         int     `yaml:"golden_min_samples" json:"golden_min_samples"`
	MaxGoldenTemplates       int     `yaml:"max_golden_templates" json:"max_golden_templates"`
	ExplorationEpsilonMin    float64 `yaml:"exploration_epsilon_min" json:"exploration_epsilon_min"`
}

// RAGConfig configures the seed generator's retrieval-augmented synthesis.
type RAGConfig struct {
	MaxSearchResults        int     `yaml:"max_search_results" json:"max_search_results"`
	EnableParallelSearch    bool    `yaml:"enable_parallel_search" json:"enable_parallel_search"`
	MaxSearchWorkers        int     `yaml:"max_search_workers" json:"max_search_workers"`
	SearchRateLimitInterval float64 `yaml:"search_rate_limit_interval_s" json:"search_rate_limit_interval_s"`
	EnableRealWebSearch     bool    `yaml:"enable_real_web_search" json:"enable_real_web_search"`
}

// PerformanceConfig tunes concurrency, caching, and verification
// adaptivity.
type PerformanceConfig struct {
	EnableParallelPathVerification bool               `yaml:"enable_parallel_path_verification" json:"enable_parallel_path_verification"`
	MaxConcurrentVerifications    int                `yaml:"max_concurrent_verifications" json:"max_concurrent_verifications"`
	EnableIntelligentCaching      bool               `yaml:"enable_intelligent_caching" json:"enable_intelligent_caching"`
	CacheTTLSeconds               int                `yaml:"cache_ttl_s" json:"cache_ttl_s"`
	EnableAdaptivePathCount       bool               `yaml:"enable_adaptive_path_count" json:"enable_adaptive_path_count"`
	EnableEarlyTermination        bool               `yaml:"enable_early_termination" json:"enable_early_termination"`
	PathConsistencyThreshold      float64            `yaml:"path_consistency_threshold" json:"path_consistency_threshold"`
	ConfidencePathMapping         map[string]int     `yaml:"confidence_path_mapping" json:"confidence_path_mapping"`
}

// SystemLimits bounds history sizes and pipeline fan-out.
type SystemLimits struct {
	MaxDecisionHistory    int `yaml:"max_decision_history" json:"max_decision_history"`
	MaxReasoningPaths     int `yaml:"max_reasoning_paths" json:"max_reasoning_paths"`
	MaxThinkingSeedLength int `yaml:"max_thinking_seed_length" json:"max_thinking_seed_length"`
}

// FeatureFlags toggles optional subsystems.
type FeatureFlags struct {
	RAGSeedGeneration      bool `yaml:"rag_seed_generation" json:"rag_seed_generation"`
	RealtimeVerification   bool `yaml:"realtime_verification" json:"realtime_verification"`
	AhaMomentSystem        bool `yaml:"aha_moment_system" json:"aha_moment_system"`
	GoldenTemplateSystem   bool `yaml:"golden_template_system" json:"golden_template_system"`
	PerformanceOptimization bool `yaml:"performance_optimization" json:"performance_optimization"`
}

// LoggingConfig controls log verbosity and formatting.
type LoggingConfig struct {
	Level            string `yaml:"level" json:"level"`
	Format           string `yaml:"format" json:"format"`
	EnableTimestamps bool   `yaml:"enable_timestamps" json:"enable_timestamps"`
}

// Default returns the default configuration with every feature enabled.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:        "metacortex",
			Version:     "1.0.0",
			Environment: "development",
		},
		MAB: MABConfig{
			ConvergenceThreshold:       0.05,
			MinSamples:                 10,
			GoldenSuccessRateThreshold: 0.90,
			GoldenMinSamples:           20,
			MaxGoldenTemplates:         50,
			ExplorationEpsilonMin:      0.1,
		},
		RAG: RAGConfig{
			MaxSearchResults:        8,
			EnableParallelSearch:    true,
			MaxSearchWorkers:        3,
			SearchRateLimitInterval: 1.5,
			EnableRealWebSearch:     false,
		},
		Performance: PerformanceConfig{
			EnableParallelPathVerification: false,
			MaxConcurrentVerifications:     3,
			EnableIntelligentCaching:       true,
			CacheTTLSeconds:                3600,
			EnableAdaptivePathCount:        false,
			EnableEarlyTermination:         false,
			PathConsistencyThreshold:       0.8,
			ConfidencePathMapping: map[string]int{
				"0.9": 2, "0.7": 3, "0.5": 4, "0.3": 5, "0.0": 6,
			},
		},
		SystemLimits: SystemLimits{
			MaxDecisionHistory:    50,
			MaxReasoningPaths:     6,
			MaxThinkingSeedLength: 1000,
		},
		Features: FeatureFlags{
			RAGSeedGeneration:       true,
			RealtimeVerification:    true,
			AhaMomentSystem:         true,
			GoldenTemplateSystem:    true,
			PerformanceOptimization: true,
		},
		Logging: LoggingConfig{
			Level:            "info",
			Format:           "text",
			EnableTimestamps: true,
		},
	}
}

// Load builds a Config from defaults overridden by environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads a YAML config file, then applies environment overrides.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromEnv applies MC_<SECTION>_<KEY> environment overrides.
func (c *Config) loadFromEnv() error {
	if v := os.Getenv("MC_SERVER_NAME"); v != "" {
		c.Server.Name = v
	}
	if v := os.Getenv("MC_SERVER_ENVIRONMENT"); v != "" {
		c.Server.Environment = v
	}
	if v := os.Getenv("MC_MAB_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MAB.MinSamples = n
		}
	}
	if v := os.Getenv("MC_MAB_GOLDEN_SUCCESS_RATE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MAB.GoldenSuccessRateThreshold = f
		}
	}
	if v := os.Getenv("MC_RAG_ENABLE_REAL_WEB_SEARCH"); v != "" {
		c.RAG.EnableRealWebSearch = parseBool(v)
	}
	if v := os.Getenv("MC_PERFORMANCE_MAX_CONCURRENT_VERIFICATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Performance.MaxConcurrentVerifications = n
		}
	}
	if v := os.Getenv("MC_LOGGING_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// Validate rejects structurally invalid configuration.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server.name cannot be empty")
	}
	if c.MAB.MaxGoldenTemplates <= 0 {
		return fmt.Errorf("mab.max_golden_templates must be >= 1")
	}
	if c.RAG.MaxSearchWorkers <= 0 {
		return fmt.Errorf("rag.max_search_workers must be >= 1")
	}
	if c.Performance.MaxConcurrentVerifications <= 0 {
		return fmt.Errorf("performance.max_concurrent_verifications must be >= 1")
	}
	if c.SystemLimits.MaxReasoningPaths <= 0 {
		return fmt.Errorf("system_limits.max_reasoning_paths must be >= 1")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on" || s == "enabled"
}
