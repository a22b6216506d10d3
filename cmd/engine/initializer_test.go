package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEngineEnv removes every MC_/NEO4J_ env var this package reads so
// tests run the same regardless of the host environment, restoring
// whatever was previously set.
func clearEngineEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"MC_CONFIG_FILE", "MC_LLM_API_KEY", "MC_LLM_MODEL", "MC_LLM_BASE_URL",
		"MC_SQLITE_PATH", "MC_NEO4J_ENABLED", "MC_EMBEDDINGS_API_KEY",
		"MC_EMBEDDINGS_MODEL", "MC_SESSION_ID", "MC_SEARXNG_URL",
	}
	original := make(map[string]string, len(vars))
	for _, v := range vars {
		original[v] = os.Getenv(v)
		os.Unsetenv(v)
	}
	t.Cleanup(func() {
		for _, v := range vars {
			if val := original[v]; val != "" {
				os.Setenv(v, val)
			} else {
				os.Unsetenv(v)
			}
		}
	})
}

func TestInitializeEngine_DegradesToHeuristicsWithNoExternalConfig(t *testing.T) {
	clearEngineEnv(t)

	components, err := InitializeEngine()
	require.NoError(t, err)
	defer components.Cleanup()

	assert.NotNil(t, components.Config)
	assert.Nil(t, components.Invoker, "no MC_LLM_API_KEY means no invoker")
	assert.NotNil(t, components.Library)
	assert.NotNil(t, components.Registry)
	assert.NotNil(t, components.ToolBandit)
	assert.NotNil(t, components.SeedGen)
	assert.NotNil(t, components.Verifier)
	assert.NotNil(t, components.PathGen)
	assert.NotNil(t, components.Converger)
	assert.NotNil(t, components.Orchestrator)
	assert.NotNil(t, components.Session)
	assert.Nil(t, components.armStore, "no MC_SQLITE_PATH means no sqlite store")
	assert.Nil(t, components.sessionStore, "MC_NEO4J_ENABLED unset means no neo4j store")
}

func TestInitializeEngine_SqlitePathEnablesArmPersistence(t *testing.T) {
	clearEngineEnv(t)
	t.Setenv("MC_SQLITE_PATH", t.TempDir()+"/arms.db")

	components, err := InitializeEngine()
	require.NoError(t, err)
	defer components.Cleanup()

	assert.NotNil(t, components.armStore)
}

func TestBuildInvoker_ReturnsNilWithoutAPIKey(t *testing.T) {
	clearEngineEnv(t)
	assert.Nil(t, buildInvoker())
}

func TestBoolToReward(t *testing.T) {
	assert.Equal(t, 1.0, boolToReward(true))
	assert.Equal(t, -1.0, boolToReward(false))
}

func TestReadTask_PrefersArgsOverStdin(t *testing.T) {
	task, err := readTask([]string{"analyze", "the", "problem"})
	require.NoError(t, err)
	assert.Equal(t, "analyze the problem", task)
}
