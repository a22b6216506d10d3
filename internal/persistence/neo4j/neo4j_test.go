package neo4j

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_ReadsFromEnvironment(t *testing.T) {
	vars := []string{"NEO4J_URI", "NEO4J_USERNAME", "NEO4J_PASSWORD", "NEO4J_DATABASE", "NEO4J_TIMEOUT_MS"}
	original := make(map[string]string, len(vars))
	for _, k := range vars {
		original[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range vars {
			if v := original[k]; v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	})

	cfg := DefaultConfig()
	assert.Equal(t, "bolt://localhost:7687", cfg.URI)
	assert.Equal(t, "neo4j", cfg.Username)
	assert.Equal(t, "neo4j", cfg.Database)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	os.Setenv("NEO4J_URI", "bolt://remote:7687")
	os.Setenv("NEO4J_TIMEOUT_MS", "10000")
	cfg = DefaultConfig()
	assert.Equal(t, "bolt://remote:7687", cfg.URI)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
}

func TestDefaultConfig_InvalidTimeoutFallsBack(t *testing.T) {
	os.Setenv("NEO4J_TIMEOUT_MS", "not-a-number")
	t.Cleanup(func() { os.Unsetenv("NEO4J_TIMEOUT_MS") })

	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

// TestOpen_ConnectionFailure requires no running Neo4j instance at the
// unreachable address.
func TestOpen_ConnectionFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network-dependent test in short mode")
	}

	cfg := Config{
		URI:      "bolt://nonexistent:7687",
		Username: "neo4j",
		Password: "password",
		Database: "neo4j",
		Timeout:  1 * time.Second,
	}

	store, err := Open(cfg)
	if err == nil {
		_ = store.Close(context.Background())
		t.Skip("test requires Neo4j to be unavailable at bolt://nonexistent:7687")
	}
	assert.Nil(t, store)
}
