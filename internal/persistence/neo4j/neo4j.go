// Package neo4j implements state.SessionStore on top of Neo4j. Sessions
// are modeled as (:Session)-[:HAD_TURN]->(:Turn) and
// (:Session)-[:PURSUED]->(:Goal), with each turn's tool calls and bandit
// decisions flattened to a JSON string property since Neo4j properties
// can't nest arbitrary structures.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neoconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	"metacortex/internal/types"
)

// Config holds the connection parameters, defaulted from NEO4J_-prefixed
// environment variables.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
	Timeout  time.Duration
}

// DefaultConfig reads connection parameters from the environment, falling
// back to local-dev defaults.
func DefaultConfig() Config {
	cfg := Config{
		URI:      getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Username: getEnv("NEO4J_USERNAME", "neo4j"),
		Password: getEnv("NEO4J_PASSWORD", "password"),
		Database: getEnv("NEO4J_DATABASE", "neo4j"),
		Timeout:  5 * time.Second,
	}
	if v := os.Getenv("NEO4J_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Store persists session turns and goals to Neo4j.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

// Open connects to Neo4j and verifies connectivity.
func Open(cfg Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neoconfig.Config) {
			c.MaxConnectionPoolSize = 50
			c.ConnectionAcquisitionTimeout = cfg.Timeout
			c.SocketConnectTimeout = cfg.Timeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("neo4j: failed to create driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: failed to verify connectivity: %w", err)
	}

	return &Store{driver: driver, database: cfg.Database, timeout: cfg.Timeout}, nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// PersistTurn implements state.SessionStore: upserts the Session node and
// writes (or updates) one HAD_TURN-linked Turn node.
func (s *Store) PersistTurn(ctx context.Context, sessionID string, turn types.Turn) error {
	toolCallsJSON, err := json.Marshal(turn.ToolCalls)
	if err != nil {
		return fmt.Errorf("neo4j: marshal tool_calls: %w", err)
	}
	decisionsJSON, err := json.Marshal(turn.MABDecisions)
	if err != nil {
		return fmt.Errorf("neo4j: marshal mab_decisions: %w", err)
	}

	_, err = s.executeWriteSimple(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (s:Session {id: $sessionID})
			MERGE (t:Turn {id: $turnID})
			SET t.user_input = $userInput,
			    t.response = $response,
			    t.success = $success,
			    t.error = $error,
			    t.tool_calls = $toolCalls,
			    t.mab_decisions = $mabDecisions,
			    t.started_at = $startedAt,
			    t.completed_at = $completedAt,
			    t.completed = $completed
			MERGE (s)-[:HAD_TURN]->(t)
		`, map[string]any{
			"sessionID":    sessionID,
			"turnID":       turn.ID,
			"userInput":    turn.UserInput,
			"response":     turn.Response,
			"success":      turn.Success,
			"error":        turn.Error,
			"toolCalls":    string(toolCallsJSON),
			"mabDecisions": string(decisionsJSON),
			"startedAt":    turn.StartedAt.Unix(),
			"completedAt":  unixOrZero(turn.CompletedAt),
			"completed":    turn.Completed,
		})
	})
	if err != nil {
		return fmt.Errorf("neo4j: persist turn %s: %w", turn.ID, err)
	}
	return nil
}

// PersistGoal implements state.SessionStore: upserts the Session node and
// writes (or updates) one PURSUED-linked Goal node.
func (s *Store) PersistGoal(ctx context.Context, sessionID string, goal types.Goal) error {
	_, err := s.executeWriteSimple(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (s:Session {id: $sessionID})
			MERGE (g:Goal {id: $goalID})
			SET g.query = $query,
			    g.type = $type,
			    g.priority = $priority,
			    g.progress = $progress,
			    g.status = $status,
			    g.created_at = $createdAt,
			    g.updated_at = $updatedAt
			MERGE (s)-[:PURSUED]->(g)
		`, map[string]any{
			"sessionID": sessionID,
			"goalID":    goal.ID,
			"query":     goal.Query,
			"type":      goal.Type,
			"priority":  goal.Priority,
			"progress":  goal.Progress,
			"status":    string(goal.Status),
			"createdAt": goal.CreatedAt.Unix(),
			"updatedAt": goal.UpdatedAt.Unix(),
		})
	})
	if err != nil {
		return fmt.Errorf("neo4j: persist goal %s: %w", goal.ID, err)
	}
	return nil
}

// LoadSession implements state.SessionStore: reconstructs every turn and
// goal linked to sessionID, ordered by start/creation time.
func (s *Store) LoadSession(ctx context.Context, sessionID string) ([]types.Turn, []types.Goal, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: neo4j.AccessModeRead})
	defer func() { _ = session.Close(ctx) }()

	turnsAny, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (:Session {id: $sessionID})-[:HAD_TURN]->(t:Turn)
			RETURN t.id, t.user_input, t.response, t.success, t.error,
			       t.tool_calls, t.mab_decisions, t.started_at, t.completed_at, t.completed
			ORDER BY t.started_at ASC
		`, map[string]any{"sessionID": sessionID})
		if err != nil {
			return nil, err
		}
		var out []types.Turn
		for result.Next(ctx) {
			rec := result.Record()
			var turn types.Turn
			turn.ID, _ = rec.Values[0].(string)
			turn.UserInput, _ = rec.Values[1].(string)
			turn.Response, _ = rec.Values[2].(string)
			turn.Success, _ = rec.Values[3].(bool)
			turn.Error, _ = rec.Values[4].(string)
			if raw, ok := rec.Values[5].(string); ok {
				_ = json.Unmarshal([]byte(raw), &turn.ToolCalls)
			}
			if raw, ok := rec.Values[6].(string); ok {
				_ = json.Unmarshal([]byte(raw), &turn.MABDecisions)
			}
			turn.StartedAt = unixValue(rec.Values[7])
			turn.CompletedAt = unixValue(rec.Values[8])
			turn.Completed, _ = rec.Values[9].(bool)
			out = append(out, turn)
		}
		return out, result.Err()
	})
	if err != nil {
		return nil, nil, fmt.Errorf("neo4j: load turns for session %s: %w", sessionID, err)
	}
	turns, _ := turnsAny.([]types.Turn)

	goalsAny, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (:Session {id: $sessionID})-[:PURSUED]->(g:Goal)
			RETURN g.id, g.query, g.type, g.priority, g.progress, g.status, g.created_at, g.updated_at
			ORDER BY g.created_at ASC
		`, map[string]any{"sessionID": sessionID})
		if err != nil {
			return nil, err
		}
		var out []types.Goal
		for result.Next(ctx) {
			rec := result.Record()
			var goal types.Goal
			goal.ID, _ = rec.Values[0].(string)
			goal.Query, _ = rec.Values[1].(string)
			goal.Type, _ = rec.Values[2].(string)
			goal.Priority, _ = rec.Values[3].(float64)
			goal.Progress, _ = rec.Values[4].(float64)
			if status, ok := rec.Values[5].(string); ok {
				goal.Status = types.GoalStatus(status)
			}
			goal.CreatedAt = unixValue(rec.Values[6])
			goal.UpdatedAt = unixValue(rec.Values[7])
			out = append(out, goal)
		}
		return out, result.Err()
	})
	if err != nil {
		return nil, nil, fmt.Errorf("neo4j: load goals for session %s: %w", sessionID, err)
	}
	goals, _ := goalsAny.([]types.Goal)

	return turns, goals, nil
}

func (s *Store) executeWriteSimple(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = session.Close(ctx) }()
	return session.ExecuteWrite(ctx, work)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func unixValue(v any) time.Time {
	n, ok := v.(int64)
	if !ok || n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
