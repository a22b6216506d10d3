// Package sqlite implements mab.ArmStore on top of SQLite: prepared
// upserts keyed by strategy_id, with the bounded reward/result histories
// JSON-encoded into text columns.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"metacortex/internal/types"
)

// Store persists bandit arms and golden templates in a SQLite database.
type Store struct {
	db *sql.DB

	stmtUpsertArm     *sql.Stmt
	stmtUpsertGolden  *sql.Stmt
	stmtDeleteGolden  *sql.Stmt
}

// Open opens (creating if necessary) a SQLite database at dbPath and
// prepares its schema and statements.
func Open(dbPath string, busyTimeoutMs int) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite: database path cannot be empty")
	}

	dsn := dbPath + fmt.Sprintf("?_busy_timeout=%d", busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to ping database: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to initialize schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to prepare statements: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func initializeSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS mab_arms (
			strategy_id TEXT PRIMARY KEY,
			success_count INTEGER NOT NULL,
			failure_count INTEGER NOT NULL,
			total_reward REAL NOT NULL,
			recent_rewards TEXT NOT NULL,
			recent_results TEXT NOT NULL,
			reward_history TEXT NOT NULL,
			activation_count INTEGER NOT NULL,
			last_used_timestamp INTEGER NOT NULL,
			last_algorithm TEXT
		);

		CREATE TABLE IF NOT EXISTS mab_golden_templates (
			strategy_id TEXT PRIMARY KEY,
			path_type TEXT NOT NULL,
			description TEXT NOT NULL,
			success_rate REAL NOT NULL,
			stability_score REAL NOT NULL,
			created_at INTEGER NOT NULL,
			last_updated INTEGER NOT NULL,
			usage_count_as_template INTEGER NOT NULL
		);
	`)
	return err
}

func (s *Store) prepareStatements() error {
	var err error

	s.stmtUpsertArm, err = s.db.Prepare(`
		INSERT INTO mab_arms (
			strategy_id, success_count, failure_count, total_reward,
			recent_rewards, recent_results, reward_history,
			activation_count, last_used_timestamp, last_algorithm
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id) DO UPDATE SET
			success_count=excluded.success_count,
			failure_count=excluded.failure_count,
			total_reward=excluded.total_reward,
			recent_rewards=excluded.recent_rewards,
			recent_results=excluded.recent_results,
			reward_history=excluded.reward_history,
			activation_count=excluded.activation_count,
			last_used_timestamp=excluded.last_used_timestamp,
			last_algorithm=excluded.last_algorithm
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert arm: %w", err)
	}

	s.stmtUpsertGolden, err = s.db.Prepare(`
		INSERT INTO mab_golden_templates (
			strategy_id, path_type, description, success_rate,
			stability_score, created_at, last_updated, usage_count_as_template
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id) DO UPDATE SET
			path_type=excluded.path_type,
			description=excluded.description,
			success_rate=excluded.success_rate,
			stability_score=excluded.stability_score,
			last_updated=excluded.last_updated,
			usage_count_as_template=excluded.usage_count_as_template
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert golden template: %w", err)
	}

	s.stmtDeleteGolden, err = s.db.Prepare(`DELETE FROM mab_golden_templates WHERE strategy_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete golden template: %w", err)
	}

	return nil
}

// SaveArm implements mab.ArmStore.
func (s *Store) SaveArm(arm *types.DecisionArm) error {
	recentRewards, err := json.Marshal(arm.RecentRewards)
	if err != nil {
		return fmt.Errorf("sqlite: marshal recent_rewards: %w", err)
	}
	recentResults, err := json.Marshal(arm.RecentResults)
	if err != nil {
		return fmt.Errorf("sqlite: marshal recent_results: %w", err)
	}
	rewardHistory, err := json.Marshal(arm.RewardHistory)
	if err != nil {
		return fmt.Errorf("sqlite: marshal reward_history: %w", err)
	}

	_, err = s.stmtUpsertArm.Exec(
		arm.StrategyID, arm.SuccessCount, arm.FailureCount, arm.TotalReward,
		string(recentRewards), string(recentResults), string(rewardHistory),
		arm.ActivationCount, arm.LastUsedTimestamp.Unix(), arm.LastAlgorithm,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save arm %s: %w", arm.StrategyID, err)
	}
	return nil
}

// LoadArms implements mab.ArmStore.
func (s *Store) LoadArms() (map[string]*types.DecisionArm, error) {
	rows, err := s.db.Query(`
		SELECT strategy_id, success_count, failure_count, total_reward,
		       recent_rewards, recent_results, reward_history,
		       activation_count, last_used_timestamp, last_algorithm
		FROM mab_arms
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load arms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*types.DecisionArm)
	for rows.Next() {
		var (
			a                                               types.DecisionArm
			recentRewardsJSON, recentResultsJSON, historyJSON string
			lastUsedUnix                                     int64
			lastAlgorithm                                     sql.NullString
		)
		if err := rows.Scan(&a.StrategyID, &a.SuccessCount, &a.FailureCount, &a.TotalReward,
			&recentRewardsJSON, &recentResultsJSON, &historyJSON,
			&a.ActivationCount, &lastUsedUnix, &lastAlgorithm); err != nil {
			return nil, fmt.Errorf("sqlite: scan arm: %w", err)
		}
		_ = json.Unmarshal([]byte(recentRewardsJSON), &a.RecentRewards)
		_ = json.Unmarshal([]byte(recentResultsJSON), &a.RecentResults)
		_ = json.Unmarshal([]byte(historyJSON), &a.RewardHistory)
		a.LastUsedTimestamp = time.Unix(lastUsedUnix, 0)
		a.LastAlgorithm = lastAlgorithm.String

		arm := a
		out[arm.StrategyID] = &arm
	}
	return out, rows.Err()
}

// SaveGoldenTemplate implements mab.ArmStore.
func (s *Store) SaveGoldenTemplate(tpl *types.GoldenTemplate) error {
	_, err := s.stmtUpsertGolden.Exec(
		tpl.StrategyID, tpl.PathType, tpl.Description, tpl.SuccessRate,
		tpl.StabilityScore, tpl.CreatedAt.Unix(), tpl.LastUpdated.Unix(), tpl.UsageCountAsTemplate,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save golden template %s: %w", tpl.StrategyID, err)
	}
	return nil
}

// LoadGoldenTemplates implements mab.ArmStore.
func (s *Store) LoadGoldenTemplates() (map[string]*types.GoldenTemplate, error) {
	rows, err := s.db.Query(`
		SELECT strategy_id, path_type, description, success_rate,
		       stability_score, created_at, last_updated, usage_count_as_template
		FROM mab_golden_templates
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load golden templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*types.GoldenTemplate)
	for rows.Next() {
		var (
			g                       types.GoldenTemplate
			createdUnix, updatedUnix int64
		)
		if err := rows.Scan(&g.StrategyID, &g.PathType, &g.Description, &g.SuccessRate,
			&g.StabilityScore, &createdUnix, &updatedUnix, &g.UsageCountAsTemplate); err != nil {
			return nil, fmt.Errorf("sqlite: scan golden template: %w", err)
		}
		g.CreatedAt = time.Unix(createdUnix, 0)
		g.LastUpdated = time.Unix(updatedUnix, 0)

		tpl := g
		out[tpl.StrategyID] = &tpl
	}
	return out, rows.Err()
}

// DeleteGoldenTemplate implements mab.ArmStore.
func (s *Store) DeleteGoldenTemplate(strategyID string) error {
	_, err := s.stmtDeleteGolden.Exec(strategyID)
	if err != nil {
		return fmt.Errorf("sqlite: delete golden template %s: %w", strategyID, err)
	}
	return nil
}
