package types

import "time"

// GoalStatus mirrors the lifecycle states a session goal moves through.
type GoalStatus string

const (
	GoalPending           GoalStatus = "pending"
	GoalInProgress        GoalStatus = "in_progress"
	GoalPartiallyAchieved GoalStatus = "partially_achieved"
	GoalAchieved          GoalStatus = "achieved"
	GoalFailed            GoalStatus = "failed"
)

// Goal is a tracked objective within a session.
type Goal struct {
	ID       string     `json:"id"`
	Query    string     `json:"query"`
	Type     string     `json:"type"`
	Priority float64    `json:"priority"`
	Progress float64    `json:"progress"` // [0,1]
	Status   GoalStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolCallRecord is one tool invocation and its result, attached to a turn.
type ToolCallRecord struct {
	ToolName  string   `json:"tool_name"`
	Input     Metadata `json:"input,omitempty"`
	Success   bool     `json:"success"`
	Output    Metadata `json:"output,omitempty"`
	Error     string   `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is one user-input/response round within a session.
type Turn struct {
	ID         string           `json:"id"`
	UserInput  string           `json:"user_input"`
	Response   string           `json:"response,omitempty"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	MABDecisions []MABDecision  `json:"mab_decisions,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Completed   bool      `json:"completed"`
}

// IntermediateResult is a partial result produced mid-session (e.g. a search
// hit, a tool output) that may or may not feed into the final answer.
type IntermediateResult struct {
	Source          string    `json:"source"`
	Content         string    `json:"content"`
	Relevance       float64   `json:"relevance"` // [0,1]
	Quality         float64   `json:"quality"`   // [0,1]
	UsedInFinal     bool      `json:"used_in_final_answer"`
	Timestamp       time.Time `json:"timestamp"`
}

// SessionSnapshot is the read-only view StateManager exposes for prompts
// and diagnostics.
type SessionSnapshot struct {
	SessionID    string                `json:"session_id"`
	Goals        []Goal                `json:"goals"`
	TurnCount    int                   `json:"turn_count"`
	RecentTurns  []Turn                `json:"recent_turns"`
	ToolsUsed    []string              `json:"tools_used"`
	Results      []IntermediateResult  `json:"intermediate_results"`
}
