// Package main provides the entry point for the metacortex decision
// engine. It loads configuration, wires the five-stage pipeline together,
// and runs one decision for the task given on the command line (or read
// from stdin), printing the chosen reasoning path and the stage timings.
//
// Environment variables:
//   - MC_CONFIG_FILE: path to a YAML config file (defaults layered under it)
//   - MC_LLM_API_KEY, MC_LLM_MODEL, MC_LLM_BASE_URL: LLM invoker settings
//   - MC_SQLITE_PATH: persists bandit arms and golden templates to SQLite
//   - MC_NEO4J_ENABLED, NEO4J_URI, NEO4J_USERNAME, NEO4J_PASSWORD: session history
//   - MC_EMBEDDINGS_API_KEY, MC_EMBEDDINGS_MODEL: relevant-result ranking
//   - MC_SESSION_ID: stable session identifier for state.Manager
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"metacortex/internal/types"
)

func main() {
	if os.Getenv("DEBUG") == "true" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	components, err := InitializeEngine()
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer components.Cleanup()

	task, err := readTask(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to read task: %v", err)
	}
	if task == "" {
		log.Fatal("no task provided: pass it as an argument or pipe it on stdin")
	}

	turnID := components.Session.StartTurn(task)
	goalID := components.Session.AddGoal(task, "decision", 1.0)

	ctx := context.Background()
	result, err := components.Orchestrator.Decide(ctx, task, 0.5, "")
	if err != nil {
		_ = components.Session.CompleteTurn(turnID, "", false, err)
		log.Fatalf("Decision failed: %v", err)
	}

	printDecision(result)

	response := fmt.Sprintf("chose %s (%s)", result.ChosenPath.StrategyID, result.MABDecision.SelectionAlgorithm)
	if err := components.Session.CompleteTurn(turnID, response, !result.EmergencyFallback, nil); err != nil {
		log.Printf("Warning: failed to complete turn: %v", err)
	}
	status := types.GoalAchieved
	if err := components.Session.UpdateGoalProgress(goalID, 1.0, &status); err != nil {
		log.Printf("Warning: failed to update goal progress: %v", err)
	}

	if err := components.Orchestrator.UpdateOutcome(result, !result.EmergencyFallback, 0, 0, boolToReward(!result.EmergencyFallback)); err != nil {
		log.Printf("Warning: failed to record decision outcome: %v", err)
	}
}

func boolToReward(ok bool) float64 {
	if ok {
		return 1
	}
	return -1
}

func readTask(args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}

	stat, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if stat.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}

	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func printDecision(result types.DecisionResult) {
	fmt.Printf("round %d: chose %q via %s (confidence %.2f)\n",
		result.Round, result.ChosenPath.StrategyID, result.MABDecision.SelectionAlgorithm, result.MABDecision.Confidence)
	fmt.Printf("  description: %s\n", result.ChosenPath.Description)
	if result.DetourTriggered {
		fmt.Println("  detour: triggered (all candidate paths failed verification)")
	}
	if result.EmergencyFallback {
		fmt.Println("  fallback: emergency conservative path used")
	}
	if result.Reason != "" {
		fmt.Printf("  reason: %s\n", result.Reason)
	}
	for _, st := range result.StageTimings {
		fmt.Printf("  stage %-10s %v\n", st.Stage, st.Duration)
	}
}
