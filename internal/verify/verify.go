// Package verify scores a seed or path description for feasibility,
// optionally letting the LLM call tools from a restricted registry subset
// along the way. The LLM produces free text; structure is extracted with a
// prioritized regex cascade.
package verify

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"metacortex/internal/llm"
	"metacortex/internal/toolmab"
	"metacortex/internal/tools"
	"metacortex/internal/types"
)

// Stage tags the text being verified, selecting which verification prompt
// frame is used.
type Stage string

const (
	StageThinkingSeed    Stage = "thinking_seed"
	StageReasoningPath   Stage = "reasoning_path"
	StageInnovativeDetour Stage = "innovative_detour"
)

const maxToolCalls = 2

// feasibilityPatterns is the prioritized regex cascade: the first pattern
// to match wins.
var feasibilityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)feasibility[_ ]?score[:\s]*([01](?:\.\d+)?)`),
	regexp.MustCompile(`(?i)score[:\s]*([01](?:\.\d+)?)`),
	regexp.MustCompile(`(?i)feasib\w*[^.]{0,40}?\b(0\.\d+|1\.0|[01])\b`),
}

// Verifier scores text for feasibility, optionally invoking tools.
type Verifier struct {
	invoker      llm.Invoker
	toolRegistry *tools.Registry
	allowedTools []string
	toolBandit   *toolmab.MAB
}

// New builds a Verifier. toolRegistry may be nil to disable tool use
// entirely. allowedTools restricts which registered tools the verifier may
// invoke (the search/verification subset); a nil or empty slice falls back
// to every tool in toolRegistry. toolBandit, when non-nil, mediates every
// tool call: execution goes through the bandit so it learns which tools
// help, instead of hitting the registry directly.
func New(invoker llm.Invoker, toolRegistry *tools.Registry, allowedTools []string, toolBandit *toolmab.MAB) *Verifier {
	return &Verifier{invoker: invoker, toolRegistry: toolRegistry, allowedTools: allowedTools, toolBandit: toolBandit}
}

// Verify scores text for feasibility under the given stage. It never
// panics outward: any failure produces the fixed negative-signal fallback
// so the bandit learns to avoid whatever produced it.
func (v *Verifier) Verify(ctx context.Context, text string, stage Stage) (result types.VerificationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = types.VerificationResult{FeasibilityScore: 0, Reward: -0.5, FallbackUsed: true,
				AnalysisSummary: fmt.Sprintf("verification panicked: %v", r)}
		}
	}()

	analysis, toolCalls, err := v.runAnalysis(ctx, text, stage)
	if err != nil {
		return types.VerificationResult{FeasibilityScore: 0, Reward: -0.5, FallbackUsed: true,
			AnalysisSummary: err.Error()}
	}

	feasibility := extractFeasibilityScore(analysis)
	toolBonus := minF(0.1, 0.05*float64(len(toolCalls)))
	reward := clamp(feasibility-0.5+toolBonus, -1, 1)

	return types.VerificationResult{
		FeasibilityScore: feasibility,
		Reward:           reward,
		AnalysisSummary:  analysis,
		ToolCallsMade:    toolCalls,
		FallbackUsed:     false,
	}
}

// runAnalysis drives the LLM, allowing it to issue at most two tool-call
// directives before producing a final analysis.
func (v *Verifier) runAnalysis(ctx context.Context, text string, stage Stage) (string, []string, error) {
	if v.invoker == nil {
		return "", nil, fmt.Errorf("verify: no LLM invoker configured")
	}

	registry := v.restrictedRegistry()
	messages := []llm.Message{
		llm.System(verificationPrompt(stage, registry)),
		llm.User(text),
	}

	var toolCalls []string
	for {
		reply, err := v.invoker.Complete(ctx, messages, llm.CompletionOptions{Temperature: 0.2, MaxTokens: 500})
		if err != nil {
			return "", toolCalls, fmt.Errorf("verify: LLM call failed: %w", err)
		}

		name, args, hasCall := tools.ParseToolCallDirective(reply)
		if !hasCall || len(toolCalls) >= maxToolCalls || registry == nil {
			return reply, toolCalls, nil
		}

		if _, ok := registry.Get(name); !ok {
			return reply, toolCalls, nil
		}

		output, err := v.executeTool(ctx, name, text, parseArgsAsQuery(args))
		toolCalls = append(toolCalls, name)
		messages = append(messages, llm.Message{Role: "assistant", Content: reply})
		if err != nil {
			messages = append(messages, llm.User(fmt.Sprintf("Tool %q failed: %v", name, err)))
			continue
		}
		messages = append(messages, llm.User(fmt.Sprintf("Tool %q result: %v", name, output)))
	}
}

// executeTool runs one allowed tool call, through the tool-selection bandit
// when one is wired (so the call is logged and its reward trains the
// bandit), and straight through the registry otherwise. The name has
// already been validated against the restricted registry.
func (v *Verifier) executeTool(ctx context.Context, name, query string, input types.Metadata) (types.Metadata, error) {
	if v.toolBandit != nil {
		_, output, err := v.toolBandit.RunDirective(ctx, name, query, input)
		return output, err
	}
	return v.toolRegistry.Execute(ctx, name, input)
}

func (v *Verifier) restrictedRegistry() *tools.Registry {
	if v.toolRegistry == nil {
		return nil
	}
	return v.toolRegistry.FilteredRegistry(v.allowedTools)
}

// parseArgsAsQuery packs a raw "key=value, key2=value2" or bare-string tool
// argument into Metadata. Most built-in tools accept a single primary
// field (query/expression/url); bare arguments map to whichever of those
// keys is present is left to the handler's tolerance for missing keys, so
// this populates all three candidate keys with the same raw string.
func parseArgsAsQuery(args string) types.Metadata {
	if kv := parseKeyValueArgs(args); len(kv) > 0 {
		return kv
	}
	return types.Metadata{"query": args, "expression": args, "url": args}
}

func parseKeyValueArgs(args string) types.Metadata {
	if !strings.Contains(args, "=") {
		return nil
	}
	out := types.Metadata{}
	for _, part := range strings.Split(args, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func verificationPrompt(stage Stage, registry *tools.Registry) string {
	var frame string
	switch stage {
	case StageThinkingSeed:
		frame = "Assess whether this thinking seed is a feasible basis for reasoning about the task."
	case StageReasoningPath:
		frame = "Assess whether this reasoning path's approach is feasible to execute."
	case StageInnovativeDetour:
		frame = "Assess whether this innovative reframing is feasible, being skeptical of untested approaches."
	default:
		frame = "Assess the feasibility of the following text."
	}

	var sb strings.Builder
	sb.WriteString(frame)
	sb.WriteString(" Respond with a short analysis ending in a line of the form \"feasibility_score: <0.0-1.0>\".")

	if registry != nil && len(registry.List()) > 0 {
		sb.WriteString(" You may request at most two tool calls before your final answer, using a line of the form \"**TOOL_CALL**: <name> | <args>\". Available tools:")
		for name, desc := range registry.Descriptions() {
			fmt.Fprintf(&sb, "\n- %s: %s", name, desc)
		}
	}
	return sb.String()
}

// extractFeasibilityScore applies the prioritized regex cascade, clamping
// to [0,1] and defaulting to 0.5 when nothing matches.
func extractFeasibilityScore(analysis string) float64 {
	for _, pattern := range feasibilityPatterns {
		m := pattern.FindStringSubmatch(analysis)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return clamp(v, 0, 1)
	}
	return 0.5
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
