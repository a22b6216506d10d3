package tools

import (
	"regexp"
	"strings"
)

// directivePattern matches the wire protocol an LLM uses to request a tool
// call from free-form text: "**TOOL_CALL**: <name> | <args>". Shared by
// the verifier (at most two calls per verification) and the tool-selection
// bandit.
var directivePattern = regexp.MustCompile(`(?i)\*\*TOOL_CALL\*\*:\s*([a-zA-Z0-9_]+)\s*\|\s*(.*)`)

// ParseToolCallDirective extracts a requested tool name and its raw
// argument string from an LLM reply, if present.
func ParseToolCallDirective(text string) (name string, args string, ok bool) {
	m := directivePattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}
