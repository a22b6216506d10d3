package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"metacortex/internal/search"
	"metacortex/internal/types"
)

// RegisterBuiltins populates r with the built-in tool set the verifier and
// tool-selection bandit can exercise: web_search, calculator, fetch_url.
func RegisterBuiltins(r *Registry, searchClient search.Client) error {
	if err := r.Register(Spec{
		Name:         "web_search",
		Description:  "Search the web for a query and return titled result snippets.",
		Category:     CategorySearch,
		Capabilities: Capabilities{Network: true},
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "search query"},
				"max_results": map[string]any{"type": "integer", "description": "maximum results to return", "default": 5},
			},
			"required": []string{"query"},
		},
		Handler: webSearchHandler(searchClient),
	}); err != nil {
		return err
	}

	if err := r.Register(Spec{
		Name:         "calculator",
		Description:  "Evaluate a simple arithmetic expression (+, -, *, /, parentheses).",
		Category:     CategoryDataProcessing,
		Capabilities: Capabilities{Deterministic: true},
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{"type": "string", "description": "arithmetic expression"},
			},
			"required": []string{"expression"},
		},
		Handler: calculatorHandler,
	}); err != nil {
		return err
	}

	if err := r.Register(Spec{
		Name:         "fetch_url",
		Description:  "Fetch a URL's text content, truncated to a reasonable size.",
		Category:     CategorySearch,
		Capabilities: Capabilities{Network: true},
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "URL to fetch"},
			},
			"required": []string{"url"},
		},
		Handler: fetchURLHandler,
	}); err != nil {
		return err
	}

	return nil
}

func webSearchHandler(client search.Client) Handler {
	return func(ctx context.Context, input types.Metadata) (types.Metadata, error) {
		if client == nil {
			return nil, fmt.Errorf("tools: web_search has no configured search client")
		}
		query, _ := input["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("tools: web_search requires a non-empty query")
		}
		maxResults := 5
		if mr, ok := input["max_results"].(float64); ok && mr > 0 {
			maxResults = int(mr)
		}

		results, err := client.Search(ctx, query, maxResults)
		if err != nil {
			return nil, fmt.Errorf("tools: web_search failed: %w", err)
		}

		out := make([]types.Metadata, len(results))
		for i, r := range results {
			out[i] = types.Metadata{"title": r.Title, "url": r.URL, "snippet": r.Snippet}
		}
		return types.Metadata{"results": out, "count": len(out)}, nil
	}
}

// calculatorHandler evaluates a minimal arithmetic grammar: + - * / and
// parentheses over floating point numbers, left-to-right with standard
// precedence. It deliberately does not shell out to a full expression
// library — the verifier only ever needs this for small feasibility
// sanity-checks (e.g. "does this budget math check out"), not general
// scripting.
func calculatorHandler(_ context.Context, input types.Metadata) (types.Metadata, error) {
	expr, _ := input["expression"].(string)
	if expr == "" {
		return nil, fmt.Errorf("tools: calculator requires a non-empty expression")
	}
	result, err := evalExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("tools: calculator: %w", err)
	}
	return types.Metadata{"result": result}, nil
}

var fetchHTTPClient = &http.Client{Timeout: 10 * time.Second}

func fetchURLHandler(ctx context.Context, input types.Metadata) (types.Metadata, error) {
	rawURL, _ := input["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("tools: fetch_url requires a non-empty url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tools: fetch_url: build request: %w", err)
	}
	req.Header.Set("User-Agent", "metacortex/1.0 (+decision-engine)")

	resp, err := fetchHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tools: fetch_url: request failed: %w", err)
	}
	defer resp.Body.Close()

	const maxRead = 512 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRead))
	if err != nil {
		return nil, fmt.Errorf("tools: fetch_url: read body: %w", err)
	}

	return types.Metadata{
		"status_code": resp.StatusCode,
		"content":     string(body),
		"truncated":   len(body) >= maxRead,
	}, nil
}

// evalExpression is a small recursive-descent evaluator: expr := term (('+'|'-') term)*,
// term := factor (('*'|'/') factor)*, factor := number | '(' expr ')'.
func evalExpression(expr string) (float64, error) {
	p := &exprParser{input: strings.ReplaceAll(expr, " ", "")}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected trailing input at %d", p.pos)
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for p.pos < len(p.input) {
		op := p.input[p.pos]
		if op != '+' && op != '-' {
			break
		}
		p.pos++
		rhs, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			v += rhs
		} else {
			v -= rhs
		}
	}
	return v, nil
}

func (p *exprParser) parseTerm() (float64, error) {
	v, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for p.pos < len(p.input) {
		op := p.input[p.pos]
		if op != '*' && op != '/' {
			break
		}
		p.pos++
		rhs, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			v *= rhs
		} else {
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			v /= rhs
		}
	}
	return v, nil
}

func (p *exprParser) parseFactor() (float64, error) {
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	if p.input[p.pos] == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("expected closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	if p.pos < len(p.input) && (p.input[p.pos] == '-' || p.input[p.pos] == '+') {
		p.pos++
	}
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if p.pos == start {
		return 0, fmt.Errorf("expected number at %d", start)
	}
	return strconv.ParseFloat(p.input[start:p.pos], 64)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
