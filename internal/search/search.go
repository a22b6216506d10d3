// Package search provides the web-search collaborator used by the seed
// generator's RAG phase and by the "web_search" built-in tool.
package search

import "context"

// Result is one search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Client is the narrow interface the rest of the engine depends on.
type Client interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}
