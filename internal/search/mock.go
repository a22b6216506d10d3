package search

import "context"

// MockClient returns a fixed result set, for tests that exercise the RAG
// seed-generation pipeline without network access.
type MockClient struct {
	Results []Result
	Err     error
	Queries []string
}

// Search implements Client.
func (m *MockClient) Search(_ context.Context, query string, maxResults int) ([]Result, error) {
	m.Queries = append(m.Queries, query)
	if m.Err != nil {
		return nil, m.Err
	}
	if maxResults > 0 && maxResults < len(m.Results) {
		return m.Results[:maxResults], nil
	}
	return m.Results, nil
}
