package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `<!DOCTYPE html>
<html><body>
<article class="result">
  <h3><a href="https://example.org/one">First   Result</a></h3>
  <p class="content">Snippet   about
  widgets.</p>
</article>
<article class="result">
  <h3><a href="https://example.org/two">Second Result</a></h3>
  <p class="content">Another snippet.</p>
</article>
<article class="result">
  <h3><a href="">Broken Result</a></h3>
  <p class="content">No link, should be skipped.</p>
</article>
</body></html>`

func TestSearXNGClient_ParsesResultList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "widgets", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	client := NewSearXNGClient(srv.URL, time.Millisecond)
	results, err := client.Search(context.Background(), "widgets", 10)
	require.NoError(t, err)
	require.Len(t, results, 2, "results without a link are dropped")

	assert.Equal(t, "First Result", results[0].Title, "whitespace is compacted")
	assert.Equal(t, "https://example.org/one", results[0].URL)
	assert.Equal(t, "Snippet about widgets.", results[0].Snippet)
}

func TestSearXNGClient_RespectsMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	client := NewSearXNGClient(srv.URL, time.Millisecond)
	results, err := client.Search(context.Background(), "widgets", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearXNGClient_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted) // rate-limited engines answer 202
	}))
	defer srv.Close()

	client := NewSearXNGClient(srv.URL, time.Millisecond)
	_, err := client.Search(context.Background(), "widgets", 5)
	assert.Error(t, err)
}

func TestCompactWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", compactWhitespace("  a\n\tb   c "))
}
