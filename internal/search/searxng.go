package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// SearXNGClient queries a SearXNG instance's HTML results page and parses
// the result list with goquery. Only title/url/snippet triples are
// extracted — that is all the engine needs to ground a thinking seed.
type SearXNGClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSearXNGClient builds a client against a SearXNG instance at baseURL
// (e.g. "https://searx.example.org"), rate-limited to one request every
// minInterval.
func NewSearXNGClient(baseURL string, minInterval time.Duration) *SearXNGClient {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &SearXNGClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Search implements Client.
func (s *SearXNGClient) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search: rate limiter: %w", err)
	}

	reqURL := fmt.Sprintf("%s/search?q=%s&format=html", s.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("User-Agent", "metacortex/1.0 (+decision-engine)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", err)
	}
	defer resp.Body.Close()

	// SearXNG answers 202 instead of a result page when the caller exceeds
	// its rate limit.
	if resp.StatusCode == http.StatusAccepted {
		return nil, fmt.Errorf("search: rate limited by engine (status 202)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search: parse response: %w", err)
	}

	var results []Result
	doc.Find("article.result, div.result").Each(func(i int, sel *goquery.Selection) {
		if maxResults > 0 && len(results) >= maxResults {
			return
		}
		titleSel := sel.Find("h3 a").First()
		href, _ := titleSel.Attr("href")
		title := compactWhitespace(titleSel.Text())
		snippet := compactWhitespace(sel.Find("p.content, .content").First().Text())

		if title == "" || href == "" {
			return
		}
		results = append(results, Result{Title: title, URL: href, Snippet: snippet})
	})

	return results, nil
}

func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
