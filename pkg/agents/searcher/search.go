package searcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
)

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher runs web searches. Implementations must be safe for concurrent use.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// ErrSearchUnavailable indicates no search backend is configured.
var ErrSearchUnavailable = errors.New("web search is not configured")

type unavailable struct{}

func (unavailable) Search(context.Context, string, int) ([]Result, error) {
	return nil, ErrSearchUnavailable
}

// StaticSearcher answers every query from a fixed table. Queries without
// an entry return Fallback.
type StaticSearcher struct {
	Results  map[string][]Result
	Fallback []Result
}

// Search implements Searcher.
func (s StaticSearcher) Search(_ context.Context, query string, maxResults int) ([]Result, error) {
	results, ok := s.Results[query]
	if !ok {
		results = s.Fallback
	}
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return append([]Result(nil), results...), nil
}

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// TavilySearcher queries the Tavily search API.
type TavilySearcher struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewTavilySearcher creates a Tavily client. An empty baseURL means DefaultTavilyURL.
func NewTavilySearcher(apiKey, baseURL string) *TavilySearcher {
	if baseURL == "" {
		baseURL = DefaultTavilyURL
	}
	return &TavilySearcher{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type tavilyResponse struct {
	Results []Result `json:"results"`
}

// Search implements Searcher. HTTP failures are returned as
// *errors.HTTPError so retries can tell transient from permanent ones.
func (t *TavilySearcher) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(tavilyRequest{APIKey: t.apiKey, Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, agerrors.Transient(err, "tavily search")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &agerrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
			Endpoint:   t.baseURL,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &agerrors.JSONParseError{Message: err.Error()}
	}
	return out.Results, nil
}

// retryAfter reads a Retry-After header given in seconds. HTTP dates and
// malformed values yield zero.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
