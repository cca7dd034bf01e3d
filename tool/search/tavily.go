// Package search provides the web search tool backed by the Tavily search API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/vaagent/tool"
)

// ToolName is the name under which the search tool is registered.
const ToolName = "tavily_search"

// DefaultBaseURL is the Tavily API endpoint.
const DefaultBaseURL = "https://api.tavily.com"

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response is the result payload of a search; it is also what the tool returns.
type Response struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results"`
}

// Searcher performs a web search.
type Searcher interface {
	Search(ctx context.Context, query string) (*Response, error)
}

// Options configures the Tavily client.
type Options struct {
	APIKey      string
	BaseURL     string
	MaxResults  int
	SearchDepth string // "basic" or "advanced"
	Topic       string // "general" or "news"
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client is a minimal Tavily REST client.
type Client struct {
	opts Options
	http *http.Client
}

// NewClient creates a Tavily client. MaxResults defaults to 5.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{
		BaseURL:     DefaultBaseURL,
		MaxResults:  5,
		SearchDepth: "basic",
		Topic:       "general",
		Timeout:     20 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{opts: opts, http: httpClient}
}

type searchRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

// Search runs a query against the Tavily /search endpoint.
func (c *Client) Search(ctx context.Context, query string) (*Response, error) {
	if c.opts.APIKey == "" {
		return nil, errors.New("tavily API key not configured")
	}

	body, err := json.Marshal(searchRequest{
		Query:       query,
		MaxResults:  c.opts.MaxResults,
		SearchDepth: c.opts.SearchDepth,
		Topic:       c.opts.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := strings.TrimRight(c.opts.BaseURL, "/") + "/search"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if out.Query == "" {
		out.Query = query
	}

	if out.Results == nil {
		out.Results = []Result{}
	}

	return &out, nil
}

type toolArgs struct {
	Query string `json:"query" description:"The search query to look up on the web"`
}

// NewTool exposes a Searcher as the tavily_search tool.
func NewTool(s Searcher) tool.Tool {
	return tool.NewFunctionToolFromStruct(
		ToolName,
		"Search the web for current information. Returns the most relevant pages with title, url and an extract of the content.",
		toolArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			query := strings.TrimSpace(fmt.Sprint(args["query"]))
			if query == "" {
				return nil, tool.NewToolError(ToolName, "query must not be empty", tool.CodeValidation)
			}

			return s.Search(ctx, query)
		},
	)
}
