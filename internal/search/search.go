// Package search wraps the web-search collaborator. Only the documented
// request/response shape is relied on: a free-text query in, a list of
// title/snippet/URL records out.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/salogamer2002/voicedesk/config"
)

// Result is one raw web search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Provider runs a single search query.
type Provider interface {
	Search(ctx context.Context, query string, max int) ([]Result, error)
}

const serperEndpoint = "https://google.serper.dev/search"

// Serper implements Provider against serper.dev.
type Serper struct {
	APIKey   string
	Endpoint string
	httpc    *http.Client
}

// NewSerper builds a serper.dev client.
func NewSerper(apiKey string) *Serper {
	return &Serper{
		APIKey:   apiKey,
		Endpoint: serperEndpoint,
		httpc:    &http.Client{Timeout: 15 * time.Second},
	}
}

// NewFromConfig returns a Provider, or nil when no search service is
// configured — the pipeline then substitutes its fixed mock results.
func NewFromConfig(cfg config.SearchConfig) Provider {
	if cfg.SerperAPIKey == "" {
		return nil
	}
	return NewSerper(cfg.SerperAPIKey)
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search posts the query and maps the organic results.
func (s *Serper) Search(ctx context.Context, query string, max int) ([]Result, error) {
	payload, err := json.Marshal(map[string]any{"q": query, "num": max})
	if err != nil {
		return nil, fmt.Errorf("marshalling search payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search service returned status %d", resp.StatusCode)
	}

	var raw serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	out := make([]Result, 0, len(raw.Organic))
	for i, item := range raw.Organic {
		if max > 0 && i >= max {
			break
		}
		out = append(out, Result{Title: item.Title, Snippet: item.Snippet, URL: item.Link})
	}
	return out, nil
}
