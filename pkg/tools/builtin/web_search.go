// Package builtin holds the tools every run may draw on: external web
// search and vector-store recall.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agenttic/agenttic/pkg/domain"
)

// SearchResponse is what the external search service returns: the hits
// it found plus the ids of the sources it ingested for this session.
type SearchResponse struct {
	Success   bool           `json:"success"`
	SourceIDs []int64        `json:"source_ids"`
	Results   []SearchResult `json:"results,omitempty"`
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchTool fans queries out to the external search service, which
// fetches, ingests, and indexes the hits under an ephemeral session.
type WebSearchTool struct {
	httpClient *http.Client
	baseURL    string
}

func NewWebSearchTool(baseURL string, timeout time.Duration) *WebSearchTool {
	return &WebSearchTool{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Results are fetched and indexed so they can be recalled afterwards."
}

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"queries": map[string]any{
					"type":        "array",
					"description": "Search queries, most important first",
					"items":       map[string]any{"type": "string"},
				},
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session to index the results under",
				},
			},
			"required": []any{"queries"},
		},
	}
}

func (t *WebSearchTool) Metadata() domain.ToolMetadata {
	return domain.ToolMetadata{
		Timeout:        120 * time.Second,
		MaxRetries:     1,
		MaxConcurrency: 2,
		CacheEnabled:   true,
		CacheTTL:       10 * time.Minute,
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	queries := stringSlice(args["queries"])
	if len(queries) == 0 {
		if q, ok := args["query"].(string); ok && q != "" {
			queries = []string{q}
		}
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: queries must not be empty", domain.ErrInvalidInput)
	}
	sessionID, _ := args["session_id"].(string)

	body, err := json.Marshal(map[string]any{
		"queries":    queries,
		"session_id": sessionID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: search status %d: %s", domain.ErrServiceUnavailable, resp.StatusCode, raw)
	}

	var parsed SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &parsed, nil
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
