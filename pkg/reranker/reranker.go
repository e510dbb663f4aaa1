// Package reranker re-scores (query, document) pairs against an
// external rerank endpoint in token-budgeted batches.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/log"
)

// TokenCounter estimates token lengths for batch budgeting.
type TokenCounter func(text string) int

type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	sem        chan struct{}
	countFn    TokenCounter
	logger     *log.Logger

	mu        sync.RWMutex
	maxTokens int
}

type Options struct {
	BaseURL        string
	Model          string
	MaxTokens      int
	MaxConcurrency int
	HTTPClient     *http.Client // injected so tests and callers share transports
	CountTokens    TokenCounter
}

func New(opts Options) *Client {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 3072
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.CountTokens == nil {
		opts.CountTokens = func(text string) int { return len(text) / 4 }
	}
	return &Client{
		httpClient: opts.HTTPClient,
		baseURL:    opts.BaseURL,
		model:      opts.Model,
		maxTokens:  opts.MaxTokens,
		sem:        make(chan struct{}, opts.MaxConcurrency),
		countFn:    opts.CountTokens,
		logger:     log.WithModule("reranker"),
	}
}

// Enabled reports whether a rerank endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.baseURL != "" }

// SetMaxTokens swaps the batch token budget. Applied live on config
// reload; non-positive values are ignored.
func (c *Client) SetMaxTokens(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.maxTokens = n
	c.mu.Unlock()
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResult struct {
	Index int `json:"index"`
	// Scores arrive as numbers or numeric strings depending on backend.
	RelevanceScore any `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

// Rerank re-scores candidates against query and returns them sorted by
// the new score descending. Candidates are split into batches whose
// token totals stay under the configured budget; batches run
// concurrently under the client semaphore. Any batch failure fails the
// whole call so the caller can fall back to the pre-rerank order.
func (c *Client) Rerank(ctx context.Context, query string, candidates []domain.ScoredChunk) ([]domain.ScoredChunk, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	batches := c.partition(query, candidates)

	type batchOut struct {
		scored []domain.ScoredChunk
		err    error
	}
	outs := make([]batchOut, len(batches))
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []domain.ScoredChunk) {
			defer wg.Done()

			select {
			case c.sem <- struct{}{}:
				defer func() { <-c.sem }()
			case <-ctx.Done():
				outs[i] = batchOut{err: ctx.Err()}
				return
			}

			scored, err := c.rerankBatch(ctx, query, batch)
			outs[i] = batchOut{scored: scored, err: err}
		}(i, batch)
	}
	wg.Wait()

	merged := make([]domain.ScoredChunk, 0, len(candidates))
	for _, out := range outs {
		if out.err != nil {
			return nil, out.err
		}
		merged = append(merged, out.scored...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged, nil
}

// partition splits candidates so each batch's query+documents token
// total stays within the budget. A single oversized document still gets
// its own batch rather than being dropped.
func (c *Client) partition(query string, candidates []domain.ScoredChunk) [][]domain.ScoredChunk {
	queryTokens := c.countFn(query)
	c.mu.RLock()
	maxTokens := c.maxTokens
	c.mu.RUnlock()
	budget := maxTokens - queryTokens
	if budget <= 0 {
		budget = 1
	}

	var (
		batches [][]domain.ScoredChunk
		current []domain.ScoredChunk
		used    int
	)
	for _, cand := range candidates {
		tokens := c.countFn(cand.Chunk.Content)
		if len(current) > 0 && used+tokens > budget {
			batches = append(batches, current)
			current = nil
			used = 0
		}
		current = append(current, cand)
		used += tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (c *Client) rerankBatch(ctx context.Context, query string, batch []domain.ScoredChunk) ([]domain.ScoredChunk, error) {
	docs := make([]string, len(batch))
	for i, cand := range batch {
		docs[i] = cand.Chunk.Content
	}

	body, err := json.Marshal(rerankRequest{Model: c.model, Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: rerank status %d: %s", domain.ErrServiceUnavailable, resp.StatusCode, raw)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scored := make([]domain.ScoredChunk, 0, len(batch))
	for _, result := range parsed.Results {
		if result.Index < 0 || result.Index >= len(batch) {
			c.logger.Warn("rerank result index out of range", "index", result.Index, "batch", len(batch))
			continue
		}
		scored = append(scored, domain.ScoredChunk{
			Chunk: batch[result.Index].Chunk,
			Score: c.coerceScore(result.RelevanceScore),
		})
	}
	return scored, nil
}

// coerceScore accepts float or numeric-string scores; anything else
// becomes 0 with a warning.
func (c *Client) coerceScore(v any) float64 {
	switch score := v.(type) {
	case float64:
		return score
	case string:
		if f, err := strconv.ParseFloat(score, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := score.Float64(); err == nil {
			return f
		}
	}
	c.logger.Warn("non-numeric rerank score coerced to 0", "value", v)
	return 0
}
