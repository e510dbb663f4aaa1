package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttic/agenttic/pkg/domain"
)

func candidates(contents ...string) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, len(contents))
	for i, content := range contents {
		out[i] = domain.ScoredChunk{
			Chunk: domain.Chunk{ChunkID: content, Content: content},
			Score: 0.5,
		}
	}
	return out
}

func wordCounter(text string) int { return len(strings.Fields(text)) }

func TestRerankSortsByNewScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		results := make([]map[string]any, len(req.Documents))
		for i, doc := range req.Documents {
			// Longer documents score higher for the test.
			results[i] = map[string]any{"index": i, "relevance_score": float64(len(doc))}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	t.Cleanup(srv.Close)

	c := New(Options{BaseURL: srv.URL, Model: "rr", MaxTokens: 100, CountTokens: wordCounter})
	out, err := c.Rerank(context.Background(), "q", candidates("bb", "dddd", "a"))
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "dddd", out[0].Chunk.ChunkID)
	assert.Equal(t, "a", out[2].Chunk.ChunkID)
}

func TestRerankBatchesUnderTokenBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Each batch must fit within budget minus the query.
		total := wordCounter(req.Query)
		for _, doc := range req.Documents {
			total += wordCounter(doc)
		}
		assert.LessOrEqual(t, total, 10)

		results := make([]map[string]any, len(req.Documents))
		for i := range req.Documents {
			results[i] = map[string]any{"index": i, "relevance_score": 1.0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	t.Cleanup(srv.Close)

	c := New(Options{BaseURL: srv.URL, MaxTokens: 10, MaxConcurrency: 2, CountTokens: wordCounter})
	docs := candidates(
		"one two three four",
		"five six seven eight",
		"nine ten eleven twelve",
	)
	out, err := c.Rerank(context.Background(), "the query", docs)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestRerankCoercesScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{
			{"index": 0, "relevance_score": "0.75"},
			{"index": 1, "relevance_score": map[string]any{"oops": true}},
		}})
	}))
	t.Cleanup(srv.Close)

	c := New(Options{BaseURL: srv.URL, CountTokens: wordCounter})
	out, err := c.Rerank(context.Background(), "q", candidates("a", "b"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 0.75, out[0].Score)
	assert.Equal(t, 0.0, out[1].Score)
}

func TestRerankFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := New(Options{BaseURL: srv.URL, CountTokens: wordCounter})
	_, err := c.Rerank(context.Background(), "q", candidates("a"))
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestRerankEmptyInput(t *testing.T) {
	c := New(Options{BaseURL: "http://localhost:1"})
	out, err := c.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEnabled(t *testing.T) {
	assert.False(t, New(Options{}).Enabled())
	assert.True(t, New(Options{BaseURL: "http://x"}).Enabled())

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
}
