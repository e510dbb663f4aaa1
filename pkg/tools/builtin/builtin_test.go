package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttic/agenttic/pkg/cache"
	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/tools"
)

func TestWebSearchExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sess-1", body["session_id"])
		assert.Len(t, body["queries"], 2)

		_ = json.NewEncoder(w).Encode(SearchResponse{
			Success:   true,
			SourceIDs: []int64{10, 11},
		})
	}))
	t.Cleanup(srv.Close)

	tool := NewWebSearchTool(srv.URL, 5*time.Second)
	out, err := tool.Execute(context.Background(), map[string]any{
		"queries":    []any{"reading files", "file io"},
		"session_id": "sess-1",
	})
	require.NoError(t, err)

	resp, ok := out.(*SearchResponse)
	require.True(t, ok)
	assert.Equal(t, []int64{10, 11}, resp.SourceIDs)
}

func TestWebSearchSingleQueryFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body["queries"], 1)
		_ = json.NewEncoder(w).Encode(SearchResponse{Success: true})
	}))
	t.Cleanup(srv.Close)

	_, err := NewWebSearchTool(srv.URL, time.Second).Execute(context.Background(),
		map[string]any{"query": "just one"})
	require.NoError(t, err)
}

func TestWebSearchCachedByExecutor(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode(SearchResponse{Success: true, SourceIDs: []int64{10}})
	}))
	t.Cleanup(srv.Close)

	reg := tools.NewRegistry(cache.NewMemoryCache(64, time.Minute))
	require.NoError(t, reg.Register(NewWebSearchTool(srv.URL, 5*time.Second)))
	exec := tools.NewExecutor(reg)

	run := domain.RunConfig{Tools: []string{"web_search"}, StepTimeout: 5 * time.Second}
	call := domain.ToolCall{Name: "web_search", Arguments: map[string]any{"queries": []any{"file io"}}}

	first := exec.Execute(context.Background(), run, call)
	require.True(t, first.Success)
	assert.False(t, first.Cached)

	second := exec.Execute(context.Background(), run, call)
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Zero(t, second.LatencyMS)
	assert.Zero(t, second.Retries)
	assert.Equal(t, 1, hits)
}

func TestWebSearchEmptyQueries(t *testing.T) {
	_, err := NewWebSearchTool("http://localhost:1", time.Second).Execute(context.Background(),
		map[string]any{"queries": []any{}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

type stubRetriever struct {
	gotQuery   string
	gotSession string
	gotSources []int64
	gotTopK    int
}

func (s *stubRetriever) Recall(_ context.Context, query string, topK int, sessionID string, sourceIDs []int64) ([]domain.ScoredChunk, error) {
	s.gotQuery, s.gotTopK, s.gotSession, s.gotSources = query, topK, sessionID, sourceIDs
	return []domain.ScoredChunk{
		{Chunk: domain.Chunk{ChunkID: "c1", Content: "passage", SourceID: 10}, Score: 0.8},
	}, nil
}

func TestRecallExecute(t *testing.T) {
	retriever := &stubRetriever{}
	tool := NewRecallTool(retriever, 5)

	out, err := tool.Execute(context.Background(), map[string]any{
		"query":      "how to read files",
		"session_id": "sess-1",
		"source_ids": []any{float64(10), float64(11)},
		"top_k":      float64(3),
	})
	require.NoError(t, err)

	assert.Equal(t, "how to read files", retriever.gotQuery)
	assert.Equal(t, 3, retriever.gotTopK)
	assert.Equal(t, "sess-1", retriever.gotSession)
	assert.Equal(t, []int64{10, 11}, retriever.gotSources)

	result, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, result["count"])
}

func TestRecallDefaultsToIngestSession(t *testing.T) {
	retriever := &stubRetriever{}
	_, err := NewRecallTool(retriever, 5).Execute(context.Background(),
		map[string]any{"query": "q"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionIngest, retriever.gotSession)
	assert.Equal(t, 5, retriever.gotTopK)
}

func TestRecallEmptyQuery(t *testing.T) {
	_, err := NewRecallTool(&stubRetriever{}, 5).Execute(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
