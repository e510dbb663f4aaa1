package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttic/agenttic/pkg/cache"
	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/llm"
	"github.com/agenttic/agenttic/pkg/tools"
)

func chatServer(t *testing.T, replies ...string) *httptest.Server {
	t.Helper()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := calls
		if idx >= len(replies) {
			idx = len(replies) - 1
		}
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "c", "object": "chat.completion", "model": "m",
			"choices": []map[string]any{{
				"index": 0, "finish_reason": "stop",
				"message": map[string]any{"role": "assistant", "content": replies[idx]},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newService(t *testing.T, baseURL string) *Service {
	t.Helper()
	registry := tools.NewRegistry(cache.NewMemoryCache(16, time.Minute))
	return New(Options{
		LLM:      llm.New(llm.Options{BaseURL: baseURL, Model: "m"}),
		Executor: tools.NewExecutor(registry),
		Registry: registry,
		Language: "en",
	})
}

func TestFastRouteAnswersDirectly(t *testing.T) {
	srv := chatServer(t,
		`{"use_fast_route": true, "needs_tools": false, "reason": "simple"}`,
		"the capital is Paris",
	)
	s := newService(t, srv.URL)

	res, err := s.Run(context.Background(), "capital of France?", nil, domain.RunConfig{}, Events{})
	require.NoError(t, err)
	assert.Equal(t, "the capital is Paris", res.Answer)
}

func TestToolModeOffSkipsRouting(t *testing.T) {
	srv := chatServer(t, "direct answer")
	s := newService(t, srv.URL)

	var final string
	res, err := s.Run(context.Background(), "q", []string{"some context"}, domain.RunConfig{ToolMode: domain.ToolModeOff}, Events{
		OnFinalAnswer: func(a string) { final = a },
	})
	require.NoError(t, err)
	assert.Equal(t, "direct answer", res.Answer)
	assert.Equal(t, "direct answer", final)
}

func TestEmptyQuestion(t *testing.T) {
	s := newService(t, "http://localhost:1")
	_, err := s.Run(context.Background(), "  ", nil, domain.RunConfig{}, Events{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRoutingFallbackOnGarbage(t *testing.T) {
	srv := chatServer(t, "not json at all {{{")
	s := newService(t, srv.URL)

	routing := s.route(context.Background(), "q")
	assert.True(t, routing.UseFastRoute)
	assert.False(t, routing.NeedsTools)
}

func TestIsTrivial(t *testing.T) {
	assert.True(t, isTrivial("capital of France?"))
	assert.False(t, isTrivial("compare A and B across their histories"))
	assert.False(t, isTrivial("为什么天空是蓝色的"))
}

func TestOverallConfidence(t *testing.T) {
	mk := func(levels ...string) []Thought {
		out := make([]Thought, len(levels))
		for i, l := range levels {
			out[i] = Thought{ConfidenceLevel: l}
		}
		return out
	}

	assert.Equal(t, confidenceHigh, overallConfidence(mk("high", "high", "high", "medium")))
	assert.Equal(t, confidenceMedium, overallConfidence(mk("high", "medium", "low")))
	assert.Equal(t, confidenceLow, overallConfidence(mk("low", "low", "high")))
	assert.Equal(t, confidenceLow, overallConfidence(nil))
}

func TestNeedTools(t *testing.T) {
	confident := []Thought{{ConfidenceLevel: confidenceHigh}}
	assert.False(t, needTools(confident))

	highGap := []Thought{{
		ConfidenceLevel: confidenceHigh,
		KnowledgeGaps:   []KnowledgeGap{{GapDescription: "g", Importance: importanceHigh}},
	}}
	assert.True(t, needTools(highGap))

	verify := []Thought{{ConfidenceLevel: confidenceHigh, NeedsVerification: true}}
	assert.True(t, needTools(verify))

	shaky := []Thought{{ConfidenceLevel: confidenceLow}, {ConfidenceLevel: confidenceLow}}
	assert.True(t, needTools(shaky))
}

func TestPlanQueries(t *testing.T) {
	thoughts := []Thought{{
		KnowledgeGaps: []KnowledgeGap{
			{SearchKeywords: []string{"Go generics", "go Generics", "type parameters", "constraints", "extra keyword"}},
		},
	}}

	queries := planQueries("how do go generics work", thoughts, false)

	// Case-insensitive dedupe, per-gap keyword cap of 3, question appended.
	assert.Contains(t, queries, "Go generics")
	assert.NotContains(t, queries, "go Generics")
	assert.NotContains(t, queries, "extra keyword")
	assert.Contains(t, queries, "how do go generics work")
	assert.LessOrEqual(t, len(queries), maxQueriesFull)
}

func TestPlanQueriesSimpleBudget(t *testing.T) {
	thoughts := []Thought{{
		KnowledgeGaps: []KnowledgeGap{
			{SearchKeywords: []string{"a", "b", "c"}},
			{SearchKeywords: []string{"d", "e", "f"}},
		},
	}}

	queries := planQueries("q", thoughts, true)
	assert.Len(t, queries, maxQueriesSimple)
}

func TestPlanQueriesKeepsQuestionWhenFull(t *testing.T) {
	thoughts := []Thought{{
		KnowledgeGaps: []KnowledgeGap{
			{SearchKeywords: []string{"a", "b", "c"}},
			{SearchKeywords: []string{"d", "e", "f"}},
		},
	}}

	queries := planQueries("how does it work", thoughts, true)
	require.Len(t, queries, maxQueriesSimple)
	assert.Contains(t, queries, "how does it work")
	assert.NotContains(t, queries, "c")
}

func TestCapWords(t *testing.T) {
	assert.Equal(t, "one two three", capWords("one two three", 8))
	assert.Equal(t, "a b", capWords("a b c d", 2))
}

func TestSynthesisPromptShape(t *testing.T) {
	prompt := synthesisPrompt("q", []Thought{{SubQuestion: "sub", PreliminaryAnswer: "pa", ConfidenceLevel: "high"}},
		[]GapRecall{{Gap: "missing bit", Passages: []string{"evidence"}}},
		[]string{"ctx"}, "en")

	assert.Contains(t, prompt, "sub")
	assert.Contains(t, prompt, "evidence")
	assert.Contains(t, prompt, "ctx")
	assert.Contains(t, prompt, `Never say "according to search results"`)
	assert.True(t, strings.Contains(prompt, "Answer in en."))
}

func TestPanicDegradesToApology(t *testing.T) {
	// A nil LLM client makes routing panic; the run must still return
	// an answer.
	registry := tools.NewRegistry(cache.NewMemoryCache(16, time.Minute))
	s := New(Options{Registry: registry, Executor: tools.NewExecutor(registry), Language: "en"})

	res, err := s.Run(context.Background(), "q", nil, domain.RunConfig{}, Events{})
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "internal error")
}
