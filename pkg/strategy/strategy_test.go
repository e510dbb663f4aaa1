package strategy

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
	"github.com/agenttic/agenttic/pkg/llm"
	"github.com/agenttic/agenttic/pkg/tools"
)

type scriptedServer struct {
	srv       *httptest.Server
	responses []map[string]any
	calls     int
}

// scriptServer returns canned chat completions in order.
func scriptServer(t *testing.T, responses ...map[string]any) *scriptedServer {
	t.Helper()
	s := &scriptedServer{responses: responses}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := s.calls
		if idx >= len(s.responses) {
			idx = len(s.responses) - 1
		}
		s.calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.responses[idx])
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func textCompletion(content string) map[string]any {
	return map[string]any{
		"id": "c", "object": "chat.completion", "model": "m",
		"choices": []map[string]any{{
			"index": 0, "finish_reason": "stop",
			"message": map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func toolCompletion(name, args string) map[string]any {
	return map[string]any{
		"id": "c", "object": "chat.completion", "model": "m",
		"choices": []map[string]any{{
			"index": 0, "finish_reason": "tool_calls",
			"message": map[string]any{
				"role": "assistant",
				"tool_calls": []map[string]any{{
					"id": "call_1", "type": "function",
					"function": map[string]any{"name": name, "arguments": args},
				}},
			},
		}},
	}
}

type echoTool struct{ calls int }

func (e *echoTool) Name() string        { return "web_search" }
func (e *echoTool) Description() string { return "search" }
func (e *echoTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name: "web_search",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		},
	}
}
func (e *echoTool) Metadata() domain.ToolMetadata {
	return domain.ToolMetadata{MaxConcurrency: 2, Timeout: time.Second}
}
func (e *echoTool) Execute(_ context.Context, args map[string]any) (any, error) {
	e.calls++
	return map[string]any{"found": args["query"]}, nil
}

func newHarness(t *testing.T, baseURL string, tool tools.Tool) (base, domain.RunConfig) {
	t.Helper()
	registry := tools.NewRegistry(cache.NewMemoryCache(16, time.Minute))
	require.NoError(t, registry.Register(tool))
	client := llm.New(llm.Options{BaseURL: baseURL, Model: "m"})
	return base{
		llm:      client,
		executor: tools.NewExecutor(registry),
		registry: registry,
	}, domain.RunConfig{Tools: []string{tool.Name()}, MaxSteps: 6}
}

func TestJSONFCToolThenAnswer(t *testing.T) {
	server := scriptServer(t,
		toolCompletion("web_search", `{"query":"reading files"}`),
		textCompletion("files are read with open and read"),
	)
	tool := &echoTool{}
	b, run := newHarness(t, server.srv.URL, tool)
	s := &JSONFC{base: b}
	ec := &domain.ExecutionContext{Question: "how to read files?"}

	step, err := s.ExecuteStep(context.Background(), ec, run, 6)
	require.NoError(t, err)
	assert.Equal(t, domain.StepObservation, step.Kind)
	assert.Equal(t, 1, tool.calls)
	require.NotNil(t, step.ToolResult)
	assert.True(t, step.ToolResult.Success)

	step, err = s.ExecuteStep(context.Background(), ec, run, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.StepFinalAnswer, step.Kind)
	assert.Equal(t, "files are read with open and read", step.Content)
}

func TestReActParsesAction(t *testing.T) {
	server := scriptServer(t,
		textCompletion("Thought: need docs\nAction: web_search\nAction Input: {\"query\": \"file io\"}"),
	)
	tool := &echoTool{}
	b, run := newHarness(t, server.srv.URL, tool)
	s := &ReAct{base: b}
	ec := &domain.ExecutionContext{Question: "q"}

	step, err := s.ExecuteStep(context.Background(), ec, run, 6)
	require.NoError(t, err)
	assert.Equal(t, domain.StepObservation, step.Kind)
	require.NotNil(t, step.ToolCall)
	assert.Equal(t, "web_search", step.ToolCall.Name)
	assert.Equal(t, "file io", step.ToolCall.Arguments["query"])
}

func TestReActFinalAnswer(t *testing.T) {
	server := scriptServer(t, textCompletion("Thought: done\nFinal Answer: use the read syscall"))
	b, run := newHarness(t, server.srv.URL, &echoTool{})
	s := &ReAct{base: b}
	ec := &domain.ExecutionContext{Question: "q"}

	step, err := s.ExecuteStep(context.Background(), ec, run, 6)
	require.NoError(t, err)
	assert.Equal(t, domain.StepFinalAnswer, step.Kind)
	assert.Equal(t, "use the read syscall", step.Content)
}

func TestParseActionInputFallbacks(t *testing.T) {
	args := parseActionInput("Action Input: {\"a\": 1}")
	assert.Equal(t, float64(1), args["a"])

	args = parseActionInput("Action Input: query=files, limit=3")
	assert.Equal(t, "files", args["query"])

	args = parseActionInput("Action Input: just some text")
	assert.Equal(t, "just some text", args["input"])
}

func TestParseHarmonyTagForm(t *testing.T) {
	call, prose := ParseHarmony(`Let me search. <tool name="web_search">{"query": "io"}</tool>`)
	require.NotNil(t, call)
	assert.Equal(t, "web_search", call.Name)
	assert.Equal(t, "io", call.Arguments["query"])
	assert.Equal(t, "Let me search.", prose)
}

func TestParseHarmonyTagFormLooseBody(t *testing.T) {
	// "&" makes the block invalid XML; the regex form still accepts it.
	call, prose := ParseHarmony(`Searching. <tool name="web_search">{"query": "salt & pepper"}</tool>`)
	require.NotNil(t, call)
	assert.Equal(t, "web_search", call.Name)
	assert.Equal(t, "salt & pepper", call.Arguments["query"])
	assert.Equal(t, "Searching.", prose)
}

func TestParseHarmonyChannelForm(t *testing.T) {
	call, _ := ParseHarmony(`<|channel|>commentary to=web_search <|constrain|>json<|message|>{"query": "io"}`)
	require.NotNil(t, call)
	assert.Equal(t, "web_search", call.Name)
	assert.Equal(t, "io", call.Arguments["query"])
}

func TestParseHarmonyPlainText(t *testing.T) {
	call, prose := ParseHarmony("the answer is 42")
	assert.Nil(t, call)
	assert.Equal(t, "the answer is 42", prose)
}

func TestSearchFingerprintEquivalence(t *testing.T) {
	a := domain.ToolCall{Name: "web_search", Arguments: map[string]any{
		"queries": []any{"Reading  Files", "file io"},
	}}
	b := domain.ToolCall{Name: "web_search", Arguments: map[string]any{
		"queries": []any{"file io", "reading files"},
	}}
	c := domain.ToolCall{Name: "web_search", Arguments: map[string]any{
		"queries": []any{"something else"},
	}}

	assert.Equal(t, SearchFingerprint(a), SearchFingerprint(b))
	assert.NotEqual(t, SearchFingerprint(a), SearchFingerprint(c))
}

func TestHarmonyDedupesEquivalentSearches(t *testing.T) {
	server := scriptServer(t,
		textCompletion(`<tool name="web_search">{"query": "file io"}</tool>`),
		textCompletion(`<tool name="web_search">{"query": "File  IO"}</tool>`),
	)
	tool := &echoTool{}
	b, run := newHarness(t, server.srv.URL, tool)
	s := &Harmony{base: b}
	ec := &domain.ExecutionContext{Question: "q"}

	first, err := s.ExecuteStep(context.Background(), ec, run, 6)
	require.NoError(t, err)
	assert.Equal(t, domain.StepObservation, first.Kind)

	second, err := s.ExecuteStep(context.Background(), ec, run, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.StepObservation, second.Kind)

	// The second, equivalent call reused the first observation.
	assert.Equal(t, 1, tool.calls)
	assert.Equal(t, first.Content, second.Content)
}

func TestSelect(t *testing.T) {
	b, _ := newHarness(t, "http://localhost:1", &echoTool{})

	for mode, want := range map[domain.ToolMode]string{
		domain.ToolModeAuto:    "json_function_calling",
		domain.ToolModeJSON:    "json_function_calling",
		domain.ToolModeReact:   "react",
		domain.ToolModeHarmony: "harmony",
	} {
		s, err := Select(mode, b.llm, b.executor, b.registry)
		require.NoError(t, err)
		assert.Equal(t, want, s.Name())
	}

	_, err := Select(domain.ToolMode("bogus"), b.llm, b.executor, b.registry)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
