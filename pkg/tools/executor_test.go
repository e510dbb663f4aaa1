package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttic/agenttic/pkg/cache"
	"github.com/agenttic/agenttic/pkg/domain"
)

type fakeTool struct {
	name     string
	meta     domain.ToolMetadata
	calls    int
	failures int // fail this many calls before succeeding
	err      error
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake" }

func (f *fakeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name: f.name,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer"},
			},
			"required": []any{"query"},
		},
	}
}

func (f *fakeTool) Metadata() domain.ToolMetadata { return f.meta }

func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("connection refused")
	}
	return map[string]any{"echo": args["query"]}, nil
}

func newHarness(t *testing.T, tool Tool) (*Executor, domain.RunConfig) {
	t.Helper()
	reg := NewRegistry(cache.NewMemoryCache(64, time.Minute))
	require.NoError(t, reg.Register(tool))
	return NewExecutor(reg), domain.RunConfig{
		Tools:       []string{tool.Name()},
		StepTimeout: time.Second,
	}
}

func TestExecuteSuccess(t *testing.T) {
	tool := &fakeTool{name: "echo", meta: domain.ToolMetadata{MaxConcurrency: 2}}
	exec, run := newHarness(t, tool)

	result := exec.Execute(context.Background(), run, domain.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"query": "hi"},
	})
	require.True(t, result.Success)
	assert.Equal(t, 0, result.Retries)
	assert.False(t, result.Cached)
}

func TestExecuteAllowList(t *testing.T) {
	tool := &fakeTool{name: "echo"}
	exec, _ := newHarness(t, tool)

	result := exec.Execute(context.Background(), domain.RunConfig{Tools: []string{"other"}},
		domain.ToolCall{Name: "echo", Arguments: map[string]any{"query": "hi"}})
	assert.False(t, result.Success)
	assert.Zero(t, tool.calls)
}

func TestExecuteValidation(t *testing.T) {
	tool := &fakeTool{name: "echo"}
	exec, run := newHarness(t, tool)

	result := exec.Execute(context.Background(), run,
		domain.ToolCall{Name: "echo", Arguments: map[string]any{}})
	assert.False(t, result.Success)
	assert.Zero(t, tool.calls)

	result = exec.Execute(context.Background(), run,
		domain.ToolCall{Name: "echo", Arguments: map[string]any{"query": "q", "limit": "not-a-number"}})
	assert.False(t, result.Success)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	tool := &fakeTool{
		name:     "flaky",
		failures: 2,
		meta:     domain.ToolMetadata{MaxRetries: 3},
	}
	exec, run := newHarness(t, tool)

	result := exec.Execute(context.Background(), run,
		domain.ToolCall{Name: "flaky", Arguments: map[string]any{"query": "q"}})
	require.True(t, result.Success)
	assert.Equal(t, 2, result.Retries)
	assert.Equal(t, 3, tool.calls)
}

func TestExecuteNonRetryableFailsFast(t *testing.T) {
	tool := &fakeTool{
		name:     "strict",
		failures: 10,
		err:      domain.ErrInvalidInput,
		meta:     domain.ToolMetadata{MaxRetries: 3},
	}
	exec, run := newHarness(t, tool)

	result := exec.Execute(context.Background(), run,
		domain.ToolCall{Name: "strict", Arguments: map[string]any{"query": "q"}})
	assert.False(t, result.Success)
	assert.Equal(t, 1, tool.calls)
}

func TestExecuteCacheHit(t *testing.T) {
	tool := &fakeTool{
		name: "cached",
		meta: domain.ToolMetadata{CacheEnabled: true, CacheTTL: time.Minute},
	}
	exec, run := newHarness(t, tool)
	call := domain.ToolCall{Name: "cached", Arguments: map[string]any{"query": "same"}}

	first := exec.Execute(context.Background(), run, call)
	require.True(t, first.Success)

	second := exec.Execute(context.Background(), run, call)
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Zero(t, second.LatencyMS)
	assert.Equal(t, 1, tool.calls)
}

func TestExecuteCircuitBreaker(t *testing.T) {
	tool := &fakeTool{
		name:     "broken",
		failures: 100,
		err:      domain.ErrInvalidInput, // non-retryable keeps attempts cheap
	}
	exec, run := newHarness(t, tool)
	call := domain.ToolCall{Name: "broken", Arguments: map[string]any{"query": "q"}}

	for i := 0; i < 3; i++ {
		result := exec.Execute(context.Background(), run, call)
		assert.False(t, result.Success)
	}

	tripped := exec.Execute(context.Background(), run, call)
	assert.False(t, tripped.Success)
	assert.Equal(t, "circuit_open", tripped.Error)
	assert.Equal(t, 3, tool.calls)
}

func TestBreakerWindowGrowth(t *testing.T) {
	b := newBreaker()
	for i := 0; i < 3; i++ {
		assert.True(t, b.Allow())
		b.Failure()
	}
	assert.False(t, b.Allow())

	b.Success()
	assert.True(t, b.Allow())
}
