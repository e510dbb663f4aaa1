package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/orchestrator"
	"github.com/agenttic/agenttic/pkg/retrieval"
	"github.com/agenttic/agenttic/pkg/sse"
	"github.com/agenttic/agenttic/pkg/tools/builtin"
)

// Query serves POST /query: retrieve passages, then let the
// orchestrator answer over them, streaming when asked.
func (h *Handler) Query(c *gin.Context) {
	var req domain.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	if req.Query == "" {
		h.fail(c, fmt.Errorf("%w: query is required", domain.ErrInvalidInput))
		return
	}

	if req.Stream {
		h.streamQuery(c, req)
		return
	}

	ctx := c.Request.Context()
	chunks, err := h.retrieval.Retrieve(ctx, req.Query, req.TopK, sessionID(c), req.DocumentIDs, req.UseHybrid)
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.orchestrator.Run(ctx, req.Query, retrieval.Contexts(chunks), domain.RunConfig{}, orchestrator.Events{})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, domain.QueryResponse{
		Answer:  result.Answer,
		Sources: h.retrieval.Sources(ctx, chunks),
		Success: true,
	})
}

func (h *Handler) streamQuery(c *gin.Context, req domain.QueryRequest) {
	sw, err := sse.NewWriter(c.Writer)
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	_ = sw.Status("retrieving")

	chunks, err := h.retrieval.Retrieve(ctx, req.Query, req.TopK, sessionID(c), req.DocumentIDs, req.UseHybrid)
	if err != nil {
		_ = sw.Fail(err)
		return
	}

	events := orchestrator.Events{
		OnStatus:    func(stage string) { _ = sw.Status(stage) },
		OnReasoning: func(text string) { _ = sw.Reasoning(text) },
		OnDelta:     func(text string) { _ = sw.Delta(text) },
		OnLLMStart:  func() { _ = sw.Emit(sse.Event{Type: sse.TypeLLMStart}) },
		OnToolCall: func(call domain.ToolCall) {
			_ = sw.Emit(sse.Event{Type: sse.TypeToolCall, ToolName: call.Name, ToolArguments: call.Arguments})
		},
		OnToolResult: func(name string, result *domain.ToolResult) {
			_ = sw.Emit(sse.Event{Type: sse.TypeToolResult, ToolName: name, ToolResult: result})
		},
		OnSearchResults: func(resp *builtin.SearchResponse) {
			_ = sw.Emit(sse.Event{Type: sse.TypeSearchResults, Results: resp.Results})
		},
		OnFinalAnswer: func(answer string) {
			_ = sw.Emit(sse.Event{Type: sse.TypeFinalAnswer, Content: answer})
		},
	}

	if _, err := h.orchestrator.Run(ctx, req.Query, retrieval.Contexts(chunks), domain.RunConfig{}, events); err != nil {
		_ = sw.Fail(err)
		return
	}

	_ = sw.Sources(h.retrieval.Sources(ctx, chunks))
	_ = sw.Complete()
}
