package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenttic/agenttic/pkg/discovery"
	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/ingest"
	"github.com/agenttic/agenttic/pkg/sse"
)

// AgentticIngest serves POST /agenttic-ingest. The body is either a
// client ingest request or the discovery webhook's callback,
// discriminated by the presence of task_name.
func (h *Handler) AgentticIngest(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.fail(c, fmt.Errorf("%w: read body: %v", domain.ErrInvalidInput, err))
		return
	}

	if cb, err := discovery.ParseCallback(raw); err == nil {
		resp, err := h.ingest.HandleCallback(c.Request.Context(), cb)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	var req domain.IngestRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.fail(c, fmt.Errorf("%w: decode ingest request", domain.ErrInvalidInput))
		return
	}

	resp, err := h.ingest.Ingest(c.Request.Context(), "", req, ingest.Progress{})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StreamIngest serves POST /ingest: a session-scoped ingest streaming
// its phases over SSE. X-Session-ID is required.
func (h *Handler) StreamIngest(c *gin.Context) {
	session := c.GetHeader("X-Session-ID")
	if session == "" {
		h.fail(c, fmt.Errorf("%w: X-Session-ID header is required", domain.ErrInvalidInput))
		return
	}

	var req domain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}

	sw, err := sse.NewWriter(c.Writer)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp, err := h.ingest.Ingest(c.Request.Context(), session, req, ingest.Progress{
		OnStatus: func(stage string) { _ = sw.Status(stage) },
		OnTotalChunks: func(total int) {
			_ = sw.Emit(sse.Event{Type: sse.TypeTotalChunks, Total: total})
		},
		OnProgress: func(done, total int) {
			_ = sw.Emit(sse.Event{Type: sse.TypeProgress, Completed: done, Total: total})
		},
	})
	if err != nil {
		_ = sw.Fail(err)
		return
	}

	_ = sw.Emit(sse.Event{
		Type:    sse.TypeComplete,
		Message: resp.Message,
		Total:   resp.TotalChunks,
	})
}
