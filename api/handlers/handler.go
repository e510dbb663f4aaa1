// Package handlers implements the HTTP endpoints: ingestion (plain and
// streaming), querying, collection management, and cleanup.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/ingest"
	"github.com/agenttic/agenttic/pkg/log"
	"github.com/agenttic/agenttic/pkg/metastore"
	"github.com/agenttic/agenttic/pkg/orchestrator"
	"github.com/agenttic/agenttic/pkg/retrieval"
	"github.com/agenttic/agenttic/pkg/vectorstore"
)

type Handler struct {
	ingest       *ingest.Service
	retrieval    *retrieval.Service
	orchestrator *orchestrator.Service
	meta         *metastore.Store
	store        *vectorstore.Store
	collection   string
	reload       func()
	logger       *log.Logger
}

type Options struct {
	Ingest       *ingest.Service
	Retrieval    *retrieval.Service
	Orchestrator *orchestrator.Service
	Meta         *metastore.Store
	Store        *vectorstore.Store
	Collection   string
	// Reload re-applies config overrides to running services after a
	// hot-reloadable key changes.
	Reload func()
}

func New(opts Options) *Handler {
	return &Handler{
		ingest:       opts.Ingest,
		retrieval:    opts.Retrieval,
		orchestrator: opts.Orchestrator,
		meta:         opts.Meta,
		store:        opts.Store,
		collection:   opts.Collection,
		reload:       opts.Reload,
		logger:       log.WithModule("api"),
	}
}

// Health reports liveness plus a couple of cheap store stats.
func (h *Handler) Health(c *gin.Context) {
	sources, err := h.meta.ListSources(c.Request.Context(), domain.SessionIngest)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "meta store unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sources": len(sources)})
}

// fail maps an error through the taxonomy onto a status code and a
// user-safe message.
func (h *Handler) fail(c *gin.Context, err error) {
	categorized := domain.Categorize(err)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNoChunks):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrDocumentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
	}

	h.logger.Warn("request failed",
		"request_id", c.GetString("request_id"),
		"path", c.Request.URL.Path,
		"category", categorized.Category,
		"error", err,
	)
	c.JSON(status, gin.H{"success": false, "error": categorized.UserMessage()})
}

// sessionID returns the caller's session scope, defaulting to the
// fixed ingestion session.
func sessionID(c *gin.Context) string {
	if sid := c.GetHeader("X-Session-ID"); sid != "" {
		return sid
	}
	return domain.SessionIngest
}
