package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agenttic/agenttic/pkg/collection"
	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/sse"
)

// CollectionInfo is one logical collection: the sources sharing a
// parent URL.
type CollectionInfo struct {
	ID        string          `json:"id"`
	ParentURL string          `json:"parent_url"`
	Sources   []domain.Source `json:"sources"`
}

// groupCollections buckets the ingest session's sources by their
// parent-URL collection identity.
func (h *Handler) groupCollections(c *gin.Context) ([]CollectionInfo, error) {
	sources, err := h.meta.ListSources(c.Request.Context(), domain.SessionIngest)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*CollectionInfo)
	for _, src := range sources {
		id := collection.Name(src.URL)
		info, ok := byID[id]
		if !ok {
			info = &CollectionInfo{ID: id, ParentURL: collection.ParentURL(src.URL)}
			byID[id] = info
		}
		info.Sources = append(info.Sources, src)
	}

	out := make([]CollectionInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListCollections serves GET /collections.
func (h *Handler) ListCollections(c *gin.Context) {
	collections, err := h.groupCollections(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "collections": collections})
}

// GetCollection serves GET /collections/:id.
func (h *Handler) GetCollection(c *gin.Context) {
	info, err := h.findCollection(c, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "collection": info})
}

func (h *Handler) findCollection(c *gin.Context, id string) (*CollectionInfo, error) {
	collections, err := h.groupCollections(c)
	if err != nil {
		return nil, err
	}
	for i := range collections {
		if collections[i].ID == id {
			return &collections[i], nil
		}
	}
	return nil, fmt.Errorf("%w: collection %s", domain.ErrDocumentNotFound, id)
}

// CollectionQueryRequest scopes a query to one collection.
type CollectionQueryRequest struct {
	CollectionID string `json:"collection_id"`
	Query        string `json:"query"`
	TopK         int    `json:"top_k,omitempty"`
	UseHybrid    bool   `json:"use_hybrid,omitempty"`
}

func (h *Handler) collectionQueryScope(c *gin.Context) (*CollectionQueryRequest, []int64, error) {
	var req CollectionQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if req.Query == "" || req.CollectionID == "" {
		return nil, nil, fmt.Errorf("%w: query and collection_id are required", domain.ErrInvalidInput)
	}

	info, err := h.findCollection(c, req.CollectionID)
	if err != nil {
		return nil, nil, err
	}
	sourceIDs := make([]int64, len(info.Sources))
	for i, src := range info.Sources {
		sourceIDs[i] = src.ID
	}
	return &req, sourceIDs, nil
}

// QueryCollection serves POST /collections/query: plain retrieval +
// generation restricted to one collection's sources.
func (h *Handler) QueryCollection(c *gin.Context) {
	req, sourceIDs, err := h.collectionQueryScope(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp, err := h.retrieval.Answer(c.Request.Context(), domain.QueryRequest{
		Query:       req.Query,
		TopK:        req.TopK,
		DocumentIDs: sourceIDs,
		UseHybrid:   req.UseHybrid,
	}, domain.SessionIngest)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StreamQueryCollection serves POST /collections/query-stream.
func (h *Handler) StreamQueryCollection(c *gin.Context) {
	req, sourceIDs, err := h.collectionQueryScope(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	sw, err := sse.NewWriter(c.Writer)
	if err != nil {
		h.fail(c, err)
		return
	}

	sources, err := h.retrieval.StreamAnswer(c.Request.Context(), domain.QueryRequest{
		Query:       req.Query,
		TopK:        req.TopK,
		DocumentIDs: sourceIDs,
		UseHybrid:   req.UseHybrid,
	}, domain.SessionIngest, func(delta string) { _ = sw.Delta(delta) })
	if err != nil {
		_ = sw.Fail(err)
		return
	}

	_ = sw.Sources(sources)
	_ = sw.Complete()
}

// DeleteCollection serves DELETE /collections/:id: removes every
// source in the collection from both stores.
func (h *Handler) DeleteCollection(c *gin.Context) {
	info, err := h.findCollection(c, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	sourceIDs := make([]int64, 0, len(info.Sources))
	for _, src := range info.Sources {
		if err := h.meta.DeleteSource(ctx, src.ID); err != nil {
			h.fail(c, err)
			return
		}
		sourceIDs = append(sourceIDs, src.ID)
	}

	if err := h.store.DeleteBySourceIDs(ctx, h.collection, sourceIDs); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted_sources": len(sourceIDs)})
}

// DocumentStatus serves GET /api/documents/:id: a reconciliation
// report comparing metastore chunk rows against vector-store points.
func (h *Handler) DocumentStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.fail(c, fmt.Errorf("%w: invalid document id", domain.ErrInvalidInput))
		return
	}

	ctx := c.Request.Context()
	src, err := h.meta.GetSource(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	chunks, err := h.meta.CountChunks(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	points, err := h.store.Count(ctx, h.collection, id)
	if err != nil {
		h.fail(c, err)
		return
	}

	state := "complete"
	switch {
	case points == 0 && chunks > 0:
		state = "missing"
	case points != chunks:
		state = "partial"
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"source_id":     src.ID,
		"url":           src.URL,
		"db_chunks":     chunks,
		"qdrant_points": points,
		"state":         state,
	})
}

// DeleteDocument serves DELETE /api/documents/:id.
func (h *Handler) DeleteDocument(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.fail(c, fmt.Errorf("%w: invalid document id", domain.ErrInvalidInput))
		return
	}

	ctx := c.Request.Context()
	if err := h.meta.DeleteSource(ctx, id); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store.DeleteBySourceIDs(ctx, h.collection, []int64{id}); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CleanupSession serves POST /api/session/cleanup: drops everything a
// session ingested.
func (h *Handler) CleanupSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		h.fail(c, fmt.Errorf("%w: session_id is required", domain.ErrInvalidInput))
		return
	}

	ctx := c.Request.Context()
	sourceIDs, err := h.meta.DeleteSession(ctx, req.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store.DeleteBySourceIDs(ctx, h.collection, sourceIDs); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted_sources": len(sourceIDs)})
}
