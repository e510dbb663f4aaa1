package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/agenttic/agenttic/pkg/domain"
)

// Retriever is the slice of the retrieval pipeline the recall tool
// needs: a hybrid search scoped by session and source ids.
type Retriever interface {
	Recall(ctx context.Context, query string, topK int, sessionID string, sourceIDs []int64) ([]domain.ScoredChunk, error)
}

// RecallTool searches previously-ingested content in the vector store,
// typically over the sources a web_search call just created.
type RecallTool struct {
	retriever Retriever
	topK      int
}

func NewRecallTool(retriever Retriever, defaultTopK int) *RecallTool {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &RecallTool{retriever: retriever, topK: defaultTopK}
}

func (t *RecallTool) Name() string { return "recall" }

func (t *RecallTool) Description() string {
	return "Recall relevant passages from indexed documents for a query."
}

func (t *RecallTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for",
				},
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session scope; empty searches the ingest session",
				},
				"source_ids": map[string]any{
					"type":        "array",
					"description": "Restrict to these source ids",
					"items":       map[string]any{"type": "integer"},
				},
				"top_k": map[string]any{
					"type":        "integer",
					"description": "How many passages to return",
				},
			},
			"required": []any{"query"},
		},
	}
}

func (t *RecallTool) Metadata() domain.ToolMetadata {
	return domain.ToolMetadata{
		Timeout:        30 * time.Second,
		MaxRetries:     1,
		MaxConcurrency: 4,
		CacheEnabled:   true,
		CacheTTL:       10 * time.Minute,
	}
}

func (t *RecallTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", domain.ErrInvalidInput)
	}

	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		sessionID = domain.SessionIngest
	}

	topK := t.topK
	if v, ok := args["top_k"].(float64); ok && v > 0 {
		topK = int(v)
	}

	chunks, err := t.retriever.Recall(ctx, query, topK, sessionID, int64Slice(args["source_ids"]))
	if err != nil {
		return nil, err
	}

	passages := make([]map[string]any, len(chunks))
	for i, sc := range chunks {
		passages[i] = map[string]any{
			"content":   sc.Chunk.Content,
			"score":     sc.Score,
			"chunk_id":  sc.Chunk.ChunkID,
			"source_id": sc.Chunk.SourceID,
		}
	}
	return map[string]any{"passages": passages, "count": len(passages)}, nil
}

func int64Slice(v any) []int64 {
	switch vv := v.(type) {
	case []int64:
		return vv
	case []any:
		out := make([]int64, 0, len(vv))
		for _, item := range vv {
			if f, ok := item.(float64); ok {
				out = append(out, int64(f))
			}
		}
		return out
	}
	return nil
}
