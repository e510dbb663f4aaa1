package retrieval

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/log"
	"github.com/agenttic/agenttic/pkg/metastore"
)

func TestSplitBudgets(t *testing.T) {
	kDense, kSparse := splitBudgets(200)
	assert.Equal(t, 150, kDense)
	assert.Equal(t, 50, kSparse)

	kDense, kSparse = splitBudgets(30)
	assert.Equal(t, 30, kDense)
	assert.Equal(t, 30, kSparse)
}

func TestRerankDisabledTruncates(t *testing.T) {
	s := &Service{rerankTopK: 2, logger: log.WithModule("retrieval")}

	candidates := []domain.ScoredChunk{
		{Chunk: domain.Chunk{ChunkID: "a"}, Score: 0.9},
		{Chunk: domain.Chunk{ChunkID: "b"}, Score: 0.8},
		{Chunk: domain.Chunk{ChunkID: "c"}, Score: 0.7},
	}

	out := s.rerank(context.Background(), "q", candidates)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Chunk.ChunkID)
	assert.Equal(t, "b", out[1].Chunk.ChunkID)
}

func TestContexts(t *testing.T) {
	chunks := []domain.ScoredChunk{
		{Chunk: domain.Chunk{Content: "first"}},
		{Chunk: domain.Chunk{Content: "second"}},
	}
	assert.Equal(t, []string{"first", "second"}, Contexts(chunks))
}

func TestSourcesJoinsMetaStore(t *testing.T) {
	meta, err := metastore.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer meta.Close()

	src, err := meta.CreateSource(context.Background(), "https://example.com/docs", "Example Docs", "sess")
	require.NoError(t, err)

	s := &Service{meta: meta, logger: log.WithModule("retrieval")}

	refs := s.Sources(context.Background(), []domain.ScoredChunk{
		{Chunk: domain.Chunk{ChunkID: "c1", Content: "body", SourceID: src.ID}, Score: 0.5},
		{Chunk: domain.Chunk{ChunkID: "c2", Content: "orphan", SourceID: 9999}, Score: 0.4},
	})

	require.Len(t, refs, 2)
	assert.Equal(t, "https://example.com/docs", refs[0].URL)
	assert.Equal(t, "Example Docs", refs[0].Title)
	assert.Equal(t, "body", refs[0].Content)

	// Orphaned chunks keep content and score with empty url/title.
	assert.Empty(t, refs[1].URL)
	assert.Equal(t, "orphan", refs[1].Content)
}

func TestAnswerPrompt(t *testing.T) {
	prompt := answerPrompt("what is x?", []string{"x is a thing", "x has parts"})
	assert.Contains(t, prompt, "[1] x is a thing")
	assert.Contains(t, prompt, "[2] x has parts")
	assert.True(t, strings.HasSuffix(prompt, "Question: what is x?"))
}
