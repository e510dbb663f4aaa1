// Package retrieval is the query-side pipeline: embed the question
// once, run hybrid or dense search, rerank, and synthesize an answer
// with the retrieved passages as context.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/embedder"
	"github.com/agenttic/agenttic/pkg/llm"
	"github.com/agenttic/agenttic/pkg/log"
	"github.com/agenttic/agenttic/pkg/metastore"
	"github.com/agenttic/agenttic/pkg/reranker"
	"github.com/agenttic/agenttic/pkg/vectorstore"
)

// Hybrid search splits its candidate budget between the two branches:
// dense ANN takes up to 150, sparse text matching up to 50.
const (
	maxDenseCandidates  = 150
	maxSparseCandidates = 50
)

type Service struct {
	embedder   *embedder.Service
	store      *vectorstore.Store
	reranker   *reranker.Client
	meta       *metastore.Store
	llm        *llm.Client
	collection string
	logger     *log.Logger

	mu         sync.RWMutex
	topK       int
	rerankTopK int
}

type Options struct {
	Embedder   *embedder.Service
	Store      *vectorstore.Store
	Reranker   *reranker.Client // nil disables reranking
	Meta       *metastore.Store
	LLM        *llm.Client
	Collection string
	TopK       int
	RerankTopK int
}

func New(opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = 200
	}
	if opts.RerankTopK <= 0 {
		opts.RerankTopK = 20
	}
	return &Service{
		embedder:   opts.Embedder,
		store:      opts.Store,
		reranker:   opts.Reranker,
		meta:       opts.Meta,
		llm:        opts.LLM,
		collection: opts.Collection,
		topK:       opts.TopK,
		rerankTopK: opts.RerankTopK,
		logger:     log.WithModule("retrieval"),
	}
}

// UpdateLimits swaps the retrieval budgets. Applied live on config
// reload; non-positive values keep the current setting.
func (s *Service) UpdateLimits(topK, rerankTopK int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if topK > 0 {
		s.topK = topK
	}
	if rerankTopK > 0 {
		s.rerankTopK = rerankTopK
	}
}

func (s *Service) limits() (topK, rerankTopK int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topK, s.rerankTopK
}

func splitBudgets(topK int) (kDense, kSparse int) {
	kDense = topK
	if kDense > maxDenseCandidates {
		kDense = maxDenseCandidates
	}
	kSparse = topK
	if kSparse > maxSparseCandidates {
		kSparse = maxSparseCandidates
	}
	return kDense, kSparse
}

// Retrieve embeds the query and returns the reranked top chunks,
// scoped to sessionID and optionally to a set of source ids.
func (s *Service) Retrieve(ctx context.Context, query string, topK int, sessionID string, sourceIDs []int64, useHybrid bool) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		topK, _ = s.limits()
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var candidates []domain.ScoredChunk
	if useHybrid {
		kDense, kSparse := splitBudgets(topK)
		candidates, err = s.store.QueryHybrid(ctx, s.collection, query, vector, topK, sessionID, sourceIDs, kDense, kSparse)
	} else {
		candidates, err = s.store.QueryEmbeddings(ctx, s.collection, vector, topK, sessionID, sourceIDs)
	}
	if err != nil {
		return nil, err
	}

	return s.rerank(ctx, query, candidates), nil
}

// rerank re-scores candidates when a reranker is configured and
// truncates to the rerank budget. A reranker failure keeps the
// retrieval order rather than failing the query.
func (s *Service) rerank(ctx context.Context, query string, candidates []domain.ScoredChunk) []domain.ScoredChunk {
	if s.reranker.Enabled() && len(candidates) > 0 {
		reranked, err := s.reranker.Rerank(ctx, query, candidates)
		if err != nil {
			s.logger.Warn("rerank failed, keeping retrieval order", "error", err)
		} else {
			candidates = reranked
		}
	}
	_, rerankTopK := s.limits()
	if len(candidates) > rerankTopK {
		candidates = candidates[:rerankTopK]
	}
	return candidates
}

// Recall is the hybrid search surface the recall tool and the
// orchestrator's gap recall use. No reranking: topK here is small and
// the callers consume the fusion order directly.
func (s *Service) Recall(ctx context.Context, query string, topK int, sessionID string, sourceIDs []int64) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		_, topK = s.limits()
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	kDense, kSparse := splitBudgets(topK)
	return s.store.QueryHybrid(ctx, s.collection, query, vector, topK, sessionID, sourceIDs, kDense, kSparse)
}

// Contexts extracts the chunk texts in ranked order.
func Contexts(chunks []domain.ScoredChunk) []string {
	out := make([]string, len(chunks))
	for i, sc := range chunks {
		out[i] = sc.Chunk.Content
	}
	return out
}

// Sources resolves chunks into the response source list, joining the
// owning Source row for url and title. Sources that no longer exist in
// the meta store still appear with their content and score.
func (s *Service) Sources(ctx context.Context, chunks []domain.ScoredChunk) []domain.SourceRef {
	byID := make(map[int64]*domain.Source)
	refs := make([]domain.SourceRef, 0, len(chunks))
	for _, sc := range chunks {
		src, seen := byID[sc.Chunk.SourceID]
		if !seen {
			var err error
			src, err = s.meta.GetSource(ctx, sc.Chunk.SourceID)
			if err != nil {
				s.logger.Warn("source lookup failed", "source_id", sc.Chunk.SourceID, "error", err)
				src = nil
			}
			byID[sc.Chunk.SourceID] = src
		}

		ref := domain.SourceRef{
			Content: sc.Chunk.Content,
			Score:   sc.Score,
			ChunkID: sc.Chunk.ChunkID,
		}
		if src != nil {
			ref.URL = src.URL
			ref.Title = src.Title
		}
		refs = append(refs, ref)
	}
	return refs
}

// Answer runs the full non-streaming query path.
func (s *Service) Answer(ctx context.Context, req domain.QueryRequest, sessionID string) (*domain.QueryResponse, error) {
	chunks, err := s.Retrieve(ctx, req.Query, req.TopK, sessionID, req.DocumentIDs, req.UseHybrid)
	if err != nil {
		return nil, err
	}

	answer, err := s.llm.Generate(ctx, answerPrompt(req.Query, Contexts(chunks)), nil)
	if err != nil {
		return nil, err
	}

	return &domain.QueryResponse{
		Answer:  answer,
		Sources: s.Sources(ctx, chunks),
		Success: true,
	}, nil
}

// StreamAnswer is Answer with token deltas pushed through onDelta. It
// returns the source list so the transport can emit it after the
// deltas.
func (s *Service) StreamAnswer(ctx context.Context, req domain.QueryRequest, sessionID string, onDelta func(string)) ([]domain.SourceRef, error) {
	chunks, err := s.Retrieve(ctx, req.Query, req.TopK, sessionID, req.DocumentIDs, req.UseHybrid)
	if err != nil {
		return nil, err
	}

	messages := []domain.Message{{Role: "user", Content: answerPrompt(req.Query, Contexts(chunks))}}
	if _, err := s.llm.Stream(ctx, messages, nil, onDelta); err != nil {
		return s.Sources(ctx, chunks), err
	}
	return s.Sources(ctx, chunks), nil
}

func answerPrompt(query string, contexts []string) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using the context below. ")
	sb.WriteString("If the context does not contain the answer, say so instead of guessing.\n\nContext:\n")
	for i, c := range contexts {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, c)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(query)
	return sb.String()
}
