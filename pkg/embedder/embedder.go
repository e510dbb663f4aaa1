// Package embedder generates dense vectors through an OpenAI-compatible
// embeddings endpoint, batching requests under a concurrency cap.
package embedder

import (
	"context"
	"fmt"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/log"
)

type Service struct {
	client     openai.Client
	model      string
	dimensions int
	batchSize  int
	sem        chan struct{}
	logger     *log.Logger
}

type Options struct {
	BaseURL        string
	APIKey         string
	Model          string
	Dimensions     int
	BatchSize      int
	MaxConcurrency int
}

func New(opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 2
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	clientOpts := []option.RequestOption{option.WithBaseURL(opts.BaseURL)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	return &Service{
		client:     openai.NewClient(clientOpts...),
		model:      opts.Model,
		dimensions: opts.Dimensions,
		batchSize:  opts.BatchSize,
		sem:        make(chan struct{}, opts.MaxConcurrency),
		logger:     log.WithModule("embedder"),
	}
}

func (s *Service) Model() string   { return s.model }
func (s *Service) Dimensions() int { return s.dimensions }

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds all texts, partitioned into batches that run under
// the concurrency semaphore. The result is index-aligned with texts; a
// failed batch leaves nil vectors at its positions and is reported in
// failed (batch start offsets). The error is non-nil only when every
// batch failed.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) (vectors [][]float32, failed []int, err error) {
	if len(texts) == 0 {
		return nil, nil, nil
	}

	vectors = make([][]float32, len(texts))
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		lastErr   error
	)

	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()

			select {
			case s.sem <- struct{}{}:
				defer func() { <-s.sem }()
			case <-ctx.Done():
				mu.Lock()
				failed = append(failed, start)
				lastErr = ctx.Err()
				mu.Unlock()
				return
			}

			batch, batchErr := s.embedBatch(ctx, texts[start:end])
			mu.Lock()
			defer mu.Unlock()
			if batchErr != nil {
				s.logger.Warn("embedding batch failed", "offset", start, "size", end-start, "error", batchErr)
				failed = append(failed, start)
				lastErr = batchErr
				return
			}
			copy(vectors[start:end], batch)
			succeeded++
		}(start, end)
	}
	wg.Wait()

	if succeeded == 0 {
		return nil, failed, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, lastErr)
	}
	return vectors, failed, nil
}

func (s *Service) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(s.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if s.dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(s.dimensions))
	}

	resp, err := s.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", domain.ErrEmbeddingFailed, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
