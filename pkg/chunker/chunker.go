// Package chunker splits document text into token-bounded, overlapping
// windows using a BPE encoding.
package chunker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/agenttic/agenttic/pkg/domain"
)

// Options controls window size and overlap, both in tokens.
type Options struct {
	ChunkSize int
	Overlap   int
}

// Service is a token-window chunker. Safe for concurrent use: tiktoken
// encodings are immutable after construction and the window options
// are guarded for hot reload.
type Service struct {
	encoding *tiktoken.Tiktoken

	mu   sync.RWMutex
	text Options
	html Options
}

// New builds a chunker for the named tiktoken encoding ("cl100k_base"
// in the default configuration).
func New(encodingName string, text, html Options) (*Service, error) {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encodingName, err)
	}
	if text.ChunkSize <= 0 {
		text.ChunkSize = 800
	}
	if html.ChunkSize <= 0 {
		html.ChunkSize = 4000
	}
	return &Service{encoding: enc, text: text, html: html}, nil
}

// Update swaps the window options, preserving current values for any
// zero field. Applied live on config reload.
func (s *Service) Update(text, html Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text.ChunkSize > 0 {
		s.text = text
	}
	if html.ChunkSize > 0 {
		s.html = html
	}
}

// SplitText produces retrieval-sized chunks of plain text.
func (s *Service) SplitText(content string) ([]string, error) {
	s.mu.RLock()
	opts := s.text
	s.mu.RUnlock()
	return s.split(content, opts)
}

// SplitHTML produces the larger raw-HTML chunks posted to the
// sub-document discovery webhook.
func (s *Service) SplitHTML(content string) ([]string, error) {
	s.mu.RLock()
	opts := s.html
	s.mu.RUnlock()
	return s.split(content, opts)
}

// CountTokens reports the token length of text under the service
// encoding. Used by the reranker to budget candidate batches.
func (s *Service) CountTokens(text string) int {
	return len(s.encoding.Encode(text, nil, nil))
}

func (s *Service) split(content string, opts Options) ([]string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.ErrNoChunks
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", domain.ErrInvalidInput, opts.Overlap, opts.ChunkSize)
	}

	tokens := s.encoding.Encode(content, nil, nil)
	if len(tokens) == 0 {
		return nil, domain.ErrNoChunks
	}

	if len(tokens) <= opts.ChunkSize {
		return []string{content}, nil
	}

	step := opts.ChunkSize - opts.Overlap
	chunks := make([]string, 0, len(tokens)/step+1)
	for start := 0; start < len(tokens); start += step {
		end := start + opts.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		piece := s.encoding.Decode(tokens[start:end])
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, piece)
		}
		if end == len(tokens) {
			break
		}
	}

	if len(chunks) == 0 {
		return nil, domain.ErrNoChunks
	}
	return chunks, nil
}
