// Package sse frames progress and token-delta events as Server-Sent
// Events, one JSON object per data line.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/agenttic/agenttic/pkg/domain"
)

// Event types. Consumers ignore unknown types, so adding one is safe.
const (
	TypeStatus        = "status"
	TypeTotalChunks   = "total_chunks"
	TypeProgress      = "progress"
	TypeComplete      = "complete"
	TypeError         = "error"
	TypeDelta         = "delta"
	TypeReasoning     = "reasoning"
	TypeToolCall      = "tool_call"
	TypeToolResult    = "tool_result"
	TypeSources       = "sources"
	TypeSearchResults = "search_results"
	TypeLLMStart      = "llm_start"
	TypeFinalAnswer   = "final_answer"
)

// Event is the wire shape of one SSE frame; Type discriminates.
type Event struct {
	Type          string             `json:"type"`
	Message       string             `json:"message,omitempty"`
	Content       string             `json:"content,omitempty"`
	Total         int                `json:"total,omitempty"`
	Completed     int                `json:"completed,omitempty"`
	Sources       []domain.SourceRef `json:"sources,omitempty"`
	ToolName      string             `json:"tool_name,omitempty"`
	ToolArguments map[string]any     `json:"tool_arguments,omitempty"`
	ToolResult    any                `json:"tool_result,omitempty"`
	Results       any                `json:"results,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// Writer serializes events onto an http response. Safe for concurrent
// emitters; frames never interleave.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares w for event streaming and sets the SSE headers.
// Returns an error when the underlying writer cannot flush.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: flusher}, nil
}

// Emit writes one event frame and flushes it.
func (sw *Writer) Emit(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sse event: %w", err)
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

func (sw *Writer) Status(message string) error {
	return sw.Emit(Event{Type: TypeStatus, Message: message})
}

func (sw *Writer) Delta(content string) error {
	return sw.Emit(Event{Type: TypeDelta, Content: content})
}

func (sw *Writer) Reasoning(content string) error {
	return sw.Emit(Event{Type: TypeReasoning, Content: content})
}

func (sw *Writer) Sources(sources []domain.SourceRef) error {
	return sw.Emit(Event{Type: TypeSources, Sources: sources})
}

func (sw *Writer) Complete() error {
	return sw.Emit(Event{Type: TypeComplete})
}

func (sw *Writer) Fail(err error) error {
	msg := "internal error"
	if de := domain.Categorize(err); de != nil {
		msg = de.UserMessage()
	}
	return sw.Emit(Event{Type: TypeError, Error: msg})
}
