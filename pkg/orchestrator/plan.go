package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/retrieval"
	"github.com/agenttic/agenttic/pkg/tools/builtin"
)

const (
	maxKeywordsPerGap = 3
	maxQueryWords     = 8
	maxQueriesSimple  = 3
	maxQueriesFull    = 5

	gapRecallConcurrency = 4
)

// planQueries turns gap keywords plus the normalized question into a
// deduplicated search plan. Simple questions get a tighter budget.
func planQueries(question string, thoughts []Thought, simple bool) []string {
	limit := maxQueriesFull
	if simple {
		limit = maxQueriesSimple
	}

	seen := make(map[string]bool)
	var out []string
	add := func(q string) {
		q = capWords(strings.TrimSpace(q), maxQueryWords)
		if q == "" {
			return
		}
		key := strings.ToLower(q)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, q)
	}

	for _, g := range gaps(thoughts) {
		keywords := g.SearchKeywords
		if len(keywords) > maxKeywordsPerGap {
			keywords = keywords[:maxKeywordsPerGap]
		}
		for _, kw := range keywords {
			add(kw)
		}
	}

	// The question always makes the plan: a tail keyword is dropped
	// when the budget is already full.
	q := capWords(strings.TrimSpace(question), maxQueryWords)
	if q != "" && !seen[strings.ToLower(q)] && len(out) >= limit {
		out = out[:limit-1]
	}
	add(question)

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func capWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

// executeSearch calls web_search once with the planned queries under a
// freshly minted session. Failures are logged and degrade to no
// sources rather than failing the run.
func (s *Service) executeSearch(ctx context.Context, run domain.RunConfig, queries []string, ev Events) (*builtin.SearchResponse, string) {
	if len(queries) == 0 {
		return nil, ""
	}
	session := uuid.NewString()

	call := domain.ToolCall{
		Name: "web_search",
		Arguments: map[string]any{
			"queries":    queries,
			"session_id": session,
		},
	}
	ev.toolCall(call)

	result := s.executor.Execute(ctx, run, call)
	ev.toolResult(call.Name, result)
	if !result.Success {
		s.logger.Warn("web search failed", "error", result.Error)
		return nil, session
	}

	resp, ok := result.Result.(*builtin.SearchResponse)
	if !ok {
		s.logger.Warn("unexpected web search result type", "result", fmt.Sprintf("%T", result.Result))
		return nil, session
	}
	ev.searchResults(resp)
	return resp, session
}

// GapRecall is the retrieved evidence for one knowledge gap.
type GapRecall struct {
	Gap      string
	Passages []string
}

// gapRecall queries the freshly indexed sources for each gap
// concurrently. Individual failures drop that gap's evidence only.
func (s *Service) gapRecall(ctx context.Context, thoughts []Thought, session string, sourceIDs []int64) []GapRecall {
	allGaps := gaps(thoughts)
	if len(allGaps) == 0 || s.retriever == nil {
		return nil
	}

	recalls := make([]GapRecall, len(allGaps))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gapRecallConcurrency)
	for i, gap := range allGaps {
		g.Go(func() error {
			chunks, err := s.retriever.Recall(gctx, gap.GapDescription, s.gapRecallTopK, session, sourceIDs)
			if err != nil {
				s.logger.Warn("gap recall failed", "gap", gap.GapDescription, "error", err)
				return nil
			}
			mu.Lock()
			recalls[i] = GapRecall{Gap: gap.GapDescription, Passages: retrieval.Contexts(chunks)}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]GapRecall, 0, len(recalls))
	for _, r := range recalls {
		if len(r.Passages) > 0 {
			out = append(out, r)
		}
	}
	return out
}

// synthesize produces the final answer from the reasoning trace, the
// recalled evidence, and the original passages.
func (s *Service) synthesize(ctx context.Context, question string, thoughts []Thought, recalls []GapRecall, passages []string, ev Events) (*Result, error) {
	answer, err := s.generate(ctx, synthesisPrompt(question, thoughts, recalls, passages, s.language), ev)
	if err != nil {
		return nil, err
	}
	ev.finalAnswer(answer)
	return &Result{Answer: answer}, nil
}

func synthesisPrompt(question string, thoughts []Thought, recalls []GapRecall, passages []string, language string) string {
	var sb strings.Builder
	sb.WriteString("Give a direct, natural answer to the question. ")
	sb.WriteString(languageInstruction(language))
	sb.WriteString(" Never say \"according to search results\" or describe how the information was gathered.\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n")

	if len(thoughts) > 0 {
		sb.WriteString("\nReasoning so far:\n")
		for _, t := range thoughts {
			fmt.Fprintf(&sb, "- %s: %s (confidence %s)\n", t.SubQuestion, t.PreliminaryAnswer, t.ConfidenceLevel)
		}
	}

	if len(recalls) > 0 {
		sb.WriteString("\nEvidence:\n")
		for _, r := range recalls {
			fmt.Fprintf(&sb, "On %q:\n", r.Gap)
			for _, p := range r.Passages {
				sb.WriteString("- ")
				sb.WriteString(p)
				sb.WriteString("\n")
			}
		}
	}

	if len(passages) > 0 {
		sb.WriteString("\nContext:\n")
		for _, p := range passages {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// gapAnswer is the tools-off fallback when gaps were found: answer
// honestly, naming what could not be confirmed.
func (s *Service) gapAnswer(ctx context.Context, question string, thoughts []Thought, passages []string, ev Events) (*Result, error) {
	var sb strings.Builder
	sb.WriteString("Answer the question as well as possible from what you know and the context. ")
	sb.WriteString(languageInstruction(s.language))
	sb.WriteString(" The following points could not be verified; state them explicitly and do not invent facts for them:\n")
	for _, g := range gaps(thoughts) {
		sb.WriteString("- ")
		sb.WriteString(g.GapDescription)
		sb.WriteString("\n")
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n")
	if len(passages) > 0 {
		sb.WriteString("\nContext:\n")
		for _, p := range passages {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	}

	answer, err := s.generate(ctx, sb.String(), ev)
	if err != nil {
		return nil, err
	}
	ev.finalAnswer(answer)
	return &Result{Answer: answer}, nil
}
