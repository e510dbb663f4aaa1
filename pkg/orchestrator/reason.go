package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenttic/agenttic/pkg/domain"
)

const (
	complexitySimple  = "simple"
	complexityMedium  = "medium"
	complexityComplex = "complex"

	confidenceHigh   = "high"
	confidenceMedium = "medium"
	confidenceLow    = "low"

	importanceHigh = "high"
)

// Sub-question caps per complexity class.
var subQueryCap = map[string]int{
	complexitySimple:  1,
	complexityMedium:  3,
	complexityComplex: 5,
}

// Routing is the triage decision for a question.
type Routing struct {
	UseFastRoute bool   `json:"use_fast_route"`
	NeedsTools   bool   `json:"needs_tools"`
	Reason       string `json:"reason"`
}

type SubQuery struct {
	Question      string `json:"question"`
	Importance    string `json:"importance"`
	NeedsExternal bool   `json:"needs_external"`
}

type Decomposition struct {
	Complexity         string     `json:"complexity"`
	SubQueries         []SubQuery `json:"sub_queries"`
	KeyEntities        []string   `json:"key_entities"`
	VerificationPoints []string   `json:"verification_points"`
}

type KnowledgeGap struct {
	GapDescription string   `json:"gap_description"`
	Importance     string   `json:"importance"`
	SearchKeywords []string `json:"search_keywords"`
}

// Thought is the reasoning output for one sub-question.
type Thought struct {
	SubQuestion       string         `json:"sub_question"`
	ThoughtProcess    string         `json:"thought_process"`
	PreliminaryAnswer string         `json:"preliminary_answer"`
	ConfidenceLevel   string         `json:"confidence_level"`
	KnowledgeGaps     []KnowledgeGap `json:"knowledge_gaps"`
	NeedsVerification bool           `json:"needs_verification"`
}

// route classifies the question. Unparseable output degrades to the
// fast route without tools, the cheapest safe default.
func (s *Service) route(ctx context.Context, question string) Routing {
	prompt := fmt.Sprintf(`Classify this question for answering. Reply with JSON only:
{"use_fast_route": bool, "needs_tools": bool, "reason": "short"}

use_fast_route: true when the question is simple enough to answer in one pass.
needs_tools: true when current or external information is required.

Question: %s`, question)

	text, err := s.llm.Generate(ctx, prompt, nil)
	if err != nil {
		s.logger.Warn("routing call failed, using fast route", "error", err)
		return Routing{UseFastRoute: true}
	}

	var routing Routing
	if err := domain.DecodeLLMJSON(text, &routing); err != nil {
		s.logger.Warn("routing output unparseable, using fast route", "error", err)
		return Routing{UseFastRoute: true}
	}
	return routing
}

// decompose breaks the question into sub-questions. Trivial questions
// skip the LLM call entirely.
func (s *Service) decompose(ctx context.Context, question string) Decomposition {
	if isTrivial(question) {
		return singleQuery(question)
	}

	prompt := fmt.Sprintf(`Decompose this question for research. Reply with JSON only:
{"complexity": "simple|medium|complex",
 "sub_queries": [{"question": "...", "importance": "high|medium|low", "needs_external": bool}],
 "key_entities": ["..."],
 "verification_points": ["..."]}

Use at most 1 sub-query for simple, 3 for medium, 5 for complex.

Question: %s`, question)

	text, err := s.llm.Generate(ctx, prompt, nil)
	if err != nil {
		s.logger.Warn("decomposition call failed, single sub-query", "error", err)
		return singleQuery(question)
	}

	var dec Decomposition
	if err := domain.DecodeLLMJSON(text, &dec); err != nil {
		s.logger.Warn("decomposition output unparseable, single sub-query", "error", err)
		return singleQuery(question)
	}

	if _, ok := subQueryCap[dec.Complexity]; !ok {
		dec.Complexity = complexityMedium
	}
	if limit := subQueryCap[dec.Complexity]; len(dec.SubQueries) > limit {
		dec.SubQueries = dec.SubQueries[:limit]
	}
	if len(dec.SubQueries) == 0 {
		dec.SubQueries = singleQuery(question).SubQueries
	}
	return dec
}

func singleQuery(question string) Decomposition {
	return Decomposition{
		Complexity: complexitySimple,
		SubQueries: []SubQuery{{Question: question, Importance: importanceHigh, NeedsExternal: false}},
	}
}

// isTrivial is the cheap classifier: short, single-clause questions
// need no LLM decomposition.
func isTrivial(question string) bool {
	if len(strings.Fields(question)) > 8 && len([]rune(question)) > 24 {
		return false
	}
	lower := strings.ToLower(question)
	markers := []string{
		" and ", " vs ", " versus ", "compare", "difference", "why", "how do", "how to",
		"和", "与", "以及", "对比", "区别", "为什么", "如何", "怎么",
	}
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	return true
}

// think reasons over each sub-question in order, emitting progress.
func (s *Service) think(ctx context.Context, question string, dec Decomposition, ev Events) []Thought {
	thoughts := make([]Thought, 0, len(dec.SubQueries))
	for i, sq := range dec.SubQueries {
		ev.reasoning(fmt.Sprintf("(%d/%d) %s", i+1, len(dec.SubQueries), sq.Question))

		thought := s.thinkOne(ctx, question, sq)
		thought.SubQuestion = sq.Question
		thoughts = append(thoughts, thought)

		if thought.ThoughtProcess != "" {
			ev.reasoning(thought.ThoughtProcess)
		}
	}
	return thoughts
}

func (s *Service) thinkOne(ctx context.Context, question string, sq SubQuery) Thought {
	prompt := fmt.Sprintf(`You are reasoning about one aspect of a larger question.

Overall question: %s
Current aspect: %s

Reply with JSON only:
{"thought_process": "...",
 "preliminary_answer": "...",
 "confidence_level": "high|medium|low",
 "knowledge_gaps": [{"gap_description": "...", "importance": "high|medium|low", "search_keywords": ["..."]}],
 "needs_verification": bool}`, question, sq.Question)

	text, err := s.llm.Generate(ctx, prompt, nil)
	if err != nil {
		s.logger.Warn("thinking call failed", "sub_question", sq.Question, "error", err)
		return Thought{ConfidenceLevel: confidenceMedium}
	}

	var thought Thought
	if err := domain.DecodeLLMJSON(text, &thought); err != nil {
		s.logger.Warn("thought output unparseable", "sub_question", sq.Question, "error", err)
		return Thought{ConfidenceLevel: confidenceMedium}
	}
	if thought.ConfidenceLevel == "" {
		thought.ConfidenceLevel = confidenceMedium
	}
	return thought
}

// needTools decides whether to search: any high-importance gap, low
// overall confidence, or any sub-thought asking for verification.
func needTools(thoughts []Thought) bool {
	for _, t := range thoughts {
		if t.NeedsVerification {
			return true
		}
		for _, g := range t.KnowledgeGaps {
			if g.Importance == importanceHigh {
				return true
			}
		}
	}
	return overallConfidence(thoughts) == confidenceLow
}

// overallConfidence is high when ≥70% of sub-thoughts are high, medium
// when ≥60% are high or medium, else low.
func overallConfidence(thoughts []Thought) string {
	if len(thoughts) == 0 {
		return confidenceLow
	}
	var high, medium int
	for _, t := range thoughts {
		switch t.ConfidenceLevel {
		case confidenceHigh:
			high++
		case confidenceMedium:
			medium++
		}
	}
	total := float64(len(thoughts))
	if float64(high)/total >= 0.7 {
		return confidenceHigh
	}
	if float64(high+medium)/total >= 0.6 {
		return confidenceMedium
	}
	return confidenceLow
}

// gaps flattens every knowledge gap across the thoughts.
func gaps(thoughts []Thought) []KnowledgeGap {
	var out []KnowledgeGap
	for _, t := range thoughts {
		out = append(out, t.KnowledgeGaps...)
	}
	return out
}
