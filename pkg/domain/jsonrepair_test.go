package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Local copies of the orchestrator's decode targets (pkg/orchestrator/reason.go),
// used only as scaffolding to exercise DecodeLLMJSON.
type RouteDecision struct {
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

type Thought struct {
	ThoughtProcess    string         `json:"thought_process"`
	PreliminaryAnswer string         `json:"preliminary_answer"`
	ConfidenceLevel   string         `json:"confidence_level"`
	KnowledgeGaps     []KnowledgeGap `json:"knowledge_gaps"`
	NeedsVerification bool           `json:"needs_verification"`
}

func TestExtractJSONFenced(t *testing.T) {
	raw := "```json\n{\"use_fast_route\": true, \"needs_tools\": false, \"reason\": \"simple\"}\n```"

	var rd RouteDecision
	require.NoError(t, DecodeLLMJSON(raw, &rd))
	assert.True(t, rd.UseFastRoute)
	assert.False(t, rd.NeedsTools)
	assert.Equal(t, "simple", rd.Reason)
}

func TestExtractJSONLeadingProse(t *testing.T) {
	raw := `Here is the decomposition you asked for:
{"complexity": "medium", "sub_queries": [{"question": "q1", "importance": "high", "needs_external": true}], "key_entities": ["golang"], "verification_points": []}`

	var d Decomposition
	require.NoError(t, DecodeLLMJSON(raw, &d))
	assert.Equal(t, "medium", d.Complexity)
	require.Len(t, d.SubQueries, 1)
	assert.True(t, d.SubQueries[0].NeedsExternal)
}

func TestExtractJSONTruncated(t *testing.T) {
	// Cut off mid-string, as happens when the model hits max tokens.
	raw := `{"thought_process": "the question asks about`

	var th Thought
	require.NoError(t, DecodeLLMJSON(raw, &th))
	assert.Contains(t, th.ThoughtProcess, "the question asks about")
}

func TestExtractJSONTruncatedNested(t *testing.T) {
	raw := `{"knowledge_gaps": [{"gap_description": "release date", "importance": "high", "search_keywords": ["go 1.24"`

	var th Thought
	require.NoError(t, DecodeLLMJSON(raw, &th))
	require.Len(t, th.KnowledgeGaps, 1)
	assert.Equal(t, []string{"go 1.24"}, th.KnowledgeGaps[0].SearchKeywords)
}

func TestExtractJSONTrailingProse(t *testing.T) {
	raw := `{"use_fast_route": false, "needs_tools": true, "reason": "multi-hop"} hope that helps!`

	var rd RouteDecision
	require.NoError(t, DecodeLLMJSON(raw, &rd))
	assert.True(t, rd.NeedsTools)
}

func TestChunkDigestStable(t *testing.T) {
	a := ChunkDigest("s1", "https://example.com/a", 0, false)
	b := ChunkDigest("s1", "https://example.com/a", 0, false)
	h := ChunkDigest("s1", "https://example.com/a", 0, true)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, h)
	assert.Len(t, a, 32)
}
