package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttic/agenttic/pkg/domain"
)

func newTestService(t *testing.T, size, overlap int) *Service {
	t.Helper()
	s, err := New("cl100k_base",
		Options{ChunkSize: size, Overlap: overlap},
		Options{ChunkSize: size * 4, Overlap: overlap * 2})
	require.NoError(t, err)
	return s
}

func TestSplitShortInputSingleChunk(t *testing.T) {
	s := newTestService(t, 100, 10)
	chunks, err := s.SplitText("a short document")
	require.NoError(t, err)
	assert.Equal(t, []string{"a short document"}, chunks)
}

func TestSplitEmptyInput(t *testing.T) {
	s := newTestService(t, 100, 10)

	_, err := s.SplitText("")
	assert.ErrorIs(t, err, domain.ErrNoChunks)

	_, err = s.SplitText("   \n\t  ")
	assert.ErrorIs(t, err, domain.ErrNoChunks)
}

func TestSplitWindowsRespectBudget(t *testing.T) {
	s := newTestService(t, 50, 10)
	content := strings.Repeat("the quick brown fox jumps over the lazy dog ", 60)

	chunks, err := s.SplitText(content)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.LessOrEqual(t, s.CountTokens(c), 50)
	}
}

func TestSplitDeterministic(t *testing.T) {
	s := newTestService(t, 50, 10)
	content := strings.Repeat("alpha beta gamma delta epsilon ", 80)

	a, err := s.SplitText(content)
	require.NoError(t, err)
	b, err := s.SplitText(content)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	s := newTestService(t, 20, 10)
	content := strings.Repeat("one two three four five six seven eight nine ten ", 20)

	chunks, err := s.SplitText(content)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	// Overlapping windows duplicate tokens, so the chunks together
	// carry more tokens than the source text.
	total := 0
	for _, c := range chunks {
		total += s.CountTokens(c)
	}
	assert.Greater(t, total, s.CountTokens(content))
}

func TestInvalidOverlap(t *testing.T) {
	s := newTestService(t, 100, 10)
	s.text.Overlap = 100

	_, err := s.SplitText(strings.Repeat("word ", 500))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSplitHTMLUsesLargerWindow(t *testing.T) {
	s := newTestService(t, 50, 10)
	content := strings.Repeat("<p>the quick brown fox</p> ", 60)

	textChunks, err := s.SplitText(content)
	require.NoError(t, err)
	htmlChunks, err := s.SplitHTML(content)
	require.NoError(t, err)

	assert.Less(t, len(htmlChunks), len(textChunks))
}
