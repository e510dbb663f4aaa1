package sse

import (
	"bufio"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttic/agenttic/pkg/domain"
)

func decodeFrames(t *testing.T, body string) []Event {
	t.Helper()
	var events []Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		events = append(events, e)
	}
	return events
}

func TestEmitSequence(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, sw.Status("retrieving"))
	require.NoError(t, sw.Delta("hel"))
	require.NoError(t, sw.Delta("lo"))
	require.NoError(t, sw.Sources([]domain.SourceRef{{URL: "https://example.com", Score: 0.9}}))
	require.NoError(t, sw.Complete())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := decodeFrames(t, rec.Body.String())
	require.Len(t, events, 5)
	assert.Equal(t, TypeStatus, events[0].Type)
	assert.Equal(t, "hel", events[1].Content)
	assert.Equal(t, TypeSources, events[3].Type)
	require.Len(t, events[3].Sources, 1)
	assert.Equal(t, TypeComplete, events[4].Type)
}

func TestFailEmitsUserMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, sw.Fail(domain.ErrInvalidInput))

	events := decodeFrames(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, TypeError, events[0].Type)
	assert.Equal(t, "输入参数有误", events[0].Error)
}
