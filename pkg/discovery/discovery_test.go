package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttic/agenttic/pkg/domain"
)

func TestPostCarriesTaskNameAndPrompt(t *testing.T) {
	var received Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, 5*time.Second)
	err := c.Post(context.Background(), Request{
		DocumentName:   "docs",
		CollectionName: "collection_abcd1234",
		URL:            "https://example.com/docs",
		TotalChunks:    2,
		DataList: []ChunkItem{
			{ChunkID: "c0", Content: "<html>0</html>", Index: 0},
			{ChunkID: "c1", Content: "<html>1</html>", Index: 1},
		},
		RequestID:      "req-1",
		RecursiveDepth: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, TaskName, received.TaskName)
	assert.NotEmpty(t, received.Prompt)
	assert.Len(t, received.DataList, 2)
	assert.Equal(t, "req-1", received.RequestID)
}

func TestPostUnconfigured(t *testing.T) {
	c := New("", time.Second)
	err := c.Post(context.Background(), Request{})
	assert.ErrorIs(t, err, domain.ErrConfigurationError)
	assert.False(t, c.Enabled())
}

func TestPostWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	err := New(srv.URL, time.Second).Post(context.Background(), Request{RequestID: "r"})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestParseCallbackPlain(t *testing.T) {
	raw := []byte(`{
		"task_name": "agenttic_ingest",
		"document_name": "docs",
		"url": "https://example.com/docs",
		"request_id": "req-1",
		"recursive_depth": 1,
		"output": [{"response": {"sub_docs": ["https://example.com/docs/a"]}}]
	}`)

	cb, err := ParseCallback(raw)
	require.NoError(t, err)
	assert.Equal(t, "agenttic_ingest", cb.TaskName)
	assert.Equal(t, []string{"https://example.com/docs/a"}, SubDocs(cb))
}

func TestParseCallbackBodyEnvelope(t *testing.T) {
	raw := []byte(`{"body": {"task_name": "agenttic_ingest", "request_id": "req-2", "output": []}}`)

	cb, err := ParseCallback(raw)
	require.NoError(t, err)
	assert.Equal(t, "req-2", cb.RequestID)
}

func TestParseCallbackMissingTaskName(t *testing.T) {
	_, err := ParseCallback([]byte(`{"request_id": "req-3"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSubDocsUnionDedupe(t *testing.T) {
	cb := &domain.CallbackRequest{}
	items := [][]string{
		{"https://a", "https://b"},
		{"https://b", "https://c", ""},
	}
	for _, subDocs := range items {
		var item domain.CallbackOutput
		item.Response.SubDocs = subDocs
		cb.Output = append(cb.Output, item)
	}

	assert.Equal(t, []string{"https://a", "https://b", "https://c"}, SubDocs(cb))
}
