package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/metastore"
)

func openMeta(t *testing.T) *metastore.Store {
	t.Helper()
	meta, err := metastore.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	return meta
}

func TestURLDerivedName(t *testing.T) {
	assert.Equal(t, "tutorial", urlDerivedName("https://docs.example.com/python/tutorial"))
	assert.Equal(t, "guide", urlDerivedName("https://example.com/guide/"))
	assert.Equal(t, "example.com", urlDerivedName("https://example.com/"))
}

func TestChunkRowsDigests(t *testing.T) {
	s := &Service{}
	rows := s.chunkRows("sess", "https://example.com/doc", 7,
		[]string{"text one", "text two"}, []string{"<html>raw</html>"})

	require.Len(t, rows, 3)
	assert.Equal(t, domain.ChunkDigest("sess", "https://example.com/doc", 0, false), rows[0].ChunkID)
	assert.Equal(t, domain.ChunkDigest("sess", "https://example.com/doc", 1, false), rows[1].ChunkID)
	assert.Equal(t, domain.ChunkDigest("sess", "https://example.com/doc", 0, true), rows[2].ChunkID)
	for _, row := range rows {
		assert.Equal(t, int64(7), row.SourceID)
		assert.Equal(t, "sess", row.SessionID)
	}
}

func TestReingestShortCircuits(t *testing.T) {
	meta := openMeta(t)
	ctx := context.Background()

	src, err := meta.CreateSource(ctx, "https://example.com/doc", "Doc", domain.SessionIngest)
	require.NoError(t, err)
	_, err = meta.InsertChunks(ctx, []domain.Chunk{{
		ChunkID: "c1", Content: "body", SourceID: src.ID, SessionID: domain.SessionIngest,
	}})
	require.NoError(t, err)

	s := New(Options{Meta: meta})

	var stages []string
	resp, err := s.Ingest(ctx, "", domain.IngestRequest{URL: "https://example.com/doc"}, Progress{
		OnStatus: func(stage string) { stages = append(stages, stage) },
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, src.ID, resp.SourceID)
	assert.Equal(t, 1, resp.TotalChunks)
	assert.Equal(t, []string{"complete"}, stages)
}

func TestIngestRequiresURL(t *testing.T) {
	s := New(Options{Meta: openMeta(t)})
	_, err := s.Ingest(context.Background(), "", domain.IngestRequest{}, Progress{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHandleCallbackWithoutRecursion(t *testing.T) {
	meta := openMeta(t)
	ctx := context.Background()
	require.NoError(t, meta.CreateWorkflow(ctx, "req-1", "Doc"))

	s := New(Options{Meta: meta})

	cb := &domain.CallbackRequest{
		TaskName:       "agenttic_ingest",
		DocumentName:   "Doc",
		URL:            "https://example.com/doc",
		RequestID:      "req-1",
		RecursiveDepth: 0,
	}
	cb.Output = []domain.CallbackOutput{{}}
	cb.Output[0].Response.SubDocs = []string{"https://example.com/doc/a"}

	resp, err := s.HandleCallback(ctx, cb)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.TotalSubDocs)
	assert.Equal(t, 0, resp.SubDocsProcessing)

	wf, err := meta.GetWorkflow(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowSuccess, wf.Status)
}

func TestHandleCallbackRejectsForeignTaskName(t *testing.T) {
	meta := openMeta(t)
	ctx := context.Background()
	require.NoError(t, meta.CreateWorkflow(ctx, "req-2", "Doc"))

	s := New(Options{Meta: meta})

	cb := &domain.CallbackRequest{
		TaskName:       "some_other_task",
		DocumentName:   "Doc",
		URL:            "https://example.com/doc",
		RequestID:      "req-2",
		RecursiveDepth: 2,
	}
	cb.Output = []domain.CallbackOutput{{}}
	cb.Output[0].Response.SubDocs = []string{"https://example.com/doc/a"}

	resp, err := s.HandleCallback(ctx, cb)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "task_name")
	assert.Equal(t, 0, resp.SubDocsProcessing)

	// The workflow record is untouched.
	wf, err := meta.GetWorkflow(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowRunning, wf.Status)
}

func TestTrackerLifecycle(t *testing.T) {
	tracker := NewTracker()
	defer tracker.Stop()

	tracker.CreateTask("t1", "Doc", []string{"a", "b"})
	tracker.StartTask("t1")

	task, ok := tracker.Get("t1")
	require.True(t, ok)
	assert.Equal(t, TaskRunning, task.Status)

	tracker.UpdateSubDoc("t1", "a", true)
	task, _ = tracker.Get("t1")
	assert.Equal(t, TaskRunning, task.Status)

	tracker.UpdateSubDoc("t1", "b", true)
	task, _ = tracker.Get("t1")
	assert.Equal(t, TaskCompleted, task.Status)
}

func TestTrackerPartialAndFailed(t *testing.T) {
	tracker := NewTracker()
	defer tracker.Stop()

	tracker.CreateTask("mixed", "Doc", []string{"a", "b"})
	tracker.UpdateSubDoc("mixed", "a", true)
	tracker.UpdateSubDoc("mixed", "b", false)
	task, _ := tracker.Get("mixed")
	assert.Equal(t, TaskPartiallyCompleted, task.Status)

	tracker.CreateTask("allbad", "Doc", []string{"a"})
	tracker.UpdateSubDoc("allbad", "a", false)
	task, _ = tracker.Get("allbad")
	assert.Equal(t, TaskFailed, task.Status)
}

func TestTrackerSweepKeepsRecentAndRunning(t *testing.T) {
	tracker := NewTracker()
	defer tracker.Stop()

	tracker.CreateTask("old-done", "Doc", []string{"a"})
	tracker.UpdateSubDoc("old-done", "a", true)
	tracker.CreateTask("still-running", "Doc", []string{"a"})

	tracker.mu.Lock()
	tracker.tasks["old-done"].UpdatedAt = time.Now().Add(-25 * time.Hour)
	tracker.tasks["still-running"].UpdatedAt = time.Now().Add(-25 * time.Hour)
	tracker.mu.Unlock()

	tracker.sweep()

	_, ok := tracker.Get("old-done")
	assert.False(t, ok)
	_, ok = tracker.Get("still-running")
	assert.True(t, ok)
}
