package ingest

import (
	"context"
	"fmt"

	"github.com/agenttic/agenttic/pkg/collection"
	"github.com/agenttic/agenttic/pkg/discovery"
	"github.com/agenttic/agenttic/pkg/domain"
)

// HandleCallback processes a discovery webhook callback: mark the
// workflow done, then fan child URLs out as background ingests. It
// returns as soon as the children are enqueued. Callbacks carrying a
// foreign task_name are rejected before any workflow bookkeeping.
func (s *Service) HandleCallback(ctx context.Context, cb *domain.CallbackRequest) (*domain.CallbackResponse, error) {
	if cb.TaskName != discovery.TaskName {
		s.logger.Warn("rejecting callback with foreign task_name", "task_name", cb.TaskName)
		return &domain.CallbackResponse{
			Success:  false,
			Message:  fmt.Sprintf("unrecognized task_name %q, expected %q", cb.TaskName, discovery.TaskName),
			TaskName: cb.TaskName,
		}, nil
	}

	if cb.RequestID != "" {
		if err := s.meta.UpdateWorkflowStatus(ctx, cb.RequestID, domain.WorkflowSuccess); err != nil {
			s.logger.Warn("workflow status update failed", "request_id", cb.RequestID, "error", err)
		}
	}

	subDocs := discovery.SubDocs(cb)
	resp := &domain.CallbackResponse{
		Success:      true,
		Message:      "callback processed",
		TaskName:     cb.TaskName,
		DocumentName: cb.DocumentName,
		TotalSubDocs: len(subDocs),
	}

	if len(subDocs) == 0 || cb.RecursiveDepth <= 0 {
		return resp, nil
	}

	parentID := s.parentSourceID(ctx, cb.URL)
	if parentID == 0 {
		s.logger.Warn("no parent source for callback, skipping recursion", "url", cb.URL)
		return resp, nil
	}

	collectionName := cb.CollectionName
	if collectionName == "" {
		collectionName = collection.Name(cb.URL)
	}

	taskID := cb.RequestID
	if taskID == "" {
		taskID = cb.URL
	}
	if s.tracker != nil {
		s.tracker.CreateTask(taskID, cb.DocumentName, subDocs)
		s.tracker.StartTask(taskID)
	}

	childDepth := cb.RecursiveDepth - 1
	for _, sub := range subDocs {
		go s.ingestSubDoc(taskID, sub, cb.DocumentName, collectionName, parentID, childDepth)
	}
	resp.SubDocsProcessing = len(subDocs)
	return resp, nil
}

func (s *Service) parentSourceID(ctx context.Context, parentURL string) int64 {
	source, err := s.meta.GetSourceByURL(ctx, parentURL, domain.SessionIngest)
	if err != nil {
		return 0
	}
	return source.ID
}

// ingestSubDoc runs one child ingest in the background, bounded by the
// sub-document semaphore. The callback response never waits on it.
func (s *Service) ingestSubDoc(taskID, subURL, documentName, collectionName string, parentID int64, depth int) {
	s.subDocSem <- struct{}{}
	defer func() { <-s.subDocSem }()

	// Detached from the callback request: the caller already got its
	// response.
	ctx := context.Background()

	_, err := s.Ingest(ctx, "", domain.IngestRequest{
		URL:            subURL,
		IsRecursive:    true,
		ParentSourceID: parentID,
		DocumentName:   documentName,
		CollectionName: collectionName,
		RecursiveDepth: &depth,
	}, Progress{})

	if err != nil {
		s.logger.Warn("sub-document ingest failed", "url", subURL, "error", err)
	}
	if s.tracker != nil {
		s.tracker.UpdateSubDoc(taskID, subURL, err == nil)
	}
}
