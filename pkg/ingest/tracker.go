package ingest

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task states.
const (
	TaskPending            = "pending"
	TaskRunning            = "running"
	TaskCompleted          = "completed"
	TaskPartiallyCompleted = "partially_completed"
	TaskFailed             = "failed"
)

// Sub-document states within a task.
const (
	SubDocPending = "pending"
	SubDocSuccess = "success"
	SubDocFailed  = "failed"
)

const taskRetention = 24 * time.Hour

// TaskStatus is the in-memory record of one recursive ingest fan-out.
type TaskStatus struct {
	TaskID       string            `json:"task_id"`
	DocumentName string            `json:"document_name"`
	Status       string            `json:"status"`
	SubDocs      map[string]string `json:"sub_docs"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (t *TaskStatus) terminal() bool {
	switch t.Status {
	case TaskCompleted, TaskPartiallyCompleted, TaskFailed:
		return true
	}
	return false
}

// Tracker holds recursive-ingest task state and sweeps finished tasks
// out after the retention window.
type Tracker struct {
	mu    sync.Mutex
	tasks map[string]*TaskStatus
	cron  *cron.Cron
}

func NewTracker() *Tracker {
	t := &Tracker{
		tasks: make(map[string]*TaskStatus),
		cron:  cron.New(),
	}
	_, _ = t.cron.AddFunc("@hourly", t.sweep)
	t.cron.Start()
	return t
}

func (t *Tracker) Stop() {
	if t.cron != nil {
		t.cron.Stop()
	}
}

func (t *Tracker) CreateTask(taskID, documentName string, subDocs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	docs := make(map[string]string, len(subDocs))
	for _, u := range subDocs {
		docs[u] = SubDocPending
	}
	t.tasks[taskID] = &TaskStatus{
		TaskID:       taskID,
		DocumentName: documentName,
		Status:       TaskPending,
		SubDocs:      docs,
		UpdatedAt:    time.Now(),
	}
}

func (t *Tracker) StartTask(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if task, ok := t.tasks[taskID]; ok && task.Status == TaskPending {
		task.Status = TaskRunning
		task.UpdatedAt = time.Now()
	}
}

// UpdateSubDoc records one child's outcome and settles the parent task
// once every child is terminal.
func (t *Tracker) UpdateSubDoc(taskID, subURL string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, exists := t.tasks[taskID]
	if !exists {
		return
	}
	if ok {
		task.SubDocs[subURL] = SubDocSuccess
	} else {
		task.SubDocs[subURL] = SubDocFailed
	}
	task.UpdatedAt = time.Now()

	var succeeded, failed int
	for _, status := range task.SubDocs {
		switch status {
		case SubDocSuccess:
			succeeded++
		case SubDocFailed:
			failed++
		case SubDocPending:
			return
		}
	}

	switch {
	case failed == 0:
		task.Status = TaskCompleted
	case succeeded == 0:
		task.Status = TaskFailed
	default:
		task.Status = TaskPartiallyCompleted
	}
}

func (t *Tracker) FailTask(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if task, ok := t.tasks[taskID]; ok {
		task.Status = TaskFailed
		task.UpdatedAt = time.Now()
	}
}

// Get returns a copy of the task's status.
func (t *Tracker) Get(taskID string) (TaskStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[taskID]
	if !ok {
		return TaskStatus{}, false
	}
	out := *task
	out.SubDocs = make(map[string]string, len(task.SubDocs))
	for k, v := range task.SubDocs {
		out.SubDocs[k] = v
	}
	return out, true
}

// sweep drops terminal tasks older than the retention window.
func (t *Tracker) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-taskRetention)
	for id, task := range t.tasks {
		if task.terminal() && task.UpdatedAt.Before(cutoff) {
			delete(t.tasks, id)
		}
	}
}
