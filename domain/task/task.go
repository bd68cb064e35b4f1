// Package task provides the async task-queue domain: persistent task records
// with a queued/running/terminal lifecycle, progress tracking, and expiry.
package task

import "time"

// Kind identifies what work a task performs.
type Kind string

// Task kinds.
const (
	KindIngest  Kind = "ingest"
	KindCapture Kind = "capture"
)

// Status is the lifecycle state of a task.
type Status string

// Status values.
const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// MaxAge is how long terminal tasks are retained before expiry GC drops them.
const MaxAge = 24 * time.Hour

// ProgressBatchSize is how many files are processed between progress
// checkpoints during ingest.
const ProgressBatchSize = 10

// Task is a persisted queue record. Fields are exported because the record is
// serialized verbatim to the queue file.
type Task struct {
	TaskID     string         `json:"task_id"`
	Kind       Kind           `json:"kind"`
	Repository string         `json:"repository"`
	Status     Status         `json:"status"`
	ForceFull  bool           `json:"force_full,omitempty"`

	FilesTotal     int     `json:"files_total"`
	FilesProcessed int     `json:"files_processed"`
	Percent        float64 `json:"percent"`

	Params map[string]any `json:"params,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// New creates a queued task.
func New(id string, kind Kind, repository string, params map[string]any) Task {
	return Task{
		TaskID:     id,
		Kind:       kind,
		Repository: repository,
		Status:     StatusQueued,
		Params:     params,
		CreatedAt:  time.Now().UTC(),
	}
}

// Start transitions the task to running.
func (t Task) Start(now time.Time) Task {
	t.Status = StatusRunning
	t.StartedAt = &now
	return t
}

// Complete transitions the task to its success terminal state.
func (t Task) Complete(now time.Time, result map[string]any) Task {
	t.Status = StatusComplete
	t.CompletedAt = &now
	t.Result = result
	t.FilesProcessed = t.FilesTotal
	t.Percent = 100
	return t
}

// Fail transitions the task to its failure terminal state.
func (t Task) Fail(now time.Time, errMsg string) Task {
	t.Status = StatusFailed
	t.CompletedAt = &now
	t.Error = errMsg
	return t
}

// WithProgress records a progress checkpoint.
func (t Task) WithProgress(processed, total int) Task {
	t.FilesProcessed = processed
	t.FilesTotal = total
	if total > 0 {
		t.Percent = float64(processed) / float64(total) * 100
	}
	return t
}

// Expired reports whether a terminal task is older than MaxAge at the given
// instant.
func (t Task) Expired(now time.Time) bool {
	if !t.Status.IsTerminal() || t.CompletedAt == nil {
		return false
	}
	return now.Sub(*t.CompletedAt) > MaxAge
}
