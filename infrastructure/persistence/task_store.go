package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/scottyroges/cortex/domain/task"
)

// TaskStore persists one task queue as a JSON array on disk. Each queue
// (ingest, capture) gets its own file so a crash in one worker cannot
// corrupt the other's backlog.
type TaskStore struct {
	path string
	log  *slog.Logger

	mu    sync.Mutex
	tasks []task.Task
}

// LoadTaskStore reads the queue file at path. A missing or empty file yields
// an empty queue. Tasks left in the running state by an earlier process are
// reset to queued so the worker picks them up again.
func LoadTaskStore(path string, log *slog.Logger) (*TaskStore, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &TaskStore{path: path, log: log.With(slog.String("component", "task_store"))}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.tasks); err != nil {
		return nil, fmt.Errorf("parse task file %s: %w", path, err)
	}

	recovered := 0
	for i := range s.tasks {
		if s.tasks[i].Status == task.StatusRunning {
			s.tasks[i].Status = task.StatusQueued
			s.tasks[i].StartedAt = nil
			recovered++
		}
	}
	if recovered > 0 {
		s.log.Info("recovered interrupted tasks", slog.Int("count", recovered))
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Enqueue appends a task and persists the queue.
func (s *TaskStore) Enqueue(t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	return s.flushLocked()
}

// NextQueued returns the oldest queued task, if any.
func (s *TaskStore) NextQueued() (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Status == task.StatusQueued {
			return t, true
		}
	}
	return task.Task{}, false
}

// Get looks a task up by ID.
func (s *TaskStore) Get(id string) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.TaskID == id {
			return t, true
		}
	}
	return task.Task{}, false
}

// Update replaces the stored task with the same ID and persists the queue.
func (s *TaskStore) Update(t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].TaskID == t.TaskID {
			s.tasks[i] = t
			return s.flushLocked()
		}
	}
	return fmt.Errorf("task %s not found", t.TaskID)
}

// All returns a snapshot of every task, newest last.
func (s *TaskStore) All() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Pending reports how many tasks are queued or running.
func (s *TaskStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// DropExpired removes terminal tasks older than task.MaxAge and returns how
// many were removed.
func (s *TaskStore) DropExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tasks[:0]
	dropped := 0
	for _, t := range s.tasks {
		if t.Status.IsTerminal() && t.Expired(time.Now().UTC()) {
			dropped++
			continue
		}
		kept = append(kept, t)
	}
	if dropped == 0 {
		return 0, nil
	}
	s.tasks = kept
	s.log.Debug("expired tasks dropped", slog.Int("count", dropped))
	return dropped, s.flushLocked()
}

func (s *TaskStore) flushLocked() error {
	tasks := s.tasks
	if tasks == nil {
		tasks = []task.Task{}
	}
	return writeJSONAtomic(s.path, tasks)
}
