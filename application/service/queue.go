package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scottyroges/cortex/domain/task"
	"github.com/scottyroges/cortex/infrastructure/persistence"
)

// workerPollInterval bounds how long a worker sleeps without a wakeup signal.
const workerPollInterval = 5 * time.Second

// TaskRunner executes one task and returns its result payload.
type TaskRunner func(ctx context.Context, t task.Task, progress func(processed, total int)) (map[string]any, error)

// Queue is a single persistent work queue with one background worker.
// Enqueue wakes the worker immediately; otherwise it polls.
type Queue struct {
	name   string
	store  *persistence.TaskStore
	runner TaskRunner
	log    *slog.Logger

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewQueue wires a queue over its persisted store. The worker is not running
// until Start is called.
func NewQueue(name string, store *persistence.TaskStore, runner TaskRunner, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		name:   name,
		store:  store,
		runner: runner,
		log:    log.With(slog.String("component", "queue"), slog.String("queue", name)),
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue persists a new queued task and signals the worker.
func (q *Queue) Enqueue(kind task.Kind, repository string, params map[string]any) (string, error) {
	t := task.New(newTaskID(kind), kind, repository, params)
	if forceFull, ok := params["force_full"].(bool); ok {
		t.ForceFull = forceFull
	}
	if err := q.store.Enqueue(t); err != nil {
		return "", fmt.Errorf("enqueue %s task: %w", kind, err)
	}
	q.Trigger()
	return t.TaskID, nil
}

// Trigger wakes the worker without adding work.
func (q *Queue) Trigger() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Status returns one task record.
func (q *Queue) Status(taskID string) (task.Task, bool) {
	return q.store.Get(taskID)
}

// List returns all retained records, optionally filtered by repository.
func (q *Queue) List(repository string) []task.Task {
	all := q.store.All()
	if repository == "" {
		return all
	}
	filtered := make([]task.Task, 0, len(all))
	for _, t := range all {
		if t.Repository == repository {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// Pending returns the number of queued and running tasks.
func (q *Queue) Pending() int {
	return q.store.Pending()
}

// WaitTerminal blocks until the task reaches a terminal state or the context
// expires. Used by sync-mode callers.
func (q *Queue) WaitTerminal(ctx context.Context, taskID string) (task.Task, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if t, ok := q.store.Get(taskID); ok && t.Status.IsTerminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			t, _ := q.store.Get(taskID)
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Start launches the worker goroutine. It exits when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.log.Info("worker started")
		for {
			q.drain(ctx)
			select {
			case <-ctx.Done():
				q.log.Info("worker stopped")
				return
			case <-q.wake:
			case <-time.After(workerPollInterval):
			}
		}
	}()
}

// Wait blocks until the worker goroutine has exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// drain runs queued tasks until the queue is empty or ctx is cancelled.
func (q *Queue) drain(ctx context.Context) {
	if dropped, err := q.store.DropExpired(); err != nil {
		q.log.Warn("expiry gc failed", slog.String("error", err.Error()))
	} else if dropped > 0 {
		q.log.Debug("expired tasks dropped", slog.Int("count", dropped))
	}

	for ctx.Err() == nil {
		t, ok := q.store.NextQueued()
		if !ok {
			return
		}
		q.run(ctx, t)
	}
}

// run executes a single task through its lifecycle transitions, persisting
// each checkpoint.
func (q *Queue) run(ctx context.Context, t task.Task) {
	t = t.Start(time.Now().UTC())
	if err := q.store.Update(t); err != nil {
		q.log.Warn("task checkpoint failed", slog.String("task", t.TaskID), slog.String("error", err.Error()))
	}
	q.log.Info("task started", slog.String("task", t.TaskID), slog.String("kind", string(t.Kind)))

	progress := func(processed, total int) {
		if processed%task.ProgressBatchSize != 0 && processed != total {
			return
		}
		t = t.WithProgress(processed, total)
		if err := q.store.Update(t); err != nil {
			q.log.Warn("progress checkpoint failed", slog.String("task", t.TaskID), slog.String("error", err.Error()))
		}
	}

	result, err := q.runner(ctx, t, progress)
	now := time.Now().UTC()
	if err != nil {
		t = t.Fail(now, err.Error())
		q.log.Warn("task failed", slog.String("task", t.TaskID), slog.String("error", err.Error()))
	} else {
		t = t.Complete(now, result)
		q.log.Info("task complete",
			slog.String("task", t.TaskID),
			slog.Duration("elapsed", now.Sub(t.CreatedAt)),
		)
	}
	if err := q.store.Update(t); err != nil {
		q.log.Error("terminal checkpoint failed", slog.String("task", t.TaskID), slog.String("error", err.Error()))
	}
}

func newTaskID(kind task.Kind) string {
	return fmt.Sprintf("%s:%s", kind, uuid.New().String()[:8])
}
