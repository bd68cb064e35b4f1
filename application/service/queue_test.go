package service

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottyroges/cortex/domain/task"
	"github.com/scottyroges/cortex/infrastructure/persistence"
)

func newQueueFixture(t *testing.T, runner TaskRunner) *Queue {
	t.Helper()
	store, err := persistence.LoadTaskStore(filepath.Join(t.TempDir(), "tasks.json"), testLogger())
	require.NoError(t, err)
	return NewQueue("test", store, runner, testLogger())
}

func TestQueueRunsEnqueuedTask(t *testing.T) {
	done := make(chan string, 1)
	q := newQueueFixture(t, func(_ context.Context, tk task.Task, _ func(int, int)) (map[string]any, error) {
		done <- tk.TaskID
		return map[string]any{"files": 3}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	id, err := q.Enqueue(task.KindIngest, "api", map[string]any{"force_full": true})
	require.NoError(t, err)

	select {
	case ran := <-done:
		assert.Equal(t, id, ran)
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	final, err := q.WaitTerminal(waitCtx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusComplete, final.Status)
	assert.True(t, final.ForceFull)
	assert.Equal(t, float64(100), final.Percent)
	require.NotNil(t, final.Result)
}

func TestQueueRecordsFailure(t *testing.T) {
	q := newQueueFixture(t, func(context.Context, task.Task, func(int, int)) (map[string]any, error) {
		return nil, fmt.Errorf("walk failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	id, err := q.Enqueue(task.KindIngest, "api", nil)
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	final, err := q.WaitTerminal(waitCtx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "walk failed")
}

func TestQueueProgressCheckpoints(t *testing.T) {
	q := newQueueFixture(t, func(_ context.Context, _ task.Task, progress func(int, int)) (map[string]any, error) {
		for i := 1; i <= 25; i++ {
			progress(i, 25)
		}
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	id, err := q.Enqueue(task.KindIngest, "api", nil)
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	final, err := q.WaitTerminal(waitCtx, id)
	require.NoError(t, err)
	assert.Equal(t, 25, final.FilesTotal)
	assert.Equal(t, 25, final.FilesProcessed)
}

func TestQueueListFiltersByRepository(t *testing.T) {
	q := newQueueFixture(t, func(context.Context, task.Task, func(int, int)) (map[string]any, error) {
		return nil, nil
	})

	_, err := q.Enqueue(task.KindIngest, "api", nil)
	require.NoError(t, err)
	_, err = q.Enqueue(task.KindIngest, "web", nil)
	require.NoError(t, err)

	assert.Len(t, q.List(""), 2)
	assert.Len(t, q.List("api"), 1)
	assert.Equal(t, 2, q.Pending())
}

func TestQueueStatusUnknownTask(t *testing.T) {
	q := newQueueFixture(t, nil)
	_, ok := q.Status("ingest:deadbeef")
	assert.False(t, ok)
}
