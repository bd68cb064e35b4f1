package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottyroges/cortex/domain/task"
)

func TestDeltaStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest_state.json")

	ds, err := LoadDeltaState(path, nil)
	require.NoError(t, err)

	_, ok := ds.Repo("proj")
	assert.False(t, ok)

	require.NoError(t, ds.SetRepo("proj", RepoState{
		Repository:    "proj",
		Branch:        "main",
		IndexedCommit: "abc123",
		IndexedAt:     time.Now().UTC().Format(time.RFC3339),
		FileHashes:    map[string]string{"main.go": "d41d8cd9"},
	}))

	reloaded, err := LoadDeltaState(path, nil)
	require.NoError(t, err)
	rs, ok := reloaded.Repo("proj")
	require.True(t, ok)
	assert.Equal(t, "abc123", rs.IndexedCommit)
	assert.Equal(t, "main", rs.Branch)
	assert.Equal(t, map[string]string{"main.go": "d41d8cd9"}, rs.FileHashes)
}

func TestDeltaStateMigratesLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a.go":"hash1","b.go":"hash2"}`), 0o644))

	ds, err := LoadDeltaState(path, nil)
	require.NoError(t, err)

	rs, ok := ds.Repo(DefaultRepositoryKey)
	require.True(t, ok)
	assert.Equal(t, "hash1", rs.FileHashes["a.go"])
	assert.Equal(t, "hash2", rs.FileHashes["b.go"])

	// Migration is persisted in the new layout.
	reloaded, err := LoadDeltaState(path, nil)
	require.NoError(t, err)
	_, ok = reloaded.Repo(DefaultRepositoryKey)
	assert.True(t, ok)
}

func TestDeltaStateRepoReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest_state.json")
	ds, err := LoadDeltaState(path, nil)
	require.NoError(t, err)

	require.NoError(t, ds.SetRepo("proj", RepoState{FileHashes: map[string]string{"x": "1"}}))
	rs, _ := ds.Repo("proj")
	rs.FileHashes["x"] = "mutated"

	again, _ := ds.Repo("proj")
	assert.Equal(t, "1", again.FileHashes["x"])
}

func TestTaskStoreEnqueueAndRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest_tasks.json")

	s, err := LoadTaskStore(path, nil)
	require.NoError(t, err)

	tk := task.New("t1", task.KindIngest, "proj", nil)
	require.NoError(t, s.Enqueue(tk))
	require.NoError(t, s.Update(tk.Start(time.Now().UTC())))

	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.Equal(t, 1, s.Pending())

	// A reload simulates a daemon restart mid-task: the running task must
	// return to the queue.
	reloaded, err := LoadTaskStore(path, nil)
	require.NoError(t, err)
	got, ok = reloaded.Get("t1")
	require.True(t, ok)
	assert.Equal(t, task.StatusQueued, got.Status)
	assert.Nil(t, got.StartedAt)

	next, ok := reloaded.NextQueued()
	require.True(t, ok)
	assert.Equal(t, "t1", next.TaskID)
}

func TestTaskStoreDropExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture_queue.json")
	s, err := LoadTaskStore(path, nil)
	require.NoError(t, err)

	old := task.New("old", task.KindCapture, "proj", nil)
	old = old.Complete(time.Now().UTC().Add(-2*task.MaxAge), nil)
	fresh := task.New("fresh", task.KindCapture, "proj", nil)
	fresh = fresh.Complete(time.Now().UTC(), nil)
	queued := task.New("queued", task.KindCapture, "proj", nil)

	require.NoError(t, s.Enqueue(old))
	require.NoError(t, s.Enqueue(fresh))
	require.NoError(t, s.Enqueue(queued))

	dropped, err := s.DropExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	_, ok := s.Get("old")
	assert.False(t, ok)
	_, ok = s.Get("fresh")
	assert.True(t, ok)
	_, ok = s.Get("queued")
	assert.True(t, ok)
}
