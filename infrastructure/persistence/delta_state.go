package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultRepositoryKey is where pre-repository state ends up when an old
// flat state file is migrated.
const DefaultRepositoryKey = "default"

// RepoState is the per-repository ingestion checkpoint used for delta sync.
type RepoState struct {
	Repository    string            `json:"repository,omitempty"`
	Branch        string            `json:"branch,omitempty"`
	IndexedCommit string            `json:"indexed_commit,omitempty"`
	IndexedAt     string            `json:"indexed_at,omitempty"`
	FileHashes    map[string]string `json:"file_hashes"`
}

type stateFile struct {
	Repositories map[string]RepoState `json:"repositories"`
}

// DeltaState persists per-repository file hashes between ingest runs so the
// next run can skip unchanged files. All writes go through an atomic
// temp-file rename so a crash never leaves a truncated state file.
type DeltaState struct {
	path string
	log  *slog.Logger

	mu       sync.Mutex
	state    stateFile
	migrated bool
}

// LoadDeltaState reads the state file at path, migrating the legacy flat
// {path: hash} layout under the "default" repository key. A missing file
// yields empty state.
func LoadDeltaState(path string, log *slog.Logger) (*DeltaState, error) {
	if log == nil {
		log = slog.Default()
	}
	ds := &DeltaState{
		path:  path,
		log:   log.With(slog.String("component", "delta_state")),
		state: stateFile{Repositories: map[string]RepoState{}},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ds, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(raw) == 0 {
		return ds, nil
	}

	var sf stateFile
	if err := json.Unmarshal(raw, &sf); err == nil && sf.Repositories != nil {
		ds.state = sf
		return ds, nil
	}

	// Legacy layout: a bare map of file path to content hash.
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	ds.state.Repositories[DefaultRepositoryKey] = RepoState{FileHashes: flat}
	ds.migrated = true
	ds.log.Info("migrated legacy ingest state", slog.Int("files", len(flat)))
	if err := ds.flushLocked(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Migrated reports whether this load converted a legacy flat state file.
func (d *DeltaState) Migrated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.migrated
}

// Repo returns the checkpoint for a repository. The second return reports
// whether any state existed.
func (d *DeltaState) Repo(repository string) (RepoState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs, ok := d.state.Repositories[repository]
	if rs.FileHashes == nil {
		rs.FileHashes = map[string]string{}
	}
	return cloneRepoState(rs), ok
}

// SetRepo replaces a repository checkpoint and writes the file.
func (d *DeltaState) SetRepo(repository string, rs RepoState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Repositories[repository] = cloneRepoState(rs)
	return d.flushLocked()
}

// DeleteRepo drops a repository checkpoint entirely.
func (d *DeltaState) DeleteRepo(repository string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.state.Repositories[repository]; !ok {
		return nil
	}
	delete(d.state.Repositories, repository)
	return d.flushLocked()
}

// Repositories lists every repository with recorded state.
func (d *DeltaState) Repositories() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.state.Repositories))
	for name := range d.state.Repositories {
		names = append(names, name)
	}
	return names
}

func (d *DeltaState) flushLocked() error {
	return writeJSONAtomic(d.path, d.state)
}

func cloneRepoState(rs RepoState) RepoState {
	cp := rs
	cp.FileHashes = make(map[string]string, len(rs.FileHashes))
	for k, v := range rs.FileHashes {
		cp.FileHashes[k] = v
	}
	return cp
}

// writeJSONAtomic marshals v and replaces path via a temp file in the same
// directory, so readers never observe a partial write.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
