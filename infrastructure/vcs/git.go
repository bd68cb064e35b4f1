// Package vcs wraps the git command line for repository introspection. All
// operations are best-effort: a missing binary, non-repository path, or
// timeout yields a conservative default rather than an error the caller has
// to special-case.
package vcs

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Command timeouts. Lookups are cheap; diffs over large histories are not.
const (
	lookupTimeout = 5 * time.Second
	diffTimeout   = 30 * time.Second
)

// Rename records one rename detected between two commits.
type Rename struct {
	Old string
	New string
}

// Changes is the file-level delta between a prior commit and HEAD.
type Changes struct {
	Modified []string
	Deleted  []string
	Renamed  []Rename
}

// Git shells out to the git binary rooted at a working directory.
type Git struct {
	log *slog.Logger
}

// New creates a Git adapter.
func New(log *slog.Logger) *Git {
	if log == nil {
		log = slog.Default()
	}
	return &Git{log: log.With(slog.String("component", "vcs"))}
}

func (g *Git) run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		g.log.Debug("git command failed",
			slog.String("args", strings.Join(args, " ")),
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

// IsRepo reports whether path is inside a git work tree.
func (g *Git) IsRepo(ctx context.Context, path string) bool {
	out, ok := g.run(ctx, path, lookupTimeout, "rev-parse", "--is-inside-work-tree")
	return ok && out == "true"
}

// HeadCommit returns the full SHA of HEAD, or "" when unavailable.
func (g *Git) HeadCommit(ctx context.Context, path string) string {
	out, _ := g.run(ctx, path, lookupTimeout, "rev-parse", "HEAD")
	return out
}

// Branch returns the current branch name, or "" for detached HEAD and
// non-repositories.
func (g *Git) Branch(ctx context.Context, path string) string {
	out, ok := g.run(ctx, path, lookupTimeout, "rev-parse", "--abbrev-ref", "HEAD")
	if !ok || out == "HEAD" {
		return ""
	}
	return out
}

// Root returns the top-level directory of the work tree containing path.
func (g *Git) Root(ctx context.Context, path string) string {
	out, _ := g.run(ctx, path, lookupTimeout, "rev-parse", "--show-toplevel")
	return out
}

// ChangedSince diffs fromCommit against HEAD with rename detection. A rename
// appears only in Renamed; callers treat the old path as deleted and the new
// path as needing indexing.
func (g *Git) ChangedSince(ctx context.Context, path, fromCommit string) (Changes, bool) {
	out, ok := g.run(ctx, path, diffTimeout,
		"diff", "--name-status", "-M", fromCommit, "HEAD")
	if !ok {
		return Changes{}, false
	}
	return parseNameStatus(out), true
}

// parseNameStatus reads `git diff --name-status -M` output. Lines look like
// "M\tpath", "D\tpath", or "R100\told\tnew".
func parseNameStatus(out string) Changes {
	var ch Changes
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		status := fields[0]
		switch {
		case strings.HasPrefix(status, "R") && len(fields) >= 3:
			ch.Renamed = append(ch.Renamed, Rename{Old: fields[1], New: fields[2]})
		case status == "D" && len(fields) >= 2:
			ch.Deleted = append(ch.Deleted, fields[1])
		case len(fields) >= 2:
			// Added, modified, copied, type-changed: all need re-indexing.
			ch.Modified = append(ch.Modified, fields[len(fields)-1])
		}
	}
	return ch
}

// Untracked lists files git does not know about, honoring .gitignore.
func (g *Git) Untracked(ctx context.Context, path string) []string {
	out, ok := g.run(ctx, path, lookupTimeout,
		"ls-files", "--others", "--exclude-standard")
	if !ok || out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// CommitsSince counts commits made after an ISO timestamp. Returns 0 when
// the repository or timestamp cannot be read.
func (g *Git) CommitsSince(ctx context.Context, path, isoTimestamp string) int {
	out, ok := g.run(ctx, path, lookupTimeout,
		"rev-list", "--count", "--since="+isoTimestamp, "HEAD")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0
	}
	return n
}

// MergeCommitsSince counts merge commits made after an ISO timestamp.
func (g *Git) MergeCommitsSince(ctx context.Context, path, isoTimestamp string) int {
	out, ok := g.run(ctx, path, lookupTimeout,
		"rev-list", "--count", "--merges", "--since="+isoTimestamp, "HEAD")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0
	}
	return n
}

// TrackedFileCount returns the number of files under version control.
func (g *Git) TrackedFileCount(ctx context.Context, path string) int {
	out, ok := g.run(ctx, path, lookupTimeout, "ls-files")
	if !ok || out == "" {
		return 0
	}
	return len(strings.Split(out, "\n"))
}
