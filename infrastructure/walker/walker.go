// Package walker traverses repository trees applying layered ignore
// patterns, size and binary filters, and include globs, and computes the
// content hashes delta sync relies on.
package walker

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// MaxFileSize is the largest file the walker will yield, in bytes.
const MaxFileSize = 1 << 20

// defaultIgnoreDirs are pruned during traversal regardless of ignore files.
var defaultIgnoreDirs = []string{
	".git", ".hg", ".svn",
	"node_modules", "bower_components",
	"__pycache__", ".pytest_cache", ".mypy_cache", ".ruff_cache",
	"venv", ".venv", "env", ".tox",
	"dist", "build", "out", "target", ".next", ".nuxt",
	"vendor", ".bundle",
	".idea", ".vscode", ".vs",
	"coverage", ".coverage", "htmlcov",
	".terraform", ".serverless",
	".cache", "tmp",
}

// binaryExtensions are skipped without opening the file.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".svg": true, ".pdf": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true,
	".7z": true, ".rar": true, ".jar": true, ".war": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".o": true, ".a": true, ".obj": true, ".class": true, ".pyc": true,
	".wasm": true, ".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mov": true, ".mkv": true,
	".db": true, ".sqlite": true, ".sqlite3": true,
	".lock": true, ".min.js": true,
}

// Options tunes a traversal. Zero value means: no extension allow-list, no
// extra ignores, no include globs, ignore files honored.
type Options struct {
	// Extensions is an allow-list (with leading dot); empty allows all
	// non-binary extensions.
	Extensions []string
	// IgnorePatterns are extra gitignore-style patterns layered over the
	// defaults and ignore files.
	IgnorePatterns []string
	// IncludeGlobs restricts results to paths matching at least one glob,
	// relative to the walk root.
	IncludeGlobs []string
	// SkipIgnoreFiles disables reading the global and per-repo ignore files.
	SkipIgnoreFiles bool
	// GlobalIgnorePath points at the shared cortexignore file; empty skips it.
	GlobalIgnorePath string
}

// Walker enumerates indexable files under repository roots.
type Walker struct {
	log *slog.Logger
}

// New creates a Walker.
func New(log *slog.Logger) *Walker {
	if log == nil {
		log = slog.Default()
	}
	return &Walker{log: log.With(slog.String("component", "walker"))}
}

// Walk returns the absolute paths of all indexable files under root, sorted
// by fs.WalkDir order. Filters are applied per entry in a fixed order:
// ignored directories are pruned, then hidden files, binary extensions,
// oversized files, the extension allow-list, and finally include globs.
func (w *Walker) Walk(root string, opts Options) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", absRoot)
	}

	ignore := w.loadPatterns(absRoot, opts)
	allowExt := map[string]bool{}
	for _, e := range opts.Extensions {
		allowExt[strings.ToLower(e)] = true
	}

	var paths []string
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if ignoredDir(d.Name()) || ignore.matchDir(rel) {
				return filepath.SkipDir
			}
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if ignore.match(rel) {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if binaryExtensions[ext] {
			return nil
		}
		fi, statErr := d.Info()
		if statErr != nil || fi.Size() > MaxFileSize {
			return nil
		}
		if len(allowExt) > 0 && !allowExt[ext] {
			return nil
		}
		if len(opts.IncludeGlobs) > 0 && !matchAnyGlob(opts.IncludeGlobs, rel) {
			return nil
		}

		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", absRoot, walkErr)
	}
	return paths, nil
}

func ignoredDir(name string) bool {
	for _, d := range defaultIgnoreDirs {
		if name == d {
			return true
		}
	}
	return false
}

// matchAnyGlob matches rel against globs, also trying the basename so simple
// patterns like "*.go" work at any depth.
func matchAnyGlob(globs []string, rel string) bool {
	base := filepath.Base(rel)
	for _, g := range globs {
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
		// Support the common **/ prefix by matching the suffix pattern
		// against every path tail.
		if strings.HasPrefix(g, "**/") {
			if ok, _ := filepath.Match(strings.TrimPrefix(g, "**/"), base); ok {
				return true
			}
		}
	}
	return false
}

// ComputeFileHash returns the md5 hex digest of the file at path.
func ComputeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChangedFiles returns the subset of paths whose current content hash
// differs from priorHashes. Unreadable files are silently skipped. The
// returned map holds the fresh hashes for every readable path.
func ChangedFiles(paths []string, priorHashes map[string]string) ([]string, map[string]string) {
	var changed []string
	current := make(map[string]string, len(paths))
	for _, p := range paths {
		h, err := ComputeFileHash(p)
		if err != nil {
			continue
		}
		current[p] = h
		if priorHashes[p] != h {
			changed = append(changed, p)
		}
	}
	return changed, current
}
