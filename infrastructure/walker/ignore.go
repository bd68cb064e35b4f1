package walker

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-repository ignore file honored during walks.
const IgnoreFileName = ".cortexignore"

// DefaultIgnoreTemplate seeds the global ignore file on first run.
const DefaultIgnoreTemplate = `# Patterns here are ignored by every ingest, in addition to each
# repository's own .cortexignore. One gitignore-style pattern per line.
*.log
*.tmp
*.bak
.env
.env.*
secrets.*
`

// EnsureGlobalIgnoreFile writes the template to path if no file exists yet.
func EnsureGlobalIgnoreFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat ignore file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ignore directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultIgnoreTemplate), 0o644); err != nil {
		return fmt.Errorf("write ignore template: %w", err)
	}
	return nil
}

// ignoreSet is the merged pattern list for one walk: defaults, the global
// cortexignore, the repo's .cortexignore, and any caller-supplied patterns.
type ignoreSet struct {
	patterns []string
}

func (w *Walker) loadPatterns(root string, opts Options) ignoreSet {
	var set ignoreSet
	set.patterns = append(set.patterns, opts.IgnorePatterns...)
	if opts.SkipIgnoreFiles {
		return set
	}
	if opts.GlobalIgnorePath != "" {
		set.patterns = append(set.patterns, readPatternFile(opts.GlobalIgnorePath)...)
	}
	set.patterns = append(set.patterns, readPatternFile(filepath.Join(root, IgnoreFileName))...)
	return set
}

func readPatternFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// match reports whether a file's root-relative path matches any pattern.
// Patterns match gitignore-style: against the full relative path, against
// the basename, and with a trailing "/**" treated as a directory prefix.
func (s ignoreSet) match(rel string) bool {
	base := filepath.Base(rel)
	for _, p := range s.patterns {
		if matchPattern(p, rel, base) {
			return true
		}
	}
	return false
}

// matchDir reports whether a directory's relative path matches a pattern so
// the whole subtree can be pruned.
func (s ignoreSet) matchDir(rel string) bool {
	base := filepath.Base(rel)
	for _, p := range s.patterns {
		p = strings.TrimSuffix(p, "/")
		if matchPattern(p, rel, base) {
			return true
		}
	}
	return false
}

func matchPattern(p, rel, base string) bool {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return false
	}
	if ok, _ := filepath.Match(p, rel); ok {
		return true
	}
	if !strings.Contains(p, "/") {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	// Directory prefix: "docs" or "docs/**" ignores everything under docs/.
	prefix := strings.TrimSuffix(p, "/**")
	if prefix != p || !strings.ContainsAny(prefix, "*?[") {
		if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
			return true
		}
	}
	return false
}
