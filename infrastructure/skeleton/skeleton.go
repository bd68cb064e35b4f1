// Package skeleton renders a repository's directory structure as the
// indented tree stored alongside its code documents.
package skeleton

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const treeTimeout = 10 * time.Second

// maxDepth bounds internal traversal so pathological trees stay readable.
const maxDepth = 6

// Result is a rendered tree with its entry counts.
type Result struct {
	Tree       string
	TotalFiles int
	TotalDirs  int
}

// Generator renders trees, preferring the system tree binary and falling
// back to an internal traversal that honors an exclusion predicate.
type Generator struct {
	// Exclude reports whether a directory name should be pruned. Nil keeps
	// everything except what the tree binary ignores by default.
	Exclude func(name string) bool
}

// Generate renders the tree for root.
func (g *Generator) Generate(ctx context.Context, root string) (Result, error) {
	if out, ok := g.systemTree(ctx, root); ok {
		files, dirs := countEntries(out)
		return Result{Tree: out, TotalFiles: files, TotalDirs: dirs}, nil
	}
	return g.walkTree(root)
}

func (g *Generator) systemTree(ctx context.Context, root string) (string, bool) {
	if _, err := exec.LookPath("tree"); err != nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, treeTimeout)
	defer cancel()

	// -F marks directories with a trailing slash so countEntries can tell
	// them apart from files.
	args := []string{"-L", fmt.Sprint(maxDepth), "-F", "--noreport", "-I", "node_modules|__pycache__|.git|venv|.venv|dist|build|target"}
	cmd := exec.CommandContext(ctx, "tree", append(args, ".")...)
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil || len(out) == 0 {
		return "", false
	}
	return string(out), true
}

// countEntries estimates file and directory counts from tree output lines.
func countEntries(tree string) (files, dirs int) {
	for _, line := range strings.Split(tree, "\n") {
		trimmed := strings.TrimLeft(line, " │├└─\t")
		if trimmed == "" || trimmed == "." {
			continue
		}
		if strings.HasSuffix(trimmed, "/") {
			dirs++
		} else {
			files++
		}
	}
	return files, dirs
}

// walkTree is the internal fallback renderer.
func (g *Generator) walkTree(root string) (Result, error) {
	var b strings.Builder
	b.WriteString(filepath.Base(root))
	b.WriteByte('\n')

	res := Result{}
	if err := g.renderDir(&b, root, "", 0, &res); err != nil {
		return Result{}, err
	}
	res.Tree = b.String()
	return res, nil
}

func (g *Generator) renderDir(b *strings.Builder, dir, prefix string, depth int, res *Result) error {
	if depth >= maxDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if depth == 0 {
			return fmt.Errorf("read %s: %w", dir, err)
		}
		return nil
	}

	kept := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() && g.Exclude != nil && g.Exclude(e.Name()) {
			continue
		}
		kept = append(kept, e)
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].IsDir() != kept[j].IsDir() {
			return kept[i].IsDir()
		}
		return kept[i].Name() < kept[j].Name()
	})

	for i, e := range kept {
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(kept)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}
		if e.IsDir() {
			res.TotalDirs++
			b.WriteString(prefix + connector + e.Name() + "/\n")
			if err := g.renderDir(b, filepath.Join(dir, e.Name()), childPrefix, depth+1, res); err != nil {
				return err
			}
		} else {
			res.TotalFiles++
			b.WriteString(prefix + connector + e.Name() + "\n")
		}
	}
	return nil
}
