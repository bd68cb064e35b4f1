package chunking

import (
	"regexp"
	"strings"
)

// scopePatterns holds the declaration regexes used to name the code scope a
// chunk falls in. Each pattern captures the declared name in group 1.
type scopePatterns struct {
	function []*regexp.Regexp
	class    []*regexp.Regexp
}

var langScopes = map[Language]scopePatterns{
	LangGo: {
		function: compileAll(
			`^func\s+(?:\([^)]*\)\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*\(`,
		),
		class: compileAll(
			`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:struct|interface)\b`,
		),
	},
	LangPython: {
		function: compileAll(
			`^\s*(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`,
		),
		class: compileAll(
			`^class\s+([A-Za-z_][A-Za-z0-9_]*)\b`,
		),
	},
	LangJavaScript: jsScopes,
	LangTypeScript: jsScopes,
	LangRuby: {
		function: compileAll(
			`^\s*def\s+(?:self\.)?([A-Za-z_][A-Za-z0-9_?!]*)`,
		),
		class: compileAll(
			`^\s*(?:class|module)\s+([A-Za-z_][A-Za-z0-9_:]*)`,
		),
	},
	LangJava: braceLangScopes,
	LangKotlin: {
		function: compileAll(
			`^\s*(?:[a-z]+\s+)*fun\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`,
		),
		class: compileAll(
			`^\s*(?:[a-z]+\s+)*(?:class|object|interface)\s+([A-Za-z_][A-Za-z0-9_]*)`,
		),
	},
	LangCSharp: braceLangScopes,
	LangRust: {
		function: compileAll(
			`^\s*(?:pub\s+)?(?:async\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)`,
		),
		class: compileAll(
			`^\s*(?:pub\s+)?(?:struct|enum|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`,
			`^\s*impl(?:<[^>]*>)?\s+([A-Za-z_][A-Za-z0-9_]*)`,
		),
	},
	LangPHP: {
		function: compileAll(
			`^\s*(?:public\s+|protected\s+|private\s+|static\s+)*function\s+([A-Za-z_][A-Za-z0-9_]*)`,
		),
		class: compileAll(
			`^\s*(?:abstract\s+|final\s+)?(?:class|interface|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`,
		),
	},
	LangSwift: {
		function: compileAll(
			`^\s*(?:[a-z]+\s+)*func\s+([A-Za-z_][A-Za-z0-9_]*)`,
		),
		class: compileAll(
			`^\s*(?:[a-z]+\s+)*(?:class|struct|enum|extension)\s+([A-Za-z_][A-Za-z0-9_]*)`,
		),
	},
}

var jsScopes = scopePatterns{
	function: compileAll(
		`^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][A-Za-z0-9_$]*)`,
		`^\s*(?:export\s+)?const\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s*)?(?:\([^)]*\)|[A-Za-z_$][A-Za-z0-9_$]*)\s*=>`,
		`^\s+(?:async\s+)?([A-Za-z_$][A-Za-z0-9_$]*)\s*\([^)]*\)\s*\{`,
	),
	class: compileAll(
		`^\s*(?:export\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`,
	),
}

var braceLangScopes = scopePatterns{
	function: compileAll(
		`^\s+(?:public\s+|protected\s+|private\s+|static\s+|final\s+|async\s+|override\s+)*[\w<>\[\],\s]+\s([A-Za-z_][A-Za-z0-9_]*)\s*\([^)]*\)\s*\{`,
	),
	class: compileAll(
		`^\s*(?:public\s+|abstract\s+|final\s+|sealed\s+|static\s+)*(?:class|interface|enum|record)\s+([A-Za-z_][A-Za-z0-9_]*)`,
	),
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Scope names the code scope a chunk belongs to: the innermost enclosing
// function, prefixed by the enclosing class when one exists, joined with a
// dot ("Parser.parse"). Returns "" when nothing matches (plain text,
// top-of-file imports).
func Scope(lang Language, content string, startLine, endLine int) string {
	class, function := ScopeParts(lang, content, startLine, endLine)
	switch {
	case class != "" && function != "":
		return class + "." + function
	case function != "":
		return function
	default:
		return class
	}
}

// ScopeParts returns the enclosing class and function names separately. It
// scans file lines up to the chunk's end, keeping the most recent class and
// function declarations at or above the chunk.
func ScopeParts(lang Language, content string, startLine, endLine int) (string, string) {
	pats, ok := langScopes[lang]
	if !ok {
		return "", ""
	}

	lines := strings.Split(content, "\n")
	if endLine > len(lines) {
		endLine = len(lines)
	}
	if startLine < 1 {
		startLine = 1
	}

	var class, function string
	functionLine := 0
	for i := 0; i < endLine; i++ {
		line := lines[i]
		if name := firstMatch(pats.class, line); name != "" {
			class = name
			// A new class invalidates any function from a previous one.
			if functionLine < i+1 {
				function = ""
			}
		}
		if name := firstMatch(pats.function, line); name != "" {
			function = name
			functionLine = i + 1
		}
	}

	// A function declared well before the chunk in a brace language may have
	// closed already; only trust it if it is the chunk's own or directly
	// preceding declaration region.
	if function != "" && functionLine < startLine {
		if closed := scopeClosedBefore(lang, lines, functionLine, startLine); closed {
			function = ""
		}
	}

	return class, function
}

// scopeClosedBefore reports whether the block opened at declLine has closed
// before fromLine, using brace balance for brace languages and dedent for
// Python-style indentation.
func scopeClosedBefore(lang Language, lines []string, declLine, fromLine int) bool {
	if fromLine > len(lines) {
		fromLine = len(lines)
	}
	switch lang {
	case LangPython, LangRuby:
		decl := lines[declLine-1]
		declIndent := len(decl) - len(strings.TrimLeft(decl, " \t"))
		// Include the chunk's first line: a dedent there means the
		// function body ended before the chunk.
		for i := declLine; i < fromLine && i < len(lines); i++ {
			line := lines[i]
			trimmed := strings.TrimLeft(line, " \t")
			if trimmed == "" {
				continue
			}
			if len(line)-len(trimmed) <= declIndent {
				return true
			}
		}
		return false
	default:
		depth := 0
		opened := false
		for i := declLine - 1; i < fromLine-1; i++ {
			for _, ch := range lines[i] {
				switch ch {
				case '{':
					depth++
					opened = true
				case '}':
					depth--
				}
			}
			if opened && depth <= 0 {
				return true
			}
		}
		return false
	}
}

func firstMatch(pats []*regexp.Regexp, line string) string {
	for _, re := range pats {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}
