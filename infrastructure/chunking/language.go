// Package chunking provides language-aware text chunking with overlap for
// semantic indexing, plus scope detection for code chunks.
package chunking

import "strings"

// Language identifies the source language of a file for separator and scope
// selection.
type Language string

// Known languages. Anything unrecognized falls back to LangText.
const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangRuby       Language = "ruby"
	LangJava       Language = "java"
	LangKotlin     Language = "kotlin"
	LangRust       Language = "rust"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
	LangPHP        Language = "php"
	LangSwift      Language = "swift"
	LangShell      Language = "shell"
	LangMarkdown   Language = "markdown"
	LangText       Language = "text"
)

var extLanguages = map[string]Language{
	".go":    LangGo,
	".py":    LangPython,
	".pyi":   LangPython,
	".js":    LangJavaScript,
	".jsx":   LangJavaScript,
	".mjs":   LangJavaScript,
	".cjs":   LangJavaScript,
	".ts":    LangTypeScript,
	".tsx":   LangTypeScript,
	".rb":    LangRuby,
	".rake":  LangRuby,
	".java":  LangJava,
	".kt":    LangKotlin,
	".kts":   LangKotlin,
	".rs":    LangRust,
	".c":     LangC,
	".h":     LangC,
	".cc":    LangCPP,
	".cpp":   LangCPP,
	".cxx":   LangCPP,
	".hpp":   LangCPP,
	".cs":    LangCSharp,
	".php":   LangPHP,
	".swift": LangSwift,
	".sh":    LangShell,
	".bash":  LangShell,
	".zsh":   LangShell,
	".md":    LangMarkdown,
	".mdx":   LangMarkdown,
}

// DetectLanguage maps a file path to its language, consulting the shebang
// line for extensionless scripts.
func DetectLanguage(path, content string) Language {
	lower := strings.ToLower(path)
	if idx := strings.LastIndex(lower, "."); idx >= 0 {
		if lang, ok := extLanguages[lower[idx:]]; ok {
			return lang
		}
	}
	return shebangLanguage(content)
}

func shebangLanguage(content string) Language {
	if !strings.HasPrefix(content, "#!") {
		return LangText
	}
	line := content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	switch {
	case strings.Contains(line, "python"):
		return LangPython
	case strings.Contains(line, "node"), strings.Contains(line, "deno"):
		return LangJavaScript
	case strings.Contains(line, "ruby"):
		return LangRuby
	case strings.Contains(line, "bash"), strings.Contains(line, "/sh"), strings.Contains(line, "zsh"):
		return LangShell
	default:
		return LangText
	}
}

// separators returns the split hierarchy for a language: structural
// boundaries first, then blank lines, newlines, spaces, and finally
// individual characters. Splitting on an earlier separator keeps whole
// declarations together whenever they fit.
func separators(lang Language) []string {
	fallback := []string{"\n\n", "\n", " ", ""}
	var structural []string
	switch lang {
	case LangGo:
		structural = []string{"\nfunc ", "\ntype ", "\nvar ", "\nconst "}
	case LangPython:
		structural = []string{"\nclass ", "\ndef ", "\n\tdef ", "\n    def "}
	case LangJavaScript, LangTypeScript:
		structural = []string{"\nclass ", "\nfunction ", "\nexport ", "\nconst "}
	case LangRuby:
		structural = []string{"\nclass ", "\nmodule ", "\ndef "}
	case LangJava, LangKotlin, LangCSharp:
		structural = []string{"\nclass ", "\npublic ", "\nprotected ", "\nprivate "}
	case LangRust:
		structural = []string{"\nfn ", "\npub fn ", "\nimpl ", "\nstruct ", "\nenum "}
	case LangC, LangCPP:
		structural = []string{"\nstatic ", "\nvoid ", "\nstruct ", "\nclass "}
	case LangPHP:
		structural = []string{"\nclass ", "\nfunction ", "\npublic function "}
	case LangSwift:
		structural = []string{"\nclass ", "\nstruct ", "\nfunc "}
	case LangMarkdown:
		structural = []string{"\n## ", "\n### ", "\n# "}
	}
	return append(structural, fallback...)
}
