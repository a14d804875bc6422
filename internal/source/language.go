package source

import (
	"path"
	"strings"
)

// languages maps file names and extensions to a language tag.
var languages = map[string]string{
	".go":      "go",
	".js":      "javascript",
	".jsx":     "javascript",
	".mjs":     "javascript",
	".ts":      "typescript",
	".tsx":     "typescript",
	".py":      "python",
	".pyi":     "python",
	".rb":      "ruby",
	".rs":      "rust",
	".java":    "java",
	".kt":      "kotlin",
	".kts":     "kotlin",
	".c":       "c",
	".h":       "c",
	".cpp":     "cpp",
	".cc":      "cpp",
	".cxx":     "cpp",
	".hpp":     "cpp",
	".cs":      "csharp",
	".swift":   "swift",
	".php":     "php",
	".scala":   "scala",
	".ex":      "elixir",
	".exs":     "elixir",
	".erl":     "erlang",
	".hs":      "haskell",
	".lua":     "lua",
	".sql":     "sql",
	".sh":      "shell",
	".bash":    "shell",
	".zsh":     "shell",
	".html":    "html",
	".css":     "css",
	".scss":    "scss",
	".vue":     "vue",
	".svelte":  "svelte",
	".proto":   "protobuf",
	".graphql": "graphql",

	".json":       "json",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".xml":        "xml",
	".ini":        "ini",
	".conf":       "config",
	".properties": "properties",
	".tf":         "terraform",
	".hcl":        "hcl",

	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
	"Jenkinsfile": "groovy",
}

// DetectLanguage returns the language tag for a path, or "".
func DetectLanguage(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	if lang, ok := languages[base]; ok {
		return lang
	}
	return languages[path.Ext(base)]
}
