package mcp

import (
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/strata/internal/source"
	"github.com/Aman-CERP/strata/internal/store"
)

// mimeTypes maps language tags to MIME types for code chunks.
var mimeTypes = map[string]string{
	"go":         "text/x-go",
	"typescript": "text/typescript",
	"javascript": "text/javascript",
	"python":     "text/x-python",
	"rust":       "text/x-rust",
	"java":       "text/x-java",
	"c":          "text/x-c",
	"cpp":        "text/x-c++",
	"ruby":       "text/x-ruby",
	"php":        "text/x-php",
	"shell":      "text/x-sh",
	"sql":        "text/x-sql",
	"html":       "text/html",
	"css":        "text/css",
	"json":       "application/json",
	"yaml":       "text/x-yaml",
	"toml":       "text/x-toml",
	"xml":        "text/xml",
}

// MimeTypeForChunk returns the MIME type of a chunk's text. Notes are
// markdown; archive and stream chunks are extracted plain text.
func MimeTypeForChunk(c *store.Chunk) string {
	switch c.SourceType {
	case store.SourceNote:
		return "text/markdown"
	case store.SourceCode:
		if mime, ok := mimeTypes[source.DetectLanguage(c.FilePath)]; ok {
			return mime
		}
		if ext := strings.ToLower(filepath.Ext(c.FilePath)); ext == ".md" || ext == ".mdx" {
			return "text/markdown"
		}
	}
	return "text/plain"
}

// fenceLanguage is the markdown code-fence tag for a path.
func fenceLanguage(path string) string {
	if lang := source.DetectLanguage(path); lang != "" {
		return lang
	}
	return "text"
}
