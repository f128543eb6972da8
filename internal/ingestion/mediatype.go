// Package ingestion implements the document write path: text extraction by
// media type, web page fetching, and the chunk → embed → upsert pipeline
// that feeds the vector index.
package ingestion

import (
	"mime"
	"path/filepath"
	"strings"
)

// Media types the extractor dispatches on. Anything else is read as text.
const (
	MediaTypePDF      = "application/pdf"
	MediaTypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaTypeHTML     = "text/html"
	MediaTypeMarkdown = "text/markdown"
	MediaTypeText     = "text/plain"
)

// extMediaTypes maps lowercase file extensions to media types.
var extMediaTypes = map[string]string{
	".pdf":      MediaTypePDF,
	".docx":     MediaTypeDOCX,
	".html":     MediaTypeHTML,
	".htm":      MediaTypeHTML,
	".md":       MediaTypeMarkdown,
	".markdown": MediaTypeMarkdown,
	".txt":      MediaTypeText,
	".text":     MediaTypeText,
	".csv":      "text/csv",
	".json":     "application/json",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
}

// MediaTypeFromName infers a media type from a file name's extension,
// falling back to text/plain.
func MediaTypeFromName(name string) string {
	if mt, ok := extMediaTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return MediaTypeText
}

// NormalizeMediaType strips parameters ("; charset=utf-8") and lowercases.
// An unparseable or empty value becomes text/plain.
func NormalizeMediaType(mt string) string {
	if mt == "" {
		return MediaTypeText
	}
	parsed, _, err := mime.ParseMediaType(mt)
	if err != nil {
		return MediaTypeText
	}
	return parsed
}
