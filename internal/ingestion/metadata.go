package ingestion

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Metadata keys attached to every indexed chunk besides text and source.
const (
	MetaKind      = "kind"
	MetaHost      = "host"
	MetaExt       = "ext"
	MetaDocType   = "doc_type"
	MetaMediaType = "media_type"
	MetaOffset    = "offset"
	MetaChunk     = "chunk_index"
	MetaTitle     = "title"
)

// InferredMetadata holds best-effort attributes derived from a source name.
type InferredMetadata struct {
	// Kind is "web" for http(s) URLs and "file" otherwise.
	Kind string
	// Host is the URL host, lowercased. Empty for files.
	Host string
	// Ext is the lowercased file extension without the dot.
	Ext string
	// DocType classifies the source (reference, tutorial, api, changelog, blog,
	// repository, encyclopedia, document).
	DocType string
}

// hostDocTypes maps well-known hosts to a document type.
var hostDocTypes = map[string]string{
	"github.com":        "repository",
	"gitlab.com":        "repository",
	"en.wikipedia.org":  "encyclopedia",
	"pkg.go.dev":        "reference",
	"docs.python.org":   "reference",
	"stackoverflow.com": "qa",
	"medium.com":        "blog",
}

// pathDocTypes maps URL or file path segments to a document type. The first
// matching segment wins.
var pathDocTypes = map[string]string{
	"docs":            "reference",
	"doc":             "reference",
	"reference":       "reference",
	"api":             "api",
	"tutorial":        "tutorial",
	"tutorials":       "tutorial",
	"guide":           "tutorial",
	"guides":          "tutorial",
	"getting-started": "tutorial",
	"changelog":       "changelog",
	"releases":        "changelog",
	"blog":            "blog",
	"posts":           "blog",
	"wiki":            "encyclopedia",
}

// InferMetadata inspects a source name (URL or file path) and returns
// best-effort metadata. Unknown sources get DocType "document".
func InferMetadata(source string) InferredMetadata {
	m := InferredMetadata{Kind: "file", DocType: "document"}

	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		m.Kind = "web"
		m.Host = strings.ToLower(u.Hostname())
		m.Ext = extOf(path.Base(u.Path))
		if dt, ok := hostDocTypes[strings.TrimPrefix(m.Host, "www.")]; ok {
			m.DocType = dt
			return m
		}
		switch {
		case strings.HasPrefix(m.Host, "docs.") || strings.HasSuffix(m.Host, ".readthedocs.io"):
			m.DocType = "reference"
			return m
		case strings.HasPrefix(m.Host, "blog."):
			m.DocType = "blog"
			return m
		}
		if dt := docTypeFromSegments(u.Path); dt != "" {
			m.DocType = dt
		}
		return m
	}

	m.Ext = extOf(filepath.Base(source))
	if dt := docTypeFromSegments(filepath.ToSlash(filepath.Dir(source))); dt != "" {
		m.DocType = dt
	}
	return m
}

// Fields renders m as chunk metadata, omitting empty values.
func (m InferredMetadata) Fields() map[string]string {
	out := map[string]string{MetaKind: m.Kind, MetaDocType: m.DocType}
	if m.Host != "" {
		out[MetaHost] = m.Host
	}
	if m.Ext != "" {
		out[MetaExt] = m.Ext
	}
	return out
}

func docTypeFromSegments(p string) string {
	for _, seg := range trimSegments(strings.ToLower(p)) {
		if dt, ok := pathDocTypes[seg]; ok {
			return dt
		}
	}
	return ""
}

func extOf(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// trimSegments splits a path into non-empty segments.
func trimSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}
