package ingestion

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docchat-go/internal/errs"
)

// buildDOCX returns a minimal .docx archive with the given document.xml body.
func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtract_PlainText(t *testing.T) {
	t.Parallel()
	e := NewExtractor()

	got, err := e.Extract(context.Background(), []byte("\xef\xbb\xbfhello\nworld"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", got)
}

func TestExtract_UnknownTypeFallsBackToText(t *testing.T) {
	t.Parallel()
	got, err := NewExtractor().Extract(context.Background(), []byte("a,b\n1,2"), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2", got)
}

func TestExtract_InvalidUTF8(t *testing.T) {
	t.Parallel()
	_, err := NewExtractor().Extract(context.Background(), []byte{0xff, 0xfe, 0x00, 0x41}, MediaTypeText)
	assert.ErrorIs(t, err, errs.ErrExtraction)
}

func TestExtract_DOCX(t *testing.T) {
	t.Parallel()
	data := buildDOCX(t,
		`<w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t xml:space="preserve">Second </w:t></w:r><w:r><w:t>paragraph</w:t><w:tab/><w:t>tabbed.</w:t></w:r></w:p>`)

	got, err := NewExtractor().Extract(context.Background(), data, MediaTypeDOCX)
	require.NoError(t, err)
	assert.Equal(t, "First paragraph.\nSecond paragraph\ttabbed.", got)
}

func TestExtract_DOCXWithoutDocumentXML(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = NewExtractor().Extract(context.Background(), buf.Bytes(), MediaTypeDOCX)
	assert.ErrorIs(t, err, errs.ErrExtraction)
}

func TestExtract_CorruptPDF(t *testing.T) {
	t.Parallel()
	_, err := NewExtractor().Extract(context.Background(), []byte("%PDF-1.4\ngarbage"), MediaTypePDF)
	assert.ErrorIs(t, err, errs.ErrExtraction)
}

func TestExtract_HTML(t *testing.T) {
	t.Parallel()
	got, err := NewExtractor().Extract(context.Background(),
		[]byte(`<html><body><h1>Title</h1><p>Some <strong>bold</strong> text.</p></body></html>`), MediaTypeHTML)
	require.NoError(t, err)
	assert.Contains(t, got, "# Title")
	assert.Contains(t, got, "Some **bold** text.")
}

func TestMediaTypeFromName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"report.PDF":     MediaTypePDF,
		"memo.docx":      MediaTypeDOCX,
		"page.htm":       MediaTypeHTML,
		"README.md":      MediaTypeMarkdown,
		"notes":          MediaTypeText,
		"data.unknownxx": MediaTypeText,
	}
	for name, want := range cases {
		assert.Equal(t, want, MediaTypeFromName(name), name)
	}
}
