package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ledongthuc/pdf"

	"github.com/54b3r/docchat-go/internal/errs"
)

// Extractor turns document bytes into plain text based on a declared media
// type. It fails with errs.ErrExtraction rather than returning partial text.
type Extractor struct {
	html *md.Converter
}

// NewExtractor returns an Extractor with the default converters.
func NewExtractor() *Extractor {
	return &Extractor{html: md.NewConverter("", true, nil)}
}

// Extract returns the full textual content of data.
//
//	application/pdf   page text via ledongthuc/pdf
//	...wordprocessingml.document   paragraph text from word/document.xml
//	text/html         converted to markdown
//	anything else     must be valid UTF-8 text
func (e *Extractor) Extract(ctx context.Context, data []byte, mediaType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	mt := NormalizeMediaType(mediaType)

	var (
		text string
		err  error
	)
	switch mt {
	case MediaTypePDF:
		text, err = extractPDF(data)
	case MediaTypeDOCX:
		text, err = extractDOCX(data)
	case MediaTypeHTML, "application/xhtml+xml":
		text, err = e.extractHTML(data)
	default:
		text, err = extractText(data)
	}
	if err != nil {
		return "", errs.Wrap(errs.ErrExtraction, "extract "+mt, err)
	}
	return text, nil
}

// extractPDF concatenates the plain text of every page. The pdf reader
// panics on some malformed inputs; that is reported as an extraction error.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	if strings.TrimSpace(sb.String()) == "" && r.NumPage() > 0 {
		return "", fmt.Errorf("pdf has %d pages but no extractable text", r.NumPage())
	}
	return sb.String(), nil
}

func (e *Extractor) extractHTML(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("html is not valid UTF-8")
	}
	out, err := e.html.ConvertString(string(data))
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return out, nil
}

// extractText accepts UTF-8 input as-is, dropping only a leading byte order mark.
func extractText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("content is not valid UTF-8 text")
	}
	return string(data), nil
}
