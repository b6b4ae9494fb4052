// Package document extracts plain text from uploaded background
// documents (job descriptions, resumes) so they can enter the context
// budget as text.
package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	logx "github.com/interviewcoach/server/pkg/logger"
)

// Extractor turns an uploaded document into plain text.
type Extractor interface {
	ExtractText(data []byte) (string, error)
	ExtractTextFromFile(path string) (string, error)
}

// PDFExtractor extracts text from PDF documents page by page, joining
// pages with blank lines.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

var _ Extractor = (*PDFExtractor)(nil)

// ExtractText parses the PDF in data and returns its text content.
func (e *PDFExtractor) ExtractText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf parse: %w", err)
	}
	return e.pagesText(reader)
}

// ExtractTextFromFile parses the PDF at path and returns its text
// content.
func (e *PDFExtractor) ExtractTextFromFile(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("pdf open %s: %w", path, err)
	}
	defer f.Close()
	return e.pagesText(reader)
}

func (e *PDFExtractor) pagesText(reader *pdf.Reader) (string, error) {
	var parts []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not lose the document.
			logx.Warn().Err(err).Int("page", i).Msg("PDF page extraction failed")
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("pdf parse: no extractable text")
	}
	return strings.Join(parts, "\n\n"), nil
}
