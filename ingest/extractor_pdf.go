package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var _ Extractor = (*PDFExtractor)(nil)
var _ MetadataExtractor = (*PDFExtractor)(nil)

// PDFExtractor extracts text from PDF documents page by page.
type PDFExtractor struct{}

// NewPDFExtractor creates a PDF extractor.
func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

func (e *PDFExtractor) Extract(content []byte) (string, error) {
	res, err := e.ExtractWithMeta(content)
	return res.Text, err
}

// ExtractWithMeta extracts text with per-page byte ranges. Pages that fail
// to decode are skipped; page numbers refer to the source document.
func (e *PDFExtractor) ExtractWithMeta(content []byte) (ExtractResult, error) {
	if len(content) == 0 {
		return ExtractResult{}, fmt.Errorf("empty pdf")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return ExtractResult{}, fmt.Errorf("open pdf: %w", err)
	}

	var out strings.Builder
	var metas []PageMeta
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		raw, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText := strings.TrimSpace(Normalize(raw))
		if pageText == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		start := out.Len()
		out.WriteString(pageText)
		metas = append(metas, PageMeta{Page: i, StartByte: start, EndByte: out.Len()})
	}

	return ExtractResult{Text: out.String(), Meta: metas}, nil
}
