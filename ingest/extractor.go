package ingest

import (
	"strings"
)

// Extractor converts raw content to plain text.
type Extractor interface {
	Extract(content []byte) (string, error)
}

// ExtractResult holds extracted text and optional per-page/section metadata.
type ExtractResult struct {
	Text string
	Meta []PageMeta
}

// PageMeta describes one page or section of extracted content. StartByte and
// EndByte mark the range in ExtractResult.Text it applies to, letting the
// ingestor assign page numbers and headings to chunks.
type PageMeta struct {
	Page      int
	Heading   string
	StartByte int
	EndByte   int
}

// MetadataExtractor is an optional capability for extractors that produce
// structured metadata alongside text. When an Extractor also implements
// MetadataExtractor, the ingestor prefers ExtractWithMeta.
type MetadataExtractor interface {
	ExtractWithMeta(content []byte) (ExtractResult, error)
}

// ContentType identifies the MIME type of content for extraction.
type ContentType string

const (
	TypePlainText ContentType = "text/plain"
	TypeHTML      ContentType = "text/html"
	TypeMarkdown  ContentType = "text/markdown"
	TypeDOCX      ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypePDF       ContentType = "application/pdf"
	TypeCSV       ContentType = "text/csv"
	TypeJSON      ContentType = "application/json"
)

// ContentTypeFromExtension maps a file extension (without the dot) to a
// content type. Unknown extensions are treated as plain text.
func ContentTypeFromExtension(ext string) ContentType {
	switch strings.ToLower(ext) {
	case "md", "markdown":
		return TypeMarkdown
	case "html", "htm":
		return TypeHTML
	case "docx":
		return TypeDOCX
	case "pdf":
		return TypePDF
	case "csv":
		return TypeCSV
	case "json":
		return TypeJSON
	default:
		return TypePlainText
	}
}

// PlainTextExtractor returns content as-is, canonicalized.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(content []byte) (string, error) {
	return Normalize(string(content)), nil
}

// collapseWhitespace trims every line and squeezes runs of blank lines down
// to a single blank line.
func collapseWhitespace(text string) string {
	var result strings.Builder
	emptyCount := 0

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if result.Len() > 0 {
				emptyCount++
			}
			continue
		}
		if emptyCount > 0 {
			result.WriteByte('\n')
			if emptyCount > 1 {
				result.WriteByte('\n')
			}
		} else if result.Len() > 0 {
			result.WriteByte('\n')
		}
		result.WriteString(trimmed)
		emptyCount = 0
	}

	return strings.TrimSpace(result.String())
}
