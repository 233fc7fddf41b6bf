package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

var _ Extractor = (*DOCXExtractor)(nil)
var _ MetadataExtractor = (*DOCXExtractor)(nil)

// maxZipEntrySize caps the decompressed size of a single archive entry
// (zip bombs).
const maxZipEntrySize = 100 << 20

// DOCXExtractor extracts text from DOCX documents by streaming OOXML tokens,
// never materializing the document DOM. Paragraphs styled Heading* open
// metadata sections; tables become "Header: Value" rows.
type DOCXExtractor struct{}

// NewDOCXExtractor creates a DOCX extractor.
func NewDOCXExtractor() *DOCXExtractor { return &DOCXExtractor{} }

func (e *DOCXExtractor) Extract(content []byte) (string, error) {
	res, err := e.ExtractWithMeta(content)
	return res.Text, err
}

func (e *DOCXExtractor) ExtractWithMeta(content []byte) (ExtractResult, error) {
	if len(content) == 0 {
		return ExtractResult{}, fmt.Errorf("empty docx")
	}
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return ExtractResult{}, fmt.Errorf("open zip: %w", err)
	}
	doc, err := readZipEntry(zr, "word/document.xml")
	if err != nil {
		return ExtractResult{}, err
	}
	return parseDOCX(doc)
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxZipEntrySize+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if len(data) > maxZipEntrySize {
			return nil, fmt.Errorf("%s exceeds %d byte limit", name, maxZipEntrySize)
		}
		return data, nil
	}
	return nil, fmt.Errorf("missing %s", name)
}

// docxParser tracks streaming decoder state across OOXML tokens.
type docxParser struct {
	out   strings.Builder
	metas []PageMeta

	heading      string
	headingStart int

	inPara bool
	inRun  bool
	style  string
	runs   []string

	inTable bool
	inRow   bool
	rowIdx  int
	headers []string
	cells   []string
	cell    strings.Builder
}

func parseDOCX(doc []byte) (ExtractResult, error) {
	p := &docxParser{}
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ExtractResult{}, fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.start(t)
		case xml.EndElement:
			p.end(t)
		case xml.CharData:
			p.chars(t)
		}
	}
	p.closeHeading()
	return ExtractResult{Text: p.out.String(), Meta: p.metas}, nil
}

func (p *docxParser) start(t xml.StartElement) {
	switch t.Name.Local {
	case "p":
		p.inPara = true
		p.style = ""
		p.runs = nil
	case "pStyle":
		for _, attr := range t.Attr {
			if attr.Name.Local == "val" {
				p.style = attr.Value
			}
		}
	case "r":
		p.inRun = true
	case "tbl":
		p.inTable = true
		p.headers = nil
		p.rowIdx = 0
	case "tr":
		p.inRow = true
		p.cells = nil
	case "tc":
		p.cell.Reset()
	}
}

func (p *docxParser) end(t xml.EndElement) {
	switch t.Name.Local {
	case "r":
		p.inRun = false
	case "tc":
		p.cells = append(p.cells, strings.TrimSpace(p.cell.String()))
	case "tr":
		p.inRow = false
		if !p.inTable {
			return
		}
		if p.rowIdx == 0 {
			p.headers = append([]string(nil), p.cells...)
		} else {
			p.writeRow()
		}
		p.rowIdx++
	case "tbl":
		p.inTable = false
	case "p":
		p.endParagraph()
	}
}

func (p *docxParser) chars(data xml.CharData) {
	if p.inTable && p.inRow {
		p.cell.Write(data)
		return
	}
	if p.inPara && p.inRun {
		p.runs = append(p.runs, string(data))
	}
}

// writeRow emits one table row as "Header: Value" pairs joined by commas,
// using the first row's cells as headers.
func (p *docxParser) writeRow() {
	var fields []string
	for i, val := range p.cells {
		if val == "" {
			continue
		}
		if i < len(p.headers) && p.headers[i] != "" {
			fields = append(fields, p.headers[i]+": "+val)
		} else {
			fields = append(fields, val)
		}
	}
	if len(fields) == 0 {
		return
	}
	if p.out.Len() > 0 {
		p.out.WriteString("\n\n")
	}
	p.out.WriteString(Normalize(strings.Join(fields, ", ")))
}

func (p *docxParser) endParagraph() {
	p.inPara = false
	if p.inTable {
		return
	}
	para := strings.TrimSpace(Normalize(strings.Join(p.runs, "")))
	if para == "" {
		return
	}

	if strings.HasPrefix(p.style, "Heading") {
		if p.out.Len() > 0 {
			p.out.WriteString("\n\n")
		}
		p.closeHeading()
		p.heading = para
		p.headingStart = p.out.Len()
		p.out.WriteString(para)
		return
	}

	if p.out.Len() > 0 {
		p.out.WriteString("\n\n")
	}
	p.out.WriteString(para)
}

func (p *docxParser) closeHeading() {
	if p.heading == "" {
		return
	}
	p.metas = append(p.metas, PageMeta{
		Heading:   p.heading,
		StartByte: p.headingStart,
		EndByte:   p.out.Len(),
	})
	p.heading = ""
}
