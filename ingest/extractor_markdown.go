package ingest

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

// MarkdownExtractor resolves inline markdown (emphasis, links, code spans)
// to plain text while keeping heading lines and code fences, so downstream
// chunking still sees the document's structural boundaries. Headings open
// metadata sections.
type MarkdownExtractor struct{}

var _ MetadataExtractor = MarkdownExtractor{}

func (e MarkdownExtractor) Extract(content []byte) (string, error) {
	res, err := e.ExtractWithMeta(content)
	return res.Text, err
}

func (MarkdownExtractor) ExtractWithMeta(content []byte) (ExtractResult, error) {
	src := []byte(Normalize(string(content)))
	doc := goldmark.New().Parser().Parse(gtext.NewReader(src))

	var out strings.Builder
	var metas []PageMeta
	var open *PageMeta

	closeSection := func(end int) {
		if open != nil {
			open.EndByte = end
			metas = append(metas, *open)
			open = nil
		}
	}
	sep := func(s string) {
		if out.Len() > 0 {
			out.WriteString(s)
		}
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Heading:
			sep("\n\n")
			start := out.Len()
			closeSection(start)
			heading := flattenInline(v, src)
			out.WriteString(strings.Repeat("#", v.Level))
			out.WriteByte(' ')
			out.WriteString(heading)
			open = &PageMeta{Heading: heading, StartByte: start}
			return ast.WalkSkipChildren, nil

		case *ast.FencedCodeBlock:
			sep("\n\n")
			out.WriteString("```")
			if v.Info != nil {
				out.Write(v.Info.Segment.Value(src))
			}
			out.WriteByte('\n')
			writeLines(&out, v, src)
			out.WriteString("\n```")
			return ast.WalkSkipChildren, nil

		case *ast.CodeBlock:
			sep("\n\n")
			writeLines(&out, v, src)
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph:
			if txt := flattenInline(v, src); txt != "" {
				sep("\n\n")
				if inListItem(v) {
					out.WriteString("- ")
				}
				out.WriteString(txt)
			}
			return ast.WalkSkipChildren, nil

		case *ast.TextBlock:
			if txt := flattenInline(v, src); txt != "" {
				sep("\n")
				if inListItem(v) {
					out.WriteString("- ")
				}
				out.WriteString(txt)
			}
			return ast.WalkSkipChildren, nil

		case *ast.ThematicBreak:
			sep("\n\n")
			out.WriteString("---")
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return ExtractResult{}, err
	}
	closeSection(out.Len())

	return ExtractResult{Text: out.String(), Meta: metas}, nil
}

// flattenInline collects the visible text under n, resolving soft and hard
// line breaks to spaces.
func flattenInline(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.URL(src))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// writeLines emits a code block's raw lines without the trailing newline.
func writeLines(out *strings.Builder, n ast.Node, src []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		val := seg.Value(src)
		if i == lines.Len()-1 {
			val = bytes.TrimRight(val, "\n")
		}
		out.Write(val)
	}
}

func inListItem(n ast.Node) bool {
	_, ok := n.Parent().(*ast.ListItem)
	return ok
}
