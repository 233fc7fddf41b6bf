package ingest

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// WebExtractor extracts the readable article from an HTML page, dropping
// navigation, ads, and other boilerplate. When article extraction finds
// nothing it falls back to the text content of the whole document.
type WebExtractor struct {
	pageURL *url.URL
}

// NewWebExtractor creates an extractor for HTML retrieved from rawURL. The
// URL resolves relative references during article extraction; pass "" when
// unknown.
func NewWebExtractor(rawURL string) WebExtractor {
	u, err := url.Parse(rawURL)
	if err != nil || u == nil {
		u = &url.URL{}
	}
	return WebExtractor{pageURL: u}
}

func (e WebExtractor) Extract(content []byte) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(content), e.pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return collapseWhitespace(Normalize(article.TextContent)), nil
	}
	return htmlText(content)
}

// htmlText walks the parsed DOM collecting text nodes, skipping script,
// style, and other non-content subtrees.
func htmlText(content []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head", "noscript", "template":
				return
			}
			if blockElement(n.Data) {
				b.WriteByte('\n')
			}
		case html.TextNode:
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return collapseWhitespace(Normalize(b.String())), nil
}

func blockElement(tag string) bool {
	switch tag {
	case "p", "div", "br", "hr", "li", "ul", "ol", "table", "tr",
		"h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre",
		"section", "article", "header", "footer", "nav", "main":
		return true
	}
	return false
}
