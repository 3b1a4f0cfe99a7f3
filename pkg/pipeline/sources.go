package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DefaultMaxSourceBytes bounds how much of a source page is read.
const DefaultMaxSourceBytes = 512 * 1024

// DefaultMaxSourceChars bounds the extracted text handed to a prompt.
const DefaultMaxSourceChars = 8000

// Page is the readable text of a fetched source.
type Page struct {
	URL         string
	Title       string
	Description string
	Text        string
	Truncated   bool
}

// Fetcher downloads task source URLs and reduces them to text.
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
	MaxChars int
}

// NewFetcher returns a Fetcher with a 30 second request timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{
		Client:   &http.Client{Timeout: 30 * time.Second},
		MaxBytes: DefaultMaxSourceBytes,
		MaxChars: DefaultMaxSourceChars,
	}
}

// Fetch downloads url and extracts its text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,text/plain;q=0.9")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}

	maxChars := f.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxSourceChars
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		text, truncated := truncate(strings.TrimSpace(string(body)), maxChars)
		return &Page{URL: url, Text: text, Truncated: truncated}, nil
	}

	page, err := ExtractText(string(body), maxChars)
	if err != nil {
		return nil, err
	}
	page.URL = url
	return page, nil
}

// ExtractText parses an HTML document and returns its visible text with one
// line per block element. Scripts, styles and embedded objects are dropped.
func ExtractText(rawHTML string, maxChars int) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	page := &Page{
		Title:       extractTitle(doc),
		Description: extractMetaDescription(doc),
	}

	var lines []string
	var line strings.Builder
	breakLine := func() {
		if s := strings.Join(strings.Fields(line.String()), " "); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.CommentNode:
			return
		case html.TextNode:
			line.WriteString(n.Data)
			line.WriteString(" ")
			return
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			if isSkippedElement(tag) || tag == "head" {
				return
			}
			if tag == "br" || isBlockElement(tag) {
				breakLine()
				defer breakLine()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	breakLine()

	page.Text, page.Truncated = truncate(strings.Join(lines, "\n"), maxChars)
	return page, nil
}

func truncate(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	// Back off to a rune boundary.
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...", true
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func isSkippedElement(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "iframe", "embed", "object", "svg", "template":
		return true
	}
	return false
}

func isBlockElement(tag string) bool {
	switch tag {
	case "div", "p", "section", "article", "header", "footer", "nav", "main", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "table", "tr",
		"form", "fieldset", "blockquote", "pre", "figure", "figcaption":
		return true
	}
	return false
}

func extractTitle(doc *html.Node) string {
	var title string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil && title == ""; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return title
}

func extractMetaDescription(doc *html.Node) string {
	var description string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var name, content string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "name", "property":
					name = attr.Val
				case "content":
					content = attr.Val
				}
			}
			if (name == "description" || name == "og:description") && content != "" {
				description = strings.TrimSpace(content)
				return
			}
		}
		for c := n.FirstChild; c != nil && description == ""; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return description
}

// render formats a page for inclusion in a prompt.
func (p *Page) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\n", p.URL)
	if p.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", p.Title)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "Summary: %s\n", p.Description)
	}
	b.WriteString("\n")
	b.WriteString(p.Text)
	return b.String()
}
