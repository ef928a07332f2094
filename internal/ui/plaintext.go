package ui

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockTags end a line of text
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "blockquote": true, "table": true, "ul": true, "ol": true,
}

// PlainText flattens HTML fragments in an answer to text. Answers without
// markup come back unchanged.
func PlainText(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	nodes, err := html.ParseFragment(strings.NewReader(s), &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body})
	if err != nil || !hasElement(nodes) {
		return s
	}

	var b strings.Builder
	for _, n := range nodes {
		extractText(&b, n)
	}
	return cleanLines(b.String())
}

// hasElement reports whether any of nodes or their descendants is an element
func hasElement(nodes []*html.Node) bool {
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if hasElement([]*html.Node{c}) {
				return true
			}
		}
	}
	return false
}

// extractText writes the text of n, skipping elements that carry no content
func extractText(b *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "head":
			return
		case "li":
			b.WriteString("\n• ")
		}
	}

	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(b, c)
	}

	if n.Type == html.ElementNode && blockTags[n.Data] {
		b.WriteString("\n")
	}
}

// cleanLines collapses runs of spaces inside lines and drops blank lines
func cleanLines(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
