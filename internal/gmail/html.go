package gmail

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	blankLines = regexp.MustCompile(`\n\s*\n`)
	spaceRuns  = regexp.MustCompile(` +`)
)

// htmlToText renders an HTML body as plain text: script and style content
// is dropped, block elements start new lines and list items get a dash.
func htmlToText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			switch n.Data {
			case "head", "style", "script", "title":
				return
			case "br":
				b.WriteString("\n")
				return
			case "li":
				b.WriteString("\n- ")
			case "p", "div", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote":
				b.WriteString("\n")
				defer b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)

	text := strings.ReplaceAll(b.String(), "\u00a0", " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
