package dartapi

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	xhtml "golang.org/x/net/html"

	"dart_deepsearch/pkg/core/utils"
)

// CleanDocument converts a DART filing document (the archive's XML,
// which is SGML-flavored markup) into readable plain text. Tables are
// collapsed to "cell | cell" rows so amounts and counterparties stay
// attached to their labels.
func CleanDocument(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return utils.CollapseWhitespace(stripTags(markup))
	}
	removeNoise(doc)
	collapseTables(doc)
	return utils.CollapseWhitespace(extractText(doc))
}

// CleanViewerHTML converts a web-viewer page into plain text. On top
// of the document cleanup it drops the viewer chrome.
func CleanViewerHTML(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return utils.CollapseWhitespace(stripTags(markup))
	}
	doc.Find("header, footer, nav, aside, iframe, form, button, select, option").Remove()
	doc.Find("#header, #footer, .header, .footer, .global-nav, .lnb, .snb").Remove()
	removeNoise(doc)
	collapseTables(doc)
	return utils.CollapseWhitespace(extractText(doc))
}

// removeNoise strips elements that add no value for answer synthesis.
func removeNoise(doc *goquery.Document) {
	doc.Find("script, style, link, meta, img, colgroup, col").Remove()
	doc.Find("[hidden], [style*='display:none'], [style*='display: none']").Remove()
}

// collapseTables rewrites each table as text rows. Innermost tables go
// first so nested layouts flatten cleanly.
func collapseTables(doc *goquery.Document) {
	for depth := 0; depth < 8; depth++ {
		inner := doc.Find("table").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.Find("table").Length() == 0
		})
		if inner.Length() == 0 {
			return
		}
		inner.Each(func(_ int, tbl *goquery.Selection) {
			var rows []string
			tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
				var cells []string
				tr.Find("th, td").Each(func(_ int, td *goquery.Selection) {
					cell := strings.Join(strings.Fields(td.Text()), " ")
					if cell != "" {
						cells = append(cells, cell)
					}
				})
				if len(cells) > 0 {
					rows = append(rows, strings.Join(cells, " | "))
				}
			})
			if len(rows) == 0 {
				tbl.Remove()
				return
			}
			tbl.ReplaceWithHtml("<p>" + html.EscapeString(strings.Join(rows, "\n")) + "</p>")
		})
	}
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"table": true, "tr": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"title": true, "br": true, "td": true, "th": true,
}

// extractText walks the parsed tree emitting newlines at block
// boundaries. Plain Selection.Text() runs everything together, which
// destroys the line structure the cleanup just built.
func extractText(doc *goquery.Document) string {
	var sb strings.Builder
	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	for _, node := range sel.Nodes {
		renderText(node, &sb)
	}
	return sb.String()
}

func renderText(n *xhtml.Node, sb *strings.Builder) {
	switch n.Type {
	case xhtml.TextNode:
		sb.WriteString(n.Data)
	case xhtml.ElementNode:
		if blockTags[n.Data] {
			sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(c, sb)
	}
	if n.Type == xhtml.ElementNode && blockTags[n.Data] {
		sb.WriteString("\n")
	}
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// stripTags is the fallback for markup goquery cannot parse at all.
func stripTags(markup string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(markup, " "))
}
