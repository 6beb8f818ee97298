package listing

import (
	"strings"

	"golang.org/x/net/html"
)

// Keywords that flag a text node as likely carrying listing facts.
var factKeywords = []string{
	"$", "price", "miles", "mileage", "year", "make", "model", "vin", "odometer",
}

// reducePage boils raw listing HTML down to the fragments that carry car
// facts: headings, price-ish text nodes, JSON-LD blocks, and relevant meta
// tags. Listing pages are enormous; sending them whole would blow the prompt
// budget on nav chrome.
func reducePage(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var (
		headings []string
		facts    []string
		jsonLD   []string
		metas    []string
	)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script":
				if attrValue(n, "type") == "application/ld+json" {
					if text := strings.TrimSpace(nodeText(n)); text != "" {
						jsonLD = append(jsonLD, text)
					}
				}
				return // never descend into scripts
			case "style", "noscript":
				return
			case "h1", "h2", "h3", "h4", "title":
				if text := collapseSpace(nodeText(n)); text != "" {
					headings = append(headings, text)
				}
				return
			case "meta":
				property := strings.ToLower(attrValue(n, "property"))
				content := attrValue(n, "content")
				if content != "" && (strings.Contains(property, "price") || strings.Contains(property, "vehicle")) {
					metas = append(metas, content)
				}
			case "span", "div", "p", "td", "li":
				if text := collapseSpace(directText(n)); text != "" && len(text) < 200 && containsFactKeyword(text) {
					facts = append(facts, text)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var parts []string
	if len(jsonLD) > 0 {
		parts = append(parts, "Structured Data: "+strings.Join(jsonLD, "\n"))
	}
	parts = append(parts, headings...)
	parts = append(parts, facts...)
	parts = append(parts, metas...)
	return strings.Join(parts, "\n")
}

func containsFactKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range factKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// nodeText concatenates all text beneath a node.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// directText collects only the node's immediate text children, so nested
// containers don't produce duplicate fragments.
func directText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
