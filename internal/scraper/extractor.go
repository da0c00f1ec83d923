// Package scraper collects document links from the college websites and turns them
// into the links.txt reference file.
package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Extractor pulls name -> link pairs out of a parsed page. base is the page URL.
type Extractor interface {
	Extract(doc *html.Node, base *url.URL) map[string]string
}

// PDFLinkExtractor keeps anchors whose href ends with ".pdf", keyed by file name without extension.
type PDFLinkExtractor struct{}

func (PDFLinkExtractor) Extract(doc *html.Node, base *url.URL) map[string]string {
	links := make(map[string]string)
	for _, a := range anchors(doc) {
		href, ok := attr(a, "href")
		if !ok || href == "" || !strings.HasSuffix(strings.ToLower(href), ".pdf") {
			continue
		}
		href = absolute(href, base)
		links[fileKey(href)] = href
	}
	return links
}

// AnchorTextExtractor keeps anchors whose text contains Match (case-insensitive).
// Links are keyed by file name without extension, or with NameFromHeading by the text
// of the nearest preceding h3, h4, span or strong element.
type AnchorTextExtractor struct {
	Match           string
	NameFromHeading bool
}

func (e AnchorTextExtractor) Extract(doc *html.Node, base *url.URL) map[string]string {
	match := strings.ToLower(e.Match)
	links := make(map[string]string)
	for _, a := range anchors(doc) {
		if !strings.Contains(strings.ToLower(text(a)), match) {
			continue
		}
		href, ok := attr(a, "href")
		if !ok || href == "" {
			continue
		}
		href = absolute(href, base)

		key := fileKey(href)
		if e.NameFromHeading {
			if heading := precedingHeading(a); heading != "" {
				key = heading
			} else {
				key = fmt.Sprintf("link_%d", len(links)+1)
			}
		}
		links[key] = href
	}
	return links
}

func anchors(doc *html.Node) []*html.Node {
	var res []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			res = append(res, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return res
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
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

// precedingHeading walks backwards in document order, ancestors included, and returns
// the trimmed text of the first h3, h4, span or strong element that has any.
func precedingHeading(n *html.Node) string {
	for p := previous(n); p != nil; p = previous(p) {
		if p.Type != html.ElementNode {
			continue
		}
		switch p.DataAtom {
		case atom.H3, atom.H4, atom.Span, atom.Strong:
			if t := strings.TrimSpace(text(p)); t != "" {
				return t
			}
		}
	}
	return ""
}

// previous returns the node before n in document order.
func previous(n *html.Node) *html.Node {
	if n.PrevSibling == nil {
		return n.Parent
	}
	p := n.PrevSibling
	for p.LastChild != nil {
		p = p.LastChild
	}
	return p
}

// absolute prefixes root-relative hrefs with the page origin; anything else is kept as is.
func absolute(href string, base *url.URL) string {
	if strings.HasPrefix(href, "/") && base != nil {
		return base.Scheme + "://" + base.Host + href
	}
	return href
}

// fileKey is the last path segment of link without its extension.
func fileKey(link string) string {
	name := link[strings.LastIndex(link, "/")+1:]
	if dot := strings.LastIndex(name, "."); dot > 0 {
		name = name[:dot]
	}
	return name
}
