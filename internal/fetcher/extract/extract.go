// Package extract turns fetched HTML into the plain text and links the
// pipeline works with.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noise lists elements whose text never describes the page.
const noise = "script, style, noscript, template, svg, iframe, head"

// Text returns the readable text of an HTML document with whitespace
// collapsed. The <title> is kept as the first line when present.
func Text(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(noise).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var lines []string
	if title != "" {
		lines = append(lines, title)
	}
	if body := collapse(root.Text()); body != "" {
		lines = append(lines, body)
	}
	return strings.Join(lines, "\n"), nil
}

// Links returns the absolute targets of every <a href> in html, resolved
// against base, in document order. Duplicates are kept.
func Links(html, base string) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			baseURL = baseURL.ResolveReference(ref)
		}
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		links = append(links, baseURL.ResolveReference(ref).String())
	})
	return links, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
