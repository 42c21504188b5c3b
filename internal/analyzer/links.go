package analyzer

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Links returns absolute http(s) anchor targets, fragment-free and deduplicated,
// in document order, capped at limit (limit <= 0 means no cap).
func (p *Page) Links(limit int) []string {
	seen := make(map[string]struct{})
	links := make([]string, 0)
	p.doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if idx := strings.IndexByte(href, '#'); idx >= 0 {
			href = href[:idx]
		}
		if href == "" {
			return true
		}
		ref, err := p.base.Parse(href)
		if err != nil {
			return true
		}
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return true
		}
		if ref.Host == "" {
			return true
		}
		ref.Fragment = ""
		ref.RawFragment = ""
		abs := ref.String()
		if _, ok := seen[abs]; ok {
			return true
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
		return limit <= 0 || len(links) < limit
	})
	return links
}
