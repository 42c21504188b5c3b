package analyzer

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Description prefers a meta description of at most maxLen runes, then the
// space-joined text of title and h1..h6, cut at maxLen runes.
func (p *Page) Description(maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	meta, hasMeta := p.metaContent("description")
	meta = collapseSpace(meta)
	if hasMeta && meta != "" && utf8.RuneCountInString(meta) <= maxLen {
		return meta
	}

	var b strings.Builder
	for _, tag := range headingTags {
		text := p.tagText(tag)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
		if utf8.RuneCountInString(b.String()) >= maxLen {
			break
		}
	}
	if desc := truncateRunes(b.String(), maxLen); desc != "" {
		return desc
	}
	return truncateRunes(meta, maxLen)
}

func (p *Page) tagText(tag string) string {
	parts := make([]string, 0, 1)
	p.doc.Find(tag).Each(func(_ int, sel *goquery.Selection) {
		if text := collapseSpace(sel.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxLen]))
}
