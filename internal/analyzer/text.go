package analyzer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var hiddenElements = map[string]struct{}{
	"head":     {},
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
}

func visibleText(doc *goquery.Document) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if _, skip := hiddenElements[n.Data]; skip {
				return
			}
		case html.TextNode:
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return b.String()
}

// CountWholeWord counts case-insensitive occurrences of term in text that are not
// flanked by a letter, digit or underscore. term is matched literally.
func CountWholeWord(text, term string) int {
	term = strings.TrimSpace(term)
	if term == "" || text == "" {
		return 0
	}
	pattern, err := regexp.Compile("(?i)" + regexp.QuoteMeta(term))
	if err != nil {
		return 0
	}
	count := 0
	for offset := 0; offset < len(text); {
		loc := pattern.FindStringIndex(text[offset:])
		if loc == nil {
			break
		}
		start, end := offset+loc[0], offset+loc[1]
		if isWordBoundary(text, start, end) {
			count++
			offset = end
			continue
		}
		// a rejected candidate may overlap a valid one; resume one rune later.
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return count
}

func isWordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
