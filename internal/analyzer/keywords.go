package analyzer

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
)

const minKeywordLength = 3

// headingTags are harvested, in order, after the keyword meta tag.
var headingTags = []string{"title", "h1", "h2", "h3", "h4", "h5", "h6"}

// keywordSource yields candidate keywords from one part of the document.
type keywordSource func(p *Page) []string

func keywordSources() []keywordSource {
	sources := []keywordSource{metaKeywordSource}
	for _, tag := range headingTags {
		sources = append(sources, tagTokenSource(tag))
	}
	return sources
}

// Keywords folds the sources left to right until limit keywords are collected.
// Keywords are lower-cased and each appears at most once.
func (p *Page) Keywords(limit int) []string {
	if limit <= 0 {
		return nil
	}
	seen := make(map[string]struct{}, limit)
	out := make([]string, 0, limit)
	for _, source := range keywordSources() {
		for _, candidate := range source(p) {
			kw := strings.ToLower(strings.TrimSpace(candidate))
			if utf8.RuneCountInString(kw) < minKeywordLength {
				continue
			}
			if _, dup := seen[kw]; dup {
				continue
			}
			seen[kw] = struct{}{}
			out = append(out, kw)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

// Rank scores each keyword by whole-word occurrences in the visible text plus the keyword meta tag.
func (p *Page) Rank(keywords []string) []crawler.KeywordRank {
	text := p.VisibleText()
	meta, _ := p.metaContent("keywords")
	ranks := make([]crawler.KeywordRank, 0, len(keywords))
	for _, kw := range keywords {
		rank := CountWholeWord(text, kw)
		if meta != "" {
			rank += CountWholeWord(meta, kw)
		}
		ranks = append(ranks, crawler.KeywordRank{Keyword: kw, Rank: rank})
	}
	return ranks
}

func metaKeywordSource(p *Page) []string {
	content, ok := p.metaContent("keywords")
	if !ok {
		return nil
	}
	return strings.Split(content, ",")
}

func tagTokenSource(tag string) keywordSource {
	return func(p *Page) []string {
		var tokens []string
		p.doc.Find(tag).Each(func(_ int, sel *goquery.Selection) {
			tokens = append(tokens, strings.Fields(sel.Text())...)
		})
		return tokens
	}
}

// metaContent returns the content attribute of the first <meta name=...> matching name case-insensitively.
func (p *Page) metaContent(name string) (string, bool) {
	var (
		content string
		found   bool
	)
	p.doc.Find("meta[name]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		attr, _ := sel.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(attr), name) {
			return true
		}
		content, found = sel.Attr("content")
		return !found
	})
	return content, found
}
